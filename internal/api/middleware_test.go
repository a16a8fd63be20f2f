package api

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccessToken(t *testing.T) {
	sum := sha256.Sum256([]byte("hunter2"))
	assert.Equal(t, hex.EncodeToString(sum[:]), AccessToken("hunter2"))

	// Deterministic and distinct per password
	assert.Equal(t, AccessToken("a"), AccessToken("a"))
	assert.NotEqual(t, AccessToken("a"), AccessToken("b"))
	assert.Len(t, AccessToken("anything"), 64)
}
