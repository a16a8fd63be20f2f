package controllers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreflightSizeFromHead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "12345")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	size, err := preflightSize(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(12345), size)
}

func TestPreflightSizeFromRangedGet(t *testing.T) {
	total := int64(987654)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			// No Content-Length on HEAD
			w.WriteHeader(http.StatusOK)
			return
		}
		require.Equal(t, "bytes=0-0", r.Header.Get("Range"))
		w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-0/%d", total))
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte{0})
	}))
	defer srv.Close()

	size, err := preflightSize(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, total, size)
}

func TestPreflightSizeUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := preflightSize(context.Background(), srv.Client(), srv.URL)
	assert.ErrorIs(t, err, errSizeUnknown)
}

func TestParseContentRangeTotal(t *testing.T) {
	tests := []struct {
		header string
		want   int64
		ok     bool
	}{
		{"bytes 0-0/1048576", 1048576, true},
		{"bytes 0-0/*", 0, false},
		{"", 0, false},
		{"garbage", 0, false},
		{"bytes 0-0/-5", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseContentRangeTotal(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.header)
		}
	}
}
