package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDownloadURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		err  error
	}{
		{
			name: "valid CDN URL",
			url:  "https://iosapps.itunes.apple.com/itunes-assets/Purple/v4/app.ipa",
			err:  nil,
		},
		{
			name: "valid with uppercase host",
			url:  "https://OSXAPPS.ITUNES.APPLE.COM/file",
			err:  nil,
		},
		{
			name: "plain http",
			url:  "http://iosapps.itunes.apple.com/file",
			err:  ErrNotHTTPS,
		},
		{
			name: "unrelated domain",
			url:  "https://example.com/file",
			err:  ErrBadDomain,
		},
		{
			name: "suffix lookalike",
			url:  "https://fakeapple.com/file",
			err:  ErrBadDomain,
		},
		{
			name: "bare apex does not match the wildcard",
			url:  "https://apple.com/file",
			err:  ErrBadDomain,
		},
		{
			name: "ipv4 literal",
			url:  "https://17.253.144.10/file",
			err:  ErrBadDomain,
		},
		{
			name: "ipv6 literal",
			url:  "https://[2620:149:af0::10]/file",
			err:  ErrBadDomain,
		},
		{
			name: "empty",
			url:  "",
			err:  ErrInvalidURL,
		},
		{
			name: "no host",
			url:  "https://",
			err:  ErrInvalidURL,
		},
		{
			name: "garbage",
			url:  "://nope",
			err:  ErrInvalidURL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := DownloadURL(tt.url)
			if tt.err == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestIsIPv4(t *testing.T) {
	assert.True(t, isIPv4("192.168.1.1"))
	assert.False(t, isIPv4("itunes.apple.com"))
	assert.False(t, isIPv4("::1"))
}
