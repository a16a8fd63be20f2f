package validate

import (
	"errors"
	"net"
	"net/url"
	"strings"
)

// Errors surfaced verbatim to API clients.
var (
	ErrInvalidURL    = errors.New("Invalid URL")
	ErrNotHTTPS      = errors.New("Must use HTTPS")
	ErrBadDomain     = errors.New("Must be from an allowed domain")
	ErrIPAddressHost = errors.New("Must not use IP addresses")
)

const allowedSuffix = ".apple.com"

// DownloadURL gates every origin URL. Runs at task creation and again right
// before the fetch starts, in case the field mutated in between.
func DownloadURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ErrInvalidURL
	}

	if u.Scheme != "https" {
		return ErrNotHTTPS
	}

	host := strings.ToLower(u.Hostname())
	if !strings.HasSuffix(host, allowedSuffix) {
		return ErrBadDomain
	}

	// Belt and braces: a hostname that passed the suffix test can't be an IP
	// literal, but the rule holds on its own.
	if strings.HasPrefix(u.Host, "[") || isIPv4(host) {
		return ErrIPAddressHost
	}

	return nil
}

func isIPv4(host string) bool {
	ip := net.ParseIP(host)
	return ip != nil && ip.To4() != nil
}
