package validate

import (
	"fmt"
	"regexp"
	"strings"
)

var segmentRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Segment maps an untrusted identifier to a filesystem-safe path segment.
// Conforming values pass through unchanged; anything else has the offending
// runes replaced with '_'. Empty, "." and ".." are never acceptable.
func Segment(value, label string) (string, error) {
	if value == "" || value == "." || value == ".." {
		return "", fmt.Errorf("Invalid %s", label)
	}

	if segmentRe.MatchString(value) {
		return value, nil
	}

	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	out := b.String()
	if out == "" || out == "." || out == ".." {
		return "", fmt.Errorf("Invalid %s", label)
	}
	return out, nil
}
