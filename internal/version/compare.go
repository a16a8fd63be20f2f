// Package version orders app version strings the way the store does:
// numeric segments compared left to right, shorter sequences padded with
// zeros, so "5" == "5.0.0" and "5" < "5.1".
package version

import goversion "github.com/hashicorp/go-version"

// Compare returns -1, 0 or 1 as a orders before, equal to, or after b.
// Unparseable versions compare as string equality: equal when identical,
// otherwise ordered lexically as a last resort.
func Compare(a, b string) int {
	va, errA := goversion.NewVersion(a)
	vb, errB := goversion.NewVersion(b)
	if errA != nil || errB != nil {
		switch {
		case a == b:
			return 0
		case a < b:
			return -1
		default:
			return 1
		}
	}
	return va.Compare(vb)
}

// IsNewer reports whether candidate is strictly newer than current. A version
// is never newer than itself, and a shorter reported version ("5") is not
// newer than a longer one it prefixes ("5.1").
func IsNewer(candidate, current string) bool {
	return Compare(candidate, current) > 0
}
