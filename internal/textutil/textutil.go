// Package textutil has small helpers for key hygiene in logs and config.
package textutil

import "strings"

// MaskKey hides everything past the first show characters of a secret.
func MaskKey(key string, show int) string {
	if key == "" {
		return "***empty***"
	}
	if len(key) <= show {
		return strings.Repeat("*", len(key))
	}
	return key[:show] + strings.Repeat("*", len(key)-show)
}

// IsASCII reports whether s contains only ASCII bytes. Keys pasted with
// non-ASCII characters are a recurring operator mistake; callers disable the
// affected provider instead of sending garbage auth headers.
func IsASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}
