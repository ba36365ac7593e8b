package identity

import "strings"

// NormalizeLogin trims surrounding whitespace. Logins stay case-sensitive.
func NormalizeLogin(s string) string {
	return strings.TrimSpace(s)
}

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
