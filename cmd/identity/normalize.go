package identity

import "strings"

// NormalizeUsername performs case-insensitive canonicalization.
// Trim + lower-case only; anything fancier (unicode confusables) would
// have to migrate existing rows first.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
