// Package identity implements readmemo's account foundation.
//
// It holds the User model, the account persistence boundary (Store) and
// its PostgreSQL implementation, plus the normalization rules shared by
// every layer that compares usernames or emails.
//
// This package is intentionally dependency-light and security-first.
package identity
