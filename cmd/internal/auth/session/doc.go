// Package session implements readmemo's session lifecycle.
//
// The model is deliberately simple: one active session per user, stored
// as a single row holding both the opaque access token and the opaque
// refresh token, sharing one expiry. Login atomically replaces whatever
// sessions the user had; refresh rotates both tokens in place on the
// same row, guarded by a compare-and-swap on the old refresh token so a
// consumed token can never be replayed.
//
// Expired rows are detected lazily: any read that finds an expired
// session deletes it. There is no background sweeper.
package session
