// Package token generates the opaque credentials readmemo hands out.
//
// Two shapes exist:
//   - Bearer tokens: a purpose prefix ("access_", "refresh_", "verify_")
//     followed by a random UUIDv4. The prefix makes accidental cross-use
//     visible in logs and lets stores reject a token of the wrong kind
//     before touching the database.
//   - Short codes: 4-digit numeric codes (1000-9999) for password-reset
//     emails, where the user retypes the value by hand.
//
// Tokens are opaque handles: all validity state lives server-side, so
// nothing here signs or verifies anything.
package token
