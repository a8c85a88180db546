// Package password encodes and verifies user credentials for readmemo.
//
// Stored credentials come in two encodings:
//   - bcrypt hashes (prefix "$2a$", "$2b$" or "$2y$"), the only encoding
//     ever produced on a write path;
//   - legacy plaintext, left behind by an earlier backend that stored raw
//     passwords. The verifier still accepts these so old accounts can log
//     in, but every legacy hit is counted and logged so the remaining
//     rows can be tracked down to zero.
//
// Nothing outside this package inspects the stored string; callers get a
// match/no-match answer plus a flag telling them the row needs rehashing.
package password
