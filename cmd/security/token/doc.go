// Package token provides token hashing primitives.
//
// Refresh tokens are never persisted in plaintext: the token ledger stores a
// stable 64-char hex digest produced here.
//
// Modes:
//   - SHA-256(token) when no HMAC key is configured (dev).
//   - HMAC-SHA256(token, key) when BLOG_TOKEN_HMAC_KEY is set.
//
// When BLOG_REQUIRE_TOKEN_HMAC=true the runtime refuses to start without a key
// of at least 32 bytes.
package token
