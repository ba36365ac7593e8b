// Package codec issues and verifies the signed, time-limited credentials used by
// the auth subsystem.
//
// A credential carries a subject (user id), an optional device id (refresh tokens
// only), an optional display login, a unique token id and its expiry. Two
// interchangeable encodings exist: JWT HS256 (default) and PASETO v4.public.
//
// Verification failures are logged with their cause (expired, bad signature,
// malformed) but always surface to callers as ErrInvalidToken.
package codec
