// Package identity is the user directory consumed by the auth subsystem.
//
// It owns users (id, login, email, password hash) and exposes lookups by id,
// by login-or-email and by email, plus the password-hash update used by the
// recovery flow. Logins are case-sensitive; emails are compared lower-cased.
//
// Three Store implementations exist: in-memory, PostgreSQL (pgx) and SQLite.
// Password hashing is the caller's job (see cmd/security/password); stores only
// persist the encoded hash.
package identity
