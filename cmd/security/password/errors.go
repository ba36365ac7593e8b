package password

import "errors"

var (
	ErrPasswordBlank    = errors.New("password blank")
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrWeakPassword     = errors.New("weak password")

	// ErrInvalidHash covers malformed and unsupported encodings.
	ErrInvalidHash = errors.New("invalid password hash")
)
