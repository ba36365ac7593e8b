package session

import "errors"

var (
	// ErrInvalidCredentials is returned by Login for an unknown account or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrMissingToken is returned when no refresh token was supplied.
	ErrMissingToken = errors.New("refresh token missing")

	// ErrInvalidPayload is returned when a refresh token fails verification or lacks a device binding.
	ErrInvalidPayload = errors.New("invalid refresh token payload")

	// ErrTokenNotFound is returned when the refresh token is not the current one of its device
	// (already rotated, logged out, or never issued).
	ErrTokenNotFound = errors.New("refresh token not found")

	// ErrDeviceNotFound is returned when the bound device session is missing, inactive or expired.
	ErrDeviceNotFound = errors.New("device session not found")

	// ErrUserNotFound is returned when the token's subject no longer exists.
	ErrUserNotFound = errors.New("user not found")

	// ErrUnauthorized is the uniform failure of Logout and the device endpoints.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoSuchDevice is returned when the device to terminate does not exist or is already inactive.
	ErrNoSuchDevice = errors.New("no such device")

	// ErrForbidden is returned when terminating a device that belongs to another user.
	ErrForbidden = errors.New("device belongs to another user")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid session config")
)

// IsAuthFailure reports whether err is one of the refresh-token failures that
// the HTTP boundary collapses to 401.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrMissingToken) ||
		errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, ErrTokenNotFound) ||
		errors.Is(err, ErrDeviceNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrUnauthorized)
}
