package recovery

import (
	"errors"
	"strings"
)

// Service errors. ClientMessage maps them to the text shown to API clients.
var (
	ErrInvalidCode        = errors.New("invalid recovery code")
	ErrAlreadyUsed        = errors.New("recovery code already used")
	ErrCodeExpired        = errors.New("recovery code expired")
	ErrUpdateFailed       = errors.New("password update failed")
	ErrServiceUnavailable = errors.New("email service unavailable")
	ErrDeliveryFailed     = errors.New("recovery email delivery failed")
)

// FieldError is one client-facing validation message.
type FieldError struct {
	Message string `json:"message"`
	Field   string `json:"field"`
}

// ValidationError lists field-level problems with a request.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func invalidField(field, msg string) *ValidationError {
	return &ValidationError{Errors: []FieldError{{Message: msg, Field: field}}}
}

// ClientMessage returns the stable client message and field for a service error.
// ok is false for errors that are not meant for clients.
func ClientMessage(err error) (fe FieldError, ok bool) {
	switch {
	case errors.Is(err, ErrInvalidCode):
		return FieldError{Message: "Invalid recovery code", Field: "recoveryCode"}, true
	case errors.Is(err, ErrAlreadyUsed):
		return FieldError{Message: "Recovery code has already been used", Field: "recoveryCode"}, true
	case errors.Is(err, ErrCodeExpired):
		return FieldError{Message: "Recovery code has expired", Field: "recoveryCode"}, true
	case errors.Is(err, ErrUpdateFailed):
		return FieldError{Message: "Failed to update password", Field: "newPassword"}, true
	case errors.Is(err, ErrServiceUnavailable):
		return FieldError{Message: "Email service is temporarily unavailable", Field: "none"}, true
	default:
		return FieldError{}, false
	}
}
