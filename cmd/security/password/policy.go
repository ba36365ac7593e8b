package password

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// common holds passwords rejected outright when Policy.RejectTrivial is set.
var common = map[string]struct{}{
	"password": {}, "passw0rd": {}, "qwerty": {}, "qwertyuiop": {},
	"letmein": {}, "welcome": {}, "iloveyou": {}, "admin123": {},
	"blogger": {}, "myblog": {},
}

// Validate checks password against the policy. Length counts runes, not bytes.
func (c Config) Validate(password string) error {
	if strings.TrimSpace(password) == "" {
		return ErrPasswordBlank
	}

	n := utf8.RuneCountInString(password)
	switch {
	case n < c.Policy.MinLength:
		return ErrPasswordTooShort
	case n > c.Policy.MaxLength:
		return ErrPasswordTooLong
	case c.Policy.RejectTrivial && trivial(password):
		return ErrWeakPassword
	}
	return nil
}

// Message renders a Validate error as text fit for an API client or CLI user.
// Unknown errors yield "".
func (c Config) Message(err error) string {
	switch {
	case errors.Is(err, ErrPasswordBlank):
		return "Password is required"
	case errors.Is(err, ErrPasswordTooShort), errors.Is(err, ErrPasswordTooLong):
		return fmt.Sprintf("Password should be %d-%d characters", c.Policy.MinLength, c.Policy.MaxLength)
	case errors.Is(err, ErrWeakPassword):
		return "Password is too easy to guess"
	default:
		return ""
	}
}

// trivial matches well-known passwords, one repeated rune ("aaaaaa") and
// straight runs ("123456", "abcdef", "987654").
func trivial(pw string) bool {
	s := strings.ToLower(strings.TrimSpace(pw))
	if _, ok := common[s]; ok {
		return true
	}

	runes := []rune(s)
	if len(runes) < 2 {
		return true
	}
	step := runes[1] - runes[0]
	if step < -1 || step > 1 {
		return false
	}
	for i := 2; i < len(runes); i++ {
		if runes[i]-runes[i-1] != step {
			return false
		}
	}
	return true
}
