package app

import (
	"errors"
	"fmt"

	"blogapi/cmd/security/token"
)

// ValidateSecurityConfig enforces the token hashing policy at startup.
// Under BLOG_REQUIRE_TOKEN_HMAC the ledger must hash refresh tokens with a keyed HMAC.
func ValidateSecurityConfig(cfg Config, hasher token.Hasher) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	if _, err := token.HMACKeyFromEnv(token.MinHMACKeyBytes); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return fmt.Errorf("security policy: BLOG_REQUIRE_TOKEN_HMAC=true but %s is missing", token.HMACEnvKey)
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return fmt.Errorf("security policy: BLOG_REQUIRE_TOKEN_HMAC=true but %s is too short (min %d bytes)", token.HMACEnvKey, token.MinHMACKeyBytes)
		default:
			return err
		}
	}

	if !hasher.HMAC() {
		return errors.New("security policy: BLOG_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}
	return nil
}
