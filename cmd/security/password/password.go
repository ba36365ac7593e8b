package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const phcPrefix = "$argon2id$v=19$"

// bcryptMaxBytes is where bcrypt stops reading input.
const bcryptMaxBytes = 72

var b64 = base64.RawStdEncoding

// Hash validates password against the policy and returns its Argon2id PHC string:
//
//	$argon2id$v=19$m=<KiB>,t=<iterations>,p=<lanes>$<salt>$<key>
func (c Config) Hash(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}
	return c.Derive(password)
}

// Derive is Hash without the policy check. Placeholder hashes (timing parity for
// unknown accounts) must not depend on the configured length bounds.
func (c Config) Derive(password string) (string, error) {
	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("password: salt: %w", err)
	}
	p := c.Params
	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)

	return fmt.Sprintf("%sm=%d,t=%d,p=%d$%s$%s",
		phcPrefix, p.MemoryKiB, p.Iterations, p.Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encodedHash in constant time.
// A mismatch is (false, nil); ErrInvalidHash means the encoding is unusable.
//
// Argon2id and bcrypt ($2a$, $2b$, $2y$) encodings are accepted. Accounts carried
// over from the previous user directory still hold bcrypt hashes.
func (c Config) Verify(encodedHash, password string) (bool, error) {
	if IsBcrypt(encodedHash) {
		return verifyBcrypt(encodedHash, password)
	}

	got, salt, want, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	// Stored parameters may be older and cheaper than ours, never wildly costlier.
	if !c.Params.admits(got) {
		return false, ErrInvalidHash
	}

	key := argon2.IDKey([]byte(password), salt, got.Iterations, got.MemoryKiB, got.Parallelism, got.KeyLength)
	return subtle.ConstantTimeCompare(key, want) == 1, nil
}

func (limit Argon2idParams) admits(p Argon2idParams) bool {
	return p.MemoryKiB <= 2*limit.MemoryKiB &&
		p.Iterations <= 2*limit.Iterations &&
		uint32(p.Parallelism) <= 2*uint32(limit.Parallelism) &&
		p.SaltLength >= 8 && p.SaltLength <= 64 &&
		p.KeyLength >= 16 && p.KeyLength <= 128
}

// parsePHC splits an Argon2id PHC string into its parameters, salt and key.
func parsePHC(encoded string) (Argon2idParams, []byte, []byte, error) {
	rest, ok := strings.CutPrefix(encoded, phcPrefix)
	if !ok {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	fields := strings.Split(rest, "$")
	if len(fields) != 3 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	var p Argon2idParams
	for _, kv := range strings.Split(fields[0], ",") {
		name, val, ok := strings.Cut(kv, "=")
		if !ok {
			return Argon2idParams{}, nil, nil, ErrInvalidHash
		}
		n, err := strconv.ParseUint(val, 10, 32)
		if err != nil || n == 0 {
			return Argon2idParams{}, nil, nil, ErrInvalidHash
		}
		switch name {
		case "m":
			p.MemoryKiB = uint32(n)
		case "t":
			p.Iterations = uint32(n)
		case "p":
			if n > 255 {
				return Argon2idParams{}, nil, nil, ErrInvalidHash
			}
			p.Parallelism = uint8(n)
		default:
			return Argon2idParams{}, nil, nil, ErrInvalidHash
		}
	}
	if p.MemoryKiB == 0 || p.Iterations == 0 || p.Parallelism == 0 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	salt, err := b64.DecodeString(fields[1])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	key, err := b64.DecodeString(fields[2])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	p.SaltLength = uint32(len(salt)) // #nosec G115 -- bounded by admits.
	p.KeyLength = uint32(len(key))   // #nosec G115 -- bounded by admits.
	return p, salt, key, nil
}

// IsBcrypt reports whether encoded looks like a bcrypt hash.
func IsBcrypt(encoded string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(encoded, prefix) {
			return true
		}
	}
	return false
}

func verifyBcrypt(encoded, password string) (bool, error) {
	// Longer input would be silently truncated and match a shorter password.
	if len(password) > bcryptMaxBytes {
		return false, nil
	}
	switch err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password)); {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, ErrInvalidHash
	}
}
