package codec

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var (
	// ErrInvalidToken is returned for any token that fails verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid codec config")
)

// Claims is the decoded content of a verified credential.
type Claims struct {
	UserID   string
	Login    string
	DeviceID string
	TokenID  string

	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Codec creates and verifies credentials. Implementations are safe for concurrent use.
type Codec interface {
	// Issue signs a credential for subjectID valid for ttl. deviceID and login are optional.
	Issue(subjectID string, ttl time.Duration, deviceID, login string) (token string, expiresAt time.Time, err error)

	// Verify checks signature and expiry and requires a subject id.
	Verify(token string) (Claims, error)
}

// Format names a credential encoding.
type Format string

const (
	FormatJWT    Format = "jwt"
	FormatPaseto Format = "paseto"
)

// New builds the Codec selected by cfg.Format. now may be nil (time.Now).
func New(cfg Config, log *slog.Logger, now func() time.Time) (Codec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	if now == nil {
		now = time.Now
	}

	switch cfg.Format {
	case FormatJWT:
		return newJWT(cfg, log, now), nil
	case FormatPaseto:
		return newPaseto(cfg, log, now)
	default:
		return nil, fmt.Errorf("%w: unknown token format %q", ErrConfig, cfg.Format)
	}
}

func checkIssue(subjectID string, ttl time.Duration) error {
	if strings.TrimSpace(subjectID) == "" {
		return fmt.Errorf("codec: empty subject")
	}
	if ttl <= 0 {
		return fmt.Errorf("codec: non-positive ttl %s", ttl)
	}
	return nil
}

// maxTokenLen bounds the input accepted by Verify.
const maxTokenLen = 4096

func logReject(log *slog.Logger, format Format, reason string, err error) {
	attrs := []any{"format", string(format), "reason", reason}
	if err != nil {
		attrs = append(attrs, "err", err.Error())
	}
	log.Debug("codec.verify."+reason, attrs...)
}
