package codec

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/google/uuid"
)

type pasetoCodec struct {
	issuer string
	skew   time.Duration
	now    func() time.Time
	log    *slog.Logger

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// newPaseto builds a v4.public codec from an Ed25519 secret key.
func newPaseto(cfg Config, log *slog.Logger, now func() time.Time) (*pasetoCodec, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoSecretKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: paseto secret key: %v", ErrConfig, err)
	}
	return &pasetoCodec{
		issuer: cfg.Issuer,
		skew:   cfg.ClockSkew,
		now:    now,
		log:    log,
		secret: secret,
		public: secret.Public(),
	}, nil
}

// PublicKeyHex exposes the verification key for other services.
func (c *pasetoCodec) PublicKeyHex() string {
	return c.public.ExportHex()
}

func (c *pasetoCodec) Issue(subjectID string, ttl time.Duration, deviceID, login string) (string, time.Time, error) {
	if err := checkIssue(subjectID, ttl); err != nil {
		return "", time.Time{}, err
	}

	now := c.now().UTC()
	exp := now.Add(ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(c.issuer)
	tok.SetJti(uuid.NewString())
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)

	_ = tok.Set("userId", subjectID)
	if login != "" {
		_ = tok.Set("login", login)
	}
	if deviceID != "" {
		_ = tok.Set("deviceId", deviceID)
	}

	// PASETO time claims are RFC 3339 with second precision.
	return tok.V4Sign(c.secret, nil), exp.Truncate(time.Second), nil
}

func (c *pasetoCodec) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" || len(token) > maxTokenLen {
		logReject(c.log, FormatPaseto, "malformed", nil)
		return Claims{}, ErrInvalidToken
	}

	// Expiry is checked by hand below so an expired token is logged as such.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(c.issuer))

	parsed, err := p.ParseV4Public(c.public, token, nil)
	if err != nil {
		if !strings.HasPrefix(token, "v4.public.") {
			logReject(c.log, FormatPaseto, "malformed", nil)
		} else {
			logReject(c.log, FormatPaseto, "signature", err)
		}
		return Claims{}, ErrInvalidToken
	}

	exp, err := parsed.GetExpiration()
	if err != nil {
		logReject(c.log, FormatPaseto, "malformed", err)
		return Claims{}, ErrInvalidToken
	}
	if !c.now().Before(exp.Add(c.skew)) {
		logReject(c.log, FormatPaseto, "expired", nil)
		return Claims{}, ErrInvalidToken
	}

	uid, err := parsed.GetString("userId")
	if err != nil || strings.TrimSpace(uid) == "" {
		logReject(c.log, FormatPaseto, "no_subject", nil)
		return Claims{}, ErrInvalidToken
	}

	out := Claims{UserID: uid, ExpiresAt: exp.UTC()}
	out.Login, _ = parsed.GetString("login")
	out.DeviceID, _ = parsed.GetString("deviceId")
	out.TokenID, _ = parsed.GetJti()
	if iat, err := parsed.GetIssuedAt(); err == nil {
		out.IssuedAt = iat.UTC()
	}
	return out, nil
}
