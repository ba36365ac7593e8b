package codec

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type jwtClaims struct {
	UserID   string `json:"userId"`
	Login    string `json:"login,omitempty"`
	DeviceID string `json:"deviceId,omitempty"`
	jwt.RegisteredClaims
}

type jwtCodec struct {
	secret []byte
	issuer string
	skew   time.Duration
	now    func() time.Time
	log    *slog.Logger
}

func newJWT(cfg Config, log *slog.Logger, now func() time.Time) *jwtCodec {
	secret := make([]byte, len(cfg.JWTSecret))
	copy(secret, cfg.JWTSecret)
	return &jwtCodec{secret: secret, issuer: cfg.Issuer, skew: cfg.ClockSkew, now: now, log: log}
}

func (c *jwtCodec) Issue(subjectID string, ttl time.Duration, deviceID, login string) (string, time.Time, error) {
	if err := checkIssue(subjectID, ttl); err != nil {
		return "", time.Time{}, err
	}

	now := c.now().UTC()
	exp := now.Add(ttl)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		UserID:   subjectID,
		Login:    login,
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})

	signed, err := tok.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	// NumericDate has second precision; report what the token actually carries.
	return signed, exp.Truncate(time.Second), nil
}

func (c *jwtCodec) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" || len(token) > maxTokenLen {
		logReject(c.log, FormatJWT, "malformed", nil)
		return Claims{}, ErrInvalidToken
	}

	var claims jwtClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(c.skew),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			logReject(c.log, FormatJWT, "expired", nil)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			logReject(c.log, FormatJWT, "signature", nil)
		case errors.Is(err, jwt.ErrTokenMalformed):
			logReject(c.log, FormatJWT, "malformed", nil)
		default:
			logReject(c.log, FormatJWT, "invalid", err)
		}
		return Claims{}, ErrInvalidToken
	}

	if strings.TrimSpace(claims.UserID) == "" {
		logReject(c.log, FormatJWT, "no_subject", nil)
		return Claims{}, ErrInvalidToken
	}

	out := Claims{
		UserID:   claims.UserID,
		Login:    claims.Login,
		DeviceID: claims.DeviceID,
		TokenID:  claims.ID,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.UTC()
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.UTC()
	}
	return out, nil
}
