// Package recovery runs the one-time-code password recovery flow and stores
// its codes.
//
// A request supersedes any unused code of the user, issues a new one valid for
// the configured TTL and mails it. Confirming a code claims it atomically before
// the password is written, so a code can change a password at most once; a failed
// write releases the claim. Unknown emails succeed silently.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"blogapi/cmd/identity"
	"blogapi/cmd/identity/ids"
	"blogapi/cmd/internal/auth/mailer"
	"blogapi/cmd/security/password"
)

var emailRe = regexp.MustCompile(`^[\w.-]+@([\w-]+\.)+[\w-]{2,}$`)

// Users is the slice of the user directory the flow needs.
type Users interface {
	GetByEmail(ctx context.Context, email string) (identity.User, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) error
}

// PasswordHasher checks and encodes new passwords. Message renders a Validate
// error for clients ("" if it has no client text).
type PasswordHasher interface {
	Validate(password string) error
	Message(err error) string
	Hash(password string) (string, error)
}

// Config controls code lifetime and the link put into emails.
type Config struct {
	TTL       time.Duration
	ClientURL string
}

// DefaultConfig returns a 24h code lifetime.
func DefaultConfig() Config {
	return Config{TTL: 24 * time.Hour, ClientURL: "http://localhost:3000"}
}

// Service implements RequestPasswordRecovery and ConfirmPasswordRecovery.
type Service struct {
	cfg    Config
	store  Store
	users  Users
	hasher PasswordHasher
	mail   mailer.Mailer
	log    *slog.Logger
	now    func() time.Time
}

// NewService wires the flow. now may be nil (time.Now).
func NewService(cfg Config, store Store, users Users, hasher PasswordHasher, mail mailer.Mailer, log *slog.Logger, now func() time.Time) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if log == nil {
		log = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Service{cfg: cfg, store: store, users: users, hasher: hasher, mail: mail, log: log, now: now}
}

// RequestPasswordRecovery issues and mails a new code for email.
//
// It returns a *ValidationError for a malformed email, ErrServiceUnavailable when
// the mail channel cannot be reached and ErrDeliveryFailed when the mail was not
// sent (the new code is then burned). Unknown emails return nil.
func (s *Service) RequestPasswordRecovery(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if !emailRe.MatchString(email) {
		return invalidField("email", "Invalid email format")
	}

	if err := s.mail.Probe(ctx); err != nil {
		s.log.Error("auth.recovery.mail_unavailable", "err", err)
		return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if identity.IsNotFound(err) {
			s.log.Info("auth.recovery.unknown_email")
			return nil
		}
		return fmt.Errorf("recovery: lookup user: %w", err)
	}

	now := s.now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		return err
	}
	rec := Record{
		ID:        id,
		UserID:    u.ID,
		Email:     email,
		Code:      uuid.NewString(),
		ExpiresAt: now.Add(s.cfg.TTL),
		CreatedAt: now,
	}
	if err := s.store.Replace(ctx, now, rec); err != nil {
		return fmt.Errorf("recovery: store: %w", err)
	}

	msg, err := mailer.RecoveryMessage(s.cfg.ClientURL, email, rec.Code)
	if err == nil {
		err = s.mail.Send(ctx, msg)
	}
	if err != nil {
		s.log.Error("auth.recovery.send_fail", "user_id", u.ID, "err", err)
		if mErr := s.store.MarkUsed(ctx, rec.Code, s.now()); mErr != nil {
			s.log.Error("auth.recovery.burn_fail", "user_id", u.ID, "err", mErr)
		}
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	s.log.Info("auth.recovery.sent", "user_id", u.ID)
	return nil
}

// ConfirmPasswordRecovery sets newPassword for the owner of code.
//
// Errors: *ValidationError, ErrInvalidCode, ErrAlreadyUsed, ErrCodeExpired, ErrUpdateFailed.
// The code is claimed before the password write and released again if that write fails.
func (s *Service) ConfirmPasswordRecovery(ctx context.Context, code, newPassword string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return invalidField("recoveryCode", "Recovery code is required")
	}
	if strings.TrimSpace(newPassword) == "" {
		return invalidField("newPassword", "Password is required")
	}
	if n := utf8.RuneCountInString(newPassword); n < password.MinLength || n > password.MaxLength {
		return invalidField("newPassword", fmt.Sprintf("Password should be %d-%d characters", password.MinLength, password.MaxLength))
	}
	if err := s.hasher.Validate(newPassword); err != nil {
		if msg := s.hasher.Message(err); msg != "" {
			return invalidField("newPassword", msg)
		}
		return fmt.Errorf("%w: %w", ErrUpdateFailed, err)
	}

	now := s.now().UTC()

	// Fail fast with the precise reason before doing expensive hashing.
	rec, err := s.store.GetByCode(ctx, code)
	if err != nil {
		return mapStoreErr(err)
	}
	if err := classify(rec, now); err != nil {
		return mapStoreErr(err)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		s.log.Warn("auth.recovery.hash_fail", "user_id", rec.UserID, "err", err)
		return fmt.Errorf("%w: %w", ErrUpdateFailed, err)
	}

	rec, err = s.store.Claim(ctx, code, now)
	if err != nil {
		return mapStoreErr(err)
	}

	if err := s.users.UpdatePasswordHash(ctx, rec.UserID, hash, now); err != nil {
		s.log.Error("auth.recovery.update_fail", "user_id", rec.UserID, "err", err)
		// The code stays usable unless a newer request superseded it meanwhile.
		if rErr := s.store.Release(context.WithoutCancel(ctx), code, now); rErr != nil {
			s.log.Warn("auth.recovery.release_fail", "user_id", rec.UserID, "err", rErr)
		}
		return fmt.Errorf("%w: %w", ErrUpdateFailed, err)
	}

	s.log.Info("auth.recovery.confirmed", "user_id", rec.UserID)
	return nil
}

// Wipe removes every record. Used by the testing endpoint.
func (s *Service) Wipe(ctx context.Context) error {
	return s.store.DeleteAll(ctx)
}

func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return ErrInvalidCode
	case errors.Is(err, ErrUsed):
		return ErrAlreadyUsed
	case errors.Is(err, ErrExpired):
		return ErrCodeExpired
	default:
		return fmt.Errorf("recovery: %w", err)
	}
}
