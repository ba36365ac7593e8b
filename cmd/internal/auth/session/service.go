package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"blogapi/cmd/identity"
	"blogapi/cmd/internal/auth/codec"
	"blogapi/cmd/internal/auth/device"
	"blogapi/cmd/internal/auth/ledger"
)

// Users is the slice of the user directory sessions need.
type Users interface {
	GetByID(ctx context.Context, id string) (identity.User, error)
	GetByLoginOrEmail(ctx context.Context, loginOrEmail string) (identity.User, error)
}

// Passwords verifies passwords. Verify must compare in constant time.
// Derive hashes without applying the password policy.
type Passwords interface {
	Derive(password string) (string, error)
	Verify(encodedHash, password string) (bool, error)
}

// Events receives device terminations. Implementations must not block.
type Events interface {
	DeviceTerminated(userID, deviceID string, at time.Time)
}

// Service implements the session use cases.
type Service struct {
	cfg     Config
	codec   codec.Codec
	ledger  *ledger.Ledger
	devices device.Store
	users   Users
	pw      Passwords
	events  Events
	log     *slog.Logger
	now     func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// Deps groups the collaborators of a Service. Events, Log and Now are optional.
type Deps struct {
	Codec     codec.Codec
	Ledger    *ledger.Ledger
	Devices   device.Store
	Users     Users
	Passwords Passwords
	Events    Events
	Log       *slog.Logger
	Now       func() time.Time
}

// NewService constructs a Service.
func NewService(cfg Config, d Deps) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if d.Codec == nil || d.Ledger == nil || d.Devices == nil || d.Users == nil || d.Passwords == nil {
		return nil, fmt.Errorf("%w: missing dependency", ErrConfig)
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		cfg:     cfg,
		codec:   d.Codec,
		ledger:  d.Ledger,
		devices: d.Devices,
		users:   d.Users,
		pw:      d.Passwords,
		events:  d.Events,
		log:     d.Log,
		now:     d.Now,
	}, nil
}

// LoginInput is the request of Login. Title is the client label (User-Agent).
type LoginInput struct {
	LoginOrEmail string
	Password     string
	Title        string
	IP           string
}

// Pair is an issued access/refresh credential pair.
type Pair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	DeviceID         string
}

// Profile is the public view of the current user.
type Profile struct {
	UserID string
	Login  string
	Email  string
}

// Login checks credentials, opens a new device session and issues a pair bound to it.
func (s *Service) Login(ctx context.Context, in LoginInput) (Pair, error) {
	u, err := s.users.GetByLoginOrEmail(ctx, in.LoginOrEmail)
	if err != nil {
		if !identity.IsNotFound(err) && !identity.IsInvalidInput(err) {
			return Pair{}, fmt.Errorf("session.Login: %w", err)
		}
		// Same cost as a real check so response time does not reveal unknown accounts.
		_, _ = s.pw.Verify(s.dummy(), in.Password)
		s.log.Info("auth.login.fail", "reason", "unknown_user")
		return Pair{}, ErrInvalidCredentials
	}

	ok, err := s.pw.Verify(u.PasswordHash, in.Password)
	if err != nil {
		s.log.Error("auth.login.fail", "reason", "bad_hash", "user_id", u.ID, "err", err)
		return Pair{}, ErrInvalidCredentials
	}
	if !ok {
		s.log.Info("auth.login.fail", "reason", "bad_password", "user_id", u.ID)
		return Pair{}, ErrInvalidCredentials
	}

	now := s.now().UTC()
	deviceID := uuid.NewString()

	p, err := s.issue(u, deviceID)
	if err != nil {
		return Pair{}, err
	}

	if err := s.ledger.Record(ctx, u.ID, deviceID, p.AccessToken, p.RefreshToken, now, p.RefreshExpiresAt); err != nil {
		return Pair{}, fmt.Errorf("session.Login: %w", err)
	}

	sess := device.Normalize(device.Session{
		DeviceID:     deviceID,
		UserID:       u.ID,
		IP:           in.IP,
		Title:        in.Title,
		LastActiveAt: now,
		ExpiresAt:    p.RefreshExpiresAt,
	})
	if err := s.devices.Create(ctx, sess); err != nil {
		_ = s.ledger.ForgetDevice(ctx, u.ID, deviceID)
		return Pair{}, fmt.Errorf("session.Login: %w", err)
	}

	s.log.Info("auth.login.ok", "user_id", u.ID, "device_id", deviceID)
	return p, nil
}

// RefreshToken exchanges a refresh token for a new pair bound to the same device.
//
// The ledger swap is the commit point: of two concurrent calls with the same
// token exactly one passes it, the other gets ErrTokenNotFound.
func (s *Service) RefreshToken(ctx context.Context, refresh string) (Pair, error) {
	refresh = strings.TrimSpace(refresh)
	if refresh == "" {
		return Pair{}, ErrMissingToken
	}

	claims, err := s.codec.Verify(refresh)
	if err != nil || claims.DeviceID == "" {
		s.log.Info("auth.refresh.fail", "reason", "invalid_payload")
		return Pair{}, ErrInvalidPayload
	}

	entry, err := s.ledger.Lookup(ctx, refresh)
	if err != nil {
		return Pair{}, s.refreshLookupErr(claims, err)
	}
	if entry.UserID != claims.UserID || entry.DeviceID != claims.DeviceID {
		s.log.Warn("auth.refresh.fail", "reason", "binding_mismatch", "user_id", claims.UserID)
		return Pair{}, ErrInvalidPayload
	}

	now := s.now().UTC()
	sess, err := s.devices.Get(ctx, claims.DeviceID)
	if err != nil && !errors.Is(err, device.ErrNotFound) {
		return Pair{}, fmt.Errorf("session.RefreshToken: %w", err)
	}
	if err != nil || sess.UserID != claims.UserID || !sess.Usable(now) {
		s.log.Info("auth.refresh.fail", "reason", "device_not_found", "user_id", claims.UserID, "device_id", claims.DeviceID)
		return Pair{}, ErrDeviceNotFound
	}

	u, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			s.log.Info("auth.refresh.fail", "reason", "user_not_found", "user_id", claims.UserID)
			return Pair{}, ErrUserNotFound
		}
		return Pair{}, fmt.Errorf("session.RefreshToken: %w", err)
	}

	p, err := s.issue(u, claims.DeviceID)
	if err != nil {
		return Pair{}, err
	}

	if err := s.ledger.Rotate(ctx, u.ID, claims.DeviceID, refresh, p.AccessToken, p.RefreshToken, now, p.RefreshExpiresAt); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			s.log.Warn("auth.refresh.rotate.fail", "reason", "lost_race", "user_id", u.ID, "device_id", claims.DeviceID)
			return Pair{}, ErrTokenNotFound
		}
		s.log.Error("auth.refresh.rotate.fail", "user_id", u.ID, "err", err)
		return Pair{}, fmt.Errorf("session.RefreshToken: %w", err)
	}

	if err := s.devices.Touch(ctx, claims.DeviceID, now, p.RefreshExpiresAt); err != nil {
		// The device was terminated between the check and the swap; drop the pair just issued.
		_ = s.ledger.ForgetDevice(ctx, u.ID, claims.DeviceID)
		if errors.Is(err, device.ErrNotFound) {
			return Pair{}, ErrDeviceNotFound
		}
		return Pair{}, fmt.Errorf("session.RefreshToken: %w", err)
	}

	s.log.Info("auth.refresh.ok", "user_id", u.ID, "device_id", claims.DeviceID)
	return p, nil
}

// Logout invalidates refresh and deactivates its device session.
// Every failure is reported as ErrUnauthorized.
func (s *Service) Logout(ctx context.Context, refresh string) error {
	claims, err := s.authorize(ctx, refresh, "logout")
	if err != nil {
		return err
	}

	if err := s.ledger.Invalidate(ctx, refresh); err != nil {
		s.logFail("logout", "invalidate", claims, err)
		return ErrUnauthorized
	}
	if err := s.devices.Deactivate(ctx, claims.DeviceID); err != nil && !errors.Is(err, device.ErrNotFound) {
		s.log.Error("auth.logout.fail", "reason", "deactivate", "user_id", claims.UserID, "err", err)
		return fmt.Errorf("session.Logout: %w", err)
	}

	s.publish(claims.UserID, claims.DeviceID)
	s.log.Info("auth.logout.ok", "user_id", claims.UserID, "device_id", claims.DeviceID)
	return nil
}

// Me returns the profile of userID, or ErrUserNotFound.
func (s *Service) Me(ctx context.Context, userID string) (Profile, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
			return Profile{}, ErrUserNotFound
		}
		return Profile{}, fmt.Errorf("session.Me: %w", err)
	}
	return Profile{UserID: u.ID, Login: u.Login, Email: u.Email}, nil
}

// Devices lists the active devices of the refresh token's owner.
func (s *Service) Devices(ctx context.Context, refresh string) ([]device.Session, error) {
	claims, err := s.authorize(ctx, refresh, "devices")
	if err != nil {
		return nil, err
	}
	list, err := s.devices.ListActive(ctx, claims.UserID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("session.Devices: %w", err)
	}
	return list, nil
}

// TerminateDevice ends one device session of the refresh token's owner.
//
// Errors: ErrUnauthorized, ErrNoSuchDevice, ErrForbidden.
func (s *Service) TerminateDevice(ctx context.Context, refresh, deviceID string) error {
	claims, err := s.authorize(ctx, refresh, "terminate")
	if err != nil {
		return err
	}

	target, err := s.devices.Get(ctx, deviceID)
	if errors.Is(err, device.ErrNotFound) || (err == nil && !target.Active) {
		return ErrNoSuchDevice
	}
	if err != nil {
		return fmt.Errorf("session.TerminateDevice: %w", err)
	}
	if target.UserID != claims.UserID {
		s.log.Warn("auth.terminate.forbidden", "user_id", claims.UserID, "device_id", deviceID)
		return ErrForbidden
	}

	if err := s.devices.Deactivate(ctx, deviceID); err != nil {
		if errors.Is(err, device.ErrNotFound) {
			return ErrNoSuchDevice
		}
		return fmt.Errorf("session.TerminateDevice: %w", err)
	}
	if err := s.ledger.ForgetDevice(ctx, claims.UserID, deviceID); err != nil {
		return fmt.Errorf("session.TerminateDevice: %w", err)
	}

	s.publish(claims.UserID, deviceID)
	s.log.Info("auth.terminate.ok", "user_id", claims.UserID, "device_id", deviceID)
	return nil
}

// TerminateOtherDevices ends every device session of the owner except the calling one.
func (s *Service) TerminateOtherDevices(ctx context.Context, refresh string) error {
	claims, err := s.authorize(ctx, refresh, "terminate_others")
	if err != nil {
		return err
	}

	ids, err := s.devices.DeactivateAllExcept(ctx, claims.UserID, claims.DeviceID)
	if err != nil {
		return fmt.Errorf("session.TerminateOtherDevices: %w", err)
	}
	if _, err := s.ledger.ForgetOtherDevices(ctx, claims.UserID, claims.DeviceID); err != nil {
		return fmt.Errorf("session.TerminateOtherDevices: %w", err)
	}

	for _, id := range ids {
		s.publish(claims.UserID, id)
	}
	s.log.Info("auth.terminate_others.ok", "user_id", claims.UserID, "count", len(ids))
	return nil
}

// Wipe clears the ledger and the device store.
func (s *Service) Wipe(ctx context.Context) error {
	if err := s.ledger.Wipe(ctx); err != nil {
		return err
	}
	return s.devices.DeleteAll(ctx)
}

// authorize runs the refresh-token checks shared by Logout and the device
// endpoints without consuming the token.
func (s *Service) authorize(ctx context.Context, refresh, op string) (codec.Claims, error) {
	refresh = strings.TrimSpace(refresh)
	if refresh == "" {
		return codec.Claims{}, ErrUnauthorized
	}
	claims, err := s.codec.Verify(refresh)
	if err != nil || claims.DeviceID == "" {
		s.logFail(op, "invalid_payload", claims, nil)
		return codec.Claims{}, ErrUnauthorized
	}

	entry, err := s.ledger.Lookup(ctx, refresh)
	if err != nil {
		if !errors.Is(err, ledger.ErrNotFound) {
			return codec.Claims{}, fmt.Errorf("session.%s: %w", op, err)
		}
		s.logFail(op, "token_not_found", claims, nil)
		return codec.Claims{}, ErrUnauthorized
	}
	if entry.UserID != claims.UserID || entry.DeviceID != claims.DeviceID {
		s.logFail(op, "binding_mismatch", claims, nil)
		return codec.Claims{}, ErrUnauthorized
	}

	sess, err := s.devices.Get(ctx, claims.DeviceID)
	if err != nil && !errors.Is(err, device.ErrNotFound) {
		return codec.Claims{}, fmt.Errorf("session.%s: %w", op, err)
	}
	if err != nil || sess.UserID != claims.UserID || !sess.Usable(s.now().UTC()) {
		s.logFail(op, "device_not_found", claims, nil)
		return codec.Claims{}, ErrUnauthorized
	}
	return claims, nil
}

func (s *Service) issue(u identity.User, deviceID string) (Pair, error) {
	access, accessExp, err := s.codec.Issue(u.ID, s.cfg.AccessTokenTTL, "", u.Login)
	if err != nil {
		return Pair{}, fmt.Errorf("session: issue access: %w", err)
	}
	refresh, refreshExp, err := s.codec.Issue(u.ID, s.cfg.RefreshTokenTTL, deviceID, u.Login)
	if err != nil {
		return Pair{}, fmt.Errorf("session: issue refresh: %w", err)
	}
	return Pair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
		DeviceID:         deviceID,
	}, nil
}

func (s *Service) refreshLookupErr(claims codec.Claims, err error) error {
	if errors.Is(err, ledger.ErrNotFound) {
		s.log.Warn("auth.refresh.fail", "reason", "token_not_found", "user_id", claims.UserID, "device_id", claims.DeviceID)
		return ErrTokenNotFound
	}
	return fmt.Errorf("session.RefreshToken: %w", err)
}

func (s *Service) logFail(op, reason string, claims codec.Claims, err error) {
	attrs := []any{"reason", reason}
	if claims.UserID != "" {
		attrs = append(attrs, "user_id", claims.UserID)
	}
	if err != nil {
		attrs = append(attrs, "err", err)
	}
	s.log.Info("auth."+op+".fail", attrs...)
}

func (s *Service) publish(userID, deviceID string) {
	if s.events != nil {
		s.events.DeviceTerminated(userID, deviceID, s.now().UTC())
	}
}

// dummy returns a valid hash used to equalize timing for unknown accounts.
func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.pw.Derive("dummy-password-1")
		if err != nil {
			s.log.Error("auth.login.dummy_hash_fail", "err", err)
			return
		}
		s.dummyHash = h
	})
	return s.dummyHash
}
