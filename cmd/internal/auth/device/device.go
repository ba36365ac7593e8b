// Package device stores one session record per logged-in client.
//
// A session is created on login, has its last-active time and expiry pushed
// forward on every refresh, and is deactivated on logout or termination.
// Sessions are never deleted outside the testing wipe.
package device

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// Defaults applied when the client does not identify itself.
const (
	DefaultTitle = "Unknown Device"
	DefaultIP    = "0.0.0.0"

	// maxTitleLen bounds the stored title in bytes.
	maxTitleLen = 256
)

// ErrNotFound is returned when no session matches.
var ErrNotFound = errors.New("device session not found")

// Session is one logged-in device.
type Session struct {
	DeviceID     string
	UserID       string
	IP           string
	Title        string
	LastActiveAt time.Time
	ExpiresAt    time.Time
	CreatedAt    time.Time
	Active       bool
}

// Usable reports whether s is active and unexpired at now.
func (s Session) Usable(now time.Time) bool {
	return s.Active && s.ExpiresAt.After(now)
}

// Store persists sessions.
type Store interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, deviceID string) (Session, error)

	// Touch moves last-active and expiry of an active session. ErrNotFound if inactive or missing.
	Touch(ctx context.Context, deviceID string, lastActive, expiresAt time.Time) error

	// Deactivate marks the session inactive. ErrNotFound if it was not active.
	Deactivate(ctx context.Context, deviceID string) error

	// DeactivateAllExcept deactivates every active session of userID except keep and returns their ids.
	DeactivateAllExcept(ctx context.Context, userID, keep string) ([]string, error)

	// ListActive returns the user's active, unexpired sessions ordered by creation time.
	ListActive(ctx context.Context, userID string, now time.Time) ([]Session, error)

	DeleteAll(ctx context.Context) error
}

// Normalize fills defaults and bounds client-supplied fields.
func Normalize(s Session) Session {
	s.Title = truncateUTF8(strings.TrimSpace(strings.ToValidUTF8(s.Title, "")), maxTitleLen)
	if s.Title == "" {
		s.Title = DefaultTitle
	}
	s.IP = strings.TrimSpace(s.IP)
	if s.IP == "" {
		s.IP = DefaultIP
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = s.LastActiveAt
	}
	s.LastActiveAt = s.LastActiveAt.UTC()
	s.ExpiresAt = s.ExpiresAt.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	s.Active = true
	return s
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
