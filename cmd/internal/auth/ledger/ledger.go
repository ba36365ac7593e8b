// Package ledger records the currently valid credential pair of every device
// session, so a refresh token that was rotated away or logged out can never be
// used again.
//
// Entries are keyed by (user id, device id). Tokens are never stored in plain
// form; the ledger keeps their HMAC/SHA-256 digests (see cmd/security/token).
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"blogapi/cmd/identity/ids"
	"blogapi/cmd/security/token"
)

// ErrNotFound is returned when no entry matches. For Rotate and Invalidate it
// means the presented refresh token is not the current one.
var ErrNotFound = errors.New("ledger entry not found")

// Entry is one device's current credential pair.
type Entry struct {
	ID          string
	UserID      string
	DeviceID    string
	RefreshHash string
	AccessHash  string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Store persists entries. Implementations must make Rotate and RevokeByRefreshHash
// conditional single-statement writes: of two concurrent calls with the same old
// hash exactly one succeeds.
type Store interface {
	// Put inserts or replaces the entry for (e.UserID, e.DeviceID).
	Put(ctx context.Context, e Entry) error
	GetByRefreshHash(ctx context.Context, hash string) (Entry, error)

	// Rotate swaps the pair of (userID, deviceID) only while its refresh hash equals oldHash.
	Rotate(ctx context.Context, userID, deviceID, oldHash string, next Entry) error

	RevokeByRefreshHash(ctx context.Context, hash string) error
	RevokeDevice(ctx context.Context, userID, deviceID string) error
	RevokeAllExcept(ctx context.Context, userID, keepDeviceID string) (int64, error)
	DeleteAll(ctx context.Context) error
}

// Ledger hashes tokens and delegates to a Store.
type Ledger struct {
	store  Store
	hasher token.Hasher
}

// New returns a Ledger over store. The zero Hasher uses plain SHA-256.
func New(store Store, hasher token.Hasher) *Ledger {
	return &Ledger{store: store, hasher: hasher}
}

// Record stores a freshly issued pair for a device, replacing any previous one.
func (l *Ledger) Record(ctx context.Context, userID, deviceID, access, refresh string, issuedAt, expiresAt time.Time) error {
	e, err := l.entry(userID, deviceID, access, refresh, issuedAt, expiresAt)
	if err != nil {
		return err
	}
	if err := l.store.Put(ctx, e); err != nil {
		return fmt.Errorf("ledger.Record: %w", err)
	}
	return nil
}

// Lookup returns the entry whose current refresh token is refresh.
func (l *Ledger) Lookup(ctx context.Context, refresh string) (Entry, error) {
	if strings.TrimSpace(refresh) == "" {
		return Entry{}, ErrNotFound
	}
	return l.store.GetByRefreshHash(ctx, l.hasher.Hex(refresh))
}

// Rotate atomically replaces oldRefresh with the new pair. ErrNotFound means
// another call already rotated or revoked oldRefresh.
func (l *Ledger) Rotate(ctx context.Context, userID, deviceID, oldRefresh, access, refresh string, issuedAt, expiresAt time.Time) error {
	next, err := l.entry(userID, deviceID, access, refresh, issuedAt, expiresAt)
	if err != nil {
		return err
	}
	return l.store.Rotate(ctx, userID, deviceID, l.hasher.Hex(oldRefresh), next)
}

// Invalidate removes the entry whose current refresh token is refresh.
func (l *Ledger) Invalidate(ctx context.Context, refresh string) error {
	return l.store.RevokeByRefreshHash(ctx, l.hasher.Hex(refresh))
}

// ForgetDevice removes the entry of one device. Missing entries are not an error.
func (l *Ledger) ForgetDevice(ctx context.Context, userID, deviceID string) error {
	return l.store.RevokeDevice(ctx, userID, deviceID)
}

// ForgetOtherDevices removes every entry of userID except keepDeviceID.
func (l *Ledger) ForgetOtherDevices(ctx context.Context, userID, keepDeviceID string) (int64, error) {
	return l.store.RevokeAllExcept(ctx, userID, keepDeviceID)
}

// Wipe removes every entry.
func (l *Ledger) Wipe(ctx context.Context) error {
	return l.store.DeleteAll(ctx)
}

func (l *Ledger) entry(userID, deviceID, access, refresh string, issuedAt, expiresAt time.Time) (Entry, error) {
	if userID == "" || deviceID == "" || refresh == "" {
		return Entry{}, fmt.Errorf("ledger: user, device and refresh token are required")
	}
	id, err := ids.NewULID(issuedAt)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		ID:          id,
		UserID:      userID,
		DeviceID:    deviceID,
		RefreshHash: l.hasher.Hex(refresh),
		AccessHash:  l.hasher.Hex(access),
		IssuedAt:    issuedAt.UTC(),
		ExpiresAt:   expiresAt.UTC(),
	}, nil
}
