package recovery

import (
	"context"
	"errors"
	"time"
)

// Store errors. ErrUsed comes from Claim and Release, ErrExpired from Claim only.
var (
	ErrNotFound = errors.New("recovery record not found")
	ErrUsed     = errors.New("recovery code already used")
	ErrExpired  = errors.New("recovery code expired")
)

// Record is one issued recovery code. Records are never deleted outside the testing wipe.
type Record struct {
	ID        string
	UserID    string
	Email     string
	Code      string
	ExpiresAt time.Time
	CreatedAt time.Time
	UsedAt    *time.Time
	Used      bool
}

// Store persists recovery records. At most one unused record exists per user.
type Store interface {
	// Replace marks the user's unused record (if any) as used and inserts rec, atomically.
	Replace(ctx context.Context, now time.Time, rec Record) error

	GetByCode(ctx context.Context, code string) (Record, error)

	// Claim marks an unused, unexpired record used and returns it.
	// Of two concurrent claims of one code exactly one succeeds; the other gets ErrUsed.
	Claim(ctx context.Context, code string, now time.Time) (Record, error)

	// Release undoes the Claim made at claimedAt, unless the user has another unused
	// record by now. ErrUsed if there is nothing to release.
	Release(ctx context.Context, code string, claimedAt time.Time) error

	// MarkUsed marks the record used regardless of expiry. Idempotent.
	MarkUsed(ctx context.Context, code string, now time.Time) error

	// ListByUser returns every record of the user, newest first.
	ListByUser(ctx context.Context, userID string) ([]Record, error)

	DeleteAll(ctx context.Context) error
}

// classify explains why rec cannot be claimed at now. It returns nil if it can.
func classify(rec Record, now time.Time) error {
	switch {
	case rec.Used:
		return ErrUsed
	case !rec.ExpiresAt.After(now):
		return ErrExpired
	default:
		return nil
	}
}
