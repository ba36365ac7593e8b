package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blogapi/cmd/internal/dbx/dbtest"
	"blogapi/cmd/security/token"
)

func ledgers(t *testing.T) map[string]func(t *testing.T) *Ledger {
	t.Helper()
	hasher := token.NewHasher([]byte("0123456789abcdef0123456789abcdef"))
	return map[string]func(t *testing.T) *Ledger{
		"memory": func(t *testing.T) *Ledger { return New(NewMemoryStore(), hasher) },
		"sqlite": func(t *testing.T) *Ledger {
			st, err := NewSQLiteStore(dbtest.SQLite(t))
			require.NoError(t, err)
			return New(st, hasher)
		},
		"postgres": func(t *testing.T) *Ledger {
			pool, schema := dbtest.Postgres(t)
			st, err := NewPostgresStore(pool, schema)
			require.NoError(t, err)
			return New(st, hasher)
		},
	}
}

func TestLedger_RecordLookupRotate(t *testing.T) {
	for name, open := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			l := open(t)
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Millisecond)

			require.NoError(t, l.Record(ctx, "u1", "d1", "access-1", "refresh-1", now, now.Add(time.Hour)))

			e, err := l.Lookup(ctx, "refresh-1")
			require.NoError(t, err)
			assert.Equal(t, "u1", e.UserID)
			assert.Equal(t, "d1", e.DeviceID)
			assert.Len(t, e.RefreshHash, 64)
			assert.NotContains(t, e.RefreshHash, "refresh-1")
			assert.True(t, e.ExpiresAt.Equal(now.Add(time.Hour)))

			later := now.Add(time.Minute)
			require.NoError(t, l.Rotate(ctx, "u1", "d1", "refresh-1", "access-2", "refresh-2", later, later.Add(time.Hour)))

			_, err = l.Lookup(ctx, "refresh-1")
			assert.ErrorIs(t, err, ErrNotFound)

			e, err = l.Lookup(ctx, "refresh-2")
			require.NoError(t, err)
			assert.True(t, e.ExpiresAt.Equal(later.Add(time.Hour)))

			// The rotated-away token cannot rotate again.
			err = l.Rotate(ctx, "u1", "d1", "refresh-1", "access-3", "refresh-3", later, later.Add(time.Hour))
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestLedger_DevicesAreIndependent(t *testing.T) {
	for name, open := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			l := open(t)
			ctx := context.Background()
			now := time.Now().UTC()

			require.NoError(t, l.Record(ctx, "u1", "d1", "a1", "r1", now, now.Add(time.Hour)))
			require.NoError(t, l.Record(ctx, "u1", "d2", "a2", "r2", now, now.Add(time.Hour)))

			_, err := l.Lookup(ctx, "r1")
			require.NoError(t, err, "second device login must not evict the first")
			_, err = l.Lookup(ctx, "r2")
			require.NoError(t, err)

			// Recording again for the same device replaces its pair.
			require.NoError(t, l.Record(ctx, "u1", "d1", "a1b", "r1b", now, now.Add(time.Hour)))
			_, err = l.Lookup(ctx, "r1")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = l.Lookup(ctx, "r1b")
			assert.NoError(t, err)
		})
	}
}

func TestLedger_Invalidate(t *testing.T) {
	for name, open := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			l := open(t)
			ctx := context.Background()
			now := time.Now().UTC()

			require.NoError(t, l.Record(ctx, "u1", "d1", "a1", "r1", now, now.Add(time.Hour)))
			require.NoError(t, l.Invalidate(ctx, "r1"))
			assert.ErrorIs(t, l.Invalidate(ctx, "r1"), ErrNotFound)

			_, err := l.Lookup(ctx, "r1")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = l.Lookup(ctx, "")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestLedger_ForgetDevices(t *testing.T) {
	for name, open := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			l := open(t)
			ctx := context.Background()
			now := time.Now().UTC()

			for _, d := range []string{"d1", "d2", "d3"} {
				require.NoError(t, l.Record(ctx, "u1", d, "a-"+d, "r-"+d, now, now.Add(time.Hour)))
			}
			require.NoError(t, l.Record(ctx, "u2", "x1", "a-x1", "r-x1", now, now.Add(time.Hour)))

			require.NoError(t, l.ForgetDevice(ctx, "u1", "d2"))
			require.NoError(t, l.ForgetDevice(ctx, "u1", "missing"))
			_, err := l.Lookup(ctx, "r-d2")
			assert.ErrorIs(t, err, ErrNotFound)

			n, err := l.ForgetOtherDevices(ctx, "u1", "d1")
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			_, err = l.Lookup(ctx, "r-d1")
			assert.NoError(t, err)
			_, err = l.Lookup(ctx, "r-d3")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = l.Lookup(ctx, "r-x1")
			assert.NoError(t, err, "other users are untouched")

			require.NoError(t, l.Wipe(ctx))
			_, err = l.Lookup(ctx, "r-x1")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestLedger_ConcurrentRotate_ExactlyOneWins(t *testing.T) {
	for name, open := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			l := open(t)
			ctx := context.Background()
			now := time.Now().UTC()

			require.NoError(t, l.Record(ctx, "u1", "d1", "a0", "r0", now, now.Add(time.Hour)))

			const workers = 8
			var (
				wg       sync.WaitGroup
				wins     atomic.Int32
				notFound atomic.Int32
				start    = make(chan struct{})
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					next := uuid.NewString()
					err := l.Rotate(ctx, "u1", "d1", "r0", "a-"+next, "r-"+next, now, now.Add(time.Hour))
					switch {
					case err == nil:
						wins.Add(1)
					case assert.ErrorIs(t, err, ErrNotFound):
						notFound.Add(1)
					}
				}()
			}
			close(start)
			wg.Wait()

			assert.Equal(t, int32(1), wins.Load())
			assert.Equal(t, int32(workers-1), notFound.Load())
		})
	}
}
