package recovery

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
)

func stores(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			st, err := NewSQLiteStore(dbtest.SQLite(t))
			require.NoError(t, err)
			return st
		},
		"postgres": func(t *testing.T) Store {
			pool, schema := dbtest.Postgres(t)
			st, err := NewPostgresStore(pool, schema)
			require.NoError(t, err)
			return st
		},
	}
}

func newRecord(userID string, now time.Time, ttl time.Duration) Record {
	return Record{
		ID:        uuid.NewString(),
		UserID:    userID,
		Email:     userID + "@example.com",
		Code:      uuid.NewString(),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
}

func TestStore_ReplaceSupersedes(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Millisecond)

			first := newRecord("u1", now, time.Hour)
			require.NoError(t, st.Replace(ctx, now, first))

			second := newRecord("u1", now.Add(time.Second), time.Hour)
			require.NoError(t, st.Replace(ctx, now.Add(time.Second), second))

			got, err := st.GetByCode(ctx, first.Code)
			require.NoError(t, err)
			assert.True(t, got.Used)
			require.NotNil(t, got.UsedAt)

			got, err = st.GetByCode(ctx, second.Code)
			require.NoError(t, err)
			assert.False(t, got.Used)
			assert.Nil(t, got.UsedAt)
			assert.True(t, got.ExpiresAt.Equal(second.ExpiresAt))

			list, err := st.ListByUser(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, list, 2)
			unused := 0
			for _, r := range list {
				if !r.Used {
					unused++
				}
			}
			assert.Equal(t, 1, unused)

			// Other users are untouched.
			other := newRecord("u2", now, time.Hour)
			require.NoError(t, st.Replace(ctx, now, other))
			got, err = st.GetByCode(ctx, second.Code)
			require.NoError(t, err)
			assert.False(t, got.Used)
		})
	}
}

func TestStore_Claim(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Millisecond)

			rec := newRecord("u1", now, time.Hour)
			require.NoError(t, st.Replace(ctx, now, rec))

			got, err := st.Claim(ctx, rec.Code, now)
			require.NoError(t, err)
			assert.Equal(t, "u1", got.UserID)
			assert.True(t, got.Used)

			_, err = st.Claim(ctx, rec.Code, now)
			assert.ErrorIs(t, err, ErrUsed)

			_, err = st.Claim(ctx, "missing", now)
			assert.ErrorIs(t, err, ErrNotFound)

			expired := newRecord("u2", now.Add(-2*time.Hour), time.Hour)
			require.NoError(t, st.Replace(ctx, now.Add(-2*time.Hour), expired))
			_, err = st.Claim(ctx, expired.Code, now)
			assert.ErrorIs(t, err, ErrExpired)

			// Expiry is exclusive at the boundary.
			edge := newRecord("u3", now, time.Minute)
			require.NoError(t, st.Replace(ctx, now, edge))
			_, err = st.Claim(ctx, edge.Code, now.Add(time.Minute))
			assert.ErrorIs(t, err, ErrExpired)
		})
	}
}

func TestStore_Release(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Millisecond)

			rec := newRecord("u1", now, time.Hour)
			require.NoError(t, st.Replace(ctx, now, rec))
			_, err := st.Claim(ctx, rec.Code, now)
			require.NoError(t, err)

			assert.ErrorIs(t, st.Release(ctx, rec.Code, now.Add(time.Second)), ErrUsed, "claim time must match")
			require.NoError(t, st.Release(ctx, rec.Code, now))
			assert.ErrorIs(t, st.Release(ctx, rec.Code, now), ErrUsed)

			got, err := st.GetByCode(ctx, rec.Code)
			require.NoError(t, err)
			assert.False(t, got.Used)
			assert.Nil(t, got.UsedAt)

			// A newer code issued while the claim was held wins over the release.
			_, err = st.Claim(ctx, rec.Code, now)
			require.NoError(t, err)
			newer := newRecord("u1", now, time.Hour)
			require.NoError(t, st.Replace(ctx, now, newer))
			assert.ErrorIs(t, st.Release(ctx, rec.Code, now), ErrUsed)

			got, err = st.GetByCode(ctx, rec.Code)
			require.NoError(t, err)
			assert.True(t, got.Used)

			assert.ErrorIs(t, st.Release(ctx, "missing", now), ErrUsed)
		})
	}
}

func TestStore_Claim_Concurrent(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Millisecond)

			rec := newRecord("u1", now, time.Hour)
			require.NoError(t, st.Replace(ctx, now, rec))

			const n = 8
			var wins, used atomic.Int32
			var wg sync.WaitGroup
			for range n {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := st.Claim(ctx, rec.Code, now)
					switch {
					case err == nil:
						wins.Add(1)
					case assert.ErrorIs(t, err, ErrUsed):
						used.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(1), wins.Load())
			assert.Equal(t, int32(n-1), used.Load())
		})
	}
}

func TestStore_MarkUsedAndWipe(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Millisecond)

			rec := newRecord("u1", now, time.Hour)
			require.NoError(t, st.Replace(ctx, now, rec))
			require.NoError(t, st.MarkUsed(ctx, rec.Code, now))
			require.NoError(t, st.MarkUsed(ctx, rec.Code, now))

			got, err := st.GetByCode(ctx, rec.Code)
			require.NoError(t, err)
			assert.True(t, got.Used)

			require.NoError(t, st.DeleteAll(ctx))
			_, err = st.GetByCode(ctx, rec.Code)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}
