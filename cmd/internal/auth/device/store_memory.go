package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory. Safe for concurrent use.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]Session
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]Session)}
}

func (m *MemoryStore) Create(ctx context.Context, s Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s = Normalize(s)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rows[s.DeviceID]; ok {
		return fmt.Errorf("device: duplicate device id")
	}
	m.rows[s.DeviceID] = s
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, deviceID string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.rows[deviceID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) Touch(ctx context.Context, deviceID string, lastActive, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.rows[deviceID]
	if !ok || !s.Active {
		return ErrNotFound
	}
	s.LastActiveAt = lastActive.UTC()
	s.ExpiresAt = expiresAt.UTC()
	m.rows[deviceID] = s
	return nil
}

func (m *MemoryStore) Deactivate(ctx context.Context, deviceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.rows[deviceID]
	if !ok || !s.Active {
		return ErrNotFound
	}
	s.Active = false
	m.rows[deviceID] = s
	return nil
}

func (m *MemoryStore) DeactivateAllExcept(ctx context.Context, userID, keep string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for id, s := range m.rows {
		if s.UserID != userID || id == keep || !s.Active {
			continue
		}
		s.Active = false
		m.rows[id] = s
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) ListActive(ctx context.Context, userID string, now time.Time) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Session
	for _, s := range m.rows {
		if s.UserID == userID && s.Usable(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].DeviceID < out[j].DeviceID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) DeleteAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rows = make(map[string]Session)
	return nil
}
