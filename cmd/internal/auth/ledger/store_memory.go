package ledger

import (
	"context"
	"sync"
)

type deviceKey struct{ userID, deviceID string }

// MemoryStore keeps entries in process memory. Safe for concurrent use.
type MemoryStore struct {
	mu        sync.Mutex
	byDevice  map[deviceKey]Entry
	byRefresh map[string]deviceKey
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byDevice:  make(map[deviceKey]Entry),
		byRefresh: make(map[string]deviceKey),
	}
}

func (s *MemoryStore) Put(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := deviceKey{e.UserID, e.DeviceID}
	if prev, ok := s.byDevice[k]; ok {
		delete(s.byRefresh, prev.RefreshHash)
		e.ID = prev.ID
	}
	s.byDevice[k] = e
	s.byRefresh[e.RefreshHash] = k
	return nil
}

func (s *MemoryStore) GetByRefreshHash(ctx context.Context, hash string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.byRefresh[hash]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return s.byDevice[k], nil
}

func (s *MemoryStore) Rotate(ctx context.Context, userID, deviceID, oldHash string, next Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := deviceKey{userID, deviceID}
	cur, ok := s.byDevice[k]
	if !ok || cur.RefreshHash != oldHash {
		return ErrNotFound
	}

	delete(s.byRefresh, oldHash)
	next.ID = cur.ID
	next.UserID, next.DeviceID = userID, deviceID
	s.byDevice[k] = next
	s.byRefresh[next.RefreshHash] = k
	return nil
}

func (s *MemoryStore) RevokeByRefreshHash(ctx context.Context, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.byRefresh[hash]
	if !ok {
		return ErrNotFound
	}
	delete(s.byRefresh, hash)
	delete(s.byDevice, k)
	return nil
}

func (s *MemoryStore) RevokeDevice(ctx context.Context, userID, deviceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := deviceKey{userID, deviceID}
	if cur, ok := s.byDevice[k]; ok {
		delete(s.byRefresh, cur.RefreshHash)
		delete(s.byDevice, k)
	}
	return nil
}

func (s *MemoryStore) RevokeAllExcept(ctx context.Context, userID, keepDeviceID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, e := range s.byDevice {
		if k.userID != userID || k.deviceID == keepDeviceID {
			continue
		}
		delete(s.byRefresh, e.RefreshHash)
		delete(s.byDevice, k)
		n++
	}
	return n, nil
}

func (s *MemoryStore) DeleteAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byDevice = make(map[deviceKey]Entry)
	s.byRefresh = make(map[string]deviceKey)
	return nil
}
