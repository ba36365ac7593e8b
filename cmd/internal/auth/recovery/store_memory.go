package recovery

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. Safe for concurrent use.
type MemoryStore struct {
	mu     sync.Mutex
	byCode map[string]*Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byCode: make(map[string]*Record)}
}

func (m *MemoryStore) Replace(ctx context.Context, now time.Time, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.byCode {
		if r.UserID == rec.UserID && !r.Used {
			markUsed(r, now)
		}
	}
	cp := rec
	m.byCode[rec.Code] = &cp
	return nil
}

func (m *MemoryStore) GetByCode(ctx context.Context, code string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.byCode[code]
	if !ok {
		return Record{}, ErrNotFound
	}
	return *r, nil
}

func (m *MemoryStore) Claim(ctx context.Context, code string, now time.Time) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.byCode[code]
	if !ok {
		return Record{}, ErrNotFound
	}
	if err := classify(*r, now); err != nil {
		return Record{}, err
	}
	markUsed(r, now)
	return *r, nil
}

func (m *MemoryStore) Release(ctx context.Context, code string, claimedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.byCode[code]
	if !ok || !r.Used || r.UsedAt == nil || !r.UsedAt.Equal(claimedAt.UTC()) {
		return ErrUsed
	}
	for _, o := range m.byCode {
		if o.UserID == r.UserID && !o.Used {
			return ErrUsed
		}
	}
	r.Used = false
	r.UsedAt = nil
	return nil
}

func (m *MemoryStore) MarkUsed(ctx context.Context, code string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.byCode[code]
	if !ok {
		return ErrNotFound
	}
	if !r.Used {
		markUsed(r, now)
	}
	return nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Record
	for _, r := range m.byCode {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *MemoryStore) DeleteAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byCode = make(map[string]*Record)
	return nil
}

func markUsed(r *Record, now time.Time) {
	t := now.UTC()
	r.Used = true
	r.UsedAt = &t
}
