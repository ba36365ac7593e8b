package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]User
	byLogin map[string]string // login -> id
	byEmail map[string]string // email_norm -> id
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]User),
		byLogin: make(map[string]string),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	u, err := prepareUser(op, in)
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byLogin[u.Login]; ok {
		return User{}, ConflictError{Op: op, Field: "login"}
	}
	if _, ok := s.byEmail[u.EmailNorm]; ok {
		return User{}, ConflictError{Op: op, Field: "email"}
	}

	s.byID[u.ID] = u
	s.byLogin[u.Login] = u.ID
	s.byEmail[u.EmailNorm] = u.ID
	return u, nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetByID"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return User{}, notFound(op)
	}
	return u, nil
}

func (s *MemoryStore) GetByLoginOrEmail(ctx context.Context, loginOrEmail string) (User, error) {
	const op = "identity.GetByLoginOrEmail"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.byLogin[NormalizeLogin(loginOrEmail)]; ok {
		return s.byID[id], nil
	}
	if id, ok := s.byEmail[NormalizeEmail(loginOrEmail)]; ok {
		return s.byID[id], nil
	}
	return User{}, notFound(op)
}

func (s *MemoryStore) GetByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.GetByEmail"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return User{}, notFound(op)
	}
	return s.byID[id], nil
}

func (s *MemoryStore) UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) error {
	const op = "identity.UpdatePasswordHash"
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(hash) == "" {
		return invalid(op, "password hash is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return notFound(op)
	}
	u.PasswordHash = hash
	u.UpdatedAt = now
	s.byID[userID] = u
	return nil
}

func (s *MemoryStore) DeleteAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID = make(map[string]User)
	s.byLogin = make(map[string]string)
	s.byEmail = make(map[string]string)
	return nil
}
