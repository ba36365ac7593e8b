package identity

import (
	"context"
	"strings"
	"time"

	"blogapi/cmd/identity/ids"
)

// User is the blog's account record.
type User struct {
	ID           string
	Login        string
	Email        string
	EmailNorm    string
	PasswordHash string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateUserInput describes a new account. PasswordHash is an encoded hash, never a plain password.
type CreateUserInput struct {
	Login        string
	Email        string
	PasswordHash string
	Now          time.Time
}

// Store is the user directory persistence boundary.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetByID(ctx context.Context, id string) (User, error)

	// GetByLoginOrEmail matches the login exactly, or the email case-insensitively.
	GetByLoginOrEmail(ctx context.Context, loginOrEmail string) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)

	UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) error

	// DeleteAll removes every user. Used by the testing wipe endpoint.
	DeleteAll(ctx context.Context) error
}

// prepareUser validates in and builds the row to insert.
func prepareUser(op string, in CreateUserInput) (User, error) {
	login := NormalizeLogin(in.Login)
	email := strings.TrimSpace(in.Email)

	switch {
	case login == "":
		return User{}, invalid(op, "login is required")
	case email == "":
		return User{}, invalid(op, "email is required")
	case strings.TrimSpace(in.PasswordHash) == "":
		return User{}, invalid(op, "password hash is required")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return User{}, err
	}

	return User{
		ID:           id,
		Login:        login,
		Email:        email,
		EmailNorm:    NormalizeEmail(email),
		PasswordHash: in.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// classifyConflict maps a unique-violation constraint name (or driver message) to a field.
func classifyConflict(constraint string) string {
	switch {
	case strings.Contains(constraint, "email"):
		return "email"
	case strings.Contains(constraint, "login"):
		return "login"
	default:
		return "unique"
	}
}
