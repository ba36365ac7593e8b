package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blogapi/cmd/internal/app"
	"blogapi/cmd/security/password"
)

func sqliteEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BLOG_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("BLOG_DATABASE_URL", "")
	t.Setenv("BLOG_STORE", "sqlite")
	t.Setenv("BLOG_SQLITE_PATH", filepath.Join(t.TempDir(), "blog.db"))
	t.Setenv("BLOG_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("BLOG_ARGON2_ITERATIONS", "1")
	t.Setenv("BLOG_ARGON2_PARALLELISM", "1")
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	c := &cli{in: strings.NewReader(stdin), out: &out, errOut: &errOut}
	err := c.run(context.Background(), args)
	return out.String(), err
}

func TestMigrateUseraddPasswd(t *testing.T) {
	sqliteEnv(t)

	out, err := runCLI(t, "", "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "migrations applied (sqlite)")

	out, err = runCLI(t, "first-pass\n", "useradd", "-login", "admin", "-email", "admin@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "created user admin")

	out, err = runCLI(t, "second-pass\n", "passwd", "-login", "admin@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "password updated for admin")

	cfg, err := app.LoadConfig()
	require.NoError(t, err)
	st, err := app.OpenStores(context.Background(), cfg, app.NewLogger("error", "json"))
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	u, err := st.Users.GetByLoginOrEmail(context.Background(), "admin")
	require.NoError(t, err)
	pw, err := password.FromEnv()
	require.NoError(t, err)
	ok, err := pw.Verify(u.PasswordHash, "second-pass")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUseradd_Validation(t *testing.T) {
	sqliteEnv(t)

	_, err := runCLI(t, "", "useradd", "-login", "admin")
	assert.True(t, errors.Is(err, errUsage))

	_, err = runCLI(t, "abc\n", "useradd", "-login", "admin", "-email", "admin@example.com")
	assert.ErrorIs(t, err, password.ErrPasswordTooShort)
	assert.Contains(t, err.Error(), "Password should be 6-20 characters")
}

func TestMemoryStoreRejected(t *testing.T) {
	t.Setenv("BLOG_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("BLOG_DATABASE_URL", "")
	t.Setenv("BLOG_STORE", "memory")

	_, err := runCLI(t, "", "migrate")
	assert.ErrorIs(t, err, errUsage)
}

func TestUnknownCommand(t *testing.T) {
	_, err := runCLI(t, "")
	assert.ErrorIs(t, err, errUsage)

	_, err = runCLI(t, "", "frobnicate")
	assert.ErrorIs(t, err, errUsage)
}
