package session

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blogapi/cmd/identity"
	"blogapi/cmd/internal/auth/codec"
	"blogapi/cmd/internal/auth/device"
	"blogapi/cmd/internal/auth/ledger"
	"blogapi/cmd/internal/dbx/dbtest"
	"blogapi/cmd/security/password"
	"blogapi/cmd/security/token"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordedEvent struct {
	userID, deviceID string
}

type eventSink struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (e *eventSink) DeviceTerminated(userID, deviceID string, _ time.Time) {
	e.mu.Lock()
	e.events = append(e.events, recordedEvent{userID, deviceID})
	e.mu.Unlock()
}

func (e *eventSink) all() []recordedEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]recordedEvent(nil), e.events...)
}

type harness struct {
	svc     *Service
	clock   *clock
	codec   codec.Codec
	users   *identity.MemoryStore
	devices device.Store
	events  *eventSink
	user    identity.User
	pass    string
}

type backend struct {
	ledger  ledger.Store
	devices device.Store
}

func backends(t *testing.T) map[string]func(t *testing.T) backend {
	t.Helper()
	return map[string]func(t *testing.T) backend{
		"memory": func(t *testing.T) backend {
			return backend{ledger: ledger.NewMemoryStore(), devices: device.NewMemoryStore()}
		},
		"sqlite": func(t *testing.T) backend {
			db := dbtest.SQLite(t)
			ls, err := ledger.NewSQLiteStore(db)
			require.NoError(t, err)
			ds, err := device.NewSQLiteStore(db)
			require.NoError(t, err)
			return backend{ledger: ls, devices: ds}
		},
	}
}

func newHarness(t *testing.T, b backend) *harness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := &clock{now: time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)}

	cc := codec.DefaultConfig()
	cc.JWTSecret = []byte("0123456789abcdef0123456789abcdef")
	cdc, err := codec.New(cc, log, clk.Now)
	require.NoError(t, err)

	pw := password.DefaultConfig()
	pw.Params.MemoryKiB = 8 * 1024
	pw.Params.Iterations = 1
	pw.Params.Parallelism = 1

	h := &harness{
		clock:   clk,
		codec:   cdc,
		users:   identity.NewMemoryStore(),
		devices: b.devices,
		events:  &eventSink{},
		pass:    "correct horse 1",
	}
	hash, err := pw.Hash(h.pass)
	require.NoError(t, err)
	h.user, err = h.users.CreateUser(context.Background(), identity.CreateUserInput{
		Login:        "alice",
		Email:        gofakeit.Email(),
		PasswordHash: hash,
		Now:          clk.Now(),
	})
	require.NoError(t, err)

	h.svc, err = NewService(DefaultConfig(), Deps{
		Codec:     cdc,
		Ledger:    ledger.New(b.ledger, token.NewHasher([]byte("hmac-key-for-tests-0123456789abc"))),
		Devices:   b.devices,
		Users:     h.users,
		Passwords: pw,
		Events:    h.events,
		Log:       log,
		Now:       clk.Now,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) login(t *testing.T) Pair {
	t.Helper()
	p, err := h.svc.Login(context.Background(), LoginInput{
		LoginOrEmail: "alice",
		Password:     h.pass,
		Title:        "Mozilla/5.0",
		IP:           "10.0.0.1",
	})
	require.NoError(t, err)
	return p
}

func forEachBackend(t *testing.T, fn func(t *testing.T, h *harness)) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, newHarness(t, open(t)))
		})
	}
}

func TestLogin_IssuesVerifiablePair(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		p := h.login(t)

		access, err := h.codec.Verify(p.AccessToken)
		require.NoError(t, err)
		refresh, err := h.codec.Verify(p.RefreshToken)
		require.NoError(t, err)

		assert.Equal(t, h.user.ID, access.UserID)
		assert.Equal(t, h.user.ID, refresh.UserID)
		assert.Equal(t, "alice", access.Login)
		assert.Empty(t, access.DeviceID)
		assert.Equal(t, p.DeviceID, refresh.DeviceID)

		sess, err := h.devices.Get(context.Background(), p.DeviceID)
		require.NoError(t, err)
		assert.True(t, sess.Active)
		assert.Equal(t, "Mozilla/5.0", sess.Title)
		assert.Equal(t, "10.0.0.1", sess.IP)
		assert.True(t, sess.ExpiresAt.Equal(p.RefreshExpiresAt))
	})
}

func TestLogin_LongNonASCIITitle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		p, err := h.svc.Login(context.Background(), LoginInput{
			LoginOrEmail: "alice",
			Password:     h.pass,
			Title:        "a" + strings.Repeat("é", 200),
			IP:           "10.0.0.1",
		})
		require.NoError(t, err)

		sess, err := h.devices.Get(context.Background(), p.DeviceID)
		require.NoError(t, err)
		assert.True(t, utf8.ValidString(sess.Title))
		assert.Equal(t, "a"+strings.Repeat("é", 127), sess.Title)
	})
}

func TestLogin_UnknownUserUsesDummyHashUnderTightPolicy(t *testing.T) {
	h := newHarness(t, backends(t)["memory"](t))
	pw := h.svc.pw.(password.Config)
	pw.Policy.MaxLength = 8
	h.svc.pw = pw

	_, err := h.svc.Login(context.Background(), LoginInput{LoginOrEmail: "nobody", Password: "whatever"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	dummy := h.svc.dummy()
	require.NotEmpty(t, dummy)
	ok, err := pw.Verify(dummy, "whatever")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	h := newHarness(t, backends(t)["memory"](t))
	ctx := context.Background()

	_, err := h.svc.Login(ctx, LoginInput{LoginOrEmail: "alice", Password: "wrong password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = h.svc.Login(ctx, LoginInput{LoginOrEmail: "nobody", Password: h.pass})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = h.svc.Login(ctx, LoginInput{LoginOrEmail: "ALICE", Password: h.pass})
	assert.ErrorIs(t, err, ErrInvalidCredentials, "login match is case-sensitive")

	_, err = h.svc.Login(ctx, LoginInput{LoginOrEmail: h.user.Email, Password: h.pass})
	assert.NoError(t, err)
}

func TestLogin_DevicesAreIndependent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		first := h.login(t)
		second := h.login(t)
		require.NotEqual(t, first.DeviceID, second.DeviceID)

		_, err := h.svc.RefreshToken(ctx, first.RefreshToken)
		require.NoError(t, err)
		_, err = h.svc.RefreshToken(ctx, second.RefreshToken)
		require.NoError(t, err)
	})
}

func TestRefresh_RotatesOnce(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		p := h.login(t)

		h.clock.Advance(time.Minute)
		next, err := h.svc.RefreshToken(ctx, p.RefreshToken)
		require.NoError(t, err)
		assert.NotEqual(t, p.RefreshToken, next.RefreshToken)
		assert.Equal(t, p.DeviceID, next.DeviceID)

		_, err = h.svc.RefreshToken(ctx, p.RefreshToken)
		assert.ErrorIs(t, err, ErrTokenNotFound)

		sess, err := h.devices.Get(ctx, p.DeviceID)
		require.NoError(t, err)
		assert.True(t, sess.ExpiresAt.Equal(next.RefreshExpiresAt))
		assert.True(t, sess.LastActiveAt.Equal(h.clock.Now()))

		_, err = h.svc.RefreshToken(ctx, next.RefreshToken)
		assert.NoError(t, err)
	})
}

func TestRefresh_Concurrent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		p := h.login(t)

		const n = 8
		var ok, notFound atomic.Int32
		var wg sync.WaitGroup
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := h.svc.RefreshToken(ctx, p.RefreshToken)
				switch {
				case err == nil:
					ok.Add(1)
				case assert.ErrorIs(t, err, ErrTokenNotFound):
					notFound.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), ok.Load())
		assert.Equal(t, int32(n-1), notFound.Load())
	})
}

func TestRefresh_Failures(t *testing.T) {
	h := newHarness(t, backends(t)["memory"](t))
	ctx := context.Background()
	p := h.login(t)

	_, err := h.svc.RefreshToken(ctx, "  ")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = h.svc.RefreshToken(ctx, "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidPayload)

	// An access token has no device binding.
	_, err = h.svc.RefreshToken(ctx, p.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	// A well-formed token the ledger never saw.
	forged, _, err := h.codec.Issue(h.user.ID, time.Hour, p.DeviceID, "alice")
	require.NoError(t, err)
	_, err = h.svc.RefreshToken(ctx, forged)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	h.clock.Advance(DefaultConfig().RefreshTokenTTL + time.Minute)
	_, err = h.svc.RefreshToken(ctx, p.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestRefresh_UserDeleted(t *testing.T) {
	h := newHarness(t, backends(t)["memory"](t))
	p := h.login(t)

	require.NoError(t, h.users.DeleteAll(context.Background()))
	_, err := h.svc.RefreshToken(context.Background(), p.RefreshToken)
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.True(t, IsAuthFailure(err))
}

func TestLogout(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		p := h.login(t)

		require.NoError(t, h.svc.Logout(ctx, p.RefreshToken))

		sess, err := h.devices.Get(ctx, p.DeviceID)
		require.NoError(t, err)
		assert.False(t, sess.Active)

		_, err = h.svc.RefreshToken(ctx, p.RefreshToken)
		assert.ErrorIs(t, err, ErrTokenNotFound)

		assert.ErrorIs(t, h.svc.Logout(ctx, p.RefreshToken), ErrUnauthorized)
		assert.ErrorIs(t, h.svc.Logout(ctx, ""), ErrUnauthorized)
		assert.ErrorIs(t, h.svc.Logout(ctx, p.AccessToken), ErrUnauthorized)

		assert.Equal(t, []recordedEvent{{h.user.ID, p.DeviceID}}, h.events.all())
	})
}

func TestMe(t *testing.T) {
	h := newHarness(t, backends(t)["memory"](t))

	prof, err := h.svc.Me(context.Background(), h.user.ID)
	require.NoError(t, err)
	assert.Equal(t, Profile{UserID: h.user.ID, Login: "alice", Email: h.user.Email}, prof)

	_, err = h.svc.Me(context.Background(), "01ARZ3NDEKTSV4RRFFQ69G5FAV")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestDevices_ListAndTerminate(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		a := h.login(t)
		h.clock.Advance(time.Second)
		b := h.login(t)
		h.clock.Advance(time.Second)
		c := h.login(t)

		list, err := h.svc.Devices(ctx, a.RefreshToken)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, a.DeviceID, list[0].DeviceID)

		require.NoError(t, h.svc.TerminateDevice(ctx, a.RefreshToken, b.DeviceID))
		_, err = h.svc.RefreshToken(ctx, b.RefreshToken)
		assert.ErrorIs(t, err, ErrTokenNotFound)

		assert.ErrorIs(t, h.svc.TerminateDevice(ctx, a.RefreshToken, b.DeviceID), ErrNoSuchDevice)
		assert.ErrorIs(t, h.svc.TerminateDevice(ctx, a.RefreshToken, "missing"), ErrNoSuchDevice)

		require.NoError(t, h.svc.TerminateOtherDevices(ctx, a.RefreshToken))
		list, err = h.svc.Devices(ctx, a.RefreshToken)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, a.DeviceID, list[0].DeviceID)

		_, err = h.svc.Devices(ctx, c.RefreshToken)
		assert.ErrorIs(t, err, ErrUnauthorized)

		assert.ElementsMatch(t, []recordedEvent{
			{h.user.ID, b.DeviceID},
			{h.user.ID, c.DeviceID},
		}, h.events.all())
	})
}

func TestTerminateDevice_OtherUser(t *testing.T) {
	h := newHarness(t, backends(t)["memory"](t))
	ctx := context.Background()
	mine := h.login(t)

	other, err := h.users.CreateUser(ctx, identity.CreateUserInput{
		Login:        "bob",
		Email:        gofakeit.Email(),
		PasswordHash: h.user.PasswordHash,
		Now:          h.clock.Now(),
	})
	require.NoError(t, err)
	theirs, err := h.svc.Login(ctx, LoginInput{LoginOrEmail: other.Login, Password: h.pass})
	require.NoError(t, err)

	assert.ErrorIs(t, h.svc.TerminateDevice(ctx, mine.RefreshToken, theirs.DeviceID), ErrForbidden)
	_, err = h.svc.RefreshToken(ctx, theirs.RefreshToken)
	assert.NoError(t, err)
}

func TestNewService_Validates(t *testing.T) {
	_, err := NewService(Config{}, Deps{})
	assert.ErrorIs(t, err, ErrConfig)

	_, err = NewService(DefaultConfig(), Deps{})
	assert.ErrorIs(t, err, ErrConfig)
}
