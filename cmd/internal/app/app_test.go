package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"blogapi/cmd/identity"
	authapi "blogapi/cmd/internal/auth/api"
	"blogapi/cmd/internal/auth/codec"
	"blogapi/cmd/internal/auth/events"
	"blogapi/cmd/internal/auth/mailer"
	"blogapi/cmd/internal/auth/session"
	"blogapi/cmd/security/password"
	"blogapi/cmd/security/token"
)

func TestRuntimeBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "explicit localhost", in: "127.0.0.1:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v4", in: "0.0.0.0:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v6", in: "[::]:9090", want: "http://127.0.0.1:9090"},
		{name: "ipv6 host", in: "[2001:db8::1]:9090", want: "http://[2001:db8::1]:9090"},
		{name: "port only", in: ":8080", want: "http://127.0.0.1:8080"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := runtimeBaseURL(tc.in)
			if got != tc.want {
				t.Fatalf("runtimeBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func TestWSBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
		{in: "https://blog.example.com", want: "wss://blog.example.com"},
		{in: "127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
	}

	for _, tc := range cases {
		got := wsBaseURL(tc.in)
		if got != tc.want {
			t.Fatalf("wsBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func newTestApp(t *testing.T) (*App, *Stores) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := Config{
		Store:          StoreMemory,
		RecoveryTTL:    time.Hour,
		ClientURL:      "http://localhost:3000",
		MetricsEnabled: true,
	}
	st, err := OpenStores(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("OpenStores: %v", err)
	}

	cc := codec.DefaultConfig()
	cc.JWTSecret = []byte("0123456789abcdef0123456789abcdef")
	pw := password.DefaultConfig()
	pw.Params.MemoryKiB = 8 * 1024
	pw.Params.Iterations = 1
	pw.Params.Parallelism = 1

	a, err := build(cfg, log, st, buildDeps{
		codec:    cc,
		session:  session.DefaultConfig(),
		password: pw,
		mail:     mailer.DefaultConfig(),
		hasher:   token.NewHasher(nil),
		api:      authapi.DefaultConfig(),
		gateway:  events.DefaultGatewayConfig(),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	hash, err := pw.Hash("s3cret-pass")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if _, err := st.Users.CreateUser(context.Background(), identity.CreateUserInput{
		Login:        "editor",
		Email:        "editor@example.com",
		PasswordHash: hash,
		Now:          time.Now(),
	}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return a, st
}

func TestApp_HealthAndReady(t *testing.T) {
	a, _ := newTestApp(t)
	h := a.Handler()

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status %d", path, rr.Code)
		}
		if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Fatalf("%s: security headers missing", path)
		}
	}
}

func TestApp_ReadyRequiresDB(t *testing.T) {
	a, _ := newTestApp(t)
	a.cfg.ReadinessRequireDB = true

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestApp_LoginIsCountedInMetrics(t *testing.T) {
	a, _ := newTestApp(t)
	h := a.Handler()

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"loginOrEmail":"editor@example.com","password":"s3cret-pass"}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("login status %d: %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`auth_operations_total{op="login",result="ok"} 1`,
		`http_requests_total{class="2xx",method="POST"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestApp_TestingEndpointOffByDefault(t *testing.T) {
	a, _ := newTestApp(t)

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/testing/all-data", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestApp_WebSocketRequiresToken(t *testing.T) {
	a, _ := newTestApp(t)

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ws/sessions", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}
