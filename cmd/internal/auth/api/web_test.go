package authapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSetRefreshCookie(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	h := &Handler{cfg: DefaultConfig(), now: func() time.Time { return now }}

	rr := httptest.NewRecorder()
	h.setRefreshCookie(rr, "refresh-token-123", now.Add(30*time.Minute))

	cookies := rr.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected 1 cookie, got %d", len(cookies))
	}
	c := cookies[0]
	if c.Name != "refreshToken" || c.Value != "refresh-token-123" {
		t.Fatalf("unexpected cookie %s=%s", c.Name, c.Value)
	}
	if !c.HttpOnly || !c.Secure {
		t.Fatalf("expected HttpOnly and Secure")
	}
	if c.SameSite != http.SameSiteStrictMode {
		t.Fatalf("expected SameSite=Strict, got %v", c.SameSite)
	}
	if c.MaxAge != 1800 {
		t.Fatalf("expected MaxAge=1800, got %d", c.MaxAge)
	}
}

func TestClearRefreshCookie(t *testing.T) {
	h := &Handler{cfg: DefaultConfig(), now: time.Now}
	rr := httptest.NewRecorder()
	h.clearRefreshCookie(rr)

	c := rr.Result().Cookies()[0]
	if c.Value != "" || c.MaxAge >= 0 {
		t.Fatalf("expected expired cookie, got value=%q maxAge=%d", c.Value, c.MaxAge)
	}
}

func TestRefreshTokenFromCookie(t *testing.T) {
	h := &Handler{cfg: DefaultConfig()}

	r := httptest.NewRequest(http.MethodPost, "/refresh-token", nil)
	if got := h.refreshTokenFromCookie(r); got != "" {
		t.Fatalf("expected empty token, got %q", got)
	}
	r.AddCookie(&http.Cookie{Name: "refreshToken", Value: " tok "})
	if got := h.refreshTokenFromCookie(r); got != "tok" {
		t.Fatalf("expected tok, got %q", got)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"":             "",
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"Bearerabc":    "",
		"Bearer":       "",
	}
	for header, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		if got := bearerToken(r); got != want {
			t.Fatalf("bearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	r.Header.Set("X-Forwarded-For", "bogus, 203.0.113.9")

	if got := clientIPString(r, false); got != "10.1.2.3" {
		t.Fatalf("untrusted proxy: got %q", got)
	}
	if got := clientIPString(r, true); got != "203.0.113.9" {
		t.Fatalf("trusted proxy: got %q", got)
	}

	r.Header.Del("X-Forwarded-For")
	r.Header.Set("X-Real-IP", "198.51.100.7")
	if got := clientIPString(r, true); got != "198.51.100.7" {
		t.Fatalf("x-real-ip: got %q", got)
	}

	r.RemoteAddr = "garbage"
	if got := clientIPString(r, false); got != "" {
		t.Fatalf("expected empty ip, got %q", got)
	}
}

func TestMaxAge(t *testing.T) {
	now := time.Unix(1000, 0)
	if got := maxAge(now.Add(-time.Second), now); got != -1 {
		t.Fatalf("expected -1 for past expiry, got %d", got)
	}
	if got := maxAge(now.Add(90*time.Second), now); got != 90 {
		t.Fatalf("expected 90, got %d", got)
	}
}
