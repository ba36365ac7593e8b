// Package main provides a CI-friendly smoke test for the blog API session lifecycle.
//
// It validates:
//   - login on two devices
//   - /ws/sessions handshake with a bearer access token
//   - refresh-token rotation (old token rejected)
//   - logout of the second device pushes device.terminated to the first
//   - the logged-out refresh token is rejected
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	refreshCookie = "refreshToken"
	maxReadBytes  = 1 << 16
)

type session struct {
	access  string
	refresh string
}

type event struct {
	Type     string    `json:"type"`
	DeviceID string    `json:"deviceId"`
	At       time.Time `json:"at"`
}

func main() {
	var (
		base    = flag.String("base", "http://127.0.0.1:8080", "API base URL")
		login   = flag.String("login", "smoke", "login or email of an existing account")
		pass    = flag.String("password", os.Getenv("BLOG_SMOKE_PASSWORD"), "account password (default $BLOG_SMOKE_PASSWORD)")
		origin  = flag.String("origin", "http://localhost", "Origin header for the WebSocket handshake")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBase(*base); err != nil {
		fatalf("invalid -base: %v", err)
	}
	if *pass == "" {
		fatalf("-password is required")
	}

	root := context.Background()
	hc := &http.Client{Timeout: *timeout}

	a := mustLogin(root, hc, *base, *login, *pass, "smoke-A")
	b := mustLogin(root, hc, *base, *login, *pass, "smoke-B")
	if *verbose {
		fmt.Println("logged in on two devices")
	}

	conn := mustConnect(root, wsURL(*base), *origin, a.access, *timeout)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	rotated := mustRefresh(root, hc, *base, a.refresh, http.StatusOK)
	_ = mustRefresh(root, hc, *base, a.refresh, http.StatusUnauthorized)
	if *verbose {
		fmt.Println("rotation ok")
	}

	if code := post(root, hc, *base+"/logout", b.refresh, nil).StatusCode; code != http.StatusNoContent {
		fatalf("logout B: status %d", code)
	}

	ev := mustReadEvent(root, conn, *timeout)
	if ev.Type != "device.terminated" || ev.DeviceID == "" {
		fatalf("unexpected event: %+v", ev)
	}

	_ = mustRefresh(root, hc, *base, b.refresh, http.StatusUnauthorized)
	_ = mustRefresh(root, hc, *base, rotated.refresh, http.StatusOK)

	fmt.Printf("OK: terminated_device=%s at=%s\n", ev.DeviceID, ev.At.Format(time.RFC3339))
}

func validateBase(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func wsURL(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws/sessions"
	default:
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws/sessions"
	}
}

func mustLogin(ctx context.Context, hc *http.Client, base, login, pass, agent string) session {
	body, _ := json.Marshal(map[string]string{"loginOrEmail": login, "password": pass})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/login", strings.NewReader(string(body)))
	if err != nil {
		fatalf("login: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", agent)

	res, err := hc.Do(req)
	if err != nil {
		fatalf("login: %v", err)
	}
	return mustSession(res, http.StatusOK, "login")
}

func mustRefresh(ctx context.Context, hc *http.Client, base, refresh string, want int) session {
	res := post(ctx, hc, base+"/refresh-token", refresh, nil)
	if want != http.StatusOK {
		_ = res.Body.Close()
		if res.StatusCode != want {
			fatalf("refresh: status %d want %d", res.StatusCode, want)
		}
		return session{}
	}
	return mustSession(res, want, "refresh")
}

func post(ctx context.Context, hc *http.Client, target, refresh string, body io.Reader) *http.Response {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		fatalf("post %s: %v", target, err)
	}
	if refresh != "" {
		req.AddCookie(&http.Cookie{Name: refreshCookie, Value: refresh})
	}
	res, err := hc.Do(req)
	if err != nil {
		fatalf("post %s: %v", target, err)
	}
	return res
}

func mustSession(res *http.Response, want int, step string) session {
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode != want {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		fatalf("%s: status %d want %d: %s", step, res.StatusCode, want, strings.TrimSpace(string(b)))
	}

	var out struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil || out.AccessToken == "" {
		fatalf("%s: missing accessToken (%v)", step, err)
	}
	s := session{access: out.AccessToken}
	for _, c := range res.Cookies() {
		if c.Name == refreshCookie {
			s.refresh = c.Value
		}
	}
	if s.refresh == "" {
		fatalf("%s: missing %s cookie", step, refreshCookie)
	}
	return s
}

func mustConnect(parent context.Context, target, origin, access string, stepTimeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+access)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("ws dial: %v", err)
	}
	conn.SetReadLimit(maxReadBytes)
	return conn
}

func mustReadEvent(parent context.Context, conn *websocket.Conn, stepTimeout time.Duration) event {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	typ, data, err := conn.Read(ctx)
	if err != nil {
		fatalf("ws read: %v", err)
	}
	if typ != websocket.MessageText {
		fatalf("ws read: unexpected frame type %v", typ)
	}
	var ev event
	if err := json.Unmarshal(data, &ev); err != nil {
		fatalf("ws read: %v", err)
	}
	return ev
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
