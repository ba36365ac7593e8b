package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blogapi/cmd/internal/auth/codec"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newCodec(t *testing.T) codec.Codec {
	t.Helper()
	cfg := codec.DefaultConfig()
	cfg.JWTSecret = []byte("0123456789abcdef0123456789abcdef")
	c, err := codec.New(cfg, testLogger(), nil)
	require.NoError(t, err)
	return c
}

type testServer struct {
	hub   *Hub
	codec codec.Codec
	srv   *httptest.Server
}

func startServer(t *testing.T, cfg GatewayConfig) *testServer {
	t.Helper()
	hub := NewHub(testLogger())
	c := newCodec(t)
	mux := http.NewServeMux()
	mux.Handle("GET /ws/sessions", NewGateway(cfg, testLogger(), hub, c))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testServer{hub: hub, codec: c, srv: srv}
}

func (s *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws/sessions"
}

func waitConnections(t *testing.T, hub *Hub, userID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Connections(userID) == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_PublishToUserOnly(t *testing.T) {
	hub := NewHub(testLogger())
	a := NewClient("a", "u1", 4)
	b := NewClient("b", "u2", 4)
	hub.Subscribe(a)
	hub.Subscribe(b)

	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	hub.DeviceTerminated("u1", "dev-1", at)

	select {
	case ev := <-a.Send:
		assert.Equal(t, Event{Type: TypeDeviceTerminated, DeviceID: "dev-1", At: at}, ev)
	default:
		t.Fatal("expected event for u1")
	}
	assert.Empty(t, b.Send)

	hub.Unsubscribe(a)
	hub.Unsubscribe(a)
	assert.Equal(t, 0, hub.Connections("u1"))
	assert.Equal(t, 1, hub.Connections("u2"))
}

func TestHub_FullQueueDrops(t *testing.T) {
	hub := NewHub(testLogger())
	c := NewClient("a", "u1", 1)
	hub.Subscribe(c)

	hub.DeviceTerminated("u1", "d1", time.Now())
	hub.DeviceTerminated("u1", "d2", time.Now())
	assert.Len(t, c.Send, 1)

	c.Close()
	<-c.Send
	hub.DeviceTerminated("u1", "d3", time.Now())
	assert.Empty(t, c.Send)
}

func TestGateway_PushesDeviceTerminated(t *testing.T) {
	s := startServer(t, DefaultGatewayConfig())
	tok, _, err := s.codec.Issue("user-1", time.Minute, "", "alice")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, s.wsURL(), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + tok}},
	})
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	waitConnections(t, s.hub, "user-1", 1)
	s.hub.DeviceTerminated("user-1", "dev-9", time.Now())

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, TypeDeviceTerminated, ev.Type)
	assert.Equal(t, "dev-9", ev.DeviceID)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "done"))
	waitConnections(t, s.hub, "user-1", 0)
}

func TestGateway_QueryToken(t *testing.T) {
	s := startServer(t, DefaultGatewayConfig())
	tok, _, err := s.codec.Issue("user-2", time.Minute, "", "bob")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, s.wsURL()+"?access_token="+tok, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	waitConnections(t, s.hub, "user-2", 1)
}

func TestGateway_RejectsBadTokens(t *testing.T) {
	s := startServer(t, DefaultGatewayConfig())
	refresh, _, err := s.codec.Issue("user-1", time.Minute, "device-1", "alice")
	require.NoError(t, err)
	noLogin, _, err := s.codec.Issue("user-1", time.Minute, "", "")
	require.NoError(t, err)

	cases := map[string]string{
		"missing":       "",
		"garbage":       "Bearer nope",
		"basic scheme":  "Basic dXNlcjpwYXNz",
		"refresh token": "Bearer " + refresh,
		"no login":      "Bearer " + noLogin,
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			h := http.Header{}
			if header != "" {
				h.Set("Authorization", header)
			}
			_, resp, err := websocket.Dial(ctx, s.wsURL(), &websocket.DialOptions{HTTPHeader: h})
			require.Error(t, err)
			require.NotNil(t, resp)
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestGateway_OriginPolicy(t *testing.T) {
	cfg := DefaultGatewayConfig()
	cfg.OriginRequired = true
	cfg.AllowedOrigins = []string{"https://blog.example.com"}
	s := startServer(t, cfg)
	tok, _, err := s.codec.Issue("user-3", time.Minute, "", "carol")
	require.NoError(t, err)

	dial := func(origin string) (*websocket.Conn, *http.Response, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h := http.Header{"Authorization": []string{"Bearer " + tok}}
		if origin != "" {
			h.Set("Origin", origin)
		}
		return websocket.Dial(ctx, s.wsURL(), &websocket.DialOptions{HTTPHeader: h})
	}

	_, resp, err := dial("")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = dial("https://evil.example.com")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := dial("https://blog.example.com")
	require.NoError(t, err)
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func TestOriginHelpers(t *testing.T) {
	assert.Equal(t, "localhost", originHostOnly("http://LOCALHOST:3000"))
	assert.Equal(t, "example.com", originHostOnly("example.com:443"))
	assert.Equal(t, "", originHostOnly(" "))
	assert.Equal(t, []string{"127.0.0.1", "localhost"},
		deriveOriginPatterns([]string{"http://localhost:3000", "http://127.0.0.1", "*", "http://localhost"}))
}

func TestLoadGatewayConfigFromEnv(t *testing.T) {
	t.Setenv("BLOG_WS_ORIGIN_REQUIRED", "true")
	t.Setenv("BLOG_WS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("BLOG_WS_SEND_QUEUE", "-1")
	t.Setenv("BLOG_WS_HEARTBEAT_INTERVAL", "10s")

	cfg := LoadGatewayConfigFromEnv()
	assert.True(t, cfg.OriginRequired)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, DefaultGatewayConfig().SendQueueSize, cfg.SendQueueSize)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatEvery)
}
