package events

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"blogapi/cmd/internal/auth/codec"
)

const (
	maxFrameBytes     = 4 << 10
	wsMaxPingFailures = 3
	wsCloseGrace      = time.Second
)

// GatewayConfig tunes the websocket endpoint.
type GatewayConfig struct {
	// OriginRequired rejects handshakes without an Origin header.
	OriginRequired bool
	// AllowedOrigins lists accepted origins ("*" accepts any).
	AllowedOrigins []string

	SendQueueSize    int
	WriteTimeout     time.Duration
	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	// Inbound frames are ignored but rate limited.
	RateEvents int
	RateWindow time.Duration
}

// DefaultGatewayConfig returns conservative defaults. Origins default to localhost.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		AllowedOrigins:   []string{"http://localhost", "http://127.0.0.1"},
		SendQueueSize:    16,
		WriteTimeout:     5 * time.Second,
		HeartbeatEvery:   25 * time.Second,
		HeartbeatTimeout: 5 * time.Second,
		RateEvents:       30,
		RateWindow:       10 * time.Second,
	}
}

// LoadGatewayConfigFromEnv reads BLOG_WS_ORIGIN_REQUIRED, BLOG_WS_ALLOWED_ORIGINS,
// BLOG_WS_SEND_QUEUE, BLOG_WS_WRITE_TIMEOUT, BLOG_WS_HEARTBEAT_INTERVAL,
// BLOG_WS_HEARTBEAT_TIMEOUT, BLOG_WS_RATE_EVENTS and BLOG_WS_RATE_WINDOW.
// Invalid values fall back to defaults.
func LoadGatewayConfigFromEnv() GatewayConfig {
	cfg := DefaultGatewayConfig()
	cfg.OriginRequired = envBool("BLOG_WS_ORIGIN_REQUIRED", cfg.OriginRequired)
	if v := envCSV("BLOG_WS_ALLOWED_ORIGINS"); len(v) > 0 {
		cfg.AllowedOrigins = v
	}
	cfg.SendQueueSize = envInt("BLOG_WS_SEND_QUEUE", cfg.SendQueueSize)
	cfg.WriteTimeout = envDuration("BLOG_WS_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.HeartbeatEvery = envDuration("BLOG_WS_HEARTBEAT_INTERVAL", cfg.HeartbeatEvery)
	cfg.HeartbeatTimeout = envDuration("BLOG_WS_HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout)
	cfg.RateEvents = envInt("BLOG_WS_RATE_EVENTS", cfg.RateEvents)
	cfg.RateWindow = envDuration("BLOG_WS_RATE_WINDOW", cfg.RateWindow)
	return cfg
}

// Gateway is the /ws/sessions endpoint. It authenticates the access token,
// subscribes the connection to the Hub and writes events until either side closes.
type Gateway struct {
	cfg            GatewayConfig
	log            *slog.Logger
	hub            *Hub
	codec          codec.Codec
	originPatterns []string
}

// NewGateway constructs a Gateway.
func NewGateway(cfg GatewayConfig, log *slog.Logger, hub *Hub, c codec.Codec) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	def := DefaultGatewayConfig()
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = def.SendQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = def.HeartbeatEvery
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = def.HeartbeatTimeout
	}
	return &Gateway{
		cfg:            cfg,
		log:            log,
		hub:            hub,
		codec:          c,
		originPatterns: deriveOriginPatterns(cfg.AllowedOrigins),
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := g.authenticate(r)
	if err != nil {
		g.log.Info("ws.reject.auth", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: slices.Contains(g.cfg.AllowedOrigins, "*"),
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	client := NewClient(newConnID(), claims.UserID, g.cfg.SendQueueSize)
	g.hub.Subscribe(client)
	g.log.Info("ws.open", "conn_id", client.ID, "user_id", client.UserID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Unsubscribe(client)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case ev := <-client.Send:
				if err := writeEvent(ctx, conn, ev, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "conn_id", client.ID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		t := time.NewTicker(g.cfg.HeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()
				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "conn_id", client.ID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	// The stream is server-push only; reading keeps control frames flowing and detects close.
	rl := newRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)
	for {
		_, _, err := conn.Read(ctx)
		if err != nil {
			switch {
			case websocket.CloseStatus(err) != -1,
				errors.Is(err, context.Canceled),
				errors.Is(err, net.ErrClosed),
				errors.Is(err, io.EOF):
				shutdown(websocket.StatusNormalClosure, "bye")
			default:
				g.log.Info("ws.read.fail", "conn_id", client.ID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break
		}
		if !rl.Allow(time.Now()) {
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break
		}
	}

	<-writerDone
	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
	g.log.Info("ws.close", "conn_id", client.ID, "user_id", client.UserID)
}

// authenticate accepts "Authorization: Bearer <token>" or the access_token query
// parameter (browsers cannot set headers on websocket handshakes).
func (g *Gateway) authenticate(r *http.Request) (codec.Claims, error) {
	var tok string
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, rest, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return codec.Claims{}, codec.ErrInvalidToken
		}
		tok = strings.TrimSpace(rest)
	} else {
		tok = strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	if tok == "" {
		return codec.Claims{}, codec.ErrInvalidToken
	}

	claims, err := g.codec.Verify(tok)
	if err != nil {
		return codec.Claims{}, err
	}
	if claims.Login == "" || claims.DeviceID != "" {
		return codec.Claims{}, codec.ErrInvalidToken
	}
	return claims, nil
}

func writeEvent(parent context.Context, conn *websocket.Conn, ev Event, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

func newConnID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	originHost := originHostOnly(origin)
	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
			continue
		case a == "*", origin == a:
			return nil
		case originHost != "" && originHost == originHostOnly(a):
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Host
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatterns turns the allowlist into host patterns for websocket.Accept,
// which otherwise only authorizes same-host origins.
func deriveOriginPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

// ---- env helpers ----

func envBool(key string, def bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSV(key string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
