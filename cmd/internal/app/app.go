// Package app wires the blog API runtime: config, logging, stores, auth services,
// HTTP routes, metrics and the session events gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	authapi "blogapi/cmd/internal/auth/api"
	"blogapi/cmd/internal/auth/codec"
	"blogapi/cmd/internal/auth/events"
	"blogapi/cmd/internal/auth/ledger"
	"blogapi/cmd/internal/auth/mailer"
	"blogapi/cmd/internal/auth/recovery"
	"blogapi/cmd/internal/auth/session"
	"blogapi/cmd/security/password"
	"blogapi/cmd/security/token"
)

// App is the blog API runtime: it owns the HTTP server, stores and auth wiring.
type App struct {
	cfg Config
	log Logger

	stores *Stores

	registry *prometheus.Registry
	metrics  *httpMetrics

	auth *authapi.Handler
	ws   *events.Gateway
}

// New constructs a fully wired App from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	hasher := token.HasherFromEnv()
	if err := ValidateSecurityConfig(cfg, hasher); err != nil {
		return nil, err
	}

	codecCfg, err := codec.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	mailCfg, err := mailer.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	st, err := OpenStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a, err := build(cfg, log, st, buildDeps{
		codec:    codecCfg,
		session:  sessCfg,
		password: pwCfg,
		mail:     mailCfg,
		hasher:   hasher,
		api:      authapi.LoadConfigFromEnv(),
		gateway:  events.LoadGatewayConfigFromEnv(),
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return a, nil
}

type buildDeps struct {
	codec    codec.Config
	session  session.Config
	password password.Config
	mail     mailer.Config
	hasher   token.Hasher
	api      authapi.Config
	gateway  events.GatewayConfig
	now      func() time.Time
}

// build assembles services on top of already opened stores.
func build(cfg Config, log Logger, st *Stores, d buildDeps) (*App, error) {
	if d.now == nil {
		d.now = time.Now
	}

	cdc, err := codec.New(d.codec, log, d.now)
	if err != nil {
		return nil, err
	}
	mail, err := mailer.New(d.mail, log)
	if err != nil {
		return nil, err
	}

	hub := events.NewHub(log)
	sessions, err := session.NewService(d.session, session.Deps{
		Codec:     cdc,
		Ledger:    ledger.New(st.Ledger, d.hasher),
		Devices:   st.Devices,
		Users:     st.Users,
		Passwords: d.password,
		Events:    hub,
		Log:       log,
		Now:       d.now,
	})
	if err != nil {
		return nil, err
	}

	rec := recovery.NewService(
		recovery.Config{TTL: cfg.RecoveryTTL, ClientURL: cfg.ClientURL},
		st.Recovery, st.Users, d.password, mail, log, d.now,
	)

	reg := newRegistry()
	var metrics *httpMetrics
	if cfg.MetricsEnabled {
		metrics = newHTTPMetrics(reg)
	}

	auth, err := authapi.NewHandler(d.api, authapi.Deps{
		Sessions: sessions,
		Recovery: rec,
		Codec:    cdc,
		Log:      log,
		Metrics:  reg,
		Wipers:   []authapi.Wiper{st.Users.DeleteAll},
		Now:      d.now,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		log:      log,
		stores:   st,
		registry: reg,
		metrics:  metrics,
		auth:     auth,
		ws:       events.NewGateway(d.gateway, log, hub, cdc),
	}, nil
}

// Handler returns the root handler with all middleware applied.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a)

	var h http.Handler = mux
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	h = WithRecover(h, a.log)
	h = WithRequestLogging(h, a.log)
	h = WithMetrics(h, a.metrics)
	return h
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"store", string(a.cfg.Store),
		"base_url", base,
		"ws_url", wsBaseURL(base)+"/ws/sessions",
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		runErr = fmt.Errorf("listen: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		if runErr == nil {
			runErr = err
		}
	}
	if err := a.Close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return runErr
}

// Close releases store resources.
func (a *App) Close() error { return a.stores.Close() }

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + strings.TrimSpace(addr)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
