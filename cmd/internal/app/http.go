package app

import (
	"net/http"
)

func registerHTTP(mux *http.ServeMux, a *App) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.ReadinessRequireDB && !a.stores.DBEnabled() {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}
		if err := a.stores.Ping(r.Context()); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			a.log.Info("readyz.db.not_ready", "err", err)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if a.cfg.MetricsEnabled {
		mux.Handle("GET /metrics", metricsHandler(a.registry))
	}

	a.auth.Register(mux)
	mux.Handle("GET /ws/sessions", a.ws)
}
