package authapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation labels of auth_operations_total.
const (
	opLogin           = "login"
	opRefresh         = "refresh"
	opLogout          = "logout"
	opRecoveryRequest = "recovery_request"
	opRecoveryConfirm = "recovery_confirm"
	opDevices         = "devices"
)

// newOpsCounter registers auth_operations_total on reg. A nil reg yields an unregistered counter.
func newOpsCounter(reg prometheus.Registerer) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_operations_total",
		Help: "Auth operations by operation and result.",
	}, []string{"op", "result"})
	if reg != nil {
		reg.MustRegister(c)
	}
	return c
}

func (h *Handler) count(op, result string) {
	h.ops.WithLabelValues(op, result).Inc()
}

// audit writes a security event. Secrets never go in attrs.
func (h *Handler) audit(ctx context.Context, r *http.Request, action string, attrs ...any) {
	action = strings.TrimSpace(action)
	if action == "" {
		return
	}
	base := []any{
		"action", action,
		"ip", clientIPString(r, h.cfg.TrustProxy),
		"user_agent", strings.TrimSpace(r.UserAgent()),
	}
	h.log.LogAttrs(ctx, slog.LevelInfo, "audit", slog.Group("audit", append(base, attrs...)...))
}
