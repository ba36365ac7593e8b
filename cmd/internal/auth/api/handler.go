// Package authapi exposes the session and password-recovery use cases over HTTP
// and provides the bearer-token gate used by protected routes.
package authapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"blogapi/cmd/internal/auth/codec"
	"blogapi/cmd/internal/auth/recovery"
	"blogapi/cmd/internal/auth/session"
)

// Wiper clears one store for the testing endpoint.
type Wiper func(ctx context.Context) error

// Deps groups the Handler's collaborators. Log, Metrics, Wipers and Now are optional.
type Deps struct {
	Sessions *session.Service
	Recovery *recovery.Service
	Codec    codec.Codec
	Log      *slog.Logger
	Metrics  prometheus.Registerer
	Wipers   []Wiper
	Now      func() time.Time
}

// Handler wires HTTP auth endpoints to the session and recovery services.
type Handler struct {
	log *slog.Logger
	cfg Config

	sessions *session.Service
	recovery *recovery.Service
	codec    codec.Codec
	wipers   []Wiper

	limiter *attemptLimiter
	ops     *prometheus.CounterVec
	now     func() time.Time
}

// NewHandler constructs an auth Handler.
func NewHandler(cfg Config, d Deps) (*Handler, error) {
	if d.Sessions == nil || d.Recovery == nil || d.Codec == nil {
		return nil, errors.New("authapi: sessions, recovery and codec are required")
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	if cfg.RefreshCookieName == "" {
		cfg.RefreshCookieName = DefaultConfig().RefreshCookieName
	}
	return &Handler{
		log:      d.Log,
		cfg:      cfg,
		sessions: d.Sessions,
		recovery: d.Recovery,
		codec:    d.Codec,
		wipers:   d.Wipers,
		limiter:  newAttemptLimiter(cfg.RateLimitMax, cfg.RateLimitWindow),
		ops:      newOpsCounter(d.Metrics),
		now:      d.Now,
	}, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /login", h.rateLimited(opLogin, h.handleLogin))
	mux.HandleFunc("POST /refresh-token", h.handleRefresh)
	mux.HandleFunc("POST /logout", h.handleLogout)
	mux.Handle("GET /me", h.RequireAuth(http.HandlerFunc(h.handleMe)))
	mux.HandleFunc("POST /password-recovery", h.rateLimited(opRecoveryRequest, h.handleRecoveryRequest))
	mux.HandleFunc("POST /password-recovery/confirm", h.rateLimited(opRecoveryConfirm, h.handleRecoveryConfirm))

	mux.HandleFunc("GET /security/devices", h.handleDevices)
	mux.HandleFunc("DELETE /security/devices", h.handleTerminateOthers)
	mux.HandleFunc("DELETE /security/devices/{deviceId}", h.handleTerminateDevice)

	if h.cfg.TestingEndpoints {
		mux.HandleFunc("DELETE /testing/all-data", h.handleWipe)
	}
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, false, &req); err != nil {
		h.count(opLogin, "bad_request")
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	pair, err := h.sessions.Login(ctx, session.LoginInput{
		LoginOrEmail: strings.TrimSpace(req.LoginOrEmail),
		Password:     req.Password,
		Title:        r.UserAgent(),
		IP:           clientIPString(r, h.cfg.TrustProxy),
	})
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			h.count(opLogin, "fail")
			h.audit(ctx, r, "auth.login.failed")
			writeUnauthorized(w)
			return
		}
		h.count(opLogin, "error")
		h.log.Error("auth.login.fail", "err", err)
		writeInternal(w)
		return
	}

	h.count(opLogin, "ok")
	h.audit(ctx, r, "auth.login.success", "device_id", pair.DeviceID)
	h.setRefreshCookie(w, pair.RefreshToken, pair.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, accessTokenResponse{AccessToken: pair.AccessToken})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pair, err := h.sessions.RefreshToken(ctx, h.refreshTokenFromCookie(r))
	if err != nil {
		if session.IsAuthFailure(err) {
			h.count(opRefresh, "fail")
			if errors.Is(err, session.ErrTokenNotFound) {
				h.audit(ctx, r, "auth.refresh.replay")
			}
			writeUnauthorized(w)
			return
		}
		h.count(opRefresh, "error")
		h.log.Error("auth.refresh.fail", "err", err)
		writeInternal(w)
		return
	}

	h.count(opRefresh, "ok")
	h.setRefreshCookie(w, pair.RefreshToken, pair.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, accessTokenResponse{AccessToken: pair.AccessToken})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.sessions.Logout(ctx, h.refreshTokenFromCookie(r)); err != nil {
		if errors.Is(err, session.ErrUnauthorized) {
			h.count(opLogout, "fail")
			writeUnauthorized(w)
			return
		}
		h.count(opLogout, "error")
		h.log.Error("auth.logout.fail", "err", err)
		writeInternal(w)
		return
	}

	h.count(opLogout, "ok")
	h.audit(ctx, r, "auth.logout")
	h.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	prof, err := h.sessions.Me(r.Context(), id.UserID)
	if err != nil {
		if errors.Is(err, session.ErrUserNotFound) {
			writeUnauthorized(w)
			return
		}
		h.log.Error("auth.me.fail", "err", err)
		writeInternal(w)
		return
	}
	writeJSON(w, http.StatusOK, toMeResponse(prof))
}

func (h *Handler) handleRecoveryRequest(w http.ResponseWriter, r *http.Request) {
	var req recoveryRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, true, &req); err != nil {
		h.count(opRecoveryRequest, "bad_request")
		writeFieldErrors(w, http.StatusBadRequest, fieldError{Message: "Invalid email format", Field: "email"})
		return
	}

	err := h.recovery.RequestPasswordRecovery(r.Context(), req.Email)
	var ve *recovery.ValidationError
	switch {
	case err == nil:
		h.count(opRecoveryRequest, "ok")
	case errors.As(err, &ve):
		h.count(opRecoveryRequest, "bad_request")
		writeFieldErrors(w, http.StatusBadRequest, toFieldErrors(ve.Errors)...)
		return
	case errors.Is(err, recovery.ErrServiceUnavailable):
		h.count(opRecoveryRequest, "unavailable")
		fe, _ := recovery.ClientMessage(err)
		writeFieldErrors(w, http.StatusInternalServerError, fieldError{Message: fe.Message, Field: fe.Field})
		return
	default:
		// Delivery and lookup failures are not reported to the caller.
		h.count(opRecoveryRequest, "error")
		h.log.Warn("auth.recovery.request.swallowed", "err", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRecoveryConfirm(w http.ResponseWriter, r *http.Request) {
	var req recoveryConfirmRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, true, &req); err != nil {
		h.count(opRecoveryConfirm, "bad_request")
		writeFieldErrors(w, http.StatusBadRequest, fieldError{Message: "Invalid request body", Field: "none"})
		return
	}

	ctx := r.Context()
	err := h.recovery.ConfirmPasswordRecovery(ctx, req.RecoveryCode, req.NewPassword)
	if err == nil {
		h.count(opRecoveryConfirm, "ok")
		h.audit(ctx, r, "auth.recovery.confirmed")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var ve *recovery.ValidationError
	if errors.As(err, &ve) {
		h.count(opRecoveryConfirm, "bad_request")
		writeFieldErrors(w, http.StatusBadRequest, toFieldErrors(ve.Errors)...)
		return
	}
	if fe, ok := recovery.ClientMessage(err); ok {
		h.count(opRecoveryConfirm, "fail")
		writeFieldErrors(w, http.StatusBadRequest, fieldError{Message: fe.Message, Field: fe.Field})
		return
	}
	h.count(opRecoveryConfirm, "error")
	h.log.Error("auth.recovery.confirm.fail", "err", err)
	writeInternal(w)
}

func (h *Handler) handleDevices(w http.ResponseWriter, r *http.Request) {
	list, err := h.sessions.Devices(r.Context(), h.refreshTokenFromCookie(r))
	if err != nil {
		h.writeDeviceErr(w, err)
		return
	}
	h.count(opDevices, "ok")
	writeJSON(w, http.StatusOK, toDeviceResponses(list))
}

func (h *Handler) handleTerminateOthers(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.TerminateOtherDevices(r.Context(), h.refreshTokenFromCookie(r)); err != nil {
		h.writeDeviceErr(w, err)
		return
	}
	h.count(opDevices, "ok")
	h.audit(r.Context(), r, "auth.devices.terminate_others")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTerminateDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := strings.TrimSpace(r.PathValue("deviceId"))
	if err := h.sessions.TerminateDevice(r.Context(), h.refreshTokenFromCookie(r), deviceID); err != nil {
		h.writeDeviceErr(w, err)
		return
	}
	h.count(opDevices, "ok")
	h.audit(r.Context(), r, "auth.devices.terminate", "device_id", deviceID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeDeviceErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrUnauthorized):
		h.count(opDevices, "fail")
		writeUnauthorized(w)
	case errors.Is(err, session.ErrNoSuchDevice):
		h.count(opDevices, "fail")
		writeError(w, http.StatusNotFound, "not_found", "device not found")
	case errors.Is(err, session.ErrForbidden):
		h.count(opDevices, "fail")
		writeError(w, http.StatusForbidden, "forbidden", "device belongs to another user")
	default:
		h.count(opDevices, "error")
		h.log.Error("auth.devices.fail", "err", err)
		writeInternal(w)
	}
}

func (h *Handler) handleWipe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wipers := append([]Wiper{h.sessions.Wipe, h.recovery.Wipe}, h.wipers...)
	for i, wipe := range wipers {
		if err := wipe(ctx); err != nil {
			h.log.Error("testing.wipe.fail", "step", i, "err", fmt.Errorf("wipe: %w", err))
			writeInternal(w)
			return
		}
	}
	h.limiter.Reset()
	h.log.Warn("testing.wipe.ok")
	w.WriteHeader(http.StatusNoContent)
}
