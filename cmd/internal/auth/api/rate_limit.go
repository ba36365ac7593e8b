package authapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// attemptLimiter is an in-memory sliding-window limiter keyed by client and route.
type attemptLimiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	limit  int
	window time.Duration
	calls  int
}

func newAttemptLimiter(limit int, window time.Duration) *attemptLimiter {
	return &attemptLimiter{hits: make(map[string][]time.Time), limit: limit, window: window}
}

// Allow records an attempt for key at now unless the window is full.
func (l *attemptLimiter) Allow(key string, now time.Time) (bool, time.Duration) {
	if l == nil || l.limit <= 0 {
		return true, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if l.calls%1024 == 0 {
		l.sweep(now)
	}

	hits := prune(l.hits[key], now.Add(-l.window))
	if blocked, retry := evaluateWindowThrottle(now, hits, l.limit, l.window); blocked {
		l.hits[key] = hits
		return false, retry
	}
	l.hits[key] = append(hits, now)
	return true, 0
}

func (l *attemptLimiter) sweep(now time.Time) {
	cut := now.Add(-l.window)
	for k, v := range l.hits {
		if len(prune(v, cut)) == 0 {
			delete(l.hits, k)
		}
	}
}

// prune keeps the timestamps after cut. hits is in insertion (ascending) order.
func prune(hits []time.Time, cut time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cut) {
		i++
	}
	return hits[i:]
}

// evaluateWindowThrottle reports whether limit attempts already happened within
// window before now, and how long until the oldest of them leaves the window.
func evaluateWindowThrottle(now time.Time, attempts []time.Time, limit int, window time.Duration) (bool, time.Duration) {
	if limit <= 0 || window <= 0 {
		return false, 0
	}
	cut := now.Add(-window)
	var inWindow []time.Time
	for _, t := range attempts {
		if t.After(cut) {
			inWindow = append(inWindow, t)
		}
	}
	if len(inWindow) < limit {
		return false, 0
	}
	oldest := inWindow[0]
	for _, t := range inWindow[1:] {
		if t.Before(oldest) {
			oldest = t
		}
	}
	return true, oldest.Add(window).Sub(now)
}

// rateLimited wraps next with the per IP and route limiter.
func (h *Handler) rateLimited(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := route + "|" + clientIPString(r, h.cfg.TrustProxy)
		ok, retry := h.limiter.Allow(key, h.now())
		if !ok {
			h.count(route, "rate_limited")
			h.log.Warn("auth.rate_limited", "route", route, "remote", clientIPString(r, h.cfg.TrustProxy))
			writeRateLimited(w, retry)
			return
		}
		next(w, r)
	}
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64(retryAfter.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}

// Reset forgets every recorded attempt.
func (l *attemptLimiter) Reset() {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.hits = make(map[string][]time.Time)
	l.mu.Unlock()
}
