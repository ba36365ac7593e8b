package authapi

import (
	"fmt"
	"net/http/httptest"
	"testing"
	"time"
)

func TestEvaluateWindowThrottle(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)

	attempts := []time.Time{
		now.Add(-6 * time.Second),
		now.Add(-2 * time.Second),
		now.Add(-1 * time.Second),
	}

	blocked, retry := evaluateWindowThrottle(now, attempts, 3, 10*time.Second)
	if !blocked {
		t.Fatalf("expected window throttle to block")
	}
	if retry != 4*time.Second {
		t.Fatalf("expected retry=4s, got %v", retry)
	}

	blocked, retry = evaluateWindowThrottle(now, attempts, 2, 5*time.Second)
	if !blocked || retry != 3*time.Second {
		t.Fatalf("expected block with retry=3s, got %v %v", blocked, retry)
	}

	blocked, retry = evaluateWindowThrottle(now, attempts, 4, 10*time.Second)
	if blocked {
		t.Fatalf("expected window throttle to allow")
	}
	if retry != 0 {
		t.Fatalf("expected retry=0, got %v", retry)
	}
}

func TestAttemptLimiter_SlidingWindow(t *testing.T) {
	l := newAttemptLimiter(5, 10*time.Second)
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		if ok, _ := l.Allow("login|1.2.3.4", now.Add(time.Duration(i)*time.Second)); !ok {
			t.Fatalf("attempt %d should pass", i+1)
		}
	}
	ok, retry := l.Allow("login|1.2.3.4", now.Add(5*time.Second))
	if ok {
		t.Fatalf("6th attempt within window must be blocked")
	}
	if retry != 5*time.Second {
		t.Fatalf("unexpected retry %v", retry)
	}

	if ok, _ := l.Allow("login|5.6.7.8", now.Add(5*time.Second)); !ok {
		t.Fatalf("other clients are independent")
	}
	if ok, _ := l.Allow("refresh|1.2.3.4", now.Add(5*time.Second)); !ok {
		t.Fatalf("other routes are independent")
	}

	if ok, _ := l.Allow("login|1.2.3.4", now.Add(10*time.Second+time.Millisecond)); !ok {
		t.Fatalf("oldest attempt left the window; expected allow")
	}
}

func TestAttemptLimiter_Sweep(t *testing.T) {
	l := newAttemptLimiter(1, time.Second)
	now := time.Now()
	for i := 0; i < 10; i++ {
		l.Allow(fmt.Sprintf("k%d", i), now)
	}
	l.sweep(now.Add(2 * time.Second))
	if len(l.hits) != 0 {
		t.Fatalf("expected empty limiter after sweep, got %d keys", len(l.hits))
	}
}

func TestWriteRateLimited(t *testing.T) {
	rr := httptest.NewRecorder()
	writeRateLimited(rr, 1500*time.Millisecond)
	if rr.Code != 429 {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After=2, got %q", got)
	}
}
