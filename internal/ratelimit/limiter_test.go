package ratelimit

import (
	"strings"
	"testing"
	"time"

	"si/tools/authcalator/internal/clock"
)

func TestAcquireSingleFlight(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l := New(clk)

	d1 := l.Acquire()
	if !d1.Allowed {
		t.Fatalf("expected first acquire to be allowed, got %+v", d1)
	}
	d2 := l.Acquire()
	if d2.Allowed || !strings.Contains(d2.Reason, "already pending") {
		t.Fatalf("expected second acquire to be denied as already pending, got %+v", d2)
	}

	l.Release(ResultGranted)
	d3 := l.Acquire()
	if !d3.Allowed {
		t.Fatalf("expected acquire after release to be allowed, got %+v", d3)
	}
}

func TestReleaseDeniedStartsCooldown(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l := NewWithTunables(clk, 5*time.Second, time.Minute, 5)

	l.Acquire()
	l.Release(ResultDenied)

	d := l.Acquire()
	if d.Allowed || !strings.Contains(d.Reason, "retry in") {
		t.Fatalf("expected cooldown denial, got %+v", d)
	}

	clk.Advance(4 * time.Second)
	d = l.Acquire()
	if d.Allowed {
		t.Fatalf("expected still within cooldown, got %+v", d)
	}

	clk.Advance(2 * time.Second)
	d = l.Acquire()
	if !d.Allowed {
		t.Fatalf("expected cooldown to have elapsed, got %+v", d)
	}
}

func TestReleaseGrantedOrErrorDoesNotCooldown(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l := New(clk)

	l.Acquire()
	l.Release(ResultGranted)
	if d := l.Acquire(); !d.Allowed {
		t.Fatalf("expected no cooldown after granted release, got %+v", d)
	}
	l.Release(ResultError)
	if d := l.Acquire(); !d.Allowed {
		t.Fatalf("expected no cooldown after error release, got %+v", d)
	}
}

func TestSlidingWindowCap(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l := NewWithTunables(clk, 0, time.Minute, 3)

	for i := 0; i < 3; i++ {
		d := l.Acquire()
		if !d.Allowed {
			t.Fatalf("attempt %d: expected allowed, got %+v", i, d)
		}
		l.Release(ResultGranted)
		clk.Advance(time.Second)
	}
	d := l.Acquire()
	if d.Allowed || !strings.Contains(d.Reason, "Rate limit exceeded") {
		t.Fatalf("expected 4th attempt to be capped, got %+v", d)
	}

	clk.Advance(time.Minute)
	d = l.Acquire()
	if !d.Allowed {
		t.Fatalf("expected window to have slid past old attempts, got %+v", d)
	}
}
