package notifier

import (
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{
		MaxPerWindow: 3,
		Window:       time.Minute,
		Enabled:      true,
	})

	for i := 0; i < 3; i++ {
		if !limiter.Allow() {
			t.Fatalf("dispatch %d should be allowed", i+1)
		}
	}
	if limiter.Allow() {
		t.Error("dispatch over the limit should be dropped")
	}
	if got := limiter.Dropped(); got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{
		MaxPerWindow: 1,
		Window:       time.Minute,
		Enabled:      false,
	})

	for i := 0; i < 10; i++ {
		if !limiter.Allow() {
			t.Fatal("disabled limiter must always allow")
		}
	}
	if stats := limiter.Stats(); stats.CurrentCount != 0 {
		t.Errorf("disabled limiter should track nothing, got %d", stats.CurrentCount)
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{
		MaxPerWindow: 2,
		Window:       50 * time.Millisecond,
		Enabled:      true,
	})

	limiter.Allow()
	limiter.Allow()
	if limiter.Allow() {
		t.Fatal("third dispatch inside window should be dropped")
	}

	time.Sleep(60 * time.Millisecond)
	if !limiter.Allow() {
		t.Error("dispatch after the window slid should be allowed")
	}
}

func TestRateLimiterRelease(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{
		MaxPerWindow: 1,
		Window:       time.Minute,
		Enabled:      true,
	})

	if !limiter.Allow() {
		t.Fatal("first dispatch should be allowed")
	}
	limiter.Release()
	if !limiter.Allow() {
		t.Error("released slot should be reusable")
	}
}

func TestRateLimiterDefaults(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{Enabled: true})
	stats := limiter.Stats()
	if stats.MaxPerWindow != 10 {
		t.Errorf("max per window = %d, want default 10", stats.MaxPerWindow)
	}
	if stats.Window != time.Minute {
		t.Errorf("window = %v, want default 1m", stats.Window)
	}
}

func TestRateLimiterReset(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{
		MaxPerWindow: 1,
		Window:       time.Minute,
		Enabled:      true,
	})

	limiter.Allow()
	limiter.Allow() // dropped
	limiter.Reset()

	stats := limiter.Stats()
	if stats.CurrentCount != 0 || stats.Dropped != 0 {
		t.Errorf("stats after reset = %+v, want cleared", stats)
	}
	if !limiter.Allow() {
		t.Error("dispatch after reset should be allowed")
	}
}
