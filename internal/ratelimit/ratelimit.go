// Package ratelimit provides per-tenant fixed-window rate limiting for
// event ingestion. Counts live in a CounterStore so multiple server
// instances can share one limit; the in-memory store is the single-node
// implementation.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// CounterStore is the shared counter collaborator. Increments for the
// same key are atomic and commutative.
type CounterStore interface {
	// Get returns the current value for key, or zero if absent.
	Get(ctx context.Context, key string) (int64, error)
	// Incr atomically adds n to key and sets its expiry. Expiry is
	// refreshed on every call.
	Incr(ctx context.Context, key string, n int64, expiry time.Duration) error
}

// Result describes the rate-limit state for one check.
type Result struct {
	// Limit is the tenant's window limit.
	Limit int `json:"limit"`
	// Remaining is how many events fit in the active window.
	Remaining int `json:"remaining"`
	// Reset is when the active window ends.
	Reset time.Time `json:"reset_time"`
	// WindowSeconds is the window size.
	WindowSeconds int `json:"window_size_seconds"`
	// Exceeded reports whether admitting the request would cross the limit.
	Exceeded bool `json:"exceeded"`
}

const (
	// DefaultLimit applies when a tenant carries no quota of its own.
	DefaultLimit = 1000
	// DefaultWindow is the counting window size.
	DefaultWindow = 60 * time.Second
)

// Limiter implements fixed-window counting over a CounterStore.
type Limiter struct {
	store  CounterStore
	window time.Duration

	// now is injectable for tests.
	now func() time.Time
}

// New creates a limiter with the given store. A zero window defaults to
// one minute.
func New(store CounterStore, window time.Duration) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		store:  store,
		window: window,
		now:    time.Now,
	}
}

// key builds the counter key for the tenant's active window.
func (l *Limiter) key(tenantID string, now time.Time) string {
	bucket := now.Unix() / int64(l.window.Seconds())
	return fmt.Sprintf("rate:%s:%d", tenantID, bucket)
}

// Check reads the active window and reports whether admitting n more
// events would exceed the tenant's limit. If the counter store is
// unreachable, Check fails open: ingestion availability wins over
// strict enforcement.
func (l *Limiter) Check(ctx context.Context, tenantID string, limit, n int) Result {
	if limit <= 0 {
		limit = DefaultLimit
	}
	windowSecs := int(l.window.Seconds())
	now := l.now()
	bucket := now.Unix() / int64(windowSecs)
	reset := time.Unix((bucket+1)*int64(windowSecs), 0).UTC()

	count, err := l.store.Get(ctx, l.key(tenantID, now))
	if err != nil {
		log.Printf("rate limit check failed for tenant %s, failing open: %v", tenantID, err)
		return Result{
			Limit:         limit,
			Remaining:     limit,
			Reset:         now.Add(l.window).UTC(),
			WindowSeconds: windowSecs,
			Exceeded:      false,
		}
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Limit:         limit,
		Remaining:     remaining,
		Reset:         reset,
		WindowSeconds: windowSecs,
		Exceeded:      int(count)+n > limit,
	}
}

// Increment adds n to the tenant's active window. The counter expires
// after two windows so stale buckets are reclaimed. Store errors are
// logged, not returned: a missed increment must not fail ingestion.
func (l *Limiter) Increment(ctx context.Context, tenantID string, n int) {
	now := l.now()
	if err := l.store.Incr(ctx, l.key(tenantID, now), int64(n), 2*l.window); err != nil {
		log.Printf("rate limit increment failed for tenant %s: %v", tenantID, err)
	}
}

// memoryCounter is one expiring counter value.
type memoryCounter struct {
	value     int64
	expiresAt time.Time
}

// MemoryStore is an in-process CounterStore. Expired keys are dropped
// lazily on access and by a periodic sweep.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
	now      func() time.Time
}

// NewMemoryStore creates an in-memory counter store and starts its
// background sweep.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		counters: make(map[string]*memoryCounter),
		now:      time.Now,
	}
	go s.sweepLoop()
	return s
}

// Get returns the counter value, treating expired keys as absent.
func (s *MemoryStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || s.now().After(c.expiresAt) {
		delete(s.counters, key)
		return 0, nil
	}
	return c.value, nil
}

// Incr atomically adds n to key and refreshes its expiry.
func (s *MemoryStore) Incr(_ context.Context, key string, n int64, expiry time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || s.now().After(c.expiresAt) {
		c = &memoryCounter{}
		s.counters[key] = c
	}
	c.value += n
	c.expiresAt = s.now().Add(expiry)
	return nil
}

// sweepLoop periodically removes expired counters.
func (s *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		s.sweep()
	}
}

// sweep removes expired counters.
func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, c := range s.counters {
		if now.After(c.expiresAt) {
			delete(s.counters, key)
		}
	}
}
