// Package notifier provides notification dispatching for triggered alerts.
package notifier

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pulsestream/pulsestream/internal/metrics"
	"github.com/pulsestream/pulsestream/internal/models"
)

// Notifier is the interface for all notification channels.
type Notifier interface {
	// Name returns the channel name (e.g., "email", "slack", "webhook").
	Name() string
	// Send delivers one alert notification.
	Send(ctx context.Context, alert *models.Alert, rule *models.AlertRule) error
	// Close releases any resources.
	Close() error
}

// SendTimeout bounds each channel's delivery attempt.
const SendTimeout = 30 * time.Second

// ErrRateLimited is returned when a dispatch is dropped by the global
// notification rate limiter.
var ErrRateLimited = fmt.Errorf("notification rate limited")

// Dispatcher routes a triggered alert to its rule's notification
// channels. Channel attempts are isolated: one channel failing never
// prevents or cancels the others, and there is no retry.
type Dispatcher struct {
	mu          sync.RWMutex
	notifiers   map[string]Notifier
	rateLimiter *RateLimiter
	now         func() time.Time
}

// NewDispatcher creates a dispatcher with default rate limiting.
func NewDispatcher() *Dispatcher {
	return NewDispatcherWithRateLimit(DefaultRateLimitConfig())
}

// NewDispatcherWithRateLimit creates a dispatcher with a custom rate
// limit configuration.
func NewDispatcherWithRateLimit(config RateLimitConfig) *Dispatcher {
	return &Dispatcher{
		notifiers:   make(map[string]Notifier),
		rateLimiter: NewRateLimiter(config),
		now:         time.Now,
	}
}

// Register adds a notifier under its channel name.
func (d *Dispatcher) Register(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers[n.Name()] = n
}

// Unregister removes a notifier.
func (d *Dispatcher) Unregister(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.notifiers, name)
}

// Get returns a notifier by channel name.
func (d *Dispatcher) Get(name string) (Notifier, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.notifiers[name]
	return n, ok
}

// sendOutcome is one channel's delivery result.
type sendOutcome struct {
	channel string
	err     error
}

// Dispatch fans the alert out to every channel the rule names,
// concurrently. Each outcome is appended to the alert's notification
// log; unknown channel names are logged and skipped. Returns
// ErrRateLimited when the global limiter drops the dispatch, otherwise
// an aggregate of channel failures (nil when all deliveries succeed).
func (d *Dispatcher) Dispatch(ctx context.Context, alert *models.Alert, rule *models.AlertRule) error {
	channels := rule.NotificationChannels()
	if len(channels) == 0 {
		return nil
	}

	if d.rateLimiter != nil && !d.rateLimiter.Allow() {
		metrics.NotificationsDropped.Inc()
		return ErrRateLimited
	}

	d.mu.RLock()
	targets := make(map[string]Notifier, len(channels))
	for _, name := range channels {
		n, ok := d.notifiers[name]
		if !ok {
			log.Printf("no notifier registered for channel %q, skipping", name)
			continue
		}
		targets[name] = n
	}
	d.mu.RUnlock()

	outcomes := make([]sendOutcome, 0, len(targets))
	var outMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for name, n := range targets {
		name, n := name, n
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(gctx, SendTimeout)
			defer cancel()
			err := n.Send(sendCtx, alert, rule)
			outMu.Lock()
			outcomes = append(outcomes, sendOutcome{channel: name, err: err})
			outMu.Unlock()
			// Failures are collected, never returned: returning one
			// would cancel sibling sends through the group context.
			return nil
		})
	}
	g.Wait()

	now := d.now().UTC()
	var errs []error
	succeeded := 0
	for _, out := range outcomes {
		if out.err != nil {
			alert.RecordNotification(out.channel, false, map[string]any{"error": out.err.Error()}, now)
			metrics.NotificationsFailed.WithLabelValues(out.channel).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", out.channel, out.err))
			continue
		}
		alert.RecordNotification(out.channel, true, nil, now)
		metrics.NotificationsSent.WithLabelValues(out.channel).Inc()
		succeeded++
	}

	// Refund the limiter slot when nothing was delivered, so a broken
	// channel does not starve later dispatches.
	if succeeded == 0 && d.rateLimiter != nil {
		d.rateLimiter.Release()
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %v", errs)
	}
	return nil
}

// RateLimitStats returns the rate limiter statistics.
func (d *Dispatcher) RateLimitStats() RateLimitStats {
	if d.rateLimiter == nil {
		return RateLimitStats{}
	}
	return d.rateLimiter.Stats()
}

// Close closes all registered notifiers.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for name, n := range d.notifiers {
		if err := n.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	d.notifiers = make(map[string]Notifier)

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
