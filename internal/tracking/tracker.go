// Package tracking reports run records to an analytics side channel. Tracking
// never fails a call: every outcome is absorbed, logged and counted.
package tracking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felipepmaragno/llm-router/internal/circuitbreaker"
	"github.com/felipepmaragno/llm-router/internal/domain"
	"github.com/felipepmaragno/llm-router/internal/metrics"
	"github.com/felipepmaragno/llm-router/internal/notifications"
)

const DefaultTimeout = 5 * time.Second

// ErrUnauthorized is returned by sinks whose credential was rejected. It
// disables the tracker for the rest of the process.
var ErrUnauthorized = errors.New("tracking credential rejected")

type Sink interface {
	Send(ctx context.Context, rec domain.RunRecord) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec domain.RunRecord) error

func (f SinkFunc) Send(ctx context.Context, rec domain.RunRecord) error {
	return f(ctx, rec)
}

type Tracker struct {
	sink        Sink
	breaker     circuitbreaker.CircuitBreaker
	notifier    notifications.Notifier
	logger      *slog.Logger
	timeout     time.Duration
	disabled    atomic.Bool
	disableOnce sync.Once
}

type Option func(*Tracker)

func WithBreaker(cb circuitbreaker.CircuitBreaker) Option {
	return func(t *Tracker) {
		t.breaker = cb
	}
}

func WithNotifier(n notifications.Notifier) Option {
	return func(t *Tracker) {
		t.notifier = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

func WithTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// New returns a tracker for sink. A nil sink is instant mode: tracking is
// disabled from the start and Track is a no-op.
func New(sink Sink, opts ...Option) *Tracker {
	t := &Tracker{
		sink:    sink,
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.breaker == nil {
		t.breaker = circuitbreaker.New(circuitbreaker.DefaultConfig())
	}
	if sink == nil {
		t.disabled.Store(true)
	}
	return t
}

func (t *Tracker) Enabled() bool {
	return !t.disabled.Load()
}

// Track sends rec through the breaker with a bounded timeout. The returned
// error describes what happened for logging and tests; callers never need to
// act on it.
func (t *Tracker) Track(ctx context.Context, rec domain.RunRecord) error {
	if t.disabled.Load() {
		metrics.RecordTracking("disabled")
		return domain.ErrTrackingDisabled
	}

	if err := t.breaker.Allow(ctx); err != nil {
		metrics.RecordTracking("skipped")
		return err
	}

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	sendCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	err := t.sink.Send(sendCtx, rec)
	switch {
	case err == nil:
		t.breaker.RecordSuccess(ctx)
		metrics.RecordTracking("sent")
		return nil

	case errors.Is(err, ErrUnauthorized):
		t.disable(ctx, err)
		metrics.RecordTracking("disabled")
		return err

	default:
		wasOpen := t.breaker.State(ctx) == circuitbreaker.StateOpen
		t.breaker.RecordFailure(ctx)
		metrics.RecordTracking("failed")
		t.logger.Warn("tracking failed", "request_id", rec.RequestID, "error", err)

		if !wasOpen && t.breaker.State(ctx) == circuitbreaker.StateOpen {
			t.logger.Warn("tracking circuit opened")
			t.notify(ctx, notifications.Notification{
				Type:    notifications.NotificationCircuitOpen,
				Message: "tracking suspended after repeated failures",
				Data:    map[string]any{"last_error": err.Error()},
			})
		}
		return err
	}
}

func (t *Tracker) disable(ctx context.Context, cause error) {
	t.disabled.Store(true)
	t.disableOnce.Do(func() {
		t.logger.Error("tracking disabled for this process, credential rejected", "error", cause)
		t.notify(ctx, notifications.Notification{
			Type:    notifications.NotificationTrackingDisabled,
			Message: "tracking credential rejected, tracking disabled",
			Data:    map[string]any{"error": cause.Error()},
		})
	})
}

func (t *Tracker) notify(ctx context.Context, n notifications.Notification) {
	if t.notifier == nil {
		return
	}
	if err := t.notifier.Send(ctx, n); err != nil {
		t.logger.Warn("failed to send notification", "type", n.Type, "error", err)
	}
}
