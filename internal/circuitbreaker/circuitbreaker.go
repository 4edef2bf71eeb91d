// Package circuitbreaker guards unreliable side channels (run tracking) with a
// consecutive-failure count and a time window.
//
// States:
//   - Closed: fewer than FailureThreshold consecutive failures
//   - Open: threshold reached and the last failure is within Timeout, calls are skipped
//   - Half-Open: threshold reached but Timeout has elapsed, calls are let through
//
// Any success resets the count. A failure while half-open stamps a new failure
// time and reopens the circuit.
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/felipepmaragno/llm-router/internal/domain"
	"github.com/felipepmaragno/llm-router/internal/metrics"
)

type CircuitBreaker interface {
	// Allow returns nil if a call may proceed, ErrCircuitBreakerOpen otherwise.
	Allow(ctx context.Context) error
	RecordSuccess(ctx context.Context)
	RecordFailure(ctx context.Context)
	State(ctx context.Context) State
}

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Config struct {
	Name             string        // metrics label
	FailureThreshold int           // consecutive failures before opening
	Timeout          time.Duration // how long the circuit stays open after the last failure
}

func DefaultConfig() Config {
	return Config{
		Name:             "tracking",
		FailureThreshold: 5,
		Timeout:          60 * time.Second,
	}
}

type InMemoryCircuitBreaker struct {
	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	config      Config
	now         func() time.Time
}

type Option func(*InMemoryCircuitBreaker)

func WithClock(now func() time.Time) Option {
	return func(cb *InMemoryCircuitBreaker) {
		cb.now = now
	}
}

func New(cfg Config, opts ...Option) *InMemoryCircuitBreaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Name == "" {
		cfg.Name = def.Name
	}

	cb := &InMemoryCircuitBreaker{config: cfg, now: time.Now}
	for _, opt := range opts {
		opt(cb)
	}
	metrics.SetCircuitBreakerState(cfg.Name, int(StateClosed))
	return cb
}

func (cb *InMemoryCircuitBreaker) Allow(ctx context.Context) error {
	if cb.State(ctx) == StateOpen {
		return domain.ErrCircuitBreakerOpen
	}
	return nil
}

func (cb *InMemoryCircuitBreaker) RecordSuccess(ctx context.Context) {
	cb.mu.Lock()
	cb.failures = 0
	cb.mu.Unlock()

	metrics.SetCircuitBreakerState(cb.config.Name, int(StateClosed))
}

func (cb *InMemoryCircuitBreaker) RecordFailure(ctx context.Context) {
	cb.mu.Lock()
	cb.failures++
	cb.lastFailure = cb.now()
	state := cb.stateLocked()
	cb.mu.Unlock()

	metrics.SetCircuitBreakerState(cb.config.Name, int(state))
}

func (cb *InMemoryCircuitBreaker) State(ctx context.Context) State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

func (cb *InMemoryCircuitBreaker) stateLocked() State {
	switch {
	case cb.failures < cb.config.FailureThreshold:
		return StateClosed
	case cb.now().Sub(cb.lastFailure) < cb.config.Timeout:
		return StateOpen
	default:
		return StateHalfOpen
	}
}

func (cb *InMemoryCircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}
