// Package resilience wraps provider calls with exponential-backoff retries and
// an ordered fallback across alternative models.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/felipepmaragno/llm-router/internal/domain"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// Policy controls Retry. Zero fields take the defaults.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Sleep waits between attempts; tests replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each wait with the failed attempt index.
	OnRetry func(attempt int, err error)
}

func (p Policy) normalize() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.Sleep == nil {
		p.Sleep = SleepContext
	}
	return p
}

// Backoff is the wait after attempt i (0-based): BaseDelay * 2^i.
func (p Policy) Backoff(attempt int) time.Duration {
	return p.normalize().BaseDelay * time.Duration(1<<uint(attempt))
}

// Retry runs op up to MaxAttempts times. Client errors (status 4xx) are
// returned at once; any other error is retried after a backoff, except on the
// final attempt where it is returned as is.
func Retry[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalize()

	var zero T
	for attempt := 0; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if IsClientError(err) || attempt == p.MaxAttempts-1 {
			return zero, err
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if serr := p.Sleep(ctx, p.Backoff(attempt)); serr != nil {
			return zero, errors.Join(err, serr)
		}
	}
}

func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// StatusCode extracts the HTTP status carried by a provider error, or 0.
func StatusCode(err error) int {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	return 0
}

func IsClientError(err error) bool {
	s := StatusCode(err)
	return s >= 400 && s < 500
}

// IsRetryable reports whether err may succeed on another attempt or another
// model: no status (network failure, timeout) or a 5xx.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	s := StatusCode(err)
	return s == 0 || s >= 500
}
