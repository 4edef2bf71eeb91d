package domain

import (
	"errors"
	"fmt"
)

var (
	ErrCostLimitExceeded  = errors.New("cost limit exceeded")
	ErrProviderNotFound   = errors.New("provider not found")
	ErrProviderError      = errors.New("provider error")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")
	ErrTrackingDisabled   = errors.New("tracking disabled")
)

// ProviderError is returned by provider adapters. StatusCode is zero when the
// failure happened before an HTTP response was received (network errors, timeouts).
type ProviderError struct {
	Provider   string
	Model      string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s error: model=%s status=%d: %s", e.Provider, e.Model, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s error: model=%s: %s", e.Provider, e.Model, msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Is(target error) bool {
	return target == ErrProviderError
}

// CostLimitError reports a call rejected before any network activity because its
// estimated cost is above the configured ceiling.
type CostLimitError struct {
	Model     string
	Estimated float64
	Limit     float64
}

func (e *CostLimitError) Error() string {
	return fmt.Sprintf("estimated cost $%.6f for model %s exceeds limit $%.6f", e.Estimated, e.Model, e.Limit)
}

func (e *CostLimitError) Is(target error) bool {
	return target == ErrCostLimitExceeded
}
