package resilience

import (
	"context"
	"strings"
)

// ChainEntry maps a model-name substring to its ordered fallback models.
type ChainEntry struct {
	Match  string   `yaml:"match"`
	Models []string `yaml:"models"`
}

// ChainTable is matched in order; the first entry whose Match is a substring
// of the model wins, so more specific names must come first.
type ChainTable []ChainEntry

var DefaultChains = ChainTable{
	{Match: "gpt-4o-mini", Models: []string{"gpt-3.5-turbo"}},
	{Match: "gpt-4o", Models: []string{"gpt-4o-mini", "gpt-3.5-turbo"}},
	{Match: "gpt-4-turbo", Models: []string{"gpt-4o", "gpt-3.5-turbo"}},
	{Match: "gpt-4", Models: []string{"gpt-4-turbo", "gpt-3.5-turbo"}},
	{Match: "gpt-3.5-turbo", Models: []string{"gpt-4o-mini"}},
	{Match: "claude-3-opus", Models: []string{"claude-3-5-sonnet-20241022", "claude-3-haiku-20240307"}},
	{Match: "claude-3-5-sonnet", Models: []string{"claude-3-5-haiku-20241022", "claude-3-haiku-20240307"}},
	{Match: "claude-3-5-haiku", Models: []string{"claude-3-haiku-20240307"}},
	{Match: "claude-3-haiku", Models: []string{"claude-3-5-haiku-20241022"}},
	{Match: "gemini-1.5-pro", Models: []string{"gemini-2.0-flash", "gemini-1.5-flash"}},
	{Match: "gemini", Models: []string{"gemini-1.5-flash"}},
}

// For returns a copy of the chain for model, or nil when nothing matches.
func (t ChainTable) For(model string) []string {
	for _, e := range t {
		if strings.Contains(model, e.Match) {
			return append([]string(nil), e.Models...)
		}
	}
	return nil
}

// ChainFor looks model up in DefaultChains.
func ChainFor(model string) []string {
	return DefaultChains.For(model)
}

// ShouldFallback reports whether a terminal primary error permits trying
// other models: no status code, or a status of 500 and above.
func ShouldFallback(err error) bool {
	if err == nil {
		return false
	}
	s := StatusCode(err)
	return s == 0 || s >= 500
}

// FallbackResult is the value produced by the first model that succeeded.
type FallbackResult[T any] struct {
	Value T
	Model string
}

// Fallback tries each model of chain once, in order, bounded by
// min(len(chain), maxAttempts). Every error moves on to the next model. When
// all fail, the last error is returned; with nothing to try, primaryErr is.
func Fallback[T any](
	ctx context.Context,
	chain []string,
	maxAttempts int,
	primaryErr error,
	call func(ctx context.Context, model string) (T, error),
	onAttempt func(model string, err error),
) (FallbackResult[T], error) {
	n := min(len(chain), maxAttempts)

	lastErr := primaryErr
	for _, model := range chain[:max(n, 0)] {
		if err := ctx.Err(); err != nil {
			return FallbackResult[T]{}, err
		}

		v, err := call(ctx, model)
		if onAttempt != nil {
			onAttempt(model, err)
		}
		if err == nil {
			return FallbackResult[T]{Value: v, Model: model}, nil
		}
		lastErr = err
	}
	return FallbackResult[T]{}, lastErr
}
