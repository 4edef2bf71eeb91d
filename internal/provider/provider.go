// Package provider resolves which upstream API serves a model and defines the
// contract every adapter satisfies.
package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/felipepmaragno/llm-router/internal/domain"
)

type Provider interface {
	ID() string
	Create(ctx context.Context, req domain.ChatRequest) (domain.Response, error)
}

// Func adapts a plain function to Provider. Handy in tests.
type Func struct {
	Name string
	Fn   func(ctx context.Context, req domain.ChatRequest) (domain.Response, error)
}

func (f Func) ID() string { return f.Name }

func (f Func) Create(ctx context.Context, req domain.ChatRequest) (domain.Response, error) {
	return f.Fn(ctx, req)
}

type Registry struct {
	providers       map[string]Provider
	defaultProvider string
	claudeProvider  string
}

type RegistryOption func(*Registry)

// WithClaudeOn sends claude-* models to the named provider instead of
// "anthropic" (e.g. "bedrock").
func WithClaudeOn(id string) RegistryOption {
	return func(r *Registry) {
		r.claudeProvider = id
	}
}

func NewRegistry(providers map[string]Provider, defaultProvider string, opts ...RegistryOption) *Registry {
	r := &Registry{
		providers:       providers,
		defaultProvider: defaultProvider,
		claudeProvider:  "anthropic",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// For returns the provider serving model. A model of a known family (gpt, o1,
// o3, claude, gemini) is only served by that family's provider. Other models
// go to the default provider, then to any registered provider.
func (r *Registry) For(model string) (Provider, error) {
	family, known := r.familyOf(model)
	if p, ok := r.providers[family]; ok {
		return p, nil
	}
	if known {
		return nil, fmt.Errorf("%w: %s has no registered %s provider", domain.ErrProviderNotFound, model, family)
	}

	if p, ok := r.providers[r.defaultProvider]; ok {
		return p, nil
	}

	ids := r.ListProviders()
	if len(ids) > 0 {
		return r.providers[ids[0]], nil
	}

	return nil, domain.ErrProviderNotFound
}

// Serves reports whether For(model) resolves a provider.
func (r *Registry) Serves(model string) bool {
	_, err := r.For(model)
	return err == nil
}

// IDFor names the provider For would pick for model without requiring it to
// be registered. Known families map to their provider ID.
func (r *Registry) IDFor(model string) string {
	family, known := r.familyOf(model)
	if _, ok := r.providers[family]; ok || known {
		return family
	}
	if ids := r.ListProviders(); len(ids) > 0 {
		return ids[0]
	}
	return family
}

func (r *Registry) familyOf(model string) (id string, known bool) {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gpt-"), strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"):
		return "openai", true
	case strings.HasPrefix(m, "claude"):
		return r.claudeProvider, true
	case strings.HasPrefix(m, "gemini"):
		return "google", true
	default:
		return r.defaultProvider, false
	}
}

func (r *Registry) ListProviders() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
