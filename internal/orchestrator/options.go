package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/felipepmaragno/llm-router/internal/budget"
	"github.com/felipepmaragno/llm-router/internal/cache"
	"github.com/felipepmaragno/llm-router/internal/cost"
	"github.com/felipepmaragno/llm-router/internal/optimize"
	"github.com/felipepmaragno/llm-router/internal/provider"
	"github.com/felipepmaragno/llm-router/internal/resilience"
	"github.com/felipepmaragno/llm-router/internal/router"
	"github.com/felipepmaragno/llm-router/internal/tracking"
)

// QualityGateThreshold is the score below which a routed response is
// discarded and the requested model is called instead.
const QualityGateThreshold = 0.7

// Validator scores a response between 0 and 1. promptMessagesJSON is the JSON
// encoding of the messages that were sent.
type Validator func(ctx context.Context, responseText, promptMessagesJSON string) (float64, error)

// Options configures an Orchestrator. Only Providers is required; every other
// field has a default applied once by New.
type Options struct {
	Providers *provider.Registry

	// Router defaults to router.New() with no override policy, limited to
	// models Providers can serve.
	Router         *router.Router
	DisableRouting bool

	// Cache defaults to an in-process cache with DefaultMaxEntries.
	Cache        cache.Cache
	CacheTTL     time.Duration
	DisableCache bool

	// CostLimit rejects calls whose estimated cost exceeds it. Zero disables.
	CostLimit float64

	// MaxRetries bounds attempts on the primary model and the number of
	// fallback models tried. Defaults to 3.
	MaxRetries      int
	RetryBaseDelay  time.Duration
	FallbackChains  resilience.ChainTable
	DisableFallback bool

	Optimizer optimize.Optimizer
	Validator Validator

	// Tracker defaults to a disabled tracker (instant mode).
	Tracker    *tracking.Tracker
	Spend      *budget.Monitor
	Calculator *cost.Calculator

	// Hooks may implement any of BeforeHook, AfterHook and ErrorHook.
	Hooks []any

	Logger *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func (o Options) normalize() (Options, error) {
	if o.Providers == nil {
		return o, errors.New("orchestrator: providers registry is required")
	}
	if o.CostLimit < 0 {
		return o, errors.New("orchestrator: cost limit must not be negative")
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Router == nil {
		o.Router = router.New(router.WithLogger(o.Logger), router.WithAvailability(o.Providers.Serves))
	}
	if o.Cache == nil {
		o.Cache = cache.NewLayered(cache.NewInMemoryCache(), nil, o.Logger)
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = cache.DefaultTTL
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = resilience.DefaultMaxAttempts
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = resilience.DefaultBaseDelay
	}
	if o.FallbackChains == nil {
		o.FallbackChains = resilience.DefaultChains
	}
	if o.Tracker == nil {
		o.Tracker = tracking.New(nil, tracking.WithLogger(o.Logger))
	}
	if o.Calculator == nil {
		o.Calculator = cost.NewCalculator()
	}
	if o.sleep == nil {
		o.sleep = resilience.SleepContext
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// CallOptions adjusts a single Complete call.
type CallOptions struct {
	RequestID     string
	CorrelationID string
	// CostLimit, when positive, replaces Options.CostLimit for this call.
	CostLimit float64
	// Validator, when set, replaces Options.Validator for this call.
	Validator   Validator
	SkipRouting bool
	SkipCache   bool
}
