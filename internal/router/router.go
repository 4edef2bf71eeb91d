// Package router decides which model should actually serve a request.
//
// Resolution order, first applicable wins:
//   - caller-supplied override policy
//   - vision models are never substituted
//   - provider-specific substitution rules keyed on complexity and task type
//   - the quality package's prompt-only routing policy, when confident enough
//   - the requested model, unchanged
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/felipepmaragno/llm-router/internal/cost"
	"github.com/felipepmaragno/llm-router/internal/domain"
	"github.com/felipepmaragno/llm-router/internal/quality"
)

const (
	qualityThreshold     = 0.8
	minQualityConfidence = 0.8
)

// OverridePolicy may pin the model for a request. Returning ok=false defers to
// the built-in rules. Errors are logged and treated as no override.
type OverridePolicy func(ctx context.Context, requestedModel string, messages []domain.Message) (model string, ok bool, err error)

type rule struct {
	name   string
	match  func(model string, c Complexity, tasks []TaskType) bool
	target string
}

var providerRules = []rule{
	{
		name:   "gpt-4 family, simple request",
		match:  func(m string, c Complexity, _ []TaskType) bool { return strings.Contains(m, "gpt-4") && c == ComplexitySimple },
		target: "gpt-3.5-turbo",
	},
	{
		name:   "gpt-4, medium request",
		match:  func(m string, c Complexity, _ []TaskType) bool { return m == "gpt-4" && c == ComplexityMedium },
		target: "gpt-4-turbo",
	},
	{
		name:   "gpt-4 family, coding request",
		match:  func(m string, _ Complexity, t []TaskType) bool { return strings.Contains(m, "gpt-4") && hasTask(t, TaskCoding) },
		target: "claude-3-5-sonnet-20241022",
	},
	{
		name:   "claude family, simple request",
		match:  func(m string, c Complexity, _ []TaskType) bool { return strings.Contains(m, "claude") && c == ComplexitySimple },
		target: "claude-3-haiku-20240307",
	},
	{
		name: "claude opus, medium request",
		match: func(m string, c Complexity, _ []TaskType) bool {
			return strings.Contains(m, "claude") && strings.Contains(m, "opus") && c == ComplexityMedium
		},
		target: "claude-3-5-sonnet-20241022",
	},
	{
		name: "claude family, math request",
		match: func(m string, c Complexity, t []TaskType) bool {
			return strings.Contains(m, "claude") && hasTask(t, TaskMath) && c != ComplexityComplex
		},
		target: "gpt-4o",
	},
}

type Router struct {
	override  OverridePolicy
	available func(model string) bool
	logger    *slog.Logger
}

type Option func(*Router)

func WithOverridePolicy(policy OverridePolicy) Option {
	return func(r *Router) {
		r.override = policy
	}
}

// WithAvailability restricts substitutes to models for which available
// returns true, typically provider.Registry.Serves. A rule or override whose
// target is unavailable is skipped.
func WithAvailability(available func(model string) bool) Option {
	return func(r *Router) {
		r.available = available
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

func New(opts ...Option) *Router {
	r := &Router{logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SelectOptimalModel never fails: any problem resolving a substitute yields
// the requested model.
func (r *Router) SelectOptimalModel(ctx context.Context, requestedModel string, messages []domain.Message) string {
	return r.Decide(ctx, requestedModel, messages).TargetModel
}

// Decide is SelectOptimalModel with the reasoning attached.
func (r *Router) Decide(ctx context.Context, requestedModel string, messages []domain.Message) domain.RoutingDecision {
	if model, ok := r.applyOverride(ctx, requestedModel, messages); ok {
		if r.canServe(model) {
			return decision(requestedModel, model, 1, "override policy")
		}
		r.logger.Warn("override target has no provider, ignoring", "requested_model", requestedModel, "target", model)
	}

	if strings.Contains(requestedModel, "vision") {
		return decision(requestedModel, requestedModel, 1, "vision models are never routed")
	}

	complexity := AnalyzeComplexity(messages)
	tasks := DetectTaskTypes(messages)

	for _, rl := range providerRules {
		if rl.target == requestedModel || !rl.match(requestedModel, complexity, tasks) || !r.canServe(rl.target) {
			continue
		}
		return decision(requestedModel, rl.target, 0.9, fmt.Sprintf("rule %q (complexity=%s tasks=%v)", rl.name, complexity, tasks))
	}

	q := quality.ShouldRoute(requestedModel, messages, qualityThreshold)
	if q.ShouldRoute && q.Confidence > minQualityConfidence && q.TargetModel != "" && r.canServe(q.TargetModel) {
		return decision(requestedModel, q.TargetModel, q.Confidence, q.Reasoning)
	}

	return decision(requestedModel, requestedModel, 1, "no applicable rule")
}

func (r *Router) canServe(model string) bool {
	return r.available == nil || r.available(model)
}

func (r *Router) applyOverride(ctx context.Context, requestedModel string, messages []domain.Message) (model string, ok bool) {
	if r.override == nil {
		return "", false
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("routing override panicked", "requested_model", requestedModel, "panic", rec)
			model, ok = "", false
		}
	}()

	model, ok, err := r.override(ctx, requestedModel, messages)
	if err != nil {
		r.logger.Warn("routing override failed", "requested_model", requestedModel, "error", err)
		return "", false
	}
	if !ok || model == "" {
		return "", false
	}
	return model, true
}

func decision(requested, target string, confidence float64, reasoning string) domain.RoutingDecision {
	return domain.RoutingDecision{
		ShouldRoute: target != requested,
		TargetModel: target,
		Confidence:  confidence,
		Reasoning:   reasoning,
	}
}

// Savings compares the estimated cost of the requested model with the model
// the router would pick. It uses the static estimate only, never actual usage.
type Savings struct {
	OriginalModel     string  `json:"original_model"`
	OptimizedModel    string  `json:"optimized_model"`
	OriginalCost      float64 `json:"original_cost"`
	OptimizedCost     float64 `json:"optimized_cost"`
	Savings           float64 `json:"savings"`
	SavingsPercentage float64 `json:"savings_percentage"`
}

func (r *Router) CalculateSavings(ctx context.Context, requestedModel string, messages []domain.Message) Savings {
	optimized := r.SelectOptimalModel(ctx, requestedModel, messages)
	originalCost := cost.EstimateCost(requestedModel, messages)
	optimizedCost := cost.EstimateCost(optimized, messages)

	s := Savings{
		OriginalModel:  requestedModel,
		OptimizedModel: optimized,
		OriginalCost:   originalCost,
		OptimizedCost:  optimizedCost,
		Savings:        originalCost - optimizedCost,
	}
	if originalCost > 0 {
		s.SavingsPercentage = s.Savings / originalCost * 100
	}
	return s
}

// StaticOverrides pins requested models to fixed targets, typically loaded
// from the routing config file.
func StaticOverrides(overrides map[string]string) OverridePolicy {
	return func(_ context.Context, requestedModel string, _ []domain.Message) (string, bool, error) {
		target, ok := overrides[requestedModel]
		return target, ok, nil
	}
}
