// Package orchestrator drives a single LLM call through prompt optimization,
// routing, the cost ceiling, the response cache, retries with fallback, the
// quality gate and run tracking.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felipepmaragno/llm-router/internal/budget"
	"github.com/felipepmaragno/llm-router/internal/cache"
	"github.com/felipepmaragno/llm-router/internal/cost"
	"github.com/felipepmaragno/llm-router/internal/domain"
	"github.com/felipepmaragno/llm-router/internal/metrics"
	"github.com/felipepmaragno/llm-router/internal/optimize"
	"github.com/felipepmaragno/llm-router/internal/quality"
	"github.com/felipepmaragno/llm-router/internal/resilience"
	"github.com/felipepmaragno/llm-router/internal/telemetry"
)

type Result struct {
	Response   domain.Response
	Completion domain.Completion

	Provider       string
	Model          string
	RequestedModel string
	Decision       domain.RoutingDecision
	Routed         bool

	CacheHit     bool
	FellBack     bool
	Reissued     bool
	QualityScore float64

	EstimatedCost float64
	ActualCost    float64
	Savings       float64

	Latency   time.Duration
	RequestID string
}

// Orchestrator is safe for concurrent use. Its cache, breaker and optimizer
// memo are shared by all calls made through it.
type Orchestrator struct {
	opts   Options
	logger *slog.Logger

	inflight sync.WaitGroup
}

func New(opts Options) (*Orchestrator, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	return &Orchestrator{opts: opts, logger: opts.Logger}, nil
}

// Close waits for pending tracking reports or until ctx is done.
func (o *Orchestrator) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) Complete(ctx context.Context, req domain.ChatRequest, copts CallOptions) (*Result, error) {
	start := o.opts.now()

	requestID := copts.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	ctx, span := telemetry.StartSpan(ctx, "orchestrator.complete")
	defer span.End()

	if req.Model == "" || len(req.Messages) == 0 {
		err := fmt.Errorf("%w: model and messages are required", domain.ErrInvalidRequest)
		o.runOnError(ctx, req, err)
		return nil, err
	}

	requested := req.Model
	logger := o.logger.With("request_id", requestID, "requested_model", requested)

	o.runBefore(ctx, req)

	if o.opts.Optimizer != nil {
		req.Messages = optimize.Messages(ctx, o.opts.Optimizer, req.Messages, logger)
	}

	decision := o.route(ctx, requested, req.Messages, copts)
	if decision.TargetModel != requested && !o.opts.Providers.Serves(decision.TargetModel) {
		logger.Warn("routed model has no provider, keeping requested model", "target_model", decision.TargetModel)
		decision = domain.RoutingDecision{TargetModel: requested, Confidence: 1, Reasoning: "routed model has no provider"}
	}
	resolved := decision.TargetModel
	routed := resolved != requested
	metrics.RecordRouting(requested, resolved, routed)
	telemetry.AddRoutingAttributes(span, routed, decision.Confidence, decision.Reasoning)

	limit := o.opts.CostLimit
	if copts.CostLimit > 0 {
		limit = copts.CostLimit
	}
	estimated, err := budget.CheckCost(resolved, req.Messages, limit)
	if err != nil {
		logger.Warn("call rejected by cost limit", "model", resolved, "estimated_usd", estimated, "limit_usd", limit)
		telemetry.AddErrorAttribute(span, err)
		o.runOnError(ctx, req, err)
		return nil, err
	}

	providerID := o.opts.Providers.IDFor(resolved)
	telemetry.AddRequestAttributes(span, providerID, resolved, requested, requestID)

	useCache := !o.opts.DisableCache && !copts.SkipCache
	if useCache {
		key := cache.GenerateCacheKey(providerID, req.WithModel(resolved))
		if resp, ok := o.opts.Cache.Get(ctx, key); ok {
			telemetry.AddCacheAttribute(span, true)
			logger.Debug("cache hit", "model", resolved)
			return &Result{
				Response:       resp,
				Completion:     resp.Canonical(),
				Provider:       providerID,
				Model:          resolved,
				RequestedModel: requested,
				Decision:       decision,
				Routed:         routed,
				CacheHit:       true,
				EstimatedCost:  estimated,
				Latency:        o.opts.now().Sub(start),
				RequestID:      requestID,
			}, nil
		}
		telemetry.AddCacheAttribute(span, false)
	}

	if _, err := o.opts.Providers.For(resolved); err != nil {
		telemetry.AddErrorAttribute(span, err)
		o.runOnError(ctx, req, err)
		return nil, err
	}

	call, err := o.call(ctx, req, resolved, logger)
	if err != nil {
		o.fail(ctx, req, requested, resolved, requestID, copts.CorrelationID, start, err, logger)
		return nil, err
	}

	result := &Result{
		Response:       call.resp,
		Provider:       call.provider,
		Model:          call.model,
		RequestedModel: requested,
		Decision:       decision,
		Routed:         routed,
		FellBack:       call.model != resolved,
		EstimatedCost:  estimated,
		RequestID:      requestID,
	}

	if routed {
		o.qualityGate(ctx, req, result, copts, logger)
		telemetry.AddQualityAttribute(span, result.QualityScore)
	}

	result.Completion = result.Response.Canonical()

	if useCache {
		key := cache.GenerateCacheKey(o.opts.Providers.IDFor(result.Model), req.WithModel(result.Model))
		if err := o.opts.Cache.Set(ctx, key, result.Response, o.opts.CacheTTL); err != nil {
			logger.Warn("cache set failed", "error", err)
		}
	}

	if routed && result.Model != requested {
		result.Savings = cost.EstimateCost(requested, req.Messages) - cost.EstimateCost(result.Model, req.Messages)
	}
	result.ActualCost = o.opts.Calculator.Calculate(result.Model, result.Completion)
	result.Latency = o.opts.now().Sub(start)

	metrics.RecordRequest(result.Provider, result.Model, "success", result.Latency.Seconds())
	metrics.RecordTokens(result.Provider, result.Model, result.Completion.InputTokens, result.Completion.OutputTokens)
	metrics.RecordCost(result.Provider, result.Model, result.ActualCost)
	metrics.RecordSavings(requested, result.Model, result.Savings)
	telemetry.AddTokenAttributes(span, result.Completion.InputTokens, result.Completion.OutputTokens)
	telemetry.AddCostAttributes(span, estimated, result.Savings)

	if o.opts.Spend != nil {
		o.opts.Spend.Record(ctx, result.ActualCost)
	}

	logger.Info("call completed",
		"provider", result.Provider,
		"model", result.Model,
		"routed", routed,
		"reissued", result.Reissued,
		"latency_ms", result.Latency.Milliseconds(),
	)

	o.track(ctx, domain.RunRecord{
		Provider:       result.Provider,
		Model:          result.Model,
		RequestedModel: requested,
		Input:          lastUserContent(req.Messages),
		Output:         result.Completion.Text,
		TokensUsed:     result.Completion.TotalTokens(),
		InputTokens:    result.Completion.InputTokens,
		OutputTokens:   result.Completion.OutputTokens,
		LatencyMs:      result.Latency.Milliseconds(),
		Success:        true,
		Savings:        result.Savings,
		RequestID:      requestID,
		CorrelationID:  copts.CorrelationID,
	})

	o.runAfter(ctx, req, result)
	return result, nil
}

func (o *Orchestrator) route(ctx context.Context, requested string, messages []domain.Message, copts CallOptions) domain.RoutingDecision {
	if o.opts.DisableRouting || copts.SkipRouting {
		return domain.RoutingDecision{TargetModel: requested, Confidence: 1, Reasoning: "routing disabled"}
	}

	ctx, span := telemetry.StartSpan(ctx, "router.decide")
	defer span.End()
	return o.opts.Router.Decide(ctx, requested, messages)
}

type callResult struct {
	resp     domain.Response
	provider string
	model    string
}

// call retries the primary model, then walks its fallback chain with one
// attempt per model.
func (o *Orchestrator) call(ctx context.Context, req domain.ChatRequest, model string, logger *slog.Logger) (callResult, error) {
	policy := resilience.Policy{
		MaxAttempts: o.opts.MaxRetries,
		BaseDelay:   o.opts.RetryBaseDelay,
		Sleep:       o.opts.sleep,
		OnRetry: func(attempt int, err error) {
			metrics.RecordRetry(model)
			logger.Warn("provider call failed, retrying", "model", model, "attempt", attempt+1, "error", err)
		},
	}

	res, err := resilience.Retry(ctx, policy, func(ctx context.Context) (callResult, error) {
		return o.callOnce(ctx, req, model)
	})
	if err == nil {
		return res, nil
	}

	if o.opts.DisableFallback || !resilience.ShouldFallback(err) || ctx.Err() != nil {
		return callResult{}, err
	}

	chain := o.opts.FallbackChains.For(model)
	fb, err := resilience.Fallback(ctx, chain, o.opts.MaxRetries, err,
		func(ctx context.Context, m string) (callResult, error) {
			return o.callOnce(ctx, req, m)
		},
		func(m string, err error) {
			metrics.RecordFallback(m, err == nil)
			if err != nil {
				logger.Warn("fallback model failed", "model", m, "error", err)
			} else {
				logger.Info("fallback model succeeded", "model", m)
			}
		},
	)
	if err != nil {
		return callResult{}, err
	}
	return fb.Value, nil
}

func (o *Orchestrator) callOnce(ctx context.Context, req domain.ChatRequest, model string) (callResult, error) {
	p, err := o.opts.Providers.For(model)
	if err != nil {
		return callResult{}, err
	}

	ctx, span := telemetry.StartSpan(ctx, "provider.create")
	defer span.End()

	resp, err := p.Create(ctx, req.WithModel(model))
	if err != nil {
		telemetry.AddErrorAttribute(span, err)
		metrics.RecordProviderError(p.ID(), errorType(err))
		return callResult{}, err
	}
	return callResult{resp: resp, provider: p.ID(), model: model}, nil
}

// qualityGate scores a routed response and, below the threshold, replaces it
// with one call to the requested model. A failed re-issue keeps the routed
// response.
func (o *Orchestrator) qualityGate(ctx context.Context, req domain.ChatRequest, result *Result, copts CallOptions, logger *slog.Logger) {
	text := result.Response.Canonical().Text
	score := o.score(ctx, text, req.Messages, copts, logger)
	result.QualityScore = score
	metrics.RecordQualityScore(result.Model, score)

	if score >= QualityGateThreshold {
		return
	}

	logger.Info("routed response below quality threshold, re-issuing",
		"model", result.Model,
		"score", score,
	)
	metrics.RecordQualityReissue(result.RequestedModel, result.Model)

	res, err := o.callOnce(ctx, req, result.RequestedModel)
	if err != nil {
		logger.Warn("quality re-issue failed, keeping routed response", "error", err)
		return
	}

	result.Response = res.resp
	result.Provider = res.provider
	result.Model = res.model
	result.FellBack = false
	result.Reissued = true
}

func (o *Orchestrator) score(ctx context.Context, text string, messages []domain.Message, copts CallOptions, logger *slog.Logger) float64 {
	validator := o.opts.Validator
	if copts.Validator != nil {
		validator = copts.Validator
	}

	if validator != nil {
		promptJSON, err := json.Marshal(messages)
		if err == nil {
			score, verr := validator(ctx, text, string(promptJSON))
			if verr == nil {
				return score
			}
			err = verr
		}
		logger.Warn("quality validator failed, using default scorer", "error", err)
	}

	return quality.AnalyzeResponse(text, promptText(messages)).QualityScore
}

func (o *Orchestrator) fail(ctx context.Context, req domain.ChatRequest, requested, model, requestID, correlationID string, start time.Time, callErr error, logger *slog.Logger) {
	latency := o.opts.now().Sub(start)
	providerID := ""
	var pe *domain.ProviderError
	if errors.As(callErr, &pe) {
		providerID = pe.Provider
	}

	metrics.RecordRequest(providerID, model, "error", latency.Seconds())
	logger.Error("call failed", "model", model, "latency_ms", latency.Milliseconds(), "error", callErr)

	o.track(ctx, domain.RunRecord{
		Provider:       providerID,
		Model:          model,
		RequestedModel: requested,
		Input:          lastUserContent(req.Messages),
		LatencyMs:      latency.Milliseconds(),
		Success:        false,
		Error:          callErr.Error(),
		RequestID:      requestID,
		CorrelationID:  correlationID,
	})

	o.runOnError(ctx, req, callErr)
}

// track reports rec in the background. The caller's cancellation does not
// cut the report short; the tracker bounds it with its own timeout.
func (o *Orchestrator) track(ctx context.Context, rec domain.RunRecord) {
	if !o.opts.Tracker.Enabled() {
		return
	}

	bg := context.WithoutCancel(ctx)
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()

		bg, span := telemetry.StartSpan(bg, "tracking.send")
		defer span.End()

		if err := o.opts.Tracker.Track(bg, rec); err != nil {
			o.logger.Debug("run not tracked", "request_id", rec.RequestID, "error", err)
		}
	}()
}

func errorType(err error) string {
	switch status := resilience.StatusCode(err); {
	case status == 0:
		return "network"
	case status >= 500:
		return "server"
	case status == 429:
		return "rate_limited"
	default:
		return "client"
	}
}

func promptText(messages []domain.Message) string {
	var parts []string
	for _, m := range messages {
		if m.Role == domain.RoleUser {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n")
}

func lastUserContent(messages []domain.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == domain.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
