package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felipepmaragno/llm-router/internal/cache"
	"github.com/felipepmaragno/llm-router/internal/circuitbreaker"
	"github.com/felipepmaragno/llm-router/internal/domain"
	"github.com/felipepmaragno/llm-router/internal/provider"
	"github.com/felipepmaragno/llm-router/internal/router"
	"github.com/felipepmaragno/llm-router/internal/tracking"
)

// fakeProvider answers with an OpenAI-shaped response unless a scripted
// error is queued for the model.
type fakeProvider struct {
	id string

	mu     sync.Mutex
	calls  []string
	errs   map[string][]error
	always map[string]error
	shape  domain.Shape
}

func newFake(id string) *fakeProvider {
	return &fakeProvider{id: id, errs: map[string][]error{}, always: map[string]error{}}
}

func (f *fakeProvider) ID() string { return f.id }

func (f *fakeProvider) Create(ctx context.Context, req domain.ChatRequest) (domain.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, req.Model)
	if err, ok := f.always[req.Model]; ok {
		return nil, err
	}
	if queue := f.errs[req.Model]; len(queue) > 0 {
		f.errs[req.Model] = queue[1:]
		return nil, queue[0]
	}

	text := "Answer from " + req.Model + "."
	if f.shape == domain.ShapeAnthropic {
		return &domain.AnthropicResponse{
			Model:   req.Model,
			Content: []domain.ContentBlock{{Type: "text", Text: text}},
			Usage:   domain.AnthropicUsage{InputTokens: 10, OutputTokens: 5},
		}, nil
	}
	return &domain.OpenAIResponse{
		Model:   req.Model,
		Choices: []domain.Choice{{Message: &domain.Message{Role: domain.RoleAssistant, Content: text}}},
		Usage:   domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (f *fakeProvider) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func providerErr(status int) error {
	return &domain.ProviderError{Provider: "openai", StatusCode: status, Message: "scripted"}
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	orch   *Orchestrator
	fake   *fakeProvider
	clock  *testClock
	delays []time.Duration
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()

	h := &harness{
		fake:  newFake("openai"),
		clock: &testClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	opts := Options{
		Providers: provider.NewRegistry(map[string]provider.Provider{"openai": h.fake}, "openai"),
		Cache:     cache.NewInMemoryCache(cache.WithClock(h.clock.now)),
		sleep: func(ctx context.Context, d time.Duration) error {
			h.delays = append(h.delays, d)
			return nil
		},
	}
	if mutate != nil {
		mutate(&opts)
	}

	orch, err := New(opts)
	require.NoError(t, err)
	h.orch = orch
	t.Cleanup(func() { orch.Close(context.Background()) })
	return h
}

func chat(model, content string) domain.ChatRequest {
	return domain.ChatRequest{
		Model:    model,
		Messages: []domain.Message{{Role: domain.RoleUser, Content: content}},
	}
}

func noRouting(o *Options) { o.DisableRouting = true }

func TestNew_RequiresProviders(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	_, err = New(Options{Providers: provider.NewRegistry(nil, "openai"), CostLimit: -1})
	assert.Error(t, err)
}

func TestComplete_CacheDeterminism(t *testing.T) {
	h := newHarness(t, noRouting)
	ctx := context.Background()
	req := chat("gpt-4o", "Explain photosynthesis")

	first, err := h.orch.Complete(ctx, req, CallOptions{})
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := h.orch.Complete(ctx, req, CallOptions{})
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Completion.Text, second.Completion.Text)
	assert.Len(t, h.fake.Calls(), 1, "second call within TTL must not reach the provider")

	h.clock.advance(cache.DefaultTTL)

	atTTL, err := h.orch.Complete(ctx, req, CallOptions{})
	require.NoError(t, err)
	assert.True(t, atTTL.CacheHit, "entry is still live at exactly its TTL")
	assert.Len(t, h.fake.Calls(), 1)

	h.clock.advance(time.Nanosecond)

	third, err := h.orch.Complete(ctx, req, CallOptions{})
	require.NoError(t, err)
	assert.False(t, third.CacheHit)
	assert.Len(t, h.fake.Calls(), 2, "expired entry must trigger a new call")
}

func TestComplete_CacheHitNeedsNoProvider(t *testing.T) {
	h := newHarness(t, noRouting)
	ctx := context.Background()
	req := chat("claude-3-haiku-20240307", "Explain photosynthesis")

	cached := &domain.AnthropicResponse{
		Model:   req.Model,
		Content: []domain.ContentBlock{{Type: "text", Text: "From the shared cache."}},
	}
	key := cache.GenerateCacheKey("anthropic", req)
	require.NoError(t, h.orch.opts.Cache.Set(ctx, key, cached, time.Minute))

	res, err := h.orch.Complete(ctx, req, CallOptions{})

	require.NoError(t, err)
	assert.True(t, res.CacheHit)
	assert.Equal(t, "anthropic", res.Provider)
	assert.Equal(t, "From the shared cache.", res.Completion.Text)
	assert.Empty(t, h.fake.Calls())

	_, err = h.orch.Complete(ctx, chat("claude-3-haiku-20240307", "Something uncached"), CallOptions{})
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}

func TestComplete_CacheKeyIncludesSampling(t *testing.T) {
	h := newHarness(t, noRouting)
	ctx := context.Background()

	req := chat("gpt-4o", "Explain photosynthesis")
	_, err := h.orch.Complete(ctx, req, CallOptions{})
	require.NoError(t, err)

	temp := 0.1
	req.Temperature = &temp
	res, err := h.orch.Complete(ctx, req, CallOptions{})
	require.NoError(t, err)

	assert.False(t, res.CacheHit)
	assert.Len(t, h.fake.Calls(), 2)
}

func TestComplete_SkipCache(t *testing.T) {
	h := newHarness(t, noRouting)
	ctx := context.Background()
	req := chat("gpt-4o", "Explain photosynthesis")

	for i := 0; i < 2; i++ {
		_, err := h.orch.Complete(ctx, req, CallOptions{SkipCache: true})
		require.NoError(t, err)
	}
	assert.Len(t, h.fake.Calls(), 2)
}

func TestComplete_NoRetryOnClientError(t *testing.T) {
	h := newHarness(t, noRouting)
	badRequest := providerErr(400)
	h.fake.always["gpt-4"] = badRequest

	_, err := h.orch.Complete(context.Background(), chat("gpt-4", "Hi"), CallOptions{})

	assert.Same(t, badRequest, err)
	assert.Equal(t, []string{"gpt-4"}, h.fake.Calls())
	assert.Empty(t, h.delays)
}

func TestComplete_RetryThenSucceed(t *testing.T) {
	h := newHarness(t, noRouting)
	h.fake.errs["gpt-4"] = []error{providerErr(500)}

	res, err := h.orch.Complete(context.Background(), chat("gpt-4", "Hi"), CallOptions{})

	require.NoError(t, err)
	assert.Equal(t, "gpt-4", res.Model)
	assert.Equal(t, []string{"gpt-4", "gpt-4"}, h.fake.Calls())
	assert.Equal(t, []time.Duration{time.Second}, h.delays)
}

func TestComplete_BackoffDoubles(t *testing.T) {
	h := newHarness(t, noRouting)
	h.fake.errs["gpt-4"] = []error{providerErr(503), providerErr(503)}

	_, err := h.orch.Complete(context.Background(), chat("gpt-4", "Hi"), CallOptions{})

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, h.delays)
}

func TestComplete_FallbackChain(t *testing.T) {
	h := newHarness(t, noRouting)
	h.fake.always["gpt-4"] = providerErr(503)
	h.fake.always["gpt-4-turbo"] = providerErr(500)

	res, err := h.orch.Complete(context.Background(), chat("gpt-4", "Hi"), CallOptions{})

	require.NoError(t, err)
	assert.Equal(t, "gpt-3.5-turbo", res.Model)
	assert.True(t, res.FellBack)
	assert.Equal(t, []string{"gpt-4", "gpt-4", "gpt-4", "gpt-4-turbo", "gpt-3.5-turbo"}, h.fake.Calls())
}

func TestComplete_FallbackExhaustedReturnsLastError(t *testing.T) {
	h := newHarness(t, noRouting)
	last := providerErr(502)
	h.fake.always["gpt-4"] = providerErr(503)
	h.fake.always["gpt-4-turbo"] = providerErr(500)
	h.fake.always["gpt-3.5-turbo"] = last

	_, err := h.orch.Complete(context.Background(), chat("gpt-4", "Hi"), CallOptions{})

	assert.Same(t, last, err)
}

func TestComplete_FallbackDisabled(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.DisableRouting = true
		o.DisableFallback = true
		o.MaxRetries = 2
	})
	h.fake.always["gpt-4"] = providerErr(503)

	_, err := h.orch.Complete(context.Background(), chat("gpt-4", "Hi"), CallOptions{})

	assert.Error(t, err)
	assert.Equal(t, []string{"gpt-4", "gpt-4"}, h.fake.Calls())
}

func TestComplete_FallbackBoundedByMaxRetries(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.DisableRouting = true
		o.MaxRetries = 1
	})
	h.fake.always["gpt-4"] = providerErr(503)
	h.fake.always["gpt-4-turbo"] = providerErr(503)

	_, err := h.orch.Complete(context.Background(), chat("gpt-4", "Hi"), CallOptions{})

	assert.Error(t, err)
	assert.Equal(t, []string{"gpt-4", "gpt-4-turbo"}, h.fake.Calls())
}

func TestComplete_RoutesSimplePrompt(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.orch.Complete(context.Background(), chat("gpt-4", "Hi"), CallOptions{
		Validator: func(context.Context, string, string) (float64, error) { return 0.95, nil },
	})

	require.NoError(t, err)
	assert.True(t, res.Routed)
	assert.Equal(t, "gpt-3.5-turbo", res.Model)
	assert.Equal(t, "gpt-4", res.RequestedModel)
	assert.Greater(t, res.Savings, 0.0)
	assert.Equal(t, []string{"gpt-3.5-turbo"}, h.fake.Calls())
}

const mediumCodingPrompt = "Here is a python function that parses log lines, and I would like to know why it drops the last entry every time."

func TestComplete_RoutingStaysWithinRegisteredProviders(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.orch.Complete(context.Background(), chat("gpt-4o", mediumCodingPrompt), CallOptions{})

	require.NoError(t, err)
	assert.Equal(t, "openai", res.Provider)
	for _, model := range h.fake.Calls() {
		assert.True(t, strings.HasPrefix(model, "gpt-"), "call to %s", model)
	}
}

func TestComplete_UnservableRouteKeepsRequestedModel(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Router = router.New(router.WithOverridePolicy(router.StaticOverrides(map[string]string{
			"gpt-4o": "claude-3-haiku-20240307",
		})))
	})

	res, err := h.orch.Complete(context.Background(), chat("gpt-4o", "Hi"), CallOptions{})

	require.NoError(t, err)
	assert.False(t, res.Routed)
	assert.Equal(t, "gpt-4o", res.Model)
	assert.Equal(t, "routed model has no provider", res.Decision.Reasoning)
	assert.Equal(t, []string{"gpt-4o"}, h.fake.Calls())
}

func TestComplete_QualityGateReissuesOnce(t *testing.T) {
	var validatorCalls int
	h := newHarness(t, func(o *Options) {
		o.Validator = func(_ context.Context, text, promptJSON string) (float64, error) {
			validatorCalls++
			assert.Contains(t, promptJSON, `"content":"Hi"`)
			return 0.2, nil
		}
	})

	res, err := h.orch.Complete(context.Background(), chat("gpt-4", "Hi"), CallOptions{})

	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-3.5-turbo", "gpt-4"}, h.fake.Calls())
	assert.Equal(t, "gpt-4", res.Model)
	assert.Equal(t, "Answer from gpt-4.", res.Completion.Text)
	assert.True(t, res.Reissued)
	assert.InDelta(t, 0.2, res.QualityScore, 1e-9)
	assert.Equal(t, 1, validatorCalls)
	assert.Zero(t, res.Savings)
}

func TestComplete_QualityGateReissueFailureKeepsRoutedResponse(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Validator = func(context.Context, string, string) (float64, error) { return 0.1, nil }
	})
	h.fake.always["gpt-4"] = providerErr(503)

	res, err := h.orch.Complete(context.Background(), chat("gpt-4", "Hi"), CallOptions{})

	require.NoError(t, err)
	assert.Equal(t, "gpt-3.5-turbo", res.Model)
	assert.False(t, res.Reissued)
}

func TestComplete_QualityGateSkippedWhenNotRouted(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.DisableRouting = true
		o.Validator = func(context.Context, string, string) (float64, error) {
			t.Error("validator must not run for unrouted calls")
			return 0, nil
		}
	})

	_, err := h.orch.Complete(context.Background(), chat("gpt-4", "Hi"), CallOptions{})
	require.NoError(t, err)
}

func TestComplete_ValidatorErrorUsesDefaultScorer(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Validator = func(context.Context, string, string) (float64, error) {
			return 0, errors.New("validator down")
		}
	})

	res, err := h.orch.Complete(context.Background(), chat("gpt-4", "Hi"), CallOptions{})

	require.NoError(t, err)
	assert.Greater(t, res.QualityScore, 0.0)
}

func TestComplete_CostLimit(t *testing.T) {
	hook := &recordingHook{}
	h := newHarness(t, func(o *Options) {
		o.DisableRouting = true
		o.CostLimit = 0.0000001
		o.Hooks = []any{hook}
	})

	_, err := h.orch.Complete(context.Background(), chat("gpt-4", "Write a long essay about distributed systems"), CallOptions{})

	assert.ErrorIs(t, err, domain.ErrCostLimitExceeded)
	var cle *domain.CostLimitError
	require.ErrorAs(t, err, &cle)
	assert.Equal(t, "gpt-4", cle.Model)
	assert.Empty(t, h.fake.Calls(), "no provider call after a cost rejection")
	assert.Equal(t, []string{"before", "error"}, hook.Events())
}

func TestComplete_CallCostLimitOverrides(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.DisableRouting = true
		o.CostLimit = 0.0000001
	})

	_, err := h.orch.Complete(context.Background(), chat("gpt-4", "Hi"), CallOptions{CostLimit: 10})
	assert.NoError(t, err)
}

func TestComplete_InvalidRequest(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.orch.Complete(context.Background(), domain.ChatRequest{Model: "gpt-4"}, CallOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestComplete_AnthropicShapedResponse(t *testing.T) {
	h := newHarness(t, noRouting)
	h.fake.shape = domain.ShapeAnthropic

	res, err := h.orch.Complete(context.Background(), chat("gpt-4", "Hi"), CallOptions{})

	require.NoError(t, err)
	assert.Equal(t, domain.ShapeAnthropic, res.Response.Shape())
	assert.Equal(t, "Answer from gpt-4.", res.Completion.Text)
	assert.Equal(t, 15, res.Completion.TotalTokens())
}

type upperOptimizer struct{}

func (upperOptimizer) Optimize(_ context.Context, text string) (string, error) {
	return strings.ToUpper(text), nil
}

func TestComplete_OptimizerRewritesMessages(t *testing.T) {
	var seen string
	h := newHarness(t, func(o *Options) {
		o.DisableRouting = true
		o.Optimizer = upperOptimizer{}
		o.Hooks = []any{afterFunc(func(_ context.Context, req domain.ChatRequest, _ *Result) error {
			seen = req.Messages[0].Content
			return nil
		})}
	})

	_, err := h.orch.Complete(context.Background(), chat("gpt-4", "hi there"), CallOptions{})

	require.NoError(t, err)
	assert.Equal(t, "HI THERE", seen)
}

type recordingHook struct {
	mu     sync.Mutex
	events []string
	fail   bool
}

func (r *recordingHook) add(e string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if r.fail {
		return errors.New("hook failed")
	}
	return nil
}

func (r *recordingHook) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recordingHook) Before(context.Context, domain.ChatRequest) error { return r.add("before") }

func (r *recordingHook) After(context.Context, domain.ChatRequest, *Result) error {
	return r.add("after")
}

func (r *recordingHook) OnError(context.Context, domain.ChatRequest, error) error {
	return r.add("error")
}

type afterFunc func(ctx context.Context, req domain.ChatRequest, result *Result) error

func (f afterFunc) After(ctx context.Context, req domain.ChatRequest, result *Result) error {
	return f(ctx, req, result)
}

type panicHook struct{}

func (panicHook) Before(context.Context, domain.ChatRequest) error { panic("boom") }

func TestComplete_HooksRunInOrderAndSurviveFailures(t *testing.T) {
	failing := &recordingHook{fail: true}
	ok := &recordingHook{}
	h := newHarness(t, func(o *Options) {
		o.DisableRouting = true
		o.Hooks = []any{failing, panicHook{}, ok}
	})

	_, err := h.orch.Complete(context.Background(), chat("gpt-4", "Hi"), CallOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"before", "after"}, failing.Events())
	assert.Equal(t, []string{"before", "after"}, ok.Events())

	h.fake.always["gpt-4"] = providerErr(400)
	_, err = h.orch.Complete(context.Background(), chat("gpt-4", "Hello again"), CallOptions{})
	require.Error(t, err)
	assert.Equal(t, []string{"before", "after", "before", "error"}, ok.Events())
}

func TestComplete_CacheHitSkipsTrackingAndAfterHooks(t *testing.T) {
	sink := &tracking.MemorySink{}
	hook := &recordingHook{}
	h := newHarness(t, func(o *Options) {
		o.DisableRouting = true
		o.Tracker = tracking.New(sink)
		o.Hooks = []any{hook}
	})
	ctx := context.Background()
	req := chat("gpt-4", "Hi")

	_, err := h.orch.Complete(ctx, req, CallOptions{RequestID: "r1", CorrelationID: "c1"})
	require.NoError(t, err)
	_, err = h.orch.Complete(ctx, req, CallOptions{RequestID: "r2"})
	require.NoError(t, err)
	require.NoError(t, h.orch.Close(ctx))

	recs := sink.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "r1", recs[0].RequestID)
	assert.Equal(t, "c1", recs[0].CorrelationID)
	assert.Equal(t, "openai", recs[0].Provider)
	assert.Equal(t, "gpt-4", recs[0].RequestedModel)
	assert.Equal(t, 15, recs[0].TokensUsed)
	assert.True(t, recs[0].Success)
	assert.Equal(t, []string{"before", "after", "before"}, hook.Events())
}

func TestComplete_TracksRoutedSavings(t *testing.T) {
	sink := &tracking.MemorySink{}
	h := newHarness(t, func(o *Options) {
		o.Tracker = tracking.New(sink)
		o.Validator = func(context.Context, string, string) (float64, error) { return 1, nil }
	})

	res, err := h.orch.Complete(context.Background(), chat("gpt-4", "Hi"), CallOptions{})
	require.NoError(t, err)
	require.NoError(t, h.orch.Close(context.Background()))

	recs := sink.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "gpt-3.5-turbo", recs[0].Model)
	assert.Equal(t, "gpt-4", recs[0].RequestedModel)
	assert.InDelta(t, res.Savings, recs[0].Savings, 1e-12)
	assert.Greater(t, recs[0].Savings, 0.0)
}

func TestComplete_TracksFailures(t *testing.T) {
	sink := &tracking.MemorySink{}
	h := newHarness(t, func(o *Options) {
		o.DisableRouting = true
		o.Tracker = tracking.New(sink)
	})
	h.fake.always["gpt-4"] = providerErr(401)

	_, err := h.orch.Complete(context.Background(), chat("gpt-4", "Hi"), CallOptions{})
	require.Error(t, err)
	require.NoError(t, h.orch.Close(context.Background()))

	recs := sink.Records()
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Success)
	assert.Contains(t, recs[0].Error, "status=401")
}

func TestComplete_TrackingCircuitBreaker(t *testing.T) {
	sink := &tracking.MemorySink{Err: errors.New("tracking unavailable")}
	clock := &testClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig(), circuitbreaker.WithClock(clock.now))

	h := newHarness(t, func(o *Options) {
		o.DisableRouting = true
		o.DisableCache = true
		o.Tracker = tracking.New(sink, tracking.WithBreaker(breaker))
	})
	ctx := context.Background()

	complete := func() {
		t.Helper()
		_, err := h.orch.Complete(ctx, chat("gpt-4", "Hi"), CallOptions{})
		require.NoError(t, err, "tracking failures never reach the caller")
		require.NoError(t, h.orch.Close(ctx))
	}

	for i := 0; i < 5; i++ {
		complete()
	}
	assert.Equal(t, 5, sink.Calls())

	complete()
	assert.Equal(t, 5, sink.Calls(), "open breaker must skip the sink")

	clock.advance(60 * time.Second)
	sink.SetErr(nil)
	complete()
	assert.Equal(t, 6, sink.Calls(), "tracking resumes once the window elapsed")
	assert.Len(t, sink.Records(), 1)
}

func TestComplete_ConcurrentCallsShareCache(t *testing.T) {
	h := newHarness(t, noRouting)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.Complete(ctx, chat("gpt-4", "Hi"), CallOptions{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	_, err := h.orch.Complete(ctx, chat("gpt-4", "Hi"), CallOptions{})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(h.fake.Calls()), 20)
}

func TestClose_RespectsContext(t *testing.T) {
	block := make(chan struct{})
	sink := tracking.SinkFunc(func(ctx context.Context, _ domain.RunRecord) error {
		<-block
		return nil
	})
	h := newHarness(t, func(o *Options) {
		o.DisableRouting = true
		o.Tracker = tracking.New(sink, tracking.WithTimeout(time.Minute))
	})

	_, err := h.orch.Complete(context.Background(), chat("gpt-4", "Hi"), CallOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.orch.Close(ctx), context.DeadlineExceeded)

	close(block)
	assert.NoError(t, h.orch.Close(context.Background()))
}
