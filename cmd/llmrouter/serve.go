package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/felipepmaragno/llm-router/internal/api"
	"github.com/felipepmaragno/llm-router/internal/budget"
	"github.com/felipepmaragno/llm-router/internal/cache"
	"github.com/felipepmaragno/llm-router/internal/circuitbreaker"
	"github.com/felipepmaragno/llm-router/internal/config"
	"github.com/felipepmaragno/llm-router/internal/cost"
	"github.com/felipepmaragno/llm-router/internal/crypto"
	"github.com/felipepmaragno/llm-router/internal/httputil"
	"github.com/felipepmaragno/llm-router/internal/notifications"
	"github.com/felipepmaragno/llm-router/internal/optimize"
	"github.com/felipepmaragno/llm-router/internal/orchestrator"
	"github.com/felipepmaragno/llm-router/internal/provider"
	"github.com/felipepmaragno/llm-router/internal/provider/anthropic"
	"github.com/felipepmaragno/llm-router/internal/provider/bedrock"
	"github.com/felipepmaragno/llm-router/internal/provider/google"
	"github.com/felipepmaragno/llm-router/internal/provider/openai"
	"github.com/felipepmaragno/llm-router/internal/router"
	"github.com/felipepmaragno/llm-router/internal/secrets"
	"github.com/felipepmaragno/llm-router/internal/telemetry"
	"github.com/felipepmaragno/llm-router/internal/tracking"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the OpenAI-compatible routing proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

// closers are released in reverse order on shutdown.
type closers []io.Closer

func (c closers) Close() {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Close(); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting llm router", "addr", cfg.Addr, "version", version)

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if cfg.ProviderKeysSecret != "" {
		if err := applySecrets(ctx, cfg); err != nil {
			return err
		}
	}

	if cfg.OTLPEndpoint != "" {
		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName:    "llm-router",
			ServiceVersion: version,
			Endpoint:       cfg.OTLPEndpoint,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer shutdown(context.Background())
		logger.Info("tracing enabled", "endpoint", cfg.OTLPEndpoint)
	}

	file, err := config.LoadFile(cfg.ConfigFile)
	if err != nil {
		return err
	}

	registry, err := buildProviders(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var routerOpts []router.Option
	routerOpts = append(routerOpts, router.WithLogger(logger), router.WithAvailability(registry.Serves))
	if len(file.Overrides) > 0 {
		routerOpts = append(routerOpts, router.WithOverridePolicy(router.StaticOverrides(file.Overrides)))
	}
	rt := router.New(routerOpts...)

	calc := cost.NewCalculator()
	for model, p := range file.Pricing {
		calc.SetPricing(model, cost.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output})
	}

	var toClose closers
	defer toClose.Close()

	var checkers []api.HealthChecker

	responseCache, redisCache, err := buildCache(cfg, logger)
	if err != nil {
		return err
	}
	if redisCache != nil {
		toClose = append(toClose, redisCache)
		checkers = append(checkers, api.PingerCheck("redis", redisCache))
	}

	var notifier notifications.Notifier
	if cfg.AlertTopicARN != "" {
		sns, err := notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.AlertTopicARN)
		if err != nil {
			return fmt.Errorf("create sns notifier: %w", err)
		}
		notifier = sns
		logger.Info("alert notifications enabled", "topic", cfg.AlertTopicARN)
	}

	tracker, pg, err := buildTracker(ctx, cfg, notifier, logger)
	if err != nil {
		return err
	}
	if pg != nil {
		toClose = append(toClose, pg)
		checkers = append(checkers, api.PingerCheck("postgres", pg))
	}

	opts := orchestrator.Options{
		Providers:       registry,
		Router:          rt,
		DisableRouting:  cfg.DisableRouting,
		Cache:           responseCache,
		CacheTTL:        cfg.CacheTTL,
		DisableCache:    cfg.DisableCache,
		CostLimit:       cfg.CostLimitUSD,
		MaxRetries:      cfg.MaxRetries,
		DisableFallback: cfg.DisableFallback,
		Tracker:         tracker,
		Calculator:      calc,
		Logger:          logger,
	}
	if len(file.FallbackChains) > 0 {
		opts.FallbackChains = file.FallbackChains
	}
	if cfg.OptimizerURL != "" && cfg.RouterAPIKey != "" {
		opts.Optimizer = optimize.NewHTTPOptimizer(cfg.OptimizerURL, cfg.RouterAPIKey, nil)
		logger.Info("prompt optimization enabled", "url", cfg.OptimizerURL)
	}
	if cfg.SpendBudgetUSD > 0 {
		monitor := budget.NewMonitor(cfg.SpendBudgetUSD, budget.DefaultThresholds())
		monitor.OnAlert(budget.LogAlertHandler(logger))
		if notifier != nil {
			monitor.OnAlert(budget.NotifyAlertHandler(notifier, logger))
		}
		opts.Spend = monitor
	}

	orch, err := orchestrator.New(opts)
	if err != nil {
		return err
	}

	var keyHash string
	if cfg.RouterAPIKey != "" {
		keyHash = crypto.HashAPIKey(cfg.RouterAPIKey)
	}

	handler := api.NewHandler(api.HandlerConfig{
		Orchestrator: orch,
		Router:       rt,
		Providers:    registry,
		APIKeyHash:   keyHash,
		Checkers:     checkers,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := orch.Close(shutdownCtx); err != nil {
		logger.Warn("pending tracking records dropped", "error", err)
	}

	logger.Info("server stopped")
	return nil
}

// applySecrets fills empty provider keys from Secrets Manager. Keys already
// present in the environment win.
func applySecrets(ctx context.Context, cfg *config.Config) error {
	store, err := secrets.NewAWSSecretsManager(ctx, cfg.AWSRegion)
	if err != nil {
		return fmt.Errorf("create secrets manager client: %w", err)
	}
	keys, err := secrets.LoadProviderKeys(ctx, store, cfg.ProviderKeysSecret)
	if err != nil {
		return err
	}

	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&cfg.OpenAIAPIKey, keys.OpenAI)
	fill(&cfg.AnthropicAPIKey, keys.Anthropic)
	fill(&cfg.GoogleAPIKey, keys.Google)
	fill(&cfg.RouterAPIKey, keys.Router)
	return nil
}

func buildProviders(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*provider.Registry, error) {
	client := httputil.DefaultClient()
	providers := make(map[string]provider.Provider)

	if cfg.OpenAIAPIKey != "" {
		opts := []openai.Option{openai.WithHTTPClient(client)}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		providers["openai"] = openai.New(cfg.OpenAIAPIKey, opts...)
		logger.Info("registered provider", "provider", "openai")
	}

	if cfg.OllamaBaseURL != "" {
		providers["ollama"] = openai.New("ollama",
			openai.WithID("ollama"),
			openai.WithBaseURL(cfg.OllamaBaseURL),
			openai.WithHTTPClient(client),
		)
		logger.Info("registered provider", "provider", "ollama", "url", cfg.OllamaBaseURL)
	}

	if cfg.AnthropicAPIKey != "" {
		providers["anthropic"] = anthropic.New(cfg.AnthropicAPIKey, "", client)
		logger.Info("registered provider", "provider", "anthropic")
	}

	if cfg.GoogleAPIKey != "" {
		p, err := google.New(ctx, cfg.GoogleAPIKey, client)
		if err != nil {
			return nil, fmt.Errorf("create google provider: %w", err)
		}
		providers["google"] = p
		logger.Info("registered provider", "provider", "google")
	}

	var regOpts []provider.RegistryOption
	if cfg.BedrockEnabled {
		p, err := bedrock.New(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, fmt.Errorf("create bedrock provider: %w", err)
		}
		providers["bedrock"] = p
		regOpts = append(regOpts, provider.WithClaudeOn("bedrock"))
		logger.Info("registered provider", "provider", "bedrock", "region", cfg.AWSRegion)
	}

	if len(providers) == 0 {
		return nil, errors.New("no providers configured")
	}

	return provider.NewRegistry(providers, cfg.DefaultProvider, regOpts...), nil
}

func buildCache(cfg *config.Config, logger *slog.Logger) (cache.Cache, *cache.RedisCache, error) {
	local := cache.NewInMemoryCache(cache.WithMaxEntries(cfg.CacheMaxEntries))
	if cfg.RedisURL == "" {
		logger.Info("using in-memory cache", "max_entries", cfg.CacheMaxEntries)
		return cache.NewLayered(local, nil, logger), nil, nil
	}

	var enc *crypto.Encryptor
	if cfg.CacheEncryptionKey != "" {
		var err error
		enc, err = crypto.NewEncryptor(cfg.CacheEncryptionKey)
		if err != nil {
			return nil, nil, fmt.Errorf("create cache encryptor: %w", err)
		}
	}

	remote, err := cache.NewRedisCache(cfg.RedisURL, enc, logger)
	if err != nil {
		logger.Warn("failed to connect to redis for cache, using in-memory", "error", err)
		return cache.NewLayered(local, nil, logger), nil, nil
	}

	logger.Info("using layered cache", "encrypted", enc != nil)
	return cache.NewLayered(local, remote, logger), remote, nil
}

// buildTracker returns a disabled tracker in instant mode (no ROUTER_API_KEY)
// or when no sink is configured.
func buildTracker(ctx context.Context, cfg *config.Config, notifier notifications.Notifier, logger *slog.Logger) (*tracking.Tracker, *tracking.PostgresSink, error) {
	trackerOpts := []tracking.Option{
		tracking.WithLogger(logger),
		tracking.WithBreaker(circuitbreaker.New(circuitbreaker.DefaultConfig())),
	}
	if notifier != nil {
		trackerOpts = append(trackerOpts, tracking.WithNotifier(notifier))
	}

	if cfg.RouterAPIKey == "" {
		logger.Info("instant mode, run tracking disabled")
		return tracking.New(nil, trackerOpts...), nil, nil
	}

	var (
		sinks []tracking.Sink
		pg    *tracking.PostgresSink
	)

	if cfg.TrackingURL != "" {
		sinks = append(sinks, tracking.NewHTTPSink(cfg.TrackingURL, cfg.RouterAPIKey, nil))
	}

	if cfg.TrackingSQSQueueURL != "" {
		s, err := tracking.NewSQSSink(ctx, cfg.AWSRegion, cfg.TrackingSQSQueueURL)
		if err != nil {
			return nil, nil, fmt.Errorf("create sqs sink: %w", err)
		}
		sinks = append(sinks, s)
	}

	if cfg.TrackingDatabaseURL != "" {
		var err error
		pg, err = tracking.OpenPostgresSink(ctx, cfg.TrackingDatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open tracking database: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, nil, fmt.Errorf("create tracking schema: %w", err)
		}
		sinks = append(sinks, pg)
	}

	if len(sinks) == 0 {
		logger.Info("no tracking sink configured, run tracking disabled")
		return tracking.New(nil, trackerOpts...), nil, nil
	}

	logger.Info("run tracking enabled", "sinks", len(sinks))
	return tracking.New(tracking.NewMultiSink(logger, sinks...), trackerOpts...), pg, nil
}
