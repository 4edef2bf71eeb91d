package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/felipepmaragno/llm-router/internal/resilience"
)

type Config struct {
	Addr     string
	LogLevel string

	// ROUTER_API_KEY authenticates the tracking and optimizer services and,
	// when set, callers of the HTTP surface. Empty means instant mode.
	RouterAPIKey string

	TrackingURL         string
	TrackingSQSQueueURL string
	TrackingDatabaseURL string
	OptimizerURL        string

	RedisURL           string
	CacheEncryptionKey string
	CacheTTL           time.Duration
	CacheMaxEntries    int

	CostLimitUSD    float64
	MaxRetries      int
	DisableFallback bool
	DisableRouting  bool
	DisableCache    bool

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OllamaBaseURL   string
	AnthropicAPIKey string
	GoogleAPIKey    string
	AWSRegion       string
	BedrockEnabled  bool
	DefaultProvider string

	OTLPEndpoint       string
	AlertTopicARN      string
	SpendBudgetUSD     float64
	ConfigFile         string
	ProviderKeysSecret string

	ShutdownTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:                getEnv("ADDR", ":8080"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		RouterAPIKey:        getEnv("ROUTER_API_KEY", ""),
		TrackingURL:         getEnv("TRACKING_URL", ""),
		TrackingSQSQueueURL: getEnv("TRACKING_SQS_QUEUE_URL", ""),
		TrackingDatabaseURL: getEnv("TRACKING_DATABASE_URL", ""),
		OptimizerURL:        getEnv("OPTIMIZER_URL", ""),
		RedisURL:            getEnv("REDIS_URL", ""),
		CacheEncryptionKey:  getEnv("CACHE_ENCRYPTION_KEY", ""),
		CacheTTL:            getDurationEnv("CACHE_TTL", time.Hour),
		CacheMaxEntries:     getIntEnv("CACHE_MAX_ENTRIES", 1000),
		CostLimitUSD:        getFloatEnv("COST_LIMIT_USD", 0),
		MaxRetries:          getIntEnv("MAX_RETRIES", 3),
		DisableFallback:     getBoolEnv("DISABLE_FALLBACK"),
		DisableRouting:      getBoolEnv("DISABLE_ROUTING"),
		DisableCache:        getBoolEnv("DISABLE_CACHE"),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:       getEnv("OPENAI_BASE_URL", ""),
		OllamaBaseURL:       getEnv("OLLAMA_BASE_URL", ""),
		AnthropicAPIKey:     getEnv("ANTHROPIC_API_KEY", ""),
		GoogleAPIKey:        getEnv("GOOGLE_API_KEY", ""),
		AWSRegion:           getEnv("AWS_REGION", ""),
		BedrockEnabled:      getBoolEnv("BEDROCK_ENABLED"),
		DefaultProvider:     getEnv("DEFAULT_PROVIDER", "openai"),
		OTLPEndpoint:        getEnv("OTLP_ENDPOINT", ""),
		AlertTopicARN:       getEnv("ALERT_TOPIC_ARN", ""),
		SpendBudgetUSD:      getFloatEnv("SPEND_BUDGET_USD", 0),
		ConfigFile:          getEnv("ROUTER_CONFIG_FILE", ""),
		ProviderKeysSecret:  getEnv("PROVIDER_KEYS_SECRET", ""),
		ShutdownTimeout:     getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	if cfg.MaxRetries < 1 {
		return nil, fmt.Errorf("MAX_RETRIES must be at least 1, got %d", cfg.MaxRetries)
	}
	if cfg.CostLimitUSD < 0 {
		return nil, fmt.Errorf("COST_LIMIT_USD must not be negative")
	}
	if cfg.BedrockEnabled && cfg.AWSRegion == "" {
		return nil, fmt.Errorf("BEDROCK_ENABLED requires AWS_REGION")
	}

	return cfg, nil
}

// File is the optional YAML document named by ROUTER_CONFIG_FILE.
type File struct {
	Overrides      map[string]string       `yaml:"overrides"`
	FallbackChains resilience.ChainTable   `yaml:"fallback_chains"`
	Pricing        map[string]PricingEntry `yaml:"pricing"`
}

// PricingEntry is in dollars per million tokens.
type PricingEntry struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// LoadFile reads the YAML file at path. An empty path yields an empty File.
func LoadFile(path string) (*File, error) {
	f := &File{}
	if path == "" {
		return f, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	for i, entry := range f.FallbackChains {
		if entry.Match == "" || len(entry.Models) == 0 {
			return nil, fmt.Errorf("fallback_chains[%d]: match and models are required", i)
		}
	}
	return f, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv accepts Go durations ("90s") or plain seconds ("90").
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}
