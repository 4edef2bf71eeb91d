package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	envVars := []string{
		"ADDR", "LOG_LEVEL", "ROUTER_API_KEY", "REDIS_URL", "CACHE_TTL",
		"CACHE_MAX_ENTRIES", "COST_LIMIT_USD", "MAX_RETRIES", "DISABLE_FALLBACK",
		"DISABLE_ROUTING", "DISABLE_CACHE", "DEFAULT_PROVIDER", "BEDROCK_ENABLED",
		"SHUTDOWN_TIMEOUT", "ROUTER_CONFIG_FILE",
	}
	for _, v := range envVars {
		t.Setenv(v, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"Addr", cfg.Addr, ":8080"},
		{"LogLevel", cfg.LogLevel, "info"},
		{"RouterAPIKey", cfg.RouterAPIKey, ""},
		{"RedisURL", cfg.RedisURL, ""},
		{"DefaultProvider", cfg.DefaultProvider, "openai"},
		{"ConfigFile", cfg.ConfigFile, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.expected)
			}
		})
	}

	if cfg.CacheTTL != time.Hour {
		t.Errorf("CacheTTL = %v, want 1h", cfg.CacheTTL)
	}
	if cfg.CacheMaxEntries != 1000 {
		t.Errorf("CacheMaxEntries = %d, want 1000", cfg.CacheMaxEntries)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.CostLimitUSD != 0 {
		t.Errorf("CostLimitUSD = %v, want 0", cfg.CostLimitUSD)
	}
	if cfg.DisableFallback || cfg.DisableRouting || cfg.DisableCache || cfg.BedrockEnabled {
		t.Error("feature switches should default to false")
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 30s", cfg.ShutdownTimeout)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("ADDR", ":9090")
	t.Setenv("ROUTER_API_KEY", "rk-1")
	t.Setenv("CACHE_TTL", "90s")
	t.Setenv("CACHE_MAX_ENTRIES", "50")
	t.Setenv("COST_LIMIT_USD", "0.25")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("DISABLE_ROUTING", "true")
	t.Setenv("BEDROCK_ENABLED", "1")
	t.Setenv("AWS_REGION", "us-east-1")
	t.Setenv("SHUTDOWN_TIMEOUT", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Addr != ":9090" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.RouterAPIKey != "rk-1" {
		t.Errorf("RouterAPIKey = %q", cfg.RouterAPIKey)
	}
	if cfg.CacheTTL != 90*time.Second {
		t.Errorf("CacheTTL = %v, want 90s", cfg.CacheTTL)
	}
	if cfg.CacheMaxEntries != 50 {
		t.Errorf("CacheMaxEntries = %d", cfg.CacheMaxEntries)
	}
	if cfg.CostLimitUSD != 0.25 {
		t.Errorf("CostLimitUSD = %v", cfg.CostLimitUSD)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d", cfg.MaxRetries)
	}
	if !cfg.DisableRouting || !cfg.BedrockEnabled {
		t.Error("expected DisableRouting and BedrockEnabled")
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", cfg.ShutdownTimeout)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"zero retries", map[string]string{"MAX_RETRIES": "0"}},
		{"negative limit", map[string]string{"COST_LIMIT_USD": "-1"}},
		{"bedrock without region", map[string]string{"BEDROCK_ENABLED": "true", "AWS_REGION": ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "router.yaml")
	doc := `
overrides:
  gpt-4: gpt-4o-mini
fallback_chains:
  - match: gpt-4o
    models: [gpt-4o-mini]
  - match: claude
    models: [claude-3-haiku-20240307, gpt-4o-mini]
pricing:
  llama3:
    input: 0.1
    output: 0.2
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	f, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if f.Overrides["gpt-4"] != "gpt-4o-mini" {
		t.Errorf("overrides = %v", f.Overrides)
	}
	if got := f.FallbackChains.For("claude-3-opus"); len(got) != 2 || got[1] != "gpt-4o-mini" {
		t.Errorf("claude chain = %v", got)
	}
	if f.Pricing["llama3"].Output != 0.2 {
		t.Errorf("pricing = %v", f.Pricing)
	}
}

func TestLoadFile_EmptyPath(t *testing.T) {
	f, err := LoadFile("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.Overrides) != 0 || len(f.FallbackChains) != 0 {
		t.Error("expected an empty file")
	}
}

func TestLoadFile_RejectsIncompleteChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "router.yaml")
	os.WriteFile(path, []byte("fallback_chains:\n  - match: gpt-4\n"), 0o600)

	if _, err := LoadFile(path); err == nil {
		t.Error("expected error for a chain without models")
	}
}
