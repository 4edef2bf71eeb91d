package cache

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/felipepmaragno/llm-router/internal/crypto"
	"github.com/felipepmaragno/llm-router/internal/domain"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func openAIResp(id string) *domain.OpenAIResponse {
	return &domain.OpenAIResponse{
		ID:      id,
		Model:   "gpt-4",
		Choices: []domain.Choice{{Message: &domain.Message{Role: domain.RoleAssistant, Content: "hello"}}},
	}
}

func respID(t *testing.T, r domain.Response) string {
	t.Helper()
	o, ok := r.(*domain.OpenAIResponse)
	if !ok {
		t.Fatalf("expected *OpenAIResponse, got %T", r)
	}
	return o.ID
}

func TestInMemoryCache_SetAndGet(t *testing.T) {
	c := NewInMemoryCache()
	ctx := context.Background()

	if err := c.Set(ctx, "key1", openAIResp("test-id"), time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cached, ok := c.Get(ctx, "key1")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if id := respID(t, cached); id != "test-id" {
		t.Errorf("expected ID test-id, got %s", id)
	}
}

func TestInMemoryCache_ReturnsIsolatedCopies(t *testing.T) {
	c := NewInMemoryCache()
	ctx := context.Background()

	stored := openAIResp("test-id")
	if err := c.Set(ctx, "key1", stored, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored.Choices[0].Message.Content = "changed by caller after Set"

	first, _ := c.Get(ctx, "key1")
	got := first.(*domain.OpenAIResponse)
	got.ID = "mutated"
	got.Choices[0].Message.Content = "mutated"
	got.Choices = append(got.Choices, domain.Choice{Index: 1})

	second, _ := c.Get(ctx, "key1")
	again := second.(*domain.OpenAIResponse)
	if again.ID != "test-id" || len(again.Choices) != 1 {
		t.Errorf("cached entry changed: %+v", again)
	}
	if content := again.Choices[0].Message.Content; content != "hello" {
		t.Errorf("cached message content = %q, want hello", content)
	}
}

func TestInMemoryCache_Miss(t *testing.T) {
	c := NewInMemoryCache()

	if _, ok := c.Get(context.Background(), "nonexistent"); ok {
		t.Error("expected cache miss")
	}
}

func TestInMemoryCache_Expiration(t *testing.T) {
	clock := newClock()
	c := NewInMemoryCache(WithClock(clock.now))
	ctx := context.Background()

	c.Set(ctx, "key1", openAIResp("a"), time.Minute)

	clock.advance(time.Minute)
	if _, ok := c.Get(ctx, "key1"); !ok {
		t.Fatal("expected hit at exactly the TTL")
	}

	clock.advance(time.Second)
	if _, ok := c.Get(ctx, "key1"); ok {
		t.Error("expected miss after TTL")
	}
	if c.Len() != 0 {
		t.Errorf("expected expired entry to be deleted, len=%d", c.Len())
	}
}

func TestInMemoryCache_DefaultTTL(t *testing.T) {
	clock := newClock()
	c := NewInMemoryCache(WithClock(clock.now))
	ctx := context.Background()

	c.Set(ctx, "key1", openAIResp("a"), 0)

	clock.advance(59 * time.Minute)
	if _, ok := c.Get(ctx, "key1"); !ok {
		t.Fatal("expected hit within the default hour")
	}

	clock.advance(2 * time.Minute)
	if _, ok := c.Get(ctx, "key1"); ok {
		t.Error("expected miss after the default hour")
	}
}

func TestInMemoryCache_EvictsLeastRecentlyAccessed(t *testing.T) {
	clock := newClock()
	c := NewInMemoryCache(WithClock(clock.now), WithMaxEntries(10))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		c.Set(ctx, fmt.Sprintf("k%d", i), openAIResp(fmt.Sprint(i)), time.Hour)
		clock.advance(time.Second)
	}

	// Touch the two oldest so k2 and k3 become the least recently accessed.
	c.Get(ctx, "k0")
	c.Get(ctx, "k1")
	clock.advance(time.Second)

	c.Set(ctx, "new", openAIResp("new"), time.Hour)

	if c.Len() != 9 {
		t.Fatalf("expected 9 entries after evicting 2 of 10 and inserting 1, got %d", c.Len())
	}
	for _, k := range []string{"k2", "k3"} {
		if _, ok := c.Get(ctx, k); ok {
			t.Errorf("expected %s to be evicted", k)
		}
	}
	for _, k := range []string{"k0", "k1", "k4", "k9", "new"} {
		if _, ok := c.Get(ctx, k); !ok {
			t.Errorf("expected %s to survive eviction", k)
		}
	}
}

func TestInMemoryCache_OverwriteDoesNotEvict(t *testing.T) {
	c := NewInMemoryCache(WithMaxEntries(2))
	ctx := context.Background()

	c.Set(ctx, "a", openAIResp("a1"), time.Minute)
	c.Set(ctx, "b", openAIResp("b"), time.Minute)
	c.Set(ctx, "a", openAIResp("a2"), time.Minute)

	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
	cached, _ := c.Get(ctx, "a")
	if id := respID(t, cached); id != "a2" {
		t.Errorf("expected overwritten value, got %s", id)
	}
}

func TestInMemoryCache_Clear(t *testing.T) {
	c := NewInMemoryCache()
	ctx := context.Background()

	c.Set(ctx, "a", openAIResp("a"), time.Minute)
	c.Clear()

	if _, ok := c.Get(ctx, "a"); ok {
		t.Error("expected miss after Clear")
	}
}

func TestInMemoryCache_ConcurrentAccess(t *testing.T) {
	c := NewInMemoryCache(WithMaxEntries(50))
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("key-%d", (w*500+i)%120)
				if i%2 == 0 {
					c.Set(ctx, key, openAIResp(key), time.Minute)
				} else {
					c.Get(ctx, key)
				}
			}
		}(w)
	}
	wg.Wait()

	if c.Len() > 50 {
		t.Errorf("cache exceeded max entries: %d", c.Len())
	}
}

func TestGenerateCacheKey(t *testing.T) {
	temp0, temp5, tempDefault := 0.0, 0.5, 0.7
	max100, max200 := 100, 200
	base := domain.ChatRequest{
		Model:    "gpt-4",
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "Hello"}},
	}

	tests := []struct {
		name      string
		provider  string
		req       domain.ChatRequest
		wantEqual bool
	}{
		{"identical", "openai", base, true},
		{"surrounding whitespace is ignored", "openai", domain.ChatRequest{
			Model:    "gpt-4",
			Messages: []domain.Message{{Role: domain.RoleUser, Content: "  Hello\n"}},
		}, true},
		{"unset temperature equals 0.7", "openai", domain.ChatRequest{
			Model: "gpt-4", Messages: base.Messages, Temperature: &tempDefault,
		}, true},
		{"different provider", "anthropic", base, false},
		{"different model", "openai", base.WithModel("gpt-3.5-turbo"), false},
		{"different content", "openai", domain.ChatRequest{
			Model:    "gpt-4",
			Messages: []domain.Message{{Role: domain.RoleUser, Content: "Hi"}},
		}, false},
		{"different temperature", "openai", domain.ChatRequest{
			Model: "gpt-4", Messages: base.Messages, Temperature: &temp0,
		}, false},
		{"max tokens set", "openai", domain.ChatRequest{
			Model: "gpt-4", Messages: base.Messages, MaxTokens: &max100,
		}, false},
	}

	baseKey := GenerateCacheKey("openai", base)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := GenerateCacheKey(tt.provider, tt.req)
			if (key == baseKey) != tt.wantEqual {
				t.Errorf("key equality = %v, want %v", key == baseKey, tt.wantEqual)
			}
		})
	}

	a := GenerateCacheKey("openai", domain.ChatRequest{Model: "gpt-4", Messages: base.Messages, Temperature: &temp5, MaxTokens: &max100})
	b := GenerateCacheKey("openai", domain.ChatRequest{Model: "gpt-4", Messages: base.Messages, Temperature: &temp5, MaxTokens: &max200})
	if a == b {
		t.Error("different max_tokens should produce different keys")
	}
}

func TestGenerateCacheKey_MessageOrderMatters(t *testing.T) {
	ab := domain.ChatRequest{Model: "gpt-4", Messages: []domain.Message{
		{Role: domain.RoleUser, Content: "a"}, {Role: domain.RoleUser, Content: "b"},
	}}
	ba := domain.ChatRequest{Model: "gpt-4", Messages: []domain.Message{
		{Role: domain.RoleUser, Content: "b"}, {Role: domain.RoleUser, Content: "a"},
	}}

	if GenerateCacheKey("openai", ab) == GenerateCacheKey("openai", ba) {
		t.Error("message order should change the key")
	}
}

func TestGenerateCacheKey_HasPrefix(t *testing.T) {
	key := GenerateCacheKey("openai", domain.ChatRequest{Model: "gpt-4"})

	if len(key) != len("cache:")+64 || key[:6] != "cache:" {
		t.Errorf("unexpected key format: %s", key)
	}
}

type mapCache struct {
	mu    sync.Mutex
	items map[string]domain.Response
	gets  int
	err   error
}

func newMapCache() *mapCache {
	return &mapCache{items: make(map[string]domain.Response)}
}

func (m *mapCache) Get(ctx context.Context, key string) (domain.Response, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	r, ok := m.items[key]
	return r, ok
}

func (m *mapCache) Set(ctx context.Context, key string, resp domain.Response, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.items[key] = resp
	return nil
}

func TestLayered_LocalFirst(t *testing.T) {
	local := NewInMemoryCache()
	remote := newMapCache()
	l := NewLayered(local, remote, nil)
	ctx := context.Background()

	l.Set(ctx, "k", openAIResp("a"), time.Minute)

	if _, ok := l.Get(ctx, "k"); !ok {
		t.Fatal("expected hit")
	}
	if remote.gets != 0 {
		t.Errorf("remote should not be consulted on a local hit, gets=%d", remote.gets)
	}
	if _, ok := remote.items["k"]; !ok {
		t.Error("Set should write through to remote")
	}
}

func TestLayered_RemoteHitPopulatesLocal(t *testing.T) {
	local := NewInMemoryCache()
	remote := newMapCache()
	remote.items["k"] = openAIResp("remote")
	l := NewLayered(local, remote, nil)
	ctx := context.Background()

	cached, ok := l.Get(ctx, "k")
	if !ok {
		t.Fatal("expected remote hit")
	}
	if id := respID(t, cached); id != "remote" {
		t.Errorf("expected remote value, got %s", id)
	}
	if _, ok := local.Get(ctx, "k"); !ok {
		t.Error("remote hit should populate the local cache")
	}
}

func TestLayered_RemoteFailureIsSwallowed(t *testing.T) {
	remote := newMapCache()
	remote.err = fmt.Errorf("connection refused")
	l := NewLayered(NewInMemoryCache(), remote, nil)
	ctx := context.Background()

	if err := l.Set(ctx, "k", openAIResp("a"), time.Minute); err != nil {
		t.Fatalf("expected remote failure to be swallowed, got %v", err)
	}
	if _, ok := l.Get(ctx, "k"); !ok {
		t.Error("local layer should still hold the value")
	}
}

func TestLayered_NoRemote(t *testing.T) {
	l := NewLayered(NewInMemoryCache(), nil, nil)

	if _, ok := l.Get(context.Background(), "missing"); ok {
		t.Error("expected miss")
	}
}

func getRedisURL(t *testing.T) string {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set, skipping Redis cache tests")
	}
	return url
}

func TestRedisCache_RoundTrip(t *testing.T) {
	redisURL := getRedisURL(t)
	ctx := context.Background()

	enc, err := crypto.NewEncryptor("redis-test-key")
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}

	for name, e := range map[string]*crypto.Encryptor{"plain": nil, "sealed": enc} {
		t.Run(name, func(t *testing.T) {
			c, err := NewRedisCache(redisURL, e, nil)
			if err != nil {
				t.Fatalf("failed to create redis cache: %v", err)
			}
			defer c.Close()

			key := GenerateCacheKey("anthropic", domain.ChatRequest{Model: "claude-3-haiku-20240307-" + name})
			want := &domain.AnthropicResponse{
				ID:      "msg_1",
				Content: []domain.ContentBlock{{Type: "text", Text: "hi"}},
				Usage:   domain.AnthropicUsage{InputTokens: 3, OutputTokens: 1},
			}

			if err := c.Set(ctx, key, want, time.Minute); err != nil {
				t.Fatalf("Set: %v", err)
			}
			defer c.client.Del(ctx, key)

			got, ok := c.Get(ctx, key)
			if !ok {
				t.Fatal("expected hit")
			}
			if got.Canonical() != want.Canonical() {
				t.Errorf("got %+v, want %+v", got.Canonical(), want.Canonical())
			}
		})
	}
}
