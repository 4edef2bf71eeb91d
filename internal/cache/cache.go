// Package cache stores provider responses for repeated requests. The
// in-process cache is always consulted first; a remote Redis cache may be
// layered behind it. Caching is best-effort and never fails a call.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/felipepmaragno/llm-router/internal/domain"
)

const (
	DefaultTTL        = time.Hour
	DefaultMaxEntries = 1000

	defaultTemperature = 0.7
	evictFraction      = 0.2
)

type Cache interface {
	Get(ctx context.Context, key string) (domain.Response, bool)
	Set(ctx context.Context, key string, resp domain.Response, ttl time.Duration) error
}

type fingerprint struct {
	Provider    string           `json:"provider"`
	Model       string           `json:"model"`
	Messages    []domain.Message `json:"messages"`
	Temperature float64          `json:"temperature"`
	MaxTokens   *int             `json:"max_tokens"`
}

// GenerateCacheKey fingerprints provider, model, messages (in order, content
// trimmed), temperature (0.7 when unset) and max_tokens. Struct encoding fixes
// field order, so equal requests always hash the same.
func GenerateCacheKey(provider string, req domain.ChatRequest) string {
	fp := fingerprint{
		Provider:    provider,
		Model:       req.Model,
		Messages:    make([]domain.Message, len(req.Messages)),
		Temperature: defaultTemperature,
		MaxTokens:   req.MaxTokens,
	}
	for i, m := range req.Messages {
		fp.Messages[i] = domain.Message{Role: m.Role, Content: strings.TrimSpace(m.Content)}
	}
	if req.Temperature != nil {
		fp.Temperature = *req.Temperature
	}

	data, _ := json.Marshal(fp)
	hash := sha256.Sum256(data)
	return "cache:" + hex.EncodeToString(hash[:])
}

type entry struct {
	response       domain.Response
	storedAt       time.Time
	ttl            time.Duration
	lastAccessedAt time.Time
}

// InMemoryCache is a size-bounded TTL cache. Expired entries are removed when
// read; when full, the least recently accessed 20% are evicted before insert.
type InMemoryCache struct {
	mu         sync.Mutex
	items      map[string]*entry
	maxEntries int
	now        func() time.Time
}

type Option func(*InMemoryCache)

func WithMaxEntries(n int) Option {
	return func(c *InMemoryCache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *InMemoryCache) {
		c.now = now
	}
}

func NewInMemoryCache(opts ...Option) *InMemoryCache {
	c := &InMemoryCache{
		items:      make(map[string]*entry),
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *InMemoryCache) Get(ctx context.Context, key string) (domain.Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return nil, false
	}

	now := c.now()
	if now.Sub(e.storedAt) > e.ttl {
		delete(c.items, key)
		return nil, false
	}

	e.lastAccessedAt = now
	return e.response.Clone(), true
}

// Set stores resp under key. A non-positive ttl means DefaultTTL.
func (c *InMemoryCache) Set(ctx context.Context, key string, resp domain.Response, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxEntries {
		c.evictLocked()
	}

	now := c.now()
	c.items[key] = &entry{
		response:       resp.Clone(),
		storedAt:       now,
		ttl:            ttl,
		lastAccessedAt: now,
	}
	return nil
}

func (c *InMemoryCache) evictLocked() {
	n := max(1, int(float64(len(c.items))*evictFraction))

	keys := make([]string, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		return c.items[a].lastAccessedAt.Compare(c.items[b].lastAccessedAt)
	})

	for _, k := range keys[:n] {
		delete(c.items, k)
	}
}

func (c *InMemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.items)
}

func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
