package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/felipepmaragno/llm-router/internal/domain"
	"github.com/felipepmaragno/llm-router/internal/metrics"
)

const (
	layerMemory = "memory"
	layerRemote = "remote"
)

// Layered checks the in-process cache first, always, then the remote sink.
// A remote hit is copied into the local cache. Remote failures are logged and
// never returned.
type Layered struct {
	local  *InMemoryCache
	remote Cache
	logger *slog.Logger
}

// NewLayered returns a Layered cache. remote may be nil.
func NewLayered(local *InMemoryCache, remote Cache, logger *slog.Logger) *Layered {
	if logger == nil {
		logger = slog.Default()
	}
	return &Layered{local: local, remote: remote, logger: logger}
}

func (l *Layered) Get(ctx context.Context, key string) (domain.Response, bool) {
	if resp, ok := l.local.Get(ctx, key); ok {
		metrics.RecordCacheLookup(layerMemory, true)
		return resp, true
	}
	metrics.RecordCacheLookup(layerMemory, false)

	if l.remote == nil {
		return nil, false
	}

	resp, ok := l.remote.Get(ctx, key)
	metrics.RecordCacheLookup(layerRemote, ok)
	if !ok {
		return nil, false
	}

	_ = l.local.Set(ctx, key, resp, DefaultTTL)
	return resp, true
}

func (l *Layered) Set(ctx context.Context, key string, resp domain.Response, ttl time.Duration) error {
	_ = l.local.Set(ctx, key, resp, ttl)

	if l.remote != nil {
		if err := l.remote.Set(ctx, key, resp, ttl); err != nil {
			l.logger.Warn("remote cache set failed", "error", err)
		}
	}
	return nil
}

// Clear empties the in-process layer only.
func (l *Layered) Clear() {
	l.local.Clear()
}
