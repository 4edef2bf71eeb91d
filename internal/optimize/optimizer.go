// Package optimize rewrites prompt text through a remote optimization service
// before routing. A failed rewrite leaves the text untouched.
package optimize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/felipepmaragno/llm-router/internal/domain"
	"github.com/felipepmaragno/llm-router/internal/httputil"
)

type Optimizer interface {
	Optimize(ctx context.Context, text string) (string, error)
}

// HTTPOptimizer POSTs {"text": ...} to {baseURL}/optimize and expects
// {"optimized": ...}. Results are memoized per input text in a bounded LRU
// whose entries expire after the memo TTL.
type HTTPOptimizer struct {
	baseURL string
	apiKey  string
	client  *http.Client

	memoSize int
	memoTTL  time.Duration
	now      func() time.Time
	memo     *memo
}

type Option func(*HTTPOptimizer)

// WithMemoSize caps the number of memoized rewrites. Defaults to
// DefaultMemoSize.
func WithMemoSize(n int) Option {
	return func(o *HTTPOptimizer) {
		if n > 0 {
			o.memoSize = n
		}
	}
}

func WithMemoTTL(d time.Duration) Option {
	return func(o *HTTPOptimizer) {
		if d > 0 {
			o.memoTTL = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *HTTPOptimizer) {
		o.now = now
	}
}

func NewHTTPOptimizer(baseURL, apiKey string, client *http.Client, opts ...Option) *HTTPOptimizer {
	if client == nil {
		client = httputil.NewClient(httputil.SideChannelConfig())
	}
	o := &HTTPOptimizer{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		client:   client,
		memoSize: DefaultMemoSize,
		memoTTL:  DefaultMemoTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.memo = newMemo(o.memoSize, o.memoTTL, o.now)
	return o
}

type optimizeRequest struct {
	Text string `json:"text"`
}

type optimizeResponse struct {
	Optimized string `json:"optimized"`
}

func (o *HTTPOptimizer) Optimize(ctx context.Context, text string) (string, error) {
	if cached, ok := o.memo.get(text); ok {
		return cached, nil
	}

	body, err := json.Marshal(optimizeRequest{Text: text})
	if err != nil {
		return text, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/optimize", bytes.NewReader(body))
	if err != nil {
		return text, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return text, fmt.Errorf("optimize request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return text, fmt.Errorf("optimizer returned status %d", resp.StatusCode)
	}

	var out optimizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return text, fmt.Errorf("decode optimizer response: %w", err)
	}
	if strings.TrimSpace(out.Optimized) == "" {
		return text, nil
	}

	o.memo.put(text, out.Optimized)

	return out.Optimized, nil
}

// Messages rewrites the content of every message. Each failure is logged and
// that message keeps its original content. The input slice is not modified.
func Messages(ctx context.Context, o Optimizer, messages []domain.Message, logger *slog.Logger) []domain.Message {
	out := make([]domain.Message, len(messages))
	copy(out, messages)

	for i, m := range out {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		optimized, err := o.Optimize(ctx, m.Content)
		if err != nil {
			logger.Warn("prompt optimization failed", "error", err)
			continue
		}
		out[i].Content = optimized
	}
	return out
}
