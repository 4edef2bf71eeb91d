package optimize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felipepmaragno/llm-router/internal/domain"
)

func TestHTTPOptimizer_OptimizesAndMemoizes(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/optimize", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var in optimizeRequest
		json.NewDecoder(r.Body).Decode(&in)
		json.NewEncoder(w).Encode(optimizeResponse{Optimized: strings.ToUpper(in.Text)})
	}))
	defer srv.Close()

	o := NewHTTPOptimizer(srv.URL, "k", srv.Client())

	for i := 0; i < 3; i++ {
		got, err := o.Optimize(context.Background(), "please summarize")
		require.NoError(t, err)
		assert.Equal(t, "PLEASE SUMMARIZE", got)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func upperServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		var in optimizeRequest
		json.NewDecoder(r.Body).Decode(&in)
		json.NewEncoder(w).Encode(optimizeResponse{Optimized: strings.ToUpper(in.Text)})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPOptimizer_MemoStaysBounded(t *testing.T) {
	var hits atomic.Int32
	srv := upperServer(t, &hits)
	o := NewHTTPOptimizer(srv.URL, "", srv.Client(), WithMemoSize(3))
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		_, err := o.Optimize(ctx, fmt.Sprintf("prompt %d", i))
		require.NoError(t, err)
		assert.LessOrEqual(t, o.memo.len(), 3)
	}
	assert.Equal(t, 3, o.memo.len())

	// prompt 47 is the least recently used survivor; touching it keeps it
	// while prompt 48 is evicted by the next insert.
	_, err := o.Optimize(ctx, "prompt 47")
	require.NoError(t, err)
	_, err = o.Optimize(ctx, "prompt 50")
	require.NoError(t, err)
	assert.Equal(t, int32(51), hits.Load())

	_, err = o.Optimize(ctx, "prompt 47")
	require.NoError(t, err)
	assert.Equal(t, int32(51), hits.Load())

	_, err = o.Optimize(ctx, "prompt 48")
	require.NoError(t, err)
	assert.Equal(t, int32(52), hits.Load())
}

func TestHTTPOptimizer_MemoEntriesExpire(t *testing.T) {
	var hits atomic.Int32
	srv := upperServer(t, &hits)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	o := NewHTTPOptimizer(srv.URL, "", srv.Client(),
		WithMemoTTL(time.Minute),
		WithClock(func() time.Time { return now }),
	)
	ctx := context.Background()

	_, err := o.Optimize(ctx, "please summarize")
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = o.Optimize(ctx, "please summarize")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	now = now.Add(time.Second)
	got, err := o.Optimize(ctx, "please summarize")
	require.NoError(t, err)
	assert.Equal(t, "PLEASE SUMMARIZE", got)
	assert.Equal(t, int32(2), hits.Load())
}

func TestHTTPOptimizer_FailureReturnsOriginal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	got, err := NewHTTPOptimizer(srv.URL, "", srv.Client()).Optimize(context.Background(), "original")

	assert.Error(t, err)
	assert.Equal(t, "original", got)
}

func TestHTTPOptimizer_EmptyResultKeepsOriginal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"optimized":"  "}`))
	}))
	defer srv.Close()

	got, err := NewHTTPOptimizer(srv.URL, "", srv.Client()).Optimize(context.Background(), "original")

	require.NoError(t, err)
	assert.Equal(t, "original", got)
}

type stubOptimizer map[string]string

func (s stubOptimizer) Optimize(_ context.Context, text string) (string, error) {
	if out, ok := s[text]; ok {
		return out, nil
	}
	return text, errors.New("unavailable")
}

func TestMessages(t *testing.T) {
	in := []domain.Message{
		{Role: domain.RoleSystem, Content: "be terse"},
		{Role: domain.RoleUser, Content: "could you please tell me the time"},
		{Role: domain.RoleAssistant, Content: ""},
	}
	o := stubOptimizer{"could you please tell me the time": "time?"}

	out := Messages(context.Background(), o, in, slog.Default())

	assert.Equal(t, "be terse", out[0].Content)
	assert.Equal(t, "time?", out[1].Content)
	assert.Equal(t, domain.RoleUser, out[1].Role)
	assert.Equal(t, "could you please tell me the time", in[1].Content, "input must not be modified")
}
