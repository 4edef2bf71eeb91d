package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/felipepmaragno/llm-router/internal/crypto"
	"github.com/felipepmaragno/llm-router/internal/domain"
	"github.com/felipepmaragno/llm-router/internal/orchestrator"
	"github.com/felipepmaragno/llm-router/internal/provider"
	"github.com/felipepmaragno/llm-router/internal/resilience"
	"github.com/felipepmaragno/llm-router/internal/router"
	"github.com/felipepmaragno/llm-router/internal/telemetry"
)

const version = "0.1.0"

type HandlerConfig struct {
	Orchestrator *orchestrator.Orchestrator
	Router       *router.Router
	Providers    *provider.Registry
	// APIKeyHash, when set, requires callers to present the matching bearer
	// token. It is produced by crypto.HashAPIKey.
	APIKeyHash    string
	Checkers      []HealthChecker
	HealthTimeout time.Duration
	Logger        *slog.Logger
}

type Handler struct {
	orch       *orchestrator.Orchestrator
	router     *router.Router
	providers  *provider.Registry
	apiKeyHash string
	logger     *slog.Logger
	mux        *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	healthTimeout := cfg.HealthTimeout
	if healthTimeout == 0 {
		healthTimeout = 5 * time.Second
	}

	h := &Handler{
		orch:       cfg.Orchestrator,
		router:     cfg.Router,
		providers:  cfg.Providers,
		apiKeyHash: cfg.APIKeyHash,
		logger:     logger,
		mux:        http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/chat/completions", h.authenticated(h.handleChatCompletions))
	h.mux.HandleFunc("POST /v1/route", h.authenticated(h.handleRoute))
	h.mux.HandleFunc("GET /health", h.handleHealth(cfg.Checkers, healthTimeout))
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) authenticated(next http.HandlerFunc) http.HandlerFunc {
	if h.apiKeyHash == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !crypto.MatchAPIKey(extractAPIKey(r), h.apiKeyHash) {
			writeError(w, http.StatusUnauthorized, "invalid_api_key", "missing or invalid API key")
			return
		}
		next(w, r)
	}
}

func (h *Handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}
	w.Header().Set("X-Request-ID", requestID)

	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	result, err := h.orch.Complete(ctx, req, orchestrator.CallOptions{
		RequestID:     requestID,
		CorrelationID: r.Header.Get("X-Correlation-ID"),
		SkipCache:     r.Header.Get("X-Skip-Cache") == "true",
		SkipRouting:   r.Header.Get("X-Skip-Routing") == "true",
	})
	if err != nil {
		status, code := statusFor(err)
		h.logger.Warn("chat completion failed", "request_id", requestID, "model", req.Model, "status", status, "error", err)
		writeError(w, status, code, err.Error())
		return
	}

	cacheHeader := "MISS"
	if result.CacheHit {
		cacheHeader = "HIT"
	}
	w.Header().Set("X-Cache", cacheHeader)
	w.Header().Set("X-Routed-Model", result.Model)
	writeJSON(w, http.StatusOK, toChatResponse(result, telemetry.GetTraceID(ctx)))
}

type routeRequest struct {
	Model    string           `json:"model"`
	Messages []domain.Message `json:"messages"`
}

type routeResponse struct {
	Decision domain.RoutingDecision `json:"decision"`
	Savings  router.Savings         `json:"savings"`
}

func (h *Handler) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Model == "" || len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "model and messages are required")
		return
	}

	writeJSON(w, http.StatusOK, routeResponse{
		Decision: h.router.Decide(r.Context(), req.Model, req.Messages),
		Savings:  h.router.CalculateSavings(r.Context(), req.Model, req.Messages),
	})
}

func (h *Handler) handleHealth(checkers []HealthChecker, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		results, healthy := runHealthChecks(ctx, checkers)

		status := HealthStatus{
			Status:  "healthy",
			Checks:  results,
			Version: version,
		}
		if h.providers != nil {
			status.Providers = h.providers.ListProviders()
		}

		httpStatus := http.StatusOK
		if !healthy {
			status.Status = "degraded"
			httpStatus = http.StatusServiceUnavailable
		}

		writeJSON(w, httpStatus, status)
	}
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func toChatResponse(result *orchestrator.Result, traceID string) domain.ChatResponse {
	resp := domain.ChatResponse{
		ID:      "chatcmpl-" + result.RequestID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   result.Model,
		Choices: []domain.Choice{{
			Index:        0,
			Message:      &domain.Message{Role: domain.RoleAssistant, Content: result.Completion.Text},
			FinishReason: "stop",
		}},
		Usage: domain.Usage{
			PromptTokens:     result.Completion.InputTokens,
			CompletionTokens: result.Completion.OutputTokens,
			TotalTokens:      result.Completion.TotalTokens(),
		},
		Router: &domain.Router{
			Provider:       result.Provider,
			RequestedModel: result.RequestedModel,
			Routed:         result.Model != result.RequestedModel,
			CacheHit:       result.CacheHit,
			QualityScore:   result.QualityScore,
			SavingsUSD:     result.Savings,
			LatencyMs:      result.Latency.Milliseconds(),
			RequestID:      result.RequestID,
			TraceID:        traceID,
		},
	}

	if oa, ok := result.Response.(*domain.OpenAIResponse); ok {
		if oa.ID != "" {
			resp.ID = oa.ID
		}
		if len(oa.Choices) > 0 && oa.Choices[0].FinishReason != "" {
			resp.Choices[0].FinishReason = oa.Choices[0].FinishReason
		}
	}
	return resp
}

// statusFor maps orchestrator errors to an HTTP status and error code.
// Provider client errors keep their status; other provider failures are 502.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, domain.ErrCostLimitExceeded):
		return http.StatusUnprocessableEntity, "cost_limit_exceeded"
	case errors.Is(err, domain.ErrProviderNotFound):
		return http.StatusBadGateway, "provider_not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case resilience.IsClientError(err):
		return resilience.StatusCode(err), "provider_rejected"
	default:
		return http.StatusBadGateway, "provider_error"
	}
}

func extractAPIKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    code,
			"code":    fmt.Sprint(status),
		},
	})
}
