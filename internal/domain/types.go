package domain

import "time"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
}

// WithModel returns a shallow copy of the request targeting another model.
func (r ChatRequest) WithModel(model string) ChatRequest {
	r.Model = model
	return r
}

// RoutingDecision is produced fresh for every call and never persisted.
type RoutingDecision struct {
	ShouldRoute bool    `json:"should_route"`
	TargetModel string  `json:"target_model"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning"`
}

// RunRecord is the structured record reported to the tracking sink.
type RunRecord struct {
	Provider       string    `json:"provider"`
	Model          string    `json:"model"`
	RequestedModel string    `json:"requestedModel,omitempty"`
	Input          string    `json:"input"`
	Output         string    `json:"output"`
	TokensUsed     int       `json:"tokensUsed"`
	InputTokens    int       `json:"inputTokens,omitempty"`
	OutputTokens   int       `json:"outputTokens,omitempty"`
	LatencyMs      int64     `json:"latency"`
	Success        bool      `json:"success"`
	Savings        float64   `json:"savings,omitempty"`
	Error          string    `json:"error,omitempty"`
	RequestID      string    `json:"requestId,omitempty"`
	CorrelationID  string    `json:"correlationId,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// ChatResponse is the OpenAI-compatible body returned by the HTTP surface.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
	Router  *Router  `json:"x_router,omitempty"`
}

type Router struct {
	Provider       string  `json:"provider"`
	RequestedModel string  `json:"requested_model"`
	Routed         bool    `json:"routed"`
	CacheHit       bool    `json:"cache_hit"`
	QualityScore   float64 `json:"quality_score,omitempty"`
	SavingsUSD     float64 `json:"savings_usd"`
	LatencyMs      int64   `json:"latency_ms"`
	RequestID      string  `json:"request_id"`
	TraceID        string  `json:"trace_id,omitempty"`
}
