// Package openai calls the chat completions API. Any OpenAI-compatible
// endpoint (Ollama, vLLM, proxies) works through the base URL.
package openai

import (
	"context"
	"errors"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/felipepmaragno/llm-router/internal/domain"
	"github.com/felipepmaragno/llm-router/internal/provider"
)

type Provider struct {
	id     string
	client openai.Client
}

type Option func(*config)

type config struct {
	id         string
	baseURL    string
	httpClient *http.Client
}

// WithID overrides the provider ID reported in errors and metrics.
func WithID(id string) Option {
	return func(c *config) { c.id = id }
}

func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *config) { c.httpClient = client }
}

func New(apiKey string, opts ...Option) *Provider {
	cfg := config{id: "openai"}
	for _, opt := range opts {
		opt(&cfg)
	}

	// Retries are handled by the orchestrator.
	reqOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(apiKey))
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	}

	return &Provider{
		id:     cfg.id,
		client: openai.NewClient(reqOpts...),
	}
}

func (p *Provider) ID() string {
	return p.id
}

func (p *Provider) Create(ctx context.Context, req domain.ChatRequest) (domain.Response, error) {
	resp, err := p.client.Chat.Completions.New(ctx, toParams(req))
	if err != nil {
		return nil, provider.Wrap(p.id, req.Model, statusOf(err), err)
	}
	return toResponse(resp), nil
}

func toParams(req domain.ChatRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case domain.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}
	if req.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*req.MaxTokens))
	}
	if len(req.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: req.Stop}
	}
	return params
}

func toResponse(resp *openai.ChatCompletion) *domain.OpenAIResponse {
	out := &domain.OpenAIResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Usage: domain.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	for _, c := range resp.Choices {
		out.Choices = append(out.Choices, domain.Choice{
			Index: int(c.Index),
			Message: &domain.Message{
				Role:    domain.RoleAssistant,
				Content: c.Message.Content,
			},
			FinishReason: c.FinishReason,
		})
	}
	return out
}

func statusOf(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
