package anthropic

import (
	"context"
	"errors"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/felipepmaragno/llm-router/internal/domain"
	"github.com/felipepmaragno/llm-router/internal/provider"
)

type Provider struct {
	client anthropic.Client
}

// New builds the adapter. baseURL and httpClient are optional.
func New(apiKey, baseURL string, httpClient *http.Client) *Provider {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &Provider{client: anthropic.NewClient(opts...)}
}

func (p *Provider) ID() string {
	return "anthropic"
}

func (p *Provider) Create(ctx context.Context, req domain.ChatRequest) (domain.Response, error) {
	resp, err := p.client.Messages.New(ctx, toParams(req))
	if err != nil {
		return nil, provider.Wrap(p.ID(), req.Model, statusOf(err), err)
	}
	return toResponse(resp), nil
}

func toParams(req domain.ChatRequest) anthropic.MessageNewParams {
	system, rest := provider.SplitSystem(req.Messages)

	messages := make([]anthropic.MessageParam, 0, len(rest))
	for _, m := range rest {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == domain.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:         anthropic.Model(req.Model),
		MaxTokens:     int64(provider.MaxTokens(req)),
		Messages:      messages,
		StopSequences: req.Stop,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}
	return params
}

func toResponse(msg *anthropic.Message) *domain.AnthropicResponse {
	out := &domain.AnthropicResponse{
		ID:         msg.ID,
		Model:      string(msg.Model),
		StopReason: string(msg.StopReason),
		Usage: domain.AnthropicUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.Content = append(out.Content, domain.ContentBlock{Type: "text", Text: block.Text})
		}
	}
	return out
}

func statusOf(err error) int {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
