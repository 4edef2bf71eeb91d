package provider

import (
	"context"
	"errors"

	"github.com/felipepmaragno/llm-router/internal/domain"
)

// DefaultMaxTokens is sent to APIs that require an explicit output limit.
const DefaultMaxTokens = 4096

// Wrap converts an adapter failure into *domain.ProviderError. A zero status
// means no HTTP response was received. Context errors pass through unchanged.
func Wrap(providerID, model string, status int, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &domain.ProviderError{
		Provider:   providerID,
		Model:      model,
		StatusCode: status,
		Err:        err,
	}
}

// SplitSystem separates system messages from the conversation. Multiple
// system messages are joined with a blank line.
func SplitSystem(messages []domain.Message) (string, []domain.Message) {
	var system string
	rest := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

func MaxTokens(req domain.ChatRequest) int {
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		return *req.MaxTokens
	}
	return DefaultMaxTokens
}
