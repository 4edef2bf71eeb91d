package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Shape identifies the wire shape a provider answered with.
type Shape string

const (
	ShapeOpenAI    Shape = "openai"
	ShapeAnthropic Shape = "anthropic"
	ShapeGemini    Shape = "gemini"
)

// Completion is the canonical view of any provider response. The orchestrator
// only ever looks at responses through this shape.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

func (c Completion) TotalTokens() int {
	return c.InputTokens + c.OutputTokens
}

// Response is a closed union over provider response shapes.
type Response interface {
	Shape() Shape
	Canonical() Completion
	// Clone returns a deep copy sharing no memory with the receiver.
	Clone() Response
	response()
}

// OpenAIResponse mirrors the chat completions body:
// {choices[{message:{content}}], usage:{prompt_tokens,completion_tokens,total_tokens}}.
type OpenAIResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

type Choice struct {
	Index        int      `json:"index"`
	Message      *Message `json:"message,omitempty"`
	FinishReason string   `json:"finish_reason,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (r *OpenAIResponse) Shape() Shape { return ShapeOpenAI }
func (r *OpenAIResponse) response()    {}

func (r *OpenAIResponse) Clone() Response {
	out := *r
	out.Choices = make([]Choice, len(r.Choices))
	for i, c := range r.Choices {
		if c.Message != nil {
			m := *c.Message
			c.Message = &m
		}
		out.Choices[i] = c
	}
	return &out
}

func (r *OpenAIResponse) Canonical() Completion {
	var text string
	if len(r.Choices) > 0 && r.Choices[0].Message != nil {
		text = r.Choices[0].Message.Content
	}
	return Completion{
		Text:         text,
		InputTokens:  r.Usage.PromptTokens,
		OutputTokens: r.Usage.CompletionTokens,
	}
}

// AnthropicResponse mirrors the messages body:
// {content:[{type,text}], usage:{input_tokens,output_tokens}}.
type AnthropicResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason,omitempty"`
	Usage      AnthropicUsage `json:"usage"`
}

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (r *AnthropicResponse) Shape() Shape { return ShapeAnthropic }
func (r *AnthropicResponse) response()    {}

func (r *AnthropicResponse) Clone() Response {
	out := *r
	out.Content = append([]ContentBlock(nil), r.Content...)
	return &out
}

func (r *AnthropicResponse) Canonical() Completion {
	var sb strings.Builder
	for _, block := range r.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return Completion{
		Text:         sb.String(),
		InputTokens:  r.Usage.InputTokens,
		OutputTokens: r.Usage.OutputTokens,
	}
}

// GeminiResponse is the flattened generateContent result.
type GeminiResponse struct {
	Model            string `json:"model"`
	Text             string `json:"text"`
	PromptTokens     int    `json:"prompt_token_count"`
	CandidatesTokens int    `json:"candidates_token_count"`
}

func (r *GeminiResponse) Shape() Shape { return ShapeGemini }
func (r *GeminiResponse) response()    {}

func (r *GeminiResponse) Clone() Response {
	out := *r
	return &out
}

func (r *GeminiResponse) Canonical() Completion {
	return Completion{
		Text:         r.Text,
		InputTokens:  r.PromptTokens,
		OutputTokens: r.CandidatesTokens,
	}
}

type responseEnvelope struct {
	Shape Shape           `json:"shape"`
	Body  json.RawMessage `json:"body"`
}

// MarshalResponse encodes a response together with its shape tag so it can be
// stored in a remote cache and decoded back into the right variant.
func MarshalResponse(resp Response) ([]byte, error) {
	body, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal response body: %w", err)
	}
	return json.Marshal(responseEnvelope{Shape: resp.Shape(), Body: body})
}

func UnmarshalResponse(data []byte) (Response, error) {
	var env responseEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	var resp Response
	switch env.Shape {
	case ShapeOpenAI:
		resp = &OpenAIResponse{}
	case ShapeAnthropic:
		resp = &AnthropicResponse{}
	case ShapeGemini:
		resp = &GeminiResponse{}
	default:
		return nil, fmt.Errorf("unknown response shape %q", env.Shape)
	}

	if err := json.Unmarshal(env.Body, resp); err != nil {
		return nil, fmt.Errorf("unmarshal %s body: %w", env.Shape, err)
	}
	return resp, nil
}
