// Package cost estimates the dollar cost of LLM calls from a static price table.
// Estimates drive routing, savings and the cost ceiling before a call is made;
// Calculate reconciles against provider-reported usage afterwards.
package cost

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/felipepmaragno/llm-router/internal/domain"
)

const (
	charsPerToken         = 4
	messageOverheadTokens = 4
	outputRatio           = 0.3
)

// ModelPricing is expressed in dollars per million tokens.
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

type priceEntry struct {
	key     string
	pricing ModelPricing
}

// defaultPricing is matched by substring in declaration order, so more specific
// keys must come before the keys they contain ("gpt-4o-mini" before "gpt-4o"
// before "gpt-4").
var defaultPricing = []priceEntry{
	{"gpt-4o-mini", ModelPricing{InputPerMillion: 0.15, OutputPerMillion: 0.6}},
	{"gpt-4o", ModelPricing{InputPerMillion: 2.5, OutputPerMillion: 10}},
	{"gpt-4-turbo", ModelPricing{InputPerMillion: 10, OutputPerMillion: 30}},
	{"gpt-4-32k", ModelPricing{InputPerMillion: 60, OutputPerMillion: 120}},
	{"gpt-4", ModelPricing{InputPerMillion: 30, OutputPerMillion: 60}},
	{"gpt-3.5-turbo", ModelPricing{InputPerMillion: 0.5, OutputPerMillion: 1.5}},
	{"o1-mini", ModelPricing{InputPerMillion: 3, OutputPerMillion: 12}},
	{"o1", ModelPricing{InputPerMillion: 15, OutputPerMillion: 60}},
	{"claude-3-5-sonnet", ModelPricing{InputPerMillion: 3, OutputPerMillion: 15}},
	{"claude-3-5-haiku", ModelPricing{InputPerMillion: 0.8, OutputPerMillion: 4}},
	{"claude-3-opus", ModelPricing{InputPerMillion: 15, OutputPerMillion: 75}},
	{"claude-3-sonnet", ModelPricing{InputPerMillion: 3, OutputPerMillion: 15}},
	{"claude-3-haiku", ModelPricing{InputPerMillion: 0.25, OutputPerMillion: 1.25}},
	{"claude-opus-4", ModelPricing{InputPerMillion: 15, OutputPerMillion: 75}},
	{"claude-sonnet-4", ModelPricing{InputPerMillion: 3, OutputPerMillion: 15}},
	{"gemini-1.5-pro", ModelPricing{InputPerMillion: 1.25, OutputPerMillion: 5}},
	{"gemini-1.5-flash", ModelPricing{InputPerMillion: 0.075, OutputPerMillion: 0.3}},
	{"gemini-2.0-flash", ModelPricing{InputPerMillion: 0.1, OutputPerMillion: 0.4}},
}

var fallbackPricing = ModelPricing{InputPerMillion: 1.0, OutputPerMillion: 1.0}

// PricingFor returns the price of the first table key contained in model.
// Unknown models are priced at $1 per million tokens in both directions.
func PricingFor(model string) ModelPricing {
	for _, entry := range defaultPricing {
		if strings.Contains(model, entry.key) {
			return entry.pricing
		}
	}
	return fallbackPricing
}

// TokenEstimate is the heuristic token projection for a prompt.
type TokenEstimate struct {
	InputTokens  int
	OutputTokens int
}

// EstimateTokens projects input tokens as ceil(chars/4) plus 4 per message and
// output tokens as ceil(input*0.3), never less than one.
func EstimateTokens(messages []domain.Message) TokenEstimate {
	chars := 0
	for _, m := range messages {
		chars += utf8.RuneCountInString(m.Content)
	}

	input := int(math.Ceil(float64(chars)/charsPerToken)) + messageOverheadTokens*len(messages)
	output := int(math.Ceil(float64(input) * outputRatio))
	if output < 1 {
		output = 1
	}

	return TokenEstimate{InputTokens: input, OutputTokens: output}
}

// EstimateCost never fails and always returns a finite non-negative value.
func EstimateCost(model string, messages []domain.Message) float64 {
	tokens := EstimateTokens(messages)
	return price(PricingFor(model), tokens.InputTokens, tokens.OutputTokens)
}

func price(p ModelPricing, inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1_000_000*p.InputPerMillion +
		float64(outputTokens)/1_000_000*p.OutputPerMillion
}

// Calculator prices provider-reported usage after a call completes.
type Calculator struct {
	overrides map[string]ModelPricing
}

func NewCalculator() *Calculator {
	return &Calculator{
		overrides: make(map[string]ModelPricing),
	}
}

func (c *Calculator) Calculate(model string, completion domain.Completion) float64 {
	pricing, ok := c.overrides[model]
	if !ok {
		pricing = PricingFor(model)
	}
	return price(pricing, completion.InputTokens, completion.OutputTokens)
}

// SetPricing pins an exact-match price for reconciliation only; estimates keep
// using the static table.
func (c *Calculator) SetPricing(model string, pricing ModelPricing) {
	c.overrides[model] = pricing
}
