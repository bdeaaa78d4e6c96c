package observer

import (
	"maps"
	"strings"
)

// ModelPricing holds per-million-token pricing for a model.
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// DefaultPricing contains sensible defaults for common models.
// Override or extend via [observer.pricing] in ragcore.toml.
var DefaultPricing = map[string]ModelPricing{
	// Gemini
	"gemini-2.0-flash":      {0.10, 0.40},
	"gemini-2.0-flash-lite": {0.0, 0.0},
	"gemini-2.5-flash":      {0.15, 0.60},
	"gemini-2.5-flash-lite": {0.0, 0.0},
	"gemini-2.5-pro":        {1.25, 10.00},

	// OpenAI
	"gpt-4o":       {2.50, 10.00},
	"gpt-4o-mini":  {0.15, 0.60},
	"gpt-4.1":      {2.00, 8.00},
	"gpt-4.1-mini": {0.40, 1.60},
	"gpt-4.1-nano": {0.10, 0.40},
	"o3-mini":      {1.10, 4.40},

	// OpenAI-compatible hosts
	"deepseek-chat":           {0.27, 1.10},
	"deepseek-reasoner":       {0.55, 2.19},
	"llama-3.3-70b-versatile": {0.59, 0.79},
	"mistral-large-latest":    {2.00, 6.00},

	// Anthropic
	"claude-sonnet-4-5": {3.00, 15.00},
	"claude-haiku-3-5":  {0.80, 4.00},
	"claude-opus-4":     {15.00, 75.00},
}

// CostCalculator computes USD cost from token counts.
type CostCalculator struct {
	pricing map[string]ModelPricing
}

// NewCostCalculator returns a calculator using DefaultPricing with
// overrides applied on top.
func NewCostCalculator(overrides map[string]ModelPricing) *CostCalculator {
	merged := maps.Clone(DefaultPricing)
	maps.Copy(merged, overrides)
	return &CostCalculator{pricing: merged}
}

// Price looks up the pricing of model. A provider prefix ("openai/gpt-4o")
// is ignored, and a dated snapshot ("gpt-4o-mini-2024-07-18") falls back to
// the longest known model name it extends.
func (c *CostCalculator) Price(model string) (ModelPricing, bool) {
	if i := strings.LastIndexByte(model, '/'); i >= 0 {
		if p, ok := c.pricing[model]; ok {
			return p, true
		}
		model = model[i+1:]
	}
	if p, ok := c.pricing[model]; ok {
		return p, true
	}
	best := ""
	for name := range c.pricing {
		if len(name) > len(best) && strings.HasPrefix(model, name+"-") {
			best = name
		}
	}
	if best == "" {
		return ModelPricing{}, false
	}
	return c.pricing[best], true
}

// Calculate returns the cost in USD for the token counts, or 0 for an
// unknown model.
func (c *CostCalculator) Calculate(model string, inputTokens, outputTokens int) float64 {
	p, ok := c.Price(model)
	if !ok {
		return 0
	}
	return (float64(inputTokens)*p.InputPerMillion + float64(outputTokens)*p.OutputPerMillion) / 1e6
}
