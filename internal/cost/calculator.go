// Package cost prices LLM token usage per provider and model.
package cost

import "go.uber.org/zap"

// Provider names used for pricing lookups.
const (
	ProviderClaude = "claude"
	ProviderGroq   = "groq"
)

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	Groq      map[string]ModelRate `yaml:"groq" mapstructure:"groq"`
}

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Usage is the token consumption of one completion.
type Usage struct {
	Provider     string
	Model        string
	InputTokens  int64
	OutputTokens int64
	CacheWrite   int64
	CacheRead    int64
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the cost for a Claude API call.
func (c *Calculator) Claude(model string, input, output, cacheWrite, cacheRead int64) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}
	return perMillion(input, rate.Input) +
		perMillion(output, rate.Output) +
		perMillion(cacheWrite, rate.Input*rate.CacheWriteMul) +
		perMillion(cacheRead, rate.Input*rate.CacheReadMul)
}

// Groq computes the cost for a Groq chat completion.
func (c *Calculator) Groq(model string, prompt, completion int64) float64 {
	rate, ok := c.rates.Groq[model]
	if !ok {
		return 0
	}
	return perMillion(prompt, rate.Input) + perMillion(completion, rate.Output)
}

// Price returns the cost of u in USD. Unknown providers or models cost 0.
func (c *Calculator) Price(u Usage) float64 {
	switch u.Provider {
	case ProviderClaude:
		return c.Claude(u.Model, u.InputTokens, u.OutputTokens, u.CacheWrite, u.CacheRead)
	case ProviderGroq:
		return c.Groq(u.Model, u.InputTokens, u.OutputTokens)
	default:
		return 0
	}
}

// LogCost logs token usage and estimated cost with structured zap fields
// and returns the estimate.
func (c *Calculator) LogCost(u Usage, capability string) float64 {
	usd := c.Price(u)
	zap.L().Info("cost attribution",
		zap.String("provider", u.Provider),
		zap.String("model", u.Model),
		zap.String("capability", capability),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_write_tokens", u.CacheWrite),
		zap.Int64("cache_read_tokens", u.CacheRead),
		zap.Float64("estimated_cost_usd", usd),
	)
	return usd
}

func perMillion(tokens int64, rate float64) float64 {
	return (float64(tokens) / 1e6) * rate
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 1.00, Output: 5.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-3-haiku-20240307": {
				Input: 0.25, Output: 1.25,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
		Groq: map[string]ModelRate{
			"llama-3.3-70b-versatile": {Input: 0.59, Output: 0.79},
			"llama-3.1-8b-instant":    {Input: 0.05, Output: 0.08},
		},
	}
}
