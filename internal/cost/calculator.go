package cost

import (
	"math"

	"go.uber.org/zap"

	"github.com/sells-group/contract-payments/internal/config"
	"github.com/sells-group/contract-payments/pkg/anthropic"
)

// Prompt-cache multipliers applied to the input price.
const (
	cacheWriteMul = 1.25
	cacheReadMul  = 0.1
)

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input  float64
	Output float64
}

// Calculator estimates the cost of model calls.
type Calculator struct {
	rates map[string]ModelRate
}

// NewCalculator builds a Calculator from the pricing section of the config.
// A nil or empty section falls back to DefaultRates.
func NewCalculator(cfg config.PricingConfig) *Calculator {
	if len(cfg.Anthropic) == 0 {
		return &Calculator{rates: DefaultRates()}
	}
	rates := make(map[string]ModelRate, len(cfg.Anthropic))
	for model, p := range cfg.Anthropic {
		rates[model] = ModelRate{Input: p.Input, Output: p.Output}
	}
	return &Calculator{rates: rates}
}

// Estimate returns the USD cost of one call, rounded to a hundredth of a
// cent. Unknown models cost 0.
func (c *Calculator) Estimate(model string, u anthropic.TokenUsage) float64 {
	rate, ok := c.rates[model]
	if !ok {
		return 0
	}
	in := float64(u.InputTokens) / 1e6 * rate.Input
	out := float64(u.OutputTokens) / 1e6 * rate.Output
	cw := float64(u.CacheCreationInputTokens) / 1e6 * rate.Input * cacheWriteMul
	cr := float64(u.CacheReadInputTokens) / 1e6 * rate.Input * cacheReadMul
	return math.Round((in+out+cw+cr)*1e4) / 1e4
}

// Log records token usage and the estimate for one document.
func (c *Calculator) Log(model, file string, u anthropic.TokenUsage) float64 {
	usd := c.Estimate(model, u)
	zap.L().Info("cost attribution",
		zap.String("model", model),
		zap.String("file", file),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_write_tokens", u.CacheCreationInputTokens),
		zap.Int64("cache_read_tokens", u.CacheReadInputTokens),
		zap.Float64("estimated_cost_usd", usd),
	)
	return usd
}

// DefaultRates returns the built-in price list.
func DefaultRates() map[string]ModelRate {
	return map[string]ModelRate{
		"claude-haiku-4-5-20251001":  {Input: 1.00, Output: 5.00},
		"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		"claude-opus-4-6":            {Input: 15.00, Output: 75.00},
	}
}
