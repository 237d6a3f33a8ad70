package budget

import "github.com/rs/zerolog"

// ModelPrice is USD per 1,000 tokens, matching the spec's per-1k convention
// (the teacher's pricing.go uses per-1M; this is the pack's price-table idiom
// re-keyed to this domain's unit).
type ModelPrice struct {
	Input  float64 `bson:"input" json:"input"`
	Output float64 `bson:"output" json:"output"`
}

// unpricedFallback is billed when a model has no table entry.
var unpricedFallback = ModelPrice{Input: 0.001, Output: 0.002}

func defaultPricingTable() map[string]ModelPrice {
	return map[string]ModelPrice{
		"gemini-1.5-flash":  {Input: 0.000075, Output: 0.0003},
		"gemini-2.5-flash":  {Input: 0.0003, Output: 0.0025},
		"gemini-2.5-pro":    {Input: 0.00125, Output: 0.01},
		"gpt-4o":            {Input: 0.005, Output: 0.015},
		"gpt-4o-mini":       {Input: 0.00015, Output: 0.0006},
		"claude-3-5-sonnet": {Input: 0.003, Output: 0.015},
		"claude-3-5-haiku":  {Input: 0.0008, Output: 0.004},
	}
}

// priceLookup resolves a model to its price, preferring a BudgetConfig
// override, falling back to the built-in table, then the unpriced default
// with a logged warning.
func priceLookup(model string, overrides map[string]ModelPrice, log zerolog.Logger) ModelPrice {
	if overrides != nil {
		if p, ok := overrides[model]; ok {
			return p
		}
	}
	if p, ok := defaultPricingTable()[model]; ok {
		return p
	}
	log.Warn().Str("model", model).Msg("model-not-priced")
	return unpricedFallback
}
