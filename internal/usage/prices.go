package usage

import "strings"

// PriceTable maps model name prefixes to their pricing. Lookup picks
// the longest matching prefix so dated or suffixed model names (e.g.
// "claude-sonnet-4-5-20250929") resolve to their family price.
type PriceTable map[string]Cost

// DefaultPrices are USD-per-million-token rates for the models the
// built-in providers expose. Unknown models estimate to zero; the
// warning lives with the caller, not here.
var DefaultPrices = PriceTable{
	// Anthropic
	"claude-opus-4":     {Input: 15, Output: 75, CacheRead: 1.5, CacheWrite: 18.75},
	"claude-sonnet-4":   {Input: 3, Output: 15, CacheRead: 0.30, CacheWrite: 3.75},
	"claude-3-7-sonnet": {Input: 3, Output: 15, CacheRead: 0.30, CacheWrite: 3.75},
	"claude-3-5-haiku":  {Input: 0.80, Output: 4, CacheRead: 0.08, CacheWrite: 1},
	"claude-haiku-4":    {Input: 1, Output: 5, CacheRead: 0.10, CacheWrite: 1.25},

	// OpenAI
	"gpt-4o":       {Input: 2.5, Output: 10, CacheRead: 1.25},
	"gpt-4o-mini":  {Input: 0.15, Output: 0.60, CacheRead: 0.075},
	"gpt-4.1":      {Input: 2, Output: 8, CacheRead: 0.50},
	"gpt-4.1-mini": {Input: 0.40, Output: 1.60, CacheRead: 0.10},
	"o4-mini":      {Input: 1.10, Output: 4.40, CacheRead: 0.275},
}

// Merge returns a new table holding the receiver's entries with the
// overrides applied on top. Neither input is mutated.
func (t PriceTable) Merge(overrides map[string]Cost) PriceTable {
	merged := make(PriceTable, len(t)+len(overrides))
	for prefix, cost := range t {
		merged[prefix] = cost
	}
	for prefix, cost := range overrides {
		merged[prefix] = cost
	}
	return merged
}

// Lookup returns the pricing for a model name, matching the longest
// registered prefix. The second return is false when no entry matches.
func (t PriceTable) Lookup(model string) (Cost, bool) {
	var (
		best    Cost
		bestLen = -1
	)
	for prefix, cost := range t {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best = cost
			bestLen = len(prefix)
		}
	}
	return best, bestLen >= 0
}

// EstimateCost estimates the USD cost of a call against this table.
// Unknown models cost zero.
func (t PriceTable) EstimateCost(model string, u Usage) float64 {
	cost, ok := t.Lookup(model)
	if !ok {
		return 0
	}
	return cost.Estimate(u)
}
