package providers

import "strings"

// modelPricing holds USD cost per million tokens.
type modelPricing struct {
	InputPerM  float64
	OutputPerM float64
}

// priceTable maps model id prefixes to pricing. Lookup strips any
// "provider/" namespace before matching, longest prefix wins.
var priceTable = map[string]modelPricing{
	"gpt-4o-mini":     {InputPerM: 0.15, OutputPerM: 0.60},
	"gpt-4o":          {InputPerM: 2.50, OutputPerM: 10.00},
	"gpt-4.1-mini":    {InputPerM: 0.40, OutputPerM: 1.60},
	"gpt-4.1":         {InputPerM: 2.00, OutputPerM: 8.00},
	"o3":              {InputPerM: 2.00, OutputPerM: 8.00},
	"claude-haiku":    {InputPerM: 0.80, OutputPerM: 4.00},
	"claude-sonnet":   {InputPerM: 3.00, OutputPerM: 15.00},
	"claude-opus":     {InputPerM: 15.00, OutputPerM: 75.00},
	"claude-3-5":      {InputPerM: 3.00, OutputPerM: 15.00},
	"deepseek":        {InputPerM: 0.27, OutputPerM: 1.10},
	"llama":           {InputPerM: 0.20, OutputPerM: 0.20},
}

// defaultPricing is used when a model is not in the table, so cost totals
// stay plausible rather than silently zero.
var defaultPricing = modelPricing{InputPerM: 1.00, OutputPerM: 3.00}

// CostFor computes the USD cost of a call given its token usage.
func CostFor(model string, usage *UsageInfo) float64 {
	if usage == nil {
		return 0
	}
	p := pricingFor(model)
	return float64(usage.PromptTokens)/1e6*p.InputPerM +
		float64(usage.CompletionTokens)/1e6*p.OutputPerM
}

func pricingFor(model string) modelPricing {
	name := model
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	name = strings.ToLower(name)

	best := ""
	for prefix := range priceTable {
		if strings.HasPrefix(name, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return defaultPricing
	}
	return priceTable[best]
}
