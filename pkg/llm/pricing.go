package llm

// PricingTable maps "provider/model" to per-million-token USD pricing. A
// missing entry estimates cost as zero rather than failing the call.
type PricingTable map[string]ModelPricing

// ModelPricing is cost per million tokens, the unit every provider's
// published pricing page uses.
type ModelPricing struct {
	PromptPerMillion     float64
	CompletionPerMillion float64
}

// DefaultPricing seeds the three wired providers with representative
// per-million-token rates; callers override for their own contracts.
func DefaultPricing() PricingTable {
	return PricingTable{
		"anthropic/claude-3-5-sonnet": {PromptPerMillion: 3.0, CompletionPerMillion: 15.0},
		"anthropic/claude-3-5-haiku":  {PromptPerMillion: 0.8, CompletionPerMillion: 4.0},
		"bedrock/anthropic.claude-3-5-sonnet": {PromptPerMillion: 3.0, CompletionPerMillion: 15.0},
		"langchain/default":           {PromptPerMillion: 1.0, CompletionPerMillion: 2.0},
	}
}

func (t PricingTable) estimate(provider, model string, usage Usage) float64 {
	p, ok := t[provider+"/"+model]
	if !ok {
		return 0
	}
	return float64(usage.PromptTokens)/1_000_000*p.PromptPerMillion +
		float64(usage.CompletionTokens)/1_000_000*p.CompletionPerMillion
}

// EstimateOutbound estimates the cost of sending promptTokens, before a
// response is known, for the Token Budget's pre-flight check.
func (t PricingTable) EstimateOutbound(provider, model string, promptTokens int) float64 {
	p, ok := t[provider+"/"+model]
	if !ok {
		return 0
	}
	return float64(promptTokens) / 1_000_000 * p.PromptPerMillion
}
