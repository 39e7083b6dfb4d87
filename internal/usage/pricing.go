package usage

// ModelPricing contains per-model token pricing in USD per million tokens.
type ModelPricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// pricingTable holds the fixed pricing for the supported model set.
// Unknown models cost zero rather than failing a request.
var pricingTable = map[string]ModelPricing{
	"gpt-4o":                     {InputPerMTok: 2.50, OutputPerMTok: 10.00},
	"gpt-4o-mini":                {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"o3-mini":                    {InputPerMTok: 1.10, OutputPerMTok: 4.40},
	"claude-3-5-sonnet-20241022": {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"claude-3-7-sonnet-20250219": {InputPerMTok: 3.00, OutputPerMTok: 15.00},
}

// PricingFor returns the pricing for a model, if known.
func PricingFor(model string) (ModelPricing, bool) {
	p, ok := pricingTable[model]
	return p, ok
}

// Cost computes the USD cost for a request against a model.
func Cost(model string, inputTokens, outputTokens int) float64 {
	p, ok := pricingTable[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)*p.InputPerMTok/1e6 + float64(outputTokens)*p.OutputPerMTok/1e6
}
