package llm

// Vendor names used to pick a provider for a model.
const (
	VendorAnthropic = "anthropic"
	VendorOpenAI    = "openai"
)

// MinThinkingBudget is the smallest extended-thinking budget Anthropic accepts.
// Smaller non-zero budgets are clamped up to this value.
const MinThinkingBudget = 1024

// DefaultModel is used when no model was configured.
const DefaultModel = "claude-3-7-sonnet-20250219"

// ModelSpec describes one entry in the fixed set of supported models.
type ModelSpec struct {
	ID               string
	Vendor           string
	SupportsThinking bool
}

var supportedModels = []ModelSpec{
	{ID: "gpt-4o", Vendor: VendorOpenAI},
	{ID: "gpt-4o-mini", Vendor: VendorOpenAI},
	{ID: "o3-mini", Vendor: VendorOpenAI},
	{ID: "claude-3-5-sonnet-20241022", Vendor: VendorAnthropic},
	{ID: "claude-3-7-sonnet-20250219", Vendor: VendorAnthropic, SupportsThinking: true},
}

// SupportedModels returns the fixed model set in declaration order.
func SupportedModels() []ModelSpec {
	out := make([]ModelSpec, len(supportedModels))
	copy(out, supportedModels)
	return out
}

// LookupModel finds a supported model by ID.
func LookupModel(id string) (ModelSpec, bool) {
	for _, m := range supportedModels {
		if m.ID == id {
			return m, true
		}
	}
	return ModelSpec{}, false
}

// ClampThinkingBudget enforces the vendor minimum. Zero stays zero (disabled).
func ClampThinkingBudget(budget int64) int64 {
	if budget > 0 && budget < MinThinkingBudget {
		return MinThinkingBudget
	}
	return budget
}
