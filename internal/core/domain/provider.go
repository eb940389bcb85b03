package domain

// ProviderID identifies an external LLM completion backend.
type ProviderID string

const (
	ProviderOpenAI    ProviderID = "openai"
	ProviderAnthropic ProviderID = "anthropic"
	ProviderGemini    ProviderID = "gemini"
)

// KnownProviders lists every backend this build can talk to, in default
// fallback order.
var KnownProviders = []ProviderID{
	ProviderOpenAI,
	ProviderAnthropic,
	ProviderGemini,
}

func (p ProviderID) String() string {
	return string(p)
}

// IsKnown reports whether the identifier names a compiled-in backend.
func (p ProviderID) IsKnown() bool {
	for _, known := range KnownProviders {
		if p == known {
			return true
		}
	}
	return false
}
