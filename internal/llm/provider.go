package llm

import "strings"

// Provider is the closed set of model backends an instance can select.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGroq      Provider = "groq"
	ProviderGrok      Provider = "grok"
	ProviderGemini    Provider = "gemini"
)

// Providers lists every supported provider.
var Providers = []Provider{ProviderOpenAI, ProviderAnthropic, ProviderGroq, ProviderGrok, ProviderGemini}

// ParseProvider maps a stored provider key onto a Provider.
func ParseProvider(raw string) (Provider, bool) {
	p := Provider(strings.ToLower(strings.TrimSpace(raw)))
	switch p {
	case ProviderOpenAI, ProviderAnthropic, ProviderGroq, ProviderGrok, ProviderGemini:
		return p, true
	default:
		return "", false
	}
}

// DefaultModel is used when a configuration names a provider but no model.
func (p Provider) DefaultModel() string {
	switch p {
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderAnthropic:
		return "anthropic.claude-3-haiku-20240307-v1:0"
	case ProviderGroq:
		return "llama-3.1-8b-instant"
	case ProviderGrok:
		return "grok-2-latest"
	case ProviderGemini:
		return "gemini-2.5-flash"
	default:
		return ""
	}
}
