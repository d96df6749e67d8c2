package llm

import (
	"fmt"
	"os"
	"strings"
)

// Provider identifies which SDK serves a model.
type Provider int

const (
	ProviderOpenAI Provider = iota
	ProviderAnthropic
	ProviderGoogle
)

func (p Provider) String() string {
	switch p {
	case ProviderAnthropic:
		return "anthropic"
	case ProviderGoogle:
		return "google"
	default:
		return "openai"
	}
}

// DetectProvider maps a model name to its serving provider. Anything that is
// not recognizably Anthropic or Google goes through the OpenAI-compatible
// path, which also covers local inference servers.
func DetectProvider(model string) Provider {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "claude"):
		return ProviderAnthropic
	case strings.HasPrefix(m, "gemini"), strings.HasPrefix(m, "models/gemini"):
		return ProviderGoogle
	default:
		return ProviderOpenAI
	}
}

// DefaultToolFormat picks the tool-call text convention for models that do
// not reliably use their provider's structured tool-call fields. Hosted
// frontier models get the native format; open-weight families that were
// trained on tagged blocks get the Hermes scanner, and Gemma-style models
// the function_call convention.
func DefaultToolFormat(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "hermes"),
		strings.Contains(m, "qwen"),
		strings.Contains(m, "llama"),
		strings.Contains(m, "mistral"),
		strings.Contains(m, "deepseek"):
		return "hermes"
	case strings.Contains(m, "gemma"):
		return "gemini"
	default:
		return "native"
	}
}

// NewClient builds the provider client for the given model. API keys come
// from the environment: ANTHROPIC_API_KEY, GEMINI_API_KEY (or
// GOOGLE_API_KEY), OPENAI_API_KEY. baseURL overrides the OpenAI-compatible
// endpoint and is ignored for the other providers.
func NewClient(model, baseURL string) (Client, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("no model configured")
	}

	switch DetectProvider(model) {
	case ProviderAnthropic:
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set for model %s", model)
		}
		return NewAnthropicClient(key, model), nil

	case ProviderGoogle:
		key := os.Getenv("GEMINI_API_KEY")
		if key == "" {
			key = os.Getenv("GOOGLE_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY not set for model %s", model)
		}
		return NewGoogleClient(key, model)

	default:
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" && baseURL == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY not set for model %s", model)
		}
		return NewOpenAIClient(key, model, baseURL), nil
	}
}
