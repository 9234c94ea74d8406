// Package llm abstracts the reasoning backend behind a single-call
// interface. Two providers are wired: Anthropic (default) and OpenAI,
// selected by LLM_PROVIDER.
package llm

import (
	"context"
	"fmt"
)

// Client issues one system+user completion and returns the raw text.
type Client interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Settings selects and configures a provider.
type Settings struct {
	Provider       string
	AnthropicKey   string
	AnthropicModel string
	OpenAIKey      string
	OpenAIModel    string
}

// New builds the provider named by s.Provider.
func New(s Settings) (Client, error) {
	switch s.Provider {
	case "", "anthropic":
		if s.AnthropicKey == "" {
			return nil, fmt.Errorf("anthropic provider selected but ANTHROPIC_API_KEY is empty")
		}
		return newAnthropic(s.AnthropicKey, s.AnthropicModel), nil
	case "openai":
		if s.OpenAIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY is empty")
		}
		return newOpenAI(s.OpenAIKey, s.OpenAIModel), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", s.Provider)
	}
}
