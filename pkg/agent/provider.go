// Package agent runs an LLM loop on top of the tool pipeline. The model is
// an opaque generate capability; any tool call it attempts goes through the
// executor and its full permission, risk, and audit gates like every other
// caller.
package agent

import (
	"context"
	"fmt"
)

// LLMProvider is a model API backend.
type LLMProvider interface {
	// Call makes one model call.
	Call(ctx context.Context, request Request) (*Response, error)

	// Provider returns the provider name.
	Provider() string
}

// NewProvider creates a provider by name.
func NewProvider(name, apiKey string) (LLMProvider, error) {
	switch name {
	case "anthropic":
		return NewAnthropicProvider(apiKey), nil
	case "openai":
		return NewOpenAIProvider(apiKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}
