package agent

import (
	"context"
	"fmt"

	"github.com/quizora/quizora/pkg/keypool"
)

// LLMProvider is a uniform interface over external LLM services.
type LLMProvider interface {
	// Call makes one LLM API call.
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)

	// Name returns the provider name.
	Name() string
}

// ProviderCreator builds providers from credentials. Tests inject fakes here.
type ProviderCreator interface {
	NewProvider(cred keypool.Credential) (LLMProvider, error)
}

// ProviderFactory is the default ProviderCreator backed by real SDK clients.
type ProviderFactory struct{}

// NewProvider creates an LLM provider bound to the credential's API key.
func (f *ProviderFactory) NewProvider(cred keypool.Credential) (LLMProvider, error) {
	switch cred.Provider {
	case "gemini":
		return NewGeminiProvider(cred.APIKey), nil
	case "openai":
		return NewOpenAIProvider(cred.APIKey), nil
	case "anthropic":
		return NewAnthropicProvider(cred.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cred.Provider)
	}
}
