package agent

import (
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// geminiBaseURL is Google's OpenAI-compatible chat completion endpoint.
const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// NewGeminiProvider creates a Gemini provider. Gemini speaks the OpenAI chat
// completion protocol on its compatibility endpoint, so the OpenAI conversion
// path is reused with a different base URL.
func NewGeminiProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(geminiBaseURL),
		),
		name: "gemini",
	}
}
