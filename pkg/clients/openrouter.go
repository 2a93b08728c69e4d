package clients

import (
	"fmt"

	"github.com/tmc/langchaingo/llms/openai"
)

// OpenRouterDefaultModel is used when no model is configured.
const OpenRouterDefaultModel ModelType = "anthropic/claude-3-opus-20240229"

// OpenRouter talks to any OpenAI compatible endpoint; baseURL defaults to
// OpenRouter itself.
func OpenRouter(apiKey, baseURL string, model ModelType) (*openai.LLM, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OPENROUTER_API_KEY is not set")
	}
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	if model == "" {
		model = OpenRouterDefaultModel
	}

	llm, err := openai.New(
		openai.WithToken(apiKey),
		openai.WithBaseURL(baseURL),
		openai.WithModel(string(model)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create openrouter client: %w", err)
	}

	return llm, nil
}
