package clients

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/mikeboe/deep-research/pkg/config"
)

// New constructs the completion backend selected by cfg.LLMProvider. It is
// meant to be called once at process start and the result passed down.
func New(ctx context.Context, cfg *config.Config) (llms.Model, error) {
	model := ModelType(cfg.ReasoningModel)

	var (
		llm llms.Model
		err error
	)

	// llm must stay a nil interface when a constructor fails.
	switch cfg.LLMProvider {
	case config.ProviderGoogle, "":
		var m *googleai.GoogleAI
		if m, err = GoogleAI(ctx, cfg.GoogleApiKey, model); err == nil {
			llm = m
		}
	case config.ProviderOpenRouter:
		var m *openai.LLM
		if m, err = OpenRouter(cfg.OpenRouterApiKey, cfg.OpenRouterBaseURL, model); err == nil {
			llm = m
		}
	case config.ProviderAnthropic:
		var m *anthropic.LLM
		if m, err = AnthropicAI(cfg.AnthropicApiKey, model); err == nil {
			llm = m
		}
	default:
		err = fmt.Errorf("unknown llm provider: %s", cfg.LLMProvider)
	}

	if err != nil {
		return nil, err
	}
	return llm, nil
}
