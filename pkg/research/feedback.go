package research

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/schema"
)

// FeedbackGenerator asks clarifying questions about a research request
// before any searching starts.
type FeedbackGenerator struct {
	Completer Completer
	Logger    *slog.Logger
}

func NewFeedbackGenerator(c Completer) *FeedbackGenerator {
	return &FeedbackGenerator{Completer: c, Logger: slog.Default()}
}

type feedbackResponse struct {
	Questions []string `json:"questions" validate:"required"`
}

// Generate returns up to n follow-up questions for query.
func (g *FeedbackGenerator) Generate(ctx context.Context, query string, n int) ([]string, error) {
	n = max(n, 1)
	g.Logger.Info("Generating clarifying questions", "count", n)

	input := fmt.Sprintf("Given the following query from the user, ask some follow up questions to clarify the research direction. Return a maximum of %d questions, but feel free to return less if the original query is clear: <query>%s</query>", n, query)

	raw, err := g.Completer.CompleteStructured(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt()),
		llms.TextParts(llms.ChatMessageTypeHuman, input),
	}, feedbackSchema)
	if err != nil {
		return nil, fmt.Errorf("feedback generation failed: %w", err)
	}

	resp, err := schema.Decode[feedbackResponse](raw)
	if err != nil {
		return nil, fmt.Errorf("feedback generation failed: %w", err)
	}

	questions := resp.Questions
	if len(questions) > n {
		questions = questions[:n]
	}
	return questions, nil
}

// CombineFeedback folds the user's answers to the clarifying questions into
// the research topic.
func CombineFeedback(query string, questions, answers []string) string {
	out := "Initial Query: " + query
	if len(questions) == 0 {
		return out
	}
	out += "\nFollow-up Questions and Answers:"
	for i, q := range questions {
		a := ""
		if i < len(answers) {
			a = answers[i]
		}
		out += fmt.Sprintf("\nQ: %s\nA: %s", q, a)
	}
	return out
}
