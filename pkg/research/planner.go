package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/metrics"
	"github.com/mikeboe/deep-research/pkg/schema"
)

// QueryPlanner turns a topic into search queries.
type QueryPlanner interface {
	Plan(ctx context.Context, topic string, n int, learnings []string) ([]Query, error)
}

// Planner asks the completion service for query/goal pairs.
type Planner struct {
	Completer Completer
	Logger    *slog.Logger
}

func NewPlanner(c Completer) *Planner {
	return &Planner{Completer: c, Logger: slog.Default()}
}

type queriesResponse struct {
	Queries []Query `json:"queries" validate:"required,dive"`
}

// Plan returns at most n queries for topic. Prior learnings, when given, are
// offered as context so the new queries go deeper instead of repeating them.
// Any failure is reported as a *PlanningError.
func (p *Planner) Plan(ctx context.Context, topic string, n int, learnings []string) ([]Query, error) {
	n = max(n, 1)
	p.Logger.Info("Generating search queries", "count", n, "prior_learnings", len(learnings))

	input := fmt.Sprintf("Given the following prompt from the user, generate a list of search queries to research the topic. Return a maximum of %d queries, but feel free to return less if the original prompt is clear. Make sure each query is unique and not similar to each other.\n\n<prompt>%s</prompt>", n, topic)
	if len(learnings) > 0 {
		input += fmt.Sprintf("\n\nHere are some learnings from previous research, use them to generate more specific queries:\n%s", strings.Join(learnings, "\n"))
	}

	raw, err := p.Completer.CompleteStructured(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt()),
		llms.TextParts(llms.ChatMessageTypeHuman, input),
	}, queriesSchema)
	if err != nil {
		metrics.PlanningFailures.Inc()
		return nil, &PlanningError{Topic: topic, Err: err}
	}

	resp, err := schema.Decode[queriesResponse](raw)
	if err != nil {
		metrics.PlanningFailures.Inc()
		p.Logger.Error("Failed to parse search queries", "error", err, "raw", raw)
		return nil, &PlanningError{Topic: topic, Err: err}
	}

	queries := resp.Queries
	if len(queries) > n {
		queries = queries[:n]
	}

	p.Logger.Info("Generated queries", "queries", queries)
	return queries, nil
}
