package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"

	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/vectorstore"
)

// LearningSearcher is the part of the learning index the tools use.
type LearningSearcher interface {
	Search(ctx context.Context, query string, topK int, jobID string) ([]vectorstore.Match, error)
}

// JobReader loads finished research jobs.
type JobReader interface {
	GetJob(ctx context.Context, id uuid.UUID) (*database.Job, error)
}

// LearningToolset lets the agent look up what research jobs found.
type LearningToolset struct {
	Index LearningSearcher
	Jobs  JobReader
	// JobID, when set, scopes every lookup to one job.
	JobID string
}

func NewLearningToolset(index LearningSearcher, jobs JobReader, jobID string) *LearningToolset {
	return &LearningToolset{Index: index, Jobs: jobs, JobID: jobID}
}

func (t *LearningToolset) Name() string {
	return "learning_tools"
}

func (t *LearningToolset) Tools(ctx agent.ReadonlyContext) ([]tool.Tool, error) {
	searchTool, err := functiontool.New[SearchLearningsArgs, SearchLearningsResp](
		functiontool.Config{
			Name:        "search_learnings",
			Description: "Semantic search over the learnings collected by research jobs.",
		},
		func(ctx tool.Context, args SearchLearningsArgs) (SearchLearningsResp, error) {
			return t.SearchLearnings(ctx, args)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create search_learnings tool: %w", err)
	}

	sourcesTool, err := functiontool.New[ListSourcesArgs, ListSourcesResp](
		functiontool.Config{
			Name:        "list_sources",
			Description: "List the URLs a research job visited.",
		},
		func(ctx tool.Context, args ListSourcesArgs) (ListSourcesResp, error) {
			return t.ListSources(ctx, args)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create list_sources tool: %w", err)
	}

	return []tool.Tool{searchTool, sourcesTool}, nil
}

type SearchLearningsArgs struct {
	Query string `json:"query" description:"What to look for"`
	TopK  int    `json:"topK,omitempty" description:"Number of results to return (default 5)"`
	JobID string `json:"jobId,omitempty" description:"Optional research job id to search in"`
}

type SearchLearningsResp struct {
	Results string `json:"results"`
}

func (t *LearningToolset) SearchLearnings(ctx context.Context, args SearchLearningsArgs) (SearchLearningsResp, error) {
	jobID := t.scope(args.JobID)
	slog.Info("Search learnings", "query", args.Query, "topK", args.TopK, "job_id", jobID)

	matches, err := t.Index.Search(ctx, args.Query, args.TopK, jobID)
	if err != nil {
		return SearchLearningsResp{}, fmt.Errorf("failed to search learnings: %w", err)
	}
	if len(matches) == 0 {
		return SearchLearningsResp{Results: "No matching learnings."}, nil
	}

	formatted := make([]string, 0, len(matches))
	for _, m := range matches {
		topic, _ := m.Document.Metadata[vectorstore.MetaTopic].(string)
		formatted = append(formatted, fmt.Sprintf("[Topic]: %s\n[Score]: %.2f\n[Learning]: %s", topic, m.Score, m.Document.Content))
	}

	return SearchLearningsResp{Results: strings.Join(formatted, "\n\n")}, nil
}

type ListSourcesArgs struct {
	JobID string `json:"jobId,omitempty" description:"Research job id"`
}

type ListSourcesResp struct {
	Sources []string `json:"sources"`
}

func (t *LearningToolset) ListSources(ctx context.Context, args ListSourcesArgs) (ListSourcesResp, error) {
	jobID := t.scope(args.JobID)
	if jobID == "" {
		return ListSourcesResp{}, errors.New("a job id is required")
	}

	id, err := uuid.Parse(jobID)
	if err != nil {
		return ListSourcesResp{}, fmt.Errorf("invalid job id %q: %w", jobID, err)
	}

	job, err := t.Jobs.GetJob(ctx, id)
	if err != nil {
		return ListSourcesResp{}, fmt.Errorf("failed to load job: %w", err)
	}

	return ListSourcesResp{Sources: job.VisitedURLs}, nil
}

// scope prefers the toolset's own job over one the model asked for.
func (t *LearningToolset) scope(requested string) string {
	if t.JobID != "" {
		return t.JobID
	}
	return requested
}
