package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mikeboe/deep-research/pkg/chat"
	"github.com/mikeboe/deep-research/pkg/database"
)

type StartResearchArgs struct {
	Topic   string `json:"topic" jsonschema:"What to research"`
	Breadth *int   `json:"breadth,omitempty" jsonschema:"Queries at the first level (1-10)"`
	Depth   *int   `json:"depth,omitempty" jsonschema:"Levels of follow-up research (0-5)"`
}

type GetResearchArgs struct {
	ID string `json:"id" jsonschema:"The job id returned by start_research"`
}

type SearchLearningsArgs struct {
	Query string `json:"query" jsonschema:"The search query"`
	TopK  int    `json:"topK,omitempty" jsonschema:"Number of results to return (default 5)"`
	JobID string `json:"jobId,omitempty" jsonschema:"Restrict the search to one job"`
}

// newMCPServer exposes research jobs, and the learning index when configured,
// as MCP tools.
func (h *Handler) newMCPServer() *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{Name: "deep-research-mcp", Version: "1.0.0"}, nil)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "start_research",
		Description: "Start a deep research job on a topic. Returns the job id; poll get_research for the result.",
	}, h.startResearch)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "get_research",
		Description: "Get the status of a research job, and its report once completed.",
	}, h.getResearch)

	if h.Tools != nil {
		mcp.AddTool(s, &mcp.Tool{
			Name:        "search_learnings",
			Description: "Semantic search over the learnings of completed research jobs.",
		}, h.searchLearnings)
	}

	return s
}

// newMCPHandler serves s over the streamable HTTP transport.
func newMCPHandler(s *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s }, nil)
}

func (h *Handler) startResearch(ctx context.Context, req *mcp.CallToolRequest, args StartResearchArgs) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.Topic) == "" {
		return nil, nil, errors.New("topic is required")
	}

	job, err := h.Service.CreateJob(ctx, CreateJobRequest(args))
	if err != nil {
		return nil, nil, err
	}
	return textResult(fmt.Sprintf("Started research job %s on %q (breadth %d, depth %d).", job.ID, job.Topic, job.Breadth, job.Depth)), nil, nil
}

func (h *Handler) getResearch(ctx context.Context, req *mcp.CallToolRequest, args GetResearchArgs) (*mcp.CallToolResult, any, error) {
	id, err := uuid.Parse(args.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("id must be a uuid: %w", err)
	}

	job, err := h.Service.GetJob(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return textResult(describeJob(job)), nil, nil
}

func (h *Handler) searchLearnings(ctx context.Context, req *mcp.CallToolRequest, args SearchLearningsArgs) (*mcp.CallToolResult, any, error) {
	if args.Query == "" {
		return nil, nil, errors.New("query is required")
	}

	resp, err := h.Tools.SearchLearnings(ctx, chat.SearchLearningsArgs(args))
	if err != nil {
		return nil, nil, err
	}
	return textResult(resp.Results), nil, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

// describeJob renders a job for MCP clients: the report when done, status
// and latest progress otherwise.
func describeJob(job *database.Job) string {
	switch job.Status {
	case database.StatusCompleted:
		return job.Report
	case database.StatusFailed:
		return fmt.Sprintf("Research job %s failed: %s", job.ID, job.Error)
	}

	out := fmt.Sprintf("Research job %s is %s.", job.ID, job.Status)
	if p := progressOf(job); p != nil {
		out += fmt.Sprintf(" Latest step: %s at depth %d (%s).", p.Stage, p.Depth, p.Query)
	}
	return out
}
