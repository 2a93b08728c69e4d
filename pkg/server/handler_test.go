package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/chat"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/vectorstore"
)

func setupRouter(svc *Service) (*gin.Engine, *Handler) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(svc, nil, nil)
	h.RegisterRoutes(r)
	return r, h
}

func doRequest(r http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestResearchEndpoints(t *testing.T) {
	jobs := newMemoryJobs()
	index := &recordingIndexer{}
	svc := newTestService(jobs, newScriptedCompleter())
	svc.Index = index
	r, _ := setupRouter(svc)

	w := doRequest(r, http.MethodPost, "/api/research", `{"topic":"fusion","breadth":2,"depth":1}`, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created database.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "fusion", created.Topic)
	svc.Wait()

	w = doRequest(r, http.MethodGet, "/api/research/"+created.ID.String(), "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var job database.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, database.StatusCompleted, job.Status)
	assert.Equal(t, "# Fusion\n\n## Sources\n\n- https://example.com/q1\n- https://example.com/q2", job.Report)
	assert.NotEmpty(t, job.Progress)
	assert.Equal(t, []string{"fusion gain record"}, index.learnings)

	w = doRequest(r, http.MethodGet, "/api/research/"+created.ID.String()+"/logs", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var logs []database.LogEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &logs))
	assert.NotEmpty(t, logs)

	w = doRequest(r, http.MethodGet, "/api/research", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []database.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestCreateJobValidation(t *testing.T) {
	r, _ := setupRouter(newTestService(newMemoryJobs(), newScriptedCompleter()))

	tests := []struct {
		name string
		body string
	}{
		{"missing topic", `{"breadth":2}`},
		{"breadth zero", `{"topic":"t","breadth":0}`},
		{"breadth too large", `{"topic":"t","breadth":11}`},
		{"depth too large", `{"topic":"t","depth":6}`},
		{"malformed", `{"topic":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(r, http.MethodPost, "/api/research", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestGetJobErrors(t *testing.T) {
	r, _ := setupRouter(newTestService(newMemoryJobs(), newScriptedCompleter()))

	w := doRequest(r, http.MethodGet, "/api/research/not-a-uuid", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, http.MethodGet, "/api/research/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(r, http.MethodGet, "/api/research/"+uuid.NewString()+"/logs", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChatRoutesDisabledWithoutService(t *testing.T) {
	r, _ := setupRouter(newTestService(newMemoryJobs(), newScriptedCompleter()))

	w := doRequest(r, http.MethodGet, "/api/chat/conversations", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	svc := newTestService(newMemoryJobs(), newScriptedCompleter())
	r, _ := setupRouter(svc)

	doRequest(r, http.MethodPost, "/api/research", `{"topic":"t","breadth":1,"depth":1}`, nil)
	svc.Wait()

	w := doRequest(r, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "deep_research_branches_started_total")
}

// connectMCP starts the router on a test server and opens an MCP client session.
func connectMCP(t *testing.T, r http.Handler) *mcp.ClientSession {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(context.Background(), &mcp.StreamableClientTransport{Endpoint: srv.URL + "/mcp"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func callText(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return text.Text, res.IsError
}

func toolNames(t *testing.T, session *mcp.ClientSession) []string {
	t.Helper()
	list, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range list.Tools {
		names = append(names, tool.Name)
	}
	slices.Sort(names)
	return names
}

func TestMCPResearchFlow(t *testing.T) {
	svc := newTestService(newMemoryJobs(), newScriptedCompleter())
	r, _ := setupRouter(svc)
	session := connectMCP(t, r)

	assert.Equal(t, []string{"get_research", "start_research"}, toolNames(t, session))

	text, isErr := callText(t, session, "start_research", map[string]any{"topic": "fusion", "breadth": 2, "depth": 1})
	require.False(t, isErr, text)
	require.True(t, strings.HasPrefix(text, "Started research job "), text)
	assert.Contains(t, text, `on "fusion" (breadth 2, depth 1)`)
	svc.Wait()

	id := strings.Fields(strings.TrimPrefix(text, "Started research job "))[0]
	text, isErr = callText(t, session, "get_research", map[string]any{"id": id})
	assert.False(t, isErr)
	assert.Equal(t, "# Fusion\n\n## Sources\n\n- https://example.com/q1\n- https://example.com/q2", text)
}

func TestMCPToolErrors(t *testing.T) {
	r, _ := setupRouter(newTestService(newMemoryJobs(), newScriptedCompleter()))
	session := connectMCP(t, r)

	tests := []struct {
		name string
		tool string
		args map[string]any
		want string
	}{
		{"blank topic", "start_research", map[string]any{"topic": "  "}, "topic is required"},
		{"budget too large", "start_research", map[string]any{"topic": "t", "breadth": 11}, "breadth"},
		{"bad id", "get_research", map[string]any{"id": "x"}, "id must be a uuid"},
		{"unknown job", "get_research", map[string]any{"id": uuid.NewString()}, database.ErrJobNotFound.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, isErr := callText(t, session, tt.tool, tt.args)
			assert.True(t, isErr)
			assert.Contains(t, text, tt.want)
		})
	}
}

func TestMCPMissingRequiredArgument(t *testing.T) {
	r, _ := setupRouter(newTestService(newMemoryJobs(), newScriptedCompleter()))
	session := connectMCP(t, r)

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: "start_research", Arguments: map[string]any{}})
	if err == nil {
		assert.True(t, res.IsError)
	}
}

type staticIndex struct {
	jobID string
}

func (s *staticIndex) Search(ctx context.Context, query string, topK int, jobID string) ([]vectorstore.Match, error) {
	s.jobID = jobID
	return []vectorstore.Match{{
		Document: vectorstore.Document{Content: "fusion gain record", Metadata: map[string]any{vectorstore.MetaTopic: "fusion"}},
		Score:    0.9,
	}}, nil
}

func TestMCPSearchLearnings(t *testing.T) {
	index := &staticIndex{}
	svc := newTestService(newMemoryJobs(), newScriptedCompleter())
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(svc, nil, chat.NewLearningToolset(index, newMemoryJobs(), "")).RegisterRoutes(r)
	session := connectMCP(t, r)

	assert.Equal(t, []string{"get_research", "search_learnings", "start_research"}, toolNames(t, session))

	jobID := uuid.NewString()
	text, isErr := callText(t, session, "search_learnings", map[string]any{"query": "gain", "jobId": jobID})
	assert.False(t, isErr)
	assert.Equal(t, "[Topic]: fusion\n[Score]: 0.90\n[Learning]: fusion gain record", text)
	assert.Equal(t, jobID, index.jobID)
}

func TestDescribeJob(t *testing.T) {
	id := uuid.New()

	assert.Equal(t, "report", describeJob(&database.Job{ID: id, Status: database.StatusCompleted, Report: "report"}))
	assert.Equal(t, "Research job "+id.String()+" failed: boom", describeJob(&database.Job{ID: id, Status: database.StatusFailed, Error: "boom"}))
	assert.Equal(t,
		"Research job "+id.String()+" is running. Latest step: level_started at depth 2 (fusion).",
		describeJob(&database.Job{ID: id, Status: database.StatusRunning, Progress: []byte(`{"stage":"level_started","depth":2,"query":"fusion"}`)}))
}
