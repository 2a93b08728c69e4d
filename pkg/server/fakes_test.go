package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/search"
	"github.com/mikeboe/deep-research/pkg/splitter"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type memoryLog struct {
	level, message string
	metadata       json.RawMessage
}

// memoryJobs is an in-memory JobStore.
type memoryJobs struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*database.Job
	logs     map[uuid.UUID][]memoryLog
	progress map[uuid.UUID]int
}

func newMemoryJobs() *memoryJobs {
	return &memoryJobs{
		jobs:     map[uuid.UUID]*database.Job{},
		logs:     map[uuid.UUID][]memoryLog{},
		progress: map[uuid.UUID]int{},
	}
}

func (m *memoryJobs) CreateJob(ctx context.Context, topic string, breadth, depth int) (*database.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := &database.Job{
		ID: uuid.New(), Topic: topic, Breadth: breadth, Depth: depth,
		Status: database.StatusPending, Learnings: []string{}, VisitedURLs: []string{},
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	m.jobs[job.ID] = job
	cp := *job
	return &cp, nil
}

func (m *memoryJobs) GetJob(ctx context.Context, id uuid.UUID) (*database.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, database.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memoryJobs) ListJobs(ctx context.Context, limit int) ([]database.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []database.Job{}
	for _, job := range m.jobs {
		out = append(out, *job)
	}
	return out, nil
}

func (m *memoryJobs) update(id uuid.UUID, fn func(*database.Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return database.ErrJobNotFound
	}
	fn(job)
	return nil
}

func (m *memoryJobs) SetStatus(ctx context.Context, id uuid.UUID, status database.Status, reason string) error {
	return m.update(id, func(j *database.Job) {
		j.Status = status
		j.Error = reason
	})
}

func (m *memoryJobs) SaveProgress(ctx context.Context, id uuid.UUID, progress any) error {
	raw, err := json.Marshal(progress)
	if err != nil {
		return err
	}
	return m.update(id, func(j *database.Job) {
		j.Progress = raw
		m.progress[id]++
	})
}

func (m *memoryJobs) CompleteJob(ctx context.Context, id uuid.UUID, learnings, visitedURLs []string, report string) error {
	return m.update(id, func(j *database.Job) {
		j.Status = database.StatusCompleted
		j.Learnings = learnings
		j.VisitedURLs = visitedURLs
		j.Report = report
	})
}

func (m *memoryJobs) AppendLog(ctx context.Context, jobID uuid.UUID, ts time.Time, level, message string, metadata json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[jobID] = append(m.logs[jobID], memoryLog{level: level, message: message, metadata: metadata})
	return nil
}

func (m *memoryJobs) ListLogs(ctx context.Context, jobID uuid.UUID) ([]database.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []database.LogEntry{}
	for i, l := range m.logs[jobID] {
		out = append(out, database.LogEntry{ID: i + 1, Level: l.level, Message: l.message, Metadata: l.metadata})
	}
	return out, nil
}

func (m *memoryJobs) logMessages(id uuid.UUID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, l := range m.logs[id] {
		out = append(out, l.message)
	}
	return out
}

// scriptedCompleter answers each kind of structured request with a canned payload.
type scriptedCompleter struct {
	queries   string
	synthesis string
	report    string
}

func newScriptedCompleter() *scriptedCompleter {
	return &scriptedCompleter{
		queries:   `{"queries": [{"query": "q1", "researchGoal": "g1"}, {"query": "q2", "researchGoal": "g2"}]}`,
		synthesis: `{"learnings": ["fusion gain record"], "followUpQuestions": []}`,
		report:    `{"reportMarkdown": "# Fusion"}`,
	}
}

func (s *scriptedCompleter) CompleteStructured(ctx context.Context, messages []llms.MessageContent, schema string) (string, error) {
	switch {
	case strings.Contains(schema, `"queries"`):
		return s.queries, nil
	case strings.Contains(schema, `"reportMarkdown"`):
		return s.report, nil
	default:
		return s.synthesis, nil
	}
}

type staticSearcher struct{}

func (staticSearcher) Search(ctx context.Context, query string, opts search.Options) ([]search.Document, error) {
	return []search.Document{{URL: "https://example.com/" + query, Content: "about " + query}}, nil
}

type recordingIndexer struct {
	mu        sync.Mutex
	jobs      []string
	learnings []string
}

func (r *recordingIndexer) IndexJob(ctx context.Context, jobID, topic string, learnings []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, jobID)
	r.learnings = slices.Clone(learnings)
	return len(learnings), nil
}

func newTestService(jobs JobStore, completer research.Completer) *Service {
	svc := NewService(jobs, completer, staticSearcher{}, research.DefaultConfig())
	svc.Logger = discardLogger
	svc.Trimmer = &splitter.Trimmer{CountTokens: func(s string) int { return len(strings.Fields(s)) }}
	return svc
}
