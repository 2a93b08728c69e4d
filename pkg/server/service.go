package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/search"
	"github.com/mikeboe/deep-research/pkg/splitter"
)

// JobStore is implemented by *database.JobStore.
type JobStore interface {
	CreateJob(ctx context.Context, topic string, breadth, depth int) (*database.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*database.Job, error)
	ListJobs(ctx context.Context, limit int) ([]database.Job, error)
	SetStatus(ctx context.Context, id uuid.UUID, status database.Status, reason string) error
	SaveProgress(ctx context.Context, id uuid.UUID, progress any) error
	CompleteJob(ctx context.Context, id uuid.UUID, learnings, visitedURLs []string, report string) error
	ListLogs(ctx context.Context, jobID uuid.UUID) ([]database.LogEntry, error)
	LogSink
}

// Indexer makes a finished job's learnings searchable.
type Indexer interface {
	IndexJob(ctx context.Context, jobID, topic string, learnings []string) (int, error)
}

// Service runs research jobs in the background and persists their outcome.
type Service struct {
	Jobs      JobStore
	Completer research.Completer
	Searcher  search.Searcher
	Config    research.Config
	Trimmer   *splitter.Trimmer
	Index     Indexer
	Logger    *slog.Logger

	DefaultBreadth int
	DefaultDepth   int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu guards closed and every wg.Add.
	mu     sync.Mutex
	closed bool
}

// ErrShuttingDown is returned by CreateJob once Shutdown has been called.
var ErrShuttingDown = errors.New("research service is shutting down")

func NewService(jobs JobStore, completer research.Completer, searcher search.Searcher, cfg research.Config) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		Jobs:           jobs,
		Completer:      completer,
		Searcher:       searcher,
		Config:         cfg,
		Trimmer:        splitter.NewTrimmer(),
		Logger:         slog.Default(),
		DefaultBreadth: 4,
		DefaultDepth:   2,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Budget limits for jobs started over the API.
const (
	maxBreadth = 10
	maxDepth   = 5
)

type CreateJobRequest struct {
	Topic   string `json:"topic" binding:"required"`
	Breadth *int   `json:"breadth,omitempty" binding:"omitempty,min=1,max=10"`
	Depth   *int   `json:"depth,omitempty" binding:"omitempty,min=0,max=5"`
}

// CreateJob stores a pending job and starts researching it.
func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (*database.Job, error) {
	breadth, depth := s.DefaultBreadth, s.DefaultDepth
	if req.Breadth != nil {
		breadth = *req.Breadth
	}
	if req.Depth != nil {
		depth = *req.Depth
	}
	if breadth < 1 || breadth > maxBreadth || depth < 0 || depth > maxDepth {
		return nil, fmt.Errorf("%w (got breadth %d, depth %d; limits %d and %d)", research.ErrInvalidBudget, breadth, depth, maxBreadth, maxDepth)
	}

	if s.isClosed() {
		return nil, ErrShuttingDown
	}

	job, err := s.Jobs.CreateJob(ctx, req.Topic, breadth, depth)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.failJob(job.ID, s.Logger, "Research failed: "+ErrShuttingDown.Error())
		return nil, ErrShuttingDown
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.runWorker(job.ID, job.Topic, breadth, depth)
	}()

	return job, nil
}

func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*database.Job, error) {
	return s.Jobs.GetJob(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context) ([]database.Job, error) {
	return s.Jobs.ListJobs(ctx, 50)
}

func (s *Service) GetJobLogs(ctx context.Context, id uuid.UUID) ([]database.LogEntry, error) {
	if _, err := s.Jobs.GetJob(ctx, id); err != nil {
		return nil, err
	}
	return s.Jobs.ListLogs(ctx, id)
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Wait blocks until every started job has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown cancels running jobs and waits for their workers, or for ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) runWorker(jobID uuid.UUID, topic string, breadth, depth int) {
	ctx := s.ctx
	logger := slog.New(NewDBLogHandler(s.Jobs, jobID, s.Logger.Handler()))

	if err := s.Jobs.SetStatus(ctx, jobID, database.StatusRunning, ""); err != nil {
		logger.Error("Failed to mark job running", "error", err)
	}

	engine := research.NewEngine(s.Config, s.Completer, s.Searcher)
	if synth, ok := engine.Synthesizer.(*research.Synthesizer); ok {
		synth.Trimmer = s.Trimmer
	}
	engine.SetLogger(logger)
	engine.OnProgress = func(p research.Progress) {
		if err := s.Jobs.SaveProgress(ctx, jobID, p); err != nil {
			logger.Warn("Failed to save progress", "error", err)
		}
	}

	start := time.Now()
	res, err := engine.Research(ctx, topic, breadth, depth)
	if err != nil {
		s.failJob(jobID, logger, fmt.Sprintf("Research failed: %v", err))
		return
	}

	writer := research.NewReportWriter(s.Completer, s.Trimmer, s.Config.ReportTokenLimit)
	writer.Logger = logger
	report, err := writer.Write(ctx, topic, res.Learnings, res.VisitedURLs)
	if err != nil {
		s.failJob(jobID, logger, fmt.Sprintf("Report failed: %v", err))
		return
	}

	if err := s.Jobs.CompleteJob(ctx, jobID, res.Learnings, res.VisitedURLs, report); err != nil {
		s.failJob(jobID, logger, fmt.Sprintf("Saving result failed: %v", err))
		return
	}
	logger.Info("Research job completed", "learnings", len(res.Learnings), "elapsed", time.Since(start).String())

	if s.Index != nil {
		if _, err := s.Index.IndexJob(ctx, jobID.String(), topic, res.Learnings); err != nil {
			logger.Warn("Failed to index learnings", "error", err)
		}
	}
}

func (s *Service) failJob(jobID uuid.UUID, logger *slog.Logger, reason string) {
	logger.Error(reason)

	// the run context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Jobs.SetStatus(ctx, jobID, database.StatusFailed, reason); err != nil {
		s.Logger.Error("Failed to mark job failed", "job_id", jobID, "error", err)
	}
}

// progressOf decodes the stored progress of a job, if any.
func progressOf(job *database.Job) *research.Progress {
	if len(job.Progress) == 0 {
		return nil
	}
	var p research.Progress
	if err := json.Unmarshal(job.Progress, &p); err != nil {
		return nil
	}
	return &p
}
