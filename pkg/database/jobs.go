package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrJobNotFound is returned when no research job has the requested id.
var ErrJobNotFound = errors.New("research job not found")

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is a persisted research run.
type Job struct {
	ID          uuid.UUID       `json:"id"`
	Topic       string          `json:"topic"`
	Breadth     int             `json:"breadth"`
	Depth       int             `json:"depth"`
	Status      Status          `json:"status"`
	Progress    json.RawMessage `json:"progress,omitempty"`
	Learnings   []string        `json:"learnings"`
	VisitedURLs []string        `json:"visited_urls"`
	Report      string          `json:"report,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type LogEntry struct {
	ID        int             `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

// JobStore persists research jobs and their logs.
type JobStore struct {
	db DBTX
}

func NewJobStore(db DBTX) *JobStore {
	return &JobStore{db: db}
}

const jobColumns = `id, topic, breadth, depth, status, progress, learnings, visited_urls,
	COALESCE(report, ''), COALESCE(error, ''), created_at, updated_at`

// CreateJob inserts a pending job.
func (s *JobStore) CreateJob(ctx context.Context, topic string, breadth, depth int) (*Job, error) {
	query := `
		INSERT INTO research_jobs (id, topic, breadth, depth, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + jobColumns

	job, err := scanJob(s.db.QueryRow(ctx, query, uuid.New(), topic, breadth, depth, StatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

func (s *JobStore) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM research_jobs WHERE id = $1`

	job, err := scanJob(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs returns the most recent jobs first.
func (s *JobStore) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + ` FROM research_jobs ORDER BY created_at DESC LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}
	return jobs, nil
}

// SetStatus moves a job to status. reason is stored for failed jobs.
func (s *JobStore) SetStatus(ctx context.Context, id uuid.UUID, status Status, reason string) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE research_jobs SET status = $2, error = NULLIF($3, ''), updated_at = NOW() WHERE id = $1",
		id, status, reason)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// SaveProgress stores the latest progress event of a running job.
func (s *JobStore) SaveProgress(ctx context.Context, id uuid.UUID, progress any) error {
	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	if _, err := s.db.Exec(ctx,
		"UPDATE research_jobs SET progress = $2, updated_at = NOW() WHERE id = $1",
		id, progressJSON); err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	return nil
}

// CompleteJob stores the outcome of a run and marks it completed.
func (s *JobStore) CompleteJob(ctx context.Context, id uuid.UUID, learnings, visitedURLs []string, report string) error {
	learningsJSON, err := marshalList(learnings)
	if err != nil {
		return err
	}
	urlsJSON, err := marshalList(visitedURLs)
	if err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE research_jobs
		SET status = $2, learnings = $3, visited_urls = $4, report = $5, updated_at = NOW()
		WHERE id = $1`,
		id, StatusCompleted, learningsJSON, urlsJSON, report)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *JobStore) AppendLog(ctx context.Context, jobID uuid.UUID, ts time.Time, level, message string, metadata json.RawMessage) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO research_logs (job_id, timestamp, level, message, metadata)
		VALUES ($1, $2, $3, $4, $5)`,
		jobID, ts, level, message, metadata)
	if err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}
	return nil
}

func (s *JobStore) ListLogs(ctx context.Context, jobID uuid.UUID) ([]LogEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, timestamp, level, message, metadata
		FROM research_logs
		WHERE job_id = $1
		ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	logs := []LogEntry{}
	for rows.Next() {
		var l LogEntry
		var metadata []byte
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		l.Metadata = metadata
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating logs: %w", err)
	}
	return logs, nil
}

func scanJob(row pgx.Row) (*Job, error) {
	var job Job
	var progress, learnings, urls []byte

	err := row.Scan(&job.ID, &job.Topic, &job.Breadth, &job.Depth, &job.Status,
		&progress, &learnings, &urls, &job.Report, &job.Error, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(progress) > 0 {
		job.Progress = progress
	}
	if job.Learnings, err = unmarshalList(learnings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal learnings: %w", err)
	}
	if job.VisitedURLs, err = unmarshalList(urls); err != nil {
		return nil, fmt.Errorf("failed to unmarshal visited urls: %w", err)
	}
	return &job, nil
}

func marshalList(items []string) ([]byte, error) {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal list: %w", err)
	}
	return b, nil
}

func unmarshalList(raw []byte) ([]string, error) {
	out := []string{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
