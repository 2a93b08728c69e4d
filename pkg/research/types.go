package research

import (
	"time"

	"github.com/mikeboe/deep-research/pkg/config"
)

// Config holds the tunables of the research engine
type Config struct {
	ConcurrencyLimit  int
	SearchTimeout     time.Duration
	SearchLimit       int
	SearchFormats     []string
	NumLearnings      int
	ContentTokenLimit int
	ReportTokenLimit  int
}

// DefaultConfig returns the settings the engine was tuned with.
func DefaultConfig() Config {
	return Config{
		ConcurrencyLimit:  2,
		SearchTimeout:     15 * time.Second,
		SearchLimit:       5,
		SearchFormats:     []string{"markdown"},
		NumLearnings:      3,
		ContentTokenLimit: 25_000,
		ReportTokenLimit:  150_000,
	}
}

// ConfigFrom applies the environment settings to DefaultConfig. Unset or
// non-positive values keep the default.
func ConfigFrom(cfg *config.Config) Config {
	out := DefaultConfig()
	if cfg == nil {
		return out
	}
	if cfg.ConcurrencyLimit > 0 {
		out.ConcurrencyLimit = cfg.ConcurrencyLimit
	}
	if cfg.SearchTimeout > 0 {
		out.SearchTimeout = cfg.SearchTimeout
	}
	if cfg.SearchLimit > 0 {
		out.SearchLimit = cfg.SearchLimit
	}
	return out
}

// Query is a generated search query together with what it is meant to find out.
type Query struct {
	Query        string `json:"query" validate:"required"`
	ResearchGoal string `json:"researchGoal" validate:"required"`
}

// Task is one invocation of the explorer. It is passed by value; the slices
// are never shared with siblings.
type Task struct {
	Query       string
	Breadth     int
	Depth       int
	Learnings   []string
	VisitedURLs []string
}

// Result is what a branch or a whole run produced.
type Result struct {
	Learnings   []string `json:"learnings"`
	VisitedURLs []string `json:"visitedUrls"`
}

// Synthesis is the distilled output of one search.
type Synthesis struct {
	Learnings         []string `json:"learnings" validate:"required"`
	FollowUpQuestions []string `json:"followUpQuestions" validate:"required"`
}

func emptyResult() Result {
	return Result{Learnings: []string{}, VisitedURLs: []string{}}
}
