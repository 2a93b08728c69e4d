package research

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/mikeboe/deep-research/pkg/metrics"
	"github.com/mikeboe/deep-research/pkg/search"
	"github.com/mikeboe/deep-research/pkg/splitter"
)

// Engine explores a topic as a tree of search branches. Every level plans
// queries, runs one branch per query (search, synthesize, maybe recurse) and
// merges the branch results.
type Engine struct {
	Config      Config
	Planner     QueryPlanner
	Synthesizer ResultSynthesizer
	Searcher    search.Searcher
	Logger      *slog.Logger

	// OnProgress, when set, is called from concurrently running branches and
	// must be safe for concurrent use.
	OnProgress func(Progress)
}

func NewEngine(cfg Config, completer Completer, searcher search.Searcher) *Engine {
	return &Engine{
		Config:      cfg,
		Planner:     NewPlanner(completer),
		Synthesizer: NewSynthesizer(completer, splitter.NewTrimmer(), cfg.ContentTokenLimit),
		Searcher:    searcher,
		Logger:      slog.Default(),
	}
}

// SetLogger replaces the logger of the engine and of its planner and
// synthesizer when they are the stock implementations.
func (e *Engine) SetLogger(logger *slog.Logger) {
	e.Logger = logger
	if p, ok := e.Planner.(*Planner); ok {
		p.Logger = logger
	}
	if s, ok := e.Synthesizer.(*Synthesizer); ok {
		s.Logger = logger
	}
}

// Research explores topic with the given budget. Breadth is the number of
// queries at the first level and halves (rounding up) at every level below;
// depth is the number of levels. A planning failure at the top level fails
// the whole run; failures below it only cost the affected branch.
func (e *Engine) Research(ctx context.Context, topic string, breadth, depth int) (Result, error) {
	if breadth < 1 || depth < 0 {
		return Result{}, ErrInvalidBudget
	}

	start := time.Now()
	e.Logger.Info("Starting research", "topic", topic, "breadth", breadth, "depth", depth)

	res, err := e.explore(ctx, Task{Query: topic, Breadth: breadth, Depth: depth})
	if err == nil {
		err = ctx.Err()
	}
	metrics.ResearchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ResearchRuns.WithLabelValues("failed").Inc()
		e.Logger.Error("Research failed", "topic", topic, "error", err)
		return Result{}, err
	}

	metrics.ResearchRuns.WithLabelValues("completed").Inc()
	e.Logger.Info("Research complete", "learnings", len(res.Learnings), "urls", len(res.VisitedURLs), "elapsed", time.Since(start))
	return res, nil
}

func (e *Engine) explore(ctx context.Context, task Task) (Result, error) {
	queries, err := e.Planner.Plan(ctx, task.Query, task.Breadth, task.Learnings)
	if err != nil {
		return Result{}, err
	}

	e.emit(Progress{
		Stage:   StageLevelStarted,
		Depth:   task.Depth,
		Breadth: task.Breadth,
		Query:   task.Query,
		Queries: len(queries),
	})

	// each branch writes only its own slot
	results := make([]Result, len(queries))
	limiter := NewLimiter(e.Config.ConcurrencyLimit)
	for i, q := range queries {
		metrics.BranchesStarted.Inc()
		limiter.Go(func() {
			results[i] = e.runBranch(ctx, task, q)
		})
	}
	limiter.Wait()

	return mergeResults(results), nil
}

// runBranch isolates a branch: errors and panics become an empty result.
func (e *Engine) runBranch(ctx context.Context, task Task, q Query) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = e.failBranch(task, q, fmt.Errorf("panic: %v", r))
		}
	}()

	out, err := e.branch(ctx, task, q)
	if err != nil {
		return e.failBranch(task, q, err)
	}
	return out
}

func (e *Engine) branch(ctx context.Context, task Task, q Query) (Result, error) {
	e.Logger.Info("Searching", "query", q.Query, "depth", task.Depth)

	docs, err := e.search(ctx, q.Query)
	if err != nil {
		return Result{}, fmt.Errorf("search %q: %w", q.Query, err)
	}

	newURLs := search.URLs(docs)
	newBreadth := nextBreadth(task.Breadth)
	newDepth := task.Depth - 1

	synth := e.Synthesizer.Synthesize(ctx, q.Query, docs, e.Config.NumLearnings, newBreadth)

	learnings := slices.Concat(task.Learnings, synth.Learnings)
	urls := slices.Concat(task.VisitedURLs, newURLs)

	if newDepth > 0 {
		e.Logger.Info("Researching deeper", "breadth", newBreadth, "depth", newDepth)

		res, err := e.explore(ctx, Task{
			Query:       followUpQuery(q, synth.FollowUpQuestions),
			Breadth:     newBreadth,
			Depth:       newDepth,
			Learnings:   learnings,
			VisitedURLs: urls,
		})
		if err != nil {
			return Result{}, err
		}

		metrics.BranchesFinished.WithLabelValues("recursed").Inc()
		e.emitBranchDone(task, q, res)
		return res, nil
	}

	res := Result{Learnings: learnings, VisitedURLs: urls}
	metrics.BranchesFinished.WithLabelValues("terminal").Inc()
	e.emitBranchDone(task, q, res)
	return res, nil
}

func (e *Engine) search(ctx context.Context, query string) ([]search.Document, error) {
	start := time.Now()
	docs, err := e.Searcher.Search(ctx, query, search.Options{
		Timeout: e.Config.SearchTimeout,
		Limit:   e.Config.SearchLimit,
		Formats: e.Config.SearchFormats,
	})

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.SearchDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	return docs, err
}

func (e *Engine) failBranch(task Task, q Query, err error) Result {
	e.Logger.Error("Error processing query", "query", q.Query, "depth", task.Depth, "error", err)
	metrics.BranchesFinished.WithLabelValues("failed").Inc()
	e.emit(Progress{
		Stage:   StageBranchFailed,
		Depth:   task.Depth,
		Breadth: task.Breadth,
		Query:   q.Query,
		Error:   err.Error(),
	})
	return emptyResult()
}

func (e *Engine) emitBranchDone(task Task, q Query, res Result) {
	e.emit(Progress{
		Stage:     StageBranchCompleted,
		Depth:     task.Depth,
		Breadth:   task.Breadth,
		Query:     q.Query,
		Learnings: len(res.Learnings),
		URLs:      len(res.VisitedURLs),
	})
}

func (e *Engine) emit(p Progress) {
	if e.OnProgress != nil {
		e.OnProgress(p)
	}
}

// nextBreadth halves b, rounding up, and never goes below one.
func nextBreadth(b int) int {
	return max((b+1)/2, 1)
}

func followUpQuery(q Query, followUps []string) string {
	return strings.TrimSpace(fmt.Sprintf("Previous research goal: %s\nFollow-up questions: %s",
		q.ResearchGoal, strings.Join(followUps, "\n")))
}

// mergeResults concatenates sibling results and drops duplicates, keeping
// first occurrences in order.
func mergeResults(results []Result) Result {
	var learnings, urls []string
	for _, r := range results {
		learnings = append(learnings, r.Learnings...)
		urls = append(urls, r.VisitedURLs...)
	}
	return Result{Learnings: dedupe(learnings), VisitedURLs: dedupe(urls)}
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
