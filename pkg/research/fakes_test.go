package research

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/search"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeCompleter replays a canned response and records what it was sent.
type fakeCompleter struct {
	mu       sync.Mutex
	response string
	err      error
	respond  func(messages []llms.MessageContent, schema string) (string, error)
	calls    []completerCall
}

type completerCall struct {
	messages []llms.MessageContent
	schema   string
}

func (f *fakeCompleter) CompleteStructured(ctx context.Context, messages []llms.MessageContent, schema string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, completerCall{messages: messages, schema: schema})
	f.mu.Unlock()

	if f.respond != nil {
		return f.respond(messages, schema)
	}
	return f.response, f.err
}

func (f *fakeCompleter) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	msgs := f.calls[len(f.calls)-1].messages
	return msgs[len(msgs)-1].Parts[0].(llms.TextContent).Text
}

// mockLLM is a minimal llms.Model.
type mockLLM struct {
	resp    *llms.ContentResponse
	err     error
	seen    []llms.MessageContent
	options llms.CallOptions
}

func (m *mockLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.seen = messages
	for _, opt := range options {
		opt(&m.options)
	}
	return m.resp, m.err
}

func (m *mockLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

type planCall struct {
	topic     string
	n         int
	learnings []string
}

// fakePlanner hands out n uniquely named queries per call unless told otherwise.
type fakePlanner struct {
	mu      sync.Mutex
	calls   []planCall
	fail    func(topic string, n int) error
	queries func(topic string, n int) []Query
}

func (f *fakePlanner) Plan(ctx context.Context, topic string, n int, learnings []string) ([]Query, error) {
	f.mu.Lock()
	idx := len(f.calls)
	f.calls = append(f.calls, planCall{topic: topic, n: n, learnings: slices.Clone(learnings)})
	f.mu.Unlock()

	if f.fail != nil {
		if err := f.fail(topic, n); err != nil {
			return nil, err
		}
	}
	if f.queries != nil {
		return f.queries(topic, n), nil
	}

	qs := make([]Query, n)
	for i := range qs {
		qs[i] = Query{Query: fmt.Sprintf("q%d-%d", idx, i), ResearchGoal: fmt.Sprintf("goal %d-%d", idx, i)}
	}
	return qs, nil
}

func (f *fakePlanner) snapshot() []planCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

type synthCall struct {
	query        string
	docs         int
	numLearnings int
	numFollowUps int
}

// fakeSynthesizer returns one learning per query and as many follow-ups as asked.
type fakeSynthesizer struct {
	mu         sync.Mutex
	calls      []synthCall
	synthesize func(query string, numFollowUps int) Synthesis
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, query string, docs []search.Document, numLearnings, numFollowUps int) Synthesis {
	f.mu.Lock()
	f.calls = append(f.calls, synthCall{query: query, docs: len(docs), numLearnings: numLearnings, numFollowUps: numFollowUps})
	f.mu.Unlock()

	if f.synthesize != nil {
		return f.synthesize(query, numFollowUps)
	}
	out := Synthesis{Learnings: []string{"learning from " + query}}
	for i := range numFollowUps {
		out.FollowUpQuestions = append(out.FollowUpQuestions, fmt.Sprintf("follow-up %d of %s", i, query))
	}
	return out
}

func (f *fakeSynthesizer) snapshot() []synthCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// fakeSearcher returns one document per query by default and tracks how many
// searches run at once.
type fakeSearcher struct {
	delay    time.Duration
	search   func(query string) ([]search.Document, error)
	inFlight atomic.Int32
	peak     atomic.Int32
	count    atomic.Int32
	lastOpts atomic.Pointer[search.Options]
}

func (f *fakeSearcher) Search(ctx context.Context, query string, opts search.Options) ([]search.Document, error) {
	f.count.Add(1)
	f.lastOpts.Store(&opts)

	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if f.search != nil {
		return f.search(query)
	}
	return []search.Document{{URL: "https://example.com/" + query, Content: "content of " + query}}, nil
}

func newTestEngine(p QueryPlanner, s ResultSynthesizer, searcher search.Searcher) *Engine {
	cfg := DefaultConfig()
	return &Engine{
		Config:      cfg,
		Planner:     p,
		Synthesizer: s,
		Searcher:    searcher,
		Logger:      discardLogger,
	}
}
