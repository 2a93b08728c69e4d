// Package search provides the document search backends the research engine
// fans out to.
package search

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mikeboe/deep-research/pkg/config"
)

// FormatMarkdown requests page content rendered as markdown.
const FormatMarkdown = "markdown"

// Document is a single search hit. URL or Content may be empty when the
// backend could not provide them.
type Document struct {
	URL     string `json:"url,omitempty"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content,omitempty"`
}

// Options tune a single search call.
type Options struct {
	Timeout time.Duration
	Limit   int
	Formats []string
}

// Searcher runs a query against a search backend.
type Searcher interface {
	Search(ctx context.Context, query string, opts Options) ([]Document, error)
}

// URLs returns the non-empty URLs of docs in order.
func URLs(docs []Document) []string {
	urls := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.URL != "" {
			urls = append(urls, d.URL)
		}
	}
	return urls
}

// Contents returns the non-empty contents of docs in order.
func Contents(docs []Document) []string {
	contents := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.Content != "" {
			contents = append(contents, d.Content)
		}
	}
	return contents
}

// New builds the backend selected by cfg.SearchProvider.
func New(cfg *config.Config) (Searcher, error) {
	switch cfg.SearchProvider {
	case config.SearchFirecrawl, "":
		fc, err := NewFirecrawl(cfg.FirecrawlKey,
			WithFirecrawlBaseURL(cfg.FirecrawlBaseURL),
			WithFirecrawlRateLimit(cfg.FirecrawlRPS),
		)
		if err != nil {
			return nil, err
		}
		return fc, nil
	case config.SearchArxiv:
		var opts []ArxivOption
		if cfg.MistralApiKey != "" {
			opts = append(opts, WithPDFScraper(NewMistralOCR(cfg.MistralApiKey)))
		}
		return NewArxiv(opts...), nil
	default:
		return nil, fmt.Errorf("unknown search provider: %s", cfg.SearchProvider)
	}
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

var defaultHTTPClient = &http.Client{}
