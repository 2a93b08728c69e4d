package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"
)

// Firecrawl searches the web through the Firecrawl search API and scrapes
// each hit in the requested formats.
type Firecrawl struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
	limiter *rate.Limiter
}

type FirecrawlOption func(*Firecrawl)

// WithFirecrawlBaseURL points the client at a self-hosted instance.
func WithFirecrawlBaseURL(baseURL string) FirecrawlOption {
	return func(f *Firecrawl) {
		if baseURL != "" {
			f.BaseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithFirecrawlRateLimit caps outgoing requests per second. Zero disables the cap.
func WithFirecrawlRateLimit(rps int) FirecrawlOption {
	return func(f *Firecrawl) {
		if rps > 0 {
			f.limiter = rate.NewLimiter(rate.Limit(rps), rps)
		} else {
			f.limiter = nil
		}
	}
}

// WithFirecrawlHTTPClient overrides the HTTP client.
func WithFirecrawlHTTPClient(c *http.Client) FirecrawlOption {
	return func(f *Firecrawl) {
		f.Client = c
	}
}

// NewFirecrawl creates a Firecrawl client. Self-hosted instances may run
// without a key, so an empty key is only rejected for the hosted API.
func NewFirecrawl(apiKey string, opts ...FirecrawlOption) (*Firecrawl, error) {
	f := &Firecrawl{
		APIKey:  apiKey,
		BaseURL: "https://api.firecrawl.dev",
		Client:  defaultHTTPClient,
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.APIKey == "" && strings.Contains(f.BaseURL, "api.firecrawl.dev") {
		return nil, fmt.Errorf("FIRECRAWL_KEY is not set")
	}

	return f, nil
}

type firecrawlSearchRequest struct {
	Query         string                  `json:"query"`
	Limit         int                     `json:"limit,omitempty"`
	Timeout       int64                   `json:"timeout,omitempty"`
	ScrapeOptions *firecrawlScrapeOptions `json:"scrapeOptions,omitempty"`
}

type firecrawlScrapeOptions struct {
	Formats []string `json:"formats"`
}

type firecrawlSearchResponse struct {
	Success bool `json:"success"`
	Data    []struct {
		URL         string `json:"url"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Markdown    string `json:"markdown"`
	} `json:"data"`
	Error string `json:"error"`
}

// Search implements Searcher.
func (f *Firecrawl) Search(ctx context.Context, query string, opts Options) ([]Document, error) {
	ctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	reqBody := firecrawlSearchRequest{
		Query:   query,
		Limit:   opts.Limit,
		Timeout: opts.Timeout.Milliseconds(),
	}
	if len(opts.Formats) > 0 {
		reqBody.ScrapeOptions = &firecrawlScrapeOptions{Formats: opts.Formats}
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.BaseURL+"/v1/search", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if f.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.APIKey)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("firecrawl returned status %d: %s", resp.StatusCode, string(body))
	}

	var out firecrawlSearchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal search response: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("firecrawl search failed: %s", out.Error)
	}

	docs := make([]Document, 0, len(out.Data))
	for _, d := range out.Data {
		docs = append(docs, Document{
			URL:     d.URL,
			Title:   d.Title,
			Content: d.Markdown,
		})
	}

	return docs, nil
}
