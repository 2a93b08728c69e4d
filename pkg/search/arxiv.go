package search

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ArxivEntry struct to hold arXiv entry data
type ArxivEntry struct {
	ID        string      `xml:"id"`
	Title     string      `xml:"title"`
	Summary   string      `xml:"summary"`
	Published string      `xml:"published"`
	Link      []ArxivLink `xml:"link"`
}

// ArxivLink struct to hold arXiv link data
type ArxivLink struct {
	Href string `xml:"href,attr"`
	Type string `xml:"type,attr"`
}

// ArxivFeed struct to hold the entire arXiv feed
type ArxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entry   []ArxivEntry `xml:"entry"`
}

// PDFScraper extracts text from a PDF URL.
type PDFScraper interface {
	Scrape(ctx context.Context, pdfURL string) (string, error)
}

// Arxiv searches the arXiv Atom API. Abstracts become document content unless
// a PDFScraper is configured, in which case the full paper text is used and
// the abstract is kept as a fallback.
type Arxiv struct {
	BaseURL string
	Client  *http.Client
	Scraper PDFScraper
	Logger  *slog.Logger
}

type ArxivOption func(*Arxiv)

// WithArxivBaseURL overrides the API endpoint.
func WithArxivBaseURL(baseURL string) ArxivOption {
	return func(a *Arxiv) {
		a.BaseURL = baseURL
	}
}

// WithPDFScraper enables full text extraction for each hit.
func WithPDFScraper(s PDFScraper) ArxivOption {
	return func(a *Arxiv) {
		a.Scraper = s
	}
}

func NewArxiv(opts ...ArxivOption) *Arxiv {
	a := &Arxiv{
		BaseURL: "https://export.arxiv.org/api/query",
		Client:  defaultHTTPClient,
		Logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Search implements Searcher. Formats are ignored; arXiv only returns text.
func (a *Arxiv) Search(ctx context.Context, query string, opts Options) ([]Document, error) {
	ctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()

	maxResults := opts.Limit
	if maxResults <= 0 {
		maxResults = 5
	}

	params := url.Values{}
	params.Add("search_query", "all:"+query)
	params.Add("max_results", strconv.Itoa(maxResults))
	params.Add("start", "0")
	apiURL := a.BaseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create API request: %w", err)
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned non-200 status code: %d, body: %s", resp.StatusCode, string(body))
	}

	var feed ArxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal XML: %w", err)
	}

	a.Logger.Debug("arXiv response parsed", "query", query, "entries", len(feed.Entry))

	docs := make([]Document, 0, len(feed.Entry))
	for _, entry := range feed.Entry {
		doc := Document{
			URL:     entry.pdfLink(),
			Title:   strings.TrimSpace(entry.Title),
			Content: strings.TrimSpace(entry.Summary),
		}

		if a.Scraper != nil && doc.URL != "" {
			text, err := a.Scraper.Scrape(ctx, doc.URL)
			if err != nil {
				a.Logger.Warn("Failed to scrape, using summary", "url", doc.URL, "error", err)
			} else if text != "" {
				doc.Content = text
			}
		}

		docs = append(docs, doc)
	}

	return docs, nil
}

// pdfLink prefers the PDF link and falls back to the abstract page id.
func (e ArxivEntry) pdfLink() string {
	for _, link := range e.Link {
		if link.Type == "application/pdf" {
			return link.Href
		}
	}
	return strings.TrimSpace(e.ID)
}
