package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type PdfScrapeResponsePage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

type OcrResponse struct {
	Pages []PdfScrapeResponsePage `json:"pages"`
}

// MistralOCR extracts the contents of a PDF file as markdown using the
// Mistral OCR API.
type MistralOCR struct {
	APIKey  string
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewMistralOCR(apiKey string) *MistralOCR {
	return &MistralOCR{
		APIKey:  apiKey,
		BaseURL: "https://api.mistral.ai/v1/ocr",
		Model:   "mistral-ocr-latest",
		Client:  defaultHTTPClient,
	}
}

// Scrape implements PDFScraper.
func (m *MistralOCR) Scrape(ctx context.Context, pdfURL string) (string, error) {
	if m.APIKey == "" {
		return "", fmt.Errorf("MISTRAL_API_KEY is not set")
	}
	pdfURL = strings.Replace(pdfURL, "http://", "https://", 1)

	reqBody := map[string]interface{}{
		"model": m.Model,
		"document": map[string]string{
			"type":         "document_url",
			"document_url": pdfURL,
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.BaseURL, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.APIKey)

	resp, err := m.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API request failed with status: %s, body: %s", resp.Status, string(body))
	}

	var ocrResponse OcrResponse
	if err := json.Unmarshal(body, &ocrResponse); err != nil {
		return "", fmt.Errorf("failed to unmarshal OCR response: %w", err)
	}

	var sb strings.Builder
	for _, page := range ocrResponse.Pages {
		sb.WriteString(page.Markdown)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String()), nil
}
