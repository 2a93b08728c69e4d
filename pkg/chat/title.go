package chat

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/mikeboe/deep-research/pkg/schema"
)

// contentGenerator is the part of genai.Models the titler uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiTitler names conversations with a small Gemini model.
type GeminiTitler struct {
	models contentGenerator
	Model  string
}

func NewGeminiTitler(ctx context.Context, apiKey, model string) (*GeminiTitler, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiTitler{models: client.Models, Model: model}, nil
}

type titleResponse struct {
	Title string `json:"title" validate:"required"`
}

func (g *GeminiTitler) Title(ctx context.Context, userMsg, modelMsg string) (string, error) {
	prompt := fmt.Sprintf("Generate a short, concise title (max 5 words) for this chat conversation:\nUser: %s\nModel: %s", userMsg, modelMsg)

	resp, err := g.models.GenerateContent(ctx, g.Model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: map[string]*genai.Schema{"title": {Type: genai.TypeString}},
				Required:   []string{"title"},
			},
		})
	if err != nil {
		return "", fmt.Errorf("title generation failed: %w", err)
	}

	out, err := schema.Decode[titleResponse](resp.Text())
	if err != nil {
		return "", err
	}
	return out.Title, nil
}
