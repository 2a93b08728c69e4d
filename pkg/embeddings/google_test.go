package embeddings

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeModels struct {
	calls     [][]*genai.Content
	taskTypes []string
	dims      []int32
	err       error
	drop      bool
}

func (f *fakeModels) EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, contents)
	f.taskTypes = append(f.taskTypes, config.TaskType)
	f.dims = append(f.dims, *config.OutputDimensionality)

	res := &genai.EmbedContentResponse{}
	for i := range contents {
		if f.drop && i == len(contents)-1 {
			break
		}
		res.Embeddings = append(res.Embeddings, &genai.ContentEmbedding{Values: []float32{float32(i + 1)}})
	}
	return res, nil
}

func TestEmbedQuery(t *testing.T) {
	models := &fakeModels{}
	e := &GoogleEmbedder{models: models, model: "gemini-embedding-001", Dimension: 768}

	vec, err := e.EmbedQuery(context.Background(), "fusion cost")
	require.NoError(t, err)

	assert.Equal(t, []float32{1}, vec)
	assert.Equal(t, []string{"RETRIEVAL_QUERY"}, models.taskTypes)
	assert.Equal(t, []int32{768}, models.dims)
	assert.Equal(t, "fusion cost", models.calls[0][0].Parts[0].Text)
}

func TestEmbedDocumentsBatches(t *testing.T) {
	models := &fakeModels{}
	e := &GoogleEmbedder{models: models, model: "m", Dimension: DefaultDimension}

	texts := make([]string, 250)
	for i := range texts {
		texts[i] = fmt.Sprintf("learning %d", i)
	}

	vectors, err := e.EmbedDocuments(context.Background(), texts)
	require.NoError(t, err)

	assert.Len(t, vectors, 250)
	require.Len(t, models.calls, 3)
	assert.Len(t, models.calls[0], 100)
	assert.Len(t, models.calls[2], 50)
	assert.Equal(t, "RETRIEVAL_DOCUMENT", models.taskTypes[0])
}

func TestEmbedErrors(t *testing.T) {
	apiErr := errors.New("quota")

	_, err := (&GoogleEmbedder{models: &fakeModels{err: apiErr}}).EmbedQuery(context.Background(), "q")
	assert.ErrorIs(t, err, apiErr)

	_, err = (&GoogleEmbedder{models: &fakeModels{drop: true}}).EmbedDocuments(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, ErrEmptyEmbedding)
}
