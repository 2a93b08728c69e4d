package vectorstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mikeboe/deep-research/pkg/splitter"
)

// Embedder turns text into vectors. embeddings.GoogleEmbedder implements it.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// LearningIndex makes the learnings of finished jobs searchable.
type LearningIndex struct {
	Store    *PGVectorStore
	Embedder Embedder
	Splitter *splitter.Splitter
	Logger   *slog.Logger
}

func NewLearningIndex(store *PGVectorStore, embedder Embedder, chunkSize, chunkOverlap int) *LearningIndex {
	return &LearningIndex{
		Store:    store,
		Embedder: embedder,
		Splitter: splitter.NewSplitter(chunkSize, chunkOverlap),
		Logger:   slog.Default(),
	}
}

// IndexJob replaces whatever is indexed for jobID with learnings. Long
// learnings are split into chunks; every chunk carries the job id and topic.
func (ix *LearningIndex) IndexJob(ctx context.Context, jobID, topic string, learnings []string) (int, error) {
	var chunks []string
	for _, l := range learnings {
		parts, err := ix.Splitter.Split(l)
		if err != nil {
			return 0, fmt.Errorf("failed to split learning: %w", err)
		}
		chunks = append(chunks, parts...)
	}

	if _, err := ix.Store.DeleteByJob(ctx, jobID); err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	vectors, err := ix.Embedder.EmbedDocuments(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("failed to embed learnings: %w", err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	docs := make([]Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = Document{
			Content:   chunk,
			Embedding: vectors[i],
			Metadata:  map[string]any{MetaJobID: jobID, MetaTopic: topic},
		}
	}

	if err := ix.Store.AddDocuments(ctx, docs); err != nil {
		return 0, err
	}

	ix.Logger.Info("Indexed learnings", "job_id", jobID, "chunks", len(docs))
	return len(docs), nil
}

// Search finds the learnings closest to query. A non-empty jobID restricts
// the search to that job.
func (ix *LearningIndex) Search(ctx context.Context, query string, topK int, jobID string) ([]Match, error) {
	if topK <= 0 {
		topK = 5
	}

	vector, err := ix.Embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	var filter map[string]any
	if jobID != "" {
		filter = map[string]any{MetaJobID: jobID}
	}
	return ix.Store.SimilaritySearch(ctx, vector, topK, filter)
}

// Learnings returns the indexed chunks of a job in insertion order.
func (ix *LearningIndex) Learnings(ctx context.Context, jobID string) ([]Document, error) {
	return ix.Store.GetContentByMetadata(ctx, map[string]any{MetaJobID: jobID})
}
