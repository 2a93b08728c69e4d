package vectorstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	err   error
	texts []string
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.texts = append(f.texts, texts...)
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text))}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text))}, nil
}

func newTestIndex(t *testing.T, embedder Embedder, chunkSize int) (*LearningIndex, pgxmock.PgxPoolIface) {
	store, mock := newMockVectorStore(t)
	ix := NewLearningIndex(store, embedder, chunkSize, 0)
	ix.Logger = discardLogger
	return ix, mock
}

func TestIndexJob(t *testing.T) {
	embedder := &fakeEmbedder{}
	ix, mock := newTestIndex(t, embedder, 1000)

	mock.ExpectExec("DELETE").WithArgs("j1").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(regexp.QuoteMeta("VALUES ($1, $2, $3), ($4, $5, $6)")).
		WithArgs(
			"first", []byte(`{"job_id":"j1","topic":"fusion"}`), pgvector.NewVector([]float32{5}),
			"second", []byte(`{"job_id":"j1","topic":"fusion"}`), pgvector.NewVector([]float32{6}),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	n, err := ix.IndexJob(context.Background(), "j1", "fusion", []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"first", "second"}, embedder.texts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIndexJobSplitsLongLearnings(t *testing.T) {
	embedder := &fakeEmbedder{}
	ix, mock := newTestIndex(t, embedder, 20)

	mock.ExpectExec("DELETE").WithArgs("j1").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT").WillReturnResult(pgxmock.NewResult("INSERT", 3))

	long := strings.Repeat("word ", 12)
	n, err := ix.IndexJob(context.Background(), "j1", "t", []string{long})
	require.NoError(t, err)

	assert.Greater(t, n, 1)
	for _, chunk := range embedder.texts {
		assert.LessOrEqual(t, len(chunk), 20)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIndexJobWithoutLearnings(t *testing.T) {
	embedder := &fakeEmbedder{}
	ix, mock := newTestIndex(t, embedder, 1000)

	mock.ExpectExec("DELETE").WithArgs("j1").WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := ix.IndexJob(context.Background(), "j1", "t", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, embedder.texts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIndexJobEmbedError(t *testing.T) {
	ix, mock := newTestIndex(t, &fakeEmbedder{err: errors.New("quota")}, 1000)

	mock.ExpectExec("DELETE").WithArgs("j1").WillReturnResult(pgxmock.NewResult("DELETE", 0))

	_, err := ix.IndexJob(context.Background(), "j1", "t", []string{"x"})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLearningIndexSearch(t *testing.T) {
	ix, mock := newTestIndex(t, &fakeEmbedder{}, 1000)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE metadata @> $2")).
		WithArgs(pgvector.NewVector([]float32{4}), []byte(`{"job_id":"j1"}`), 5).
		WillReturnRows(pgxmock.NewRows([]string{"id", "content", "metadata", "similarity"}).
			AddRow("id-1", "hit", []byte(`{"job_id":"j1"}`), 0.8))

	matches, err := ix.Search(context.Background(), "cost", 0, "j1")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "hit", matches[0].Document.Content)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLearningIndexLearnings(t *testing.T) {
	ix, mock := newTestIndex(t, &fakeEmbedder{}, 1000)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE metadata @> $1 ORDER BY created_at")).
		WithArgs([]byte(`{"job_id":"j1"}`)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "content", "metadata"}).
			AddRow("id-1", "one", []byte(`{"job_id":"j1"}`)).
			AddRow("id-2", "two", []byte(nil)))

	docs, err := ix.Learnings(context.Background(), "j1")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "two", docs[1].Content)
	assert.Nil(t, docs[1].Metadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
