package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/mikeboe/deep-research/pkg/database"
)

// Metadata keys written for every indexed learning.
const (
	MetaJobID  = "job_id"
	MetaTopic  = "topic"
	MetaSource = "source"
)

// Document is one embedded chunk of a learning.
type Document struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	Embedding []float32      `json:"embedding,omitempty"`
}

// Match is a search hit with its cosine similarity.
type Match struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

// PGVectorStore stores learnings in a pgvector table.
type PGVectorStore struct {
	db        database.DBTX
	tableName string
}

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-zA-Z0-9_]{0,62}$`)

// isValidTableName reports whether name is a plain Postgres identifier.
func isValidTableName(name string) bool {
	return tableNamePattern.MatchString(name)
}

func NewPGVectorStore(db database.DBTX, tableName string) (*PGVectorStore, error) {
	if !isValidTableName(tableName) {
		return nil, fmt.Errorf("invalid table name %q: must start with a lowercase letter or underscore and contain at most 63 alphanumeric characters or underscores", tableName)
	}
	return &PGVectorStore{db: db, tableName: tableName}, nil
}

func (vs *PGVectorStore) table() string {
	return pgx.Identifier{vs.tableName}.Sanitize()
}

// AddDocuments inserts docs in a single statement.
func (vs *PGVectorStore) AddDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	values := make([]string, 0, len(docs))
	args := make([]any, 0, len(docs)*3)
	for _, doc := range docs {
		metadataJSON, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}

		n := len(args)
		values = append(values, fmt.Sprintf("($%d, $%d, $%d)", n+1, n+2, n+3))
		args = append(args, doc.Content, metadataJSON, pgvector.NewVector(doc.Embedding))
	}

	query := fmt.Sprintf("INSERT INTO %s (content, metadata, embedding) VALUES %s",
		vs.table(), strings.Join(values, ", "))

	if _, err := vs.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert documents: %w", err)
	}
	return nil
}

// SimilaritySearch returns the topK documents closest to queryEmbedding among
// those matching filter. See buildMetadataQuery for the filter syntax.
func (vs *PGVectorStore) SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int, filter map[string]any) ([]Match, error) {
	args := []any{pgvector.NewVector(queryEmbedding)}
	where, err := buildMetadataQuery(filter, &args)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata query: %w", err)
	}
	args = append(args, topK)

	query := fmt.Sprintf(`
		SELECT id, content, metadata, 1 - (embedding <=> $1) AS similarity
		FROM %s
		WHERE %s
		ORDER BY embedding <=> $1
		LIMIT $%d
	`, vs.table(), where, len(args))

	rows, err := vs.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute similarity search: %w", err)
	}
	defer rows.Close()

	matches := []Match{}
	for rows.Next() {
		var doc Document
		var metadataJSON []byte
		var similarity float64

		if err := rows.Scan(&doc.ID, &doc.Content, &metadataJSON, &similarity); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := unmarshalMetadata(metadataJSON, &doc); err != nil {
			return nil, err
		}

		matches = append(matches, Match{Document: doc, Score: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return matches, nil
}

// GetContentByMetadata returns every document matching filter.
func (vs *PGVectorStore) GetContentByMetadata(ctx context.Context, filter map[string]any) ([]Document, error) {
	var args []any
	where, err := buildMetadataQuery(filter, &args)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata query: %w", err)
	}

	query := fmt.Sprintf("SELECT id, content, metadata FROM %s WHERE %s ORDER BY created_at",
		vs.table(), where)

	rows, err := vs.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	documents := []Document{}
	for rows.Next() {
		var doc Document
		var metadataJSON []byte

		if err := rows.Scan(&doc.ID, &doc.Content, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := unmarshalMetadata(metadataJSON, &doc); err != nil {
			return nil, err
		}

		documents = append(documents, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return documents, nil
}

// DeleteByJob removes everything indexed for a job. Re-indexing a job
// starts with it.
func (vs *PGVectorStore) DeleteByJob(ctx context.Context, jobID string) (int64, error) {
	tag, err := vs.db.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE metadata->>'job_id' = $1", vs.table()), jobID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete documents of job %s: %w", jobID, err)
	}
	return tag.RowsAffected(), nil
}

func unmarshalMetadata(raw []byte, doc *Document) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &doc.Metadata); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return nil
}

// buildMetadataQuery turns filter into a WHERE clause, appending its
// parameters to args. Plain keys match by JSONB containment; "$and" and "$or"
// take lists of sub-filters and "$not" takes one sub-filter.
func buildMetadataQuery(filter map[string]any, args *[]any) (string, error) {
	if len(filter) == 0 {
		return "TRUE", nil
	}

	var conditions []string

	for key, value := range filter {
		switch key {
		case "$and", "$or":
			list, ok := value.([]any)
			if !ok {
				return "", fmt.Errorf("value for %s must be a list of conditions", key)
			}
			var sub []string
			for _, item := range list {
				subMap, ok := item.(map[string]any)
				if !ok {
					return "", fmt.Errorf("item in %s list must be a JSON object", key)
				}
				subQuery, err := buildMetadataQuery(subMap, args)
				if err != nil {
					return "", err
				}
				sub = append(sub, "("+subQuery+")")
			}
			if len(sub) == 0 {
				continue
			}

			op := " AND "
			if key == "$or" {
				op = " OR "
			}
			conditions = append(conditions, "("+strings.Join(sub, op)+")")

		case "$not":
			subMap, ok := value.(map[string]any)
			if !ok {
				return "", fmt.Errorf("value for $not must be a JSON object")
			}
			subQuery, err := buildMetadataQuery(subMap, args)
			if err != nil {
				return "", err
			}
			conditions = append(conditions, "NOT ("+subQuery+")")

		default:
			pair, err := json.Marshal(map[string]any{key: value})
			if err != nil {
				return "", fmt.Errorf("failed to marshal metadata pair: %w", err)
			}
			*args = append(*args, pair)
			conditions = append(conditions, fmt.Sprintf("metadata @> $%d", len(*args)))
		}
	}

	if len(conditions) == 0 {
		return "TRUE", nil
	}

	return strings.Join(conditions, " AND "), nil
}
