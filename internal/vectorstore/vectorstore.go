// Package vectorstore is the gateway to the pgvector collection. It owns
// embedding generation and every read or write against the vectors table;
// nothing else in the codebase touches embeddings directly.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/lexikon-ai/lexikon/internal/apperr"
	"github.com/lexikon-ai/lexikon/internal/log"
)

// searchTimeout bounds a single semantic search round trip, embedding included.
const searchTimeout = 10 * time.Second

// Chunk is one embeddable unit, keyed by the segment's node ID.
type Chunk struct {
	NodeID          uuid.UUID
	AccountID       uuid.UUID
	DatasetID       uuid.UUID
	DocumentID      uuid.UUID
	SegmentID       uuid.UUID
	Content         string
	DocumentEnabled bool
	SegmentEnabled  bool
}

// Hit is one semantic search result.
type Hit struct {
	NodeID     uuid.UUID
	DatasetID  uuid.UUID
	DocumentID uuid.UUID
	SegmentID  uuid.UUID
	Content    string
	Score      float64
}

// Update describes a partial vector update. Nil fields are left untouched.
// Setting Content triggers a re-embed.
type Update struct {
	Content         *string
	DocumentEnabled *bool
	SegmentEnabled  *bool
}

// Querier is the subset of pgx pool behaviour the gateway needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Gateway reads and writes the vectors table. Safe for concurrent use.
type Gateway struct {
	db       Querier
	embedder ai.Embedder
	logger   log.Logger
}

// New constructs a Gateway. The embedder is used for both document chunks
// and search queries, so both sides of the similarity live in one space.
func New(db Querier, embedder ai.Embedder, logger log.Logger) *Gateway {
	return &Gateway{db: db, embedder: embedder, logger: logger}
}

// embed generates one embedding per text in a single request.
func (g *Gateway) embed(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	docs := make([]*ai.Document, len(texts))
	for i, t := range texts {
		docs[i] = &ai.Document{Content: []*ai.Part{ai.NewTextPart(t)}}
	}

	resp, err := g.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
	if err != nil {
		return nil, fmt.Errorf("generate embeddings: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}

	vectors := make([]pgvector.Vector, len(texts))
	for i, e := range resp.Embeddings {
		if len(e.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d", i)
		}
		vectors[i] = pgvector.NewVector(e.Embedding)
	}
	return vectors, nil
}

// Add embeds the chunks and upserts them into the collection. Re-adding an
// existing node ID overwrites its row, so retried batches are safe.
func (g *Gateway) Add(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := g.embed(ctx, texts)
	if err != nil {
		return err
	}

	for i, c := range chunks {
		_, err := g.db.Exec(ctx, `
			INSERT INTO vectors (node_id, account_id, dataset_id, document_id, segment_id,
				document_enabled, segment_enabled, content, embedding, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
			ON CONFLICT (node_id) DO UPDATE SET
				document_enabled = EXCLUDED.document_enabled,
				segment_enabled = EXCLUDED.segment_enabled,
				content = EXCLUDED.content,
				embedding = EXCLUDED.embedding,
				updated_at = now()`,
			c.NodeID, c.AccountID, c.DatasetID, c.DocumentID, c.SegmentID,
			c.DocumentEnabled, c.SegmentEnabled, c.Content, vectors[i])
		if err != nil {
			return fmt.Errorf("insert vector %s: %w", c.NodeID, err)
		}
	}

	g.logger.Debug("added vectors", "count", len(chunks))
	return nil
}

// UpdateByNodeID applies a partial update to one vector. Returns
// apperr.ErrNotFound when the node ID has no row.
func (g *Gateway) UpdateByNodeID(ctx context.Context, nodeID uuid.UUID, update Update) error {
	var embedding *pgvector.Vector
	if update.Content != nil {
		vectors, err := g.embed(ctx, []string{*update.Content})
		if err != nil {
			return err
		}
		embedding = &vectors[0]
	}

	tag, err := g.db.Exec(ctx, `
		UPDATE vectors SET
			content = COALESCE($2, content),
			embedding = COALESCE($3, embedding),
			document_enabled = COALESCE($4, document_enabled),
			segment_enabled = COALESCE($5, segment_enabled),
			updated_at = now()
		WHERE node_id = $1`,
		nodeID, update.Content, embedding, update.DocumentEnabled, update.SegmentEnabled)
	if err != nil {
		return fmt.Errorf("update vector %s: %w", nodeID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("vector %s: %w", nodeID, apperr.ErrNotFound)
	}
	return nil
}

// SetDocumentEnabled flips the document flag on every vector of a document.
func (g *Gateway) SetDocumentEnabled(ctx context.Context, documentID uuid.UUID, enabled bool) error {
	_, err := g.db.Exec(ctx,
		`UPDATE vectors SET document_enabled = $2, updated_at = now() WHERE document_id = $1`,
		documentID, enabled)
	if err != nil {
		return fmt.Errorf("set document_enabled on vectors of document %s: %w", documentID, err)
	}
	return nil
}

// DeleteByNodeID removes one vector. Missing rows are not an error.
func (g *Gateway) DeleteByNodeID(ctx context.Context, nodeID uuid.UUID) error {
	if _, err := g.db.Exec(ctx, `DELETE FROM vectors WHERE node_id = $1`, nodeID); err != nil {
		return fmt.Errorf("delete vector %s: %w", nodeID, err)
	}
	return nil
}

// DeleteByDocument removes every vector of a document.
func (g *Gateway) DeleteByDocument(ctx context.Context, documentID uuid.UUID) error {
	if _, err := g.db.Exec(ctx, `DELETE FROM vectors WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete vectors of document %s: %w", documentID, err)
	}
	return nil
}

// DeleteByDataset removes every vector of a dataset.
func (g *Gateway) DeleteByDataset(ctx context.Context, datasetID uuid.UUID) error {
	if _, err := g.db.Exec(ctx, `DELETE FROM vectors WHERE dataset_id = $1`, datasetID); err != nil {
		return fmt.Errorf("delete vectors of dataset %s: %w", datasetID, err)
	}
	return nil
}

// Search embeds the query and returns the topK nearest enabled vectors across
// the given datasets, using cosine similarity. Results below scoreThreshold
// are dropped; the slice may be empty.
func (g *Gateway) Search(ctx context.Context, datasetIDs []uuid.UUID, query string, topK int, scoreThreshold float64) ([]Hit, error) {
	if len(datasetIDs) == 0 {
		return nil, nil
	}

	queryCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	vectors, err := g.embed(queryCtx, []string{query})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("query embedding timeout: %w", err)
		}
		return nil, err
	}

	rows, err := g.db.Query(queryCtx, `
		SELECT node_id, dataset_id, document_id, segment_id, content,
			1 - (embedding <=> $1) AS score
		FROM vectors
		WHERE dataset_id = ANY($2) AND document_enabled AND segment_enabled
			AND 1 - (embedding <=> $1) >= $3
		ORDER BY embedding <=> $1
		LIMIT $4`,
		vectors[0], datasetIDs, scoreThreshold, topK)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("vector search timeout: %w", err)
		}
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.NodeID, &h.DatasetID, &h.DocumentID, &h.SegmentID, &h.Content, &h.Score); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search hits: %w", err)
	}
	return hits, nil
}
