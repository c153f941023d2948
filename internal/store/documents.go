package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lexikon-ai/lexikon/internal/apperr"
)

const documentColumns = `id, account_id, dataset_id, process_rule_id, file_ref, batch, name, position,
	character_count, token_count, status, enabled, error,
	processing_started_at, parsing_completed_at, splitting_completed_at,
	indexing_completed_at, completed_at, stopped_at, disabled_at,
	created_at, updated_at`

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	err := row.Scan(
		&d.ID, &d.AccountID, &d.DatasetID, &d.ProcessRuleID, &d.FileRef, &d.Batch, &d.Name, &d.Position,
		&d.CharacterCount, &d.TokenCount, &d.Status, &d.Enabled, &d.Error,
		&d.ProcessingStartedAt, &d.ParsingCompletedAt, &d.SplittingCompletedAt,
		&d.IndexingCompletedAt, &d.CompletedAt, &d.StoppedAt, &d.DisabledAt,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateDocument inserts a document row. ID, status and timestamps must be
// set by the caller; created_at/updated_at default to now().
func (s *Store) CreateDocument(ctx context.Context, d *Document) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, account_id, dataset_id, process_rule_id, file_ref, batch, name, position,
			character_count, token_count, status, enabled, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		d.ID, d.AccountID, d.DatasetID, d.ProcessRuleID, d.FileRef, d.Batch, d.Name, d.Position,
		d.CharacterCount, d.TokenCount, d.Status, d.Enabled, d.Error,
	)
	if err != nil {
		return fmt.Errorf("inserting document %s: %w", d.ID, err)
	}
	return nil
}

// GetDocument returns the document by id, or apperr.ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	d, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %s", apperr.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying document %s: %w", id, err)
	}
	return d, nil
}

// ListDocumentsByIDs returns the documents matching ids, in position order.
// Missing ids are silently omitted.
func (s *Store) ListDocumentsByIDs(ctx context.Context, ids []uuid.UUID) ([]*Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ANY($1) ORDER BY position`, ids)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()
	return collectDocuments(rows)
}

// ListDocumentsByBatch returns a dataset's documents for one upload batch,
// in position order.
func (s *Store) ListDocumentsByBatch(ctx context.Context, datasetID uuid.UUID, batch string) ([]*Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE dataset_id = $1 AND batch = $2 ORDER BY position`,
		datasetID, batch)
	if err != nil {
		return nil, fmt.Errorf("querying batch documents: %w", err)
	}
	defer rows.Close()
	return collectDocuments(rows)
}

func collectDocuments(rows pgx.Rows) ([]*Document, error) {
	var docs []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

// MaxDocumentPosition returns the highest position in a dataset, 0 when the
// dataset has no documents.
func (s *Store) MaxDocumentPosition(ctx context.Context, datasetID uuid.UUID) (int, error) {
	var position int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(position), 0) FROM documents WHERE dataset_id = $1`, datasetID).Scan(&position)
	if err != nil {
		return 0, fmt.Errorf("querying max document position: %w", err)
	}
	return position, nil
}

// UpdateDocument writes all mutable document fields in one statement. The
// indexing engine is the sole writer during a build, so no read-modify-write
// race exists on these columns.
func (s *Store) UpdateDocument(ctx context.Context, d *Document) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE documents SET
			name = $2, character_count = $3, token_count = $4, status = $5, enabled = $6, error = $7,
			processing_started_at = $8, parsing_completed_at = $9, splitting_completed_at = $10,
			indexing_completed_at = $11, completed_at = $12, stopped_at = $13, disabled_at = $14,
			updated_at = now()
		WHERE id = $1`,
		d.ID, d.Name, d.CharacterCount, d.TokenCount, d.Status, d.Enabled, d.Error,
		d.ProcessingStartedAt, d.ParsingCompletedAt, d.SplittingCompletedAt,
		d.IndexingCompletedAt, d.CompletedAt, d.StoppedAt, d.DisabledAt,
	)
	if err != nil {
		return fmt.Errorf("updating document %s: %w", d.ID, err)
	}
	return nil
}

// DeleteDocument removes one document row. Deleting an absent document is a
// no-op.
func (s *Store) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	return nil
}

// DeleteDocumentsByDataset removes all document rows in a dataset.
func (s *Store) DeleteDocumentsByDataset(ctx context.Context, datasetID uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE dataset_id = $1`, datasetID); err != nil {
		return fmt.Errorf("deleting documents for dataset %s: %w", datasetID, err)
	}
	return nil
}
