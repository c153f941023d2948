package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lexikon-ai/lexikon/internal/apperr"
)

const segmentColumns = `id, account_id, dataset_id, document_id, node_id, position,
	content, character_count, token_count, hash, keywords,
	status, enabled, hit_count, error,
	indexing_completed_at, completed_at, stopped_at, disabled_at,
	created_at, updated_at`

func scanSegment(row pgx.Row) (*Segment, error) {
	var seg Segment
	err := row.Scan(
		&seg.ID, &seg.AccountID, &seg.DatasetID, &seg.DocumentID, &seg.NodeID, &seg.Position,
		&seg.Content, &seg.CharacterCount, &seg.TokenCount, &seg.Hash, &seg.Keywords,
		&seg.Status, &seg.Enabled, &seg.HitCount, &seg.Error,
		&seg.IndexingCompletedAt, &seg.CompletedAt, &seg.StoppedAt, &seg.DisabledAt,
		&seg.CreatedAt, &seg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &seg, nil
}

func collectSegments(rows pgx.Rows) ([]*Segment, error) {
	var segments []*Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning segment: %w", err)
		}
		segments = append(segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating segments: %w", err)
	}
	return segments, nil
}

// CreateSegment inserts a single segment row.
func (s *Store) CreateSegment(ctx context.Context, seg *Segment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO segments (id, account_id, dataset_id, document_id, node_id, position,
			content, character_count, token_count, hash, keywords, status, enabled, hit_count, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		seg.ID, seg.AccountID, seg.DatasetID, seg.DocumentID, seg.NodeID, seg.Position,
		seg.Content, seg.CharacterCount, seg.TokenCount, seg.Hash, seg.Keywords,
		seg.Status, seg.Enabled, seg.HitCount, seg.Error,
	)
	if err != nil {
		return fmt.Errorf("inserting segment %s: %w", seg.ID, err)
	}
	return nil
}

// CreateSegments inserts segment rows in one batch.
func (s *Store) CreateSegments(ctx context.Context, segments []*Segment) error {
	if len(segments) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, seg := range segments {
		batch.Queue(`
			INSERT INTO segments (id, account_id, dataset_id, document_id, node_id, position,
				content, character_count, token_count, hash, keywords, status, enabled, hit_count, error)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			seg.ID, seg.AccountID, seg.DatasetID, seg.DocumentID, seg.NodeID, seg.Position,
			seg.Content, seg.CharacterCount, seg.TokenCount, seg.Hash, seg.Keywords,
			seg.Status, seg.Enabled, seg.HitCount, seg.Error,
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting %d segments: %w", len(segments), err)
	}
	return nil
}

// GetSegment returns the segment by id, or apperr.ErrNotFound.
func (s *Store) GetSegment(ctx context.Context, id uuid.UUID) (*Segment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+segmentColumns+` FROM segments WHERE id = $1`, id)
	seg, err := scanSegment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: segment %s", apperr.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying segment %s: %w", id, err)
	}
	return seg, nil
}

// ListSegmentsByIDs returns segments matching ids; missing ids are omitted.
func (s *Store) ListSegmentsByIDs(ctx context.Context, ids []uuid.UUID) ([]*Segment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+segmentColumns+` FROM segments WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("querying segments: %w", err)
	}
	defer rows.Close()
	return collectSegments(rows)
}

// ListSegmentsByDocument returns all of a document's segments in position
// order, optionally filtered by status.
func (s *Store) ListSegmentsByDocument(ctx context.Context, documentID uuid.UUID, status SegmentStatus) ([]*Segment, error) {
	query := `SELECT ` + segmentColumns + ` FROM segments WHERE document_id = $1 ORDER BY position`
	args := []any{documentID}
	if status != "" {
		query = `SELECT ` + segmentColumns + ` FROM segments WHERE document_id = $1 AND status = $2 ORDER BY position`
		args = append(args, status)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying document segments: %w", err)
	}
	defer rows.Close()
	return collectSegments(rows)
}

// MaxSegmentPosition returns the highest position under a document, 0 when
// it has no segments.
func (s *Store) MaxSegmentPosition(ctx context.Context, documentID uuid.UUID) (int, error) {
	var position int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(position), 0) FROM segments WHERE document_id = $1`, documentID).Scan(&position)
	if err != nil {
		return 0, fmt.Errorf("querying max segment position: %w", err)
	}
	return position, nil
}

// UpdateSegment writes all mutable segment fields in one statement.
func (s *Store) UpdateSegment(ctx context.Context, seg *Segment) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE segments SET
			content = $2, character_count = $3, token_count = $4, hash = $5, keywords = $6,
			status = $7, enabled = $8, error = $9,
			indexing_completed_at = $10, completed_at = $11, stopped_at = $12, disabled_at = $13,
			updated_at = now()
		WHERE id = $1`,
		seg.ID, seg.Content, seg.CharacterCount, seg.TokenCount, seg.Hash, seg.Keywords,
		seg.Status, seg.Enabled, seg.Error,
		seg.IndexingCompletedAt, seg.CompletedAt, seg.StoppedAt, seg.DisabledAt,
	)
	if err != nil {
		return fmt.Errorf("updating segment %s: %w", seg.ID, err)
	}
	return nil
}

// MarkSegmentsCompletedByNodeIDs marks a vector batch's segments completed
// and enabled after the batch lands in the vector store.
func (s *Store) MarkSegmentsCompletedByNodeIDs(ctx context.Context, nodeIDs []uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE segments SET status = $2, enabled = true, completed_at = $3, error = '', updated_at = now()
		WHERE node_id = ANY($1)`,
		nodeIDs, SegmentStatusCompleted, at,
	)
	if err != nil {
		return fmt.Errorf("marking segments completed: %w", err)
	}
	return nil
}

// MarkSegmentsErrorByNodeIDs marks a vector batch's segments failed and
// disabled, recording the error text.
func (s *Store) MarkSegmentsErrorByNodeIDs(ctx context.Context, nodeIDs []uuid.UUID, errText string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE segments SET status = $2, enabled = false, error = $3,
			completed_at = NULL, stopped_at = $4, disabled_at = $4, updated_at = now()
		WHERE node_id = ANY($1)`,
		nodeIDs, SegmentStatusError, errText, at,
	)
	if err != nil {
		return fmt.Errorf("marking segments errored: %w", err)
	}
	return nil
}

// SetSegmentEnabled flips a segment's enabled flag. disabledAt is nil when
// enabling.
func (s *Store) SetSegmentEnabled(ctx context.Context, id uuid.UUID, enabled bool, disabledAt *time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE segments SET enabled = $2, disabled_at = $3, updated_at = now() WHERE id = $1`,
		id, enabled, disabledAt,
	)
	if err != nil {
		return fmt.Errorf("setting segment %s enabled=%t: %w", id, enabled, err)
	}
	return nil
}

// IncrementHitCounts atomically bumps hit_count on every matched segment.
// The increment happens in the database, so concurrent retrievals never
// lose updates.
func (s *Store) IncrementHitCounts(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE segments SET hit_count = hit_count + 1, updated_at = now() WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("incrementing hit counts: %w", err)
	}
	return nil
}

// SumDocumentCounts re-sums a document's character and token counts from
// its segments.
func (s *Store) SumDocumentCounts(ctx context.Context, documentID uuid.UUID) (characters, tokens int, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(character_count), 0), COALESCE(SUM(token_count), 0)
		FROM segments WHERE document_id = $1`, documentID).Scan(&characters, &tokens)
	if err != nil {
		return 0, 0, fmt.Errorf("summing document counts: %w", err)
	}
	return characters, tokens, nil
}

// CountSegmentsByDocument returns (total, completed) segment counts for
// build-status polling.
func (s *Store) CountSegmentsByDocument(ctx context.Context, documentID uuid.UUID) (total, completed int, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = $2)
		FROM segments WHERE document_id = $1`,
		documentID, SegmentStatusCompleted).Scan(&total, &completed)
	if err != nil {
		return 0, 0, fmt.Errorf("counting document segments: %w", err)
	}
	return total, completed, nil
}

// DeleteSegment removes one segment row; absent rows are a no-op.
func (s *Store) DeleteSegment(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM segments WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting segment %s: %w", id, err)
	}
	return nil
}

// DeleteSegmentsByDocument removes all segment rows under a document.
func (s *Store) DeleteSegmentsByDocument(ctx context.Context, documentID uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM segments WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("deleting segments for document %s: %w", documentID, err)
	}
	return nil
}

// DeleteSegmentsByDataset removes all segment rows under a dataset.
func (s *Store) DeleteSegmentsByDataset(ctx context.Context, datasetID uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM segments WHERE dataset_id = $1`, datasetID); err != nil {
		return fmt.Errorf("deleting segments for dataset %s: %w", datasetID, err)
	}
	return nil
}
