package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GetOrCreateKeywordTable returns the dataset's keyword table, creating an
// empty one on first use. The upsert is race-safe: concurrent first calls
// converge on one row via ON CONFLICT DO NOTHING.
func (s *Store) GetOrCreateKeywordTable(ctx context.Context, datasetID uuid.UUID) (*KeywordTable, error) {
	kt, err := s.getKeywordTable(ctx, datasetID)
	if err == nil {
		return kt, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("querying keyword table for dataset %s: %w", datasetID, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO keyword_tables (id, dataset_id, keyword_table)
		VALUES ($1, $2, '{}'::jsonb)
		ON CONFLICT (dataset_id) DO NOTHING`,
		uuid.New(), datasetID,
	)
	if err != nil {
		return nil, fmt.Errorf("creating keyword table for dataset %s: %w", datasetID, err)
	}

	kt, err = s.getKeywordTable(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("re-reading keyword table for dataset %s: %w", datasetID, err)
	}
	return kt, nil
}

func (s *Store) getKeywordTable(ctx context.Context, datasetID uuid.UUID) (*KeywordTable, error) {
	var kt KeywordTable
	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, dataset_id, keyword_table, updated_at
		FROM keyword_tables WHERE dataset_id = $1`, datasetID).
		Scan(&kt.ID, &kt.DatasetID, &raw, &kt.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &kt.Table); err != nil {
		return nil, fmt.Errorf("decoding keyword table: %w", err)
	}
	if kt.Table == nil {
		kt.Table = make(map[string][]uuid.UUID)
	}
	return &kt, nil
}

// UpdateKeywordTable replaces the dataset's entire keyword map in one
// statement. Callers must hold the per-dataset keyword lock across the full
// read-modify-write, not just this call.
func (s *Store) UpdateKeywordTable(ctx context.Context, datasetID uuid.UUID, table map[string][]uuid.UUID) error {
	raw, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("encoding keyword table: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE keyword_tables SET keyword_table = $2, updated_at = now()
		WHERE dataset_id = $1`,
		datasetID, raw,
	)
	if err != nil {
		return fmt.Errorf("updating keyword table for dataset %s: %w", datasetID, err)
	}
	return nil
}

// ListKeywordTables returns the keyword tables for the given datasets;
// datasets without a table are omitted.
func (s *Store) ListKeywordTables(ctx context.Context, datasetIDs []uuid.UUID) ([]*KeywordTable, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, dataset_id, keyword_table, updated_at
		FROM keyword_tables WHERE dataset_id = ANY($1)`, datasetIDs)
	if err != nil {
		return nil, fmt.Errorf("querying keyword tables: %w", err)
	}
	defer rows.Close()

	var tables []*KeywordTable
	for rows.Next() {
		var kt KeywordTable
		var raw []byte
		if err := rows.Scan(&kt.ID, &kt.DatasetID, &raw, &kt.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning keyword table: %w", err)
		}
		if err := json.Unmarshal(raw, &kt.Table); err != nil {
			return nil, fmt.Errorf("decoding keyword table: %w", err)
		}
		if kt.Table == nil {
			kt.Table = make(map[string][]uuid.UUID)
		}
		tables = append(tables, &kt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating keyword tables: %w", err)
	}
	return tables, nil
}

// DeleteKeywordTableByDataset removes the dataset's keyword table row.
func (s *Store) DeleteKeywordTableByDataset(ctx context.Context, datasetID uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM keyword_tables WHERE dataset_id = $1`, datasetID); err != nil {
		return fmt.Errorf("deleting keyword table for dataset %s: %w", datasetID, err)
	}
	return nil
}
