package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lexikon-ai/lexikon/internal/apperr"
)

// CreateDataset inserts a dataset row.
func (s *Store) CreateDataset(ctx context.Context, d *Dataset) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO datasets (id, account_id, name, description)
		VALUES ($1, $2, $3, $4)`,
		d.ID, d.AccountID, d.Name, d.Description,
	)
	if err != nil {
		return fmt.Errorf("inserting dataset %s: %w", d.ID, err)
	}
	return nil
}

// GetDataset returns the dataset by id, or apperr.ErrNotFound.
func (s *Store) GetDataset(ctx context.Context, id uuid.UUID) (*Dataset, error) {
	var d Dataset
	err := s.pool.QueryRow(ctx, `
		SELECT id, account_id, name, description, created_at, updated_at
		FROM datasets WHERE id = $1`, id).
		Scan(&d.ID, &d.AccountID, &d.Name, &d.Description, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: dataset %s", apperr.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying dataset %s: %w", id, err)
	}
	return &d, nil
}

// ListAccessibleDatasetIDs filters the requested dataset ids down to those
// owned by the account. Inaccessible ids are dropped, not reported.
func (s *Store) ListAccessibleDatasetIDs(ctx context.Context, accountID uuid.UUID, ids []uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM datasets WHERE account_id = $1 AND id = ANY($2)`, accountID, ids)
	if err != nil {
		return nil, fmt.Errorf("querying accessible datasets: %w", err)
	}
	defer rows.Close()

	var accessible []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning dataset id: %w", err)
		}
		accessible = append(accessible, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating datasets: %w", err)
	}
	return accessible, nil
}

// DeleteDataset removes the dataset row itself; scope cleanup of documents,
// segments, keyword table and query log is the indexing engine's job.
func (s *Store) DeleteDataset(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM datasets WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting dataset %s: %w", id, err)
	}
	return nil
}
