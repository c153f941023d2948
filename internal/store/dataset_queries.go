package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CreateDatasetQuery appends one retrieval audit record.
func (s *Store) CreateDatasetQuery(ctx context.Context, q *DatasetQuery) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dataset_queries (id, dataset_id, query, source, source_app_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		q.ID, q.DatasetID, q.Query, q.Source, q.SourceAppID, q.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("inserting dataset query: %w", err)
	}
	return nil
}

// DeleteDatasetQueriesByDataset removes a dataset's whole query log.
func (s *Store) DeleteDatasetQueriesByDataset(ctx context.Context, datasetID uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM dataset_queries WHERE dataset_id = $1`, datasetID); err != nil {
		return fmt.Errorf("deleting dataset queries for dataset %s: %w", datasetID, err)
	}
	return nil
}
