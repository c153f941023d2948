package indexing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// DeleteDocument removes a document and everything derived from it: keyword
// references, segment rows, the document row and a bulk vector delete.
// Deleting an already-deleted document is a no-op, so task redelivery is safe.
func (e *Engine) DeleteDocument(ctx context.Context, datasetID, documentID uuid.UUID) error {
	segments, err := e.store.ListSegmentsByDocument(ctx, documentID, "")
	if err != nil {
		return fmt.Errorf("list segments for document delete: %w", err)
	}
	if len(segments) > 0 {
		ids := make([]uuid.UUID, len(segments))
		for i, seg := range segments {
			ids[i] = seg.ID
		}
		if err := e.keywords.RemoveReferences(ctx, datasetID, ids); err != nil {
			return err
		}
	}

	if err := e.store.DeleteSegmentsByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete segments of document %s: %w", documentID, err)
	}
	if err := e.store.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete document %s: %w", documentID, err)
	}
	if err := e.vectors.DeleteByDocument(ctx, documentID); err != nil {
		return err
	}

	e.logger.Info("document deleted", "document_id", documentID, "segments", len(segments))
	return nil
}

// DeleteDataset removes every row the dataset owns plus its whole vector
// scope in one filtered delete. Idempotent.
func (e *Engine) DeleteDataset(ctx context.Context, datasetID uuid.UUID) error {
	if err := e.store.DeleteKeywordTableByDataset(ctx, datasetID); err != nil {
		return fmt.Errorf("delete keyword table of dataset %s: %w", datasetID, err)
	}
	if err := e.store.DeleteSegmentsByDataset(ctx, datasetID); err != nil {
		return fmt.Errorf("delete segments of dataset %s: %w", datasetID, err)
	}
	if err := e.store.DeleteDocumentsByDataset(ctx, datasetID); err != nil {
		return fmt.Errorf("delete documents of dataset %s: %w", datasetID, err)
	}
	if err := e.store.DeleteDatasetQueriesByDataset(ctx, datasetID); err != nil {
		return fmt.Errorf("delete queries of dataset %s: %w", datasetID, err)
	}
	if err := e.store.DeleteDataset(ctx, datasetID); err != nil {
		return fmt.Errorf("delete dataset %s: %w", datasetID, err)
	}
	if err := e.vectors.DeleteByDataset(ctx, datasetID); err != nil {
		return err
	}

	e.logger.Info("dataset deleted", "dataset_id", datasetID)
	return nil
}
