// Package document is the request-path entry point of the pipeline: it
// creates document batches, persists their process rule, dispatches builds
// and the other background operations, and answers batch status polls.
package document

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/lexikon-ai/lexikon/internal/apperr"
	"github.com/lexikon-ai/lexikon/internal/indexing"
	"github.com/lexikon-ai/lexikon/internal/lock"
	"github.com/lexikon-ai/lexikon/internal/log"
	"github.com/lexikon-ai/lexikon/internal/procrule"
	"github.com/lexikon-ai/lexikon/internal/store"
	"github.com/lexikon-ai/lexikon/internal/task"
)

// Pipeline is the indexing engine surface the service dispatches to.
type Pipeline interface {
	Build(ctx context.Context, documentIDs []uuid.UUID) error
	UpdateDocumentEnabled(ctx context.Context, documentID uuid.UUID, wasEnabled bool, held indexing.Releaser) error
	DeleteDocument(ctx context.Context, datasetID, documentID uuid.UUID) error
	DeleteDataset(ctx context.Context, datasetID uuid.UUID) error
}

// Locker guards the per-document enabled toggle.
type Locker interface {
	TryAcquire(ctx context.Context, key string) (*lock.Handle, error)
}

// Extensions reports which file extensions the extractor can parse.
type Extensions interface {
	Supports(ext string) bool
}

// Service owns document-level operations. Safe for concurrent use.
type Service struct {
	store      *store.Store
	pipeline   Pipeline
	dispatcher task.Dispatcher
	locker     Locker
	extensions Extensions
	logger     log.Logger
}

func New(
	st *store.Store,
	pipeline Pipeline,
	dispatcher task.Dispatcher,
	locker Locker,
	extensions Extensions,
	logger log.Logger,
) *Service {
	return &Service{
		store:      st,
		pipeline:   pipeline,
		dispatcher: dispatcher,
		locker:     locker,
		extensions: extensions,
		logger:     logger,
	}
}

// File is one uploaded file reference in a create batch.
type File struct {
	Name    string
	FileRef string
}

// CreateRequest is an upload batch: the files plus the chunking
// configuration that will apply to every document in the batch.
type CreateRequest struct {
	AccountID uuid.UUID
	DatasetID uuid.UUID
	Files     []File
	Mode      procrule.Mode
	Rule      *procrule.Rule
}

// CreateResult is returned immediately; the build itself runs in the
// background and is observed through BatchStatus.
type CreateResult struct {
	Batch     string
	Documents []*store.Document
}

// Create validates the batch, persists the process rule and the document
// rows in waiting status, and dispatches one asynchronous build for the
// whole batch.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if len(req.Files) == 0 {
		return nil, fmt.Errorf("%w: at least one file is required", apperr.ErrValidation)
	}

	dataset, err := s.store.GetDataset(ctx, req.DatasetID)
	if err != nil {
		return nil, err
	}
	if dataset.AccountID != req.AccountID {
		return nil, fmt.Errorf("dataset %s: %w", dataset.ID, apperr.ErrForbidden)
	}

	for _, f := range req.Files {
		ext := filepath.Ext(f.FileRef)
		if !s.extensions.Supports(ext) {
			return nil, fmt.Errorf("%w: unsupported file type %q for %s",
				apperr.ErrValidation, ext, f.Name)
		}
	}

	// Validates a custom rule up front so a bad rule fails the request, not
	// the background build.
	if _, err := procrule.Resolve(req.Mode, req.Rule); err != nil {
		return nil, err
	}

	rule := &store.ProcessRule{
		ID:        uuid.New(),
		AccountID: req.AccountID,
		DatasetID: req.DatasetID,
		Mode:      req.Mode,
		Rule:      req.Rule,
	}
	if err := s.store.CreateProcessRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("create process rule: %w", err)
	}

	maxPosition, err := s.store.MaxDocumentPosition(ctx, req.DatasetID)
	if err != nil {
		return nil, fmt.Errorf("find max document position: %w", err)
	}

	batch := newBatchTag()
	docs := make([]*store.Document, 0, len(req.Files))
	ids := make([]uuid.UUID, 0, len(req.Files))
	for i, f := range req.Files {
		doc := &store.Document{
			ID:            uuid.New(),
			AccountID:     req.AccountID,
			DatasetID:     req.DatasetID,
			ProcessRuleID: rule.ID,
			FileRef:       f.FileRef,
			Batch:         batch,
			Name:          f.Name,
			Position:      maxPosition + i + 1,
			Status:        store.DocumentStatusWaiting,
		}
		if err := s.store.CreateDocument(ctx, doc); err != nil {
			return nil, fmt.Errorf("create document %s: %w", f.Name, err)
		}
		docs = append(docs, doc)
		ids = append(ids, doc.ID)
	}

	err = s.dispatcher.Dispatch("document_build", func(taskCtx context.Context) error {
		return s.pipeline.Build(taskCtx, ids)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("document batch created",
		"dataset_id", req.DatasetID, "batch", batch, "documents", len(docs))
	return &CreateResult{Batch: batch, Documents: docs}, nil
}

// newBatchTag groups one upload's documents: a timestamp for operators plus
// a random suffix for uniqueness.
func newBatchTag() string {
	return time.Now().UTC().Format("20060102150405") + "-" + uuid.NewString()[:8]
}

// DocumentProgress is one document's build state in a batch status poll.
type DocumentProgress struct {
	Document          *store.Document
	TotalSegments     int
	CompletedSegments int
}

// BatchStatus reports per-document pipeline progress for a batch tag.
func (s *Service) BatchStatus(ctx context.Context, accountID, datasetID uuid.UUID, batch string) ([]DocumentProgress, error) {
	dataset, err := s.store.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if dataset.AccountID != accountID {
		return nil, fmt.Errorf("dataset %s: %w", dataset.ID, apperr.ErrForbidden)
	}

	docs, err := s.store.ListDocumentsByBatch(ctx, datasetID, batch)
	if err != nil {
		return nil, fmt.Errorf("list batch documents: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("batch %q in dataset %s: %w", batch, datasetID, apperr.ErrNotFound)
	}

	progress := make([]DocumentProgress, 0, len(docs))
	for _, doc := range docs {
		total, completed, err := s.store.CountSegmentsByDocument(ctx, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("count segments of document %s: %w", doc.ID, err)
		}
		progress = append(progress, DocumentProgress{
			Document:          doc,
			TotalSegments:     total,
			CompletedSegments: completed,
		})
	}
	return progress, nil
}

// Get returns one document after an ownership check.
func (s *Service) Get(ctx context.Context, accountID, documentID uuid.UUID) (*store.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.AccountID != accountID {
		return nil, fmt.Errorf("document %s: %w", doc.ID, apperr.ErrForbidden)
	}
	return doc, nil
}

// Rename changes a document's display name.
func (s *Service) Rename(ctx context.Context, accountID, documentID uuid.UUID, name string) (*store.Document, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name must not be empty", apperr.ErrValidation)
	}
	doc, err := s.Get(ctx, accountID, documentID)
	if err != nil {
		return nil, err
	}
	doc.Name = name
	if err := s.store.UpdateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("rename document: %w", err)
	}
	return doc, nil
}

// SetEnabled toggles a document's visibility. The relational flag flips
// here, synchronously, under the per-document lock; the cross-store
// reconciliation runs in the background and releases the lock when done. A
// toggle already in progress surfaces as apperr.ErrConflict.
func (s *Service) SetEnabled(ctx context.Context, accountID, documentID uuid.UUID, enabled bool) error {
	doc, err := s.Get(ctx, accountID, documentID)
	if err != nil {
		return err
	}
	if doc.Status != store.DocumentStatusCompleted {
		return fmt.Errorf("%w: document %s is %s, only completed documents can be toggled",
			apperr.ErrValidation, doc.ID, doc.Status)
	}
	if doc.Enabled == enabled {
		return fmt.Errorf("%w: document %s already has enabled=%t",
			apperr.ErrValidation, doc.ID, enabled)
	}

	handle, err := s.locker.TryAcquire(ctx, lock.DocumentEnabledKey(doc.ID))
	if err != nil {
		return err
	}

	// Captured before the flag is written; the engine compensates back to
	// this value on failure.
	wasEnabled := doc.Enabled

	doc.Enabled = enabled
	if enabled {
		doc.DisabledAt = nil
	} else {
		now := time.Now().UTC()
		doc.DisabledAt = &now
	}
	if err := s.store.UpdateDocument(ctx, doc); err != nil {
		handle.Release(ctx)
		return fmt.Errorf("set document enabled flag: %w", err)
	}

	err = s.dispatcher.Dispatch("document_enabled_toggle", func(taskCtx context.Context) error {
		return s.pipeline.UpdateDocumentEnabled(taskCtx, doc.ID, wasEnabled, handle)
	})
	if err != nil {
		// The toggle never reaches the other stores; undo the flag and free
		// the lock so the caller can retry.
		doc.Enabled = wasEnabled
		if wasEnabled {
			doc.DisabledAt = nil
		}
		if uerr := s.store.UpdateDocument(ctx, doc); uerr != nil {
			s.logger.Error("failed to undo document enabled flag after dispatch failure",
				"document_id", doc.ID, "error", uerr)
		}
		handle.Release(ctx)
		return err
	}
	return nil
}

// Delete removes a document asynchronously.
func (s *Service) Delete(ctx context.Context, accountID, documentID uuid.UUID) error {
	doc, err := s.Get(ctx, accountID, documentID)
	if err != nil {
		return err
	}
	return s.dispatcher.Dispatch("document_delete", func(taskCtx context.Context) error {
		return s.pipeline.DeleteDocument(taskCtx, doc.DatasetID, doc.ID)
	})
}

// DeleteDataset removes a dataset and everything it owns asynchronously.
func (s *Service) DeleteDataset(ctx context.Context, accountID, datasetID uuid.UUID) error {
	dataset, err := s.store.GetDataset(ctx, datasetID)
	if err != nil {
		return err
	}
	if dataset.AccountID != accountID {
		return fmt.Errorf("dataset %s: %w", dataset.ID, apperr.ErrForbidden)
	}
	return s.dispatcher.Dispatch("dataset_delete", func(taskCtx context.Context) error {
		return s.pipeline.DeleteDataset(taskCtx, datasetID)
	})
}
