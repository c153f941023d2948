// Package indexing orchestrates the document build pipeline and the
// cross-store reconciliation that keeps the relational rows, the keyword
// table and the vector collection agreeing about what is retrievable.
package indexing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lexikon-ai/lexikon/internal/config"
	"github.com/lexikon-ai/lexikon/internal/extractor"
	"github.com/lexikon-ai/lexikon/internal/log"
	"github.com/lexikon-ai/lexikon/internal/store"
	"github.com/lexikon-ai/lexikon/internal/vectorstore"
)

// Vectors is the vector-collection surface the engine drives.
type Vectors interface {
	Add(ctx context.Context, chunks []vectorstore.Chunk) error
	UpdateByNodeID(ctx context.Context, nodeID uuid.UUID, update vectorstore.Update) error
	DeleteByDocument(ctx context.Context, documentID uuid.UUID) error
	DeleteByDataset(ctx context.Context, datasetID uuid.UUID) error
}

// Keywords is the locked keyword-table mutation surface.
type Keywords interface {
	AddReferences(ctx context.Context, datasetID uuid.UUID, refs map[uuid.UUID][]string) error
	RemoveReferences(ctx context.Context, datasetID uuid.UUID, segmentIDs []uuid.UUID) error
}

// Loader resolves a stored file reference into raw text blocks.
type Loader interface {
	Load(fileRef string) ([]extractor.TextBlock, error)
}

// Releaser is a held lock handed over by the caller; the engine releases it
// when the guarded operation finishes.
type Releaser interface {
	Release(ctx context.Context)
}

// TokenCounter measures text in tokens.
type TokenCounter func(text string) int

// KeywordExtractor returns up to maxKeywords keywords for text.
type KeywordExtractor func(text string, maxKeywords int) []string

// Engine runs document builds and the document-scoped maintenance
// operations (enable toggle, deletes). One Engine is shared by all workers;
// it is safe for concurrent use.
type Engine struct {
	store           *store.Store
	vectors         Vectors
	keywords        Keywords
	loader          Loader
	countTokens     TokenCounter
	extractKeywords KeywordExtractor
	cfg             config.IndexingConfig
	logger          log.Logger
}

func New(
	st *store.Store,
	vectors Vectors,
	keywords Keywords,
	loader Loader,
	countTokens TokenCounter,
	extractKeywords KeywordExtractor,
	cfg config.IndexingConfig,
	logger log.Logger,
) *Engine {
	return &Engine{
		store:           st,
		vectors:         vectors,
		keywords:        keywords,
		loader:          loader,
		countTokens:     countTokens,
		extractKeywords: extractKeywords,
		cfg:             cfg,
		logger:          logger,
	}
}

// markDocumentError moves a document to its terminal error state, keeping
// the failure message for status polling.
func (e *Engine) markDocumentError(ctx context.Context, doc *store.Document, cause error) {
	now := time.Now().UTC()
	doc.Status = store.DocumentStatusError
	doc.Enabled = false
	doc.Error = cause.Error()
	doc.StoppedAt = &now
	if err := e.store.UpdateDocument(ctx, doc); err != nil {
		e.logger.Error("failed to record document error state",
			"document_id", doc.ID, "cause", cause, "error", err)
	}
}
