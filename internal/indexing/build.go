package indexing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lexikon-ai/lexikon/internal/procrule"
	"github.com/lexikon-ai/lexikon/internal/store"
	"github.com/lexikon-ai/lexikon/internal/vectorstore"
)

// Build runs the four-stage pipeline for each document in turn. Documents
// fail independently: an error moves only that document to error status and
// the rest of the batch continues. Build itself only fails when the batch
// cannot even be loaded, so a task redelivery never sees a spurious failure.
func (e *Engine) Build(ctx context.Context, documentIDs []uuid.UUID) error {
	docs, err := e.store.ListDocumentsByIDs(ctx, documentIDs)
	if err != nil {
		return fmt.Errorf("load documents for build: %w", err)
	}

	for _, doc := range docs {
		// Redelivered tasks skip documents a previous run already finished.
		if doc.Status == store.DocumentStatusCompleted || doc.Status == store.DocumentStatusError {
			e.logger.Debug("skipping document in terminal status",
				"document_id", doc.ID, "status", doc.Status)
			continue
		}
		if err := e.buildOne(ctx, doc); err != nil {
			e.logger.Error("document build failed", "document_id", doc.ID, "error", err)
			e.markDocumentError(ctx, doc, err)
		}
	}
	return nil
}

func (e *Engine) buildOne(ctx context.Context, doc *store.Document) error {
	rule, text, err := e.parse(ctx, doc)
	if err != nil {
		return err
	}
	segments, err := e.split(ctx, doc, rule, text)
	if err != nil {
		return err
	}
	if err := e.index(ctx, doc, segments); err != nil {
		return err
	}
	return e.complete(ctx, doc, segments)
}

// parse extracts the document's text, strips extraction artifacts and
// applies the rule's cleaning toggles. Leaves the document in splitting
// status with its character count recorded.
func (e *Engine) parse(ctx context.Context, doc *store.Document) (procrule.Rule, string, error) {
	now := time.Now().UTC()
	doc.Status = store.DocumentStatusParsing
	doc.ProcessingStartedAt = &now
	if err := e.store.UpdateDocument(ctx, doc); err != nil {
		return procrule.Rule{}, "", fmt.Errorf("mark document parsing: %w", err)
	}

	pr, err := e.store.GetProcessRule(ctx, doc.ProcessRuleID)
	if err != nil {
		return procrule.Rule{}, "", fmt.Errorf("load process rule: %w", err)
	}
	rule, err := procrule.Resolve(pr.Mode, pr.Rule)
	if err != nil {
		return procrule.Rule{}, "", err
	}

	blocks, err := e.loader.Load(doc.FileRef)
	if err != nil {
		return procrule.Rule{}, "", fmt.Errorf("extract %s: %w", doc.FileRef, err)
	}
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		parts = append(parts, b.Content)
	}
	text := procrule.CleanExtraText(strings.Join(parts, "\n\n"))
	text = procrule.CleanText(text, rule)

	parsedAt := time.Now().UTC()
	doc.CharacterCount = utf8.RuneCountInString(text)
	doc.ParsingCompletedAt = &parsedAt
	doc.Status = store.DocumentStatusSplitting
	if err := e.store.UpdateDocument(ctx, doc); err != nil {
		return procrule.Rule{}, "", fmt.Errorf("mark document splitting: %w", err)
	}
	return rule, text, nil
}

// split chunks the text and creates one segment per chunk, each with a fresh
// node ID and a position continuing from the document's current maximum.
// Leaves the document in indexing status with its token count recorded.
func (e *Engine) split(ctx context.Context, doc *store.Document, rule procrule.Rule, text string) ([]*store.Segment, error) {
	splitter, err := procrule.NewSplitter(rule, procrule.LengthFunc(e.countTokens))
	if err != nil {
		return nil, err
	}
	chunks := splitter.Split(text)

	basePosition, err := e.store.MaxSegmentPosition(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("find max segment position: %w", err)
	}

	segments := make([]*store.Segment, 0, len(chunks))
	totalTokens := 0
	for i, content := range chunks {
		tokens := e.countTokens(content)
		totalTokens += tokens
		sum := sha256.Sum256([]byte(content))
		segments = append(segments, &store.Segment{
			ID:             uuid.New(),
			AccountID:      doc.AccountID,
			DatasetID:      doc.DatasetID,
			DocumentID:     doc.ID,
			NodeID:         uuid.New(),
			Position:       basePosition + i + 1,
			Content:        content,
			CharacterCount: utf8.RuneCountInString(content),
			TokenCount:     tokens,
			Hash:           hex.EncodeToString(sum[:]),
			Status:         store.SegmentStatusIndexing,
		})
	}
	if err := e.store.CreateSegments(ctx, segments); err != nil {
		return nil, fmt.Errorf("create segments: %w", err)
	}

	splitAt := time.Now().UTC()
	doc.TokenCount = totalTokens
	doc.SplittingCompletedAt = &splitAt
	doc.Status = store.DocumentStatusIndexing
	if err := e.store.UpdateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("mark document indexing: %w", err)
	}
	return segments, nil
}

// index extracts each segment's keywords, persists them and merges them into
// the dataset's keyword table.
func (e *Engine) index(ctx context.Context, doc *store.Document, segments []*store.Segment) error {
	refs := make(map[uuid.UUID][]string, len(segments))
	for _, seg := range segments {
		seg.Keywords = e.extractKeywords(seg.Content, e.cfg.MaxKeywordsPerSegment)
		if err := e.store.UpdateSegment(ctx, seg); err != nil {
			return fmt.Errorf("persist keywords on segment %s: %w", seg.ID, err)
		}
		refs[seg.ID] = seg.Keywords
	}
	if err := e.keywords.AddReferences(ctx, doc.DatasetID, refs); err != nil {
		return err
	}

	indexedAt := time.Now().UTC()
	doc.IndexingCompletedAt = &indexedAt
	if err := e.store.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("record indexing completion: %w", err)
	}
	return nil
}

// complete writes the segment vectors in fixed-size batches through a
// bounded worker pool. A failed batch demotes only its own segments; the
// document is marked completed once every batch has resolved.
func (e *Engine) complete(ctx context.Context, doc *store.Document, segments []*store.Segment) error {
	var g errgroup.Group
	g.SetLimit(e.cfg.VectorWorkers)

	for start := 0; start < len(segments); start += e.cfg.VectorBatchSize {
		batch := segments[start:min(start+e.cfg.VectorBatchSize, len(segments))]
		g.Go(func() error {
			e.indexBatch(ctx, doc, batch)
			return nil
		})
	}
	// Barrier: every batch settles, successfully or not, before the
	// document's terminal status is decided.
	_ = g.Wait()

	completedAt := time.Now().UTC()
	doc.Status = store.DocumentStatusCompleted
	doc.Enabled = true
	doc.CompletedAt = &completedAt
	if err := e.store.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("mark document completed: %w", err)
	}
	return nil
}

// indexBatch lands one batch in the vector store and records the outcome on
// its segments. Errors are absorbed here so sibling batches keep running.
func (e *Engine) indexBatch(ctx context.Context, doc *store.Document, batch []*store.Segment) {
	chunks := make([]vectorstore.Chunk, len(batch))
	nodeIDs := make([]uuid.UUID, len(batch))
	for i, seg := range batch {
		nodeIDs[i] = seg.NodeID
		chunks[i] = vectorstore.Chunk{
			NodeID:          seg.NodeID,
			AccountID:       seg.AccountID,
			DatasetID:       seg.DatasetID,
			DocumentID:      seg.DocumentID,
			SegmentID:       seg.ID,
			Content:         seg.Content,
			DocumentEnabled: true,
			SegmentEnabled:  true,
		}
	}

	now := time.Now().UTC()
	if err := e.vectors.Add(ctx, chunks); err != nil {
		e.logger.Error("vector batch failed",
			"document_id", doc.ID, "batch_size", len(batch), "error", err)
		if merr := e.store.MarkSegmentsErrorByNodeIDs(ctx, nodeIDs, err.Error(), now); merr != nil {
			e.logger.Error("failed to record segment batch error",
				"document_id", doc.ID, "error", merr)
		}
		return
	}
	if err := e.store.MarkSegmentsCompletedByNodeIDs(ctx, nodeIDs, now); err != nil {
		e.logger.Error("failed to mark segment batch completed",
			"document_id", doc.ID, "error", err)
	}
}
