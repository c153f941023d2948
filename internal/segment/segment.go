// Package segment is the manual mutation path for individual segments:
// create, edit, toggle and delete outside the build pipeline. Unlike the
// pipeline it reconciles all three stores synchronously, since each call
// touches exactly one segment.
package segment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/lexikon-ai/lexikon/internal/apperr"
	"github.com/lexikon-ai/lexikon/internal/config"
	"github.com/lexikon-ai/lexikon/internal/lock"
	"github.com/lexikon-ai/lexikon/internal/log"
	"github.com/lexikon-ai/lexikon/internal/store"
	"github.com/lexikon-ai/lexikon/internal/vectorstore"
)

// Vectors is the single-segment vector surface the service needs.
type Vectors interface {
	Add(ctx context.Context, chunks []vectorstore.Chunk) error
	UpdateByNodeID(ctx context.Context, nodeID uuid.UUID, update vectorstore.Update) error
	DeleteByNodeID(ctx context.Context, nodeID uuid.UUID) error
}

// Keywords is the locked keyword-table mutation surface.
type Keywords interface {
	AddReferences(ctx context.Context, datasetID uuid.UUID, refs map[uuid.UUID][]string) error
	RemoveReferences(ctx context.Context, datasetID uuid.UUID, segmentIDs []uuid.UUID) error
}

// Locker guards the per-segment enabled toggle.
type Locker interface {
	TryAcquire(ctx context.Context, key string) (*lock.Handle, error)
}

// TokenCounter measures text in tokens.
type TokenCounter func(text string) int

// KeywordExtractor returns up to maxKeywords keywords for text.
type KeywordExtractor func(text string, maxKeywords int) []string

// Service performs manual single-segment mutations. Safe for concurrent use.
type Service struct {
	store           *store.Store
	vectors         Vectors
	keywords        Keywords
	locker          Locker
	countTokens     TokenCounter
	extractKeywords KeywordExtractor
	cfg             config.IndexingConfig
	logger          log.Logger
}

func New(
	st *store.Store,
	vectors Vectors,
	keywords Keywords,
	locker Locker,
	countTokens TokenCounter,
	extractKeywords KeywordExtractor,
	cfg config.IndexingConfig,
	logger log.Logger,
) *Service {
	return &Service{
		store:           st,
		vectors:         vectors,
		keywords:        keywords,
		locker:          locker,
		countTokens:     countTokens,
		extractKeywords: extractKeywords,
		cfg:             cfg,
		logger:          logger,
	}
}

// CreateRequest describes a manually added segment. Keywords may be empty,
// in which case they are extracted from the content.
type CreateRequest struct {
	AccountID  uuid.UUID
	DocumentID uuid.UUID
	Content    string
	Keywords   []string
}

// Create adds one segment to a completed document: relational row first,
// then a synchronous vector write, then aggregates and the keyword table.
// A failure after the row exists marks the segment error/disabled and the
// error is returned.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*store.Segment, error) {
	tokens := s.countTokens(req.Content)
	if tokens > s.cfg.SegmentTokenCeiling {
		return nil, fmt.Errorf("%w: content is %d tokens, ceiling is %d",
			apperr.ErrValidation, tokens, s.cfg.SegmentTokenCeiling)
	}

	doc, err := s.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc.AccountID != req.AccountID {
		return nil, fmt.Errorf("document %s: %w", doc.ID, apperr.ErrForbidden)
	}
	if doc.Status != store.DocumentStatusCompleted {
		return nil, fmt.Errorf("%w: document %s is %s, segments can only be added to completed documents",
			apperr.ErrValidation, doc.ID, doc.Status)
	}

	keywords := req.Keywords
	if len(keywords) == 0 {
		keywords = s.extractKeywords(req.Content, s.cfg.MaxKeywordsPerSegment)
	}

	maxPosition, err := s.store.MaxSegmentPosition(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("find max segment position: %w", err)
	}

	sum := sha256.Sum256([]byte(req.Content))
	seg := &store.Segment{
		ID:             uuid.New(),
		AccountID:      doc.AccountID,
		DatasetID:      doc.DatasetID,
		DocumentID:     doc.ID,
		NodeID:         uuid.New(),
		Position:       maxPosition + 1,
		Content:        req.Content,
		CharacterCount: utf8.RuneCountInString(req.Content),
		TokenCount:     tokens,
		Hash:           hex.EncodeToString(sum[:]),
		Keywords:       keywords,
		Status:         store.SegmentStatusIndexing,
	}
	if err := s.store.CreateSegment(ctx, seg); err != nil {
		return nil, fmt.Errorf("create segment: %w", err)
	}

	if err := s.finishCreate(ctx, doc, seg); err != nil {
		s.markSegmentError(ctx, seg, err)
		return nil, err
	}
	return seg, nil
}

func (s *Service) finishCreate(ctx context.Context, doc *store.Document, seg *store.Segment) error {
	err := s.vectors.Add(ctx, []vectorstore.Chunk{{
		NodeID:          seg.NodeID,
		AccountID:       seg.AccountID,
		DatasetID:       seg.DatasetID,
		DocumentID:      seg.DocumentID,
		SegmentID:       seg.ID,
		Content:         seg.Content,
		DocumentEnabled: doc.Enabled,
		SegmentEnabled:  true,
	}})
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	seg.Status = store.SegmentStatusCompleted
	seg.Enabled = true
	seg.CompletedAt = &now
	if err := s.store.UpdateSegment(ctx, seg); err != nil {
		return fmt.Errorf("mark segment completed: %w", err)
	}

	if err := s.resumDocument(ctx, doc); err != nil {
		return err
	}

	if doc.Enabled {
		refs := map[uuid.UUID][]string{seg.ID: seg.Keywords}
		if err := s.keywords.AddReferences(ctx, seg.DatasetID, refs); err != nil {
			return err
		}
	}
	return nil
}

// UpdateRequest describes a segment edit. Empty Keywords re-extracts from
// the new content.
type UpdateRequest struct {
	AccountID uuid.UUID
	SegmentID uuid.UUID
	Content   string
	Keywords  []string
}

// Update edits a segment's content and keywords. The vector is rewritten
// only when the content hash actually changed; keyword references are
// always removed and re-added.
func (s *Service) Update(ctx context.Context, req UpdateRequest) (*store.Segment, error) {
	tokens := s.countTokens(req.Content)
	if tokens > s.cfg.SegmentTokenCeiling {
		return nil, fmt.Errorf("%w: content is %d tokens, ceiling is %d",
			apperr.ErrValidation, tokens, s.cfg.SegmentTokenCeiling)
	}

	seg, err := s.store.GetSegment(ctx, req.SegmentID)
	if err != nil {
		return nil, err
	}
	if seg.AccountID != req.AccountID {
		return nil, fmt.Errorf("segment %s: %w", seg.ID, apperr.ErrForbidden)
	}
	doc, err := s.store.GetDocument(ctx, seg.DocumentID)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256([]byte(req.Content))
	newHash := hex.EncodeToString(sum[:])
	hashChanged := newHash != seg.Hash

	keywords := req.Keywords
	if len(keywords) == 0 {
		keywords = s.extractKeywords(req.Content, s.cfg.MaxKeywordsPerSegment)
	}

	seg.Content = req.Content
	seg.CharacterCount = utf8.RuneCountInString(req.Content)
	seg.TokenCount = tokens
	seg.Hash = newHash
	seg.Keywords = keywords
	if err := s.store.UpdateSegment(ctx, seg); err != nil {
		return nil, fmt.Errorf("update segment: %w", err)
	}

	if hashChanged {
		err := s.vectors.UpdateByNodeID(ctx, seg.NodeID, vectorstore.Update{Content: &seg.Content})
		if err != nil {
			s.markSegmentError(ctx, seg, err)
			return nil, err
		}
		if err := s.resumDocument(ctx, doc); err != nil {
			return nil, err
		}
	}

	if err := s.keywords.RemoveReferences(ctx, seg.DatasetID, []uuid.UUID{seg.ID}); err != nil {
		return nil, err
	}
	if doc.Enabled && seg.Enabled {
		refs := map[uuid.UUID][]string{seg.ID: seg.Keywords}
		if err := s.keywords.AddReferences(ctx, seg.DatasetID, refs); err != nil {
			return nil, err
		}
	}
	return seg, nil
}

// SetEnabled toggles one segment's visibility under its per-segment lock.
// Requires a completed segment and an actual state change; a concurrent
// toggle surfaces as apperr.ErrConflict. On a downstream failure the
// relational flag is compensated back to the captured pre-toggle value.
func (s *Service) SetEnabled(ctx context.Context, accountID, segmentID uuid.UUID, enabled bool) error {
	seg, err := s.store.GetSegment(ctx, segmentID)
	if err != nil {
		return err
	}
	if seg.AccountID != accountID {
		return fmt.Errorf("segment %s: %w", seg.ID, apperr.ErrForbidden)
	}
	if seg.Status != store.SegmentStatusCompleted {
		return fmt.Errorf("%w: segment %s is %s, only completed segments can be toggled",
			apperr.ErrValidation, seg.ID, seg.Status)
	}
	if seg.Enabled == enabled {
		return fmt.Errorf("%w: segment %s already has enabled=%t",
			apperr.ErrValidation, seg.ID, enabled)
	}

	handle, err := s.locker.TryAcquire(ctx, lock.SegmentEnabledKey(seg.ID))
	if err != nil {
		return err
	}
	defer handle.Release(ctx)

	wasEnabled := seg.Enabled
	wasDisabledAt := seg.DisabledAt

	var disabledAt *time.Time
	if !enabled {
		now := time.Now().UTC()
		disabledAt = &now
	}
	if err := s.store.SetSegmentEnabled(ctx, seg.ID, enabled, disabledAt); err != nil {
		return fmt.Errorf("set segment enabled flag: %w", err)
	}

	if err := s.reconcileEnabled(ctx, seg, enabled); err != nil {
		if cerr := s.store.SetSegmentEnabled(ctx, seg.ID, wasEnabled, wasDisabledAt); cerr != nil {
			s.logger.Error("failed to compensate segment enabled flag",
				"segment_id", seg.ID, "was_enabled", wasEnabled, "error", cerr)
		} else {
			s.logger.Warn("segment enabled toggle rolled back",
				"segment_id", seg.ID, "restored_enabled", wasEnabled)
		}
		return err
	}
	return nil
}

func (s *Service) reconcileEnabled(ctx context.Context, seg *store.Segment, enabled bool) error {
	err := s.vectors.UpdateByNodeID(ctx, seg.NodeID, vectorstore.Update{SegmentEnabled: &enabled})
	if err != nil {
		return err
	}

	if !enabled {
		return s.keywords.RemoveReferences(ctx, seg.DatasetID, []uuid.UUID{seg.ID})
	}

	doc, err := s.store.GetDocument(ctx, seg.DocumentID)
	if err != nil {
		return err
	}
	if !doc.Enabled {
		return nil
	}
	return s.keywords.AddReferences(ctx, seg.DatasetID, map[uuid.UUID][]string{seg.ID: seg.Keywords})
}

// Delete removes one segment: relational row, then keyword references, then
// the vector record. A vector delete failure after the row is gone is
// logged, not compensated. Only completed or errored segments may be
// deleted.
func (s *Service) Delete(ctx context.Context, accountID, segmentID uuid.UUID) error {
	seg, err := s.store.GetSegment(ctx, segmentID)
	if err != nil {
		return err
	}
	if seg.AccountID != accountID {
		return fmt.Errorf("segment %s: %w", seg.ID, apperr.ErrForbidden)
	}
	if seg.Status != store.SegmentStatusCompleted && seg.Status != store.SegmentStatusError {
		return fmt.Errorf("%w: segment %s is %s, only completed or errored segments can be deleted",
			apperr.ErrValidation, seg.ID, seg.Status)
	}

	if err := s.store.DeleteSegment(ctx, seg.ID); err != nil {
		return fmt.Errorf("delete segment: %w", err)
	}
	if err := s.keywords.RemoveReferences(ctx, seg.DatasetID, []uuid.UUID{seg.ID}); err != nil {
		return err
	}
	if err := s.vectors.DeleteByNodeID(ctx, seg.NodeID); err != nil {
		s.logger.Error("failed to delete vector for removed segment",
			"segment_id", seg.ID, "node_id", seg.NodeID, "error", err)
	}

	doc, err := s.store.GetDocument(ctx, seg.DocumentID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		return err
	}
	return s.resumDocument(ctx, doc)
}

// Get returns one segment after an ownership check.
func (s *Service) Get(ctx context.Context, accountID, segmentID uuid.UUID) (*store.Segment, error) {
	seg, err := s.store.GetSegment(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	if seg.AccountID != accountID {
		return nil, fmt.Errorf("segment %s: %w", seg.ID, apperr.ErrForbidden)
	}
	return seg, nil
}

// List returns a document's segments in position order, optionally filtered
// by status ("" for all).
func (s *Service) List(ctx context.Context, accountID, documentID uuid.UUID, status store.SegmentStatus) ([]*store.Segment, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.AccountID != accountID {
		return nil, fmt.Errorf("document %s: %w", doc.ID, apperr.ErrForbidden)
	}
	return s.store.ListSegmentsByDocument(ctx, documentID, status)
}

// resumDocument recomputes the document's aggregate counts from its
// segments.
func (s *Service) resumDocument(ctx context.Context, doc *store.Document) error {
	characters, tokens, err := s.store.SumDocumentCounts(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("re-sum document counts: %w", err)
	}
	doc.CharacterCount = characters
	doc.TokenCount = tokens
	if err := s.store.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("update document aggregates: %w", err)
	}
	return nil
}

// markSegmentError records a failed single-segment operation on the row.
func (s *Service) markSegmentError(ctx context.Context, seg *store.Segment, cause error) {
	now := time.Now().UTC()
	seg.Status = store.SegmentStatusError
	seg.Enabled = false
	seg.Error = cause.Error()
	seg.StoppedAt = &now
	seg.DisabledAt = &now
	if err := s.store.UpdateSegment(ctx, seg); err != nil {
		s.logger.Error("failed to record segment error state",
			"segment_id", seg.ID, "cause", cause, "error", err)
	}
}
