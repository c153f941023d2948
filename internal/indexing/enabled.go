package indexing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lexikon-ai/lexikon/internal/store"
	"github.com/lexikon-ai/lexikon/internal/vectorstore"
)

// UpdateDocumentEnabled propagates an already-persisted document enable
// toggle to the vector store and the keyword table. The caller acquires the
// per-document lock before dispatch and passes it in; it is released here,
// after the reconciliation, so a second toggle cannot race the first.
//
// wasEnabled is the flag's value captured before the toggle was written.
// On a top-level failure the document is compensated back to that captured
// value rather than to the negation of the current one, so rapid repeated
// toggles cannot restore the wrong state.
func (e *Engine) UpdateDocumentEnabled(ctx context.Context, documentID uuid.UUID, wasEnabled bool, held Releaser) error {
	if held != nil {
		defer held.Release(ctx)
	}

	doc, err := e.store.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load document for enabled toggle: %w", err)
	}
	target := doc.Enabled

	if err := e.reconcileEnabled(ctx, doc, target); err != nil {
		e.compensateEnabled(ctx, doc, wasEnabled)
		return err
	}

	e.logger.Info("document enabled state reconciled",
		"document_id", doc.ID, "enabled", target)
	return nil
}

func (e *Engine) reconcileEnabled(ctx context.Context, doc *store.Document, target bool) error {
	completed, err := e.store.ListSegmentsByDocument(ctx, doc.ID, store.SegmentStatusCompleted)
	if err != nil {
		return fmt.Errorf("list completed segments: %w", err)
	}

	// Per-vector failures demote the affected segment instead of aborting
	// the toggle; the rest of the document stays consistent.
	demoted := make(map[uuid.UUID]struct{})
	for _, seg := range completed {
		err := e.vectors.UpdateByNodeID(ctx, seg.NodeID, vectorstore.Update{DocumentEnabled: &target})
		if err != nil {
			e.logger.Error("vector update failed during enabled toggle, demoting segment",
				"segment_id", seg.ID, "node_id", seg.NodeID, "error", err)
			now := time.Now().UTC()
			if merr := e.store.MarkSegmentsErrorByNodeIDs(ctx, []uuid.UUID{seg.NodeID}, err.Error(), now); merr != nil {
				e.logger.Error("failed to demote segment", "segment_id", seg.ID, "error", merr)
			}
			demoted[seg.ID] = struct{}{}
		}
	}

	if target {
		refs := make(map[uuid.UUID][]string)
		for _, seg := range completed {
			if _, bad := demoted[seg.ID]; bad || !seg.Enabled {
				continue
			}
			refs[seg.ID] = seg.Keywords
		}
		return e.keywords.AddReferences(ctx, doc.DatasetID, refs)
	}

	// Disabling drops every segment reference of the document, not only the
	// completed ones.
	all, err := e.store.ListSegmentsByDocument(ctx, doc.ID, "")
	if err != nil {
		return fmt.Errorf("list segments: %w", err)
	}
	ids := make([]uuid.UUID, len(all))
	for i, seg := range all {
		ids[i] = seg.ID
	}
	return e.keywords.RemoveReferences(ctx, doc.DatasetID, ids)
}

// compensateEnabled restores the document flag to its pre-toggle value.
func (e *Engine) compensateEnabled(ctx context.Context, doc *store.Document, wasEnabled bool) {
	doc.Enabled = wasEnabled
	if wasEnabled {
		doc.DisabledAt = nil
	} else {
		now := time.Now().UTC()
		doc.DisabledAt = &now
	}
	if err := e.store.UpdateDocument(ctx, doc); err != nil {
		e.logger.Error("failed to compensate document enabled flag",
			"document_id", doc.ID, "was_enabled", wasEnabled, "error", err)
		return
	}
	e.logger.Warn("document enabled toggle rolled back",
		"document_id", doc.ID, "restored_enabled", wasEnabled)
}
