// Package keyword maintains the per-dataset inverted keyword index used by
// full-text retrieval. The table maps keyword -> segment IDs and is rewritten
// whole under a per-dataset lock, so concurrent writers cannot lose entries.
package keyword

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/lexikon-ai/lexikon/internal/lock"
	"github.com/lexikon-ai/lexikon/internal/log"
	"github.com/lexikon-ai/lexikon/internal/store"
)

// Tables is the subset of the relational store this service needs.
type Tables interface {
	GetOrCreateKeywordTable(ctx context.Context, datasetID uuid.UUID) (*store.KeywordTable, error)
	UpdateKeywordTable(ctx context.Context, datasetID uuid.UUID, table map[string][]uuid.UUID) error
}

// Locker acquires the per-dataset table lock.
type Locker interface {
	Acquire(ctx context.Context, key string) (*lock.Handle, error)
}

// Service updates keyword tables. Safe for concurrent use; all mutation
// happens under the dataset's Redis lock.
type Service struct {
	tables Tables
	locker Locker
	logger log.Logger
}

func New(tables Tables, locker Locker, logger log.Logger) *Service {
	return &Service{tables: tables, locker: locker, logger: logger}
}

// AddReferences registers each segment under its keywords. Existing
// keyword entries are extended; a segment already listed under a keyword is
// not duplicated.
func (s *Service) AddReferences(ctx context.Context, datasetID uuid.UUID, refs map[uuid.UUID][]string) error {
	if len(refs) == 0 {
		return nil
	}
	return s.rewrite(ctx, datasetID, func(table map[string][]uuid.UUID) {
		for segmentID, keywords := range refs {
			for _, kw := range keywords {
				if !slices.Contains(table[kw], segmentID) {
					table[kw] = append(table[kw], segmentID)
				}
			}
		}
	})
}

// RemoveReferences drops the segments from every keyword entry. Entries left
// with no segments are deleted outright, never kept empty.
func (s *Service) RemoveReferences(ctx context.Context, datasetID uuid.UUID, segmentIDs []uuid.UUID) error {
	if len(segmentIDs) == 0 {
		return nil
	}
	drop := make(map[uuid.UUID]struct{}, len(segmentIDs))
	for _, id := range segmentIDs {
		drop[id] = struct{}{}
	}
	return s.rewrite(ctx, datasetID, func(table map[string][]uuid.UUID) {
		for kw, ids := range table {
			kept := slices.DeleteFunc(slices.Clone(ids), func(id uuid.UUID) bool {
				_, ok := drop[id]
				return ok
			})
			if len(kept) == 0 {
				delete(table, kw)
			} else {
				table[kw] = kept
			}
		}
	})
}

// rewrite runs the full read-modify-write cycle under the dataset lock.
func (s *Service) rewrite(ctx context.Context, datasetID uuid.UUID, mutate func(map[string][]uuid.UUID)) error {
	handle, err := s.locker.Acquire(ctx, lock.KeywordTableKey(datasetID))
	if err != nil {
		return fmt.Errorf("lock keyword table of dataset %s: %w", datasetID, err)
	}
	defer handle.Release(ctx)

	kt, err := s.tables.GetOrCreateKeywordTable(ctx, datasetID)
	if err != nil {
		return fmt.Errorf("load keyword table of dataset %s: %w", datasetID, err)
	}

	table := kt.Table
	if table == nil {
		table = make(map[string][]uuid.UUID)
	}
	mutate(table)

	if err := s.tables.UpdateKeywordTable(ctx, datasetID, table); err != nil {
		return fmt.Errorf("save keyword table of dataset %s: %w", datasetID, err)
	}
	s.logger.Debug("keyword table updated", "dataset_id", datasetID, "keywords", len(table))
	return nil
}
