// Package retrieval serves semantic, full-text and hybrid search across
// datasets. Semantic search reads the vector collection, full-text search
// reads the keyword tables; hybrid fuses the two result lists with weighted
// reciprocal-rank fusion instead of querying either store twice.
package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/lexikon-ai/lexikon/internal/apperr"
	"github.com/lexikon-ai/lexikon/internal/log"
	"github.com/lexikon-ai/lexikon/internal/store"
	"github.com/lexikon-ai/lexikon/internal/vectorstore"
)

// Strategy selects how a query is matched against the datasets.
type Strategy string

const (
	StrategySemantic Strategy = "semantic"
	StrategyFullText Strategy = "full_text"
	StrategyHybrid   Strategy = "hybrid"
)

// Fusion constants for hybrid search: equal weighting of the two retrievers
// with the standard reciprocal-rank damping constant.
const (
	semanticWeight = 0.5
	fullTextWeight = 0.5
	rrfConstant    = 60
)

// maxQueryKeywords caps how many keywords are extracted from the query for
// full-text matching.
const maxQueryKeywords = 10

// Request is one retrieval call.
type Request struct {
	AccountID      uuid.UUID
	DatasetIDs     []uuid.UUID
	Query          string
	Strategy       Strategy
	TopK           int
	ScoreThreshold float64
	Source         string // store.RetrievalSourceHitTesting or store.RetrievalSourceApp
	SourceAppID    *uuid.UUID
}

// Result is one matched segment joined with its parent document. Score is
// the similarity for semantic hits, the fused score for hybrid, and 0 for
// full-text-only matches.
type Result struct {
	Segment  *store.Segment
	Document *store.Document
	Score    float64
}

// Searcher is the semantic side of retrieval.
type Searcher interface {
	Search(ctx context.Context, datasetIDs []uuid.UUID, query string, topK int, scoreThreshold float64) ([]vectorstore.Hit, error)
}

// KeywordExtractor returns up to maxKeywords keywords for text.
type KeywordExtractor func(text string, maxKeywords int) []string

// Engine executes retrieval requests. Safe for concurrent use.
type Engine struct {
	store           *store.Store
	vectors         Searcher
	extractKeywords KeywordExtractor
	logger          log.Logger
}

func New(st *store.Store, vectors Searcher, extractKeywords KeywordExtractor, logger log.Logger) *Engine {
	return &Engine{store: st, vectors: vectors, extractKeywords: extractKeywords, logger: logger}
}

// scored is one ranked segment reference inside a retriever's result list.
type scored struct {
	segmentID uuid.UUID
	score     float64
}

// Search runs one retrieval call: access filtering, strategy dispatch,
// result join, audit logging and the bulk hit-count increment.
//
// Datasets the caller cannot access are silently dropped; only an empty
// remaining set is an error.
func (e *Engine) Search(ctx context.Context, req Request) ([]Result, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("%w: query must not be empty", apperr.ErrValidation)
	}
	if req.TopK < 1 {
		return nil, fmt.Errorf("%w: top_k must be >= 1, got %d", apperr.ErrValidation, req.TopK)
	}

	datasetIDs, err := e.store.ListAccessibleDatasetIDs(ctx, req.AccountID, req.DatasetIDs)
	if err != nil {
		return nil, fmt.Errorf("filter accessible datasets: %w", err)
	}
	if len(datasetIDs) == 0 {
		return nil, fmt.Errorf("%w: no accessible datasets in request", apperr.ErrForbidden)
	}

	var ranked []scored
	switch req.Strategy {
	case StrategySemantic:
		ranked, err = e.semantic(ctx, datasetIDs, req)
	case StrategyFullText:
		ranked, err = e.fullText(ctx, datasetIDs, req.Query, req.TopK)
	case StrategyHybrid:
		ranked, err = e.hybrid(ctx, datasetIDs, req)
	default:
		return nil, fmt.Errorf("%w: unknown retrieval strategy %q", apperr.ErrValidation, req.Strategy)
	}
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, nil
	}

	results, err := e.join(ctx, ranked)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	e.audit(ctx, req, results)

	hitIDs := make([]uuid.UUID, len(results))
	for i, r := range results {
		hitIDs[i] = r.Segment.ID
	}
	if err := e.store.IncrementHitCounts(ctx, hitIDs); err != nil {
		e.logger.Error("failed to increment hit counts", "error", err)
	}

	return results, nil
}

func (e *Engine) semantic(ctx context.Context, datasetIDs []uuid.UUID, req Request) ([]scored, error) {
	hits, err := e.vectors.Search(ctx, datasetIDs, req.Query, req.TopK, req.ScoreThreshold)
	if err != nil {
		return nil, err
	}
	ranked := make([]scored, len(hits))
	for i, h := range hits {
		ranked[i] = scored{segmentID: h.SegmentID, score: h.Score}
	}
	return ranked, nil
}

// fullText ranks segments by how many of the query's keywords reference
// them in the datasets' keyword tables. Ties are in unspecified order.
// Scores are 0: keyword overlap counts are ranks, not similarities.
func (e *Engine) fullText(ctx context.Context, datasetIDs []uuid.UUID, query string, topK int) ([]scored, error) {
	keywords := e.extractKeywords(query, maxQueryKeywords)
	if len(keywords) == 0 {
		return nil, nil
	}

	tables, err := e.store.ListKeywordTables(ctx, datasetIDs)
	if err != nil {
		return nil, fmt.Errorf("load keyword tables: %w", err)
	}

	freq := make(map[uuid.UUID]int)
	for _, table := range tables {
		for _, kw := range keywords {
			for _, segmentID := range table.Table[kw] {
				freq[segmentID]++
			}
		}
	}
	if len(freq) == 0 {
		return nil, nil
	}

	ranked := make([]scored, 0, len(freq))
	for segmentID := range freq {
		ranked = append(ranked, scored{segmentID: segmentID})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return freq[ranked[i].segmentID] > freq[ranked[j].segmentID]
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, nil
}

// hybrid fuses the two retrievers' ranked lists with weighted
// reciprocal-rank fusion: each list contributes weight/(c+rank) per segment.
func (e *Engine) hybrid(ctx context.Context, datasetIDs []uuid.UUID, req Request) ([]scored, error) {
	semanticRanked, err := e.semantic(ctx, datasetIDs, req)
	if err != nil {
		return nil, err
	}
	fullTextRanked, err := e.fullText(ctx, datasetIDs, req.Query, req.TopK)
	if err != nil {
		return nil, err
	}

	fused := make(map[uuid.UUID]float64)
	for rank, s := range semanticRanked {
		fused[s.segmentID] += semanticWeight / float64(rrfConstant+rank+1)
	}
	for rank, s := range fullTextRanked {
		fused[s.segmentID] += fullTextWeight / float64(rrfConstant+rank+1)
	}

	ranked := make([]scored, 0, len(fused))
	for segmentID, score := range fused {
		ranked = append(ranked, scored{segmentID: segmentID, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	if len(ranked) > req.TopK {
		ranked = ranked[:req.TopK]
	}
	return ranked, nil
}

// join loads the ranked segments and their parent documents, dropping
// anything no longer retrievable, and preserves rank order.
func (e *Engine) join(ctx context.Context, ranked []scored) ([]Result, error) {
	ids := make([]uuid.UUID, len(ranked))
	for i, s := range ranked {
		ids[i] = s.segmentID
	}
	segments, err := e.store.ListSegmentsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load matched segments: %w", err)
	}
	byID := make(map[uuid.UUID]*store.Segment, len(segments))
	docIDs := make([]uuid.UUID, 0, len(segments))
	seenDoc := make(map[uuid.UUID]struct{})
	for _, seg := range segments {
		byID[seg.ID] = seg
		if _, ok := seenDoc[seg.DocumentID]; !ok {
			seenDoc[seg.DocumentID] = struct{}{}
			docIDs = append(docIDs, seg.DocumentID)
		}
	}

	docs, err := e.store.ListDocumentsByIDs(ctx, docIDs)
	if err != nil {
		return nil, fmt.Errorf("load parent documents: %w", err)
	}
	docByID := make(map[uuid.UUID]*store.Document, len(docs))
	for _, doc := range docs {
		docByID[doc.ID] = doc
	}

	results := make([]Result, 0, len(ranked))
	for _, s := range ranked {
		seg, ok := byID[s.segmentID]
		if !ok || !seg.Enabled || seg.Status != store.SegmentStatusCompleted {
			continue
		}
		doc, ok := docByID[seg.DocumentID]
		if !ok || !doc.Enabled {
			continue
		}
		results = append(results, Result{Segment: seg, Document: doc, Score: s.score})
	}
	return results, nil
}

// audit writes one DatasetQuery record per dataset that contributed results.
func (e *Engine) audit(ctx context.Context, req Request, results []Result) {
	seen := make(map[uuid.UUID]struct{})
	for _, r := range results {
		if _, ok := seen[r.Segment.DatasetID]; ok {
			continue
		}
		seen[r.Segment.DatasetID] = struct{}{}
		q := &store.DatasetQuery{
			ID:          uuid.New(),
			DatasetID:   r.Segment.DatasetID,
			Query:       req.Query,
			Source:      req.Source,
			SourceAppID: req.SourceAppID,
			CreatedBy:   req.AccountID,
		}
		if err := e.store.CreateDatasetQuery(ctx, q); err != nil {
			e.logger.Error("failed to log dataset query",
				"dataset_id", r.Segment.DatasetID, "error", err)
		}
	}
}
