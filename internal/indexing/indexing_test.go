package indexing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lexikon-ai/lexikon/internal/analyzer"
	"github.com/lexikon-ai/lexikon/internal/config"
	"github.com/lexikon-ai/lexikon/internal/extractor"
	"github.com/lexikon-ai/lexikon/internal/keyword"
	"github.com/lexikon-ai/lexikon/internal/lock"
	"github.com/lexikon-ai/lexikon/internal/log"
	"github.com/lexikon-ai/lexikon/internal/procrule"
	"github.com/lexikon-ai/lexikon/internal/store"
	"github.com/lexikon-ai/lexikon/internal/testutil"
	"github.com/lexikon-ai/lexikon/internal/vectorstore"
)

type fakeLocker struct{}

func (fakeLocker) Acquire(ctx context.Context, key string) (*lock.Handle, error) {
	return &lock.Handle{}, nil
}

// fakeLoader resolves file refs from an in-memory map.
type fakeLoader struct {
	texts map[string]string
	calls int
}

func (f *fakeLoader) Load(fileRef string) ([]extractor.TextBlock, error) {
	f.calls++
	text, ok := f.texts[fileRef]
	if !ok {
		return nil, errors.New("file vanished")
	}
	return []extractor.TextBlock{{Content: text}}, nil
}

// flakyVectors fails Add for batches whose content contains the marker and
// delegates everything else to the real gateway.
type flakyVectors struct {
	*vectorstore.Gateway
	marker string
}

func (f *flakyVectors) Add(ctx context.Context, chunks []vectorstore.Chunk) error {
	for _, c := range chunks {
		if strings.Contains(c.Content, f.marker) {
			return errors.New("simulated embed outage")
		}
	}
	return f.Gateway.Add(ctx, chunks)
}

type releaseRecorder struct{ released bool }

func (r *releaseRecorder) Release(ctx context.Context) { r.released = true }

func testIndexingConfig() config.IndexingConfig {
	return config.IndexingConfig{
		VectorBatchSize:       10,
		VectorWorkers:         5,
		LockTTLSeconds:        600,
		MaxKeywordsPerSegment: 10,
		SegmentTokenCeiling:   1000,
	}
}

type fixture struct {
	store    *store.Store
	vectors  *vectorstore.Gateway
	keywords *keyword.Service
	loader   *fakeLoader
	cfg      config.IndexingConfig
}

func setupFixture(t *testing.T) (*fixture, context.Context) {
	t.Helper()
	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	logger := log.NewNop()
	st := store.New(db.Pool, logger)
	return &fixture{
		store:    st,
		vectors:  vectorstore.New(db.Pool, testutil.NewFakeEmbedder(), logger),
		keywords: keyword.New(st, fakeLocker{}, logger),
		loader:   &fakeLoader{texts: map[string]string{}},
		cfg:      testIndexingConfig(),
	}, context.Background()
}

func (f *fixture) engine(vectors Vectors) *Engine {
	if vectors == nil {
		vectors = f.vectors
	}
	return New(f.store, vectors, f.keywords, f.loader,
		analyzer.CountTokens, analyzer.ExtractKeywords, f.cfg, log.NewNop())
}

// seedDocument creates a waiting document with a chunking rule and registers
// its content with the loader.
func (f *fixture) seedDocument(t *testing.T, ctx context.Context, datasetID uuid.UUID, content string, chunkSize int) *store.Document {
	t.Helper()

	rule := procrule.DefaultRule()
	rule.Segment.ChunkSize = chunkSize
	rule.Segment.ChunkOverlap = 0
	pr := &store.ProcessRule{
		ID:        uuid.New(),
		AccountID: uuid.New(),
		DatasetID: datasetID,
		Mode:      procrule.ModeCustom,
		Rule:      &rule,
	}
	if err := f.store.CreateProcessRule(ctx, pr); err != nil {
		t.Fatalf("CreateProcessRule: %v", err)
	}

	doc := &store.Document{
		ID:            uuid.New(),
		AccountID:     pr.AccountID,
		DatasetID:     datasetID,
		ProcessRuleID: pr.ID,
		FileRef:       "/data/" + uuid.NewString() + ".txt",
		Batch:         "test-batch",
		Name:          "doc.txt",
		Position:      1,
		Status:        store.DocumentStatusWaiting,
	}
	if err := f.store.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	f.loader.texts[doc.FileRef] = content
	return doc
}

func TestBuildPipeline(t *testing.T) {
	f, ctx := setupFixture(t)
	datasetID := uuid.New()

	doc := f.seedDocument(t, ctx, datasetID, "A. B. C.", 5)
	if err := f.engine(nil).Build(ctx, []uuid.UUID{doc.ID}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	got, err := f.store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Status != store.DocumentStatusCompleted || !got.Enabled {
		t.Fatalf("document = %s enabled=%t, want completed and enabled", got.Status, got.Enabled)
	}
	if got.CharacterCount != 8 || got.TokenCount != 6 {
		t.Errorf("counts = %d chars %d tokens, want 8/6", got.CharacterCount, got.TokenCount)
	}
	for name, ts := range map[string]*time.Time{
		"processing_started_at":  got.ProcessingStartedAt,
		"parsing_completed_at":   got.ParsingCompletedAt,
		"splitting_completed_at": got.SplittingCompletedAt,
		"indexing_completed_at":  got.IndexingCompletedAt,
		"completed_at":           got.CompletedAt,
	} {
		if ts == nil {
			t.Errorf("%s not recorded", name)
		}
	}

	segs, err := f.store.ListSegmentsByDocument(ctx, doc.ID, "")
	if err != nil {
		t.Fatalf("ListSegmentsByDocument: %v", err)
	}
	if len(segs) != 3 {
		t.Fatalf("got %d segments, want 3", len(segs))
	}
	wantContents := []string{"A.", "B.", "C."}
	for i, seg := range segs {
		if seg.Content != wantContents[i] {
			t.Errorf("segments[%d].Content = %q, want %q", i, seg.Content, wantContents[i])
		}
		if seg.Position != i+1 {
			t.Errorf("segments[%d].Position = %d, want %d", i, seg.Position, i+1)
		}
		if seg.Status != store.SegmentStatusCompleted || !seg.Enabled {
			t.Errorf("segments[%d] = %s enabled=%t, want completed and enabled", i, seg.Status, seg.Enabled)
		}
		if seg.Hash == "" || seg.NodeID == uuid.Nil {
			t.Errorf("segments[%d] missing hash or node id", i)
		}
	}

	// Vectors are live for the completed document.
	hits, err := f.vectors.Search(ctx, []uuid.UUID{datasetID}, "A.", 10, 0.999)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("hits = %+v, want the A. segment retrievable", hits)
	}
}

func TestBuildPopulatesKeywordTable(t *testing.T) {
	f, ctx := setupFixture(t)
	datasetID := uuid.New()

	doc := f.seedDocument(t, ctx, datasetID, "postgres stores vectors in postgres", 500)
	if err := f.engine(nil).Build(ctx, []uuid.UUID{doc.ID}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	segs, err := f.store.ListSegmentsByDocument(ctx, doc.ID, "")
	if err != nil || len(segs) != 1 {
		t.Fatalf("segments = %d, %v; want one", len(segs), err)
	}
	if len(segs[0].Keywords) == 0 {
		t.Fatal("segment has no keywords")
	}

	kt, err := f.store.GetOrCreateKeywordTable(ctx, datasetID)
	if err != nil {
		t.Fatalf("GetOrCreateKeywordTable: %v", err)
	}
	refs := kt.Table["postgres"]
	if len(refs) != 1 || refs[0] != segs[0].ID {
		t.Errorf("keyword table postgres = %v, want the segment's id", refs)
	}
}

func TestBuildSkipsTerminalDocuments(t *testing.T) {
	f, ctx := setupFixture(t)
	datasetID := uuid.New()

	doc := f.seedDocument(t, ctx, datasetID, "unused", 500)
	doc.Status = store.DocumentStatusCompleted
	doc.Enabled = true
	if err := f.store.UpdateDocument(ctx, doc); err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}

	if err := f.engine(nil).Build(ctx, []uuid.UUID{doc.ID}); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if f.loader.calls != 0 {
		t.Errorf("loader called %d times for a terminal document, want 0", f.loader.calls)
	}
	got, err := f.store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Status != store.DocumentStatusCompleted || !got.Enabled {
		t.Errorf("terminal document mutated: %+v", got)
	}
}

func TestBuildIsolatesFailures(t *testing.T) {
	f, ctx := setupFixture(t)
	datasetID := uuid.New()

	good := f.seedDocument(t, ctx, datasetID, "healthy document content", 500)
	bad := f.seedDocument(t, ctx, datasetID, "doomed", 500)
	delete(f.loader.texts, bad.FileRef)

	if err := f.engine(nil).Build(ctx, []uuid.UUID{bad.ID, good.ID}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	gotBad, err := f.store.GetDocument(ctx, bad.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if gotBad.Status != store.DocumentStatusError || gotBad.Enabled {
		t.Errorf("failed document = %s enabled=%t, want error and disabled", gotBad.Status, gotBad.Enabled)
	}
	if gotBad.Error == "" || gotBad.StoppedAt == nil {
		t.Errorf("failed document missing error text or stopped_at: %+v", gotBad)
	}

	gotGood, err := f.store.GetDocument(ctx, good.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if gotGood.Status != store.DocumentStatusCompleted {
		t.Errorf("sibling document = %s, want completed despite the failure", gotGood.Status)
	}
}

func TestBuildDemotesOnlyFailedBatch(t *testing.T) {
	f, ctx := setupFixture(t)
	f.cfg.VectorBatchSize = 1
	datasetID := uuid.New()

	doc := f.seedDocument(t, ctx, datasetID, "alpha one. POISON two. gamma six.", 4)
	eng := f.engine(&flakyVectors{Gateway: f.vectors, marker: "POISON"})
	if err := eng.Build(ctx, []uuid.UUID{doc.ID}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	segs, err := f.store.ListSegmentsByDocument(ctx, doc.ID, "")
	if err != nil {
		t.Fatalf("ListSegmentsByDocument: %v", err)
	}
	if len(segs) != 3 {
		t.Fatalf("got %d segments, want 3", len(segs))
	}
	var completed, failed int
	for _, seg := range segs {
		switch {
		case strings.Contains(seg.Content, "POISON"):
			failed++
			if seg.Status != store.SegmentStatusError || seg.Enabled {
				t.Errorf("poisoned segment = %s enabled=%t, want error and disabled", seg.Status, seg.Enabled)
			}
			if seg.Error == "" {
				t.Error("poisoned segment missing error text")
			}
		default:
			completed++
			if seg.Status != store.SegmentStatusCompleted || !seg.Enabled {
				t.Errorf("healthy segment %q = %s enabled=%t, want completed", seg.Content, seg.Status, seg.Enabled)
			}
		}
	}
	if completed != 2 || failed != 1 {
		t.Errorf("completed/failed = %d/%d, want 2/1", completed, failed)
	}

	// The document still completes; the demoted segment is simply absent
	// from retrieval.
	got, err := f.store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Status != store.DocumentStatusCompleted || !got.Enabled {
		t.Errorf("document = %s enabled=%t, want completed", got.Status, got.Enabled)
	}
}

func TestUpdateDocumentEnabledRoundTrip(t *testing.T) {
	f, ctx := setupFixture(t)
	datasetID := uuid.New()

	doc := f.seedDocument(t, ctx, datasetID, "postgres stores vectors", 500)
	eng := f.engine(nil)
	if err := eng.Build(ctx, []uuid.UUID{doc.ID}); err != nil {
		t.Fatalf("Build: %v", err)
	}
	before, err := f.store.GetOrCreateKeywordTable(ctx, datasetID)
	if err != nil {
		t.Fatalf("GetOrCreateKeywordTable: %v", err)
	}
	if len(before.Table) == 0 {
		t.Fatal("keyword table empty after build")
	}

	// Disable: the flag write happens upstream, reconciliation runs here.
	doc, err = f.store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	doc.Enabled = false
	if err := f.store.UpdateDocument(ctx, doc); err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}
	held := &releaseRecorder{}
	if err := eng.UpdateDocumentEnabled(ctx, doc.ID, true, held); err != nil {
		t.Fatalf("UpdateDocumentEnabled disable: %v", err)
	}
	if !held.released {
		t.Error("lock not released after reconciliation")
	}

	hits, err := f.vectors.Search(ctx, []uuid.UUID{datasetID}, "postgres stores vectors", 10, 0.999)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("hits = %+v, want none while disabled", hits)
	}
	kt, err := f.store.GetOrCreateKeywordTable(ctx, datasetID)
	if err != nil {
		t.Fatalf("GetOrCreateKeywordTable: %v", err)
	}
	if len(kt.Table) != 0 {
		t.Errorf("keyword table = %v, want drained while disabled", kt.Table)
	}

	// Re-enable restores the exact same references.
	doc.Enabled = true
	if err := f.store.UpdateDocument(ctx, doc); err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}
	if err := eng.UpdateDocumentEnabled(ctx, doc.ID, false, &releaseRecorder{}); err != nil {
		t.Fatalf("UpdateDocumentEnabled enable: %v", err)
	}

	hits, err = f.vectors.Search(ctx, []uuid.UUID{datasetID}, "postgres stores vectors", 10, 0.999)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("hits = %+v, want the segment retrievable again", hits)
	}
	kt, err = f.store.GetOrCreateKeywordTable(ctx, datasetID)
	if err != nil {
		t.Fatalf("GetOrCreateKeywordTable: %v", err)
	}
	if len(kt.Table) != len(before.Table) {
		t.Errorf("keyword table = %v, want the pre-toggle table %v restored", kt.Table, before.Table)
	}
	for kw, ids := range before.Table {
		if len(kt.Table[kw]) != len(ids) {
			t.Errorf("keyword %q = %v, want %v", kw, kt.Table[kw], ids)
		}
	}
}

type failingLocker struct{}

func (failingLocker) Acquire(ctx context.Context, key string) (*lock.Handle, error) {
	return nil, errors.New("lock store unavailable")
}

func TestUpdateDocumentEnabledCompensatesOnFailure(t *testing.T) {
	f, ctx := setupFixture(t)
	datasetID := uuid.New()

	doc := f.seedDocument(t, ctx, datasetID, "postgres stores vectors", 500)
	if err := f.engine(nil).Build(ctx, []uuid.UUID{doc.ID}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	// Enable reconciliation fails at the keyword-table merge.
	doc, err := f.store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	doc.Enabled = true
	if err := f.store.UpdateDocument(ctx, doc); err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}

	broken := New(f.store, f.vectors, keyword.New(f.store, failingLocker{}, log.NewNop()),
		f.loader, analyzer.CountTokens, analyzer.ExtractKeywords, f.cfg, log.NewNop())
	held := &releaseRecorder{}
	err = broken.UpdateDocumentEnabled(ctx, doc.ID, false, held)
	if err == nil {
		t.Fatal("UpdateDocumentEnabled succeeded with a broken lock store")
	}
	if !held.released {
		t.Error("lock not released after failed reconciliation")
	}

	got, err := f.store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Enabled {
		t.Error("document flag not compensated back to its pre-toggle value")
	}
	if got.DisabledAt == nil {
		t.Error("compensated document missing disabled_at")
	}
}

func TestDeleteDocument(t *testing.T) {
	f, ctx := setupFixture(t)
	datasetID := uuid.New()

	doc := f.seedDocument(t, ctx, datasetID, "postgres stores vectors", 500)
	eng := f.engine(nil)
	if err := eng.Build(ctx, []uuid.UUID{doc.ID}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	if err := eng.DeleteDocument(ctx, datasetID, doc.ID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	if _, err := f.store.GetDocument(ctx, doc.ID); err == nil {
		t.Error("document row survived the delete")
	}
	segs, err := f.store.ListSegmentsByDocument(ctx, doc.ID, "")
	if err != nil {
		t.Fatalf("ListSegmentsByDocument: %v", err)
	}
	if len(segs) != 0 {
		t.Errorf("segments = %d, want none after delete", len(segs))
	}
	kt, err := f.store.GetOrCreateKeywordTable(ctx, datasetID)
	if err != nil {
		t.Fatalf("GetOrCreateKeywordTable: %v", err)
	}
	if len(kt.Table) != 0 {
		t.Errorf("keyword table = %v, want drained after delete", kt.Table)
	}
	hits, err := f.vectors.Search(ctx, []uuid.UUID{datasetID}, "postgres stores vectors", 10, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("hits = %+v, want vectors gone", hits)
	}

	// Redelivery safety.
	if err := eng.DeleteDocument(ctx, datasetID, doc.ID); err != nil {
		t.Fatalf("repeated DeleteDocument: %v", err)
	}
}

func TestDeleteDataset(t *testing.T) {
	f, ctx := setupFixture(t)

	dataset := &store.Dataset{ID: uuid.New(), AccountID: uuid.New(), Name: "doomed"}
	if err := f.store.CreateDataset(ctx, dataset); err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}
	doc := f.seedDocument(t, ctx, dataset.ID, "postgres stores vectors", 500)
	eng := f.engine(nil)
	if err := eng.Build(ctx, []uuid.UUID{doc.ID}); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := f.store.CreateDatasetQuery(ctx, &store.DatasetQuery{
		ID:        uuid.New(),
		DatasetID: dataset.ID,
		Query:     "anything",
		Source:    store.RetrievalSourceHitTesting,
		CreatedBy: dataset.AccountID,
	}); err != nil {
		t.Fatalf("CreateDatasetQuery: %v", err)
	}

	if err := eng.DeleteDataset(ctx, dataset.ID); err != nil {
		t.Fatalf("DeleteDataset: %v", err)
	}

	if _, err := f.store.GetDataset(ctx, dataset.ID); err == nil {
		t.Error("dataset row survived the delete")
	}
	if _, err := f.store.GetDocument(ctx, doc.ID); err == nil {
		t.Error("document row survived the delete")
	}
	hits, err := f.vectors.Search(ctx, []uuid.UUID{dataset.ID}, "postgres stores vectors", 10, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("hits = %+v, want the dataset's vector scope empty", hits)
	}

	if err := eng.DeleteDataset(ctx, dataset.ID); err != nil {
		t.Fatalf("repeated DeleteDataset: %v", err)
	}
}
