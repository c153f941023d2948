package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/lexikon-ai/lexikon/internal/procrule"
)

// DocumentStatus is the document build state machine. Status only moves
// forward through waiting → parsing → splitting → indexing → completed, or
// to error from any non-terminal state. error and completed are terminal
// for a build attempt.
type DocumentStatus string

const (
	DocumentStatusWaiting   DocumentStatus = "waiting"
	DocumentStatusParsing   DocumentStatus = "parsing"
	DocumentStatusSplitting DocumentStatus = "splitting"
	DocumentStatusIndexing  DocumentStatus = "indexing"
	DocumentStatusCompleted DocumentStatus = "completed"
	DocumentStatusError     DocumentStatus = "error"
)

// SegmentStatus mirrors the document stages per segment.
type SegmentStatus string

const (
	SegmentStatusWaiting   SegmentStatus = "waiting"
	SegmentStatusIndexing  SegmentStatus = "indexing"
	SegmentStatusCompleted SegmentStatus = "completed"
	SegmentStatusError     SegmentStatus = "error"
)

// Dataset is a named collection of documents forming one retrievable
// knowledge base.
type Dataset struct {
	ID          uuid.UUID
	AccountID   uuid.UUID
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Document is one uploaded source file within a dataset.
type Document struct {
	ID            uuid.UUID
	AccountID     uuid.UUID
	DatasetID     uuid.UUID
	ProcessRuleID uuid.UUID
	FileRef       string // stored file reference consumed by the extractor
	Batch         string // groups documents uploaded together
	Name          string
	Position      int

	CharacterCount int
	TokenCount     int

	Status  DocumentStatus
	Enabled bool
	Error   string

	ProcessingStartedAt  *time.Time
	ParsingCompletedAt   *time.Time
	SplittingCompletedAt *time.Time
	IndexingCompletedAt  *time.Time
	CompletedAt          *time.Time
	StoppedAt            *time.Time
	DisabledAt           *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Segment is the atomic retrievable chunk of a document.
//
// NodeID is the vector store's primary key for this segment. It is assigned
// once at creation and never reused or mutated; content changes update the
// vector in place under the same NodeID.
type Segment struct {
	ID         uuid.UUID
	AccountID  uuid.UUID
	DatasetID  uuid.UUID
	DocumentID uuid.UUID
	NodeID     uuid.UUID
	Position   int

	Content        string
	CharacterCount int
	TokenCount     int
	Hash           string
	Keywords       []string

	Status   SegmentStatus
	Enabled  bool
	HitCount int
	Error    string

	IndexingCompletedAt *time.Time
	CompletedAt         *time.Time
	StoppedAt           *time.Time
	DisabledAt          *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// KeywordTable is the per-dataset inverted index: keyword → segment ids.
// An entry with an empty id list must not exist; RemoveReferences deletes
// drained entries rather than leaving them empty.
type KeywordTable struct {
	ID        uuid.UUID
	DatasetID uuid.UUID
	Table     map[string][]uuid.UUID
	UpdatedAt time.Time
}

// ProcessRule is the chunking configuration chosen at upload time,
// immutable thereafter. Rule is nil in automatic mode.
type ProcessRule struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	DatasetID uuid.UUID
	Mode      procrule.Mode
	Rule      *procrule.Rule
	CreatedAt time.Time
}

// DatasetQuery is an append-only audit record of one retrieval call.
type DatasetQuery struct {
	ID          uuid.UUID
	DatasetID   uuid.UUID
	Query       string
	Source      string
	SourceAppID *uuid.UUID
	CreatedBy   uuid.UUID
	CreatedAt   time.Time
}

// Retrieval source constants for DatasetQuery.Source.
const (
	RetrievalSourceHitTesting = "hit_testing"
	RetrievalSourceApp        = "app"
)
