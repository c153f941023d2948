package procrule

import (
	"slices"
	"strings"
	"testing"

	"github.com/lexikon-ai/lexikon/internal/analyzer"
)

func TestSplitShortSentencesUnderTightBudget(t *testing.T) {
	rule := DefaultRule()
	rule.Segment.ChunkSize = 5
	rule.Segment.ChunkOverlap = 0

	s, err := NewSplitter(rule, analyzer.CountTokens)
	if err != nil {
		t.Fatalf("NewSplitter: %v", err)
	}

	got := s.Split("A. B. C.")
	want := []string{"A.", "B.", "C."}
	if !slices.Equal(got, want) {
		t.Fatalf("Split = %v, want %v", got, want)
	}
}

func TestSplitTextWithinBudgetIsOneChunk(t *testing.T) {
	s, err := NewSplitter(DefaultRule(), analyzer.CountTokens)
	if err != nil {
		t.Fatalf("NewSplitter: %v", err)
	}

	got := s.Split("a short paragraph that fits in one chunk")
	if len(got) != 1 {
		t.Fatalf("Split produced %d chunks, want 1: %v", len(got), got)
	}
}

func TestSplitParagraphSeparatorFirst(t *testing.T) {
	rule := DefaultRule()
	rule.Segment.ChunkSize = 8
	rule.Segment.ChunkOverlap = 0

	s, err := NewSplitter(rule, analyzer.CountTokens)
	if err != nil {
		t.Fatalf("NewSplitter: %v", err)
	}

	got := s.Split("first paragraph here\n\nsecond paragraph here")
	want := []string{"first paragraph here", "second paragraph here"}
	if !slices.Equal(got, want) {
		t.Fatalf("Split = %v, want %v", got, want)
	}
}

func TestSplitDropsWhitespaceOnlyInput(t *testing.T) {
	s, err := NewSplitter(DefaultRule(), analyzer.CountTokens)
	if err != nil {
		t.Fatalf("NewSplitter: %v", err)
	}
	if got := s.Split("  \n\n  "); len(got) != 0 {
		t.Fatalf("Split of whitespace = %v, want none", got)
	}
}

func TestSplitWindowFallbackBoundsChunks(t *testing.T) {
	rule := Rule{
		Segment: SegmentRule{
			Separators:   []string{""},
			ChunkSize:    3,
			ChunkOverlap: 0,
		},
	}
	s, err := NewSplitter(rule, analyzer.CountTokens)
	if err != nil {
		t.Fatalf("NewSplitter: %v", err)
	}

	// One unbroken run that can only be windowed.
	got := s.Split(strings.Repeat("x", 40))
	if len(got) < 2 {
		t.Fatalf("expected the run to be windowed into multiple chunks, got %v", got)
	}
	for _, chunk := range got {
		if n := analyzer.CountTokens(chunk); n > 3 {
			t.Errorf("chunk %q is %d tokens, budget is 3", chunk, n)
		}
	}
}

func TestSplitCJKSentences(t *testing.T) {
	rule := DefaultRule()
	rule.Segment.ChunkSize = 4
	rule.Segment.ChunkOverlap = 0

	s, err := NewSplitter(rule, analyzer.CountTokens)
	if err != nil {
		t.Fatalf("NewSplitter: %v", err)
	}

	got := s.Split("你好嗎？我很好。")
	want := []string{"你好嗎？", "我很好。"}
	if !slices.Equal(got, want) {
		t.Fatalf("Split = %v, want %v", got, want)
	}
}

func TestNewSplitterRequiresLengthFunc(t *testing.T) {
	if _, err := NewSplitter(DefaultRule(), nil); err == nil {
		t.Fatal("expected an error for nil length function")
	}
}
