// Package procrule turns a document processing configuration into a concrete
// text splitter and text-cleaning functions.
//
// A process rule is chosen at upload time and immutable afterwards. In
// automatic mode the default rule applies; in custom mode the caller supplies
// pre-process toggles, separators and chunk sizing. The resolver is pure:
// everything stateful (status updates, persistence) lives in the indexing
// engine.
package procrule

import (
	"fmt"
	"regexp"

	"github.com/lexikon-ai/lexikon/internal/apperr"
)

// Mode selects between the default rule and a caller-supplied one.
type Mode string

const (
	ModeAutomatic Mode = "automatic"
	ModeCustom    Mode = "custom"
)

// Pre-process rule identifiers.
const (
	PreProcessRemoveExtraSpace  = "remove_extra_space"
	PreProcessRemoveURLAndEmail = "remove_url_and_email"
)

// PreProcessRule is a single cleaning toggle.
type PreProcessRule struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

// SegmentRule controls chunking.
type SegmentRule struct {
	// Separators are tried in order; each is a regular expression. The
	// empty string means "split into fixed-size windows" and is always the
	// implicit last resort.
	Separators   []string `json:"separators"`
	ChunkSize    int      `json:"chunk_size"`
	ChunkOverlap int      `json:"chunk_overlap"`
}

// Rule is the full chunking/cleaning configuration stored on a document.
type Rule struct {
	PreProcessRules []PreProcessRule `json:"pre_process_rules"`
	Segment         SegmentRule      `json:"segment"`
}

// DefaultRule returns the rule used in automatic mode: paragraph, line,
// sentence (CJK and latin), clause, word and character separators with
// 500-token chunks overlapping by 50.
func DefaultRule() Rule {
	return Rule{
		PreProcessRules: []PreProcessRule{
			{ID: PreProcessRemoveExtraSpace, Enabled: true},
			{ID: PreProcessRemoveURLAndEmail, Enabled: true},
		},
		Segment: SegmentRule{
			Separators: []string{
				"\n\n",
				"\n",
				"。|！|？",
				`\.\s|\!\s|\?\s`,
				`；|;\s`,
				`，|,\s`,
				" ",
				"",
			},
			ChunkSize:    500,
			ChunkOverlap: 50,
		},
	}
}

// Resolve returns the effective rule for a mode: the default rule in
// automatic mode, the validated custom rule otherwise.
func Resolve(mode Mode, custom *Rule) (Rule, error) {
	switch mode {
	case ModeAutomatic:
		return DefaultRule(), nil
	case ModeCustom:
		if custom == nil {
			return Rule{}, fmt.Errorf("%w: custom mode requires a rule", apperr.ErrValidation)
		}
		if err := custom.Validate(); err != nil {
			return Rule{}, err
		}
		return *custom, nil
	default:
		return Rule{}, fmt.Errorf("%w: unknown process mode %q", apperr.ErrValidation, mode)
	}
}

// Validate checks the rule shape. Separator patterns must compile; chunk
// sizing must be positive with overlap strictly smaller than the chunk size.
func (r Rule) Validate() error {
	for _, pre := range r.PreProcessRules {
		switch pre.ID {
		case PreProcessRemoveExtraSpace, PreProcessRemoveURLAndEmail:
		default:
			return fmt.Errorf("%w: unknown pre-process rule %q", apperr.ErrValidation, pre.ID)
		}
	}

	if len(r.Segment.Separators) == 0 {
		return fmt.Errorf("%w: separators must not be empty", apperr.ErrValidation)
	}
	for _, sep := range r.Segment.Separators {
		if sep == "" {
			continue
		}
		if _, err := regexp.Compile(sep); err != nil {
			return fmt.Errorf("%w: separator %q: %v", apperr.ErrValidation, sep, err)
		}
	}

	if r.Segment.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk_size must be >= 1, got %d", apperr.ErrValidation, r.Segment.ChunkSize)
	}
	if r.Segment.ChunkOverlap < 0 || r.Segment.ChunkOverlap >= r.Segment.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_size), got %d", apperr.ErrValidation, r.Segment.ChunkOverlap)
	}

	return nil
}
