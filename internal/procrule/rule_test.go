package procrule

import (
	"errors"
	"testing"

	"github.com/lexikon-ai/lexikon/internal/apperr"
)

func TestResolve(t *testing.T) {
	custom := DefaultRule()
	custom.Segment.ChunkSize = 100

	tests := []struct {
		name    string
		mode    Mode
		rule    *Rule
		wantErr bool
		check   func(t *testing.T, got Rule)
	}{
		{
			name: "automatic returns default",
			mode: ModeAutomatic,
			check: func(t *testing.T, got Rule) {
				if got.Segment.ChunkSize != 500 || got.Segment.ChunkOverlap != 50 {
					t.Errorf("default chunking = %d/%d, want 500/50",
						got.Segment.ChunkSize, got.Segment.ChunkOverlap)
				}
				if len(got.Segment.Separators) != 8 {
					t.Errorf("default separators = %d, want 8", len(got.Segment.Separators))
				}
			},
		},
		{
			name: "custom returns supplied rule",
			mode: ModeCustom,
			rule: &custom,
			check: func(t *testing.T, got Rule) {
				if got.Segment.ChunkSize != 100 {
					t.Errorf("chunk size = %d, want 100", got.Segment.ChunkSize)
				}
			},
		},
		{name: "custom without rule", mode: ModeCustom, wantErr: true},
		{name: "unknown mode", mode: Mode("economy"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.mode, tt.rule)
			if tt.wantErr {
				if !errors.Is(err, apperr.ErrValidation) {
					t.Fatalf("error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			tt.check(t, got)
		})
	}
}

func TestRuleValidate(t *testing.T) {
	valid := DefaultRule()

	badSeparator := DefaultRule()
	badSeparator.Segment.Separators = []string{"[unclosed"}

	noSeparators := DefaultRule()
	noSeparators.Segment.Separators = nil

	zeroChunk := DefaultRule()
	zeroChunk.Segment.ChunkSize = 0

	overlapTooBig := DefaultRule()
	overlapTooBig.Segment.ChunkOverlap = 500

	unknownPre := DefaultRule()
	unknownPre.PreProcessRules = []PreProcessRule{{ID: "strip_emoji", Enabled: true}}

	tests := []struct {
		name    string
		rule    Rule
		wantErr bool
	}{
		{name: "default rule is valid", rule: valid},
		{name: "separator must compile", rule: badSeparator, wantErr: true},
		{name: "separators required", rule: noSeparators, wantErr: true},
		{name: "chunk size must be positive", rule: zeroChunk, wantErr: true},
		{name: "overlap must be below chunk size", rule: overlapTooBig, wantErr: true},
		{name: "unknown pre-process rule", rule: unknownPre, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if tt.wantErr {
				if !errors.Is(err, apperr.ErrValidation) {
					t.Fatalf("error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
		})
	}
}
