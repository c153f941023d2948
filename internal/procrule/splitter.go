package procrule

import (
	"fmt"
	"regexp"
	"strings"
)

// LengthFunc measures a candidate chunk, normally in tokens. Injected so the
// splitter stays independent of the token counter implementation.
type LengthFunc func(string) int

// Splitter recursively splits text into chunks no longer than ChunkSize
// according to LengthFunc.
//
// Separators are applied in order: the first pattern that matches the text
// splits it, each matched separator staying attached to the piece before it
// so sentence punctuation survives. Pieces still over the budget recurse
// into the remaining separators; the empty separator falls back to
// fixed-size rune windows with ChunkOverlap carried between windows.
type Splitter struct {
	separators   []separator
	chunkSize    int
	chunkOverlap int
	length       LengthFunc
}

type separator struct {
	pattern *regexp.Regexp // nil for the window fallback
	raw     string
}

// NewSplitter compiles the rule's separators into a Splitter. lengthFn must
// not be nil.
func NewSplitter(rule Rule, lengthFn LengthFunc) (*Splitter, error) {
	if lengthFn == nil {
		return nil, fmt.Errorf("procrule: length function is required")
	}

	seps := make([]separator, 0, len(rule.Segment.Separators)+1)
	sawWindow := false
	for _, raw := range rule.Segment.Separators {
		if raw == "" {
			seps = append(seps, separator{raw: ""})
			sawWindow = true
			continue
		}
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("procrule: compiling separator %q: %w", raw, err)
		}
		seps = append(seps, separator{pattern: re, raw: raw})
	}
	// The window fallback is always available even when the rule omits it,
	// otherwise an unsplittable run could exceed the chunk budget.
	if !sawWindow {
		seps = append(seps, separator{raw: ""})
	}

	return &Splitter{
		separators:   seps,
		chunkSize:    rule.Segment.ChunkSize,
		chunkOverlap: rule.Segment.ChunkOverlap,
		length:       lengthFn,
	}, nil
}

// Split returns the chunks of text in order. Whitespace-only chunks are
// dropped; returned chunks are trimmed.
func (s *Splitter) Split(text string) []string {
	var chunks []string
	s.split(text, s.separators, &chunks)
	return chunks
}

func (s *Splitter) split(text string, seps []separator, out *[]string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}
	if s.length(trimmed) <= s.chunkSize {
		*out = append(*out, trimmed)
		return
	}

	for i, sep := range seps {
		if sep.pattern == nil {
			s.window(trimmed, out)
			return
		}
		pieces := splitKeepingSeparator(trimmed, sep.pattern)
		if len(pieces) < 2 {
			continue
		}
		for _, piece := range pieces {
			s.split(piece, seps[i+1:], out)
		}
		return
	}

	// No separator left; emit oversized as-is rather than lose content.
	*out = append(*out, trimmed)
}

// splitKeepingSeparator splits text at every match of re, appending each
// matched separator to the piece that precedes it.
func splitKeepingSeparator(text string, re *regexp.Regexp) []string {
	locs := re.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}

	pieces := make([]string, 0, len(locs)+1)
	start := 0
	for _, loc := range locs {
		pieces = append(pieces, text[start:loc[1]])
		start = loc[1]
	}
	if start < len(text) {
		pieces = append(pieces, text[start:])
	}
	return pieces
}

// window splits text into rune windows of at most chunkSize (per the length
// function), stepping back chunkOverlap's worth of runes between windows.
func (s *Splitter) window(text string, out *[]string) {
	runes := []rune(text)
	start := 0
	for start < len(runes) {
		end := start
		for end < len(runes) && s.length(string(runes[start:end+1])) <= s.chunkSize {
			end++
		}
		if end == start {
			// A single rune over budget still has to go somewhere.
			end = start + 1
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			*out = append(*out, chunk)
		}
		if end >= len(runes) {
			break
		}

		next := end
		if s.chunkOverlap > 0 {
			back := next
			for back > start && s.length(string(runes[back:end])) < s.chunkOverlap {
				back--
			}
			if back > start {
				next = back
			}
		}
		start = next
	}
}
