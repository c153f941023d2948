// Package analyzer provides the pure text functions injected into the
// indexing and retrieval engines: keyword extraction and token counting.
//
// Keyword extraction ranks terms by normalized frequency with stopwords
// filtered, which is deliberately model-free so the pipeline has no network
// dependency outside the embedder.
package analyzer

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// tokenPattern matches word tokens including apostrophe contractions and
// CJK runs (each CJK character is treated as its own token by splitCJK).
var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// ExtractKeywords returns up to maxKeywords keywords from text, ranked by
// frequency with stopwords removed. Ordering among equal-frequency terms is
// undefined.
func ExtractKeywords(text string, maxKeywords int) []string {
	if maxKeywords <= 0 {
		maxKeywords = 10
	}

	freq := make(map[string]int)
	for _, tok := range Tokens(text) {
		if _, ok := stopwords[tok]; ok {
			continue
		}
		// Single-letter latin tokens carry no retrieval signal.
		if utf8.RuneCountInString(tok) < 2 && tok[0] < utf8.RuneSelf {
			continue
		}
		freq[tok]++
	}

	type pair struct {
		term  string
		count int
	}
	pairs := make([]pair, 0, len(freq))
	for term, count := range freq {
		pairs = append(pairs, pair{term, count})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].count > pairs[j].count
	})

	if len(pairs) > maxKeywords {
		pairs = pairs[:maxKeywords]
	}
	keywords := make([]string, len(pairs))
	for i, p := range pairs {
		keywords[i] = p.term
	}
	return keywords
}

// Tokens lowercases and tokenizes text, splitting CJK runs into single
// characters so each ideograph can act as an index term.
func Tokens(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	tokens := make([]string, 0, len(raw))
	for _, tok := range raw {
		tokens = append(tokens, splitCJK(tok)...)
	}
	return tokens
}

// splitCJK breaks a token into per-rune tokens when it contains CJK
// ideographs; latin tokens pass through unchanged.
func splitCJK(tok string) []string {
	hasCJK := false
	for _, r := range tok {
		if isCJK(r) {
			hasCJK = true
			break
		}
	}
	if !hasCJK {
		return []string{tok}
	}

	var out []string
	var latin []rune
	flush := func() {
		if len(latin) > 0 {
			out = append(out, string(latin))
			latin = latin[:0]
		}
	}
	for _, r := range tok {
		if isCJK(r) {
			flush()
			out = append(out, string(r))
		} else {
			latin = append(latin, r)
		}
	}
	flush()
	return out
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0xF900 && r <= 0xFAFF)
}

// CountTokens estimates the token count of text for budget checks,
// following the usual BPE shape: a word contributes roughly one token per
// four characters, every CJK character and every punctuation mark is a
// token of its own, whitespace is free.
func CountTokens(text string) int {
	tokens := 0
	run := 0 // current latin word-run length

	flush := func() {
		if run > 0 {
			tokens += (run + 3) / 4
			run = 0
		}
	}

	for _, r := range text {
		switch {
		case isCJK(r):
			flush()
			tokens++
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			run++
		case unicode.IsSpace(r):
			flush()
		default:
			flush()
			tokens++
		}
	}
	flush()
	return tokens
}
