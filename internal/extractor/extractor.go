// Package extractor turns a stored file reference into raw text blocks.
//
// Parser selection is an explicit strategy map from file extension to
// parser. The indexing engine never sees the file format: it consumes
// []TextBlock and nothing else. Registering a parser for a new extension is
// the only change needed to support another format.
package extractor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lexikon-ai/lexikon/internal/apperr"
)

// TextBlock is one unit of extracted text, typically a page or a whole
// plain-text file.
type TextBlock struct {
	Content  string
	Metadata map[string]string
}

// Parser extracts text blocks from raw file bytes.
type Parser interface {
	Parse(data []byte) ([]TextBlock, error)
}

// Extractor dispatches file references to the parser registered for their
// extension.
type Extractor struct {
	parsers map[string]Parser
}

// New returns an Extractor with the built-in parsers registered:
// .txt/.md/.markdown (plain text), .html/.htm (goquery), .pdf.
func New() *Extractor {
	e := &Extractor{parsers: make(map[string]Parser)}
	plain := PlainTextParser{}
	e.Register(".txt", plain)
	e.Register(".md", plain)
	e.Register(".markdown", plain)
	html := HTMLParser{}
	e.Register(".html", html)
	e.Register(".htm", html)
	e.Register(".pdf", PDFParser{})
	return e
}

// Register maps an extension (with leading dot, case-insensitive) to a
// parser, replacing any existing registration.
func (e *Extractor) Register(ext string, p Parser) {
	e.parsers[strings.ToLower(ext)] = p
}

// Supports reports whether a parser is registered for the extension.
func (e *Extractor) Supports(ext string) bool {
	_, ok := e.parsers[strings.ToLower(ext)]
	return ok
}

// Load reads the referenced file and extracts its text blocks.
func (e *Extractor) Load(fileRef string) ([]TextBlock, error) {
	ext := strings.ToLower(filepath.Ext(fileRef))
	parser, ok := e.parsers[ext]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported file type %q", apperr.ErrValidation, ext)
	}

	data, err := os.ReadFile(fileRef) // #nosec G304 -- fileRef comes from the upload record, not request input
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: file %q", apperr.ErrNotFound, fileRef)
		}
		return nil, fmt.Errorf("reading file %q: %w", fileRef, err)
	}

	blocks, err := parser.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", fileRef, err)
	}
	return blocks, nil
}
