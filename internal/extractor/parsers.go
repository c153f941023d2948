package extractor

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
)

// PlainTextParser returns the whole file as a single block.
type PlainTextParser struct{}

func (PlainTextParser) Parse(data []byte) ([]TextBlock, error) {
	return []TextBlock{{Content: string(data)}}, nil
}

// HTMLParser extracts visible text from an HTML document, dropping script,
// style and noscript content.
type HTMLParser struct{}

func (HTMLParser) Parse(data []byte) ([]TextBlock, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}

	doc.Find("script, style, noscript").Remove()

	var sb strings.Builder
	doc.Find("body").Each(func(_ int, sel *goquery.Selection) {
		sb.WriteString(sel.Text())
	})
	text := sb.String()
	if strings.TrimSpace(text) == "" {
		// Fragments without a body element still carry text.
		text = doc.Text()
	}

	return []TextBlock{{Content: text}}, nil
}

// PDFParser extracts one block per page.
type PDFParser struct{}

func (PDFParser) Parse(data []byte) ([]TextBlock, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}

	blocks := make([]TextBlock, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extracting pdf page %d: %w", i, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		blocks = append(blocks, TextBlock{
			Content:  text,
			Metadata: map[string]string{"page": strconv.Itoa(i)},
		})
	}
	return blocks, nil
}
