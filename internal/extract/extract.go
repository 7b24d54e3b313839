// Package extract turns original documents into plain UTF-8 text. Every
// extractor honors the same contract: text with a "--- Page N ---" marker
// line before each page, page count derived from those markers with a floor
// of one, word count as whitespace-split tokens. Formats without native page
// structure produce unmarked text and land on the floor.
package extract

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/caseloom/caseloom/internal/catalog"
)

// Result is the output of one extraction.
type Result struct {
	Text      string
	PageCount int
	WordCount int
	Method    string
}

// Extractor produces text for one original file.
type Extractor interface {
	Extract(ctx context.Context, path string) (*Result, error)
	Name() string
}

var pageMarkerPattern = regexp.MustCompile(`(?m)^--- Page \d+ ---$`)

// PageMarker renders the marker line for page n.
func PageMarker(n int) string {
	return fmt.Sprintf("--- Page %d ---", n)
}

// CountPages counts marker lines, floored at one so unmarked text still
// reads as a single page.
func CountPages(text string) int {
	n := len(pageMarkerPattern.FindAllStringIndex(text, -1))
	if n < 1 {
		return 1
	}
	return n
}

// CountWords counts non-empty whitespace-split tokens, marker lines
// included.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// finishResult derives counts from extracted text.
func finishResult(text, method string) *Result {
	return &Result{
		Text:      text,
		PageCount: CountPages(text),
		WordCount: CountWords(text),
		Method:    method,
	}
}

// Registry routes file-type tags to extractors.
type Registry struct {
	plain      Extractor
	ocr        Extractor
	docx       Extractor
	transcribe Extractor
}

// NewRegistry wires the default extractor per format family.
func NewRegistry() *Registry {
	return &Registry{
		plain:      &PlainTextExtractor{},
		ocr:        &OCRExtractor{},
		docx:       &DocxExtractor{},
		transcribe: &TranscriptExtractor{},
	}
}

// ForFileType returns the extractor handling the given tag.
func (r *Registry) ForFileType(ft catalog.FileType) (Extractor, error) {
	switch ft {
	case catalog.FileTypeTXT, catalog.FileTypeMD:
		return r.plain, nil
	case catalog.FileTypePDF, catalog.FileTypeJPG, catalog.FileTypePNG:
		return r.ocr, nil
	case catalog.FileTypeDOCX:
		return r.docx, nil
	case catalog.FileTypeMP3, catalog.FileTypeWAV, catalog.FileTypeM4A:
		return r.transcribe, nil
	default:
		return nil, fmt.Errorf("no extractor for file type %q", ft)
	}
}

// Extract routes and runs in one call.
func (r *Registry) Extract(ctx context.Context, ft catalog.FileType, path string) (*Result, error) {
	e, err := r.ForFileType(ft)
	if err != nil {
		return nil, err
	}
	return e.Extract(ctx, path)
}
