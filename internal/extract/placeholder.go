package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// The OCR, DOCX, and transcription backends are pluggable; these stand-ins
// honor the extraction contract (marker line, counts, stat-before-answer so
// a missing original still fails the stage) while producing placeholder
// text instead of real content.

func placeholderText(path, kind string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat original: %w", err)
	}
	var b strings.Builder
	b.WriteString(PageMarker(1))
	b.WriteString("\n")
	fmt.Fprintf(&b, "[%s pending for %s (%d bytes); no %s backend is configured]\n",
		kind, filepath.Base(path), info.Size(), kind)
	return b.String(), nil
}

// OCRExtractor handles pdf and image originals.
type OCRExtractor struct{}

func (e *OCRExtractor) Name() string { return "ocr" }

func (e *OCRExtractor) Extract(ctx context.Context, path string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text, err := placeholderText(path, "OCR extraction")
	if err != nil {
		return nil, err
	}
	return finishResult(text, e.Name()), nil
}

// DocxExtractor handles docx originals.
type DocxExtractor struct{}

func (e *DocxExtractor) Name() string { return "docx" }

func (e *DocxExtractor) Extract(ctx context.Context, path string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text, err := placeholderText(path, "DOCX extraction")
	if err != nil {
		return nil, err
	}
	return finishResult(text, e.Name()), nil
}

// TranscriptExtractor handles audio originals.
type TranscriptExtractor struct{}

func (e *TranscriptExtractor) Name() string { return "transcription" }

func (e *TranscriptExtractor) Extract(ctx context.Context, path string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text, err := placeholderText(path, "audio transcription")
	if err != nil {
		return nil, err
	}
	return finishResult(text, e.Name()), nil
}
