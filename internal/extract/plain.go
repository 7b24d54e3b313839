package extract

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// PlainTextExtractor reads txt and md originals as-is. Invalid UTF-8 byte
// sequences are replaced so downstream JSON encoding never sees raw bytes.
type PlainTextExtractor struct{}

func (e *PlainTextExtractor) Name() string { return "direct" }

func (e *PlainTextExtractor) Extract(ctx context.Context, path string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read original: %w", err)
	}
	text := strings.ToValidUTF8(string(data), "�")
	return finishResult(text, e.Name()), nil
}
