// Package blob provides durable object storage for original document bytes.
// The blob store is the source of truth for raw files; the per-case workspace
// on local disk is rebuildable from it.
package blob

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Disposition selects how a browser should handle a presigned object URL.
type Disposition string

const (
	DispositionInline     Disposition = "inline"
	DispositionAttachment Disposition = "attachment"
)

// PutResult describes a stored object.
type PutResult struct {
	Key        string
	Bucket     string
	VersionID  string
	UploadedAt time.Time
}

// PresignOptions controls presigned GET URLs. A zero Expiry falls back to the
// store's configured default.
type PresignOptions struct {
	Disposition Disposition
	Filename    string
	Expiry      time.Duration
}

// Store is the object storage capability behind the upload and download
// handlers. Implementations must be safe for concurrent use.
type Store interface {
	// Put uploads size bytes from r under key, overwriting any existing
	// object.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (PutResult, error)

	// Get opens the object under key for reading. The caller closes the
	// returned reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// RemovePrefix deletes every object whose key starts with prefix.
	// Removing a prefix with no objects is not an error.
	RemovePrefix(ctx context.Context, prefix string) error

	// PresignGet returns a time-limited URL for direct download of key.
	PresignGet(ctx context.Context, key string, opts PresignOptions) (string, error)
}

// ObjectKey builds the canonical key for a document's original bytes.
func ObjectKey(userID, caseID, docID, ext string) string {
	return fmt.Sprintf("users/%s/cases/%s/documents/%s/original.%s", userID, caseID, docID, ext)
}

// DocumentPrefix builds the key prefix covering every object of a document.
func DocumentPrefix(userID, caseID, docID string) string {
	return fmt.Sprintf("users/%s/cases/%s/documents/%s/", userID, caseID, docID)
}

// CasePrefix builds the key prefix covering every object of a case.
func CasePrefix(userID, caseID string) string {
	return fmt.Sprintf("users/%s/cases/%s/", userID, caseID)
}

// contentDisposition renders the header value for a presigned URL.
func contentDisposition(opts PresignOptions) string {
	if opts.Disposition == "" {
		return ""
	}
	if opts.Filename != "" {
		return fmt.Sprintf("%s; filename=%q", opts.Disposition, opts.Filename)
	}
	return string(opts.Disposition)
}
