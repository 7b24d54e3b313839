// Package progress is the in-process publish/subscribe channel for pipeline
// and summary events. Subscriptions are keyed by case id; delivery is
// best-effort with a bounded queue per subscriber, and a subscriber that
// cannot keep up is dropped so the pipeline never stalls on a slow consumer.
package progress

import (
	"strings"
	"time"
)

// Event kinds published by the pipeline coordinator and the summary engine.
const (
	KindDocumentExtracting = "document:extracting"
	KindDocumentAnalyzing  = "document:analyzing"
	KindDocumentIndexing   = "document:indexing"
	KindDocumentComplete   = "document:complete"
	KindDocumentError      = "document:error"

	KindSummaryGenerating = "summary:generating"
	KindSummaryComplete   = "summary:complete"
	KindSummaryFailed     = "summary:failed"
)

// Event is one progress notification. The JSON field names are part of the
// websocket contract.
type Event struct {
	Kind       string    `json:"kind"`
	DocumentID string    `json:"documentId,omitempty"`
	CaseID     string    `json:"caseFileId"`
	Filename   string    `json:"filename,omitempty"`
	Percent    int       `json:"progress"`
	Message    string    `json:"message"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`

	// Set on summary:complete only.
	Version       int `json:"version,omitempty"`
	DocumentCount int `json:"documentCount,omitempty"`
}

// IsSummary reports whether the event belongs to the summary stream rather
// than a single document.
func (e Event) IsSummary() bool {
	return strings.HasPrefix(e.Kind, "summary:")
}
