// Package responses defines the JSON response types returned by CaseLoom
// HTTP handlers. Field names are part of the API contract.
package responses

import (
	"time"

	"github.com/caseloom/caseloom/internal/catalog"
)

// UploadResponse acknowledges an accepted upload. Processing continues in
// the background; progress is delivered over the websocket stream.
type UploadResponse struct {
	Success    bool   `json:"success"`
	DocumentID string `json:"documentId"`
	S3Key      string `json:"s3Key,omitempty"`
}

// DocumentView is the wire form of one catalog document row. Progress is
// derived from the processing status.
type DocumentView struct {
	ID            string     `json:"id"`
	CaseFileID    string     `json:"caseFileId"`
	Filename      string     `json:"filename"`
	FileType      string     `json:"fileType"`
	Status        string     `json:"status"`
	Progress      int        `json:"progress"`
	DocumentType  string     `json:"documentType,omitempty"`
	PageCount     int        `json:"pageCount,omitempty"`
	WordCount     int        `json:"wordCount,omitempty"`
	ContentType   string     `json:"contentType,omitempty"`
	FileSizeBytes int64      `json:"fileSizeBytes,omitempty"`
	S3Key         string     `json:"s3Key,omitempty"`
	RAGIndexed    bool       `json:"ragIndexed"`
	UploadedAt    time.Time  `json:"uploadedAt"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty"`
}

// NewDocumentView converts a catalog row into its wire form.
func NewDocumentView(d catalog.Document) DocumentView {
	return DocumentView{
		ID:            d.ID,
		CaseFileID:    d.CaseID,
		Filename:      d.Filename,
		FileType:      string(d.FileType),
		Status:        string(d.ProcessingStatus),
		Progress:      d.ProcessingStatus.Percent(),
		DocumentType:  d.DocumentType,
		PageCount:     d.PageCount,
		WordCount:     d.WordCount,
		ContentType:   d.ContentType,
		FileSizeBytes: d.FileSizeBytes,
		S3Key:         d.BlobKey,
		RAGIndexed:    d.RAGIndexed,
		UploadedAt:    d.UploadedAt,
		ProcessedAt:   d.ProcessedAt,
	}
}

// NewDocumentViews converts a slice of catalog rows, never returning nil so
// an empty case serializes as [].
func NewDocumentViews(docs []catalog.Document) []DocumentView {
	views := make([]DocumentView, 0, len(docs))
	for _, d := range docs {
		views = append(views, NewDocumentView(d))
	}
	return views
}

// PreviewURLResponse carries a short-lived link for rendering a document
// inline. IsLocal marks links served by this process instead of the blob
// store.
type PreviewURLResponse struct {
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	PreviewType string `json:"previewType"`
	Filename    string `json:"filename"`
	IsLocal     bool   `json:"isLocal,omitempty"`
	ExpiresIn   int    `json:"expiresIn"`
}

// DownloadURLResponse carries a short-lived link that forces an attachment
// download of the original file.
type DownloadURLResponse struct {
	URL       string `json:"url"`
	Filename  string `json:"filename"`
	ExpiresIn int    `json:"expiresIn"`
}

// DeleteResponse acknowledges a completed delete.
type DeleteResponse struct {
	Success bool `json:"success"`
}

// TriggerResponse acknowledges that background work was admitted.
type TriggerResponse struct {
	Success bool `json:"success"`
}

// SummaryStatusResponse reports where a case summary stands.
type SummaryStatusResponse struct {
	Status        string     `json:"status"`
	Version       int        `json:"version"`
	GeneratedAt   *time.Time `json:"generatedAt,omitempty"`
	DocumentCount int        `json:"documentCount"`
}

// SummaryResponse returns the summary artifact itself, as markdown or
// rendered HTML depending on the requested format.
type SummaryResponse struct {
	CaseFileID  string     `json:"caseFileId"`
	Format      string     `json:"format"`
	Content     string     `json:"content"`
	Version     int        `json:"version"`
	GeneratedAt *time.Time `json:"generatedAt,omitempty"`
}

// NarrativeResponse returns the user-authored narrative for a case.
type NarrativeResponse struct {
	CaseFileID string     `json:"caseFileId"`
	Content    string     `json:"content"`
	UpdatedAt  *time.Time `json:"updatedAt,omitempty"`
}

// HealthResponse is the admin health probe body.
type HealthResponse struct {
	Status            string    `json:"status"`
	Version           string    `json:"version"`
	Timestamp         time.Time `json:"timestamp"`
	Uptime            float64   `json:"uptime"`
	DocumentsInFlight int       `json:"documents_in_flight"`
	SummariesRunning  int       `json:"summaries_running"`
}
