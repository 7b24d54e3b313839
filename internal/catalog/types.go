package catalog

import (
	"errors"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned when a case or document does not exist. Callers at
// transport boundaries wrap it into a classified error.
var ErrNotFound = errors.New("catalog: not found")

// ProcessingStatus tracks a document through the pipeline state machine.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusExtracting ProcessingStatus = "extracting"
	StatusAnalyzing  ProcessingStatus = "analyzing"
	StatusIndexing   ProcessingStatus = "indexing"
	StatusComplete   ProcessingStatus = "complete"
	StatusFailed     ProcessingStatus = "failed"
)

// Percent returns the canonical progress percentage for a status. Terminal
// failure reports zero.
func (s ProcessingStatus) Percent() int {
	switch s {
	case StatusPending:
		return 10
	case StatusExtracting:
		return 30
	case StatusAnalyzing:
		return 60
	case StatusIndexing:
		return 85
	case StatusComplete:
		return 100
	default:
		return 0
	}
}

// SummaryStatus tracks case summary generation. The empty value is stored as
// NULL and means no summary has ever been generated.
type SummaryStatus string

const (
	SummaryNone       SummaryStatus = ""
	SummaryGenerating SummaryStatus = "generating"
	SummaryGenerated  SummaryStatus = "generated"
	SummaryStale      SummaryStatus = "stale"
	SummaryFailed     SummaryStatus = "failed"
)

// FileType is the upload format tag used to route extraction.
type FileType string

const (
	FileTypePDF     FileType = "pdf"
	FileTypeDOCX    FileType = "docx"
	FileTypeTXT     FileType = "txt"
	FileTypeMD      FileType = "md"
	FileTypeJPG     FileType = "jpg"
	FileTypePNG     FileType = "png"
	FileTypeMP3     FileType = "mp3"
	FileTypeWAV     FileType = "wav"
	FileTypeM4A     FileType = "m4a"
	FileTypeUnknown FileType = "unknown"
)

// SupportedFileTypes lists every accepted upload format, in the order surfaced
// by validation errors.
func SupportedFileTypes() []FileType {
	return []FileType{
		FileTypePDF, FileTypeDOCX, FileTypeTXT, FileTypeMD,
		FileTypeJPG, FileTypePNG, FileTypeMP3, FileTypeWAV, FileTypeM4A,
	}
}

// FileTypeFromFilename derives the format tag from the filename extension.
// Unrecognized extensions yield FileTypeUnknown; jpeg normalizes to jpg.
func FileTypeFromFilename(name string) FileType {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	switch ext {
	case "pdf":
		return FileTypePDF
	case "docx":
		return FileTypeDOCX
	case "txt":
		return FileTypeTXT
	case "md", "markdown":
		return FileTypeMD
	case "jpg", "jpeg":
		return FileTypeJPG
	case "png":
		return FileTypePNG
	case "mp3":
		return FileTypeMP3
	case "wav":
		return FileTypeWAV
	case "m4a":
		return FileTypeM4A
	default:
		return FileTypeUnknown
	}
}

// ContentType returns the MIME type stored alongside blob objects and used
// when serving the original file.
func (t FileType) ContentType() string {
	switch t {
	case FileTypePDF:
		return "application/pdf"
	case FileTypeDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case FileTypeTXT:
		return "text/plain; charset=utf-8"
	case FileTypeMD:
		return "text/markdown; charset=utf-8"
	case FileTypeJPG:
		return "image/jpeg"
	case FileTypePNG:
		return "image/png"
	case FileTypeMP3:
		return "audio/mpeg"
	case FileTypeWAV:
		return "audio/wav"
	case FileTypeM4A:
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}

// Case is a top-level collection owned by a user, grouping documents and one
// derived summary.
type Case struct {
	ID                   string
	Title                string
	CaseNumber           string
	WorkspacePath        string
	UserID               string
	CreatedAt            time.Time
	UpdatedAt            time.Time
	SummaryStatus        SummaryStatus
	SummaryGeneratedAt   *time.Time
	SummaryVersion       int
	SummaryDocumentCount int
	NarrativeUpdatedAt   *time.Time
	GroundingStatus      string
}

// Document is a single uploaded file tracked through the pipeline.
type Document struct {
	ID                string
	CaseID            string
	Filename          string
	FolderName        string
	DocumentType      string
	FileType          FileType
	PageCount         int
	WordCount         int
	ProcessingStatus  ProcessingStatus
	HasTextExtraction bool
	HasMetadata       bool
	RAGIndexed        bool
	FileSearchStoreID string
	RetrievalFileURI  string
	BlobKey           string
	BlobBucket        string
	BlobVersionID     string
	BlobUploadedAt    *time.Time
	ContentType       string
	FileSizeBytes     int64
	UploadedAt        time.Time
	ProcessedAt       *time.Time
}

// DocumentStats aggregates per-case processing counts.
type DocumentStats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Extracting int `json:"extracting"`
	Analyzing  int `json:"analyzing"`
	Indexing   int `json:"indexing"`
	Complete   int `json:"complete"`
	Failed     int `json:"failed"`
}
