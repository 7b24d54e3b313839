package analyze

import (
	"strings"
	"time"
)

// SchemaVersion keys the metadata artifact format. Readers skip artifacts
// with a version they do not understand.
const SchemaVersion = 1

// Document type classifications. Anything the model invents outside this
// set normalizes to Unknown.
const (
	TypeMotion    = "Motion"
	TypeResponse  = "Response"
	TypeComplaint = "Complaint"
	TypeOrder     = "Order"
	TypeNotice    = "Notice"
	TypeEvidence  = "Evidence"
	TypeResearch  = "Research"
	TypeUnknown   = "Unknown"
)

// DocumentTypes lists every valid classification.
func DocumentTypes() []string {
	return []string{
		TypeMotion, TypeResponse, TypeComplaint, TypeOrder,
		TypeNotice, TypeEvidence, TypeResearch, TypeUnknown,
	}
}

// NormalizeDocumentType maps model output onto the known set, folding case.
func NormalizeDocumentType(raw string) string {
	trimmed := strings.TrimSpace(raw)
	for _, t := range DocumentTypes() {
		if strings.EqualFold(trimmed, t) {
			return t
		}
	}
	return TypeUnknown
}

// Party is a named participant with a role and mention count.
type Party struct {
	Name     string `json:"name"`
	Role     string `json:"role"`
	Mentions int    `json:"mentions"`
}

// DateReference is a date the document mentions, with surrounding context.
type DateReference struct {
	Date    string `json:"date"`
	Context string `json:"context"`
	Page    int    `json:"page,omitempty"`
}

// Authority is a cited statute, rule, or precedent.
type Authority struct {
	Citation string `json:"citation"`
	Context  string `json:"context"`
}

// Entities groups everything the analyzer recognized in the text.
type Entities struct {
	Parties     []Party         `json:"parties"`
	Dates       []DateReference `json:"dates"`
	Authorities []Authority     `json:"authorities"`
}

// Relationships names other documents this one interacts with.
type Relationships struct {
	References  []string `json:"references"`
	Contradicts []string `json:"contradicts"`
	Supports    []string `json:"supports"`
}

// Extraction records how the text was produced.
type Extraction struct {
	Method    string `json:"method"`
	PageCount int    `json:"pageCount"`
	WordCount int    `json:"wordCount"`
}

// Metadata is the per-document artifact written to the case workspace.
// It is replaced wholesale on change, never edited in place.
type Metadata struct {
	SchemaVersion   int                `json:"schemaVersion"`
	DocumentID      string             `json:"documentId"`
	Filename        string             `json:"filename"`
	DocumentType    string             `json:"documentType"`
	Confidence      float64            `json:"confidence"`
	Extraction      Extraction         `json:"extraction"`
	Summary         string             `json:"summary"`
	MainArguments   []string           `json:"mainArguments"`
	RequestedRelief []string           `json:"requestedRelief"`
	Entities        Entities           `json:"entities"`
	RelevanceScores map[string]float64 `json:"relevanceScores"`
	Relationships   Relationships      `json:"relationships"`
	AnalyzedAt      time.Time          `json:"analyzedAt"`
}

// ensureDefaults replaces nil collections so the artifact always encodes
// arrays and objects, never null.
func (m *Metadata) ensureDefaults() {
	if m.MainArguments == nil {
		m.MainArguments = []string{}
	}
	if m.RequestedRelief == nil {
		m.RequestedRelief = []string{}
	}
	if m.Entities.Parties == nil {
		m.Entities.Parties = []Party{}
	}
	if m.Entities.Dates == nil {
		m.Entities.Dates = []DateReference{}
	}
	if m.Entities.Authorities == nil {
		m.Entities.Authorities = []Authority{}
	}
	if m.RelevanceScores == nil {
		m.RelevanceScores = map[string]float64{}
	}
	if m.Relationships.References == nil {
		m.Relationships.References = []string{}
	}
	if m.Relationships.Contradicts == nil {
		m.Relationships.Contradicts = []string{}
	}
	if m.Relationships.Supports == nil {
		m.Relationships.Supports = []string{}
	}
}
