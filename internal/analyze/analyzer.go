// Package analyze classifies extracted document text into the structured
// metadata artifact using a language model. Model calls retry with bounded
// backoff; an unparseable model reply degrades to a minimal valid record
// instead of failing the document.
package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/caseloom/caseloom/internal/config"
	"github.com/caseloom/caseloom/internal/llm"
	"github.com/caseloom/caseloom/internal/logfields"
	"github.com/caseloom/caseloom/internal/metrics"
	"github.com/caseloom/caseloom/internal/retry"
)

// maxPromptChars caps how much extracted text one analysis prompt carries.
const maxPromptChars = 50000

const promptTemplate = `You are a legal document analyst. Classify the document below and produce structured metadata about it.

Respond with a single JSON object and nothing else, using exactly these fields:
{
  "documentType": one of %s,
  "confidence": number between 0 and 1,
  "summary": "two to four sentence executive summary",
  "mainArguments": ["each main argument the document advances"],
  "requestedRelief": ["each remedy or order the document asks for"],
  "entities": {
    "parties": [{"name": "...", "role": "...", "mentions": 1}],
    "dates": [{"date": "...", "context": "...", "page": 1}],
    "authorities": [{"citation": "...", "context": "..."}]
  },
  "relevanceScores": {"Motion": 0.0, "Evidence": 0.0},
  "relationships": {"references": [], "contradicts": [], "supports": []}
}

Filename: %s

Document text:
%s`

// Request identifies the document and carries its extracted text plus the
// extraction facts recorded into the artifact.
type Request struct {
	DocumentID string
	Filename   string
	Text       string
	Method     string
	PageCount  int
	WordCount  int
}

// Analyzer drives the model with retry and shapes its reply into Metadata.
type Analyzer struct {
	provider llm.Provider
	policy   retry.Policy
	attempts int
	timeout  time.Duration
	logger   *slog.Logger
	recorder metrics.Recorder
}

// New builds an analyzer from pipeline configuration.
func New(provider llm.Provider, cfg config.PipelineConfig, logger *slog.Logger, recorder metrics.Recorder) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	attempts := cfg.AnalyzerAttempts
	if attempts <= 0 {
		attempts = 3
	}
	policy := retry.NewPolicy(
		cfg.RetryBackoff,
		config.Duration(cfg.RetryInitialDelay, 2*time.Second),
		config.Duration(cfg.RetryMaxDelay, 8*time.Second),
		attempts-1,
	)
	return &Analyzer{
		provider: provider,
		policy:   policy,
		attempts: attempts,
		timeout:  config.Duration(cfg.AnalyzerTimeout, 120*time.Second),
		logger:   logger,
		recorder: recorder,
	}
}

// Analyze runs the model until one attempt yields a reply, then parses it.
// Only the model call retries; a reply that fails to parse becomes the
// fallback record immediately. The returned error means every attempt
// failed and the document should be marked failed.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Metadata, error) {
	prompt := buildPrompt(req.Filename, req.Text)

	var lastErr error
	for attempt := 1; attempt <= a.attempts; attempt++ {
		resp, err := a.generate(ctx, prompt)
		if err == nil {
			return a.buildMetadata(req, resp.Text), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, fmt.Errorf("analysis canceled: %w", ctx.Err())
		}
		if attempt == a.attempts {
			break
		}
		a.recorder.IncAnalyzerRetry()
		delay := a.policy.Delay(attempt)
		a.logger.Warn("model call failed, backing off",
			logfields.DocumentID(req.DocumentID),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			logfields.Error(err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("analysis canceled: %w", ctx.Err())
		}
	}

	a.recorder.IncAnalyzerRetryExhausted()
	return nil, fmt.Errorf("analysis failed after %d attempts: %w", a.attempts, lastErr)
}

func (a *Analyzer) generate(ctx context.Context, prompt string) (*llm.GenerateResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.provider.Generate(callCtx, llm.GenerateRequest{Prompt: prompt})
}

// buildMetadata parses the model reply, degrading to FallbackMetadata when
// it does not contain usable JSON.
func (a *Analyzer) buildMetadata(req Request, reply string) *Metadata {
	payload, err := parsePayload(reply)
	if err != nil {
		a.logger.Warn("model reply not parseable, writing fallback metadata",
			logfields.DocumentID(req.DocumentID),
			logfields.Error(err))
		a.recorder.IncStageResult("analyzing", metrics.ResultWarning)
		return FallbackMetadata(req)
	}

	confidence := 0.8
	if payload.Confidence != nil {
		confidence = *payload.Confidence
	}
	m := &Metadata{
		SchemaVersion:   SchemaVersion,
		DocumentID:      req.DocumentID,
		Filename:        req.Filename,
		DocumentType:    NormalizeDocumentType(payload.DocumentType),
		Confidence:      confidence,
		Extraction:      Extraction{Method: req.Method, PageCount: req.PageCount, WordCount: req.WordCount},
		Summary:         strings.TrimSpace(payload.Summary),
		MainArguments:   payload.MainArguments,
		RequestedRelief: payload.RequestedRelief,
		Entities:        payload.Entities,
		RelevanceScores: payload.RelevanceScores,
		Relationships:   payload.Relationships,
		AnalyzedAt:      time.Now().UTC(),
	}
	m.ensureDefaults()
	return m
}

// FallbackMetadata is the minimal valid record for a document whose
// analysis reply could not be parsed.
func FallbackMetadata(req Request) *Metadata {
	m := &Metadata{
		SchemaVersion: SchemaVersion,
		DocumentID:    req.DocumentID,
		Filename:      req.Filename,
		DocumentType:  TypeUnknown,
		Confidence:    0,
		Extraction:    Extraction{Method: req.Method, PageCount: req.PageCount, WordCount: req.WordCount},
		AnalyzedAt:    time.Now().UTC(),
	}
	m.ensureDefaults()
	return m
}

// modelPayload is the shape the prompt asks the model to emit. Confidence
// is a pointer so an absent field can take the documented default.
type modelPayload struct {
	DocumentType    string             `json:"documentType"`
	Confidence      *float64           `json:"confidence"`
	Summary         string             `json:"summary"`
	MainArguments   []string           `json:"mainArguments"`
	RequestedRelief []string           `json:"requestedRelief"`
	Entities        Entities           `json:"entities"`
	RelevanceScores map[string]float64 `json:"relevanceScores"`
	Relationships   Relationships      `json:"relationships"`
}

func parsePayload(reply string) (*modelPayload, error) {
	cleaned := StripCodeFences(reply)
	var payload modelPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err == nil {
		return &payload, nil
	}
	// Salvage the outermost object from replies with prose around the JSON.
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), &payload); err == nil {
			return &payload, nil
		}
	}
	return nil, fmt.Errorf("reply is not a metadata object")
}

// StripCodeFences unwraps ``` and ```json fenced replies.
func StripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if nl := strings.Index(trimmed, "\n"); nl >= 0 {
		first := strings.TrimSpace(trimmed[:nl])
		// A language tag like "json" sits on the fence line.
		if len(first) <= 10 && !strings.ContainsAny(first, "{}") {
			trimmed = trimmed[nl+1:]
		}
	}
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

func buildPrompt(filename, text string) string {
	return fmt.Sprintf(promptTemplate,
		strings.Join(DocumentTypes(), " | "),
		filename,
		truncateText(text, maxPromptChars))
}

// truncateText cuts at a rune boundary at or below max bytes.
func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Encode renders the artifact for the workspace file.
func (m *Metadata) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeMetadata reads an artifact back, rejecting versions this build
// does not understand.
func DecodeMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if m.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("metadata schema version %d is newer than supported version %d", m.SchemaVersion, SchemaVersion)
	}
	m.ensureDefaults()
	return &m, nil
}
