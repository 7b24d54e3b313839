// Package summary builds and maintains the per-case summary markdown. A run
// folds the metadata artifacts of completed documents into the model in
// batches, carrying the cumulative summary forward between calls, and
// publishes the result atomically into the case-context directory. At most
// one run per case is admitted at a time; the catalog's summary status is
// the gate.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/caseloom/caseloom/internal/analyze"
	"github.com/caseloom/caseloom/internal/caseworkspace"
	"github.com/caseloom/caseloom/internal/catalog"
	"github.com/caseloom/caseloom/internal/config"
	clerrors "github.com/caseloom/caseloom/internal/foundation/errors"
	"github.com/caseloom/caseloom/internal/index"
	"github.com/caseloom/caseloom/internal/llm"
	"github.com/caseloom/caseloom/internal/logfields"
	"github.com/caseloom/caseloom/internal/metrics"
	"github.com/caseloom/caseloom/internal/observability"
	"github.com/caseloom/caseloom/internal/progress"
)

const (
	defaultBatchSize   = 5
	defaultBatchDelay  = 2 * time.Second
	defaultCallTimeout = 180 * time.Second
)

// Mode names the trigger that started a run.
type Mode string

const (
	ModeGenerate   Mode = "generate"
	ModeUpdate     Mode = "update"
	ModeRegenerate Mode = "regenerate"
)

// Deps bundles the collaborators an Engine needs. Recorder and Tracer are
// optional.
type Deps struct {
	Catalog    *catalog.Catalog
	Workspaces *caseworkspace.Manager
	Provider   llm.Provider
	Indexer    index.Client
	Hub        *progress.Hub
	Recorder   metrics.Recorder
	Tracer     *observability.TracerProvider
}

// Engine runs summary work in the background, one run per case at most.
type Engine struct {
	catalog    *catalog.Catalog
	workspaces *caseworkspace.Manager
	provider   llm.Provider
	indexer    index.Client
	hub        *progress.Hub
	recorder   metrics.Recorder
	tracer     *observability.TracerProvider

	batchSize   int
	batchDelay  time.Duration
	callTimeout time.Duration

	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu      sync.Mutex
	running map[string]context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

// New builds an engine from summary configuration.
func New(cfg config.SummaryConfig, deps Deps) *Engine {
	if deps.Recorder == nil {
		deps.Recorder = metrics.NoopRecorder{}
	}
	if deps.Tracer == nil {
		deps.Tracer = observability.GetGlobalTracer()
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	rootCtx, rootCancel := context.WithCancel(context.Background())
	return &Engine{
		catalog:     deps.Catalog,
		workspaces:  deps.Workspaces,
		provider:    deps.Provider,
		indexer:     deps.Indexer,
		hub:         deps.Hub,
		recorder:    deps.Recorder,
		tracer:      deps.Tracer,
		batchSize:   batch,
		batchDelay:  config.Duration(cfg.InterBatchDelay, defaultBatchDelay),
		callTimeout: config.Duration(cfg.CallTimeout, defaultCallTimeout),
		rootCtx:     rootCtx,
		rootCancel:  rootCancel,
		running:     make(map[string]context.CancelFunc),
	}
}

// Generate builds the summary from every completed document in the case.
func (e *Engine) Generate(ctx context.Context, caseID string) error {
	return e.trigger(ctx, caseID, ModeGenerate)
}

// Update folds only documents uploaded after the previous generation into
// the existing summary.
func (e *Engine) Update(ctx context.Context, caseID string) error {
	return e.trigger(ctx, caseID, ModeUpdate)
}

// Regenerate backs up the existing summary, then rebuilds from scratch.
func (e *Engine) Regenerate(ctx context.Context, caseID string) error {
	return e.trigger(ctx, caseID, ModeRegenerate)
}

// trigger admits a run and backgrounds it. A case whose summary status is
// already generating is rejected with a conflict; that status flip is the
// sole mutual-exclusion point for summary work.
func (e *Engine) trigger(ctx context.Context, caseID string, mode Mode) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return clerrors.InternalError("summary engine is shutting down").Build()
	}
	if _, ok := e.running[caseID]; ok {
		e.recorder.IncSummaryOutcome("conflict")
		return clerrors.ConflictError("summary generation already in progress for this case").Build()
	}
	won, err := e.catalog.TryBeginSummary(ctx, caseID)
	if err != nil {
		return clerrors.CatalogError("begin summary generation").
			WithContext("error", err.Error()).
			Build()
	}
	if !won {
		e.recorder.IncSummaryOutcome("conflict")
		return clerrors.ConflictError("summary generation already in progress for this case").Build()
	}

	runCtx, cancel := context.WithCancel(e.rootCtx)
	e.running[caseID] = cancel
	e.wg.Add(1)
	go e.run(runCtx, caseID, mode)
	return nil
}

// CancelCase aborts an in-flight run for the case, if any. The delete
// handler calls this before tearing the case down.
func (e *Engine) CancelCase(caseID string) {
	e.mu.Lock()
	cancel, ok := e.running[caseID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

// Running reports whether a run is in flight for the case.
func (e *Engine) Running(caseID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[caseID]
	return ok
}

// RunningCount reports how many summary runs are in flight across all cases.
func (e *Engine) RunningCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.running)
}

// Shutdown rejects new triggers, cancels in-flight runs, and waits for them
// to wind down or the context to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.rootCancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("summary shutdown: %w", ctx.Err())
	}
}

func (e *Engine) release(caseID string) {
	e.mu.Lock()
	cancel, ok := e.running[caseID]
	delete(e.running, caseID)
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

func (e *Engine) run(ctx context.Context, caseID string, mode Mode) {
	defer e.wg.Done()
	defer e.release(caseID)

	ctx = observability.WithCaseID(ctx, caseID)
	ctx, span := e.tracer.StartSummarySpan(ctx, caseID)

	start := time.Now()
	err := e.build(ctx, caseID, mode)
	e.recorder.ObserveSummaryDuration(time.Since(start))
	observability.EndSpan(span, err)

	if err == nil {
		e.recorder.IncSummaryOutcome("generated")
		return
	}
	if ctx.Err() != nil {
		// A canceled run also lands on failed; a case left on generating
		// would refuse every future trigger.
		observability.InfoContext(ctx, "Summary run canceled",
			slog.String("mode", string(mode)))
	}
	e.fail(ctx, caseID, err)
}

// build executes one run end to end and returns the first error it hits.
// The caller owns the failure bookkeeping.
func (e *Engine) build(ctx context.Context, caseID string, mode Mode) error {
	start := time.Now()
	cs, err := e.catalog.GetCase(ctx, caseID)
	if err != nil {
		return clerrors.CatalogError("load case for summary").
			WithContext("error", err.Error()).
			Build()
	}
	ws := e.workspaces.CaseWorkspace(caseID)

	e.publishProgress(caseID, 0, "Starting summary generation")
	observability.InfoContext(ctx, "Summary run started",
		slog.String("mode", string(mode)))

	docs, err := e.catalog.ListCompletedDocuments(ctx, caseID)
	if err != nil {
		return clerrors.CatalogError("list completed documents").
			WithContext("error", err.Error()).
			Build()
	}
	if len(docs) == 0 {
		return clerrors.ValidationError("no completed documents to summarize").
			UserAction().
			Build()
	}

	all := e.loadMetadata(ctx, ws, docs)
	if len(all) == 0 {
		return clerrors.FileSystemError("no readable metadata for completed documents").Build()
	}

	feed := all
	seed := ""
	switch mode {
	case ModeUpdate:
		if !ws.SummaryExists() {
			return clerrors.ValidationError("no existing summary to update").
				UserAction().
				Build()
		}
		existing, err := ws.ReadSummary()
		if err != nil {
			return clerrors.FileSystemError("read existing summary").
				WithContext("error", err.Error()).
				Build()
		}
		if err := ws.BackupSummary(); err != nil {
			return clerrors.FileSystemError("back up existing summary").
				WithContext("error", err.Error()).
				Build()
		}
		seed = existing
		if cs.SummaryGeneratedAt != nil {
			feed = recordsUploadedAfter(all, *cs.SummaryGeneratedAt)
		}
		if len(feed) == 0 {
			return clerrors.ValidationError("no new documents since the last summary").
				UserAction().
				Build()
		}
	case ModeRegenerate:
		if err := ws.BackupSummary(); err != nil {
			return clerrors.FileSystemError("back up existing summary").
				WithContext("error", err.Error()).
				Build()
		}
	}

	batches := partition(feed, e.batchSize)
	total := len(batches)
	cumulative := seed
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("summary canceled: %w", err)
		}
		reply, err := e.generate(ctx, buildBatchPrompt(cs.Title, cumulative, batch))
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("summary canceled: %w", ctx.Err())
			}
			return clerrors.LLMError("summary model call failed").
				WithContext("batch", fmt.Sprintf("%d/%d", i+1, total)).
				WithContext("error", err.Error()).
				Build()
		}
		cumulative = strings.TrimSpace(reply)

		percent := int(math.Round(float64(i+1) / float64(total) * 100))
		e.publishProgress(caseID, percent, fmt.Sprintf("Summarized batch %d of %d", i+1, total))
		observability.InfoContext(ctx, "Summary batch folded in",
			slog.Int("batch", i+1),
			slog.Int("total_batches", total),
			logfields.Percent(percent))

		if i+1 < total {
			select {
			case <-time.After(e.batchDelay):
			case <-ctx.Done():
				return fmt.Errorf("summary canceled: %w", ctx.Err())
			}
		}
	}

	if !strings.HasSuffix(cumulative, "\n") {
		cumulative += "\n"
	}
	if err := ws.WriteSummary(cumulative); err != nil {
		return clerrors.FileSystemError("write case summary").
			WithContext("error", err.Error()).
			Build()
	}

	if data, err := mergeParties(all); err != nil {
		observability.WarnContext(ctx, "Parties artifact not written", logfields.Error(err))
	} else if err := ws.WriteParties(data); err != nil {
		observability.WarnContext(ctx, "Parties artifact not written", logfields.Error(err))
	}

	if _, err := e.indexer.RegisterSummary(ctx, caseID, ws.SummaryPath()); err != nil {
		observability.WarnContext(ctx, "Summary not registered with retrieval store",
			logfields.Error(err))
	}

	if err := e.catalog.CompleteSummary(ctx, caseID, time.Now().UTC(), len(docs)); err != nil {
		return clerrors.CatalogError("record summary completion").
			WithContext("error", err.Error()).
			Build()
	}
	version := cs.SummaryVersion + 1
	if updated, err := e.catalog.GetCase(ctx, caseID); err == nil {
		version = updated.SummaryVersion
	}

	e.hub.Publish(progress.Event{
		Kind:          progress.KindSummaryComplete,
		CaseID:        caseID,
		Percent:       100,
		Message:       "Case summary ready",
		Version:       version,
		DocumentCount: len(docs),
	})
	observability.InfoContext(ctx, "Summary run complete",
		slog.String("mode", string(mode)),
		logfields.Version(version),
		slog.Int("documents", len(docs)),
		logfields.DurationMS(float64(time.Since(start).Milliseconds())))
	return nil
}

// metadataRecord pairs a completed document with its decoded artifact. The
// raw bytes feed the prompt verbatim; the decoded form feeds the parties
// artifact.
type metadataRecord struct {
	doc  catalog.Document
	meta *analyze.Metadata
	raw  []byte
}

// loadMetadata reads each document's artifact, skipping any that cannot be
// read or decoded.
func (e *Engine) loadMetadata(ctx context.Context, ws *caseworkspace.Workspace, docs []catalog.Document) []metadataRecord {
	records := make([]metadataRecord, 0, len(docs))
	for _, doc := range docs {
		raw, err := ws.ReadMetadata(doc.FolderName)
		if err != nil {
			observability.WarnContext(ctx, "Skipping document without readable metadata",
				logfields.DocumentID(doc.ID),
				logfields.Filename(doc.Filename),
				logfields.Error(err))
			continue
		}
		meta, err := analyze.DecodeMetadata(raw)
		if err != nil {
			observability.WarnContext(ctx, "Skipping document with malformed metadata",
				logfields.DocumentID(doc.ID),
				logfields.Filename(doc.Filename),
				logfields.Error(err))
			continue
		}
		records = append(records, metadataRecord{doc: doc, meta: meta, raw: raw})
	}
	return records
}

func recordsUploadedAfter(records []metadataRecord, cutoff time.Time) []metadataRecord {
	fresh := make([]metadataRecord, 0, len(records))
	for _, rec := range records {
		if rec.doc.UploadedAt.After(cutoff) {
			fresh = append(fresh, rec)
		}
	}
	return fresh
}

func (e *Engine) generate(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	resp, err := e.provider.Generate(callCtx, llm.GenerateRequest{Prompt: prompt})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (e *Engine) publishProgress(caseID string, percent int, message string) {
	e.hub.Publish(progress.Event{
		Kind:    progress.KindSummaryGenerating,
		CaseID:  caseID,
		Percent: percent,
		Message: message,
	})
}

// fail records the terminal status and emits the single failure event. The
// status write survives cancellation.
func (e *Engine) fail(ctx context.Context, caseID string, cause error) {
	observability.ErrorContext(ctx, "Summary run failed", logfields.Error(cause))
	if err := e.catalog.SetSummaryStatus(context.WithoutCancel(ctx), caseID, catalog.SummaryFailed); err != nil {
		observability.WarnContext(ctx, "Summary failure status not recorded",
			logfields.Error(err))
	}
	e.hub.Publish(progress.Event{
		Kind:    progress.KindSummaryFailed,
		CaseID:  caseID,
		Message: "Summary generation failed",
		Error:   cause.Error(),
	})
	e.recorder.IncSummaryOutcome("failed")
}
