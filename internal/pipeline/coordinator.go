// Package pipeline runs the per-document processing state machine. Each
// uploaded document moves through extracting, analyzing, and indexing on its
// own goroutine, bounded by a worker-slot semaphore. On every transition the
// catalog write lands before the progress event so subscribers never observe
// state the catalog does not yet hold. A document that fails stays failed;
// partial artifacts are left on disk for diagnosis.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caseloom/caseloom/internal/analyze"
	"github.com/caseloom/caseloom/internal/caseworkspace"
	"github.com/caseloom/caseloom/internal/catalog"
	"github.com/caseloom/caseloom/internal/config"
	"github.com/caseloom/caseloom/internal/extract"
	clerrors "github.com/caseloom/caseloom/internal/foundation/errors"
	"github.com/caseloom/caseloom/internal/index"
	"github.com/caseloom/caseloom/internal/logfields"
	"github.com/caseloom/caseloom/internal/metrics"
	"github.com/caseloom/caseloom/internal/observability"
	"github.com/caseloom/caseloom/internal/progress"
)

// Stage labels used for metrics and log context. They match the processing
// statuses a document passes through.
const (
	StageExtracting = "extracting"
	StageAnalyzing  = "analyzing"
	StageIndexing   = "indexing"
)

// Task identifies one admitted document. The upload handler persists the
// catalog row and stages the bytes before launching the task.
type Task struct {
	CaseID     string
	DocumentID string
	UserID     string
	Filename   string
	FolderName string
	FileType   catalog.FileType
	StagedPath string
}

// Deps bundles the collaborators a Coordinator needs. Recorder and Tracer
// are optional.
type Deps struct {
	Catalog    *catalog.Catalog
	Workspaces *caseworkspace.Manager
	Extractors *extract.Registry
	Analyzer   *analyze.Analyzer
	Indexer    index.Client
	Hub        *progress.Hub
	Recorder   metrics.Recorder
	Tracer     *observability.TracerProvider
}

// Coordinator owns the document state machine. Distinct documents share no
// mutable state; the only coordination points are the worker-slot semaphore
// and the cancel registry that delete and shutdown use.
type Coordinator struct {
	catalog    *catalog.Catalog
	workspaces *caseworkspace.Manager
	extractors *extract.Registry
	analyzer   *analyze.Analyzer
	indexer    index.Client
	hub        *progress.Hub
	recorder   metrics.Recorder
	tracer     *observability.TracerProvider

	slots    chan struct{}
	inFlight atomic.Int64

	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu      sync.Mutex
	cancels map[string]map[string]context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

// New builds a Coordinator with cfg.Workers parallel slots.
func New(cfg config.PipelineConfig, deps Deps) *Coordinator {
	if deps.Recorder == nil {
		deps.Recorder = metrics.NoopRecorder{}
	}
	if deps.Tracer == nil {
		deps.Tracer = observability.GetGlobalTracer()
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	rootCtx, rootCancel := context.WithCancel(context.Background())
	return &Coordinator{
		catalog:    deps.Catalog,
		workspaces: deps.Workspaces,
		extractors: deps.Extractors,
		analyzer:   deps.Analyzer,
		indexer:    deps.Indexer,
		hub:        deps.Hub,
		recorder:   deps.Recorder,
		tracer:     deps.Tracer,
		slots:      make(chan struct{}, workers),
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
		cancels:    make(map[string]map[string]context.CancelFunc),
	}
}

// Launch schedules a document for background processing and returns
// immediately. The run starts once a worker slot frees up. After Shutdown,
// launches are dropped.
func (c *Coordinator) Launch(task Task) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		slog.Warn("pipeline stopped, dropping document task",
			logfields.CaseID(task.CaseID), logfields.DocumentID(task.DocumentID))
		return
	}
	runCtx, cancel := context.WithCancel(c.rootCtx)
	if c.cancels[task.CaseID] == nil {
		c.cancels[task.CaseID] = make(map[string]context.CancelFunc)
	}
	c.cancels[task.CaseID][task.DocumentID] = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	go c.run(runCtx, task)
}

// CancelDocument aborts the in-flight run for a document, if any. The delete
// path calls this before tearing artifacts down.
func (c *Coordinator) CancelDocument(caseID, documentID string) {
	c.mu.Lock()
	cancel := c.cancels[caseID][documentID]
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// CancelCase aborts every in-flight run belonging to a case.
func (c *Coordinator) CancelCase(caseID string) {
	c.mu.Lock()
	var cancels []context.CancelFunc
	for _, cancel := range c.cancels[caseID] {
		cancels = append(cancels, cancel)
	}
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// InFlight reports how many documents currently hold a worker slot.
func (c *Coordinator) InFlight() int {
	return int(c.inFlight.Load())
}

// Shutdown cancels all in-flight work and waits for workers to exit or for
// ctx to expire.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.rootCancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipeline shutdown: %w", ctx.Err())
	}
}

func (c *Coordinator) run(ctx context.Context, task Task) {
	defer c.wg.Done()
	defer c.release(task)

	select {
	case c.slots <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-c.slots }()

	c.recorder.SetDocumentsInFlight(int(c.inFlight.Add(1)))
	defer func() {
		c.recorder.SetDocumentsInFlight(int(c.inFlight.Add(-1)))
	}()

	ctx = observability.WithCaseID(ctx, task.CaseID)
	ctx = observability.WithDocumentID(ctx, task.DocumentID)
	if task.UserID != "" {
		ctx = observability.WithUserID(ctx, task.UserID)
	}
	ctx, span := c.tracer.StartDocumentSpan(ctx, task.DocumentID)

	start := time.Now()
	stage, err := c.process(ctx, task)
	duration := time.Since(start)
	c.recorder.ObserveDocumentDuration(duration)
	observability.EndSpan(span, err)

	switch {
	case err == nil:
		c.recorder.IncDocumentOutcome("complete")
		observability.InfoContext(ctx, "Document processing complete",
			logfields.DurationMS(float64(duration.Milliseconds())))
	case ctx.Err() != nil:
		// Canceled by delete or shutdown. The document keeps its last
		// persisted status; no error event is owed to anyone.
		observability.InfoContext(ctx, "Document processing canceled", logfields.Stage(stage))
	default:
		c.fail(ctx, task, stage, err)
	}
}

// process walks the document through the three stages. It returns the stage
// that was active when an error occurred.
func (c *Coordinator) process(ctx context.Context, task Task) (string, error) {
	ws := c.workspaces.CaseWorkspace(task.CaseID)

	// Stage 1: extract text from the original.
	stageStart := time.Now()
	ctx = observability.WithStage(ctx, StageExtracting)
	if err := c.catalog.SetDocumentStatus(ctx, task.DocumentID, catalog.StatusExtracting); err != nil {
		c.recorder.IncStageResult(StageExtracting, metrics.ResultFailed)
		return StageExtracting, clerrors.CatalogError("failed to mark document extracting").WithContext("error", err.Error()).Build()
	}
	c.publishStatus(task, catalog.StatusExtracting)
	observability.InfoContext(ctx, "Extracting document text",
		logfields.Filename(task.Filename),
		logfields.FileType(string(task.FileType)))

	originalPath, err := ws.PromoteIntake(task.StagedPath, task.FolderName, string(task.FileType))
	if err != nil {
		c.recorder.IncStageResult(StageExtracting, metrics.ResultFailed)
		return StageExtracting, clerrors.FileSystemError("failed to promote staged upload").WithContext("error", err.Error()).Build()
	}

	res, err := c.extractors.Extract(ctx, task.FileType, originalPath)
	if err != nil {
		if ctx.Err() != nil {
			c.recorder.IncStageResult(StageExtracting, metrics.ResultCanceled)
			return StageExtracting, ctx.Err()
		}
		c.recorder.IncStageResult(StageExtracting, metrics.ResultFailed)
		return StageExtracting, clerrors.FileSystemError("text extraction failed").WithContext("error", err.Error()).Build()
	}
	if err := ws.WriteExtractedText(task.FolderName, res.Text); err != nil {
		c.recorder.IncStageResult(StageExtracting, metrics.ResultFailed)
		return StageExtracting, clerrors.FileSystemError("failed to persist extracted text").WithContext("error", err.Error()).Build()
	}
	if err := c.catalog.RecordExtraction(ctx, task.DocumentID, res.PageCount, res.WordCount); err != nil {
		c.recorder.IncStageResult(StageExtracting, metrics.ResultFailed)
		return StageExtracting, clerrors.CatalogError("failed to record extraction").WithContext("error", err.Error()).Build()
	}
	c.recorder.ObserveStageDuration(StageExtracting, time.Since(stageStart))
	c.recorder.IncStageResult(StageExtracting, metrics.ResultSuccess)
	c.publishStatus(task, catalog.StatusAnalyzing)
	observability.InfoContext(ctx, "Text extracted",
		slog.Int("page_count", res.PageCount),
		slog.Int("word_count", res.WordCount),
		slog.String("method", res.Method))

	// Stage 2: classify and persist the metadata artifact.
	stageStart = time.Now()
	ctx = observability.WithStage(ctx, StageAnalyzing)
	meta, err := c.analyzer.Analyze(ctx, analyze.Request{
		DocumentID: task.DocumentID,
		Filename:   task.Filename,
		Text:       res.Text,
		Method:     res.Method,
		PageCount:  res.PageCount,
		WordCount:  res.WordCount,
	})
	if err != nil {
		if ctx.Err() != nil {
			c.recorder.IncStageResult(StageAnalyzing, metrics.ResultCanceled)
			return StageAnalyzing, ctx.Err()
		}
		c.recorder.IncStageResult(StageAnalyzing, metrics.ResultFailed)
		return StageAnalyzing, clerrors.LLMError("document analysis failed").WithContext("error", err.Error()).Build()
	}
	encoded, err := meta.Encode()
	if err != nil {
		c.recorder.IncStageResult(StageAnalyzing, metrics.ResultFailed)
		return StageAnalyzing, clerrors.InternalError("failed to encode metadata").WithContext("error", err.Error()).Build()
	}
	if err := ws.WriteMetadata(task.FolderName, encoded); err != nil {
		c.recorder.IncStageResult(StageAnalyzing, metrics.ResultFailed)
		return StageAnalyzing, clerrors.FileSystemError("failed to persist metadata").WithContext("error", err.Error()).Build()
	}
	if err := c.catalog.RecordAnalysis(ctx, task.DocumentID, meta.DocumentType); err != nil {
		c.recorder.IncStageResult(StageAnalyzing, metrics.ResultFailed)
		return StageAnalyzing, clerrors.CatalogError("failed to record analysis").WithContext("error", err.Error()).Build()
	}
	c.recorder.ObserveStageDuration(StageAnalyzing, time.Since(stageStart))
	c.recorder.IncStageResult(StageAnalyzing, metrics.ResultSuccess)
	c.publishStatus(task, catalog.StatusIndexing)
	observability.InfoContext(ctx, "Document analyzed",
		slog.String("document_type", meta.DocumentType),
		slog.Float64("confidence", meta.Confidence))

	// Stage 3: register with the retrieval store and complete.
	stageStart = time.Now()
	ctx = observability.WithStage(ctx, StageIndexing)
	handle, err := c.indexer.RegisterDocument(ctx, task.CaseID, task.DocumentID, ws.DocumentDir(task.FolderName))
	if err != nil {
		if ctx.Err() != nil {
			c.recorder.IncStageResult(StageIndexing, metrics.ResultCanceled)
			return StageIndexing, ctx.Err()
		}
		c.recorder.IncStageResult(StageIndexing, metrics.ResultFailed)
		return StageIndexing, clerrors.RetrievalError("retrieval registration failed").WithContext("error", err.Error()).Build()
	}
	if err := c.catalog.RecordIndexed(ctx, task.DocumentID, handle.StoreID, handle.FileURI, time.Now().UTC()); err != nil {
		c.recorder.IncStageResult(StageIndexing, metrics.ResultFailed)
		return StageIndexing, clerrors.CatalogError("failed to record indexing").WithContext("error", err.Error()).Build()
	}
	c.recorder.ObserveStageDuration(StageIndexing, time.Since(stageStart))
	c.recorder.IncStageResult(StageIndexing, metrics.ResultSuccess)
	c.publishStatus(task, catalog.StatusComplete)
	observability.InfoContext(ctx, "Document indexed", logfields.StoreID(handle.StoreID))

	// A newly completed document invalidates a generated summary. Only the
	// generated status flips; generating, failed, and absent stay untouched.
	if flipped, err := c.catalog.MarkSummaryStale(ctx, task.CaseID); err != nil {
		observability.WarnContext(ctx, "Failed to mark case summary stale", logfields.Error(err))
	} else if flipped {
		observability.InfoContext(ctx, "Case summary marked stale")
	}

	return "", nil
}

// fail moves the document to its terminal failed status and emits the single
// document:error event. The status write precedes the event like every other
// transition.
func (c *Coordinator) fail(ctx context.Context, task Task, stage string, err error) {
	observability.ErrorContext(ctx, "Document processing failed",
		logfields.Stage(stage), logfields.Error(err))

	if markErr := c.catalog.MarkDocumentFailed(context.WithoutCancel(ctx), task.DocumentID); markErr != nil {
		observability.ErrorContext(ctx, "Failed to mark document failed", logfields.Error(markErr))
	}
	c.hub.Publish(progress.Event{
		Kind:       progress.KindDocumentError,
		DocumentID: task.DocumentID,
		CaseID:     task.CaseID,
		Filename:   task.Filename,
		Percent:    catalog.StatusFailed.Percent(),
		Message:    "Processing failed",
		Error:      err.Error(),
	})
	c.recorder.IncDocumentOutcome("failed")
}

func (c *Coordinator) publishStatus(task Task, status catalog.ProcessingStatus) {
	c.hub.Publish(progress.Event{
		Kind:       eventKind(status),
		DocumentID: task.DocumentID,
		CaseID:     task.CaseID,
		Filename:   task.Filename,
		Percent:    status.Percent(),
		Message:    statusMessage(status),
	})
}

func (c *Coordinator) release(task Task) {
	c.mu.Lock()
	caseCancels := c.cancels[task.CaseID]
	cancel, ok := caseCancels[task.DocumentID]
	if ok {
		delete(caseCancels, task.DocumentID)
		if len(caseCancels) == 0 {
			delete(c.cancels, task.CaseID)
		}
	}
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

func eventKind(status catalog.ProcessingStatus) string {
	switch status {
	case catalog.StatusExtracting:
		return progress.KindDocumentExtracting
	case catalog.StatusAnalyzing:
		return progress.KindDocumentAnalyzing
	case catalog.StatusIndexing:
		return progress.KindDocumentIndexing
	case catalog.StatusComplete:
		return progress.KindDocumentComplete
	default:
		return progress.KindDocumentError
	}
}

func statusMessage(status catalog.ProcessingStatus) string {
	switch status {
	case catalog.StatusExtracting:
		return "Extracting text"
	case catalog.StatusAnalyzing:
		return "Analyzing content"
	case catalog.StatusIndexing:
		return "Indexing for retrieval"
	case catalog.StatusComplete:
		return "Processing complete"
	default:
		return "Processing failed"
	}
}
