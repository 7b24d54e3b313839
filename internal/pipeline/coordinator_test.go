package pipeline

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseloom/caseloom/internal/analyze"
	"github.com/caseloom/caseloom/internal/caseworkspace"
	"github.com/caseloom/caseloom/internal/catalog"
	"github.com/caseloom/caseloom/internal/config"
	"github.com/caseloom/caseloom/internal/extract"
	"github.com/caseloom/caseloom/internal/index"
	"github.com/caseloom/caseloom/internal/llm"
	"github.com/caseloom/caseloom/internal/metrics"
	"github.com/caseloom/caseloom/internal/progress"
)

const motionReply = `{
  "documentType": "Motion",
  "confidence": 0.9,
  "summary": "Motion to dismiss for failure to state a claim.",
  "mainArguments": ["Failure to state a claim"]
}`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastPipelineConfig(workers int) config.PipelineConfig {
	return config.PipelineConfig{
		Workers:           workers,
		AnalyzerAttempts:  3,
		AnalyzerTimeout:   "5s",
		RetryBackoff:      config.RetryBackoffExponential,
		RetryInitialDelay: "1ms",
		RetryMaxDelay:     "4ms",
	}
}

type captureRecorder struct {
	metrics.NoopRecorder
	mu       sync.Mutex
	outcomes map[string]int
	results  map[string]int
}

func (r *captureRecorder) IncDocumentOutcome(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[outcome]++
}

func (r *captureRecorder) IncStageResult(stage string, result metrics.ResultLabel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results == nil {
		r.results = map[string]int{}
	}
	r.results[stage+"/"+string(result)]++
}

func (r *captureRecorder) outcome(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[name]
}

func (r *captureRecorder) result(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results[key]
}

type fixture struct {
	catalog   *catalog.Catalog
	manager   *caseworkspace.Manager
	hub       *progress.Hub
	provider  *llm.MockProvider
	synthetic *index.SyntheticClient
	recorder  *captureRecorder
	coord     *Coordinator
}

func newFixture(t *testing.T, workers int, gen func(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error)) *fixture {
	t.Helper()

	cat, err := catalog.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	manager := caseworkspace.NewManager(t.TempDir())
	hub := progress.NewHub(quietLogger(), nil)
	t.Cleanup(hub.Close)

	provider := &llm.MockProvider{Model: "mock-model", GenerateFunc: gen}
	cfg := fastPipelineConfig(workers)
	analyzer := analyze.New(provider, cfg, quietLogger(), nil)
	synthetic := index.NewSyntheticClient()
	recorder := &captureRecorder{}

	coord := New(cfg, Deps{
		Catalog:    cat,
		Workspaces: manager,
		Extractors: extract.NewRegistry(),
		Analyzer:   analyzer,
		Indexer:    synthetic,
		Hub:        hub,
		Recorder:   recorder,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		coord.Shutdown(ctx)
	})

	return &fixture{
		catalog:   cat,
		manager:   manager,
		hub:       hub,
		provider:  provider,
		synthetic: synthetic,
		recorder:  recorder,
		coord:     coord,
	}
}

func (f *fixture) seedCase(t *testing.T, caseID string, summary catalog.SummaryStatus) {
	t.Helper()
	ws, err := f.manager.CreateCaseWorkspace(caseID)
	require.NoError(t, err)
	require.NoError(t, f.catalog.CreateCase(context.Background(), catalog.Case{
		ID:            caseID,
		Title:         "Smith v. Jones",
		WorkspacePath: ws.Root(),
		UserID:        "user-1",
		SummaryStatus: summary,
	}))
}

func (f *fixture) seedDocument(t *testing.T, caseID, docID, filename, content string) Task {
	t.Helper()
	ws := f.manager.CaseWorkspace(caseID)
	staged, err := ws.StageIntake(docID+"-"+filename, strings.NewReader(content))
	require.NoError(t, err)
	slug, err := ws.AllocateDocumentDir(filename)
	require.NoError(t, err)

	require.NoError(t, f.catalog.CreateDocument(context.Background(), catalog.Document{
		ID:               docID,
		CaseID:           caseID,
		Filename:         filename,
		FolderName:       slug,
		FileType:         catalog.FileTypeFromFilename(filename),
		ProcessingStatus: catalog.StatusPending,
		FileSizeBytes:    int64(len(content)),
	}))

	return Task{
		CaseID:     caseID,
		DocumentID: docID,
		UserID:     "user-1",
		Filename:   filename,
		FolderName: slug,
		FileType:   catalog.FileTypeFromFilename(filename),
		StagedPath: staged,
	}
}

func collectEvents(t *testing.T, sub *progress.Subscription, n int) []progress.Event {
	t.Helper()
	var events []progress.Event
	timeout := time.After(5 * time.Second)
	for len(events) < n {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				t.Fatalf("subscription closed after %d of %d events", len(events), n)
			}
			events = append(events, e)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(events), n)
		}
	}
	return events
}

func assertNoMoreEvents(t *testing.T, sub *progress.Subscription) {
	t.Helper()
	select {
	case e, ok := <-sub.Events():
		if ok {
			t.Fatalf("unexpected extra event %q", e.Kind)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDocumentRunsToComplete(t *testing.T) {
	f := newFixture(t, 2, func(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
		return &llm.GenerateResponse{Text: motionReply}, nil
	})
	f.seedCase(t, "case-1", catalog.SummaryNone)
	task := f.seedDocument(t, "case-1", "doc-1", "Motion to Dismiss.txt",
		"Defendant moves to dismiss. The complaint fails to state a claim.")

	sub := f.hub.Subscribe("case-1")
	defer sub.Close()
	f.coord.Launch(task)

	events := collectEvents(t, sub, 4)
	wantKinds := []string{
		progress.KindDocumentExtracting,
		progress.KindDocumentAnalyzing,
		progress.KindDocumentIndexing,
		progress.KindDocumentComplete,
	}
	wantPercents := []int{30, 60, 85, 100}
	for i, e := range events {
		assert.Equal(t, wantKinds[i], e.Kind)
		assert.Equal(t, wantPercents[i], e.Percent)
		assert.Equal(t, "doc-1", e.DocumentID)
		assert.Equal(t, "case-1", e.CaseID)
		assert.Equal(t, "Motion to Dismiss.txt", e.Filename)
		assert.False(t, e.Timestamp.IsZero())
	}

	doc, err := f.catalog.GetDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusComplete, doc.ProcessingStatus)
	assert.True(t, doc.HasTextExtraction)
	assert.True(t, doc.HasMetadata)
	assert.True(t, doc.RAGIndexed)
	assert.Equal(t, "Motion", doc.DocumentType)
	assert.Equal(t, 1, doc.PageCount)
	assert.Equal(t, 11, doc.WordCount)
	assert.Equal(t, index.StoreID("case-1"), doc.FileSearchStoreID)
	assert.Equal(t, "filesearch://store-case-1/doc-1", doc.RetrievalFileURI)
	require.NotNil(t, doc.ProcessedAt)

	ws := f.manager.CaseWorkspace("case-1")
	text, err := ws.ReadExtractedText(task.FolderName)
	require.NoError(t, err)
	assert.Contains(t, text, "Defendant moves to dismiss")

	raw, err := ws.ReadMetadata(task.FolderName)
	require.NoError(t, err)
	meta, err := analyze.DecodeMetadata(raw)
	require.NoError(t, err)
	assert.Equal(t, "Motion", meta.DocumentType)

	assert.True(t, f.synthetic.Registered("case-1", "doc-1"))
	assert.Equal(t, 1, f.recorder.outcome("complete"))
	assert.Equal(t, 1, f.recorder.result("indexing/success"))
}

func TestMissingStagedFileFailsDocument(t *testing.T) {
	f := newFixture(t, 1, func(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
		t.Error("analyzer must not run when extraction fails")
		return nil, nil
	})
	f.seedCase(t, "case-1", catalog.SummaryNone)
	task := f.seedDocument(t, "case-1", "doc-1", "exhibit.txt", "contents")
	require.NoError(t, os.Remove(task.StagedPath))

	sub := f.hub.Subscribe("case-1")
	defer sub.Close()
	f.coord.Launch(task)

	events := collectEvents(t, sub, 2)
	assert.Equal(t, progress.KindDocumentExtracting, events[0].Kind)
	assert.Equal(t, progress.KindDocumentError, events[1].Kind)
	assert.Equal(t, 0, events[1].Percent)
	assert.Equal(t, "Processing failed", events[1].Message)
	assert.NotEmpty(t, events[1].Error)
	assertNoMoreEvents(t, sub)

	doc, err := f.catalog.GetDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusFailed, doc.ProcessingStatus)
	assert.Equal(t, 1, f.recorder.outcome("failed"))
	assert.Equal(t, 1, f.recorder.result("extracting/failed"))
}

func TestAnalyzerExhaustionFailsDocument(t *testing.T) {
	f := newFixture(t, 1, func(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
		return nil, context.DeadlineExceeded
	})
	f.seedCase(t, "case-1", catalog.SummaryNone)
	task := f.seedDocument(t, "case-1", "doc-1", "notes.md", "Detailed interview notes about the incident.")

	sub := f.hub.Subscribe("case-1")
	defer sub.Close()
	f.coord.Launch(task)

	events := collectEvents(t, sub, 3)
	assert.Equal(t, progress.KindDocumentExtracting, events[0].Kind)
	assert.Equal(t, progress.KindDocumentAnalyzing, events[1].Kind)
	assert.Equal(t, progress.KindDocumentError, events[2].Kind)
	assertNoMoreEvents(t, sub)

	// Extraction side effects survive the failure for diagnosis.
	doc, err := f.catalog.GetDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusFailed, doc.ProcessingStatus)
	assert.True(t, doc.HasTextExtraction)
	assert.False(t, doc.HasMetadata)

	ws := f.manager.CaseWorkspace("case-1")
	_, err = ws.ReadExtractedText(task.FolderName)
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(ws.DocumentDir(task.FolderName), "metadata.json"))
	assert.True(t, os.IsNotExist(err))

	assert.Equal(t, 1, f.recorder.result("analyzing/failed"))
	assert.Equal(t, 1, f.recorder.result("extracting/success"))
}

func TestCompleteFlipsGeneratedSummaryStale(t *testing.T) {
	f := newFixture(t, 1, func(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
		return &llm.GenerateResponse{Text: motionReply}, nil
	})
	f.seedCase(t, "case-1", catalog.SummaryGenerated)
	task := f.seedDocument(t, "case-1", "doc-1", "filing.txt", "A new filing arrived after the summary was built.")

	sub := f.hub.Subscribe("case-1")
	defer sub.Close()
	f.coord.Launch(task)
	collectEvents(t, sub, 4)

	cs, err := f.catalog.GetCase(context.Background(), "case-1")
	require.NoError(t, err)
	assert.Equal(t, catalog.SummaryStale, cs.SummaryStatus)
}

func TestCompleteLeavesOtherSummaryStatusesAlone(t *testing.T) {
	f := newFixture(t, 2, func(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
		return &llm.GenerateResponse{Text: motionReply}, nil
	})

	cases := map[string]catalog.SummaryStatus{
		"case-none":       catalog.SummaryNone,
		"case-generating": catalog.SummaryGenerating,
		"case-failed":     catalog.SummaryFailed,
	}
	for caseID, status := range cases {
		f.seedCase(t, caseID, status)
		task := f.seedDocument(t, caseID, "doc-"+caseID, "filing.txt", "Some filing text for the pipeline.")
		sub := f.hub.Subscribe(caseID)
		f.coord.Launch(task)
		collectEvents(t, sub, 4)
		sub.Close()

		cs, err := f.catalog.GetCase(context.Background(), caseID)
		require.NoError(t, err)
		assert.Equal(t, status, cs.SummaryStatus, "case %s", caseID)
	}
}

func TestCancelDocumentKeepsLastStatus(t *testing.T) {
	f := newFixture(t, 1, func(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	f.seedCase(t, "case-1", catalog.SummaryNone)
	task := f.seedDocument(t, "case-1", "doc-1", "deposition.txt", "Deposition transcript text.")

	sub := f.hub.Subscribe("case-1")
	defer sub.Close()
	f.coord.Launch(task)
	collectEvents(t, sub, 2) // extracting, analyzing

	f.coord.CancelDocument("case-1", "doc-1")
	require.Eventually(t, func() bool { return f.coord.InFlight() == 0 },
		2*time.Second, 10*time.Millisecond)

	assertNoMoreEvents(t, sub)
	doc, err := f.catalog.GetDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusAnalyzing, doc.ProcessingStatus)
	assert.Equal(t, 0, f.recorder.outcome("failed"))
	assert.Equal(t, 0, f.recorder.outcome("complete"))
	assert.Equal(t, 1, f.recorder.result("analyzing/canceled"))
}

func TestWorkerSlotsLimitConcurrency(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, 1, func(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
		select {
		case <-release:
			return &llm.GenerateResponse{Text: motionReply}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	f.seedCase(t, "case-1", catalog.SummaryNone)
	first := f.seedDocument(t, "case-1", "doc-1", "first.txt", "First document text body.")
	second := f.seedDocument(t, "case-1", "doc-2", "second.txt", "Second document text body.")

	sub := f.hub.Subscribe("case-1")
	defer sub.Close()
	f.coord.Launch(first)
	f.coord.Launch(second)

	// With a single slot one document blocks in the analyzer while the other
	// has not started.
	require.Eventually(t, func() bool {
		stats, err := f.catalog.Stats(context.Background(), "case-1")
		return err == nil && stats.Analyzing == 1 && stats.Pending == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, f.coord.InFlight())

	close(release)
	events := collectEvents(t, sub, 8)
	completes := 0
	for _, e := range events {
		if e.Kind == progress.KindDocumentComplete {
			completes++
		}
	}
	assert.Equal(t, 2, completes)

	stats, err := f.catalog.Stats(context.Background(), "case-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Complete)
}

func TestShutdownDropsNewLaunches(t *testing.T) {
	f := newFixture(t, 1, func(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
		return &llm.GenerateResponse{Text: motionReply}, nil
	})
	f.seedCase(t, "case-1", catalog.SummaryNone)
	task := f.seedDocument(t, "case-1", "doc-1", "late.txt", "Uploaded during shutdown.")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.coord.Shutdown(ctx))

	sub := f.hub.Subscribe("case-1")
	defer sub.Close()
	f.coord.Launch(task)
	assertNoMoreEvents(t, sub)

	doc, err := f.catalog.GetDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusPending, doc.ProcessingStatus)
}
