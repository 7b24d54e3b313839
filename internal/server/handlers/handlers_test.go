package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/caseloom/caseloom/internal/analyze"
	"github.com/caseloom/caseloom/internal/auth"
	"github.com/caseloom/caseloom/internal/blob"
	"github.com/caseloom/caseloom/internal/caseworkspace"
	"github.com/caseloom/caseloom/internal/catalog"
	"github.com/caseloom/caseloom/internal/config"
	"github.com/caseloom/caseloom/internal/extract"
	"github.com/caseloom/caseloom/internal/index"
	"github.com/caseloom/caseloom/internal/llm"
	"github.com/caseloom/caseloom/internal/pipeline"
	"github.com/caseloom/caseloom/internal/progress"
	"github.com/caseloom/caseloom/internal/summary"
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

// testConfig caps uploads at 1 MB so the oversize path is cheap to hit and
// pins the presign lifetime the URL handlers surface as expiresIn.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			UploadTimeout: "10s",
			MaxUploadMB:   1,
		},
		Blob: config.BlobConfig{
			PresignExpiry: "30m",
		},
	}
}

func fastPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		Workers:           2,
		AnalyzerAttempts:  2,
		AnalyzerTimeout:   "5s",
		RetryBackoff:      config.RetryBackoffFixed,
		RetryInitialDelay: "1ms",
		RetryMaxDelay:     "2ms",
	}
}

func fastSummaryConfig() config.SummaryConfig {
	return config.SummaryConfig{
		BatchSize:       2,
		InterBatchDelay: "1ms",
		CallTimeout:     "5s",
	}
}

// serverFixture wires every handler module against real collaborators: an
// in-memory catalog, a temp-dir workspace, the synthetic retrieval client,
// and a mock model provider.
type serverFixture struct {
	catalog   *catalog.Catalog
	manager   *caseworkspace.Manager
	hub       *progress.Hub
	provider  *llm.MockProvider
	synthetic *index.SyntheticClient
	store     blob.Store
	coord     *pipeline.Coordinator
	engine    *summary.Engine

	docs      *DocumentHandlers
	contexts  *CaseContextHandlers
	summaries *SummaryHandlers
	sockets   *SocketHandlers
}

// newServerFixture backs the handlers with an in-memory blob store.
func newServerFixture(t *testing.T, gen func(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error)) *serverFixture {
	return newServerFixtureWithStore(t, blob.NewMemoryStore("caseloom-test"), gen)
}

// newServerFixtureWithStore accepts any store, including nil for local-only
// mode.
func newServerFixtureWithStore(t *testing.T, store blob.Store, gen func(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error)) *serverFixture {
	t.Helper()

	cat, err := catalog.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	manager := caseworkspace.NewManager(t.TempDir())
	hub := progress.NewHub(quietLogger(), nil)
	t.Cleanup(hub.Close)

	provider := &llm.MockProvider{Model: "mock-model", GenerateFunc: gen}
	pipeCfg := fastPipelineConfig()
	analyzer := analyze.New(provider, pipeCfg, quietLogger(), nil)
	synthetic := index.NewSyntheticClient()

	coord := pipeline.New(pipeCfg, pipeline.Deps{
		Catalog:    cat,
		Workspaces: manager,
		Extractors: extract.NewRegistry(),
		Analyzer:   analyzer,
		Indexer:    synthetic,
		Hub:        hub,
	})
	engine := summary.New(fastSummaryConfig(), summary.Deps{
		Catalog:    cat,
		Workspaces: manager,
		Provider:   provider,
		Indexer:    synthetic,
		Hub:        hub,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		coord.Shutdown(ctx)
		engine.Shutdown(ctx)
	})

	cfg := testConfig()
	logger := quietLogger()
	return &serverFixture{
		catalog:   cat,
		manager:   manager,
		hub:       hub,
		provider:  provider,
		synthetic: synthetic,
		store:     store,
		coord:     coord,
		engine:    engine,
		docs:      NewDocumentHandlers(cfg, cat, manager, store, coord, synthetic, nil, logger),
		contexts:  NewCaseContextHandlers(cat, manager, logger),
		summaries: NewSummaryHandlers(cat, engine, logger),
		sockets:   NewSocketHandlers(hub, cat, logger),
	}
}

func (f *serverFixture) seedCase(t *testing.T, caseID, userID string) {
	t.Helper()
	ws, err := f.manager.CreateCaseWorkspace(caseID)
	require.NoError(t, err)
	require.NoError(t, f.catalog.CreateCase(context.Background(), catalog.Case{
		ID:            caseID,
		Title:         "Smith v. Jones",
		WorkspacePath: ws.Root(),
		UserID:        userID,
	}))
}

// seedDocument allocates a workspace folder for the filename and inserts the
// row. Zero-valued type, content type, and status fields get upload defaults.
func (f *serverFixture) seedDocument(t *testing.T, doc catalog.Document) catalog.Document {
	t.Helper()
	ws := f.manager.CaseWorkspace(doc.CaseID)
	if doc.FolderName == "" {
		slug, err := ws.AllocateDocumentDir(doc.Filename)
		require.NoError(t, err)
		doc.FolderName = slug
	}
	if doc.FileType == "" {
		doc.FileType = catalog.FileTypeFromFilename(doc.Filename)
	}
	if doc.ContentType == "" {
		doc.ContentType = doc.FileType.ContentType()
	}
	if doc.ProcessingStatus == "" {
		doc.ProcessingStatus = catalog.StatusPending
	}
	require.NoError(t, f.catalog.CreateDocument(context.Background(), doc))
	return doc
}

// seedCompleteDocument inserts a fully processed document together with the
// metadata artifact the summary engine feeds on.
func (f *serverFixture) seedCompleteDocument(t *testing.T, caseID, docID, filename string) catalog.Document {
	t.Helper()
	now := time.Now().UTC()
	doc := f.seedDocument(t, catalog.Document{
		ID:                docID,
		CaseID:            caseID,
		Filename:          filename,
		DocumentType:      "Motion",
		ProcessingStatus:  catalog.StatusComplete,
		HasTextExtraction: true,
		HasMetadata:       true,
		RAGIndexed:        true,
		PageCount:         3,
		WordCount:         250,
		ProcessedAt:       &now,
	})
	ws := f.manager.CaseWorkspace(caseID)
	meta := fmt.Sprintf(`{"documentType":"Motion","confidence":0.9,"summary":"What %s argues.","mainArguments":["one"]}`, filename)
	require.NoError(t, ws.WriteMetadata(doc.FolderName, []byte(meta)))
	return doc
}

// writeOriginal places content at the document's promoted original path.
func (f *serverFixture) writeOriginal(t *testing.T, doc catalog.Document, content string) string {
	t.Helper()
	ws := f.manager.CaseWorkspace(doc.CaseID)
	path := ws.OriginalPath(doc.FolderName, string(doc.FileType))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (f *serverFixture) waitForDocumentStatus(t *testing.T, docID string, want catalog.ProcessingStatus) catalog.Document {
	t.Helper()
	var doc catalog.Document
	require.Eventually(t, func() bool {
		d, err := f.catalog.GetDocument(context.Background(), docID)
		if err != nil {
			return false
		}
		doc = d
		return d.ProcessingStatus == want
	}, 5*time.Second, 10*time.Millisecond, "document %s never reached %s", docID, want)
	return doc
}

func (f *serverFixture) waitForSummaryStatus(t *testing.T, caseID string, want catalog.SummaryStatus) catalog.Case {
	t.Helper()
	var cs catalog.Case
	require.Eventually(t, func() bool {
		c, err := f.catalog.GetCase(context.Background(), caseID)
		if err != nil {
			return false
		}
		cs = c
		return c.SummaryStatus == want
	}, 5*time.Second, 10*time.Millisecond, "case %s never reached summary status %q", caseID, want)
	return cs
}

// authedRequest builds a request that already passed bearer verification.
func authedRequest(method, target, userID string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	return req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UserID: userID}))
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = io.WriteString(part, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

// upload drives HandleUpload as the given user.
func (f *serverFixture) upload(t *testing.T, caseID, userID, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, "file", filename, content)
	req := authedRequest(http.MethodPost, "/api/cases/"+caseID+"/documents/upload", userID, body)
	req.Header.Set("Content-Type", contentType)
	req.SetPathValue("id", caseID)
	rec := httptest.NewRecorder()
	f.docs.HandleUpload(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), "body: %s", rec.Body.String())
}

// errorMessage extracts the error field from a failure response body.
func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	decodeJSON(t, rec, &body)
	return body.Error
}
