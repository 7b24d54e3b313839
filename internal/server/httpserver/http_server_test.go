package httpserver

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
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
	"github.com/caseloom/caseloom/internal/metrics"
	"github.com/caseloom/caseloom/internal/observability"
	"github.com/caseloom/caseloom/internal/pipeline"
	"github.com/caseloom/caseloom/internal/progress"
	"github.com/caseloom/caseloom/internal/server/handlers"
	"github.com/caseloom/caseloom/internal/summary"
)

type stubDaemon struct {
	healthErr error
}

func (d *stubDaemon) GetStartTime() time.Time { return time.Now() }
func (d *stubDaemon) DocumentsInFlight() int  { return 0 }
func (d *stubDaemon) SummariesRunning() int   { return 0 }

func (d *stubDaemon) Healthy(context.Context) error { return d.healthErr }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testServerConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Listen:        "127.0.0.1:0",
			AdminListen:   "127.0.0.1:0",
			UploadTimeout: "10s",
			MaxUploadMB:   1,
		},
	}
}

// serverEnv wires a Server over real collaborators, mirroring the daemon
// assembly at a test scale.
type serverEnv struct {
	srv      *Server
	catalog  *catalog.Catalog
	manager  *caseworkspace.Manager
	recorder *metrics.PrometheusRecorder
	api      http.Handler
	admin    http.Handler
}

func newServerEnv(t *testing.T, cfg *config.Config, daemon handlers.DaemonInterface) *serverEnv {
	t.Helper()
	if cfg == nil {
		cfg = testServerConfig()
	}

	cat, err := catalog.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	manager := caseworkspace.NewManager(t.TempDir())
	hub := progress.NewHub(quietLogger(), nil)
	t.Cleanup(hub.Close)

	provider := &llm.MockProvider{Model: "mock-model"}
	pipeCfg := config.PipelineConfig{Workers: 1, AnalyzerAttempts: 1, AnalyzerTimeout: "5s"}
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
	engine := summary.New(config.SummaryConfig{BatchSize: 2, CallTimeout: "5s"}, summary.Deps{
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

	reg := prom.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(reg)

	srv := New(cfg, Deps{
		Catalog:     cat,
		Workspaces:  manager,
		Blobs:       blob.NewMemoryStore("caseloom-test"),
		Coordinator: coord,
		Summaries:   engine,
		Indexer:     synthetic,
		Hub:         hub,
		Verifier:    auth.NewStaticVerifier(map[string]string{"tok-1": "user-1", "tok-2": "user-2"}),
		Recorder:    recorder,
		Daemon:      daemon,
		Prometheus:  metrics.HTTPHandler(reg),
		Collector:   observability.NewMetricsCollector(),
		Logger:      quietLogger(),
	})

	return &serverEnv{
		srv:      srv,
		catalog:  cat,
		manager:  manager,
		recorder: recorder,
		api:      srv.apiHandler(),
		admin:    srv.adminHandler(),
	}
}

func (e *serverEnv) seedCase(t *testing.T, caseID, userID string) {
	t.Helper()
	ws, err := e.manager.CreateCaseWorkspace(caseID)
	require.NoError(t, err)
	require.NoError(t, e.catalog.CreateCase(context.Background(), catalog.Case{
		ID:            caseID,
		Title:         "Smith v. Jones",
		WorkspacePath: ws.Root(),
		UserID:        userID,
	}))
}

// request drives the given handler with an optional bearer token.
func request(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPIRoutesRequireAuth(t *testing.T) {
	env := newServerEnv(t, nil, nil)

	routes := []struct{ method, path string }{
		{http.MethodPost, "/api/cases/case-1/documents/upload"},
		{http.MethodGet, "/api/cases/case-1/documents"},
		{http.MethodGet, "/api/cases/case-1/documents/stats"},
		{http.MethodGet, "/api/documents/doc-1"},
		{http.MethodGet, "/api/documents/doc-1/preview-url"},
		{http.MethodGet, "/api/documents/doc-1/download-url"},
		{http.MethodGet, "/api/documents/doc-1/download"},
		{http.MethodDelete, "/api/documents/doc-1"},
		{http.MethodGet, "/api/cases/case-1/summary"},
		{http.MethodGet, "/api/cases/case-1/narrative"},
		{http.MethodPut, "/api/cases/case-1/narrative"},
		{http.MethodGet, "/api/cases/case-1/summary/status"},
		{http.MethodPost, "/api/cases/case-1/summary/generate"},
		{http.MethodPost, "/api/cases/case-1/summary/update"},
		{http.MethodPost, "/api/cases/case-1/summary/regenerate"},
		{http.MethodGet, "/api/ws"},
	}
	for _, route := range routes {
		rec := request(env.api, route.method, route.path, "")
		assert.Equalf(t, http.StatusUnauthorized, rec.Code, "%s %s", route.method, route.path)
		assert.NotEmptyf(t, rec.Header().Get("X-Request-ID"), "%s %s missing request id", route.method, route.path)
	}
}

func TestAPIDispatchesAuthedRoutes(t *testing.T) {
	env := newServerEnv(t, nil, nil)
	env.seedCase(t, "case-1", "user-1")

	rec := request(env.api, http.MethodGet, "/api/cases/case-1/documents", "tok-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = request(env.api, http.MethodGet, "/api/cases/case-1/summary/status", "tok-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"none"`)

	// Ownership flows from the verified identity, not from anything client-supplied.
	rec = request(env.api, http.MethodGet, "/api/cases/case-1/documents", "tok-2")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPIUnknownRoute(t *testing.T) {
	env := newServerEnv(t, nil, nil)

	rec := request(env.api, http.MethodGet, "/api/nope", "tok-1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIMethodNotAllowed(t *testing.T) {
	env := newServerEnv(t, nil, nil)

	rec := request(env.api, http.MethodDelete, "/api/cases/case-1/summary/status", "tok-1")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAdminSurface(t *testing.T) {
	env := newServerEnv(t, nil, nil)
	env.recorder.SetDocumentsInFlight(1)

	rec := request(env.admin, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	rec = request(env.admin, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", rec.Body.String())

	rec = request(env.admin, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "caseloom_documents_in_flight 1")

	rec = request(env.admin, http.MethodGet, "/metrics/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "UploadCount")
}

func TestAdminReadinessDegraded(t *testing.T) {
	env := newServerEnv(t, nil, &stubDaemon{healthErr: context.DeadlineExceeded})

	rec := request(env.admin, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not ready: dependencies unreachable", rec.Body.String())

	rec = request(env.admin, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdminCustomHealthPathKeepsAlias(t *testing.T) {
	cfg := testServerConfig()
	cfg.Monitoring = &config.MonitoringConfig{
		Health:  config.MonitoringHealth{Path: "/status"},
		Metrics: config.MonitoringMetrics{Enabled: true},
	}
	env := newServerEnv(t, cfg, nil)

	assert.Equal(t, http.StatusOK, request(env.admin, http.MethodGet, "/status", "").Code)
	assert.Equal(t, http.StatusOK, request(env.admin, http.MethodGet, "/healthz", "").Code)
}

func TestAdminMetricsDisabled(t *testing.T) {
	cfg := testServerConfig()
	cfg.Monitoring = &config.MonitoringConfig{Metrics: config.MonitoringMetrics{Enabled: false}}
	env := newServerEnv(t, cfg, nil)

	assert.Equal(t, http.StatusNotFound, request(env.admin, http.MethodGet, "/metrics", "").Code)
	assert.Equal(t, http.StatusNotFound, request(env.admin, http.MethodGet, "/metrics/snapshot", "").Code)
}

func TestStartServesBothListenersAndStops(t *testing.T) {
	env := newServerEnv(t, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.srv.Start(ctx))

	resp, err := http.Get("http://" + env.srv.AdminAddr() + "/healthz")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + env.srv.APIAddr() + "/api/cases/case-1/documents")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	require.NoError(t, env.srv.Stop(ctx))

	_, err = net.DialTimeout("tcp", env.srv.AdminAddr(), 200*time.Millisecond)
	assert.Error(t, err, "admin listener should be closed after Stop")
}

func TestStartReportsBindFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := testServerConfig()
	cfg.Server.Listen = taken.Addr().String()
	env := newServerEnv(t, cfg, nil)

	err = env.srv.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http startup failed")
	assert.Contains(t, err.Error(), "api listen")
}
