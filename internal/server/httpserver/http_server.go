// Package httpserver wires the handler modules onto the API and admin
// listeners and owns their lifecycle.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/caseloom/caseloom/internal/auth"
	"github.com/caseloom/caseloom/internal/blob"
	"github.com/caseloom/caseloom/internal/caseworkspace"
	"github.com/caseloom/caseloom/internal/catalog"
	"github.com/caseloom/caseloom/internal/config"
	clerrors "github.com/caseloom/caseloom/internal/foundation/errors"
	"github.com/caseloom/caseloom/internal/index"
	"github.com/caseloom/caseloom/internal/metrics"
	"github.com/caseloom/caseloom/internal/observability"
	"github.com/caseloom/caseloom/internal/pipeline"
	"github.com/caseloom/caseloom/internal/progress"
	"github.com/caseloom/caseloom/internal/server/handlers"
	smw "github.com/caseloom/caseloom/internal/server/middleware"
	"github.com/caseloom/caseloom/internal/summary"
)

// Deps bundles the collaborators the HTTP layer exposes. Blobs may be nil
// when blob storage is disabled; Prometheus and Collector may be nil when
// metrics are disabled.
type Deps struct {
	Catalog     *catalog.Catalog
	Workspaces  *caseworkspace.Manager
	Blobs       blob.Store
	Coordinator *pipeline.Coordinator
	Summaries   *summary.Engine
	Indexer     index.Client
	Hub         *progress.Hub
	Verifier    auth.Verifier
	Recorder    metrics.Recorder
	Daemon      handlers.DaemonInterface
	Prometheus  http.Handler
	Collector   *observability.MetricsCollector
	Logger      *slog.Logger
}

// Server manages the API and admin HTTP endpoints.
type Server struct {
	apiServer    *http.Server
	adminServer  *http.Server
	cfg          *config.Config
	logger       *slog.Logger
	errorAdapter *clerrors.HTTPErrorAdapter
	daemon       handlers.DaemonInterface

	// Handler modules
	documentHandlers    *handlers.DocumentHandlers
	caseContextHandlers *handlers.CaseContextHandlers
	summaryHandlers     *handlers.SummaryHandlers
	socketHandlers      *handlers.SocketHandlers
	monitoringHandlers  *handlers.MonitoringHandlers

	// Middleware
	mchain func(http.Handler) http.Handler
	authmw func(http.Handler) http.Handler

	// Bound listen addresses, set by Start. With a ":0" listen address the
	// configured and bound addresses differ.
	apiAddr   string
	adminAddr string
}

// New constructs the HTTP server wiring instance.
func New(cfg *config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:          cfg,
		logger:       logger,
		errorAdapter: clerrors.NewHTTPErrorAdapter(logger),
		daemon:       deps.Daemon,
	}

	// Initialize handler modules
	s.documentHandlers = handlers.NewDocumentHandlers(cfg, deps.Catalog, deps.Workspaces, deps.Blobs,
		deps.Coordinator, deps.Indexer, deps.Recorder, logger)
	s.caseContextHandlers = handlers.NewCaseContextHandlers(deps.Catalog, deps.Workspaces, logger)
	s.summaryHandlers = handlers.NewSummaryHandlers(deps.Catalog, deps.Summaries, logger)
	s.socketHandlers = handlers.NewSocketHandlers(deps.Hub, deps.Catalog, logger)
	s.monitoringHandlers = handlers.NewMonitoringHandlers(deps.Daemon, deps.Prometheus, deps.Collector, logger)

	// Initialize middleware
	s.mchain = smw.Chain(logger, s.errorAdapter, nil)
	s.authmw = smw.Auth(deps.Verifier, s.errorAdapter)

	return s
}

// Start binds both listen addresses up front so startup fails fast with
// aggregate errors instead of logging independent 'address already in use'
// lines after partial initialization, then serves on the bound listeners.
func (s *Server) Start(ctx context.Context) error {
	type preBind struct {
		name string
		addr string
		ln   net.Listener
	}
	binds := []preBind{
		{name: "api", addr: s.cfg.Server.Listen},
		{name: "admin", addr: s.cfg.Server.AdminListen},
	}

	var bindErrs []error
	lc := net.ListenConfig{}
	for i := range binds {
		ln, err := lc.Listen(ctx, "tcp", binds[i].addr)
		if err != nil {
			bindErrs = append(bindErrs, fmt.Errorf("%s listen %s: %w", binds[i].name, binds[i].addr, err))
			continue
		}
		binds[i].ln = ln
	}
	if len(bindErrs) > 0 {
		// Close any successful listeners before returning
		for _, b := range binds {
			if b.ln != nil {
				_ = b.ln.Close()
			}
		}
		return fmt.Errorf("http startup failed: %w", errors.Join(bindErrs...))
	}

	s.apiAddr = binds[0].ln.Addr().String()
	s.adminAddr = binds[1].ln.Addr().String()
	s.startAPIServerWithListener(binds[0].ln)
	s.startAdminServerWithListener(binds[1].ln)

	s.logger.Info("HTTP servers started",
		slog.String("api_addr", s.apiAddr),
		slog.String("admin_addr", s.adminAddr))
	return nil
}

// APIAddr returns the bound API listen address. Empty before Start.
func (s *Server) APIAddr() string { return s.apiAddr }

// AdminAddr returns the bound admin listen address. Empty before Start.
func (s *Server) AdminAddr() string { return s.adminAddr }

// Stop gracefully shuts down both servers, admin first.
func (s *Server) Stop(ctx context.Context) error {
	var errs []error

	if s.adminServer != nil {
		if err := s.adminServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("admin server shutdown: %w", err))
		}
	}
	if s.apiServer != nil {
		if err := s.apiServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("api server shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	s.logger.Info("HTTP servers stopped")
	return nil
}

// startServerWithListener launches an http.Server on a pre-bound listener or
// binds itself. It standardizes goroutine startup and error logging.
func (s *Server) startServerWithListener(kind string, srv *http.Server, ln net.Listener) {
	go func() {
		var err error
		if ln != nil {
			err = srv.Serve(ln)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error(fmt.Sprintf("%s server error", kind), "error", err)
		}
	}()
}
