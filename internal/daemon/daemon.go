// Package daemon assembles the intake service: catalog, case workspaces,
// blob store, progress hub, LLM provider, document pipeline, summary engine,
// janitor, and the HTTP surface. It owns their lifecycle and applies config
// hot reloads to the settings that support them.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/caseloom/caseloom/internal/analyze"
	"github.com/caseloom/caseloom/internal/auth"
	"github.com/caseloom/caseloom/internal/blob"
	"github.com/caseloom/caseloom/internal/caseworkspace"
	"github.com/caseloom/caseloom/internal/catalog"
	"github.com/caseloom/caseloom/internal/config"
	"github.com/caseloom/caseloom/internal/extract"
	"github.com/caseloom/caseloom/internal/index"
	"github.com/caseloom/caseloom/internal/janitor"
	"github.com/caseloom/caseloom/internal/llm"
	"github.com/caseloom/caseloom/internal/logfields"
	"github.com/caseloom/caseloom/internal/metrics"
	"github.com/caseloom/caseloom/internal/observability"
	"github.com/caseloom/caseloom/internal/pipeline"
	"github.com/caseloom/caseloom/internal/progress"
	"github.com/caseloom/caseloom/internal/server/httpserver"
	"github.com/caseloom/caseloom/internal/summary"
)

// Status is the daemon lifecycle state.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
)

// Options carries optional wiring for New.
type Options struct {
	// ConfigPath enables file watching and hot reload when set.
	ConfigPath string
	Logger     *slog.Logger
	// LogLevel is the handler level var of Logger; a reload adjusts it in
	// place. Nil disables log level reload.
	LogLevel *slog.LevelVar
}

// Daemon wires the service components together and owns their lifecycle.
type Daemon struct {
	mu         sync.RWMutex
	cfg        *config.Config
	configPath string
	logger     *slog.Logger
	logLevel   *slog.LevelVar

	status    atomic.Value // Status
	startTime time.Time

	catalog     *catalog.Catalog
	workspaces  *caseworkspace.Manager
	blobs       blob.Store
	hub         *progress.Hub
	mirror      *progress.Mirror
	provider    *llm.Switchable
	coordinator *pipeline.Coordinator
	engine      *summary.Engine
	sweeper     *janitor.Janitor
	httpServer  *httpserver.Server
	watcher     *ConfigWatcher

	collector *observability.MetricsCollector
	recorder  metrics.Recorder
}

// New builds every component from the configuration. The context bounds
// startup I/O such as the blob bucket check; it does not control the
// daemon's lifetime.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Daemon{
		cfg:        cfg,
		configPath: opts.ConfigPath,
		logger:     logger,
		logLevel:   opts.LogLevel,
		collector:  observability.NewMetricsCollector(),
	}
	d.status.Store(StatusStopped)

	cat, err := catalog.New(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	d.catalog = cat
	built := false
	defer func() {
		if built {
			return
		}
		if d.mirror != nil {
			d.mirror.Close()
		}
		if d.hub != nil {
			d.hub.Close()
		}
		_ = cat.Close()
	}()

	d.workspaces = caseworkspace.NewManager(cfg.Workspace.Root)

	// The Prometheus registry feeds /metrics, the collector feeds
	// /metrics/snapshot; components record through both.
	var promHandler http.Handler
	recorders := []metrics.Recorder{d.collector}
	metricsEnabled := true
	if cfg.Monitoring != nil {
		metricsEnabled = cfg.Monitoring.Metrics.Enabled
	}
	if metricsEnabled {
		reg := prometheus.NewRegistry()
		recorders = append(recorders, metrics.NewPrometheusRecorder(reg))
		promHandler = metrics.HTTPHandler(reg)
	}
	d.recorder = metrics.Multi(recorders...)

	d.hub = progress.NewHub(logger, d.recorder)
	if cfg.Events.Enabled {
		mirror, err := progress.NewMirror(cfg.Events, logger, d.recorder)
		if err != nil {
			// Local subscribers keep working without the mirror.
			logger.Warn("event mirror unavailable, continuing without it",
				slog.String("nats_url", cfg.Events.NATSURL), logfields.Error(err))
		} else {
			d.mirror = mirror
			d.hub.AttachMirror(mirror)
		}
	}

	inner, err := llm.New(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("build llm provider: %w", err)
	}
	d.provider = llm.NewSwitchable(inner)

	if cfg.Blob.Enabled {
		store, err := blob.NewMinioStore(ctx, cfg.Blob, logger)
		if err != nil {
			return nil, fmt.Errorf("connect blob store: %w", err)
		}
		d.blobs = store
	}

	indexer, err := index.New(cfg.Retrieval)
	if err != nil {
		return nil, fmt.Errorf("build retrieval client: %w", err)
	}

	tracer := observability.GetGlobalTracer()
	analyzer := analyze.New(d.provider, cfg.Pipeline, logger, d.recorder)

	d.coordinator = pipeline.New(cfg.Pipeline, pipeline.Deps{
		Catalog:    cat,
		Workspaces: d.workspaces,
		Extractors: extract.NewRegistry(),
		Analyzer:   analyzer,
		Indexer:    indexer,
		Hub:        d.hub,
		Recorder:   d.recorder,
		Tracer:     tracer,
	})

	d.engine = summary.New(cfg.Summary, summary.Deps{
		Catalog:    cat,
		Workspaces: d.workspaces,
		Provider:   d.provider,
		Indexer:    indexer,
		Hub:        d.hub,
		Recorder:   d.recorder,
		Tracer:     tracer,
	})

	sweeper, err := janitor.New(cfg.Janitor, d.workspaces, d.recorder, logger)
	if err != nil {
		return nil, fmt.Errorf("build janitor: %w", err)
	}
	d.sweeper = sweeper

	d.httpServer = httpserver.New(cfg, httpserver.Deps{
		Catalog:     cat,
		Workspaces:  d.workspaces,
		Blobs:       d.blobs,
		Coordinator: d.coordinator,
		Summaries:   d.engine,
		Indexer:     indexer,
		Hub:         d.hub,
		Verifier:    auth.NewStaticVerifier(cfg.Auth.Tokens),
		Recorder:    d.recorder,
		Daemon:      d,
		Prometheus:  promHandler,
		Collector:   d.collector,
		Logger:      logger,
	})

	if opts.ConfigPath != "" {
		watcher, err := NewConfigWatcher(opts.ConfigPath, d, logger)
		if err != nil {
			return nil, fmt.Errorf("build config watcher: %w", err)
		}
		d.watcher = watcher
	}

	built = true
	return d, nil
}

// Start brings up the HTTP listeners, the janitor schedule, and the config
// watcher. Pipeline workers and the summary engine admit work on demand and
// need no explicit start.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.GetStatus() != StatusStopped {
		return fmt.Errorf("daemon is not stopped: %s", d.GetStatus())
	}
	d.status.Store(StatusStarting)
	d.startTime = time.Now()

	d.logger.Info("starting intake service",
		slog.String("workspace_root", d.cfg.Workspace.Root),
		slog.String("catalog_path", d.cfg.Catalog.Path),
		logfields.Provider(d.provider.Name()),
		slog.Bool("blob_enabled", d.blobs != nil),
		slog.Bool("event_mirror", d.mirror != nil))

	if err := d.httpServer.Start(ctx); err != nil {
		d.status.Store(StatusStopped)
		return err
	}
	if err := d.sweeper.Start(); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.httpServer.Stop(stopCtx)
		d.status.Store(StatusStopped)
		return fmt.Errorf("start janitor: %w", err)
	}
	if d.watcher != nil {
		if err := d.watcher.Start(ctx); err != nil {
			d.logger.Warn("config watcher failed to start, hot reload disabled", logfields.Error(err))
			d.watcher = nil
		}
	}

	d.status.Store(StatusRunning)
	d.logger.Info("intake service started",
		slog.String("api_addr", d.httpServer.APIAddr()),
		slog.String("admin_addr", d.httpServer.AdminAddr()))
	return nil
}

// Stop shuts the service down: close the HTTP listeners first so no new
// work arrives, stop the janitor, drain pipeline and summary work, then
// release the event and storage layers. Safe to call more than once.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.GetStatus() {
	case StatusStopped, StatusStopping:
		return nil
	}
	d.status.Store(StatusStopping)
	d.logger.Info("stopping intake service")

	var errs []error

	if d.watcher != nil {
		d.watcher.Stop()
	}
	if err := d.httpServer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop http server: %w", err))
	}
	if err := d.sweeper.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop janitor: %w", err))
	}
	if err := d.coordinator.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain pipeline: %w", err))
	}
	if err := d.engine.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain summary engine: %w", err))
	}
	d.hub.Close()
	if d.mirror != nil {
		d.mirror.Close()
	}
	if err := d.catalog.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close catalog: %w", err))
	}

	d.status.Store(StatusStopped)
	d.logger.Info("intake service stopped", slog.Duration("uptime", time.Since(d.startTime)))
	return errors.Join(errs...)
}

// GetStatus returns the current lifecycle state.
func (d *Daemon) GetStatus() Status {
	status, ok := d.status.Load().(Status)
	if !ok {
		return StatusStopped
	}
	return status
}

// GetConfig returns the most recently applied configuration.
func (d *Daemon) GetConfig() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// GetStartTime reports when Start was called. Written before the listeners
// come up and never rewritten while they serve, so no lock: handlers read
// this during Stop while the write lock is held.
func (d *Daemon) GetStartTime() time.Time {
	return d.startTime
}

// DocumentsInFlight reports documents currently occupying pipeline slots.
func (d *Daemon) DocumentsInFlight() int {
	return d.coordinator.InFlight()
}

// SummariesRunning reports summary runs currently executing.
func (d *Daemon) SummariesRunning() int {
	return d.engine.RunningCount()
}

// Healthy reports whether the catalog is reachable.
func (d *Daemon) Healthy(ctx context.Context) error {
	return d.catalog.Ping(ctx)
}

// APIAddr returns the bound API listen address, empty before Start.
func (d *Daemon) APIAddr() string {
	return d.httpServer.APIAddr()
}

// AdminAddr returns the bound admin listen address, empty before Start.
func (d *Daemon) AdminAddr() string {
	return d.httpServer.AdminAddr()
}

// ReloadConfig applies the reloadable subset of a freshly loaded
// configuration: log level, janitor schedule, and the LLM model. Remaining
// changes keep their boot-time values until restart; the config watcher
// warns about those before calling this.
func (d *Daemon) ReloadConfig(ctx context.Context, newCfg *config.Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	oldCfg := d.cfg

	if d.logLevel != nil {
		oldLevel := config.NormalizeLogLevel(string(loggingSettings(oldCfg).Level))
		newLevel := config.NormalizeLogLevel(string(loggingSettings(newCfg).Level))
		if oldLevel != newLevel {
			d.logLevel.Set(observability.SlogLevel(newLevel))
			d.logger.Info("log level updated", slog.String("level", string(newLevel)))
		}
	}

	if newCfg.Janitor != oldCfg.Janitor {
		if err := d.sweeper.Reconfigure(newCfg.Janitor); err != nil {
			return fmt.Errorf("reconfigure janitor: %w", err)
		}
		d.logger.Info("janitor reconfigured",
			slog.String("interval", newCfg.Janitor.Interval),
			slog.String("intake_ttl", newCfg.Janitor.IntakeTTL))
	}

	if newCfg.LLM.Model != oldCfg.LLM.Model && sameLLMBackend(oldCfg.LLM, newCfg.LLM) {
		rebuilt, err := llm.New(newCfg.LLM)
		if err != nil {
			return fmt.Errorf("rebuild llm provider: %w", err)
		}
		d.provider.Swap(rebuilt)
		d.logger.Info("llm model updated", slog.String("model", newCfg.LLM.Model))
	}

	d.cfg = newCfg
	return nil
}

// sameLLMBackend reports whether two LLM configs differ at most in model.
func sameLLMBackend(a, b config.LLMConfig) bool {
	return a.Provider == b.Provider &&
		a.Command == b.Command &&
		slices.Equal(a.Args, b.Args) &&
		a.BaseURL == b.BaseURL &&
		a.APIKey == b.APIKey
}

func loggingSettings(cfg *config.Config) config.MonitoringLogging {
	if cfg.Monitoring == nil {
		return config.MonitoringLogging{}
	}
	return cfg.Monitoring.Logging
}
