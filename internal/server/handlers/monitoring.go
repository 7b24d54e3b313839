package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	clerrors "github.com/caseloom/caseloom/internal/foundation/errors"
	"github.com/caseloom/caseloom/internal/observability"
	"github.com/caseloom/caseloom/internal/server/responses"
	"github.com/caseloom/caseloom/internal/version"
)

// MonitoringHandlers contains the admin health and metrics handlers.
type MonitoringHandlers struct {
	daemon       DaemonInterface
	metrics      http.Handler // Prometheus exposition, may be nil
	collector    *observability.MetricsCollector
	errorAdapter *clerrors.HTTPErrorAdapter
}

// DaemonInterface defines the daemon methods needed by monitoring handlers.
type DaemonInterface interface {
	GetStartTime() time.Time
	DocumentsInFlight() int
	SummariesRunning() int
	// Healthy returns nil when the service can reach its dependencies.
	Healthy(ctx context.Context) error
}

// NewMonitoringHandlers creates a new monitoring handlers instance.
func NewMonitoringHandlers(daemon DaemonInterface, metrics http.Handler, collector *observability.MetricsCollector, logger *slog.Logger) *MonitoringHandlers {
	return &MonitoringHandlers{
		daemon:       daemon,
		metrics:      metrics,
		collector:    collector,
		errorAdapter: clerrors.NewHTTPErrorAdapter(logger),
	}
}

// HandleHealthCheck reports liveness plus a dependency reachability check.
// A degraded service answers 503 with the same body shape.
func (h *MonitoringHandlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := &responses.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   version.Version,
	}
	status := http.StatusOK

	if h.daemon != nil {
		health.Uptime = time.Since(h.daemon.GetStartTime()).Seconds()
		health.DocumentsInFlight = h.daemon.DocumentsInFlight()
		health.SummariesRunning = h.daemon.SummariesRunning()
		if err := h.daemon.Healthy(r.Context()); err != nil {
			health.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	if err := writeJSONPretty(w, r, status, health); err != nil {
		internalErr := clerrors.WrapError(err, clerrors.CategoryInternal, "failed to write health response").
			Build()
		h.errorAdapter.WriteErrorResponse(w, r, internalErr)
	}
}

// HandleMetrics serves the Prometheus exposition endpoint.
func (h *MonitoringHandlers) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		http.NotFound(w, r)
		return
	}
	h.metrics.ServeHTTP(w, r)
}

// HandleMetricsSnapshot returns the in-process aggregate counters as JSON,
// for quick inspection without a Prometheus scrape.
func (h *MonitoringHandlers) HandleMetricsSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.collector == nil {
		http.NotFound(w, r)
		return
	}
	if err := writeJSONPretty(w, r, http.StatusOK, h.collector.GetSnapshot()); err != nil {
		internalErr := clerrors.WrapError(err, clerrors.CategoryInternal, "failed to write metrics snapshot").
			Build()
		h.errorAdapter.WriteErrorResponse(w, r, internalErr)
	}
}
