package httpserver

import (
	"net"
	"net/http"
	"time"
)

// buildAdminMux assembles the unauthenticated operational surface: health,
// readiness, and metrics.
func (s *Server) buildAdminMux() *http.ServeMux {
	mux := http.NewServeMux()

	healthPath := "/healthz"
	metricsPath := "/metrics"
	metricsEnabled := true
	if s.cfg.Monitoring != nil {
		if p := s.cfg.Monitoring.Health.Path; p != "" {
			healthPath = p
		}
		if p := s.cfg.Monitoring.Metrics.Path; p != "" {
			metricsPath = p
		}
		metricsEnabled = s.cfg.Monitoring.Metrics.Enabled
	}

	mux.HandleFunc("GET "+healthPath, s.monitoringHandlers.HandleHealthCheck)
	if healthPath != "/healthz" {
		mux.HandleFunc("GET /healthz", s.monitoringHandlers.HandleHealthCheck) // Kubernetes-style alias
	}
	mux.HandleFunc("GET /readyz", s.handleReadiness)

	if metricsEnabled {
		mux.HandleFunc("GET "+metricsPath, s.monitoringHandlers.HandleMetrics)
		mux.HandleFunc("GET /metrics/snapshot", s.monitoringHandlers.HandleMetricsSnapshot)
	}

	return mux
}

// adminHandler wraps the admin mux in the observability middleware. No auth;
// the admin listener is expected to stay private.
func (s *Server) adminHandler() http.Handler {
	return s.mchain(s.buildAdminMux())
}

func (s *Server) startAdminServerWithListener(ln net.Listener) {
	s.adminServer = &http.Server{Handler: s.adminHandler(), ReadTimeout: 30 * time.Second, WriteTimeout: 30 * time.Second, IdleTimeout: 120 * time.Second}
	s.startServerWithListener("admin", s.adminServer, ln)
}

// handleReadiness answers ready once the daemon can reach its dependencies.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.daemon == nil || s.daemon.Healthy(r.Context()) == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready: dependencies unreachable"))
}
