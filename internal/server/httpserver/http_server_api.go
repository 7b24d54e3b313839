package httpserver

import (
	"net"
	"net/http"
	"time"
)

// buildAPIMux assembles the authenticated API route table.
func (s *Server) buildAPIMux() *http.ServeMux {
	mux := http.NewServeMux()

	// Document intake and retrieval
	mux.HandleFunc("POST /api/cases/{id}/documents/upload", s.documentHandlers.HandleUpload)
	mux.HandleFunc("GET /api/cases/{id}/documents", s.documentHandlers.HandleList)
	mux.HandleFunc("GET /api/cases/{id}/documents/stats", s.documentHandlers.HandleStats)
	mux.HandleFunc("GET /api/documents/{id}", s.documentHandlers.HandleGet)
	mux.HandleFunc("GET /api/documents/{id}/preview-url", s.documentHandlers.HandlePreviewURL)
	mux.HandleFunc("GET /api/documents/{id}/download-url", s.documentHandlers.HandleDownloadURL)
	mux.HandleFunc("GET /api/documents/{id}/download", s.documentHandlers.HandleDownload)
	mux.HandleFunc("DELETE /api/documents/{id}", s.documentHandlers.HandleDelete)

	// Case context artifacts
	mux.HandleFunc("GET /api/cases/{id}/summary", s.caseContextHandlers.HandleGetSummary)
	mux.HandleFunc("GET /api/cases/{id}/narrative", s.caseContextHandlers.HandleGetNarrative)
	mux.HandleFunc("PUT /api/cases/{id}/narrative", s.caseContextHandlers.HandlePutNarrative)

	// Summary lifecycle
	mux.HandleFunc("GET /api/cases/{id}/summary/status", s.summaryHandlers.HandleStatus)
	mux.HandleFunc("POST /api/cases/{id}/summary/generate", s.summaryHandlers.HandleGenerate)
	mux.HandleFunc("POST /api/cases/{id}/summary/update", s.summaryHandlers.HandleUpdate)
	mux.HandleFunc("POST /api/cases/{id}/summary/regenerate", s.summaryHandlers.HandleRegenerate)

	// Progress stream
	mux.HandleFunc("GET /api/ws", s.socketHandlers.HandleSocket)

	return mux
}

// apiHandler wraps the route table in the auth and observability middleware.
func (s *Server) apiHandler() http.Handler {
	return s.mchain(s.authmw(s.buildAPIMux()))
}

// startAPIServerWithListener starts serving the API surface.
//
// Uploads stream up to the request ceiling and websockets stay open for
// hours; global read/write timeouts would cut both off. Per-request limits
// are enforced in the handlers.
func (s *Server) startAPIServerWithListener(ln net.Listener) {
	s.apiServer = &http.Server{
		Handler:           s.apiHandler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.startServerWithListener("api", s.apiServer, ln)
}
