package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/caseloom/caseloom/internal/catalog"
	clerrors "github.com/caseloom/caseloom/internal/foundation/errors"
	"github.com/caseloom/caseloom/internal/logfields"
	"github.com/caseloom/caseloom/internal/server/responses"
	"github.com/caseloom/caseloom/internal/summary"
)

// SummaryHandlers serves the summary status endpoint and the three
// generation triggers.
type SummaryHandlers struct {
	catalog      *catalog.Catalog
	engine       *summary.Engine
	logger       *slog.Logger
	errorAdapter *clerrors.HTTPErrorAdapter
}

// NewSummaryHandlers creates the summary handler module.
func NewSummaryHandlers(cat *catalog.Catalog, engine *summary.Engine, logger *slog.Logger) *SummaryHandlers {
	return &SummaryHandlers{
		catalog:      cat,
		engine:       engine,
		logger:       logger,
		errorAdapter: clerrors.NewHTTPErrorAdapter(logger),
	}
}

// HandleStatus reports where the case summary stands.
func (h *SummaryHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	cs, ok := caseForOwner(w, r, h.catalog, h.errorAdapter, r.PathValue("id"))
	if !ok {
		return
	}
	resp := responses.SummaryStatusResponse{
		Status:        summaryStatusLabel(cs.SummaryStatus),
		Version:       cs.SummaryVersion,
		GeneratedAt:   cs.SummaryGeneratedAt,
		DocumentCount: cs.SummaryDocumentCount,
	}
	if err := writeJSONPretty(w, r, http.StatusOK, resp); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, clerrors.WrapError(err, clerrors.CategoryInternal, "failed to write summary status").Build())
	}
}

// HandleGenerate admits a fresh summary run.
func (h *SummaryHandlers) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, h.engine.Generate, false)
}

// HandleUpdate admits an incremental run folding in documents uploaded since
// the last summary.
func (h *SummaryHandlers) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, h.engine.Update, true)
}

// HandleRegenerate admits a from-scratch rebuild, backing up the previous
// summary first.
func (h *SummaryHandlers) HandleRegenerate(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, h.engine.Regenerate, false)
}

// trigger runs the shared admission path. Input problems are rejected here,
// synchronously and without touching the case's summary status; the engine
// rechecks them once the run owns the generating gate.
func (h *SummaryHandlers) trigger(w http.ResponseWriter, r *http.Request, admit func(ctx context.Context, caseID string) error, needsExisting bool) {
	cs, ok := caseForOwner(w, r, h.catalog, h.errorAdapter, r.PathValue("id"))
	if !ok {
		return
	}

	stats, err := h.catalog.Stats(r.Context(), cs.ID)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, clerrors.WrapError(err, clerrors.CategoryCatalog, "failed to load document stats").
			WithContext("case_id", cs.ID).
			Build())
		return
	}
	if stats.Complete == 0 {
		h.errorAdapter.WriteErrorResponse(w, r, clerrors.ValidationError("no completed documents to summarize").
			WithContext("case_id", cs.ID).
			UserAction().
			Build())
		return
	}
	if needsExisting && cs.SummaryGeneratedAt == nil {
		h.errorAdapter.WriteErrorResponse(w, r, clerrors.ValidationError("no existing summary to update").
			WithContext("case_id", cs.ID).
			UserAction().
			Build())
		return
	}

	if err := admit(r.Context(), cs.ID); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "Summary run admitted", logfields.CaseID(cs.ID))
	if err := writeJSON(w, http.StatusAccepted, responses.TriggerResponse{Success: true}); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, clerrors.WrapError(err, clerrors.CategoryInternal, "failed to write trigger response").Build())
	}
}

// summaryStatusLabel renders the catalog status for the API; the zero status
// reads as "none".
func summaryStatusLabel(s catalog.SummaryStatus) string {
	if s == catalog.SummaryNone {
		return "none"
	}
	return string(s)
}
