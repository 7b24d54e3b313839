package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/yuin/goldmark"

	"github.com/caseloom/caseloom/internal/caseworkspace"
	"github.com/caseloom/caseloom/internal/catalog"
	clerrors "github.com/caseloom/caseloom/internal/foundation/errors"
	"github.com/caseloom/caseloom/internal/logfields"
	"github.com/caseloom/caseloom/internal/server/responses"
)

// maxNarrativeBytes caps the user narrative body.
const maxNarrativeBytes = 10 << 20

// CaseContextHandlers serves the per-case context artifacts: the generated
// summary and the user-authored narrative.
type CaseContextHandlers struct {
	catalog      *catalog.Catalog
	workspaces   *caseworkspace.Manager
	logger       *slog.Logger
	errorAdapter *clerrors.HTTPErrorAdapter
	markdown     goldmark.Markdown
}

// NewCaseContextHandlers creates the case context handler module.
func NewCaseContextHandlers(cat *catalog.Catalog, workspaces *caseworkspace.Manager, logger *slog.Logger) *CaseContextHandlers {
	return &CaseContextHandlers{
		catalog:      cat,
		workspaces:   workspaces,
		logger:       logger,
		errorAdapter: clerrors.NewHTTPErrorAdapter(logger),
		markdown:     goldmark.New(),
	}
}

// HandleGetSummary returns the current case summary. With ?format=html the
// markdown is rendered server side.
func (h *CaseContextHandlers) HandleGetSummary(w http.ResponseWriter, r *http.Request) {
	cs, ok := caseForOwner(w, r, h.catalog, h.errorAdapter, r.PathValue("id"))
	if !ok {
		return
	}

	ws := h.workspaces.CaseWorkspace(cs.ID)
	if !ws.SummaryExists() {
		h.errorAdapter.WriteErrorResponse(w, r, clerrors.NotFoundError("no summary has been generated for this case").
			WithContext("case_id", cs.ID).
			Build())
		return
	}
	content, err := ws.ReadSummary()
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, clerrors.WrapError(err, clerrors.CategoryFileSystem, "failed to read summary").
			WithContext("case_id", cs.ID).
			Build())
		return
	}

	format := "markdown"
	if r.URL.Query().Get("format") == "html" {
		var buf bytes.Buffer
		if err := h.markdown.Convert([]byte(content), &buf); err != nil {
			h.errorAdapter.WriteErrorResponse(w, r, clerrors.WrapError(err, clerrors.CategoryInternal, "failed to render summary").
				WithContext("case_id", cs.ID).
				Build())
			return
		}
		content = buf.String()
		format = "html"
	}

	resp := responses.SummaryResponse{
		CaseFileID:  cs.ID,
		Format:      format,
		Content:     content,
		Version:     cs.SummaryVersion,
		GeneratedAt: cs.SummaryGeneratedAt,
	}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, clerrors.WrapError(err, clerrors.CategoryInternal, "failed to write summary response").Build())
	}
}

// HandleGetNarrative returns the user-authored narrative for a case.
func (h *CaseContextHandlers) HandleGetNarrative(w http.ResponseWriter, r *http.Request) {
	cs, ok := caseForOwner(w, r, h.catalog, h.errorAdapter, r.PathValue("id"))
	if !ok {
		return
	}

	content, err := h.workspaces.CaseWorkspace(cs.ID).ReadNarrative()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			h.errorAdapter.WriteErrorResponse(w, r, clerrors.NotFoundError("no narrative has been written for this case").
				WithContext("case_id", cs.ID).
				Build())
			return
		}
		h.errorAdapter.WriteErrorResponse(w, r, clerrors.WrapError(err, clerrors.CategoryFileSystem, "failed to read narrative").
			WithContext("case_id", cs.ID).
			Build())
		return
	}

	resp := responses.NarrativeResponse{
		CaseFileID: cs.ID,
		Content:    content,
		UpdatedAt:  cs.NarrativeUpdatedAt,
	}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, clerrors.WrapError(err, clerrors.CategoryInternal, "failed to write narrative response").Build())
	}
}

type narrativeUpdateRequest struct {
	Content string `json:"content"`
}

// HandlePutNarrative replaces the narrative artifact. A case whose summary is
// grounded on the old narrative is marked stale in the catalog.
func (h *CaseContextHandlers) HandlePutNarrative(w http.ResponseWriter, r *http.Request) {
	cs, ok := caseForOwner(w, r, h.catalog, h.errorAdapter, r.PathValue("id"))
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxNarrativeBytes))
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, clerrors.ValidationError("narrative body unreadable or too large").
			UserAction().
			Build())
		return
	}
	var req narrativeUpdateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, clerrors.ValidationError("narrative body must be JSON with a content field").
			UserAction().
			Build())
		return
	}

	if err := h.workspaces.CaseWorkspace(cs.ID).WriteNarrative(req.Content); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, clerrors.WrapError(err, clerrors.CategoryFileSystem, "failed to write narrative").
			WithContext("case_id", cs.ID).
			Build())
		return
	}

	now := time.Now().UTC()
	if err := h.catalog.UpdateNarrative(r.Context(), cs.ID, now); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, clerrors.WrapError(err, clerrors.CategoryCatalog, "failed to record narrative update").
			WithContext("case_id", cs.ID).
			Build())
		return
	}

	h.logger.InfoContext(r.Context(), "Narrative updated",
		logfields.CaseID(cs.ID),
		slog.Int("bytes", len(req.Content)))

	resp := responses.NarrativeResponse{
		CaseFileID: cs.ID,
		Content:    req.Content,
		UpdatedAt:  &now,
	}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, clerrors.WrapError(err, clerrors.CategoryInternal, "failed to write narrative response").Build())
	}
}
