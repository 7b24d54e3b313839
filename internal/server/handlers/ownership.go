package handlers

import (
	"errors"
	"net/http"

	"github.com/caseloom/caseloom/internal/auth"
	"github.com/caseloom/caseloom/internal/catalog"
	clerrors "github.com/caseloom/caseloom/internal/foundation/errors"
)

// caseForOwner loads a case and checks that the authenticated user owns it.
// On failure the error response is already written and ok is false. A missing
// case is 404; a case owned by someone else is 403.
func caseForOwner(w http.ResponseWriter, r *http.Request, cat *catalog.Catalog, adapter *clerrors.HTTPErrorAdapter, caseID string) (catalog.Case, bool) {
	cs, err := cat.GetCase(r.Context(), caseID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			adapter.WriteErrorResponse(w, r, clerrors.NotFoundError("case file not found").
				WithContext("case_id", caseID).
				Build())
		} else {
			adapter.WriteErrorResponse(w, r, clerrors.WrapError(err, clerrors.CategoryCatalog, "failed to load case file").
				WithContext("case_id", caseID).
				Build())
		}
		return catalog.Case{}, false
	}
	if !ownedBy(r, cs) {
		adapter.WriteErrorResponse(w, r, clerrors.ForbiddenError("case file belongs to another user").
			WithContext("case_id", caseID).
			Build())
		return catalog.Case{}, false
	}
	return cs, true
}

// documentForOwner loads a document and the case it belongs to, checking
// ownership through the case.
func documentForOwner(w http.ResponseWriter, r *http.Request, cat *catalog.Catalog, adapter *clerrors.HTTPErrorAdapter, docID string) (catalog.Document, catalog.Case, bool) {
	doc, err := cat.GetDocument(r.Context(), docID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			adapter.WriteErrorResponse(w, r, clerrors.NotFoundError("document not found").
				WithContext("document_id", docID).
				Build())
		} else {
			adapter.WriteErrorResponse(w, r, clerrors.WrapError(err, clerrors.CategoryCatalog, "failed to load document").
				WithContext("document_id", docID).
				Build())
		}
		return catalog.Document{}, catalog.Case{}, false
	}
	cs, ok := caseForOwner(w, r, cat, adapter, doc.CaseID)
	if !ok {
		return catalog.Document{}, catalog.Case{}, false
	}
	return doc, cs, true
}

func ownedBy(r *http.Request, cs catalog.Case) bool {
	identity, ok := auth.IdentityFrom(r.Context())
	return ok && identity.UserID == cs.UserID
}
