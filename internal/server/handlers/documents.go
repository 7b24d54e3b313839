package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/caseloom/caseloom/internal/blob"
	"github.com/caseloom/caseloom/internal/caseworkspace"
	"github.com/caseloom/caseloom/internal/catalog"
	"github.com/caseloom/caseloom/internal/config"
	clerrors "github.com/caseloom/caseloom/internal/foundation/errors"
	"github.com/caseloom/caseloom/internal/index"
	"github.com/caseloom/caseloom/internal/logfields"
	"github.com/caseloom/caseloom/internal/metrics"
	"github.com/caseloom/caseloom/internal/pipeline"
	"github.com/caseloom/caseloom/internal/server/responses"
)

// DocumentHandlers serves the document intake and retrieval endpoints.
type DocumentHandlers struct {
	catalog      *catalog.Catalog
	workspaces   *caseworkspace.Manager
	blobs        blob.Store // nil when blob storage is disabled
	coordinator  *pipeline.Coordinator
	indexer      index.Client
	recorder     metrics.Recorder
	logger       *slog.Logger
	errorAdapter *clerrors.HTTPErrorAdapter

	uploadTimeout  time.Duration
	maxUploadBytes int64
	presignExpiry  time.Duration
}

// NewDocumentHandlers creates the document handler module. blobs may be nil,
// in which case every document runs in local-only mode.
func NewDocumentHandlers(cfg *config.Config, cat *catalog.Catalog, workspaces *caseworkspace.Manager, blobs blob.Store, coordinator *pipeline.Coordinator, indexer index.Client, recorder metrics.Recorder, logger *slog.Logger) *DocumentHandlers {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &DocumentHandlers{
		catalog:        cat,
		workspaces:     workspaces,
		blobs:          blobs,
		coordinator:    coordinator,
		indexer:        indexer,
		recorder:       recorder,
		logger:         logger,
		errorAdapter:   clerrors.NewHTTPErrorAdapter(logger),
		uploadTimeout:  config.Duration(cfg.Server.UploadTimeout, 120*time.Second),
		maxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
		presignExpiry:  config.Duration(cfg.Blob.PresignExpiry, time.Hour),
	}
}

// HandleUpload accepts one multipart file, stages it, records the catalog
// row, and launches the processing pipeline. The response returns as soon as
// the document is admitted; progress is delivered over the websocket.
func (h *DocumentHandlers) HandleUpload(w http.ResponseWriter, r *http.Request) {
	cs, ok := caseForOwner(w, r, h.catalog, h.errorAdapter, r.PathValue("id"))
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.uploadTimeout)
	defer cancel()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.errorAdapter.WriteErrorResponse(w, r, clerrors.ValidationError(
				fmt.Sprintf("upload exceeds the %d MB limit", h.maxUploadBytes>>20)).
				UserAction().
				Build())
			return
		}
		h.errorAdapter.WriteErrorResponse(w, r, clerrors.ValidationError("multipart form must carry a single file field").
			UserAction().
			Build())
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	fileType := catalog.FileTypeFromFilename(filename)
	if fileType == catalog.FileTypeUnknown {
		h.errorAdapter.WriteErrorResponse(w, r, clerrors.ValidationError(
			fmt.Sprintf("unsupported file type %q; supported types: %s",
				strings.TrimPrefix(filepath.Ext(filename), "."), supportedTypesList())).
			WithContext("filename", filename).
			UserAction().
			Build())
		return
	}

	docID := uuid.NewString()
	ws := h.workspaces.CaseWorkspace(cs.ID)

	staged, err := ws.StageIntake(docID+"-"+filename, file)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, clerrors.WrapError(err, clerrors.CategoryFileSystem, "failed to stage uploaded file").
			WithContext("document_id", docID).
			Build())
		return
	}

	folderName, err := ws.AllocateDocumentDir(filename)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, clerrors.WrapError(err, clerrors.CategoryFileSystem, "failed to allocate document directory").
			WithContext("document_id", docID).
			Build())
		return
	}

	doc := catalog.Document{
		ID:               docID,
		CaseID:           cs.ID,
		Filename:         filename,
		FolderName:       folderName,
		FileType:         fileType,
		ProcessingStatus: catalog.StatusPending,
		ContentType:      fileType.ContentType(),
		FileSizeBytes:    header.Size,
	}

	// Blob upload failures degrade to local-only storage; the pipeline and
	// local download path do not depend on the blob store.
	if h.blobs != nil {
		key := blob.ObjectKey(cs.UserID, cs.ID, docID, string(fileType))
		res, err := h.putStaged(ctx, key, staged, header.Size, doc.ContentType)
		if err != nil {
			h.logger.WarnContext(ctx, "Blob upload failed, document stored locally only",
				logfields.DocumentID(docID),
				logfields.CaseID(cs.ID),
				logfields.Error(err))
		} else {
			doc.BlobKey = res.Key
			doc.BlobBucket = res.Bucket
			doc.BlobVersionID = res.VersionID
			doc.BlobUploadedAt = &res.UploadedAt
		}
	}

	if err := h.catalog.CreateDocument(ctx, doc); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, clerrors.WrapError(err, clerrors.CategoryCatalog, "failed to record document").
			WithContext("document_id", docID).
			Build())
		return
	}

	h.coordinator.Launch(pipeline.Task{
		CaseID:     cs.ID,
		DocumentID: docID,
		UserID:     cs.UserID,
		Filename:   filename,
		FolderName: folderName,
		FileType:   fileType,
		StagedPath: staged,
	})
	h.recorder.ObserveUploadBytes(header.Size)

	h.logger.InfoContext(ctx, "Document upload accepted",
		logfields.DocumentID(docID),
		logfields.CaseID(cs.ID),
		logfields.Filename(filename),
		slog.Int64("size_bytes", header.Size))

	resp := responses.UploadResponse{Success: true, DocumentID: docID, S3Key: doc.BlobKey}
	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, clerrors.WrapError(err, clerrors.CategoryInternal, "failed to write upload response").Build())
	}
}

// putStaged uploads the staged file to the blob store.
func (h *DocumentHandlers) putStaged(ctx context.Context, key, staged string, size int64, contentType string) (blob.PutResult, error) {
	f, err := os.Open(staged)
	if err != nil {
		return blob.PutResult{}, fmt.Errorf("open staged file: %w", err)
	}
	defer f.Close()
	return h.blobs.Put(ctx, key, f, size, contentType)
}

// HandleList returns every document of a case, newest upload last.
func (h *DocumentHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	cs, ok := caseForOwner(w, r, h.catalog, h.errorAdapter, r.PathValue("id"))
	if !ok {
		return
	}
	docs, err := h.catalog.ListDocuments(r.Context(), cs.ID)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, clerrors.WrapError(err, clerrors.CategoryCatalog, "failed to list documents").
			WithContext("case_id", cs.ID).
			Build())
		return
	}
	if err := writeJSONPretty(w, r, http.StatusOK, responses.NewDocumentViews(docs)); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, clerrors.WrapError(err, clerrors.CategoryInternal, "failed to write document list").Build())
	}
}

// HandleGet returns one document row.
func (h *DocumentHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	doc, _, ok := documentForOwner(w, r, h.catalog, h.errorAdapter, r.PathValue("id"))
	if !ok {
		return
	}
	if err := writeJSONPretty(w, r, http.StatusOK, responses.NewDocumentView(doc)); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, clerrors.WrapError(err, clerrors.CategoryInternal, "failed to write document").Build())
	}
}

// HandleStats returns the per-status document counts for a case.
func (h *DocumentHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {
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
	if err := writeJSONPretty(w, r, http.StatusOK, stats); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, clerrors.WrapError(err, clerrors.CategoryInternal, "failed to write stats").Build())
	}
}

// HandlePreviewURL returns a link for rendering the document inline. Blob-held
// documents get a presigned URL; local-only documents get an IsLocal link
// served by this process.
func (h *DocumentHandlers) HandlePreviewURL(w http.ResponseWriter, r *http.Request) {
	doc, _, ok := documentForOwner(w, r, h.catalog, h.errorAdapter, r.PathValue("id"))
	if !ok {
		return
	}

	resp := responses.PreviewURLResponse{
		ContentType: doc.ContentType,
		PreviewType: previewTypeFor(doc.FileType),
		Filename:    doc.Filename,
		ExpiresIn:   int(h.presignExpiry.Seconds()),
	}
	if h.blobs != nil && doc.BlobKey != "" {
		url, err := h.blobs.PresignGet(r.Context(), doc.BlobKey, blob.PresignOptions{
			Disposition: blob.DispositionInline,
			Filename:    doc.Filename,
			Expiry:      h.presignExpiry,
		})
		if err != nil {
			h.errorAdapter.WriteErrorResponse(w, r, clerrors.WrapError(err, clerrors.CategoryBlob, "failed to presign preview URL").
				WithContext("document_id", doc.ID).
				Retryable().
				Build())
			return
		}
		resp.URL = url
	} else {
		resp.URL = fmt.Sprintf("/api/documents/%s/download?disposition=inline", doc.ID)
		resp.IsLocal = true
	}

	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, clerrors.WrapError(err, clerrors.CategoryInternal, "failed to write preview URL").Build())
	}
}

// HandleDownloadURL returns a link that downloads the original file as an
// attachment.
func (h *DocumentHandlers) HandleDownloadURL(w http.ResponseWriter, r *http.Request) {
	doc, _, ok := documentForOwner(w, r, h.catalog, h.errorAdapter, r.PathValue("id"))
	if !ok {
		return
	}

	resp := responses.DownloadURLResponse{
		Filename:  doc.Filename,
		ExpiresIn: int(h.presignExpiry.Seconds()),
	}
	if h.blobs != nil && doc.BlobKey != "" {
		url, err := h.blobs.PresignGet(r.Context(), doc.BlobKey, blob.PresignOptions{
			Disposition: blob.DispositionAttachment,
			Filename:    doc.Filename,
			Expiry:      h.presignExpiry,
		})
		if err != nil {
			h.errorAdapter.WriteErrorResponse(w, r, clerrors.WrapError(err, clerrors.CategoryBlob, "failed to presign download URL").
				WithContext("document_id", doc.ID).
				Retryable().
				Build())
			return
		}
		resp.URL = url
	} else {
		resp.URL = fmt.Sprintf("/api/documents/%s/download", doc.ID)
	}

	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, clerrors.WrapError(err, clerrors.CategoryInternal, "failed to write download URL").Build())
	}
}

// HandleDownload streams the original bytes. The local workspace copy is
// preferred; the blob store is the fallback for documents whose folder was
// cleaned up locally.
func (h *DocumentHandlers) HandleDownload(w http.ResponseWriter, r *http.Request) {
	doc, cs, ok := documentForOwner(w, r, h.catalog, h.errorAdapter, r.PathValue("id"))
	if !ok {
		return
	}

	disposition := "attachment"
	if r.URL.Query().Get("disposition") == "inline" {
		disposition = "inline"
	}
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType(disposition, map[string]string{"filename": doc.Filename}))

	ws := h.workspaces.CaseWorkspace(cs.ID)
	local := ws.OriginalPath(doc.FolderName, string(doc.FileType))
	if _, err := os.Stat(local); err == nil {
		http.ServeFile(w, r, local)
		return
	}

	// Before the pipeline promotes the staged file the original still sits
	// in intake.
	staged := filepath.Join(ws.IntakeDir(), doc.ID+"-"+doc.Filename)
	if _, err := os.Stat(staged); err == nil {
		http.ServeFile(w, r, staged)
		return
	}

	if h.blobs != nil && doc.BlobKey != "" {
		rc, err := h.blobs.Get(r.Context(), doc.BlobKey)
		if err != nil {
			h.errorAdapter.WriteErrorResponse(w, r, clerrors.WrapError(err, clerrors.CategoryBlob, "failed to fetch original from blob store").
				WithContext("document_id", doc.ID).
				Retryable().
				Build())
			return
		}
		defer rc.Close()
		if _, err := io.Copy(w, rc); err != nil {
			h.logger.WarnContext(r.Context(), "Download stream interrupted",
				logfields.DocumentID(doc.ID),
				logfields.Error(err))
		}
		return
	}

	h.errorAdapter.WriteErrorResponse(w, r, clerrors.NotFoundError("original file is no longer available").
		WithContext("document_id", doc.ID).
		Build())
}

// HandleDelete removes a document everywhere. Blob, workspace, and retrieval
// cleanup failures are logged and never block the catalog delete; the row is
// always removed last so a partial delete remains visible and repeatable.
func (h *DocumentHandlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	doc, cs, ok := documentForOwner(w, r, h.catalog, h.errorAdapter, r.PathValue("id"))
	if !ok {
		return
	}
	ctx := r.Context()

	h.coordinator.CancelDocument(cs.ID, doc.ID)

	if h.blobs != nil && doc.BlobKey != "" {
		if err := h.blobs.RemovePrefix(ctx, blob.DocumentPrefix(cs.UserID, cs.ID, doc.ID)); err != nil {
			h.logger.WarnContext(ctx, "Blob cleanup failed during delete",
				logfields.DocumentID(doc.ID),
				logfields.Error(err))
		}
	}

	ws := h.workspaces.CaseWorkspace(cs.ID)
	if doc.FolderName != "" {
		if err := ws.RemoveDocument(doc.FolderName); err != nil {
			h.logger.WarnContext(ctx, "Workspace cleanup failed during delete",
				logfields.DocumentID(doc.ID),
				logfields.Error(err))
		}
	}
	staged := filepath.Join(ws.IntakeDir(), doc.ID+"-"+doc.Filename)
	if err := os.Remove(staged); err != nil && !os.IsNotExist(err) {
		h.logger.WarnContext(ctx, "Intake cleanup failed during delete",
			logfields.DocumentID(doc.ID),
			logfields.Error(err))
	}

	if err := h.indexer.Unregister(ctx, cs.ID, doc.ID); err != nil && !errors.Is(err, index.ErrNotFound) {
		h.logger.WarnContext(ctx, "Retrieval store cleanup failed during delete",
			logfields.DocumentID(doc.ID),
			logfields.Error(err))
	}

	deleted, err := h.catalog.DeleteDocument(ctx, doc.ID)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, clerrors.WrapError(err, clerrors.CategoryCatalog, "failed to delete document").
			WithContext("document_id", doc.ID).
			Build())
		return
	}
	if !deleted {
		h.errorAdapter.WriteErrorResponse(w, r, clerrors.NotFoundError("document not found").
			WithContext("document_id", doc.ID).
			Build())
		return
	}

	h.recorder.IncDocumentOutcome("deleted")
	h.logger.InfoContext(ctx, "Document deleted",
		logfields.DocumentID(doc.ID),
		logfields.CaseID(cs.ID))

	if err := writeJSON(w, http.StatusOK, responses.DeleteResponse{Success: true}); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, clerrors.WrapError(err, clerrors.CategoryInternal, "failed to write delete response").Build())
	}
}

// previewTypeFor maps a file format to the rendering hint used by clients.
func previewTypeFor(t catalog.FileType) string {
	switch t {
	case catalog.FileTypePDF:
		return "pdf"
	case catalog.FileTypeJPG, catalog.FileTypePNG:
		return "image"
	case catalog.FileTypeMP3, catalog.FileTypeWAV, catalog.FileTypeM4A:
		return "audio"
	case catalog.FileTypeTXT, catalog.FileTypeMD:
		return "text"
	case catalog.FileTypeDOCX:
		return "document"
	default:
		return "file"
	}
}

func supportedTypesList() string {
	types := catalog.SupportedFileTypes()
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}
