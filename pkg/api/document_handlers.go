package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/caseload/pkg/auth"
	"github.com/platinummonkey/caseload/pkg/documents"
	"github.com/platinummonkey/caseload/pkg/httputil"
	"github.com/platinummonkey/caseload/pkg/rbac"
)

const uploadMemoryBytes = 8 << 20

// DocumentHandlers serves document upload, download and deletion
type DocumentHandlers struct {
	docs      DocumentService
	checker   rbac.Checker
	logger    *logrus.Logger
	limitHook LimitHook
	maxBytes  int64
}

// NewDocumentHandlers creates new document handlers
func NewDocumentHandlers(docs DocumentService, checker rbac.Checker, logger *logrus.Logger, hook LimitHook, maxBytes int64) *DocumentHandlers {
	return &DocumentHandlers{
		docs:      docs,
		checker:   checker,
		logger:    logger,
		limitHook: hook,
		maxBytes:  maxBytes,
	}
}

// RegisterRoutes registers document routes
func (h *DocumentHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/documents", h.List).Methods("GET")
	router.HandleFunc("/documents", h.Upload).Methods("POST")
	router.HandleFunc("/documents/{document_id}", h.Get).Methods("GET")
	router.HandleFunc("/documents/{document_id}/content", h.Download).Methods("GET")
	router.HandleFunc("/documents/{document_id}", h.Delete).Methods("DELETE")
}

// List returns one page of the documents visible to the caller
func (h *DocumentHandlers) List(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	page, ok := httputil.ParsePaginationOrError(w, r)
	if !ok {
		return
	}

	scope, err := h.checker.AccessibleResourceIDs(r.Context(), authCtx.UserID, authCtx.FirmID, rbac.ResourceDocument)
	if err != nil {
		writeError(w, r, h.limitHook, err, "failed to list documents")
		return
	}
	if scope.None() {
		httputil.WriteEmptyPage(w, page)
		return
	}

	docs, total, err := h.docs.List(r.Context(), authCtx.FirmID, scope, documents.ListOptions{
		Limit:  page.Limit,
		Offset: page.Offset,
		CaseID: r.URL.Query().Get("case_id"),
	})
	if err != nil {
		writeError(w, r, h.limitHook, err, "failed to list documents")
		return
	}
	httputil.WritePage(w, docs, total, page)
}

// Upload stores the "file" part of a multipart form. The firm's storage
// ceiling is checked against the part's size before any bytes are kept.
func (h *DocumentHandlers) Upload(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	if !h.canUpload(w, r, authCtx) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(uploadMemoryBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteErrorMessage(w, http.StatusRequestEntityTooLarge,
				"upload exceeds "+strconv.FormatInt(h.maxBytes, 10)+" bytes")
			return
		}
		httputil.WriteBadRequest(w, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteBadRequest(w, "file is required")
		return
	}
	defer file.Close()

	doc, err := h.docs.Upload(r.Context(), authCtx.UserID, authCtx.FirmID, uploadInput(r, file, header))
	if err != nil {
		writeError(w, r, h.limitHook, err, "failed to upload document")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"firm_id":     authCtx.FirmID,
		"user_id":     authCtx.UserID,
		"document_id": doc.ID,
		"bytes":       doc.SizeBytes,
	}).Info("document uploaded")
	httputil.WriteCreated(w, doc)
}

func uploadInput(r *http.Request, file multipart.File, header *multipart.FileHeader) documents.UploadInput {
	in := documents.UploadInput{
		Name:        r.FormValue("name"),
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	}
	if in.Name == "" {
		in.Name = header.Filename
	}
	if caseID := r.FormValue("case_id"); caseID != "" {
		in.CaseID = &caseID
	}
	return in
}

// Get returns document metadata
func (h *DocumentHandlers) Get(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())
	id := mux.Vars(r)["document_id"]

	if !h.authorize(w, r, authCtx, id, rbac.ActionView) {
		return
	}

	doc, err := h.docs.Get(r.Context(), authCtx.FirmID, id)
	if err != nil {
		writeError(w, r, h.limitHook, err, "failed to get document")
		return
	}
	httputil.WriteSuccess(w, doc)
}

// Download streams the document content
func (h *DocumentHandlers) Download(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())
	id := mux.Vars(r)["document_id"]

	if !h.authorize(w, r, authCtx, id, rbac.ActionView) {
		return
	}

	doc, body, err := h.docs.Open(r.Context(), authCtx.FirmID, id)
	if err != nil {
		writeError(w, r, h.limitHook, err, "failed to open document")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(doc.SizeBytes, 10))
	w.Header().Set("Content-Disposition", `attachment; filename="`+sanitizeFilename(doc.Name)+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WithError(err).WithField("document_id", id).Warn("document download interrupted")
	}
}

// Delete removes a document and releases its bytes from the firm's usage
func (h *DocumentHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())
	id := mux.Vars(r)["document_id"]

	if !h.authorize(w, r, authCtx, id, rbac.ActionDelete) {
		return
	}

	if err := h.docs.Delete(r.Context(), authCtx.FirmID, id); err != nil {
		writeError(w, r, h.limitHook, err, "failed to delete document")
		return
	}
	httputil.WriteNoContent(w)
}

func (h *DocumentHandlers) canUpload(w http.ResponseWriter, r *http.Request, authCtx *auth.Context) bool {
	allowed, err := h.checker.RequirePermission(r.Context(), authCtx.UserID, authCtx.FirmID, rbac.PermDocumentsUpload)
	if err == nil && !allowed {
		allowed, err = h.checker.RequireResourcePermission(r.Context(), authCtx.UserID, authCtx.FirmID,
			rbac.ResourceDocument, rbac.Wildcard, rbac.ActionCreate)
	}
	if err != nil {
		writeError(w, r, h.limitHook, err, "permission check failed")
		return false
	}
	if !allowed {
		denied(w, r, authCtx.UserID, logrus.Fields{"resource": rbac.ResourceDocument, "action": rbac.ActionCreate})
		return false
	}
	return true
}

func (h *DocumentHandlers) authorize(w http.ResponseWriter, r *http.Request, authCtx *auth.Context, id, action string) bool {
	allowed, err := h.checker.RequireResourcePermission(r.Context(), authCtx.UserID, authCtx.FirmID, rbac.ResourceDocument, id, action)
	if err != nil {
		writeError(w, r, h.limitHook, err, "permission check failed")
		return false
	}
	if !allowed {
		denied(w, r, authCtx.UserID, logrus.Fields{"resource": rbac.ResourceDocument, "document_id": id, "action": action})
		return false
	}
	return true
}

func sanitizeFilename(name string) string {
	out := make([]rune, 0, len(name))
	for _, c := range name {
		if c == '"' || c == '\\' || c < 0x20 {
			c = '_'
		}
		out = append(out, c)
	}
	return string(out)
}
