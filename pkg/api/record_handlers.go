package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/caseload/pkg/auth"
	"github.com/platinummonkey/caseload/pkg/httputil"
	"github.com/platinummonkey/caseload/pkg/practice"
	"github.com/platinummonkey/caseload/pkg/rbac"
)

// Record is a practice record pointer such as *practice.Client
type Record interface {
	Meta() *practice.Base
}

// RecordStore is a firm-scoped practice table. *practice.Repository
// implements it.
type RecordStore[P Record] interface {
	Create(ctx context.Context, firmID, createdBy string, rec P) error
	Get(ctx context.Context, firmID, id string) (P, error)
	List(ctx context.Context, firmID string, scope rbac.ResourceScope, opts practice.ListOptions) ([]P, int, error)
	Update(ctx context.Context, firmID string, rec P) error
	Delete(ctx context.Context, firmID, id string) error
	Exists(ctx context.Context, firmID, id string) (bool, error)
}

// RecordRoutes describes one practice collection
type RecordRoutes[P Record] struct {
	Path      string
	Param     string
	Resource  rbac.ResourceType
	CreateKey rbac.PermissionKey
	New       func() P
	// Check validates references to other records before a write
	Check func(ctx context.Context, firmID string, rec P) error
}

// RecordHandlers serves list, create, get, update and delete for one
// practice collection. Lists are narrowed to the caller's visible ids;
// every other route checks the resource policy for the record itself.
type RecordHandlers[P Record] struct {
	routes  RecordRoutes[P]
	store   RecordStore[P]
	checker rbac.Checker
	logger  *logrus.Logger
}

// NewRecordHandlers creates handlers for one practice collection
func NewRecordHandlers[P Record](routes RecordRoutes[P], store RecordStore[P], checker rbac.Checker, logger *logrus.Logger) *RecordHandlers[P] {
	return &RecordHandlers[P]{routes: routes, store: store, checker: checker, logger: logger}
}

// RegisterRoutes registers the collection routes
func (h *RecordHandlers[P]) RegisterRoutes(router *mux.Router) {
	item := h.routes.Path + "/{" + h.routes.Param + "}"

	router.HandleFunc(h.routes.Path, h.List).Methods("GET")
	router.HandleFunc(h.routes.Path, h.Create).Methods("POST")
	router.HandleFunc(item, h.Get).Methods("GET")
	router.HandleFunc(item, h.Update).Methods("PATCH")
	router.HandleFunc(item, h.Delete).Methods("DELETE")
}

// List returns one page of the records the caller may see. A caller with
// no visibility gets an empty page, not an error.
func (h *RecordHandlers[P]) List(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	page, ok := httputil.ParsePaginationOrError(w, r)
	if !ok {
		return
	}

	scope, err := h.checker.AccessibleResourceIDs(r.Context(), authCtx.UserID, authCtx.FirmID, h.routes.Resource)
	if err != nil {
		writeError(w, r, nil, err, "failed to list "+string(h.routes.Resource))
		return
	}
	if scope.None() {
		httputil.WriteEmptyPage(w, page)
		return
	}

	items, total, err := h.store.List(r.Context(), authCtx.FirmID, scope, practice.ListOptions{
		Limit:  page.Limit,
		Offset: page.Offset,
		Search: httputil.ParseQueryString(r, "q", ""),
	})
	if err != nil {
		writeError(w, r, nil, err, "failed to list "+string(h.routes.Resource))
		return
	}
	httputil.WritePage(w, items, total, page)
}

// Create stores a new record. The caller needs the collection's create key
// or a policy rule granting create on the whole collection.
func (h *RecordHandlers[P]) Create(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	if !h.canCreate(w, r, authCtx) {
		return
	}

	rec := h.routes.New()
	if !httputil.ParseJSONOrError(w, r, rec) {
		return
	}
	if !h.checkReferences(w, r, authCtx.FirmID, rec) {
		return
	}

	if err := h.store.Create(r.Context(), authCtx.FirmID, authCtx.UserID, rec); err != nil {
		writeError(w, r, nil, err, "failed to create "+string(h.routes.Resource))
		return
	}
	httputil.WriteCreated(w, rec)
}

// Get returns one record
func (h *RecordHandlers[P]) Get(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())
	id := mux.Vars(r)[h.routes.Param]

	if !h.authorize(w, r, authCtx, id, rbac.ActionView) {
		return
	}

	rec, err := h.store.Get(r.Context(), authCtx.FirmID, id)
	if err != nil {
		writeError(w, r, nil, err, "failed to get "+string(h.routes.Resource))
		return
	}
	httputil.WriteSuccess(w, rec)
}

// Update applies a partial JSON body on top of the stored record. Identity
// columns in the body are ignored.
func (h *RecordHandlers[P]) Update(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())
	id := mux.Vars(r)[h.routes.Param]

	if !h.authorize(w, r, authCtx, id, rbac.ActionEdit) {
		return
	}

	rec, err := h.store.Get(r.Context(), authCtx.FirmID, id)
	if err != nil {
		writeError(w, r, nil, err, "failed to update "+string(h.routes.Resource))
		return
	}

	identity := *rec.Meta()
	if err := json.NewDecoder(r.Body).Decode(rec); err != nil {
		httputil.WriteBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	*rec.Meta() = identity

	if !h.checkReferences(w, r, authCtx.FirmID, rec) {
		return
	}
	if err := h.store.Update(r.Context(), authCtx.FirmID, rec); err != nil {
		writeError(w, r, nil, err, "failed to update "+string(h.routes.Resource))
		return
	}
	httputil.WriteSuccess(w, rec)
}

// Delete removes one record
func (h *RecordHandlers[P]) Delete(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())
	id := mux.Vars(r)[h.routes.Param]

	if !h.authorize(w, r, authCtx, id, rbac.ActionDelete) {
		return
	}

	if err := h.store.Delete(r.Context(), authCtx.FirmID, id); err != nil {
		writeError(w, r, nil, err, "failed to delete "+string(h.routes.Resource))
		return
	}

	h.logger.WithFields(logrus.Fields{
		"firm_id":   authCtx.FirmID,
		"user_id":   authCtx.UserID,
		"resource":  h.routes.Resource,
		"record_id": id,
	}).Info("record deleted")
	httputil.WriteNoContent(w)
}

func (h *RecordHandlers[P]) canCreate(w http.ResponseWriter, r *http.Request, authCtx *auth.Context) bool {
	allowed, err := h.checker.RequirePermission(r.Context(), authCtx.UserID, authCtx.FirmID, h.routes.CreateKey)
	if err == nil && !allowed {
		allowed, err = h.checker.RequireResourcePermission(r.Context(), authCtx.UserID, authCtx.FirmID,
			h.routes.Resource, rbac.Wildcard, rbac.ActionCreate)
	}
	if err != nil {
		writeError(w, r, nil, err, "permission check failed")
		return false
	}
	if !allowed {
		denied(w, r, authCtx.UserID, logrus.Fields{"resource": h.routes.Resource, "action": rbac.ActionCreate})
		return false
	}
	return true
}

func (h *RecordHandlers[P]) authorize(w http.ResponseWriter, r *http.Request, authCtx *auth.Context, id, action string) bool {
	allowed, err := h.checker.RequireResourcePermission(r.Context(), authCtx.UserID, authCtx.FirmID, h.routes.Resource, id, action)
	if err != nil {
		writeError(w, r, nil, err, "permission check failed")
		return false
	}
	if !allowed {
		denied(w, r, authCtx.UserID, logrus.Fields{"resource": h.routes.Resource, "record_id": id, "action": action})
		return false
	}
	return true
}

func (h *RecordHandlers[P]) checkReferences(w http.ResponseWriter, r *http.Request, firmID string, rec P) bool {
	if h.routes.Check == nil {
		return true
	}
	if err := h.routes.Check(r.Context(), firmID, rec); err != nil {
		writeError(w, r, nil, err, "failed to check references")
		return false
	}
	return true
}

// requireReference fails with a validation error when id is set but does
// not name a record of the firm
func requireReference[P Record](ctx context.Context, store RecordStore[P], firmID, field string, id *string) error {
	if id == nil || *id == "" || store == nil {
		return nil
	}
	exists, err := store.Exists(ctx, firmID, *id)
	if err != nil {
		return err
	}
	if !exists {
		return &rbac.ValidationError{Field: field, Message: "does not exist"}
	}
	return nil
}
