package rbac

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/caseload/pkg/audit"
	"github.com/platinummonkey/caseload/pkg/auth"
	"github.com/platinummonkey/caseload/pkg/httputil"
)

// RoleStore is the persistence surface used by the role handlers
type RoleStore interface {
	CreateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, firmID, roleID string) (*Role, error)
	ListRoles(ctx context.Context, firmID string) ([]*Role, error)
	UpdateRole(ctx context.Context, role *Role) error
	DeleteRole(ctx context.Context, firmID, roleID string) error
}

// Handlers provides HTTP handlers for role management and permission introspection
type Handlers struct {
	roles   RoleStore
	checker Checker
	perms   *PermissionMiddleware
	logger  *logrus.Logger
	audit   *audit.Recorder
}

// NewHandlers creates new RBAC handlers
func NewHandlers(roles RoleStore, checker Checker, logger *logrus.Logger) *Handlers {
	return &Handlers{
		roles:   roles,
		checker: checker,
		perms:   NewPermissionMiddleware(checker, logger),
		logger:  logger,
	}
}

// WithAudit records role changes to rec
func (h *Handlers) WithAudit(rec *audit.Recorder) *Handlers {
	h.audit = rec
	return h
}

// RegisterRoutes registers RBAC routes on a firm-scoped router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	manageRoles := h.perms.RequirePermission(PermFirmManageRoles)
	viewRoles := h.perms.RequireAnyPermission(PermFirmManageRoles, PermFirmManageUsers)

	router.Handle("/roles", viewRoles(http.HandlerFunc(h.ListRoles))).Methods("GET")
	router.Handle("/roles", manageRoles(http.HandlerFunc(h.CreateRole))).Methods("POST")
	router.Handle("/roles/templates", viewRoles(http.HandlerFunc(h.GetRoleTemplates))).Methods("GET")
	router.Handle("/roles/{role_id}", viewRoles(http.HandlerFunc(h.GetRole))).Methods("GET")
	router.Handle("/roles/{role_id}", manageRoles(http.HandlerFunc(h.UpdateRole))).Methods("PUT")
	router.Handle("/roles/{role_id}", manageRoles(http.HandlerFunc(h.DeleteRole))).Methods("DELETE")

	router.HandleFunc("/permissions", h.GetPermissionCatalog).Methods("GET")
	router.HandleFunc("/me/permissions", h.GetMyPermissions).Methods("GET")
	router.Handle("/members/{user_id}/permissions",
		h.perms.RequirePermission(PermFirmManageUsers)(http.HandlerFunc(h.GetMemberPermissions))).Methods("GET")
}

type roleRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Permissions []PermissionKey `json:"permissions"`
	Policy      Policy          `json:"policy"`
}

// CreateRole creates a firm-authored role
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	var req roleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role := &Role{
		FirmID:      authCtx.FirmID,
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
		Policy:      req.Policy,
	}
	if err := h.roles.CreateRole(r.Context(), role); err != nil {
		h.writeStoreError(w, err, "failed to create role")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"firm_id": authCtx.FirmID,
		"role_id": role.ID,
		"user_id": authCtx.UserID,
	}).Info("role created")
	h.audit.Record(r, &audit.Event{
		Type:         audit.EventRoleCreate,
		ResourceType: audit.ResourceRole,
		ResourceID:   role.ID,
		Changes:      &audit.ChangeDetails{After: role},
	})
	httputil.WriteCreated(w, role)
}

// ListRoles lists the firm's roles
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	roles, err := h.roles.ListRoles(r.Context(), authCtx.FirmID)
	if err != nil {
		h.writeStoreError(w, err, "failed to list roles")
		return
	}
	httputil.WriteSuccess(w, roles)
}

// GetRole returns one role
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())
	roleID := mux.Vars(r)["role_id"]

	role, err := h.roles.GetRole(r.Context(), authCtx.FirmID, roleID)
	if err != nil {
		h.writeStoreError(w, err, "failed to get role")
		return
	}
	httputil.WriteSuccess(w, role)
}

// UpdateRole replaces a role's permissions and policy
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())
	roleID := mux.Vars(r)["role_id"]

	var req roleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	before, err := h.roles.GetRole(r.Context(), authCtx.FirmID, roleID)
	if err != nil {
		h.writeStoreError(w, err, "failed to update role")
		return
	}

	role := &Role{
		ID:          roleID,
		FirmID:      authCtx.FirmID,
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
		Policy:      req.Policy,
	}
	if err := h.roles.UpdateRole(r.Context(), role); err != nil {
		h.writeStoreError(w, err, "failed to update role")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"firm_id": authCtx.FirmID,
		"role_id": role.ID,
		"user_id": authCtx.UserID,
	}).Info("role updated")
	h.audit.Record(r, &audit.Event{
		Type:         audit.EventRoleUpdate,
		ResourceType: audit.ResourceRole,
		ResourceID:   role.ID,
		Changes:      &audit.ChangeDetails{Before: before, After: role},
	})
	httputil.WriteSuccess(w, role)
}

// DeleteRole removes a custom role
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())
	roleID := mux.Vars(r)["role_id"]

	if err := h.roles.DeleteRole(r.Context(), authCtx.FirmID, roleID); err != nil {
		h.writeStoreError(w, err, "failed to delete role")
		return
	}
	h.audit.Record(r, &audit.Event{
		Type:         audit.EventRoleDelete,
		ResourceType: audit.ResourceRole,
		ResourceID:   roleID,
	})
	httputil.WriteNoContent(w)
}

// GetRoleTemplates returns suggested custom roles
func (h *Handlers) GetRoleTemplates(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, CommonRoleTemplates())
}

// GetPermissionCatalog lists every permission key and resource type
func (h *Handlers) GetPermissionCatalog(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{
		"permissions":    AllPermissionKeys(),
		"resource_types": AllResourceTypes(),
		"actions":        []string{ActionView, ActionCreate, ActionEdit, ActionDelete, ActionAny},
	})
}

type permissionsResponse struct {
	UserID      string          `json:"user_id"`
	FirmID      string          `json:"firm_id"`
	IsFirmAdmin bool            `json:"is_firm_admin"`
	Permissions []PermissionKey `json:"permissions"`
}

// GetMyPermissions returns the caller's effective permissions
func (h *Handlers) GetMyPermissions(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())
	h.writePermissions(w, r, authCtx.UserID, authCtx.FirmID)
}

// GetMemberPermissions returns another member's effective permissions
func (h *Handlers) GetMemberPermissions(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())
	h.writePermissions(w, r, mux.Vars(r)["user_id"], authCtx.FirmID)
}

func (h *Handlers) writePermissions(w http.ResponseWriter, r *http.Request, userID, firmID string) {
	perms, err := h.checker.EffectivePermissions(r.Context(), userID, firmID)
	if err != nil {
		h.logger.WithError(err).Error("failed to compute effective permissions")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "failed to compute permissions")
		return
	}
	isAdmin, err := h.checker.IsFirmAdmin(r.Context(), userID, firmID)
	if err != nil {
		h.logger.WithError(err).Error("failed to resolve firm admin")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "failed to compute permissions")
		return
	}

	httputil.WriteSuccess(w, permissionsResponse{
		UserID:      userID,
		FirmID:      firmID,
		IsFirmAdmin: isAdmin,
		Permissions: perms.Keys(),
	})
}

func (h *Handlers) writeStoreError(w http.ResponseWriter, err error, msg string) {
	var validationErr *ValidationError
	switch {
	case errors.As(err, &validationErr):
		httputil.WriteValidationError(w, validationErr.Error())
	case errors.Is(err, ErrRoleNotFound):
		httputil.WriteNotFoundError(w, "role not found")
	case errors.Is(err, ErrSystemRole):
		httputil.WriteForbidden(w, err.Error())
	case errors.Is(err, ErrRoleInUse), errors.Is(err, ErrDuplicateRole):
		httputil.WriteConflict(w, err.Error())
	default:
		h.logger.WithError(err).Error(msg)
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, msg)
	}
}
