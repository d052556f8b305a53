package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/caseload/pkg/audit"
	"github.com/platinummonkey/caseload/pkg/auth"
	"github.com/platinummonkey/caseload/pkg/firms"
	"github.com/platinummonkey/caseload/pkg/httputil"
	"github.com/platinummonkey/caseload/pkg/rbac"
)

// FirmHandlers handles firm, membership, invitation and join request routes
type FirmHandlers struct {
	firms     FirmService
	checker   rbac.Checker
	perms     *rbac.PermissionMiddleware
	logger    *logrus.Logger
	limitHook LimitHook
	audit     *audit.Recorder
}

// NewFirmHandlers creates new firm handlers. rec may be nil.
func NewFirmHandlers(svc FirmService, checker rbac.Checker, logger *logrus.Logger, hook LimitHook, rec *audit.Recorder) *FirmHandlers {
	return &FirmHandlers{
		firms:     svc,
		checker:   checker,
		perms:     rbac.NewPermissionMiddleware(checker, logger),
		logger:    logger,
		limitHook: hook,
		audit:     rec,
	}
}

// RegisterAccountRoutes registers the routes open to callers without a firm
func (h *FirmHandlers) RegisterAccountRoutes(router *mux.Router) {
	router.HandleFunc("/me", h.GetMe).Methods("GET")
	router.HandleFunc("/firms", h.CreateFirm).Methods("POST")
	router.HandleFunc("/firms/{firm_id}/join-requests", h.CreateJoinRequest).Methods("POST")
	router.HandleFunc("/invitations/{token}/accept", h.AcceptInvitation).Methods("POST")
}

// RegisterRoutes registers the firm-scoped routes
func (h *FirmHandlers) RegisterRoutes(router *mux.Router) {
	manageSettings := h.perms.RequirePermission(rbac.PermFirmManageSettings)
	manageUsers := h.perms.RequirePermission(rbac.PermFirmManageUsers)
	manageRequests := h.perms.RequirePermission(rbac.PermFirmManageRequests)

	router.HandleFunc("/firm", h.GetFirm).Methods("GET")
	router.Handle("/firm", manageSettings(http.HandlerFunc(h.RenameFirm))).Methods("PATCH")
	router.HandleFunc("/firm", h.DeleteFirm).Methods("DELETE")

	// Members
	router.Handle("/members", manageUsers(http.HandlerFunc(h.ListMembers))).Methods("GET")
	router.Handle("/members", manageUsers(http.HandlerFunc(h.AddMember))).Methods("POST")
	router.HandleFunc("/members/{user_id}", h.GetMember).Methods("GET")
	router.Handle("/members/{user_id}", manageUsers(http.HandlerFunc(h.UpdateMember))).Methods("PATCH")
	router.HandleFunc("/members/{user_id}", h.CancelMembership).Methods("DELETE")

	// Invitations
	router.Handle("/invitations", manageUsers(http.HandlerFunc(h.CreateInvitation))).Methods("POST")
	router.Handle("/invitations", manageUsers(http.HandlerFunc(h.ListInvitations))).Methods("GET")
	router.Handle("/invitations/{invitation_id}", manageUsers(http.HandlerFunc(h.RevokeInvitation))).Methods("DELETE")

	// Join requests
	router.Handle("/join-requests", manageRequests(http.HandlerFunc(h.ListJoinRequests))).Methods("GET")
	router.Handle("/join-requests/{request_id}/approve", manageRequests(http.HandlerFunc(h.ApproveJoinRequest))).Methods("POST")
	router.Handle("/join-requests/{request_id}/reject", manageRequests(http.HandlerFunc(h.RejectJoinRequest))).Methods("POST")
}

type meResponse struct {
	*firms.User
	IsFirmAdmin bool `json:"is_firm_admin"`
}

// GetMe returns the caller's profile
func (h *FirmHandlers) GetMe(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	user, err := h.firms.GetUser(r.Context(), authCtx.UserID)
	if err != nil {
		writeError(w, r, h.limitHook, err, "failed to load user")
		return
	}

	resp := meResponse{User: user}
	if authCtx.HasFirm() {
		resp.IsFirmAdmin, err = h.checker.IsFirmAdmin(r.Context(), authCtx.UserID, authCtx.FirmID)
		if err != nil {
			writeError(w, r, h.limitHook, err, "failed to load user")
			return
		}
	}
	httputil.WriteSuccess(w, resp)
}

// CreateFirm creates a firm owned by the caller
func (h *FirmHandlers) CreateFirm(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())
	if authCtx.HasFirm() {
		httputil.WriteConflict(w, firms.ErrAlreadyInFirm.Error())
		return
	}

	var req firms.CreateFirmRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	firm, err := h.firms.CreateFirm(r.Context(), req, authCtx.UserID)
	if err != nil {
		writeError(w, r, h.limitHook, err, "failed to create firm")
		return
	}
	h.audit.Record(r, &audit.Event{
		FirmID:       firm.ID,
		Type:         audit.EventFirmCreate,
		ResourceType: audit.ResourceFirm,
		ResourceID:   firm.ID,
		Changes:      &audit.ChangeDetails{After: firm},
	})
	httputil.WriteCreated(w, firm)
}

// GetFirm returns the caller's firm
func (h *FirmHandlers) GetFirm(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	firm, err := h.firms.GetFirm(r.Context(), authCtx.FirmID)
	if err != nil {
		writeError(w, r, h.limitHook, err, "failed to load firm")
		return
	}
	httputil.WriteSuccess(w, firm)
}

type renameFirmRequest struct {
	Name string `json:"name"`
}

// RenameFirm changes the firm's display name
func (h *FirmHandlers) RenameFirm(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	var req renameFirmRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	firm, err := h.firms.RenameFirm(r.Context(), authCtx.FirmID, req.Name)
	if err != nil {
		writeError(w, r, h.limitHook, err, "failed to rename firm")
		return
	}
	httputil.WriteSuccess(w, firm)
}

// DeleteFirm soft-deletes the firm. Only the firm admin may do this.
func (h *FirmHandlers) DeleteFirm(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	isAdmin, err := h.checker.IsFirmAdmin(r.Context(), authCtx.UserID, authCtx.FirmID)
	if err != nil {
		writeError(w, r, h.limitHook, err, "failed to delete firm")
		return
	}
	if !isAdmin {
		httputil.WriteForbidden(w, "only the firm admin can delete the firm")
		return
	}

	if err := h.firms.DeleteFirm(r.Context(), authCtx.FirmID); err != nil {
		writeError(w, r, h.limitHook, err, "failed to delete firm")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"firm_id": authCtx.FirmID,
		"user_id": authCtx.UserID,
	}).Info("firm deleted")
	h.audit.Record(r, &audit.Event{
		Type:         audit.EventFirmDelete,
		ResourceType: audit.ResourceFirm,
		ResourceID:   authCtx.FirmID,
	})
	httputil.WriteNoContent(w)
}

// ListMembers lists the firm's active members
func (h *FirmHandlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	members, err := h.firms.ListMembers(r.Context(), authCtx.FirmID)
	if err != nil {
		writeError(w, r, h.limitHook, err, "failed to list members")
		return
	}
	if members == nil {
		members = []*firms.Member{}
	}
	httputil.WriteSuccess(w, members)
}

// GetMember returns one member. Members may always read their own row.
func (h *FirmHandlers) GetMember(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())
	userID := mux.Vars(r)["user_id"]

	if !h.selfOrPermission(w, r, authCtx, userID, rbac.PermFirmManageUsers) {
		return
	}

	member, err := h.firms.GetMember(r.Context(), authCtx.FirmID, userID)
	if err != nil {
		writeError(w, r, h.limitHook, err, "failed to load member")
		return
	}
	httputil.WriteSuccess(w, member)
}

type addMemberRequest struct {
	UserID string  `json:"user_id"`
	RoleID *string `json:"role_id,omitempty"`
}

// AddMember attaches an existing user to the firm
func (h *FirmHandlers) AddMember(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	var req addMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.UserID, "user_id") {
		return
	}

	member, err := h.firms.AddMember(r.Context(), authCtx.FirmID, req.UserID, req.RoleID)
	if err != nil {
		writeError(w, r, h.limitHook, err, "failed to add member")
		return
	}
	h.audit.Record(r, &audit.Event{
		Type:         audit.EventMemberAdd,
		ResourceType: audit.ResourceMember,
		ResourceID:   req.UserID,
		Changes:      &audit.ChangeDetails{After: member},
	})
	httputil.WriteCreated(w, member)
}

// UpdateMember changes a member's role or custom permissions
func (h *FirmHandlers) UpdateMember(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	var req firms.UpdateMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	for _, key := range req.CustomPermissions {
		if !rbac.IsKnownPermission(key) {
			httputil.WriteValidationError(w, "unknown permission key: "+string(key))
			return
		}
	}

	isAdmin, err := h.checker.IsFirmAdmin(r.Context(), authCtx.UserID, authCtx.FirmID)
	if err != nil {
		writeError(w, r, h.limitHook, err, "failed to update member")
		return
	}
	req.ByFirmAdmin = isAdmin

	userID := mux.Vars(r)["user_id"]
	event := &audit.Event{
		Type:         audit.EventMemberUpdate,
		ResourceType: audit.ResourceMember,
		ResourceID:   userID,
		Changes:      &audit.ChangeDetails{After: req},
	}

	member, err := h.firms.UpdateMember(r.Context(), authCtx.FirmID, userID, req)
	if err != nil {
		if errors.Is(err, firms.ErrPrivilegedGrant) {
			event.Status = audit.StatusDenied
			event.Message = err.Error()
			h.audit.Record(r, event)
		}
		writeError(w, r, h.limitHook, err, "failed to update member")
		return
	}
	event.Changes.After = member
	h.audit.Record(r, event)
	httputil.WriteSuccess(w, member)
}

// CancelMembership removes a member. Members may leave on their own.
func (h *FirmHandlers) CancelMembership(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())
	userID := mux.Vars(r)["user_id"]

	if !h.selfOrPermission(w, r, authCtx, userID, rbac.PermFirmManageUsers) {
		return
	}

	if err := h.firms.CancelMembership(r.Context(), authCtx.FirmID, userID); err != nil {
		writeError(w, r, h.limitHook, err, "failed to cancel membership")
		return
	}
	h.audit.Record(r, &audit.Event{
		Type:         audit.EventMemberRemove,
		ResourceType: audit.ResourceMember,
		ResourceID:   userID,
	})
	httputil.WriteNoContent(w)
}

type createInvitationRequest struct {
	Email  string  `json:"email"`
	RoleID *string `json:"role_id,omitempty"`
}

// CreateInvitation invites an email address into the firm
func (h *FirmHandlers) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	var req createInvitationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	inv := &firms.Invitation{
		FirmID:    authCtx.FirmID,
		Email:     req.Email,
		RoleID:    req.RoleID,
		InvitedBy: authCtx.UserID,
	}
	if err := h.firms.CreateInvitation(r.Context(), inv); err != nil {
		writeError(w, r, h.limitHook, err, "failed to create invitation")
		return
	}
	httputil.WriteCreated(w, inv)
}

// ListInvitations lists the firm's pending invitations
func (h *FirmHandlers) ListInvitations(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	invitations, err := h.firms.ListInvitations(r.Context(), authCtx.FirmID)
	if err != nil {
		writeError(w, r, h.limitHook, err, "failed to list invitations")
		return
	}
	if invitations == nil {
		invitations = []*firms.Invitation{}
	}
	httputil.WriteSuccess(w, invitations)
}

// RevokeInvitation revokes a pending invitation
func (h *FirmHandlers) RevokeInvitation(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	if err := h.firms.RevokeInvitation(r.Context(), authCtx.FirmID, mux.Vars(r)["invitation_id"]); err != nil {
		writeError(w, r, h.limitHook, err, "failed to revoke invitation")
		return
	}
	httputil.WriteNoContent(w)
}

// AcceptInvitation joins the caller to the inviting firm. The firm's write
// state and seat limit are checked by the service, not the write gate.
func (h *FirmHandlers) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())
	if authCtx.HasFirm() {
		httputil.WriteConflict(w, firms.ErrAlreadyInFirm.Error())
		return
	}

	member, err := h.firms.AcceptInvitation(r.Context(), mux.Vars(r)["token"], authCtx.UserID)
	if err != nil {
		writeError(w, r, h.limitHook, err, "failed to accept invitation")
		return
	}
	h.audit.Record(r, &audit.Event{
		FirmID:       member.FirmID,
		Type:         audit.EventInvitationAccept,
		ResourceType: audit.ResourceMember,
		ResourceID:   authCtx.UserID,
		Changes:      &audit.ChangeDetails{After: member},
	})
	httputil.WriteSuccess(w, member)
}

type joinRequestBody struct {
	Message string `json:"message"`
}

// CreateJoinRequest asks to join a firm
func (h *FirmHandlers) CreateJoinRequest(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())
	if authCtx.HasFirm() {
		httputil.WriteConflict(w, firms.ErrAlreadyInFirm.Error())
		return
	}

	var req joinRequestBody
	if r.ContentLength != 0 && !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	jr, err := h.firms.CreateJoinRequest(r.Context(), mux.Vars(r)["firm_id"], authCtx.UserID, req.Message)
	if err != nil {
		writeError(w, r, h.limitHook, err, "failed to create join request")
		return
	}
	httputil.WriteCreated(w, jr)
}

// ListJoinRequests lists join requests, pending ones by default
func (h *FirmHandlers) ListJoinRequests(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	status := firms.JoinRequestStatus(httputil.ParseQueryString(r, "status", string(firms.JoinPending)))
	switch status {
	case firms.JoinPending, firms.JoinApproved, firms.JoinRejected:
	default:
		httputil.WriteBadRequest(w, "status must be pending, approved or rejected")
		return
	}

	requests, err := h.firms.ListJoinRequests(r.Context(), authCtx.FirmID, status)
	if err != nil {
		writeError(w, r, h.limitHook, err, "failed to list join requests")
		return
	}
	if requests == nil {
		requests = []*firms.JoinRequest{}
	}
	httputil.WriteSuccess(w, requests)
}

type approveJoinRequestBody struct {
	RoleID *string `json:"role_id,omitempty"`
}

// ApproveJoinRequest admits the requesting user, subject to the seat limit
func (h *FirmHandlers) ApproveJoinRequest(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	var req approveJoinRequestBody
	if r.ContentLength != 0 && !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	requestID := mux.Vars(r)["request_id"]
	member, err := h.firms.ApproveJoinRequest(r.Context(), authCtx.FirmID, requestID, req.RoleID, authCtx.UserID)
	if err != nil {
		writeError(w, r, h.limitHook, err, "failed to approve join request")
		return
	}
	h.audit.Record(r, &audit.Event{
		Type:         audit.EventJoinRequestApprove,
		ResourceType: audit.ResourceJoinRequest,
		ResourceID:   requestID,
		Changes:      &audit.ChangeDetails{After: member},
	})
	httputil.WriteSuccess(w, member)
}

// RejectJoinRequest declines a pending join request
func (h *FirmHandlers) RejectJoinRequest(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	if err := h.firms.RejectJoinRequest(r.Context(), authCtx.FirmID, mux.Vars(r)["request_id"], authCtx.UserID); err != nil {
		writeError(w, r, h.limitHook, err, "failed to reject join request")
		return
	}
	httputil.WriteNoContent(w)
}

func (h *FirmHandlers) selfOrPermission(w http.ResponseWriter, r *http.Request, authCtx *auth.Context, userID string, key rbac.PermissionKey) bool {
	if authCtx.UserID == userID {
		return true
	}
	allowed, err := h.checker.RequirePermission(r.Context(), authCtx.UserID, authCtx.FirmID, key)
	if err != nil {
		writeError(w, r, h.limitHook, err, "permission check failed")
		return false
	}
	if !allowed {
		denied(w, r, authCtx.UserID, logrus.Fields{"permission": key, "target_user_id": userID})
		return false
	}
	return true
}
