package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/caseload/pkg/auth"
	"github.com/platinummonkey/caseload/pkg/httputil"
)

// NotificationHandlers serves the caller's in-app inbox
type NotificationHandlers struct {
	inbox  NotificationService
	logger *logrus.Logger
}

// NewNotificationHandlers creates new notification handlers
func NewNotificationHandlers(inbox NotificationService, logger *logrus.Logger) *NotificationHandlers {
	return &NotificationHandlers{inbox: inbox, logger: logger}
}

// RegisterRoutes registers notification routes
func (h *NotificationHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/notifications", h.List).Methods("GET")
	router.HandleFunc("/notifications/read-all", h.MarkAllRead).Methods("POST")
	router.HandleFunc("/notifications/{notification_id}/read", h.MarkRead).Methods("POST")
}

// List returns one page of the caller's notifications, newest first
func (h *NotificationHandlers) List(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	page, ok := httputil.ParsePaginationOrError(w, r)
	if !ok {
		return
	}
	unreadOnly, err := httputil.ParseQueryBool(r, "unread", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	items, total, err := h.inbox.List(r.Context(), authCtx.FirmID, authCtx.UserID, unreadOnly, page.Limit, page.Offset)
	if err != nil {
		writeError(w, r, nil, err, "failed to list notifications")
		return
	}
	httputil.WritePage(w, items, total, page)
}

// MarkRead marks one notification as read
func (h *NotificationHandlers) MarkRead(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	if err := h.inbox.MarkRead(r.Context(), authCtx.FirmID, authCtx.UserID, mux.Vars(r)["notification_id"]); err != nil {
		writeError(w, r, nil, err, "failed to mark notification read")
		return
	}
	httputil.WriteNoContent(w)
}

// MarkAllRead marks every unread notification of the caller as read
func (h *NotificationHandlers) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	n, err := h.inbox.MarkAllRead(r.Context(), authCtx.FirmID, authCtx.UserID)
	if err != nil {
		writeError(w, r, nil, err, "failed to mark notifications read")
		return
	}
	httputil.WriteSuccess(w, map[string]int64{"marked": n})
}
