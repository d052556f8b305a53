package billing

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

// LimitHook is called when a billing change is refused by a limit
type LimitHook func(r *http.Request, err *firms.LimitExceededError)

// Handlers provides HTTP handlers for the billing catalog and firm subscription
type Handlers struct {
	svc       *Service
	perms     *rbac.PermissionMiddleware
	logger    *logrus.Logger
	limitHook LimitHook
	audit     *audit.Recorder
}

// NewHandlers creates new billing handlers
func NewHandlers(svc *Service, checker rbac.Checker, logger *logrus.Logger) *Handlers {
	return &Handlers{
		svc:    svc,
		perms:  rbac.NewPermissionMiddleware(checker, logger),
		logger: logger,
	}
}

// WithLimitHook sets the callback invoked on LimitExceededError
func (h *Handlers) WithLimitHook(hook LimitHook) *Handlers {
	h.limitHook = hook
	return h
}

// WithAudit records plan, status and add-on changes to rec
func (h *Handlers) WithAudit(rec *audit.Recorder) *Handlers {
	h.audit = rec
	return h
}

// RegisterRoutes registers billing routes on a firm-scoped router. The
// routes must stay reachable while the firm is read-only or expired, so
// they are mounted outside the write gate.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	manage := h.perms.RequirePermission(rbac.PermFirmManageSettings)
	view := h.perms.RequireAnyPermission(rbac.PermFirmManageSettings, rbac.PermFirmViewSettings)

	router.HandleFunc("/billing/plans", h.ListPlans).Methods("GET")
	router.HandleFunc("/billing/addons", h.ListAddOns).Methods("GET")
	router.Handle("/billing/subscription", view(http.HandlerFunc(h.GetSummary))).Methods("GET")
	router.Handle("/billing/plan", manage(http.HandlerFunc(h.ChangePlan))).Methods("PUT")
	router.Handle("/billing/status", manage(http.HandlerFunc(h.SetStatus))).Methods("PUT")
	router.Handle("/billing/purchases", view(http.HandlerFunc(h.ListPurchases))).Methods("GET")
	router.Handle("/billing/purchases", manage(http.HandlerFunc(h.PurchaseAddOn))).Methods("POST")
	router.Handle("/billing/purchases/{purchase_id}", manage(http.HandlerFunc(h.CancelAddOn))).Methods("DELETE")
}

// ListPlans lists the plans on offer
func (h *Handlers) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.svc.Catalog().ListPlans(r.Context())
	if err != nil {
		h.writeError(w, r, err, "failed to list plans")
		return
	}
	httputil.WriteSuccess(w, plans)
}

// ListAddOns lists the storage add-ons on offer
func (h *Handlers) ListAddOns(w http.ResponseWriter, r *http.Request) {
	addOns, err := h.svc.Catalog().ListAddOns(r.Context())
	if err != nil {
		h.writeError(w, r, err, "failed to list add-ons")
		return
	}
	httputil.WriteSuccess(w, addOns)
}

// GetSummary returns the caller's firm subscription
func (h *Handlers) GetSummary(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	summary, err := h.svc.Summary(r.Context(), authCtx.FirmID)
	if err != nil {
		h.writeError(w, r, err, "failed to load subscription")
		return
	}
	httputil.WriteSuccess(w, summary)
}

// ChangePlan moves the caller's firm onto another plan
func (h *Handlers) ChangePlan(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	var req ChangePlanRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.PlanID, "plan_id") {
		return
	}

	firm, err := h.svc.ChangePlan(r.Context(), authCtx.FirmID, req.PlanID)
	if err != nil {
		h.writeError(w, r, err, "failed to change plan")
		return
	}
	h.audit.Record(r, &audit.Event{
		Type:         audit.EventPlanChange,
		ResourceType: audit.ResourceSubscription,
		ResourceID:   authCtx.FirmID,
		Metadata:     map[string]interface{}{"plan_id": req.PlanID, "status": firm.Status},
	})
	httputil.WriteSuccess(w, firm)
}

// SetStatus lets a firm suspend itself as read_only or cancel
func (h *Handlers) SetStatus(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	var req SetStatusRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	event := &audit.Event{
		Type:         audit.EventStatusChange,
		ResourceType: audit.ResourceSubscription,
		ResourceID:   authCtx.FirmID,
		Metadata:     map[string]interface{}{"status": req.Status},
	}
	if err := h.svc.SetSubscriptionStatus(r.Context(), authCtx.FirmID, firms.SubscriptionStatus(req.Status)); err != nil {
		if errors.Is(err, ErrStatusNotPermitted) {
			event.Status = audit.StatusDenied
			event.Message = err.Error()
			h.audit.Record(r, event)
		}
		h.writeError(w, r, err, "failed to set subscription status")
		return
	}
	h.audit.Record(r, event)
	httputil.WriteNoContent(w)
}

// ListPurchases lists the firm's add-on purchases
func (h *Handlers) ListPurchases(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())
	status := AddOnStatus(httputil.ParseQueryString(r, "status", ""))

	addOns, err := h.svc.ListFirmAddOns(r.Context(), authCtx.FirmID, status)
	if err != nil {
		h.writeError(w, r, err, "failed to list purchases")
		return
	}
	httputil.WriteSuccess(w, addOns)
}

// PurchaseAddOn buys a storage add-on for the firm
func (h *Handlers) PurchaseAddOn(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	var req PurchaseAddOnRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.AddOnID, "addon_id") {
		return
	}

	purchase, err := h.svc.PurchaseAddOn(r.Context(), authCtx.FirmID, req.AddOnID)
	if err != nil {
		h.writeError(w, r, err, "failed to purchase add-on")
		return
	}
	h.audit.Record(r, &audit.Event{
		Type:         audit.EventAddOnPurchase,
		ResourceType: audit.ResourceAddOn,
		ResourceID:   purchase.ID,
		Metadata:     map[string]interface{}{"addon_id": req.AddOnID},
	})
	httputil.WriteCreated(w, purchase)
}

// CancelAddOn cancels one of the firm's purchases
func (h *Handlers) CancelAddOn(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	purchaseID := mux.Vars(r)["purchase_id"]
	if err := h.svc.CancelAddOn(r.Context(), authCtx.FirmID, purchaseID); err != nil {
		h.writeError(w, r, err, "failed to cancel add-on")
		return
	}
	h.audit.Record(r, &audit.Event{
		Type:         audit.EventAddOnCancel,
		ResourceType: audit.ResourceAddOn,
		ResourceID:   purchaseID,
	})
	httputil.WriteNoContent(w)
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error, message string) {
	var limitErr *firms.LimitExceededError
	switch {
	case errors.As(err, &limitErr):
		if h.limitHook != nil {
			h.limitHook(r, limitErr)
		}
		httputil.WriteConflict(w, limitErr.Error())
	case errors.Is(err, ErrPlanNotFound), errors.Is(err, ErrAddOnNotFound),
		errors.Is(err, ErrPurchaseNotFound), errors.Is(err, firms.ErrFirmNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, ErrCatalogItemInactive), errors.Is(err, firms.ErrInvalidStatus):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrStatusNotPermitted):
		httputil.WriteForbidden(w, err.Error())
	default:
		h.logger.WithError(err).Error(message)
		httputil.WriteInternalError(w, message)
	}
}
