package api

import (
	"context"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/caseload/pkg/audit"
	"github.com/platinummonkey/caseload/pkg/billing"
	"github.com/platinummonkey/caseload/pkg/calendar"
	"github.com/platinummonkey/caseload/pkg/documents"
	"github.com/platinummonkey/caseload/pkg/firms"
	"github.com/platinummonkey/caseload/pkg/httputil"
	"github.com/platinummonkey/caseload/pkg/middleware"
	"github.com/platinummonkey/caseload/pkg/notify"
	"github.com/platinummonkey/caseload/pkg/observability"
	"github.com/platinummonkey/caseload/pkg/practice"
	"github.com/platinummonkey/caseload/pkg/rbac"
)

// FirmService is the firm lifecycle driven by the API. *firms.PostgresService
// implements it.
type FirmService interface {
	middleware.FirmLookup

	GetUser(ctx context.Context, userID string) (*firms.User, error)
	CreateFirm(ctx context.Context, req firms.CreateFirmRequest, creatorID string) (*firms.Firm, error)
	GetFirm(ctx context.Context, firmID string) (*firms.Firm, error)
	RenameFirm(ctx context.Context, firmID, name string) (*firms.Firm, error)
	DeleteFirm(ctx context.Context, firmID string) error

	ListMembers(ctx context.Context, firmID string) ([]*firms.Member, error)
	GetMember(ctx context.Context, firmID, userID string) (*firms.Member, error)
	AddMember(ctx context.Context, firmID, userID string, roleID *string) (*firms.Member, error)
	UpdateMember(ctx context.Context, firmID, userID string, req firms.UpdateMemberRequest) (*firms.Member, error)
	CancelMembership(ctx context.Context, firmID, userID string) error

	CreateInvitation(ctx context.Context, inv *firms.Invitation) error
	ListInvitations(ctx context.Context, firmID string) ([]*firms.Invitation, error)
	RevokeInvitation(ctx context.Context, firmID, invitationID string) error
	AcceptInvitation(ctx context.Context, token, userID string) (*firms.Member, error)

	CreateJoinRequest(ctx context.Context, firmID, userID, message string) (*firms.JoinRequest, error)
	ListJoinRequests(ctx context.Context, firmID string, status firms.JoinRequestStatus) ([]*firms.JoinRequest, error)
	ApproveJoinRequest(ctx context.Context, firmID, requestID string, roleID *string, decidedBy string) (*firms.Member, error)
	RejectJoinRequest(ctx context.Context, firmID, requestID, decidedBy string) error
}

// DocumentService stores uploaded files. *documents.Service implements it.
type DocumentService interface {
	Upload(ctx context.Context, userID, firmID string, in documents.UploadInput) (*documents.Document, error)
	Get(ctx context.Context, firmID, id string) (*documents.Document, error)
	Open(ctx context.Context, firmID, id string) (*documents.Document, io.ReadCloser, error)
	List(ctx context.Context, firmID string, scope rbac.ResourceScope, opts documents.ListOptions) ([]*documents.Document, int, error)
	Delete(ctx context.Context, firmID, id string) error
}

// NotificationService is the in-app inbox. *notify.Notifier implements it.
type NotificationService interface {
	firms.LimitNotifier
	List(ctx context.Context, firmID, userID string, unreadOnly bool, limit, offset int) ([]*notify.Notification, int, error)
	MarkRead(ctx context.Context, firmID, userID, id string) error
	MarkAllRead(ctx context.Context, firmID, userID string) (int64, error)
}

// Config wires the server's collaborators. Billing, Audit, AuditLog,
// RateLimit and Metrics are optional.
type Config struct {
	Firms         FirmService
	WriteChecker  middleware.WriteChecker
	Checker       rbac.Checker
	Roles         rbac.RoleStore
	Billing       *billing.Service
	Clients       RecordStore[*practice.Client]
	Cases         RecordStore[*practice.Case]
	GeneralWork   RecordStore[*practice.GeneralWork]
	Calendar      *calendar.Service
	Documents     DocumentService
	Notifications NotificationService
	Audit         *audit.Recorder
	AuditLog      audit.Searcher

	Tokens    middleware.TokenValidator
	RateLimit *middleware.RateLimitMiddleware
	Metrics   *observability.Metrics

	CORSOrigins    []string
	MaxUploadBytes int64
	Logger         *logrus.Logger
}

// Server is the HTTP API server
type Server struct {
	cfg    Config
	router *mux.Router
	logger *logrus.Logger
	perms  *rbac.PermissionMiddleware
}

// NewServer creates a new API server and registers every route
func NewServer(cfg Config) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	s := &Server{
		cfg:    cfg,
		router: mux.NewRouter(),
		logger: cfg.Logger,
		perms:  rbac.NewPermissionMiddleware(cfg.Checker, cfg.Logger),
	}
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(
		httputil.RequestID,
		httputil.RequestLogger(s.logger),
		httputil.Recovery(s.logger),
	)
	if len(s.cfg.CORSOrigins) > 0 {
		s.router.Use(httputil.CORS(s.cfg.CORSOrigins))
	}
	if s.cfg.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.cfg.Metrics))
	}

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.Use(middleware.NewAuthMiddleware(s.cfg.Tokens, s.logger, false).Handler)
	if s.cfg.RateLimit != nil {
		v1.Use(s.cfg.RateLimit.Handler)
	}
	v1.Use(middleware.FirmContext(s.cfg.Firms, s.logger))

	// Routes for callers that may not belong to a firm yet
	firmHandlers := NewFirmHandlers(s.cfg.Firms, s.cfg.Checker, s.logger, s.notifyLimit, s.cfg.Audit)
	firmHandlers.RegisterAccountRoutes(v1)

	firmScoped := v1.NewRoute().Subrouter()
	firmScoped.Use(middleware.RequireFirm)

	// Billing stays reachable while the firm is read-only or expired
	if s.cfg.Billing != nil {
		billing.NewHandlers(s.cfg.Billing, s.cfg.Checker, s.logger).
			WithLimitHook(s.notifyLimit).
			WithAudit(s.cfg.Audit).
			RegisterRoutes(firmScoped)
	}
	if s.cfg.AuditLog != nil {
		audit.NewHandlers(s.cfg.AuditLog, s.logger).
			RegisterRoutes(firmScoped, s.perms.RequirePermission(rbac.PermFirmManageSettings))
	}

	gated := firmScoped.NewRoute().Subrouter()
	gated.Use(middleware.WriteGate(s.cfg.WriteChecker, s.logger))

	firmHandlers.RegisterRoutes(gated)
	rbac.NewHandlers(s.cfg.Roles, s.cfg.Checker, s.logger).WithAudit(s.cfg.Audit).RegisterRoutes(gated)

	s.registerPractice(gated)

	if s.cfg.Calendar != nil {
		NewCalendarHandlers(s.cfg.Calendar, s.logger).RegisterRoutes(gated)
	}
	if s.cfg.Documents != nil {
		NewDocumentHandlers(s.cfg.Documents, s.cfg.Checker, s.logger, s.notifyLimit, s.cfg.MaxUploadBytes).RegisterRoutes(gated)
	}
	if s.cfg.Notifications != nil {
		NewNotificationHandlers(s.cfg.Notifications, s.logger).RegisterRoutes(gated)
	}
}

func (s *Server) registerPractice(router *mux.Router) {
	if s.cfg.Clients != nil {
		NewRecordHandlers(RecordRoutes[*practice.Client]{
			Path:      "/clients",
			Param:     "client_id",
			Resource:  rbac.ResourceClient,
			CreateKey: rbac.PermClientsCreate,
			New:       func() *practice.Client { return &practice.Client{} },
		}, s.cfg.Clients, s.cfg.Checker, s.logger).RegisterRoutes(router)
	}

	if s.cfg.Cases != nil {
		NewRecordHandlers(RecordRoutes[*practice.Case]{
			Path:      "/cases",
			Param:     "case_id",
			Resource:  rbac.ResourceCase,
			CreateKey: rbac.PermCasesCreate,
			New:       func() *practice.Case { return &practice.Case{} },
			Check: func(ctx context.Context, firmID string, c *practice.Case) error {
				return requireReference(ctx, s.cfg.Clients, firmID, "client_id", c.ClientID)
			},
		}, s.cfg.Cases, s.cfg.Checker, s.logger).RegisterRoutes(router)
	}

	if s.cfg.GeneralWork != nil {
		NewRecordHandlers(RecordRoutes[*practice.GeneralWork]{
			Path:      "/general-work",
			Param:     "work_id",
			Resource:  rbac.ResourceGeneralWork,
			CreateKey: rbac.PermGeneralWorkCreate,
			New:       func() *practice.GeneralWork { return &practice.GeneralWork{} },
			Check: func(ctx context.Context, firmID string, g *practice.GeneralWork) error {
				return requireReference(ctx, s.cfg.Cases, firmID, "case_id", g.CaseID)
			},
		}, s.cfg.GeneralWork, s.cfg.Checker, s.logger).RegisterRoutes(router)
	}
}
