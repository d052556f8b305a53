package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/caseload/pkg/async"
	"github.com/platinummonkey/caseload/pkg/calendar"
	"github.com/platinummonkey/caseload/pkg/documents"
	"github.com/platinummonkey/caseload/pkg/firms"
	"github.com/platinummonkey/caseload/pkg/httputil"
	"github.com/platinummonkey/caseload/pkg/notify"
	"github.com/platinummonkey/caseload/pkg/observability"
	"github.com/platinummonkey/caseload/pkg/practice"
	"github.com/platinummonkey/caseload/pkg/rbac"
)

const limitNotificationTimeout = 5 * time.Second

// LimitHook is called when a write is refused by a seat or storage ceiling
type LimitHook func(r *http.Request, err *firms.LimitExceededError)

var notFoundErrors = []error{
	firms.ErrFirmNotFound,
	firms.ErrUserNotFound,
	firms.ErrMemberNotFound,
	firms.ErrInvitationNotFound,
	firms.ErrJoinRequestNotFound,
	rbac.ErrRoleNotFound,
	practice.ErrNotFound,
	calendar.ErrNotFound,
	documents.ErrNotFound,
	notify.ErrNotFound,
}

var conflictErrors = []error{
	firms.ErrAlreadyInFirm,
	firms.ErrAlreadyMember,
	firms.ErrInvitationUsed,
	firms.ErrJoinRequestDuplicate,
	firms.ErrJoinRequestDecided,
	firms.ErrDuplicateEmail,
}

// writeError maps domain errors onto status codes. Anything unrecognized is
// logged and answered with 500 and message.
func writeError(w http.ResponseWriter, r *http.Request, hook LimitHook, err error, message string) {
	var (
		limitErr      *firms.LimitExceededError
		deniedErr     *firms.WriteDeniedError
		validationErr *rbac.ValidationError
	)

	switch {
	case errors.As(err, &limitErr):
		if hook != nil {
			hook(r, limitErr)
		}
		httputil.WriteConflict(w, limitErr.Error())
	case errors.As(err, &deniedErr):
		httputil.WritePaymentRequired(w, deniedErr.Reason)
	case errors.As(err, &validationErr):
		httputil.WriteValidationError(w, validationErr.Error())
	case errors.Is(err, calendar.ErrForbidden), errors.Is(err, firms.ErrInvitationMismatch),
		errors.Is(err, firms.ErrCannotModifyAdmin), errors.Is(err, firms.ErrPrivilegedGrant):
		httputil.WriteForbidden(w, err.Error())
	case errors.Is(err, firms.ErrInvitationExpired):
		httputil.WriteErrorMessage(w, http.StatusGone, err.Error())
	case errors.Is(err, firms.ErrRoleNotInFirm), errors.Is(err, firms.ErrInvalidStatus):
		httputil.WriteBadRequest(w, err.Error())
	case isAny(err, conflictErrors):
		httputil.WriteConflict(w, err.Error())
	case isAny(err, notFoundErrors):
		httputil.WriteNotFoundError(w, err.Error())
	default:
		observability.LoggerFromContext(r.Context()).WithError(err).Error(message)
		httputil.WriteInternalError(w, message)
	}
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// notifyLimit tells the firm admin that a ceiling was hit. Delivery happens
// after the response and its failure never reaches the caller.
func (s *Server) notifyLimit(r *http.Request, limitErr *firms.LimitExceededError) {
	if s.cfg.Notifications == nil || limitErr.FirmID == "" {
		return
	}

	notifier := s.cfg.Notifications
	e := *limitErr
	async.SafeGo(r.Context(), s.logger.WithFields(logrus.Fields{
		"firm_id":  e.FirmID,
		"resource": e.Resource,
	}), limitNotificationTimeout, "limit notification", func(ctx context.Context) error {
		return notifier.LimitExceeded(ctx, e.FirmID, e.Resource, e.Current, e.Limit)
	})
}

// denied answers a failed authorization check
func denied(w http.ResponseWriter, r *http.Request, userID string, detail logrus.Fields) {
	observability.LoggerFromContext(r.Context()).WithFields(detail).WithField("user_id", userID).Debug("request denied by policy")
	httputil.WriteForbidden(w, "insufficient permissions")
}
