package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/caseload/pkg/auth"
	"github.com/platinummonkey/caseload/pkg/firms"
	"github.com/platinummonkey/caseload/pkg/httputil"
)

// FirmLookup resolves the caller's current firm. firms.PostgresService
// implements it.
type FirmLookup interface {
	GetUserFirmID(ctx context.Context, userID string) (string, error)
}

// WriteChecker is the write side of the subscription guard
type WriteChecker interface {
	CanFirmWrite(ctx context.Context, firmID string) (firms.WriteDecision, error)
}

// FirmContext fills auth.Context.FirmID from the user record on every
// request, so leaving or joining a firm applies to the next request
// without reissuing tokens.
//
// REQUIRES: AuthMiddleware must run before this middleware.
func FirmContext(lookup FirmLookup, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := GetAuthContext(r)
			if authCtx == nil {
				next.ServeHTTP(w, r)
				return
			}

			firmID, err := lookup.GetUserFirmID(r.Context(), authCtx.UserID)
			if errors.Is(err, firms.ErrUserNotFound) {
				httputil.WriteUnauthorized(w, "user no longer exists")
				return
			}
			if err != nil {
				logger.WithError(err).WithField("user_id", authCtx.UserID).Error("failed to resolve firm")
				httputil.WriteInternalError(w, "failed to resolve firm")
				return
			}

			resolved := *authCtx
			resolved.FirmID = firmID
			next.ServeHTTP(w, r.WithContext(auth.WithContext(r.Context(), &resolved)))
		})
	}
}

// RequireFirm rejects callers that are not attached to a firm
func RequireFirm(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx := GetAuthContext(r)
		if authCtx == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		if !authCtx.HasFirm() {
			httputil.WriteForbidden(w, "you do not belong to a firm")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WriteGate is the choke point for the subscription write check. Safe
// methods pass through; every other method is refused with 402 when the
// firm's subscription does not allow writes.
//
// REQUIRES: FirmContext must run before this middleware.
func WriteGate(checker WriteChecker, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			authCtx := GetAuthContext(r)
			if !authCtx.HasFirm() {
				next.ServeHTTP(w, r)
				return
			}

			decision, err := checker.CanFirmWrite(r.Context(), authCtx.FirmID)
			if err != nil {
				logger.WithError(err).WithField("firm_id", authCtx.FirmID).Error("write check failed")
				httputil.WriteInternalError(w, "failed to check subscription")
				return
			}
			if !decision.Allowed {
				logger.WithFields(logrus.Fields{
					"firm_id": authCtx.FirmID,
					"reason":  decision.Reason,
					"method":  r.Method,
					"path":    r.URL.Path,
				}).Warn("write refused by subscription")
				httputil.WritePaymentRequired(w, decision.Reason)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
