package rbac

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/caseload/pkg/auth"
	"github.com/platinummonkey/caseload/pkg/httputil"
)

// PermissionMiddleware gates routes on flat permission keys
type PermissionMiddleware struct {
	checker Checker
	logger  *logrus.Logger
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(checker Checker, logger *logrus.Logger) *PermissionMiddleware {
	return &PermissionMiddleware{
		checker: checker,
		logger:  logger,
	}
}

// RequirePermission creates middleware that requires a specific permission key
func (pm *PermissionMiddleware) RequirePermission(key PermissionKey) func(http.Handler) http.Handler {
	return pm.RequireAnyPermission(key)
}

// RequireAnyPermission creates middleware that passes when any key is held
func (pm *PermissionMiddleware) RequireAnyPermission(keys ...PermissionKey) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := auth.FromContext(r.Context())
			if authCtx == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			if !authCtx.HasFirm() {
				httputil.WriteForbidden(w, "firm membership required")
				return
			}

			perms, err := pm.checker.EffectivePermissions(r.Context(), authCtx.UserID, authCtx.FirmID)
			if err != nil {
				pm.logger.WithError(err).Error("permission check failed")
				httputil.WriteErrorMessage(w, http.StatusInternalServerError, "permission check failed")
				return
			}

			for _, key := range keys {
				if perms.Has(key) {
					next.ServeHTTP(w, r)
					return
				}
			}

			pm.logger.WithFields(logrus.Fields{
				"user_id": authCtx.UserID,
				"firm_id": authCtx.FirmID,
				"path":    r.URL.Path,
			}).Debug("permission denied")
			httputil.WriteForbidden(w, "insufficient permissions")
		})
	}
}
