package middleware

import (
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/caseload/pkg/auth"
	"github.com/platinummonkey/caseload/pkg/httputil"
)

// TokenValidator verifies bearer tokens. auth.TokenManager implements it.
type TokenValidator interface {
	Validate(token string) (*auth.Context, error)
}

// AuthMiddleware provides bearer-token authentication
type AuthMiddleware struct {
	validator TokenValidator
	logger    *logrus.Logger
	optional  bool // If true, allow requests without auth
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(validator TokenValidator, logger *logrus.Logger, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		logger:    logger,
		optional:  optional,
	}
}

// Handler wraps an HTTP handler with authentication. Missing, malformed,
// invalid and expired tokens all answer 401.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		// Format: "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		authCtx, err := m.validator.Validate(parts[1])
		if err != nil {
			m.logger.WithError(err).Debug("token rejected")
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithContext(r.Context(), authCtx)))
	})
}

// GetAuthContext extracts auth context from request
func GetAuthContext(r *http.Request) *auth.Context {
	return auth.FromContext(r.Context())
}
