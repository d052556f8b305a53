package auth

import (
	"context"
	"time"

	"github.com/platinummonkey/caseload/pkg/contextkeys"
)

// User is a global identity. FirmID is set while the user belongs to a firm.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name,omitempty"`
	FirmID    *string   `json:"firm_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Context is the authenticated caller attached to a request
type Context struct {
	UserID    string
	TokenID   string
	ExpiresAt time.Time

	// FirmID is filled in after token verification from users.firm_id.
	// Empty when the caller does not belong to a firm.
	FirmID string
}

// HasFirm reports whether the caller is attached to a firm
func (c *Context) HasFirm() bool {
	return c != nil && c.FirmID != ""
}

// WithContext stores the auth context on ctx
func WithContext(ctx context.Context, authCtx *Context) context.Context {
	return contextkeys.WithAuth(ctx, authCtx)
}

// FromContext extracts the auth context, or nil when unauthenticated
func FromContext(ctx context.Context) *Context {
	authCtx, ok := ctx.Value(contextkeys.AuthKey).(*Context)
	if !ok {
		return nil
	}
	return authCtx
}
