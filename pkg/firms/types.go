package firms

import (
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/caseload/pkg/rbac"
)

// SubscriptionStatus is the billing state of a firm
type SubscriptionStatus string

const (
	StatusTrial    SubscriptionStatus = "trial"
	StatusActive   SubscriptionStatus = "active"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
	StatusExpired  SubscriptionStatus = "expired"
	StatusReadOnly SubscriptionStatus = "read_only"
)

// IsValid reports whether s is a known status
func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case StatusTrial, StatusActive, StatusPastDue, StatusCanceled, StatusExpired, StatusReadOnly:
		return true
	}
	return false
}

// Firm is the tenant root
type Firm struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	AdminID          string             `json:"admin_id"`
	PlanID           *string            `json:"plan_id,omitempty"`
	Status           SubscriptionStatus `json:"subscription_status"`
	TrialEndsAt      *time.Time         `json:"trial_ends_at,omitempty"`
	MaxUsers         *int               `json:"max_users,omitempty"`
	CurrentUsers     int                `json:"current_users"`
	MaxStorageBytes  *int64             `json:"max_storage_bytes,omitempty"`
	StorageUsedBytes int64              `json:"storage_used_bytes"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	DeletedAt        *time.Time         `json:"deleted_at,omitempty"`
}

// User is a global identity, attached to at most one firm
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	FirmID    *string   `json:"firm_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Member is a membership joined with the user and role it points at
type Member struct {
	rbac.Membership
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	RoleName string `json:"role_name,omitempty"`
}

// Invitation invites an email address into a firm with a role
type Invitation struct {
	ID         string     `json:"id"`
	FirmID     string     `json:"firm_id"`
	Email      string     `json:"email"`
	RoleID     *string    `json:"role_id,omitempty"`
	Token      string     `json:"token,omitempty"`
	InvitedBy  string     `json:"invited_by"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	AcceptedBy *string    `json:"accepted_by,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// JoinRequestStatus is the decision state of a join request
type JoinRequestStatus string

const (
	JoinPending  JoinRequestStatus = "pending"
	JoinApproved JoinRequestStatus = "approved"
	JoinRejected JoinRequestStatus = "rejected"
)

// JoinRequest is a user asking to join a firm
type JoinRequest struct {
	ID        string            `json:"id"`
	FirmID    string            `json:"firm_id"`
	UserID    string            `json:"user_id"`
	Message   string            `json:"message,omitempty"`
	Status    JoinRequestStatus `json:"status"`
	DecidedBy *string           `json:"decided_by,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// CreateFirmRequest represents request to create a firm
type CreateFirmRequest struct {
	Name string `json:"name"`
}

// UpdateMemberRequest changes a member's role and/or custom permissions.
// Nil fields are left untouched. Assigning a system role or a firm.* key
// requires ByFirmAdmin, which the route layer sets from the caller.
type UpdateMemberRequest struct {
	RoleID            *string              `json:"role_id,omitempty"`
	CustomPermissions []rbac.PermissionKey `json:"custom_permissions,omitempty"`
	ByFirmAdmin       bool                 `json:"-"`
}

// WriteDecision is the result of the subscription write gate
type WriteDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Limit resources reported by LimitExceededError
const (
	ResourceSeats   = "seats"
	ResourceStorage = "storage"
)

// LimitExceededError reports a seat or storage ceiling
type LimitExceededError struct {
	FirmID   string
	Resource string
	Current  int64
	Limit    int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s limit exceeded (%d of %d)", e.Resource, e.Current, e.Limit)
}

// IsLimitExceeded reports whether err wraps a LimitExceededError
func IsLimitExceeded(err error) bool {
	var limitErr *LimitExceededError
	return errors.As(err, &limitErr)
}

// WriteDeniedError is returned by flows that run the write gate themselves
type WriteDeniedError struct {
	Reason string
}

func (e *WriteDeniedError) Error() string {
	return "firm is not allowed to write: " + e.Reason
}

var (
	ErrFirmNotFound         = rbac.ErrFirmNotFound
	ErrUserNotFound         = errors.New("user not found")
	ErrMemberNotFound       = errors.New("member not found")
	ErrAlreadyInFirm        = errors.New("user already belongs to a firm")
	ErrAlreadyMember        = errors.New("user is already an active member of this firm")
	ErrCannotModifyAdmin    = errors.New("the firm admin's membership cannot be changed")
	ErrPrivilegedGrant      = errors.New("only the firm admin may grant system roles or firm permissions")
	ErrRoleNotInFirm        = errors.New("role does not belong to this firm")
	ErrInvitationNotFound   = errors.New("invitation not found")
	ErrInvitationUsed       = errors.New("invitation already accepted or revoked")
	ErrInvitationExpired    = errors.New("invitation expired")
	ErrInvitationMismatch   = errors.New("invitation was issued to a different email")
	ErrJoinRequestNotFound  = errors.New("join request not found")
	ErrJoinRequestDuplicate = errors.New("a pending join request already exists")
	ErrJoinRequestDecided   = errors.New("join request already decided")
	ErrInvalidStatus        = errors.New("invalid subscription status")
	ErrDuplicateEmail       = errors.New("email already registered")
)
