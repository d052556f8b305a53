package rbac

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrRoleNotFound is returned when a role does not exist within the firm
	ErrRoleNotFound = errors.New("role not found")
	// ErrMembershipNotFound is returned when the user has no active membership
	ErrMembershipNotFound = errors.New("membership not found")
	// ErrFirmNotFound is returned when the firm does not exist
	ErrFirmNotFound = errors.New("firm not found")
)

// Directory is the read side the evaluator needs. Store implements it.
type Directory interface {
	// GetFirmAdminID returns the designated admin of the firm or ErrFirmNotFound
	GetFirmAdminID(ctx context.Context, firmID string) (string, error)
	// GetActiveMembership returns the active membership or ErrMembershipNotFound
	GetActiveMembership(ctx context.Context, firmID, userID string) (*Membership, error)
	// GetRole returns the role or ErrRoleNotFound
	GetRole(ctx context.Context, firmID, roleID string) (*Role, error)
}

// DecisionRecorder observes authorization outcomes (metrics)
type DecisionRecorder interface {
	RecordDecision(check string, allowed bool)
}

// Checker is the authorization surface consumed by the route layer
type Checker interface {
	IsFirmAdmin(ctx context.Context, userID, firmID string) (bool, error)
	EffectivePermissions(ctx context.Context, userID, firmID string) (PermissionSet, error)
	RequirePermission(ctx context.Context, userID, firmID string, key PermissionKey) (bool, error)
	RequireResourcePermission(ctx context.Context, userID, firmID string, resourceType ResourceType, resourceID, action string) (bool, error)
	AccessibleResourceIDs(ctx context.Context, userID, firmID string, resourceType ResourceType) (ResourceScope, error)
}

// Evaluator implements Checker. Every call re-reads the directory; nothing
// is cached so that role and membership changes apply to the next request.
// Denials are returned as false, never as errors. Errors mean the
// directory could not be read.
type Evaluator struct {
	dir      Directory
	recorder DecisionRecorder
}

var _ Checker = (*Evaluator)(nil)

// NewEvaluator creates a new evaluator
func NewEvaluator(dir Directory) *Evaluator {
	return &Evaluator{dir: dir}
}

// WithRecorder attaches a decision recorder
func (e *Evaluator) WithRecorder(recorder DecisionRecorder) *Evaluator {
	e.recorder = recorder
	return e
}

// subject is everything known about a user within one firm
type subject struct {
	adminID    string
	membership *Membership
	role       *Role
}

func (s *subject) isAdmin(userID string) bool {
	if s.adminID != "" && s.adminID == userID {
		return true
	}
	return s.membership != nil && s.role.IsAdminRole()
}

func (s *subject) rules() []ResourceRule {
	if s.role == nil {
		return nil
	}
	return s.role.Policy.Resources
}

func (e *Evaluator) load(ctx context.Context, userID, firmID string) (*subject, error) {
	s := &subject{}

	adminID, err := e.dir.GetFirmAdminID(ctx, firmID)
	switch {
	case errors.Is(err, ErrFirmNotFound):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("failed to load firm: %w", err)
	}
	s.adminID = adminID

	membership, err := e.dir.GetActiveMembership(ctx, firmID, userID)
	switch {
	case errors.Is(err, ErrMembershipNotFound):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("failed to load membership: %w", err)
	}
	s.membership = membership

	if membership.RoleID == nil {
		return s, nil
	}
	role, err := e.dir.GetRole(ctx, firmID, *membership.RoleID)
	switch {
	case errors.Is(err, ErrRoleNotFound):
		// A dangling role id leaves only the custom permissions.
	case err != nil:
		return nil, fmt.Errorf("failed to load role: %w", err)
	default:
		s.role = role
	}
	return s, nil
}

// IsFirmAdmin is the single admin seam: the firm's designated admin, or an
// active member whose role is named "admin".
func (e *Evaluator) IsFirmAdmin(ctx context.Context, userID, firmID string) (bool, error) {
	s, err := e.load(ctx, userID, firmID)
	if err != nil {
		return false, err
	}
	return s.isAdmin(userID), nil
}

// EffectivePermissions returns role keys, custom keys and the admin
// baseline. A user without an active membership gets an empty set.
func (e *Evaluator) EffectivePermissions(ctx context.Context, userID, firmID string) (PermissionSet, error) {
	s, err := e.load(ctx, userID, firmID)
	if err != nil {
		return nil, err
	}
	return effectivePermissions(s, userID), nil
}

func effectivePermissions(s *subject, userID string) PermissionSet {
	perms := NewPermissionSet()
	if s.membership == nil {
		return perms
	}
	if s.role != nil {
		perms.Add(s.role.Permissions...)
	}
	perms.Add(s.membership.CustomPermissions...)
	if s.isAdmin(userID) {
		perms.Add(adminBaseline...)
	}
	return perms
}

// RequirePermission is an exact membership test against the effective set
func (e *Evaluator) RequirePermission(ctx context.Context, userID, firmID string, key PermissionKey) (bool, error) {
	perms, err := e.EffectivePermissions(ctx, userID, firmID)
	if err != nil {
		return false, err
	}
	allowed := perms.Has(key)
	e.record("permission", allowed)
	return allowed, nil
}

// RequireResourcePermission evaluates the role policy for one resource.
// Admins always pass. Exact rules are consulted before the collection
// wildcard; with no deny rules the order only affects short-circuiting.
func (e *Evaluator) RequireResourcePermission(ctx context.Context, userID, firmID string, resourceType ResourceType, resourceID, action string) (bool, error) {
	s, err := e.load(ctx, userID, firmID)
	if err != nil {
		return false, err
	}
	allowed := resourceAllowed(s, userID, resourceType, resourceID, action)
	e.record("resource", allowed)
	return allowed, nil
}

func resourceAllowed(s *subject, userID string, resourceType ResourceType, resourceID, action string) bool {
	if s.isAdmin(userID) {
		return true
	}
	if s.membership == nil {
		return false
	}

	rules := s.rules()
	for _, rule := range rules {
		if rule.Type == resourceType && rule.ResourceID == resourceID && rule.Grants(action) {
			return true
		}
	}
	for _, rule := range rules {
		if rule.Type == resourceType && rule.IsWildcard() && rule.Grants(action) {
			return true
		}
	}
	return false
}

// AccessibleResourceIDs returns the list scope for a resource type. It
// answers visibility only; mutating an item still needs a per-item
// RequireResourcePermission.
func (e *Evaluator) AccessibleResourceIDs(ctx context.Context, userID, firmID string, resourceType ResourceType) (ResourceScope, error) {
	s, err := e.load(ctx, userID, firmID)
	if err != nil {
		return ResourceScope{}, err
	}
	scope := accessibleResourceIDs(s, userID, resourceType)
	e.record("list", !scope.None())
	return scope, nil
}

func accessibleResourceIDs(s *subject, userID string, resourceType ResourceType) ResourceScope {
	if s.isAdmin(userID) {
		return ResourceScope{All: true, IDs: []string{}}
	}
	if s.membership == nil {
		return ResourceScope{IDs: []string{}}
	}

	ids := []string{}
	seen := make(map[string]struct{})
	for _, rule := range s.rules() {
		if rule.Type != resourceType || !rule.Grants(ActionView) {
			continue
		}
		if rule.IsWildcard() {
			return ResourceScope{All: true, IDs: []string{}}
		}
		if _, ok := seen[rule.ResourceID]; ok {
			continue
		}
		seen[rule.ResourceID] = struct{}{}
		ids = append(ids, rule.ResourceID)
	}
	return ResourceScope{IDs: ids}
}

func (e *Evaluator) record(check string, allowed bool) {
	if e.recorder != nil {
		e.recorder.RecordDecision(check, allowed)
	}
}
