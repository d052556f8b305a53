package rbac

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// PermissionKey is a flat, firm-scoped permission. Keys are compared
// exactly; "cases.view" and "cases.view_all" are unrelated.
type PermissionKey string

const (
	PermFirmViewDashboard  PermissionKey = "firm.view_dashboard"
	PermFirmManageSettings PermissionKey = "firm.manage_settings"
	PermFirmViewSettings   PermissionKey = "firm.view_settings"
	PermFirmManageUsers    PermissionKey = "firm.manage_users"
	PermFirmManageRoles    PermissionKey = "firm.manage_roles"
	PermFirmManageRequests PermissionKey = "firm.manage_requests"

	PermCasesView   PermissionKey = "cases.view"
	PermCasesCreate PermissionKey = "cases.create"

	PermClientsView   PermissionKey = "clients.view"
	PermClientsCreate PermissionKey = "clients.create"

	PermGeneralWorkView   PermissionKey = "general_work.view"
	PermGeneralWorkCreate PermissionKey = "general_work.create"
	PermGeneralWorkEdit   PermissionKey = "general_work.edit"
	PermGeneralWorkDelete PermissionKey = "general_work.delete"

	PermCalendarViewFirm     PermissionKey = "calendar.view_firm"
	PermCalendarManageFirm   PermissionKey = "calendar.manage_firm"
	PermCalendarViewPersonal PermissionKey = "calendar.view_personal"

	PermRemindersViewFirm   PermissionKey = "reminders.view_firm"
	PermRemindersManageFirm PermissionKey = "reminders.manage_firm"
	PermRemindersManageOwn  PermissionKey = "reminders.manage_own"

	PermDocumentsUpload PermissionKey = "documents.upload"

	PermReportsView PermissionKey = "reports.view"
)

var allPermissionKeys = []PermissionKey{
	PermFirmViewDashboard, PermFirmManageSettings, PermFirmViewSettings,
	PermFirmManageUsers, PermFirmManageRoles, PermFirmManageRequests,
	PermCasesView, PermCasesCreate,
	PermClientsView, PermClientsCreate,
	PermGeneralWorkView, PermGeneralWorkCreate, PermGeneralWorkEdit, PermGeneralWorkDelete,
	PermCalendarViewFirm, PermCalendarManageFirm, PermCalendarViewPersonal,
	PermRemindersViewFirm, PermRemindersManageFirm, PermRemindersManageOwn,
	PermDocumentsUpload,
	PermReportsView,
}

// adminBaseline is implied for the firm admin regardless of explicit grants
var adminBaseline = []PermissionKey{
	PermFirmViewDashboard,
	PermFirmManageSettings,
	PermFirmViewSettings,
	PermFirmManageUsers,
	PermFirmManageRoles,
	PermFirmManageRequests,
}

// AllPermissionKeys returns the closed set of known permission keys
func AllPermissionKeys() []PermissionKey {
	keys := make([]PermissionKey, len(allPermissionKeys))
	copy(keys, allPermissionKeys)
	return keys
}

// IsKnownPermission reports whether key belongs to the closed set
func IsKnownPermission(key PermissionKey) bool {
	for _, k := range allPermissionKeys {
		if k == key {
			return true
		}
	}
	return false
}

// PermissionSet is an unordered set of permission keys
type PermissionSet map[PermissionKey]struct{}

// NewPermissionSet builds a set from keys
func NewPermissionSet(keys ...PermissionKey) PermissionSet {
	set := make(PermissionSet, len(keys))
	set.Add(keys...)
	return set
}

// Add inserts keys into the set
func (s PermissionSet) Add(keys ...PermissionKey) {
	for _, k := range keys {
		s[k] = struct{}{}
	}
}

// Has reports exact membership
func (s PermissionSet) Has(key PermissionKey) bool {
	_, ok := s[key]
	return ok
}

// Keys returns the keys in sorted order
func (s PermissionSet) Keys() []PermissionKey {
	keys := make([]PermissionKey, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// ResourceType identifies a class of firm resources that policies can scope
type ResourceType string

const (
	ResourceCase        ResourceType = "case"
	ResourceClient      ResourceType = "client"
	ResourceGeneralWork ResourceType = "general_work"
	ResourceEvent       ResourceType = "event"
	ResourceReminder    ResourceType = "reminder"
	ResourceDocument    ResourceType = "document"
	ResourceHearing     ResourceType = "hearing"
	ResourceJudgment    ResourceType = "judgment"
)

// AllResourceTypes returns every resource type a policy may reference
func AllResourceTypes() []ResourceType {
	return []ResourceType{
		ResourceCase, ResourceClient, ResourceGeneralWork, ResourceEvent,
		ResourceReminder, ResourceDocument, ResourceHearing, ResourceJudgment,
	}
}

// IsValid reports whether the resource type is known
func (t ResourceType) IsValid() bool {
	for _, rt := range AllResourceTypes() {
		if rt == t {
			return true
		}
	}
	return false
}

// Well-known actions. Actions are free-form strings compared case-sensitively.
const (
	ActionView   = "view"
	ActionCreate = "create"
	ActionEdit   = "edit"
	ActionDelete = "delete"
	ActionAny    = "*"
)

// Wildcard as a resource id matches every resource of the rule's type
const Wildcard = "*"

// ResourceRule grants actions on one resource, or on all resources of a type
type ResourceRule struct {
	Type       ResourceType `json:"type"`
	ResourceID string       `json:"resourceId"`
	Actions    []string     `json:"actions"`
}

// IsWildcard reports whether the rule covers the whole collection
func (r ResourceRule) IsWildcard() bool {
	return r.ResourceID == Wildcard
}

// Grants reports whether the rule allows action
func (r ResourceRule) Grants(action string) bool {
	for _, a := range r.Actions {
		if a == action || a == ActionAny {
			return true
		}
	}
	return false
}

// Policy is the fine-grained part of a role
type Policy struct {
	Resources []ResourceRule `json:"resources"`
}

// Validate checks every rule. It runs when a role is saved so that
// evaluation never has to deal with malformed rules.
func (p Policy) Validate() error {
	for i, rule := range p.Resources {
		field := fmt.Sprintf("policy.resources[%d]", i)
		if !rule.Type.IsValid() {
			return &ValidationError{Field: field + ".type", Message: fmt.Sprintf("unknown resource type %q", rule.Type)}
		}
		if strings.TrimSpace(rule.ResourceID) == "" {
			return &ValidationError{Field: field + ".resourceId", Message: "resource id is required"}
		}
		if len(rule.Actions) == 0 {
			return &ValidationError{Field: field + ".actions", Message: "at least one action is required"}
		}
		for _, a := range rule.Actions {
			if strings.TrimSpace(a) == "" {
				return &ValidationError{Field: field + ".actions", Message: "actions must not be empty"}
			}
		}
	}
	return nil
}

// Role is a named permission bundle owned by a firm
type Role struct {
	ID          string          `json:"id"`
	FirmID      string          `json:"firm_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Permissions []PermissionKey `json:"permissions"`
	Policy      Policy          `json:"policy"`
	IsSystem    bool            `json:"is_system"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Validate checks the role before it is persisted
func (r *Role) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return &ValidationError{Field: "name", Message: "role name is required"}
	}
	if r.FirmID == "" {
		return &ValidationError{Field: "firm_id", Message: "firm id is required"}
	}
	if !r.IsSystem && isReservedRoleName(r.Name) {
		return &ValidationError{Field: "name", Message: fmt.Sprintf("%q is reserved for system roles", r.Name)}
	}
	for _, key := range r.Permissions {
		if !IsKnownPermission(key) {
			return &ValidationError{Field: "permissions", Message: fmt.Sprintf("unknown permission %q", key)}
		}
	}
	return r.Policy.Validate()
}

// IsAdminRole reports whether the role confers firm-admin status. Only the
// synthesized admin role does; a custom role cannot carry that name.
func (r *Role) IsAdminRole() bool {
	return r != nil && r.IsSystem && r.Name == RoleNameAdmin
}

func isReservedRoleName(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	return n == RoleNameOwner || n == RoleNameAdmin
}

// Names of the roles synthesized at firm creation
const (
	RoleNameOwner = "owner"
	RoleNameAdmin = "admin"
)

// SystemRoles returns the owner and admin roles for a new firm. Both
// carry every permission key; the owner role also holds a wildcard rule
// on every resource type.
func SystemRoles(firmID string) []*Role {
	ownerPolicy := Policy{}
	for _, rt := range AllResourceTypes() {
		ownerPolicy.Resources = append(ownerPolicy.Resources, ResourceRule{
			Type:       rt,
			ResourceID: Wildcard,
			Actions:    []string{ActionAny},
		})
	}

	return []*Role{
		{
			FirmID:      firmID,
			Name:        RoleNameOwner,
			Description: "Firm owner with full access",
			Permissions: AllPermissionKeys(),
			Policy:      ownerPolicy,
			IsSystem:    true,
		},
		{
			FirmID:      firmID,
			Name:        RoleNameAdmin,
			Description: "Firm administrator",
			Permissions: AllPermissionKeys(),
			IsSystem:    true,
		},
	}
}

// RoleTemplate is a suggested starting point for custom roles
type RoleTemplate struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Permissions []PermissionKey `json:"permissions"`
	Policy      Policy          `json:"policy"`
}

// CommonRoleTemplates returns templates offered in the role editor
func CommonRoleTemplates() []RoleTemplate {
	return []RoleTemplate{
		{
			Name:        "associate",
			Description: "Works every case and client, cannot manage the firm",
			Permissions: []PermissionKey{
				PermFirmViewDashboard, PermCasesView, PermCasesCreate, PermClientsView,
				PermCalendarViewFirm, PermCalendarViewPersonal,
				PermRemindersViewFirm, PermRemindersManageOwn, PermDocumentsUpload,
			},
			Policy: Policy{Resources: []ResourceRule{
				{Type: ResourceCase, ResourceID: Wildcard, Actions: []string{ActionView, ActionEdit}},
				{Type: ResourceClient, ResourceID: Wildcard, Actions: []string{ActionView}},
				{Type: ResourceDocument, ResourceID: Wildcard, Actions: []string{ActionView}},
			}},
		},
		{
			Name:        "paralegal",
			Description: "Read access to assigned matters",
			Permissions: []PermissionKey{
				PermFirmViewDashboard, PermCalendarViewPersonal, PermRemindersManageOwn,
			},
		},
		{
			Name:        "accountant",
			Description: "Reports and billing settings",
			Permissions: []PermissionKey{
				PermFirmViewDashboard, PermFirmViewSettings, PermReportsView,
			},
		},
	}
}

// MembershipStatus is the lifecycle state of a firm membership
type MembershipStatus string

const (
	MembershipActive  MembershipStatus = "active"
	MembershipPending MembershipStatus = "pending"
	MembershipDeleted MembershipStatus = "deleted"
)

// Membership binds a user to a firm. Rows are never physically deleted.
type Membership struct {
	ID                string           `json:"id"`
	FirmID            string           `json:"firm_id"`
	UserID            string           `json:"user_id"`
	RoleID            *string          `json:"role_id,omitempty"`
	Status            MembershipStatus `json:"status"`
	CustomPermissions []PermissionKey  `json:"custom_permissions"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// ResourceScope is the result of a list-visibility query. All is checked
// first; All=false with no IDs means the caller sees nothing.
type ResourceScope struct {
	All bool     `json:"all"`
	IDs []string `json:"ids"`
}

// None reports the closed-world "nothing visible" case
func (s ResourceScope) None() bool {
	return !s.All && len(s.IDs) == 0
}

// Contains reports whether id is inside the scope
func (s ResourceScope) Contains(id string) bool {
	if s.All {
		return true
	}
	for _, v := range s.IDs {
		if v == id {
			return true
		}
	}
	return false
}

// ValidationError is returned when a role or policy is rejected at save time
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
