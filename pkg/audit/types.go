package audit

import "time"

// EventType identifies what happened
type EventType string

const (
	EventFirmCreate         EventType = "firm.create"
	EventFirmDelete         EventType = "firm.delete"
	EventRoleCreate         EventType = "role.create"
	EventRoleUpdate         EventType = "role.update"
	EventRoleDelete         EventType = "role.delete"
	EventMemberAdd          EventType = "member.add"
	EventMemberUpdate       EventType = "member.update"
	EventMemberRemove       EventType = "member.remove"
	EventInvitationAccept   EventType = "invitation.accept"
	EventJoinRequestApprove EventType = "join_request.approve"
	EventPlanChange         EventType = "billing.plan_change"
	EventStatusChange       EventType = "billing.status_change"
	EventAddOnPurchase      EventType = "billing.addon_purchase"
	EventAddOnCancel        EventType = "billing.addon_cancel"
)

// EventStatus is the outcome of the audited action
type EventStatus string

const (
	StatusSuccess EventStatus = "success"
	StatusDenied  EventStatus = "denied"
	StatusFailure EventStatus = "failure"
)

// ResourceType is the kind of object an event touched
type ResourceType string

const (
	ResourceFirm         ResourceType = "firm"
	ResourceRole         ResourceType = "role"
	ResourceMember       ResourceType = "member"
	ResourceInvitation   ResourceType = "invitation"
	ResourceJoinRequest  ResourceType = "join_request"
	ResourceSubscription ResourceType = "subscription"
	ResourceAddOn        ResourceType = "addon"
)

// ChangeDetails holds the before and after state of a mutation
type ChangeDetails struct {
	Before interface{} `json:"before,omitempty"`
	After  interface{} `json:"after,omitempty"`
}

// Event is one entry in a firm's audit trail
type Event struct {
	ID           string                 `json:"id"`
	FirmID       string                 `json:"firm_id"`
	ActorID      string                 `json:"actor_id,omitempty"`
	Type         EventType              `json:"event_type"`
	Status       EventStatus            `json:"status"`
	ResourceType ResourceType           `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	RequestID    string                 `json:"request_id,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	UserAgent    string                 `json:"user_agent,omitempty"`
	Method       string                 `json:"method,omitempty"`
	Path         string                 `json:"path,omitempty"`
	Message      string                 `json:"message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Changes      *ChangeDetails         `json:"changes,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// SearchFilter narrows a firm's audit trail. FirmID is required.
type SearchFilter struct {
	FirmID  string
	Types   []EventType
	ActorID string
	Since   *time.Time
	Until   *time.Time
	Limit   int
	Offset  int
}
