package calendar

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/caseload/pkg/rbac"
)

// Kind distinguishes calendar events from reminders
type Kind string

const (
	KindEvent    Kind = "event"
	KindReminder Kind = "reminder"
)

// IsValid reports whether k is a known kind
func (k Kind) IsValid() bool {
	return k == KindEvent || k == KindReminder
}

// ResourceType maps the kind onto its policy resource type
func (k Kind) ResourceType() rbac.ResourceType {
	if k == KindReminder {
		return rbac.ResourceReminder
	}
	return rbac.ResourceEvent
}

// Scope is the privacy discriminator of an entry
type Scope string

const (
	ScopePersonal Scope = "personal"
	ScopeFirm     Scope = "firm"
)

// Status is the completion state of an entry. Reminders use pending and
// done; events use scheduled, done and canceled.
type Status string

const (
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled"
	StatusDone      Status = "done"
	StatusCanceled  Status = "canceled"
)

func (s Status) validFor(kind Kind) bool {
	switch kind {
	case KindReminder:
		return s == StatusPending || s == StatusDone
	case KindEvent:
		return s == StatusScheduled || s == StatusDone || s == StatusCanceled
	}
	return false
}

func defaultStatus(kind Kind) Status {
	if kind == KindReminder {
		return StatusPending
	}
	return StatusScheduled
}

// Assignees is either the sentinel "all" or an explicit list of user ids.
// On the wire and in the database it is the JSON string "all" or a JSON array.
type Assignees struct {
	All     bool
	UserIDs []string
}

// AssignAll assigns an entry to every member of the firm
func AssignAll() Assignees {
	return Assignees{All: true}
}

// AssignTo assigns an entry to the given users
func AssignTo(userIDs ...string) Assignees {
	return Assignees{UserIDs: userIDs}
}

// Contains reports whether userID is an assignee
func (a Assignees) Contains(userID string) bool {
	if a.All {
		return true
	}
	for _, id := range a.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// IsEmpty reports whether nobody is assigned
func (a Assignees) IsEmpty() bool {
	return !a.All && len(a.UserIDs) == 0
}

func (a Assignees) MarshalJSON() ([]byte, error) {
	if a.All {
		return []byte(`"all"`), nil
	}
	ids := a.UserIDs
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(ids)
}

func (a *Assignees) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*a = Assignees{}
	switch {
	case bytes.Equal(data, []byte("null")):
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s != "all" {
			return fmt.Errorf("assigned_to: expected \"all\" or an array of user ids, got %q", s)
		}
		a.All = true
		return nil
	default:
		return json.Unmarshal(data, &a.UserIDs)
	}
}

// Value implements driver.Valuer for the JSONB column
func (a Assignees) Value() (driver.Value, error) {
	return a.MarshalJSON()
}

// Scan implements sql.Scanner for the JSONB column
func (a *Assignees) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*a = Assignees{}
		return nil
	case []byte:
		return a.UnmarshalJSON(v)
	case string:
		return a.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("assigned_to: cannot scan %T", src)
	}
}

// Entry is a calendar event or reminder
type Entry struct {
	ID          string     `json:"id"`
	FirmID      string     `json:"firm_id"`
	Kind        Kind       `json:"kind"`
	Scope       Scope      `json:"scope"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	StartsAt    time.Time  `json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	Status      Status     `json:"status"`
	AssignedTo  Assignees  `json:"assigned_to"`
	CaseID      *string    `json:"case_id,omitempty"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Validate checks an entry before it is persisted and fills in the
// default status for its kind.
func (e *Entry) Validate() error {
	if !e.Kind.IsValid() {
		return &rbac.ValidationError{Field: "kind", Message: "must be event or reminder"}
	}
	if e.Scope != ScopePersonal && e.Scope != ScopeFirm {
		return &rbac.ValidationError{Field: "scope", Message: "must be personal or firm"}
	}
	if strings.TrimSpace(e.Title) == "" {
		return &rbac.ValidationError{Field: "title", Message: "is required"}
	}
	if e.StartsAt.IsZero() {
		return &rbac.ValidationError{Field: "starts_at", Message: "is required"}
	}
	if e.EndsAt != nil && e.EndsAt.Before(e.StartsAt) {
		return &rbac.ValidationError{Field: "ends_at", Message: "must not be before starts_at"}
	}
	if e.Status == "" {
		e.Status = defaultStatus(e.Kind)
	}
	if !e.Status.validFor(e.Kind) {
		return &rbac.ValidationError{Field: "status", Message: fmt.Sprintf("%q is not valid for a %s", e.Status, e.Kind)}
	}
	if e.Scope == ScopePersonal && !e.AssignedTo.IsEmpty() {
		return &rbac.ValidationError{Field: "assigned_to", Message: "personal entries cannot be assigned"}
	}
	return nil
}

// Patch is the set of fields a PATCH may change. Absent fields are nil.
type Patch struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Location    *string    `json:"location"`
	StartsAt    *time.Time `json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at"`
	Status      *Status    `json:"status"`
	AssignedTo  *Assignees `json:"assigned_to"`
	CaseID      *string    `json:"case_id"`
}

// Apply copies the present fields onto e
func (p *Patch) Apply(e *Entry) {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.Location != nil {
		e.Location = *p.Location
	}
	if p.StartsAt != nil {
		e.StartsAt = *p.StartsAt
	}
	if p.EndsAt != nil {
		e.EndsAt = p.EndsAt
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.AssignedTo != nil {
		e.AssignedTo = *p.AssignedTo
	}
	if p.CaseID != nil {
		e.CaseID = p.CaseID
	}
}

// DecodePatch decodes a raw patch body. Fields outside Patch, including
// kind and scope, are rejected.
func DecodePatch(raw map[string]json.RawMessage) (*Patch, error) {
	body, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	var p Patch
	if err := dec.Decode(&p); err != nil {
		return nil, &rbac.ValidationError{Field: "body", Message: err.Error()}
	}
	return &p, nil
}

// ListOptions filters a list query
type ListOptions struct {
	Kind Kind
	From *time.Time
	To   *time.Time
}

var (
	ErrNotFound   = errors.New("calendar entry not found")
	ErrForbidden  = errors.New("not permitted to modify calendar entry")
	ErrStatusOnly = fmt.Errorf("%w: assignees may only change status", ErrForbidden)
)
