package practice

import (
	"errors"
	"strings"
	"time"

	"github.com/platinummonkey/caseload/pkg/rbac"
)

// Base carries the columns every practice record shares. FirmID and
// CreatedBy are set by the repository, never by request bodies.
type Base struct {
	ID        string    `json:"id"`
	FirmID    string    `json:"firm_id"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (b *Base) base() *Base { return b }

// Meta returns the shared columns of the record
func (b *Base) Meta() *Base { return b }

// Client is a person or organization the firm represents
type Client struct {
	Base
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

func (c *Client) columns() []string {
	return []string{"name", "email", "phone", "address", "notes"}
}

func (c *Client) values() []interface{} {
	return []interface{}{c.Name, c.Email, c.Phone, c.Address, c.Notes}
}

func (c *Client) targets() []interface{} {
	return []interface{}{&c.Name, &c.Email, &c.Phone, &c.Address, &c.Notes}
}

// Validate checks the client before it is persisted
func (c *Client) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return &rbac.ValidationError{Field: "name", Message: "is required"}
	}
	return nil
}

// CaseStatus is the lifecycle state of a case
type CaseStatus string

const (
	CaseOpen    CaseStatus = "open"
	CasePending CaseStatus = "pending"
	CaseClosed  CaseStatus = "closed"
)

// Case is a legal matter, optionally linked to a client
type Case struct {
	Base
	Title       string     `json:"title"`
	Number      string     `json:"number,omitempty"`
	ClientID    *string    `json:"client_id,omitempty"`
	Court       string     `json:"court,omitempty"`
	Status      CaseStatus `json:"status"`
	Description string     `json:"description,omitempty"`
	OpenedAt    *time.Time `json:"opened_at,omitempty"`
}

func (c *Case) columns() []string {
	return []string{"title", "number", "client_id", "court", "status", "description", "opened_at"}
}

func (c *Case) values() []interface{} {
	return []interface{}{c.Title, c.Number, c.ClientID, c.Court, c.Status, c.Description, c.OpenedAt}
}

func (c *Case) targets() []interface{} {
	return []interface{}{&c.Title, &c.Number, &c.ClientID, &c.Court, &c.Status, &c.Description, &c.OpenedAt}
}

// Validate checks the case before it is persisted. An empty status
// defaults to open.
func (c *Case) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return &rbac.ValidationError{Field: "title", Message: "is required"}
	}
	switch c.Status {
	case "":
		c.Status = CaseOpen
	case CaseOpen, CasePending, CaseClosed:
	default:
		return &rbac.ValidationError{Field: "status", Message: "must be open, pending or closed"}
	}
	return nil
}

// WorkStatus is the state of a general work item
type WorkStatus string

const (
	WorkTodo       WorkStatus = "todo"
	WorkInProgress WorkStatus = "in_progress"
	WorkDone       WorkStatus = "done"
)

// GeneralWork is firm work not tied to a case: filings, research, admin
type GeneralWork struct {
	Base
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      WorkStatus `json:"status"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CaseID      *string    `json:"case_id,omitempty"`
}

func (g *GeneralWork) columns() []string {
	return []string{"title", "description", "status", "due_date", "case_id"}
}

func (g *GeneralWork) values() []interface{} {
	return []interface{}{g.Title, g.Description, g.Status, g.DueDate, g.CaseID}
}

func (g *GeneralWork) targets() []interface{} {
	return []interface{}{&g.Title, &g.Description, &g.Status, &g.DueDate, &g.CaseID}
}

// Validate checks the work item before it is persisted
func (g *GeneralWork) Validate() error {
	if strings.TrimSpace(g.Title) == "" {
		return &rbac.ValidationError{Field: "title", Message: "is required"}
	}
	switch g.Status {
	case "":
		g.Status = WorkTodo
	case WorkTodo, WorkInProgress, WorkDone:
	default:
		return &rbac.ValidationError{Field: "status", Message: "must be todo, in_progress or done"}
	}
	return nil
}

// ListOptions pages and filters a list query
type ListOptions struct {
	Limit  int
	Offset int
	// Search matches the record's title or name, case-insensitively
	Search string
}

var ErrNotFound = errors.New("record not found")
