package billing

import (
	"errors"
	"time"
)

// Plan is a subscription tier. A nil MaxUsers means unlimited seats.
type Plan struct {
	ID               string    `json:"id" yaml:"id"`
	Name             string    `json:"name" yaml:"name"`
	MaxUsers         *int      `json:"max_users,omitempty" yaml:"max_users"`
	StoragePerUserGB int       `json:"storage_per_user_gb" yaml:"storage_per_user_gb"`
	PriceCents       int64     `json:"price_cents" yaml:"price_cents"`
	Active           bool      `json:"active" yaml:"active"`
	CreatedAt        time.Time `json:"created_at" yaml:"-"`
}

// StorageAddOn is extra storage sold on top of a plan
type StorageAddOn struct {
	ID         string    `json:"id" yaml:"id"`
	Name       string    `json:"name" yaml:"name"`
	StorageGB  int       `json:"storage_gb" yaml:"storage_gb"`
	PriceCents int64     `json:"price_cents" yaml:"price_cents"`
	Active     bool      `json:"active" yaml:"active"`
	CreatedAt  time.Time `json:"created_at" yaml:"-"`
}

// AddOnStatus is the state of a purchased add-on
type AddOnStatus string

const (
	AddOnActive   AddOnStatus = "active"
	AddOnCanceled AddOnStatus = "canceled"
)

// FirmAddOn is an add-on purchased by a firm
type FirmAddOn struct {
	ID         string      `json:"id"`
	FirmID     string      `json:"firm_id"`
	AddOnID    string      `json:"addon_id"`
	Name       string      `json:"name"`
	StorageGB  int         `json:"storage_gb"`
	Status     AddOnStatus `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	CanceledAt *time.Time  `json:"canceled_at,omitempty"`
}

// Summary is the firm's current subscription picture
type Summary struct {
	FirmID           string       `json:"firm_id"`
	Status           string       `json:"subscription_status"`
	TrialEndsAt      *time.Time   `json:"trial_ends_at,omitempty"`
	Plan             *Plan        `json:"plan,omitempty"`
	MaxUsers         *int         `json:"max_users,omitempty"`
	CurrentUsers     int          `json:"current_users"`
	MaxStorageBytes  *int64       `json:"max_storage_bytes,omitempty"`
	StorageUsedBytes int64        `json:"storage_used_bytes"`
	AddOns           []*FirmAddOn `json:"addons"`
}

// ChangePlanRequest represents request to move a firm to another plan
type ChangePlanRequest struct {
	PlanID string `json:"plan_id"`
}

// PurchaseAddOnRequest represents request to buy a storage add-on
type PurchaseAddOnRequest struct {
	AddOnID string `json:"addon_id"`
}

// SetStatusRequest represents an explicit subscription status transition
type SetStatusRequest struct {
	Status string `json:"status"`
}

// CatalogFile is the YAML layout accepted by Catalog.Seed
type CatalogFile struct {
	Plans  []Plan         `yaml:"plans"`
	AddOns []StorageAddOn `yaml:"addons"`
}

// DefaultCatalog returns the plans and add-ons seeded on a fresh install
func DefaultCatalog() CatalogFile {
	solo, team := 1, 10
	return CatalogFile{
		Plans: []Plan{
			{ID: "solo", Name: "Solo", MaxUsers: &solo, StoragePerUserGB: 5, PriceCents: 1900, Active: true},
			{ID: "team", Name: "Team", MaxUsers: &team, StoragePerUserGB: 10, PriceCents: 7900, Active: true},
			{ID: "firm", Name: "Firm", StoragePerUserGB: 25, PriceCents: 24900, Active: true},
		},
		AddOns: []StorageAddOn{
			{ID: "storage-10", Name: "10 GB storage", StorageGB: 10, PriceCents: 500, Active: true},
			{ID: "storage-100", Name: "100 GB storage", StorageGB: 100, PriceCents: 3900, Active: true},
		},
	}
}

var (
	ErrPlanNotFound        = errors.New("plan not found")
	ErrAddOnNotFound       = errors.New("add-on not found")
	ErrPurchaseNotFound    = errors.New("add-on purchase not found")
	ErrCatalogItemInactive = errors.New("catalog item is no longer offered")
	ErrStatusNotPermitted  = errors.New("this subscription status can only be set by an operator")
)
