package billing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/caseload/pkg/firms"
)

// FirmAccount is the subset of the firm service billing depends on
type FirmAccount interface {
	GetFirm(ctx context.Context, firmID string) (*firms.Firm, error)
	SetSubscriptionStatus(ctx context.Context, firmID string, status firms.SubscriptionStatus) error
}

// LimitUpdater recomputes a firm's stored ceilings
type LimitUpdater interface {
	UpdateFirmLimits(ctx context.Context, firmID string) error
}

// Service changes plans and add-ons and keeps firm limits in step
type Service struct {
	db      *sql.DB
	catalog *Catalog
	firms   FirmAccount
	limits  LimitUpdater
	logger  *logrus.Logger
	now     func() time.Time
}

// NewService creates a new billing service
func NewService(db *sql.DB, catalog *Catalog, account FirmAccount, limits LimitUpdater, logger *logrus.Logger) *Service {
	return &Service{
		db:      db,
		catalog: catalog,
		firms:   account,
		limits:  limits,
		logger:  logger,
		now:     time.Now,
	}
}

// Catalog returns the plan and add-on catalog
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// Summary returns the firm's plan, status, ceilings and active add-ons
func (s *Service) Summary(ctx context.Context, firmID string) (*Summary, error) {
	firm, err := s.firms.GetFirm(ctx, firmID)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		FirmID:           firm.ID,
		Status:           string(firm.Status),
		TrialEndsAt:      firm.TrialEndsAt,
		MaxUsers:         firm.MaxUsers,
		CurrentUsers:     firm.CurrentUsers,
		MaxStorageBytes:  firm.MaxStorageBytes,
		StorageUsedBytes: firm.StorageUsedBytes,
	}
	if firm.PlanID != nil {
		plan, err := s.catalog.GetPlan(ctx, *firm.PlanID)
		if err != nil && err != ErrPlanNotFound {
			return nil, err
		}
		summary.Plan = plan
	}

	summary.AddOns, err = s.ListFirmAddOns(ctx, firmID, AddOnActive)
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// ChangePlan moves the firm onto planID: plan_id and max_users come from
// the plan and limits are recomputed. Choosing a plan converts a trial still
// inside its window to active; any other status is kept. A plan with fewer
// seats than the firm's active members is refused.
func (s *Service) ChangePlan(ctx context.Context, firmID, planID string) (*firms.Firm, error) {
	plan, err := s.catalog.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, ErrCatalogItemInactive
	}

	firm, err := s.firms.GetFirm(ctx, firmID)
	if err != nil {
		return nil, err
	}
	if plan.MaxUsers != nil && firm.CurrentUsers > *plan.MaxUsers {
		return nil, &firms.LimitExceededError{
			FirmID:   firmID,
			Resource: firms.ResourceSeats,
			Current:  int64(firm.CurrentUsers),
			Limit:    int64(*plan.MaxUsers),
		}
	}

	now := s.now().UTC()
	status, trialEndsAt := statusAfterPlanChange(firm, now)
	result, err := s.db.ExecContext(ctx, `
		UPDATE firms
		SET plan_id = $1, max_users = $2, subscription_status = $3, trial_ends_at = $4, updated_at = $5
		WHERE id = $6 AND deleted_at IS NULL
	`, plan.ID, plan.MaxUsers, status, trialEndsAt, now, firmID)
	if err != nil {
		return nil, fmt.Errorf("failed to change plan: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	} else if n == 0 {
		return nil, firms.ErrFirmNotFound
	}

	if err := s.limits.UpdateFirmLimits(ctx, firmID); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"firm_id": firmID,
		"plan_id": plan.ID,
		"status":  status,
	}).Info("firm plan changed")
	return s.firms.GetFirm(ctx, firmID)
}

// PurchaseAddOn records an active add-on for the firm and raises its
// storage ceiling
func (s *Service) PurchaseAddOn(ctx context.Context, firmID, addOnID string) (*FirmAddOn, error) {
	addOn, err := s.catalog.GetAddOn(ctx, addOnID)
	if err != nil {
		return nil, err
	}
	if !addOn.Active {
		return nil, ErrCatalogItemInactive
	}

	purchase := &FirmAddOn{
		ID:        uuid.NewString(),
		FirmID:    firmID,
		AddOnID:   addOn.ID,
		Name:      addOn.Name,
		StorageGB: addOn.StorageGB,
		Status:    AddOnActive,
		CreatedAt: s.now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO firm_addons (id, firm_id, addon_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, purchase.ID, purchase.FirmID, purchase.AddOnID, purchase.Status, purchase.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record add-on: %w", err)
	}

	if err := s.limits.UpdateFirmLimits(ctx, firmID); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"firm_id":  firmID,
		"addon_id": addOn.ID,
	}).Info("storage add-on purchased")
	return purchase, nil
}

// CancelAddOn cancels an active purchase and lowers the storage ceiling.
// Usage already above the new ceiling is kept; further uploads are refused.
func (s *Service) CancelAddOn(ctx context.Context, firmID, purchaseID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE firm_addons SET status = $1, canceled_at = $2
		WHERE id = $3 AND firm_id = $4 AND status = $5
	`, AddOnCanceled, s.now().UTC(), purchaseID, firmID, AddOnActive)
	if err != nil {
		return fmt.Errorf("failed to cancel add-on: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrPurchaseNotFound
	}

	if err := s.limits.UpdateFirmLimits(ctx, firmID); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"firm_id":     firmID,
		"purchase_id": purchaseID,
	}).Info("storage add-on canceled")
	return nil
}

// ListFirmAddOns lists the firm's purchases, optionally filtered by status
func (s *Service) ListFirmAddOns(ctx context.Context, firmID string, status AddOnStatus) ([]*FirmAddOn, error) {
	query := `
		SELECT fa.id, fa.firm_id, fa.addon_id, a.name, a.storage_gb, fa.status, fa.created_at, fa.canceled_at
		FROM firm_addons fa
		JOIN storage_addons a ON a.id = fa.addon_id
		WHERE fa.firm_id = $1`
	args := []interface{}{firmID}
	if status != "" {
		query += ` AND fa.status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY fa.created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list add-ons: %w", err)
	}
	defer rows.Close()

	addOns := []*FirmAddOn{}
	for rows.Next() {
		var fa FirmAddOn
		var canceledAt sql.NullTime
		if err := rows.Scan(&fa.ID, &fa.FirmID, &fa.AddOnID, &fa.Name, &fa.StorageGB,
			&fa.Status, &fa.CreatedAt, &canceledAt); err != nil {
			return nil, fmt.Errorf("failed to scan add-on: %w", err)
		}
		if canceledAt.Valid {
			fa.CanceledAt = &canceledAt.Time
		}
		addOns = append(addOns, &fa)
	}
	return addOns, rows.Err()
}

// selfServiceStatuses are the statuses a firm may move itself into. Both
// deny writes; leaving them is an operator action.
var selfServiceStatuses = map[firms.SubscriptionStatus]bool{
	firms.StatusReadOnly: true,
	firms.StatusCanceled: true,
}

// SetSubscriptionStatus applies a status change requested by the firm
// itself. Only read_only and canceled are accepted; every other target
// returns ErrStatusNotPermitted and is left to the operator command.
func (s *Service) SetSubscriptionStatus(ctx context.Context, firmID string, status firms.SubscriptionStatus) error {
	if !status.IsValid() {
		return firms.ErrInvalidStatus
	}
	if !selfServiceStatuses[status] {
		return ErrStatusNotPermitted
	}

	firm, err := s.firms.GetFirm(ctx, firmID)
	if err != nil {
		return err
	}
	if err := s.firms.SetSubscriptionStatus(ctx, firmID, status); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"firm_id":  firmID,
		"previous": firm.Status,
		"status":   status,
	}).Info("subscription status changed")
	return nil
}

// statusAfterPlanChange keeps every status a tenant cannot lift on its own
func statusAfterPlanChange(f *firms.Firm, now time.Time) (firms.SubscriptionStatus, *time.Time) {
	switch f.Status {
	case firms.StatusActive:
		return firms.StatusActive, nil
	case firms.StatusTrial:
		if firms.EvaluateWrite(f, now).Allowed {
			return firms.StatusActive, nil
		}
	}
	return f.Status, f.TrialEndsAt
}
