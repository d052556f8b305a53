package firms

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/caseload/pkg/rbac"
)

const bytesPerGB int64 = 1024 * 1024 * 1024

// LimitsConfig holds the ceilings applied while a firm has no paid plan
type LimitsConfig struct {
	TrialDays             int
	TrialMaxUsers         int // 0 means unlimited
	TrialStoragePerUserGB int
}

// DefaultLimitsConfig returns the trial defaults
func DefaultLimitsConfig() LimitsConfig {
	return LimitsConfig{
		TrialDays:             14,
		TrialMaxUsers:         3,
		TrialStoragePerUserGB: 1,
	}
}

// RejectionRecorder receives one call per seat or storage rejection
type RejectionRecorder interface {
	RecordLimitRejection(resource string)
}

// Guard is the subscription and limit gate. Every method reads the firm row
// fresh; nothing is cached between calls.
type Guard struct {
	db       *sql.DB
	cfg      LimitsConfig
	now      func() time.Time
	recorder RejectionRecorder
}

// NewGuard creates a new limit guard
func NewGuard(db *sql.DB, cfg LimitsConfig) *Guard {
	return &Guard{db: db, cfg: cfg, now: time.Now}
}

// WithRecorder attaches a rejection recorder
func (g *Guard) WithRecorder(r RejectionRecorder) *Guard {
	g.recorder = r
	return g
}

// CanFirmWrite reports whether the firm may persist changes. A missing or
// deleted firm is denied without an error.
func (g *Guard) CanFirmWrite(ctx context.Context, firmID string) (WriteDecision, error) {
	firm, err := loadFirm(ctx, g.db, firmID)
	if errors.Is(err, ErrFirmNotFound) {
		return WriteDecision{Allowed: false, Reason: "firm not found"}, nil
	}
	if err != nil {
		return WriteDecision{}, err
	}
	return EvaluateWrite(firm, g.now()), nil
}

// RequireWrite is CanFirmWrite for flows outside the HTTP write gate
func (g *Guard) RequireWrite(ctx context.Context, firmID string) error {
	decision, err := g.CanFirmWrite(ctx, firmID)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return &WriteDeniedError{Reason: decision.Reason}
	}
	return nil
}

// EvaluateWrite applies the write rules to an already loaded firm
func EvaluateWrite(f *Firm, now time.Time) WriteDecision {
	switch f.Status {
	case StatusReadOnly:
		return WriteDecision{Reason: "firm is read-only"}
	case StatusExpired:
		return WriteDecision{Reason: "subscription expired"}
	case StatusCanceled:
		return WriteDecision{Reason: "subscription canceled"}
	case StatusTrial:
		if f.TrialEndsAt != nil && now.After(*f.TrialEndsAt) {
			return WriteDecision{Reason: "trial period has ended"}
		}
	}
	return WriteDecision{Allowed: true}
}

// CheckUserSeats returns a LimitExceededError when every seat is taken
func (g *Guard) CheckUserSeats(ctx context.Context, firmID string) error {
	var maxUsers sql.NullInt64
	err := g.db.QueryRowContext(ctx,
		`SELECT max_users FROM firms WHERE id = $1 AND deleted_at IS NULL`, firmID).Scan(&maxUsers)
	if err == sql.ErrNoRows {
		return ErrFirmNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get seat limit: %w", err)
	}
	if !maxUsers.Valid {
		return nil
	}

	active, err := countActiveMembers(ctx, g.db, firmID)
	if err != nil {
		return err
	}
	if int64(active) >= maxUsers.Int64 {
		g.reject(ResourceSeats)
		return &LimitExceededError{
			FirmID:   firmID,
			Resource: ResourceSeats,
			Current:  int64(active),
			Limit:    maxUsers.Int64,
		}
	}
	return nil
}

// HasUserSeats reports whether one more active member fits
func (g *Guard) HasUserSeats(ctx context.Context, firmID string) (bool, error) {
	return boolFromCheck(g.CheckUserSeats(ctx, firmID))
}

// CheckStorage returns a LimitExceededError when incomingBytes would not fit
func (g *Guard) CheckStorage(ctx context.Context, firmID string, incomingBytes int64) error {
	var maxBytes sql.NullInt64
	var used int64
	err := g.db.QueryRowContext(ctx,
		`SELECT max_storage_bytes, storage_used_bytes FROM firms WHERE id = $1 AND deleted_at IS NULL`,
		firmID).Scan(&maxBytes, &used)
	if err == sql.ErrNoRows {
		return ErrFirmNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get storage limit: %w", err)
	}
	if !maxBytes.Valid {
		return nil
	}

	if used+incomingBytes > maxBytes.Int64 {
		g.reject(ResourceStorage)
		return &LimitExceededError{
			FirmID:   firmID,
			Resource: ResourceStorage,
			Current:  used + incomingBytes,
			Limit:    maxBytes.Int64,
		}
	}
	return nil
}

// HasStorageSpace reports whether incomingBytes fit under the ceiling
func (g *Guard) HasStorageSpace(ctx context.Context, firmID string, incomingBytes int64) (bool, error) {
	return boolFromCheck(g.CheckStorage(ctx, firmID, incomingBytes))
}

// UpdateFirmLimits recomputes the storage ceiling from the plan, the seat
// count and the active add-ons, and refreshes current_users.
func (g *Guard) UpdateFirmLimits(ctx context.Context, firmID string) error {
	var (
		maxUsers  sql.NullInt64
		perUserGB sql.NullInt64
		active    int
		addOnGB   int64
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return g.db.QueryRowContext(egCtx, `
			SELECT f.max_users, p.storage_per_user_gb
			FROM firms f
			LEFT JOIN plans p ON p.id = f.plan_id
			WHERE f.id = $1 AND f.deleted_at IS NULL
		`, firmID).Scan(&maxUsers, &perUserGB)
	})
	eg.Go(func() error {
		var err error
		active, err = countActiveMembers(egCtx, g.db, firmID)
		return err
	})
	eg.Go(func() error {
		return g.db.QueryRowContext(egCtx, `
			SELECT COALESCE(SUM(a.storage_gb), 0)
			FROM firm_addons fa
			JOIN storage_addons a ON a.id = fa.addon_id
			WHERE fa.firm_id = $1 AND fa.status = 'active'
		`, firmID).Scan(&addOnGB)
	})
	if err := eg.Wait(); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrFirmNotFound
		}
		return fmt.Errorf("failed to load limit inputs: %w", err)
	}

	gb := int64(g.cfg.TrialStoragePerUserGB)
	if perUserGB.Valid {
		gb = perUserGB.Int64
	}
	var maxUsersPtr *int
	if maxUsers.Valid {
		n := int(maxUsers.Int64)
		maxUsersPtr = &n
	}
	ceiling := StorageCeilingBytes(gb, SeatCount(maxUsersPtr, active), addOnGB)

	_, err := g.db.ExecContext(ctx, `
		UPDATE firms
		SET max_storage_bytes = $1, current_users = $2, updated_at = $3
		WHERE id = $4
	`, ceiling, active, g.now().UTC(), firmID)
	if err != nil {
		return fmt.Errorf("failed to update firm limits: %w", err)
	}
	return nil
}

// SeatCount is maxUsers when set, otherwise the active member count, never below one
func SeatCount(maxUsers *int, activeMembers int) int64 {
	seats := activeMembers
	if maxUsers != nil {
		seats = *maxUsers
	}
	if seats < 1 {
		seats = 1
	}
	return int64(seats)
}

// StorageCeilingBytes is (perUserGB x seats + addOnGB) GiB in bytes
func StorageCeilingBytes(perUserGB, seats, addOnGB int64) int64 {
	return (perUserGB*seats + addOnGB) * bytesPerGB
}

// IncrementStorage adds bytes to the firm's usage counter
func (g *Guard) IncrementStorage(ctx context.Context, firmID string, bytes int64) error {
	_, err := g.db.ExecContext(ctx, `
		UPDATE firms
		SET storage_used_bytes = storage_used_bytes + $1, updated_at = NOW()
		WHERE id = $2
	`, bytes, firmID)
	if err != nil {
		return fmt.Errorf("failed to increment storage: %w", err)
	}
	return nil
}

// DecrementStorage subtracts bytes from the usage counter, flooring at zero
func (g *Guard) DecrementStorage(ctx context.Context, firmID string, bytes int64) error {
	_, err := g.db.ExecContext(ctx, `
		UPDATE firms
		SET storage_used_bytes = GREATEST(storage_used_bytes - $1, 0), updated_at = NOW()
		WHERE id = $2
	`, bytes, firmID)
	if err != nil {
		return fmt.Errorf("failed to decrement storage: %w", err)
	}
	return nil
}

func (g *Guard) reject(resource string) {
	if g.recorder != nil {
		g.recorder.RecordLimitRejection(resource)
	}
}

func boolFromCheck(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if IsLimitExceeded(err) {
		return false, nil
	}
	return false, err
}

func countActiveMembers(ctx context.Context, q rbac.Querier, firmID string) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM firm_users WHERE firm_id = $1 AND status = 'active'`, firmID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return count, nil
}

// refreshCurrentUsers recounts active members onto the firm row
func refreshCurrentUsers(ctx context.Context, q rbac.Querier, firmID string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE firms
		SET current_users = (SELECT COUNT(*) FROM firm_users WHERE firm_id = $1 AND status = 'active'),
		    updated_at = NOW()
		WHERE id = $1
	`, firmID)
	if err != nil {
		return fmt.Errorf("failed to refresh user count: %w", err)
	}
	return nil
}

const firmColumns = `id, name, admin_id, plan_id, subscription_status, trial_ends_at, max_users,
	current_users, max_storage_bytes, storage_used_bytes, created_at, updated_at, deleted_at`

func loadFirm(ctx context.Context, q rbac.Querier, firmID string) (*Firm, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+firmColumns+` FROM firms WHERE id = $1 AND deleted_at IS NULL`, firmID)
	firm, err := scanFirm(row)
	if err == sql.ErrNoRows {
		return nil, ErrFirmNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get firm: %w", err)
	}
	return firm, nil
}

func scanFirm(scanner rbac.RowScanner) (*Firm, error) {
	var f Firm
	var planID sql.NullString
	var trialEndsAt, deletedAt sql.NullTime
	var maxUsers, maxStorage sql.NullInt64

	err := scanner.Scan(
		&f.ID, &f.Name, &f.AdminID, &planID, &f.Status, &trialEndsAt, &maxUsers,
		&f.CurrentUsers, &maxStorage, &f.StorageUsedBytes, &f.CreatedAt, &f.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if planID.Valid {
		f.PlanID = &planID.String
	}
	if trialEndsAt.Valid {
		f.TrialEndsAt = &trialEndsAt.Time
	}
	if maxUsers.Valid {
		n := int(maxUsers.Int64)
		f.MaxUsers = &n
	}
	if maxStorage.Valid {
		f.MaxStorageBytes = &maxStorage.Int64
	}
	if deletedAt.Valid {
		f.DeletedAt = &deletedAt.Time
	}
	return &f, nil
}
