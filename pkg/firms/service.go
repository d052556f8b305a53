package firms

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/caseload/pkg/rbac"
)

// PostgresService manages firms, users and memberships in PostgreSQL
type PostgresService struct {
	db     *sql.DB
	guard  *Guard
	cfg    LimitsConfig
	logger *logrus.Logger
	now    func() time.Time
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB, guard *Guard, cfg LimitsConfig, logger *logrus.Logger) *PostgresService {
	return &PostgresService{
		db:     db,
		guard:  guard,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Guard returns the limit guard shared by the service
func (s *PostgresService) Guard() *Guard {
	return s.guard
}

// CreateUser registers a global identity
func (s *PostgresService) CreateUser(ctx context.Context, email, fullName string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil, &rbac.ValidationError{Field: "email", Message: "is required"}
	}

	user := &User{
		ID:        uuid.NewString(),
		Email:     email,
		FullName:  fullName,
		CreatedAt: s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, full_name, created_at) VALUES ($1, $2, $3, $4)`,
		user.ID, user.Email, user.FullName, user.CreatedAt)
	if isUniqueViolation(err) {
		return nil, ErrDuplicateEmail
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUser retrieves a user by ID
func (s *PostgresService) GetUser(ctx context.Context, userID string) (*User, error) {
	user := &User{}
	var firmID sql.NullString
	var fullName sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, full_name, firm_id, created_at FROM users WHERE id = $1`, userID).
		Scan(&user.ID, &user.Email, &fullName, &firmID, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.FullName = fullName.String
	if firmID.Valid {
		user.FirmID = &firmID.String
	}
	return user, nil
}

// GetUserFirmID returns the firm the user currently belongs to, or "" when detached
func (s *PostgresService) GetUserFirmID(ctx context.Context, userID string) (string, error) {
	var firmID sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT firm_id FROM users WHERE id = $1`, userID).Scan(&firmID)
	if err == sql.ErrNoRows {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get user firm: %w", err)
	}
	return firmID.String, nil
}

// CreateFirm creates a trial firm owned by creatorID. The firm row, the
// synthesized owner and admin roles, the owner's membership and the user's
// firm pointer are written in one transaction.
func (s *PostgresService) CreateFirm(ctx context.Context, req CreateFirmRequest, creatorID string) (*Firm, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, &rbac.ValidationError{Field: "name", Message: "is required"}
	}

	now := s.now().UTC()
	trialEnds := now.AddDate(0, 0, s.cfg.TrialDays)
	firm := &Firm{
		ID:          uuid.NewString(),
		Name:        name,
		AdminID:     creatorID,
		Status:      StatusTrial,
		TrialEndsAt: &trialEnds,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if s.cfg.TrialMaxUsers > 0 {
		n := s.cfg.TrialMaxUsers
		firm.MaxUsers = &n
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT firm_id FROM users WHERE id = $1 FOR UPDATE`, creatorID).Scan(&existing)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock user: %w", err)
	}
	if existing.Valid {
		return nil, ErrAlreadyInFirm
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO firms (id, name, admin_id, subscription_status, trial_ends_at, max_users,
		                   current_users, storage_used_bytes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, 0, $7, $8)
	`, firm.ID, firm.Name, firm.AdminID, firm.Status, trialEnds, firm.MaxUsers, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create firm: %w", err)
	}

	var ownerRoleID string
	for _, role := range rbac.SystemRoles(firm.ID) {
		if err := rbac.InsertRole(ctx, tx, role); err != nil {
			return nil, fmt.Errorf("failed to create %s role: %w", role.Name, err)
		}
		if role.Name == rbac.RoleNameOwner {
			ownerRoleID = role.ID
		}
	}

	if err := insertMembership(ctx, tx, firm.ID, creatorID, &ownerRoleID, now); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET firm_id = $1 WHERE id = $2`, firm.ID, creatorID); err != nil {
		return nil, fmt.Errorf("failed to attach user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit firm: %w", err)
	}
	firm.CurrentUsers = 1

	if err := s.guard.UpdateFirmLimits(ctx, firm.ID); err != nil {
		s.logger.WithError(err).WithField("firm_id", firm.ID).Warn("failed to compute initial firm limits")
	}

	s.logger.WithFields(logrus.Fields{
		"firm_id": firm.ID,
		"user_id": creatorID,
	}).Info("firm created")
	return firm, nil
}

// GetFirm retrieves a live firm by ID
func (s *PostgresService) GetFirm(ctx context.Context, firmID string) (*Firm, error) {
	return loadFirm(ctx, s.db, firmID)
}

// RenameFirm updates the firm's display name
func (s *PostgresService) RenameFirm(ctx context.Context, firmID, name string) (*Firm, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &rbac.ValidationError{Field: "name", Message: "is required"}
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE firms SET name = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL`,
		name, s.now().UTC(), firmID)
	if err != nil {
		return nil, fmt.Errorf("failed to rename firm: %w", err)
	}
	if err := requireOneRow(result, ErrFirmNotFound); err != nil {
		return nil, err
	}
	return s.GetFirm(ctx, firmID)
}

// DeleteFirm cancels a firm in a single transaction: memberships are marked
// deleted, users detached, pending join requests rejected, pending
// invitations revoked, and the firm row soft-deleted.
func (s *PostgresService) DeleteFirm(ctx context.Context, firmID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	result, err := tx.ExecContext(ctx, `
		UPDATE firms
		SET subscription_status = $1, current_users = 0, deleted_at = $2, updated_at = $2
		WHERE id = $3 AND deleted_at IS NULL
	`, StatusCanceled, now, firmID)
	if err != nil {
		return fmt.Errorf("failed to cancel firm: %w", err)
	}
	if err := requireOneRow(result, ErrFirmNotFound); err != nil {
		return err
	}

	steps := []struct {
		what  string
		query string
		args  []interface{}
	}{
		{"memberships", `UPDATE firm_users SET status = 'deleted', updated_at = $1 WHERE firm_id = $2 AND status <> 'deleted'`, []interface{}{now, firmID}},
		{"users", `UPDATE users SET firm_id = NULL WHERE firm_id = $1`, []interface{}{firmID}},
		{"join requests", `UPDATE join_requests SET status = 'rejected', updated_at = $1 WHERE firm_id = $2 AND status = 'pending'`, []interface{}{now, firmID}},
		{"invitations", `UPDATE invitations SET revoked_at = $1 WHERE firm_id = $2 AND accepted_at IS NULL AND revoked_at IS NULL`, []interface{}{now, firmID}},
	}
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step.query, step.args...); err != nil {
			return fmt.Errorf("failed to cancel %s: %w", step.what, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit firm deletion: %w", err)
	}

	s.logger.WithField("firm_id", firmID).Info("firm deleted")
	return nil
}

// SetSubscriptionStatus moves the firm to status
func (s *PostgresService) SetSubscriptionStatus(ctx context.Context, firmID string, status SubscriptionStatus) error {
	if !status.IsValid() {
		return ErrInvalidStatus
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE firms SET subscription_status = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL`,
		status, s.now().UTC(), firmID)
	if err != nil {
		return fmt.Errorf("failed to set subscription status: %w", err)
	}
	return requireOneRow(result, ErrFirmNotFound)
}

// ExpireTrials flips trial firms whose trial ended before now to expired
func (s *PostgresService) ExpireTrials(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE firms
		SET subscription_status = $1, updated_at = $2
		WHERE subscription_status = $3 AND trial_ends_at < $2 AND deleted_at IS NULL
	`, StatusExpired, now.UTC(), StatusTrial)
	if err != nil {
		return 0, fmt.Errorf("failed to expire trials: %w", err)
	}
	return result.RowsAffected()
}

// ListLiveFirmIDs returns the ids of every firm that is not deleted
func (s *PostgresService) ListLiveFirmIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM firms WHERE deleted_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list firms: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan firm id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListOverSeatFirms returns firms whose active members exceed max_users
func (s *PostgresService) ListOverSeatFirms(ctx context.Context) ([]*Firm, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+firmColumns+` FROM firms
		WHERE deleted_at IS NULL AND max_users IS NOT NULL AND current_users > max_users`)
	if err != nil {
		return nil, fmt.Errorf("failed to list over-seat firms: %w", err)
	}
	defer rows.Close()

	var firms []*Firm
	for rows.Next() {
		f, err := scanFirm(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan firm: %w", err)
		}
		firms = append(firms, f)
	}
	return firms, rows.Err()
}

// generateToken generates a random invitation token
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func requireOneRow(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
