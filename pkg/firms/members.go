package firms

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/caseload/pkg/rbac"
)

const memberSelect = `
	SELECT fu.id, fu.firm_id, fu.user_id, fu.role_id, fu.status, fu.custom_permissions,
	       fu.created_at, fu.updated_at, u.email, u.full_name, r.name
	FROM firm_users fu
	JOIN users u ON u.id = fu.user_id
	LEFT JOIN roles r ON r.id = fu.role_id
`

// ListMembers retrieves every non-deleted member of a firm
func (s *PostgresService) ListMembers(ctx context.Context, firmID string) ([]*Member, error) {
	rows, err := s.db.QueryContext(ctx,
		memberSelect+`WHERE fu.firm_id = $1 AND fu.status <> 'deleted' ORDER BY fu.created_at ASC`, firmID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	members := []*Member{}
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

// GetMember retrieves a specific member
func (s *PostgresService) GetMember(ctx context.Context, firmID, userID string) (*Member, error) {
	row := s.db.QueryRowContext(ctx,
		memberSelect+`WHERE fu.firm_id = $1 AND fu.user_id = $2 AND fu.status <> 'deleted'`, firmID, userID)
	member, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return member, nil
}

// AddMember attaches userID to the firm with roleID. The write gate and the
// seat limit are checked first; the seat check is not transactional with the
// insert, so concurrent adds may overshoot by one.
func (s *PostgresService) AddMember(ctx context.Context, firmID, userID string, roleID *string) (*Member, error) {
	if err := s.guard.RequireWrite(ctx, firmID); err != nil {
		return nil, err
	}
	member, err := isActiveMember(ctx, s.db, firmID, userID)
	if err != nil {
		return nil, err
	}
	if member {
		return nil, ErrAlreadyMember
	}
	if err := s.guard.CheckUserSeats(ctx, firmID); err != nil {
		return nil, err
	}
	if err := s.withTx(ctx, func(tx *sql.Tx) error {
		return s.attachMember(ctx, tx, firmID, userID, roleID)
	}); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"firm_id": firmID,
		"user_id": userID,
	}).Info("member added")
	return s.GetMember(ctx, firmID, userID)
}

// attachMember validates the role, claims the user for the firm, upserts the
// membership and refreshes current_users, all on tx.
func (s *PostgresService) attachMember(ctx context.Context, tx *sql.Tx, firmID, userID string, roleID *string) error {
	if roleID != nil {
		if err := requireRoleInFirm(ctx, tx, firmID, *roleID); err != nil {
			return err
		}
	}

	var current sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT firm_id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock user: %w", err)
	}
	if current.Valid && current.String != firmID {
		return ErrAlreadyInFirm
	}

	if err := insertMembership(ctx, tx, firmID, userID, roleID, s.now().UTC()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET firm_id = $1 WHERE id = $2`, firmID, userID); err != nil {
		return fmt.Errorf("failed to attach user: %w", err)
	}
	return refreshCurrentUsers(ctx, tx, firmID)
}

// UpdateMember changes a member's role and custom permissions
func (s *PostgresService) UpdateMember(ctx context.Context, firmID, userID string, req UpdateMemberRequest) (*Member, error) {
	for _, key := range req.CustomPermissions {
		if !rbac.IsKnownPermission(key) {
			return nil, &rbac.ValidationError{Field: "custom_permissions", Message: fmt.Sprintf("unknown permission %q", key)}
		}
		if !req.ByFirmAdmin && strings.HasPrefix(string(key), "firm.") {
			return nil, ErrPrivilegedGrant
		}
	}
	if err := s.requireNotAdmin(ctx, firmID, userID); err != nil {
		return nil, err
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if req.RoleID != nil {
			system, err := roleIsSystem(ctx, tx, firmID, *req.RoleID)
			if err != nil {
				return err
			}
			if system && !req.ByFirmAdmin {
				return ErrPrivilegedGrant
			}
		}
		result, err := tx.ExecContext(ctx, `
			UPDATE firm_users
			SET role_id = COALESCE($1, role_id),
			    custom_permissions = COALESCE($2, custom_permissions),
			    updated_at = $3
			WHERE firm_id = $4 AND user_id = $5 AND status <> 'deleted'
		`, req.RoleID, nullablePermissions(req.CustomPermissions), s.now().UTC(), firmID, userID)
		if err != nil {
			return fmt.Errorf("failed to update member: %w", err)
		}
		return requireOneRow(result, ErrMemberNotFound)
	})
	if err != nil {
		return nil, err
	}
	return s.GetMember(ctx, firmID, userID)
}

// CancelMembership marks the membership deleted and detaches the user. The
// freed seat is visible to the next seat check.
func (s *PostgresService) CancelMembership(ctx context.Context, firmID, userID string) error {
	if err := s.requireNotAdmin(ctx, firmID, userID); err != nil {
		return err
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE firm_users SET status = 'deleted', updated_at = $1
			WHERE firm_id = $2 AND user_id = $3 AND status <> 'deleted'
		`, s.now().UTC(), firmID, userID)
		if err != nil {
			return fmt.Errorf("failed to cancel membership: %w", err)
		}
		if err := requireOneRow(result, ErrMemberNotFound); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET firm_id = NULL WHERE id = $1 AND firm_id = $2`, userID, firmID); err != nil {
			return fmt.Errorf("failed to detach user: %w", err)
		}
		return refreshCurrentUsers(ctx, tx, firmID)
	})
	if err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"firm_id": firmID,
		"user_id": userID,
	}).Info("membership canceled")
	return nil
}

func (s *PostgresService) requireNotAdmin(ctx context.Context, firmID, userID string) error {
	firm, err := loadFirm(ctx, s.db, firmID)
	if err != nil {
		return err
	}
	if firm.AdminID == userID {
		return ErrCannotModifyAdmin
	}
	return nil
}

func (s *PostgresService) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// insertMembership creates an active membership, reviving a deleted one for
// the same (firm, user) pair. An active membership is left untouched and
// reported as ErrAlreadyMember.
func insertMembership(ctx context.Context, q rbac.Querier, firmID, userID string, roleID *string, now time.Time) error {
	result, err := q.ExecContext(ctx, `
		INSERT INTO firm_users (id, firm_id, user_id, role_id, status, custom_permissions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'active', '{}', $5, $5)
		ON CONFLICT (firm_id, user_id) DO UPDATE
		SET role_id = EXCLUDED.role_id, status = 'active', custom_permissions = '{}', updated_at = EXCLUDED.updated_at
		WHERE firm_users.status <> 'active'
	`, uuid.NewString(), firmID, userID, roleID, now)
	if err != nil {
		return fmt.Errorf("failed to insert membership: %w", err)
	}
	return requireOneRow(result, ErrAlreadyMember)
}

func isActiveMember(ctx context.Context, q rbac.Querier, firmID, userID string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM firm_users WHERE firm_id = $1 AND user_id = $2 AND status = 'active')`,
		firmID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return exists, nil
}

func requireRoleInFirm(ctx context.Context, q rbac.Querier, firmID, roleID string) error {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1 AND firm_id = $2)`, roleID, firmID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check role: %w", err)
	}
	if !exists {
		return ErrRoleNotInFirm
	}
	return nil
}

// roleIsSystem resolves a firm role and reports whether it is a system role
func roleIsSystem(ctx context.Context, q rbac.Querier, firmID, roleID string) (bool, error) {
	var system bool
	err := q.QueryRowContext(ctx,
		`SELECT is_system FROM roles WHERE id = $1 AND firm_id = $2`, roleID, firmID).Scan(&system)
	if err == sql.ErrNoRows {
		return false, ErrRoleNotInFirm
	}
	if err != nil {
		return false, fmt.Errorf("failed to check role: %w", err)
	}
	return system, nil
}

func nullablePermissions(keys []rbac.PermissionKey) interface{} {
	if keys == nil {
		return nil
	}
	return pq.Array(rbac.PermissionStrings(keys))
}

func scanMember(scanner rbac.RowScanner) (*Member, error) {
	var m Member
	var roleID, fullName, roleName sql.NullString
	var custom pq.StringArray

	err := scanner.Scan(
		&m.ID, &m.FirmID, &m.UserID, &roleID, &m.Status, &custom,
		&m.CreatedAt, &m.UpdatedAt, &m.Email, &fullName, &roleName,
	)
	if err != nil {
		return nil, err
	}

	if roleID.Valid {
		m.RoleID = &roleID.String
	}
	m.CustomPermissions = make([]rbac.PermissionKey, 0, len(custom))
	for _, key := range custom {
		m.CustomPermissions = append(m.CustomPermissions, rbac.PermissionKey(key))
	}
	m.FullName = fullName.String
	m.RoleName = roleName.String
	return &m, nil
}
