package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	// ErrSystemRole is returned when a synthesized role would be renamed or deleted
	ErrSystemRole = errors.New("system roles cannot be renamed or deleted")
	// ErrRoleInUse is returned when deleting a role that members still hold
	ErrRoleInUse = errors.New("role is assigned to members")
	// ErrDuplicateRole is returned when the firm already has a role with that name
	ErrDuplicateRole = errors.New("role name already exists")
)

// Querier is satisfied by both *sql.DB and *sql.Tx
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store handles role and membership persistence
type Store struct {
	db *sql.DB
}

var _ Directory = (*Store)(nil)

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateRole validates and inserts a role
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	return InsertRole(ctx, s.db, role)
}

// InsertRole validates and inserts a role using q. Firm creation calls it
// inside its own transaction.
func InsertRole(ctx context.Context, q Querier, role *Role) error {
	if err := role.Validate(); err != nil {
		return err
	}

	policyJSON, err := json.Marshal(role.Policy)
	if err != nil {
		return fmt.Errorf("failed to marshal policy: %w", err)
	}

	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO roles (id, firm_id, name, description, permissions, policy, is_system, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = q.ExecContext(ctx, query,
		role.ID,
		role.FirmID,
		role.Name,
		role.Description,
		pq.Array(PermissionStrings(role.Permissions)),
		string(policyJSON),
		role.IsSystem,
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateRole
		}
		return fmt.Errorf("failed to create role: %w", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

const roleColumns = `id, firm_id, name, description, permissions, policy, is_system, created_at, updated_at`

// GetRole retrieves a role within a firm
func (s *Store) GetRole(ctx context.Context, firmID, roleID string) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = $1 AND firm_id = $2`

	role, err := scanRole(s.db.QueryRowContext(ctx, query, roleID, firmID))
	if err == sql.ErrNoRows {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// ListRoles returns every role of a firm ordered by name
func (s *Store) ListRoles(ctx context.Context, firmID string) ([]*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE firm_id = $1 ORDER BY is_system DESC, name ASC`

	rows, err := s.db.QueryContext(ctx, query, firmID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	roles := []*Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// UpdateRole replaces the name, description, permissions and policy of a role
func (s *Store) UpdateRole(ctx context.Context, role *Role) error {
	existing, err := s.GetRole(ctx, role.FirmID, role.ID)
	if err != nil {
		return err
	}
	if existing.IsSystem && existing.Name != role.Name {
		return ErrSystemRole
	}
	role.IsSystem = existing.IsSystem
	if err := role.Validate(); err != nil {
		return err
	}

	policyJSON, err := json.Marshal(role.Policy)
	if err != nil {
		return fmt.Errorf("failed to marshal policy: %w", err)
	}

	now := time.Now().UTC()
	query := `
		UPDATE roles
		SET name = $1, description = $2, permissions = $3, policy = $4, updated_at = $5
		WHERE id = $6 AND firm_id = $7
	`
	result, err := s.db.ExecContext(ctx, query,
		role.Name,
		role.Description,
		pq.Array(PermissionStrings(role.Permissions)),
		string(policyJSON),
		now,
		role.ID,
		role.FirmID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateRole
		}
		return fmt.Errorf("failed to update role: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRoleNotFound
	}

	role.CreatedAt = existing.CreatedAt
	role.UpdatedAt = now
	return nil
}

// DeleteRole removes a custom role that no member holds
func (s *Store) DeleteRole(ctx context.Context, firmID, roleID string) error {
	role, err := s.GetRole(ctx, firmID, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRole
	}

	var holders int
	query := `SELECT COUNT(*) FROM firm_users WHERE role_id = $1 AND status <> 'deleted'`
	if err := s.db.QueryRowContext(ctx, query, roleID).Scan(&holders); err != nil {
		return fmt.Errorf("failed to count role holders: %w", err)
	}
	if holders > 0 {
		return ErrRoleInUse
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1 AND firm_id = $2`, roleID, firmID); err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return nil
}

// GetFirmAdminID returns the designated admin of a live firm
func (s *Store) GetFirmAdminID(ctx context.Context, firmID string) (string, error) {
	var adminID string
	query := `SELECT admin_id FROM firms WHERE id = $1 AND deleted_at IS NULL`
	err := s.db.QueryRowContext(ctx, query, firmID).Scan(&adminID)
	if err == sql.ErrNoRows {
		return "", ErrFirmNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get firm admin: %w", err)
	}
	return adminID, nil
}

// GetActiveMembership returns the user's active membership in the firm
func (s *Store) GetActiveMembership(ctx context.Context, firmID, userID string) (*Membership, error) {
	query := `
		SELECT id, firm_id, user_id, role_id, status, custom_permissions, created_at, updated_at
		FROM firm_users
		WHERE firm_id = $1 AND user_id = $2 AND status = 'active'
	`
	m, err := ScanMembership(s.db.QueryRowContext(ctx, query, firmID, userID))
	if err == sql.ErrNoRows {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// RowScanner is implemented by *sql.Row and *sql.Rows
type RowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(scanner RowScanner) (*Role, error) {
	var role Role
	var description sql.NullString
	var permissions pq.StringArray
	var policyJSON []byte

	err := scanner.Scan(
		&role.ID,
		&role.FirmID,
		&role.Name,
		&description,
		&permissions,
		&policyJSON,
		&role.IsSystem,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	role.Description = description.String
	role.Permissions = toPermissionKeys(permissions)
	if len(policyJSON) > 0 {
		if err := json.Unmarshal(policyJSON, &role.Policy); err != nil {
			return nil, fmt.Errorf("failed to unmarshal policy: %w", err)
		}
	}
	return &role, nil
}

// ScanMembership scans the firm_users column list used across packages:
// id, firm_id, user_id, role_id, status, custom_permissions, created_at, updated_at
func ScanMembership(scanner RowScanner) (*Membership, error) {
	var m Membership
	var roleID sql.NullString
	var custom pq.StringArray

	err := scanner.Scan(
		&m.ID,
		&m.FirmID,
		&m.UserID,
		&roleID,
		&m.Status,
		&custom,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if roleID.Valid {
		id := roleID.String
		m.RoleID = &id
	}
	m.CustomPermissions = toPermissionKeys(custom)
	return &m, nil
}

// PermissionStrings converts keys for TEXT[] columns
func PermissionStrings(keys []PermissionKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}

func toPermissionKeys(values []string) []PermissionKey {
	keys := make([]PermissionKey, 0, len(values))
	for _, v := range values {
		keys = append(keys, PermissionKey(v))
	}
	return keys
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
