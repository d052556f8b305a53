package calendar

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/caseload/pkg/rbac"
)

// Store persists calendar entries. Every method is filtered by firm.
type Store interface {
	Create(ctx context.Context, e *Entry) error
	Get(ctx context.Context, firmID, id string) (*Entry, error)
	// ListCandidates returns firm-scoped entries plus the personal entries
	// created by userID. The privacy rule still has to be applied.
	ListCandidates(ctx context.Context, firmID, userID string, opts ListOptions) ([]*Entry, error)
	Update(ctx context.Context, e *Entry) error
	Delete(ctx context.Context, firmID, id string) error
}

// PostgresStore implements Store
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

const entryColumns = `id, firm_id, kind, scope, title, description, location, starts_at, ends_at,
	status, assigned_to, case_id, created_by, created_at, updated_at`

func scanEntry(scanner rbac.RowScanner) (*Entry, error) {
	var e Entry
	err := scanner.Scan(
		&e.ID, &e.FirmID, &e.Kind, &e.Scope, &e.Title, &e.Description, &e.Location,
		&e.StartsAt, &e.EndsAt, &e.Status, &e.AssignedTo, &e.CaseID,
		&e.CreatedBy, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) Create(ctx context.Context, e *Entry) error {
	now := s.now().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CreatedAt = now
	e.UpdatedAt = now

	query := `
		INSERT INTO calendar_entries (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.FirmID, e.Kind, e.Scope, e.Title, e.Description, e.Location,
		e.StartsAt, e.EndsAt, e.Status, e.AssignedTo, e.CaseID,
		e.CreatedBy, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create calendar entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, firmID, id string) (*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM calendar_entries WHERE id = $1 AND firm_id = $2`
	e, err := scanEntry(s.db.QueryRowContext(ctx, query, id, firmID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get calendar entry: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) ListCandidates(ctx context.Context, firmID, userID string, opts ListOptions) ([]*Entry, error) {
	where := []string{"firm_id = $1", "(scope = 'firm' OR created_by = $2)"}
	args := []interface{}{firmID, userID}
	if opts.Kind != "" {
		args = append(args, opts.Kind)
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if opts.From != nil {
		args = append(args, *opts.From)
		where = append(where, fmt.Sprintf("starts_at >= $%d", len(args)))
	}
	if opts.To != nil {
		args = append(args, *opts.To)
		where = append(where, fmt.Sprintf("starts_at < $%d", len(args)))
	}

	query := `SELECT ` + entryColumns + ` FROM calendar_entries WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY starts_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list calendar entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan calendar entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, e *Entry) error {
	e.UpdatedAt = s.now().UTC()

	query := `
		UPDATE calendar_entries
		SET title = $1, description = $2, location = $3, starts_at = $4, ends_at = $5,
			status = $6, assigned_to = $7, case_id = $8, updated_at = $9
		WHERE id = $10 AND firm_id = $11
	`
	result, err := s.db.ExecContext(ctx, query,
		e.Title, e.Description, e.Location, e.StartsAt, e.EndsAt,
		e.Status, e.AssignedTo, e.CaseID, e.UpdatedAt,
		e.ID, e.FirmID,
	)
	if err != nil {
		return fmt.Errorf("failed to update calendar entry: %w", err)
	}
	return requireOneRow(result)
}

func (s *PostgresStore) Delete(ctx context.Context, firmID, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM calendar_entries WHERE id = $1 AND firm_id = $2`, id, firmID)
	if err != nil {
		return fmt.Errorf("failed to delete calendar entry: %w", err)
	}
	return requireOneRow(result)
}

func requireOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
