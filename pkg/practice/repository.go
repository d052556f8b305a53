package practice

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/platinummonkey/caseload/pkg/rbac"
)

// record is implemented by pointers to the practice types
type record[T any] interface {
	*T
	base() *Base
	columns() []string
	values() []interface{}
	targets() []interface{}
	Validate() error
}

// Repository is a firm-scoped table of T. Every query is filtered by
// firm_id, so ids from another firm behave exactly like missing ids.
type Repository[T any, P record[T]] struct {
	db           *sql.DB
	table        string
	resource     rbac.ResourceType
	searchColumn string
	now          func() time.Time
}

func newRepository[T any, P record[T]](db *sql.DB, table string, resource rbac.ResourceType, searchColumn string) *Repository[T, P] {
	return &Repository[T, P]{
		db:           db,
		table:        table,
		resource:     resource,
		searchColumn: searchColumn,
		now:          time.Now,
	}
}

// NewClients returns the clients repository
func NewClients(db *sql.DB) *Repository[Client, *Client] {
	return newRepository[Client, *Client](db, "clients", rbac.ResourceClient, "name")
}

// NewCases returns the cases repository
func NewCases(db *sql.DB) *Repository[Case, *Case] {
	return newRepository[Case, *Case](db, "cases", rbac.ResourceCase, "title")
}

// NewGeneralWork returns the general work repository
func NewGeneralWork(db *sql.DB) *Repository[GeneralWork, *GeneralWork] {
	return newRepository[GeneralWork, *GeneralWork](db, "general_work", rbac.ResourceGeneralWork, "title")
}

// ResourceType is the policy resource type guarding this table
func (r *Repository[T, P]) ResourceType() rbac.ResourceType {
	return r.resource
}

func (r *Repository[T, P]) selectColumns() string {
	var zero T
	cols := append([]string{"id", "firm_id", "created_by", "created_at", "updated_at"}, P(&zero).columns()...)
	return strings.Join(cols, ", ")
}

func (r *Repository[T, P]) scan(scanner rbac.RowScanner) (P, error) {
	rec := P(new(T))
	b := rec.base()
	dest := append([]interface{}{&b.ID, &b.FirmID, &b.CreatedBy, &b.CreatedAt, &b.UpdatedAt}, rec.targets()...)
	if err := scanner.Scan(dest...); err != nil {
		return nil, err
	}
	return rec, nil
}

// Create validates and inserts rec for firmID, stamping id, creator and times
func (r *Repository[T, P]) Create(ctx context.Context, firmID, createdBy string, rec P) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	b := rec.base()
	now := r.now().UTC()
	b.ID = uuid.NewString()
	b.FirmID = firmID
	b.CreatedBy = createdBy
	b.CreatedAt = now
	b.UpdatedAt = now

	cols := append([]string{"id", "firm_id", "created_by", "created_at", "updated_at"}, rec.columns()...)
	args := append([]interface{}{b.ID, b.FirmID, b.CreatedBy, b.CreatedAt, b.UpdatedAt}, rec.values()...)

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, r.table, strings.Join(cols, ", "), placeholders(1, len(cols)))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create %s: %w", r.resource, err)
	}
	return nil
}

// Get retrieves one record of the firm
func (r *Repository[T, P]) Get(ctx context.Context, firmID, id string) (P, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 AND firm_id = $2`, r.selectColumns(), r.table)
	rec, err := r.scan(r.db.QueryRowContext(ctx, query, id, firmID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", r.resource, err)
	}
	return rec, nil
}

// List returns one page of the firm's records inside scope and the total
// number of matching records. A scope that grants nothing returns an empty
// page without touching the database.
func (r *Repository[T, P]) List(ctx context.Context, firmID string, scope rbac.ResourceScope, opts ListOptions) ([]P, int, error) {
	items := []P{}
	if scope.None() {
		return items, 0, nil
	}

	where := []string{"firm_id = $1"}
	args := []interface{}{firmID}
	if !scope.All {
		args = append(args, pq.Array(scope.IDs))
		where = append(where, fmt.Sprintf("id = ANY($%d)", len(args)))
	}
	if opts.Search != "" {
		args = append(args, "%"+opts.Search+"%")
		where = append(where, fmt.Sprintf("%s ILIKE $%d", r.searchColumn, len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, r.table, clause)
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count %s records: %w", r.resource, err)
	}
	if total == 0 {
		return items, 0, nil
	}

	args = append(args, opts.Limit, opts.Offset)
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		r.selectColumns(), r.table, clause, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list %s records: %w", r.resource, err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := r.scan(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan %s: %w", r.resource, err)
		}
		items = append(items, rec)
	}
	return items, total, rows.Err()
}

// Update validates rec and writes its data columns
func (r *Repository[T, P]) Update(ctx context.Context, firmID string, rec P) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	b := rec.base()
	b.UpdatedAt = r.now().UTC()

	cols := rec.columns()
	sets := make([]string, 0, len(cols)+1)
	for i, col := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+1))
	}
	args := append(rec.values(), b.UpdatedAt, b.ID, firmID)
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(cols)+1))

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $%d AND firm_id = $%d`,
		r.table, strings.Join(sets, ", "), len(cols)+2, len(cols)+3)
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", r.resource, err)
	}
	return requireOneRow(result)
}

// Delete removes one record of the firm
func (r *Repository[T, P]) Delete(ctx context.Context, firmID, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND firm_id = $2`, r.table)
	result, err := r.db.ExecContext(ctx, query, id, firmID)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", r.resource, err)
	}
	return requireOneRow(result)
}

// Exists reports whether id is a record of the firm
func (r *Repository[T, P]) Exists(ctx context.Context, firmID, id string) (bool, error) {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1 AND firm_id = $2)`, r.table)
	if err := r.db.QueryRowContext(ctx, query, id, firmID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check %s: %w", r.resource, err)
	}
	return exists, nil
}

func placeholders(start, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(ph, ", ")
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
