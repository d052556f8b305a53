package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/caseload/pkg/rbac"
)

// Document is the metadata row of an uploaded file
type Document struct {
	ID          string    `json:"id"`
	FirmID      string    `json:"firm_id"`
	CaseID      *string   `json:"case_id,omitempty"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	Checksum    string    `json:"checksum"`
	BlobKey     string    `json:"-"`
	UploadedBy  string    `json:"uploaded_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// ListOptions pages and filters a document listing
type ListOptions struct {
	Limit  int
	Offset int
	CaseID string
}

var ErrNotFound = errors.New("document not found")

// Store persists document metadata, always filtered by firm
type Store struct {
	db *sql.DB
}

// NewStore creates a new metadata store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const documentColumns = `id, firm_id, case_id, name, content_type, size_bytes, checksum, blob_key, uploaded_by, created_at`

func scanDocument(scanner rbac.RowScanner) (*Document, error) {
	var d Document
	err := scanner.Scan(&d.ID, &d.FirmID, &d.CaseID, &d.Name, &d.ContentType,
		&d.SizeBytes, &d.Checksum, &d.BlobKey, &d.UploadedBy, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) Create(ctx context.Context, d *Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, d.ID, d.FirmID, d.CaseID, d.Name, d.ContentType, d.SizeBytes, d.Checksum, d.BlobKey, d.UploadedBy, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, firmID, id string) (*Document, error) {
	d, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1 AND firm_id = $2`, id, firmID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return d, nil
}

// List returns one page of documents inside scope and the total count
func (s *Store) List(ctx context.Context, firmID string, scope rbac.ResourceScope, opts ListOptions) ([]*Document, int, error) {
	docs := []*Document{}
	if scope.None() {
		return docs, 0, nil
	}

	where := []string{"firm_id = $1"}
	args := []interface{}{firmID}
	if !scope.All {
		args = append(args, pq.Array(scope.IDs))
		where = append(where, fmt.Sprintf("id = ANY($%d)", len(args)))
	}
	if opts.CaseID != "" {
		args = append(args, opts.CaseID)
		where = append(where, fmt.Sprintf("case_id = $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}
	if total == 0 {
		return docs, 0, nil
	}

	args = append(args, opts.Limit, opts.Offset)
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		documentColumns, clause, len(args)-1, len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, total, rows.Err()
}

func (s *Store) Delete(ctx context.Context, firmID, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1 AND firm_id = $2`, id, firmID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
