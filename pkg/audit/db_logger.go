package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// DBLogger stores audit events in PostgreSQL and serves searches over them
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger
func NewDBLogger(db *sql.DB) *DBLogger {
	return &DBLogger{db: db}
}

// Log inserts the event, assigning an id when it has none
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var metadata, changes interface{}
	if len(event.Metadata) > 0 {
		b, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = b
	}
	if event.Changes != nil {
		b, err := json.Marshal(event.Changes)
		if err != nil {
			return fmt.Errorf("failed to marshal changes: %w", err)
		}
		changes = b
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, firm_id, actor_id, event_type, status,
			resource_type, resource_id, request_id, ip_address, user_agent,
			method, path, message, metadata, changes, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		event.ID, event.FirmID, event.ActorID, event.Type, event.Status,
		event.ResourceType, event.ResourceID, event.RequestID, event.IPAddress, event.UserAgent,
		event.Method, event.Path, event.Message, metadata, changes, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

const eventColumns = `id, firm_id, actor_id, event_type, status, resource_type, resource_id,
	request_id, ip_address, user_agent, method, path, message, metadata, changes, created_at`

// Search returns one page of a firm's events, newest first, and the total
// number of matches
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*Event, int, error) {
	if filter.FirmID == "" {
		return nil, 0, fmt.Errorf("firm id is required")
	}
	where, args := filter.where()

	var total int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_events WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit events: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM audit_events WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		eventColumns, where, len(args)+1, len(args)+2)
	rows, err := l.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, event)
	}
	return events, total, rows.Err()
}

// Cleanup deletes events older than retention and reports how many went
func (l *DBLogger) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	result, err := l.db.ExecContext(ctx,
		`DELETE FROM audit_events WHERE created_at < $1`, time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up audit events: %w", err)
	}
	return result.RowsAffected()
}

func (f SearchFilter) where() (string, []interface{}) {
	clauses := []string{"firm_id = $1"}
	args := []interface{}{f.FirmID}
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		add("event_type = ANY($%d)", pq.Array(types))
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.Since != nil {
		add("created_at >= $%d", *f.Since)
	}
	if f.Until != nil {
		add("created_at < $%d", *f.Until)
	}
	return strings.Join(clauses, " AND "), args
}

func scanEvent(rows *sql.Rows) (*Event, error) {
	var e Event
	var metadata, changes []byte
	err := rows.Scan(
		&e.ID, &e.FirmID, &e.ActorID, &e.Type, &e.Status, &e.ResourceType, &e.ResourceID,
		&e.RequestID, &e.IPAddress, &e.UserAgent, &e.Method, &e.Path, &e.Message,
		&metadata, &changes, &e.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, err
		}
	}
	if len(changes) > 0 {
		e.Changes = &ChangeDetails{}
		if err := json.Unmarshal(changes, e.Changes); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

// RetentionPruner drops events older than a fixed window on each sweep
type RetentionPruner struct {
	log       *DBLogger
	retention time.Duration
}

// NewRetentionPruner creates a pruner over the audit table
func NewRetentionPruner(log *DBLogger, retention time.Duration) *RetentionPruner {
	return &RetentionPruner{log: log, retention: retention}
}

// Prune deletes expired events
func (p *RetentionPruner) Prune(ctx context.Context) (int64, error) {
	return p.log.Cleanup(ctx, p.retention)
}
