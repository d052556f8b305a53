package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/caseload/pkg/rbac"
)

// Kind classifies a notification
type Kind string

const (
	KindLimitExceeded Kind = "limit_exceeded"
)

// Notification is an in-app message for one user of a firm
type Notification struct {
	ID        string          `json:"id"`
	FirmID    string          `json:"firm_id"`
	UserID    string          `json:"user_id"`
	Kind      Kind            `json:"kind"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Data      json.RawMessage `json:"data,omitempty"`
	ReadAt    *time.Time      `json:"read_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// LimitData is the payload of a limit_exceeded notification
type LimitData struct {
	Resource string `json:"resource"`
	Current  int64  `json:"current"`
	Limit    int64  `json:"limit"`
}

var ErrNotFound = errors.New("notification not found")

// DefaultDedupWindow suppresses repeats of the same unread limit warning
const DefaultDedupWindow = 24 * time.Hour

// Notifier writes and reads in-app notifications
type Notifier struct {
	db          *sql.DB
	logger      *logrus.Logger
	dedupWindow time.Duration
	now         func() time.Time
}

// NewNotifier creates a new notifier
func NewNotifier(db *sql.DB, logger *logrus.Logger) *Notifier {
	return &Notifier{db: db, logger: logger, dedupWindow: DefaultDedupWindow, now: time.Now}
}

// LimitExceeded notifies the firm admin that a seat or storage ceiling was
// hit. An unread notification for the same resource inside the dedup
// window suppresses the new one.
func (n *Notifier) LimitExceeded(ctx context.Context, firmID, resource string, current, limit int64) error {
	data, err := json.Marshal(LimitData{Resource: resource, Current: current, Limit: limit})
	if err != nil {
		return err
	}

	now := n.now().UTC()
	title := fmt.Sprintf("%s limit reached", resource)
	body := fmt.Sprintf("Your firm is using %d of %d allowed %s. Upgrade your plan or add capacity to continue.",
		current, limit, resource)

	result, err := n.db.ExecContext(ctx, `
		INSERT INTO notifications (id, firm_id, user_id, kind, title, body, data, created_at)
		SELECT $1, f.id, f.admin_id, $2, $3, $4, $5, $6
		FROM firms f
		WHERE f.id = $7 AND f.deleted_at IS NULL
		AND NOT EXISTS (
			SELECT 1 FROM notifications x
			WHERE x.firm_id = f.id AND x.user_id = f.admin_id AND x.kind = $2
			AND x.read_at IS NULL AND x.data->>'resource' = $8 AND x.created_at > $9
		)
	`, uuid.NewString(), KindLimitExceeded, title, body, data, now, firmID, resource, now.Add(-n.dedupWindow))
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	n.logger.WithFields(logrus.Fields{
		"firm_id":  firmID,
		"resource": resource,
		"current":  current,
		"limit":    limit,
		"created":  rows == 1,
	}).Info("limit notification processed")
	return nil
}

// List returns the user's notifications in the firm, newest first
func (n *Notifier) List(ctx context.Context, firmID, userID string, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	filter := ""
	if unreadOnly {
		filter = " AND read_at IS NULL"
	}

	var total int
	err := n.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE firm_id = $1 AND user_id = $2`+filter,
		firmID, userID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	items := []*Notification{}
	if total == 0 {
		return items, 0, nil
	}

	rows, err := n.db.QueryContext(ctx, `
		SELECT id, firm_id, user_id, kind, title, body, data, read_at, created_at
		FROM notifications
		WHERE firm_id = $1 AND user_id = $2`+filter+`
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4
	`, firmID, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanNotification(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan notification: %w", err)
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

// MarkRead marks one notification read. Reading an already read
// notification is not an error.
func (n *Notifier) MarkRead(ctx context.Context, firmID, userID, id string) error {
	result, err := n.db.ExecContext(ctx, `
		UPDATE notifications SET read_at = COALESCE(read_at, $1)
		WHERE id = $2 AND firm_id = $3 AND user_id = $4
	`, n.now().UTC(), id, firmID, userID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllRead marks every unread notification of the user read
func (n *Notifier) MarkAllRead(ctx context.Context, firmID, userID string) (int64, error) {
	result, err := n.db.ExecContext(ctx, `
		UPDATE notifications SET read_at = $1
		WHERE firm_id = $2 AND user_id = $3 AND read_at IS NULL
	`, n.now().UTC(), firmID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return result.RowsAffected()
}

func scanNotification(scanner rbac.RowScanner) (*Notification, error) {
	var item Notification
	var data []byte
	err := scanner.Scan(&item.ID, &item.FirmID, &item.UserID, &item.Kind, &item.Title, &item.Body,
		&data, &item.ReadAt, &item.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		item.Data = json.RawMessage(data)
	}
	return &item, nil
}
