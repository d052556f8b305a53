package firms

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/caseload/pkg/rbac"
)

const joinRequestColumns = `id, firm_id, user_id, message, status, decided_by, created_at, updated_at`

// CreateJoinRequest records that userID asks to join firmID
func (s *PostgresService) CreateJoinRequest(ctx context.Context, firmID, userID, message string) (*JoinRequest, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.FirmID != nil {
		return nil, ErrAlreadyInFirm
	}
	if _, err := loadFirm(ctx, s.db, firmID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	req := &JoinRequest{
		ID:        uuid.NewString(),
		FirmID:    firmID,
		UserID:    userID,
		Message:   message,
		Status:    JoinPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO join_requests (id, firm_id, user_id, message, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, req.ID, req.FirmID, req.UserID, req.Message, req.Status, now)
	if isUniqueViolation(err) {
		return nil, ErrJoinRequestDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create join request: %w", err)
	}
	return req, nil
}

// ListJoinRequests lists a firm's join requests, optionally filtered by status
func (s *PostgresService) ListJoinRequests(ctx context.Context, firmID string, status JoinRequestStatus) ([]*JoinRequest, error) {
	query := `SELECT ` + joinRequestColumns + ` FROM join_requests WHERE firm_id = $1`
	args := []interface{}{firmID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list join requests: %w", err)
	}
	defer rows.Close()

	requests := []*JoinRequest{}
	for rows.Next() {
		req, err := scanJoinRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan join request: %w", err)
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

// ApproveJoinRequest makes the requester an active member with roleID
func (s *PostgresService) ApproveJoinRequest(ctx context.Context, firmID, requestID string, roleID *string, decidedBy string) (*Member, error) {
	req, err := s.getJoinRequest(ctx, firmID, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != JoinPending {
		return nil, ErrJoinRequestDecided
	}
	if err := s.guard.RequireWrite(ctx, firmID); err != nil {
		return nil, err
	}
	if err := s.guard.CheckUserSeats(ctx, firmID); err != nil {
		return nil, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := decideJoinRequest(ctx, tx, req.ID, JoinApproved, decidedBy, s.now()); err != nil {
			return err
		}
		return s.attachMember(ctx, tx, firmID, req.UserID, roleID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"firm_id":    firmID,
		"user_id":    req.UserID,
		"request_id": req.ID,
	}).Info("join request approved")
	return s.GetMember(ctx, firmID, req.UserID)
}

// RejectJoinRequest declines a pending join request
func (s *PostgresService) RejectJoinRequest(ctx context.Context, firmID, requestID, decidedBy string) error {
	req, err := s.getJoinRequest(ctx, firmID, requestID)
	if err != nil {
		return err
	}
	if req.Status != JoinPending {
		return ErrJoinRequestDecided
	}
	return decideJoinRequest(ctx, s.db, req.ID, JoinRejected, decidedBy, s.now())
}

func (s *PostgresService) getJoinRequest(ctx context.Context, firmID, requestID string) (*JoinRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+joinRequestColumns+` FROM join_requests WHERE id = $1 AND firm_id = $2`, requestID, firmID)
	req, err := scanJoinRequest(row)
	if err == sql.ErrNoRows {
		return nil, ErrJoinRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get join request: %w", err)
	}
	return req, nil
}

func decideJoinRequest(ctx context.Context, q rbac.Querier, requestID string, status JoinRequestStatus, decidedBy string, now time.Time) error {
	result, err := q.ExecContext(ctx, `
		UPDATE join_requests SET status = $1, decided_by = $2, updated_at = $3
		WHERE id = $4 AND status = 'pending'
	`, status, decidedBy, now.UTC(), requestID)
	if err != nil {
		return fmt.Errorf("failed to update join request: %w", err)
	}
	return requireOneRow(result, ErrJoinRequestDecided)
}

func scanJoinRequest(scanner rbac.RowScanner) (*JoinRequest, error) {
	var req JoinRequest
	var message, decidedBy sql.NullString

	err := scanner.Scan(&req.ID, &req.FirmID, &req.UserID, &message, &req.Status, &decidedBy,
		&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return nil, err
	}
	req.Message = message.String
	if decidedBy.Valid {
		req.DecidedBy = &decidedBy.String
	}
	return &req, nil
}
