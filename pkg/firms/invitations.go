package firms

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/caseload/pkg/rbac"
)

const invitationTTL = 7 * 24 * time.Hour

const invitationColumns = `id, firm_id, email, role_id, token, invited_by, created_at, expires_at,
	accepted_at, accepted_by, revoked_at`

// CreateInvitation issues a new invitation token for an email address
func (s *PostgresService) CreateInvitation(ctx context.Context, inv *Invitation) error {
	inv.Email = strings.TrimSpace(strings.ToLower(inv.Email))
	if inv.Email == "" {
		return &rbac.ValidationError{Field: "email", Message: "is required"}
	}
	if inv.RoleID != nil {
		if err := requireRoleInFirm(ctx, s.db, inv.FirmID, *inv.RoleID); err != nil {
			return err
		}
	}

	token, err := generateToken()
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}
	now := s.now().UTC()
	inv.ID = uuid.NewString()
	inv.Token = token
	inv.CreatedAt = now
	if inv.ExpiresAt.IsZero() {
		inv.ExpiresAt = now.Add(invitationTTL)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO invitations (id, firm_id, email, role_id, token, invited_by, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, inv.ID, inv.FirmID, inv.Email, inv.RoleID, inv.Token, inv.InvitedBy, inv.CreatedAt, inv.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	return nil
}

// ListInvitations lists pending invitations for a firm
func (s *PostgresService) ListInvitations(ctx context.Context, firmID string) ([]*Invitation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+invitationColumns+` FROM invitations
		WHERE firm_id = $1 AND accepted_at IS NULL AND revoked_at IS NULL
		ORDER BY created_at DESC`, firmID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	invitations := []*Invitation{}
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}
	return invitations, rows.Err()
}

// RevokeInvitation revokes a pending invitation
func (s *PostgresService) RevokeInvitation(ctx context.Context, firmID, invitationID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE invitations SET revoked_at = $1
		WHERE id = $2 AND firm_id = $3 AND accepted_at IS NULL AND revoked_at IS NULL
	`, s.now().UTC(), invitationID, firmID)
	if err != nil {
		return fmt.Errorf("failed to revoke invitation: %w", err)
	}
	return requireOneRow(result, ErrInvitationNotFound)
}

// AcceptInvitation joins userID to the inviting firm. It runs outside the
// HTTP write gate, so the firm's write state and seats are checked here.
func (s *PostgresService) AcceptInvitation(ctx context.Context, token, userID string) (*Member, error) {
	inv, err := s.getInvitationByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if inv.AcceptedAt != nil || inv.RevokedAt != nil {
		return nil, ErrInvitationUsed
	}
	if s.now().After(inv.ExpiresAt) {
		return nil, ErrInvitationExpired
	}

	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(user.Email, inv.Email) {
		return nil, ErrInvitationMismatch
	}

	if err := s.guard.RequireWrite(ctx, inv.FirmID); err != nil {
		return nil, err
	}
	if err := s.guard.CheckUserSeats(ctx, inv.FirmID); err != nil {
		return nil, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE invitations SET accepted_at = $1, accepted_by = $2
			WHERE id = $3 AND accepted_at IS NULL AND revoked_at IS NULL
		`, s.now().UTC(), userID, inv.ID)
		if err != nil {
			return fmt.Errorf("failed to update invitation: %w", err)
		}
		if err := requireOneRow(result, ErrInvitationUsed); err != nil {
			return err
		}
		return s.attachMember(ctx, tx, inv.FirmID, userID, inv.RoleID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"firm_id":       inv.FirmID,
		"user_id":       userID,
		"invitation_id": inv.ID,
	}).Info("invitation accepted")
	return s.GetMember(ctx, inv.FirmID, userID)
}

// CleanupExpiredInvitations removes expired pending invitations
func (s *PostgresService) CleanupExpiredInvitations(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM invitations WHERE expires_at < $1 AND accepted_at IS NULL`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired invitations: %w", err)
	}
	return result.RowsAffected()
}

func (s *PostgresService) getInvitationByToken(ctx context.Context, token string) (*Invitation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE token = $1`, token)
	inv, err := scanInvitation(row)
	if err == sql.ErrNoRows {
		return nil, ErrInvitationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return inv, nil
}

func scanInvitation(scanner rbac.RowScanner) (*Invitation, error) {
	var inv Invitation
	var roleID, acceptedBy sql.NullString
	var acceptedAt, revokedAt sql.NullTime

	err := scanner.Scan(
		&inv.ID, &inv.FirmID, &inv.Email, &roleID, &inv.Token, &inv.InvitedBy,
		&inv.CreatedAt, &inv.ExpiresAt, &acceptedAt, &acceptedBy, &revokedAt,
	)
	if err != nil {
		return nil, err
	}

	if roleID.Valid {
		inv.RoleID = &roleID.String
	}
	if acceptedAt.Valid {
		inv.AcceptedAt = &acceptedAt.Time
	}
	if acceptedBy.Valid {
		inv.AcceptedBy = &acceptedBy.String
	}
	if revokedAt.Valid {
		inv.RevokedAt = &revokedAt.Time
	}
	return &inv, nil
}
