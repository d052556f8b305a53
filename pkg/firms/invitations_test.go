package firms

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var invitationRowColumns = []string{
	"id", "firm_id", "email", "role_id", "token", "invited_by", "created_at", "expires_at",
	"accepted_at", "accepted_by", "revoked_at",
}

func pendingInvitation(email, roleID interface{}) *sqlmock.Rows {
	return sqlmock.NewRows(invitationRowColumns).AddRow(
		"inv-1", "F", email, roleID, "tok", "owner",
		fixedNow.Add(-24*time.Hour), fixedNow.Add(6*24*time.Hour), nil, nil, nil,
	)
}

func expectUser(mock sqlmock.Sqlmock, userID, email string) {
	mock.ExpectQuery("SELECT id, email, full_name, firm_id, created_at FROM users WHERE id = \\$1").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "full_name", "firm_id", "created_at"}).
			AddRow(userID, email, "Newcomer", nil, fixedNow))
}

func TestCreateInvitation(t *testing.T) {
	svc, mock := newTestService(t)
	roleID := "r-assoc"

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(roleID, "F").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("INSERT INTO invitations").
		WithArgs(sqlmock.AnyArg(), "F", "new@example.com", &roleID, sqlmock.AnyArg(), "owner", fixedNow, fixedNow.Add(invitationTTL)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	inv := &Invitation{FirmID: "F", Email: "New@Example.com", RoleID: &roleID, InvitedBy: "owner"}
	require.NoError(t, svc.CreateInvitation(context.Background(), inv))
	assert.Len(t, inv.Token, 64)
	assert.Equal(t, fixedNow.Add(invitationTTL), inv.ExpiresAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcceptInvitation(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("SELECT (.+) FROM invitations WHERE token = \\$1").
		WithArgs("tok").
		WillReturnRows(pendingInvitation("new@example.com", "r-assoc"))
	expectUser(mock, "newbie", "New@example.com")
	mock.ExpectQuery(firmByIDQuery).WithArgs("F").WillReturnRows(firmRow("F", StatusActive, nil))
	expectSeatCheck(mock, "F", 5, 1)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE invitations SET accepted_at = \\$1, accepted_by = \\$2").
		WithArgs(fixedNow, "newbie", "inv-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("r-assoc", "F").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT firm_id FROM users WHERE id = \\$1 FOR UPDATE").
		WithArgs("newbie").
		WillReturnRows(sqlmock.NewRows([]string{"firm_id"}).AddRow(nil))
	mock.ExpectExec("INSERT INTO firm_users").
		WithArgs(sqlmock.AnyArg(), "F", "newbie", "r-assoc", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE users SET firm_id = \\$1 WHERE id = \\$2").
		WithArgs("F", "newbie").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE firms\\s+SET current_users").
		WithArgs("F").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectQuery("SELECT (.+) FROM firm_users fu").
		WithArgs("F", "newbie").
		WillReturnRows(sqlmock.NewRows(memberRowColumns).
			AddRow("m3", "F", "newbie", "r-assoc", "active", []byte("{}"), fixedNow, fixedNow, "new@example.com", "Newcomer", "associate"))

	member, err := svc.AcceptInvitation(context.Background(), "tok", "newbie")
	require.NoError(t, err)
	assert.Equal(t, "associate", member.RoleName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcceptInvitation_Expired(t *testing.T) {
	svc, mock := newTestService(t)

	rows := sqlmock.NewRows(invitationRowColumns).AddRow(
		"inv-1", "F", "new@example.com", nil, "tok", "owner",
		fixedNow.AddDate(0, 0, -10), fixedNow.AddDate(0, 0, -3), nil, nil, nil,
	)
	mock.ExpectQuery("SELECT (.+) FROM invitations WHERE token").WithArgs("tok").WillReturnRows(rows)

	_, err := svc.AcceptInvitation(context.Background(), "tok", "newbie")
	assert.ErrorIs(t, err, ErrInvitationExpired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcceptInvitation_AlreadyAccepted(t *testing.T) {
	svc, mock := newTestService(t)

	rows := sqlmock.NewRows(invitationRowColumns).AddRow(
		"inv-1", "F", "new@example.com", nil, "tok", "owner",
		fixedNow.AddDate(0, 0, -1), fixedNow.AddDate(0, 0, 6), fixedNow, "someone", nil,
	)
	mock.ExpectQuery("SELECT (.+) FROM invitations WHERE token").WithArgs("tok").WillReturnRows(rows)

	_, err := svc.AcceptInvitation(context.Background(), "tok", "newbie")
	assert.ErrorIs(t, err, ErrInvitationUsed)
}

func TestAcceptInvitation_EmailMismatch(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("SELECT (.+) FROM invitations WHERE token").
		WithArgs("tok").
		WillReturnRows(pendingInvitation("new@example.com", nil))
	expectUser(mock, "intruder", "intruder@example.com")

	_, err := svc.AcceptInvitation(context.Background(), "tok", "intruder")
	assert.ErrorIs(t, err, ErrInvitationMismatch)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcceptInvitation_NoSeats(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("SELECT (.+) FROM invitations WHERE token").
		WithArgs("tok").
		WillReturnRows(pendingInvitation("new@example.com", nil))
	expectUser(mock, "newbie", "new@example.com")
	mock.ExpectQuery(firmByIDQuery).WithArgs("F").WillReturnRows(firmRow("F", StatusActive, nil))
	expectSeatCheck(mock, "F", 3, 3)

	_, err := svc.AcceptInvitation(context.Background(), "tok", "newbie")
	assert.True(t, IsLimitExceeded(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeInvitation_NotFound(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectExec("UPDATE invitations SET revoked_at").
		WithArgs(fixedNow, "inv-9", "F").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := svc.RevokeInvitation(context.Background(), "F", "inv-9")
	assert.ErrorIs(t, err, ErrInvitationNotFound)
}

func TestApproveJoinRequest_Decided(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("SELECT (.+) FROM join_requests WHERE id = \\$1 AND firm_id = \\$2").
		WithArgs("jr-1", "F").
		WillReturnRows(sqlmock.NewRows([]string{"id", "firm_id", "user_id", "message", "status", "decided_by", "created_at", "updated_at"}).
			AddRow("jr-1", "F", "u1", nil, "rejected", "owner", fixedNow, fixedNow))

	_, err := svc.ApproveJoinRequest(context.Background(), "F", "jr-1", nil, "owner")
	assert.ErrorIs(t, err, ErrJoinRequestDecided)
}

func TestCreateJoinRequest_AlreadyInFirm(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("SELECT id, email, full_name, firm_id, created_at FROM users").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "full_name", "firm_id", "created_at"}).
			AddRow("u1", "u1@example.com", "U", "G", fixedNow))

	_, err := svc.CreateJoinRequest(context.Background(), "F", "u1", "let me in")
	assert.ErrorIs(t, err, ErrAlreadyInFirm)
}
