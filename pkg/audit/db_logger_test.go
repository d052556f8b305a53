package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var eventRowColumns = []string{
	"id", "firm_id", "actor_id", "event_type", "status", "resource_type", "resource_id",
	"request_id", "ip_address", "user_agent", "method", "path", "message", "metadata", "changes", "created_at",
}

var testTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestDBLogger(t *testing.T) (*DBLogger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewDBLogger(db), mock
}

func TestDBLogger_Log(t *testing.T) {
	l, mock := newTestDBLogger(t)

	event := &Event{
		FirmID:       "F",
		ActorID:      "owner",
		Type:         EventPlanChange,
		Status:       StatusSuccess,
		ResourceType: ResourceSubscription,
		ResourceID:   "F",
		RequestID:    "req-1",
		Method:       "PUT",
		Path:         "/api/v1/billing/plan",
		Metadata:     map[string]interface{}{"plan_id": "team"},
		Changes:      &ChangeDetails{Before: "trial", After: "active"},
		Timestamp:    testTime,
	}

	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs(sqlmock.AnyArg(), "F", "owner", "billing.plan_change", "success",
			"subscription", "F", "req-1", "", "", "PUT", "/api/v1/billing/plan", "",
			[]byte(`{"plan_id":"team"}`), []byte(`{"before":"trial","after":"active"}`), testTime).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, l.Log(context.Background(), event))
	assert.NotEmpty(t, event.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_LogWithoutDetails(t *testing.T) {
	l, mock := newTestDBLogger(t)

	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs("e1", "F", "", "role.delete", "success", "role", "r1", "", "", "", "", "", "",
			nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := l.Log(context.Background(), &Event{
		ID: "e1", FirmID: "F", Type: EventRoleDelete, Status: StatusSuccess,
		ResourceType: ResourceRole, ResourceID: "r1",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_Search(t *testing.T) {
	l, mock := newTestDBLogger(t)
	since := testTime.Add(-24 * time.Hour)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM audit_events WHERE firm_id = \\$1 AND event_type = ANY\\(\\$2\\) AND actor_id = \\$3 AND created_at >= \\$4").
		WithArgs("F", pq.Array([]string{"member.update", "role.update"}), "owner", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery("SELECT (.+) FROM audit_events WHERE firm_id = \\$1 (.+) ORDER BY created_at DESC, id LIMIT \\$5 OFFSET \\$6").
		WithArgs("F", pq.Array([]string{"member.update", "role.update"}), "owner", since, 2, 0).
		WillReturnRows(sqlmock.NewRows(eventRowColumns).
			AddRow("e2", "F", "owner", "role.update", "success", "role", "r1", "req-2", "10.0.0.1", "curl", "PUT", "/api/v1/roles/r1", "",
				nil, []byte(`{"after":{"name":"Paralegal"}}`), testTime).
			AddRow("e1", "F", "owner", "member.update", "denied", "member", "u2", "req-1", "10.0.0.1", "curl", "PATCH", "/api/v1/members/u2", "only the firm admin",
				[]byte(`{"role_id":"r-admin"}`), nil, testTime.Add(-time.Hour)))

	events, total, err := l.Search(context.Background(), SearchFilter{
		FirmID:  "F",
		Types:   []EventType{EventMemberUpdate, EventRoleUpdate},
		ActorID: "owner",
		Since:   &since,
		Limit:   2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, events, 2)

	assert.Equal(t, EventRoleUpdate, events[0].Type)
	require.NotNil(t, events[0].Changes)
	assert.Equal(t, map[string]interface{}{"name": "Paralegal"}, events[0].Changes.After)
	assert.Nil(t, events[0].Metadata)

	assert.Equal(t, StatusDenied, events[1].Status)
	assert.Equal(t, "r-admin", events[1].Metadata["role_id"])
	assert.Nil(t, events[1].Changes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_SearchRequiresFirm(t *testing.T) {
	l, mock := newTestDBLogger(t)

	_, _, err := l.Search(context.Background(), SearchFilter{Limit: 10})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_Cleanup(t *testing.T) {
	l, mock := newTestDBLogger(t)

	mock.ExpectExec("DELETE FROM audit_events WHERE created_at < \\$1").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := l.Cleanup(context.Background(), 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetentionPruner(t *testing.T) {
	l, mock := newTestDBLogger(t)

	mock.ExpectExec("DELETE FROM audit_events").
		WithArgs(sqlmock.AnyArg()).
		WillReturnError(assert.AnError)

	_, err := NewRetentionPruner(l, time.Hour).Prune(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}
