package practice

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/caseload/pkg/rbac"
)

var fixedNow = time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

var clientColumns = []string{"id", "firm_id", "created_by", "created_at", "updated_at", "name", "email", "phone", "address", "notes"}

var caseColumns = []string{"id", "firm_id", "created_by", "created_at", "updated_at", "title", "number", "client_id", "court", "status", "description", "opened_at"}

func newMockDB(t *testing.T) (*Repository[Client, *Client], *Repository[Case, *Case], sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clients := NewClients(db)
	clients.now = func() time.Time { return fixedNow }
	cases := NewCases(db)
	cases.now = func() time.Time { return fixedNow }
	return clients, cases, mock
}

func TestRepository_CreateClient(t *testing.T) {
	clients, _, mock := newMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta(
		`INSERT INTO clients (id, firm_id, created_by, created_at, updated_at, name, email, phone, address, notes) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`)).
		WithArgs(sqlmock.AnyArg(), "F", "u1", fixedNow, fixedNow, "Acme Holdings", "legal@acme.test", "", "", "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	client := &Client{Name: "Acme Holdings", Email: "legal@acme.test"}
	require.NoError(t, clients.Create(context.Background(), "F", "u1", client))

	assert.NotEmpty(t, client.ID)
	assert.Equal(t, "F", client.FirmID)
	assert.Equal(t, "u1", client.CreatedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_CreateRejectsInvalid(t *testing.T) {
	clients, _, mock := newMockDB(t)

	err := clients.Create(context.Background(), "F", "u1", &Client{Name: "  "})
	var verr *rbac.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "name", verr.Field)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_GetCase(t *testing.T) {
	_, cases, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT (.+) FROM cases WHERE id = \$1 AND firm_id = \$2`).
		WithArgs("c1", "F").
		WillReturnRows(sqlmock.NewRows(caseColumns).
			AddRow("c1", "F", "u1", fixedNow, fixedNow, "Estate of Doe", "2026-CV-14", nil, "Probate", "open", "", nil))

	c, err := cases.Get(context.Background(), "F", "c1")
	require.NoError(t, err)
	assert.Equal(t, "Estate of Doe", c.Title)
	assert.Equal(t, CaseOpen, c.Status)
	assert.Nil(t, c.ClientID)
	assert.Nil(t, c.OpenedAt)
}

func TestRepository_GetOtherFirmIsNotFound(t *testing.T) {
	_, cases, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT (.+) FROM cases`).
		WithArgs("c-foreign", "F").
		WillReturnRows(sqlmock.NewRows(caseColumns))

	_, err := cases.Get(context.Background(), "F", "c-foreign")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_ListNoneScopeSkipsQuery(t *testing.T) {
	clients, _, mock := newMockDB(t)

	items, total, err := clients.List(context.Background(), "F", rbac.ResourceScope{}, ListOptions{Limit: 20})
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
	assert.Equal(t, 0, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ListAllScope(t *testing.T) {
	clients, _, mock := newMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM clients WHERE firm_id = $1`)).
		WithArgs("F").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(`SELECT (.+) FROM clients WHERE firm_id = \$1 ORDER BY created_at DESC, id LIMIT \$2 OFFSET \$3`).
		WithArgs("F", 20, 0).
		WillReturnRows(sqlmock.NewRows(clientColumns).
			AddRow("k2", "F", "u1", fixedNow, fixedNow, "Beta LLC", "", "", "", "").
			AddRow("k1", "F", "u1", fixedNow, fixedNow, "Acme Holdings", "", "", "", ""))

	items, total, err := clients.List(context.Background(), "F", rbac.ResourceScope{All: true}, ListOptions{Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, items, 2)
	assert.Equal(t, "Beta LLC", items[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ListScopedToIDs(t *testing.T) {
	_, cases, mock := newMockDB(t)

	scope := rbac.ResourceScope{IDs: []string{"c1", "c3"}}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM cases WHERE firm_id = $1 AND id = ANY($2) AND title ILIKE $3`)).
		WithArgs("F", pq.Array([]string{"c1", "c3"}), "%doe%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT (.+) FROM cases WHERE firm_id = \$1 AND id = ANY\(\$2\) AND title ILIKE \$3 ORDER BY`).
		WithArgs("F", pq.Array([]string{"c1", "c3"}), "%doe%", 10, 5).
		WillReturnRows(sqlmock.NewRows(caseColumns).
			AddRow("c1", "F", "u1", fixedNow, fixedNow, "Estate of Doe", "", "k1", "", "pending", "", fixedNow))

	items, total, err := cases.List(context.Background(), "F", scope, ListOptions{Limit: 10, Offset: 5, Search: "doe"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].ClientID)
	assert.Equal(t, "k1", *items[0].ClientID)
	assert.Equal(t, CasePending, items[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ListEmptyCountSkipsSelect(t *testing.T) {
	clients, _, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT COUNT`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	items, total, err := clients.List(context.Background(), "F", rbac.ResourceScope{All: true}, ListOptions{Limit: 20})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 0, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_UpdateCase(t *testing.T) {
	_, cases, mock := newMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE cases SET title = $1, number = $2, client_id = $3, court = $4, status = $5, description = $6, opened_at = $7, updated_at = $8 WHERE id = $9 AND firm_id = $10`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	c := &Case{Base: Base{ID: "c1"}, Title: "Estate of Doe", Status: CaseClosed}
	require.NoError(t, cases.Update(context.Background(), "F", c))
	assert.Equal(t, fixedNow, c.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_UpdateMissing(t *testing.T) {
	_, cases, mock := newMockDB(t)

	mock.ExpectExec("UPDATE cases").WillReturnResult(sqlmock.NewResult(0, 0))

	err := cases.Update(context.Background(), "F", &Case{Base: Base{ID: "gone"}, Title: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_Delete(t *testing.T) {
	clients, _, mock := newMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM clients WHERE id = $1 AND firm_id = $2`)).
		WithArgs("k1", "F").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM clients").
		WithArgs("k1", "F").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, clients.Delete(context.Background(), "F", "k1"))
	assert.ErrorIs(t, clients.Delete(context.Background(), "F", "k1"), ErrNotFound)
}

func TestRepository_Exists(t *testing.T) {
	clients, _, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("k1", "F").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := clients.Exists(context.Background(), "F", "k1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestValidate_Defaults(t *testing.T) {
	c := &Case{Title: "Matter"}
	require.NoError(t, c.Validate())
	assert.Equal(t, CaseOpen, c.Status)

	g := &GeneralWork{Title: "Renew bar membership"}
	require.NoError(t, g.Validate())
	assert.Equal(t, WorkTodo, g.Status)

	assert.Error(t, (&Case{Title: "Matter", Status: "archived"}).Validate())
	assert.Error(t, (&GeneralWork{Title: "x", Status: "blocked"}).Validate())
}
