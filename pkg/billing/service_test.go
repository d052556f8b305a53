package billing

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/caseload/pkg/firms"
)

// mockFirmAccount is a mock implementation of FirmAccount
type mockFirmAccount struct {
	getFirmFunc   func(ctx context.Context, firmID string) (*firms.Firm, error)
	setStatusFunc func(ctx context.Context, firmID string, status firms.SubscriptionStatus) error
}

func (m *mockFirmAccount) GetFirm(ctx context.Context, firmID string) (*firms.Firm, error) {
	if m.getFirmFunc != nil {
		return m.getFirmFunc(ctx, firmID)
	}
	return &firms.Firm{ID: firmID, Name: "Acme", AdminID: "owner", Status: firms.StatusTrial, CurrentUsers: 2}, nil
}

func (m *mockFirmAccount) SetSubscriptionStatus(ctx context.Context, firmID string, status firms.SubscriptionStatus) error {
	if m.setStatusFunc != nil {
		return m.setStatusFunc(ctx, firmID, status)
	}
	return nil
}

// mockLimitUpdater records UpdateFirmLimits calls
type mockLimitUpdater struct {
	calls []string
	err   error
}

func (m *mockLimitUpdater) UpdateFirmLimits(_ context.Context, firmID string) error {
	m.calls = append(m.calls, firmID)
	return m.err
}

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, account FirmAccount) (*Service, sqlmock.Sqlmock, *mockLimitUpdater) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	limits := &mockLimitUpdater{}
	svc := NewService(db, NewCatalog(db, time.Minute), account, limits, logger)
	svc.now = func() time.Time { return testNow }
	return svc, mock, limits
}

func expectPlan(mock sqlmock.Sqlmock, id string, maxUsers interface{}, perUserGB int, active bool) {
	mock.ExpectQuery("SELECT (.+) FROM plans WHERE id = \\$1").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(planColumns).AddRow(id, id, maxUsers, perUserGB, int64(1000), active, testNow))
}

func TestChangePlan(t *testing.T) {
	svc, mock, limits := newTestService(t, &mockFirmAccount{})

	expectPlan(mock, "team", 10, 10, true)
	mock.ExpectExec("UPDATE firms\\s+SET plan_id = \\$1, max_users = \\$2, subscription_status = \\$3, trial_ends_at = \\$4").
		WithArgs("team", 10, firms.StatusActive, nil, testNow, "F").
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := svc.ChangePlan(context.Background(), "F", "team")
	require.NoError(t, err)
	assert.Equal(t, []string{"F"}, limits.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangePlan_DowngradeBelowMembers(t *testing.T) {
	account := &mockFirmAccount{
		getFirmFunc: func(_ context.Context, firmID string) (*firms.Firm, error) {
			return &firms.Firm{ID: firmID, Status: firms.StatusActive, CurrentUsers: 4}, nil
		},
	}
	svc, mock, limits := newTestService(t, account)

	expectPlan(mock, "solo", 1, 5, true)

	_, err := svc.ChangePlan(context.Background(), "F", "solo")
	var limitErr *firms.LimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, firms.ResourceSeats, limitErr.Resource)
	assert.Equal(t, int64(4), limitErr.Current)
	assert.Equal(t, int64(1), limitErr.Limit)
	assert.Empty(t, limits.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangePlan_InactivePlan(t *testing.T) {
	svc, mock, _ := newTestService(t, &mockFirmAccount{})

	expectPlan(mock, "legacy", nil, 1, false)

	_, err := svc.ChangePlan(context.Background(), "F", "legacy")
	assert.ErrorIs(t, err, ErrCatalogItemInactive)
}

func TestChangePlan_FirmDeleted(t *testing.T) {
	svc, mock, limits := newTestService(t, &mockFirmAccount{})

	expectPlan(mock, "firm", nil, 25, true)
	mock.ExpectExec("UPDATE firms").WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := svc.ChangePlan(context.Background(), "F", "firm")
	assert.ErrorIs(t, err, firms.ErrFirmNotFound)
	assert.Empty(t, limits.calls)
}

func TestPurchaseAddOn(t *testing.T) {
	svc, mock, limits := newTestService(t, &mockFirmAccount{})

	mock.ExpectQuery("SELECT (.+) FROM storage_addons WHERE id = \\$1").
		WithArgs("storage-10").
		WillReturnRows(sqlmock.NewRows(addOnColumns).AddRow("storage-10", "10 GB", 10, int64(500), true, testNow))
	mock.ExpectExec("INSERT INTO firm_addons").
		WithArgs(sqlmock.AnyArg(), "F", "storage-10", AddOnActive, testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	purchase, err := svc.PurchaseAddOn(context.Background(), "F", "storage-10")
	require.NoError(t, err)
	assert.Equal(t, 10, purchase.StorageGB)
	assert.Equal(t, AddOnActive, purchase.Status)
	assert.Equal(t, []string{"F"}, limits.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelAddOn(t *testing.T) {
	svc, mock, limits := newTestService(t, &mockFirmAccount{})

	mock.ExpectExec("UPDATE firm_addons SET status = \\$1, canceled_at = \\$2").
		WithArgs(AddOnCanceled, testNow, "p1", "F", AddOnActive).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE firm_addons").
		WithArgs(AddOnCanceled, testNow, "p1", "G", AddOnActive).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, svc.CancelAddOn(context.Background(), "F", "p1"))
	// another firm cannot cancel the purchase
	assert.ErrorIs(t, svc.CancelAddOn(context.Background(), "G", "p1"), ErrPurchaseNotFound)
	assert.Equal(t, []string{"F"}, limits.calls)
}

func TestSummary(t *testing.T) {
	planID := "team"
	maxUsers := 10
	account := &mockFirmAccount{
		getFirmFunc: func(_ context.Context, firmID string) (*firms.Firm, error) {
			return &firms.Firm{ID: firmID, PlanID: &planID, Status: firms.StatusActive, MaxUsers: &maxUsers, CurrentUsers: 3}, nil
		},
	}
	svc, mock, _ := newTestService(t, account)

	expectPlan(mock, "team", 10, 10, true)
	mock.ExpectQuery("SELECT (.+) FROM firm_addons fa JOIN storage_addons a (.+) AND fa.status = \\$2").
		WithArgs("F", AddOnActive).
		WillReturnRows(sqlmock.NewRows([]string{"id", "firm_id", "addon_id", "name", "storage_gb", "status", "created_at", "canceled_at"}).
			AddRow("p1", "F", "storage-10", "10 GB", 10, "active", testNow, nil))

	summary, err := svc.Summary(context.Background(), "F")
	require.NoError(t, err)
	assert.Equal(t, "active", summary.Status)
	require.NotNil(t, summary.Plan)
	assert.Equal(t, "team", summary.Plan.ID)
	require.Len(t, summary.AddOns, 1)
	assert.Equal(t, 10, summary.AddOns[0].StorageGB)
}

func TestChangePlan_StatusAfterChange(t *testing.T) {
	ended := testNow.Add(-time.Hour)
	running := testNow.Add(24 * time.Hour)

	tests := []struct {
		name      string
		firm      firms.Firm
		status    firms.SubscriptionStatus
		trialEnds interface{}
	}{
		{"trial converts", firms.Firm{Status: firms.StatusTrial, TrialEndsAt: &running}, firms.StatusActive, nil},
		{"active stays active", firms.Firm{Status: firms.StatusActive}, firms.StatusActive, nil},
		{"ended trial kept", firms.Firm{Status: firms.StatusTrial, TrialEndsAt: &ended}, firms.StatusTrial, ended},
		{"read only kept", firms.Firm{Status: firms.StatusReadOnly}, firms.StatusReadOnly, nil},
		{"expired kept", firms.Firm{Status: firms.StatusExpired}, firms.StatusExpired, nil},
		{"canceled kept", firms.Firm{Status: firms.StatusCanceled}, firms.StatusCanceled, nil},
		{"past due kept", firms.Firm{Status: firms.StatusPastDue}, firms.StatusPastDue, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account := &mockFirmAccount{
				getFirmFunc: func(_ context.Context, firmID string) (*firms.Firm, error) {
					f := tt.firm
					f.ID = firmID
					return &f, nil
				},
			}
			svc, mock, _ := newTestService(t, account)

			expectPlan(mock, "team", 10, 10, true)
			mock.ExpectExec("UPDATE firms").
				WithArgs("team", 10, tt.status, tt.trialEnds, testNow, "F").
				WillReturnResult(sqlmock.NewResult(0, 1))

			_, err := svc.ChangePlan(context.Background(), "F", "team")
			require.NoError(t, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSetSubscriptionStatus_SelfService(t *testing.T) {
	var got []firms.SubscriptionStatus
	account := &mockFirmAccount{
		setStatusFunc: func(_ context.Context, _ string, status firms.SubscriptionStatus) error {
			got = append(got, status)
			return nil
		},
	}
	svc, _, _ := newTestService(t, account)
	ctx := context.Background()

	require.NoError(t, svc.SetSubscriptionStatus(ctx, "F", firms.StatusReadOnly))
	require.NoError(t, svc.SetSubscriptionStatus(ctx, "F", firms.StatusCanceled))

	for _, status := range []firms.SubscriptionStatus{firms.StatusActive, firms.StatusTrial, firms.StatusPastDue, firms.StatusExpired} {
		assert.ErrorIs(t, svc.SetSubscriptionStatus(ctx, "F", status), ErrStatusNotPermitted, string(status))
	}
	assert.ErrorIs(t, svc.SetSubscriptionStatus(ctx, "F", "frozen"), firms.ErrInvalidStatus)

	assert.Equal(t, []firms.SubscriptionStatus{firms.StatusReadOnly, firms.StatusCanceled}, got)
}

func TestSetSubscriptionStatus_UnknownFirm(t *testing.T) {
	account := &mockFirmAccount{
		getFirmFunc: func(context.Context, string) (*firms.Firm, error) {
			return nil, firms.ErrFirmNotFound
		},
		setStatusFunc: func(context.Context, string, firms.SubscriptionStatus) error {
			t.Fatal("status must not be written")
			return nil
		},
	}
	svc, _, _ := newTestService(t, account)

	err := svc.SetSubscriptionStatus(context.Background(), "gone", firms.StatusCanceled)
	assert.ErrorIs(t, err, firms.ErrFirmNotFound)
}
