//go:build integration

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/caseload/pkg/api"
	"github.com/platinummonkey/caseload/pkg/auth"
	"github.com/platinummonkey/caseload/pkg/billing"
	"github.com/platinummonkey/caseload/pkg/config"
	"github.com/platinummonkey/caseload/pkg/firms"
	"github.com/platinummonkey/caseload/pkg/practice"
)

// startPostgres runs a throwaway Postgres and returns its connection string
func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	provider.Close()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("caseload_test"),
		postgres.WithUsername("caseload"),
		postgres.WithPassword("caseload_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

type integrationEnv struct {
	server *api.Server
	svc    *services
	tokens *auth.TokenManager
}

func newIntegrationEnv(t *testing.T) *integrationEnv {
	t.Helper()
	ctx := context.Background()

	cfg := config.Default()
	cfg.Database.URL = startPostgres(t)
	cfg.Auth.JWTSecret = testSecret
	cfg.Blob.Root = t.TempDir()

	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	db, err := openDatabase(ctx, cfg, logger, true)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	svc, err := newServices(ctx, cfg, db, logger, nil)
	require.NoError(t, err)
	require.NoError(t, svc.catalog.Seed(ctx, billing.DefaultCatalog()))

	tokens := auth.NewTokenManager([]byte(testSecret), cfg.Auth.Issuer, time.Hour)
	server := api.NewServer(api.Config{
		Firms:         svc.firms,
		WriteChecker:  svc.guard,
		Checker:       svc.evaluator,
		Roles:         svc.roles,
		Billing:       svc.billing,
		Clients:       svc.clients,
		Cases:         svc.cases,
		GeneralWork:   svc.generalWork,
		Calendar:      svc.calendar,
		Documents:     svc.documents,
		Notifications: svc.notifier,
		Tokens:        tokens,
		Logger:        logger,
	})
	return &integrationEnv{server: server, svc: svc, tokens: tokens}
}

func (e *integrationEnv) do(t *testing.T, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	token, _, err := e.tokens.Issue(userID)
	require.NoError(t, err)

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

func (e *integrationEnv) user(t *testing.T, email string) *firms.User {
	t.Helper()
	u, err := e.svc.firms.CreateUser(context.Background(), email, email)
	require.NoError(t, err)
	return u
}

func TestIntegration_FirmLifecycle(t *testing.T) {
	env := newIntegrationEnv(t)
	admin := env.user(t, "admin@doe.law")

	rr := env.do(t, "POST", "/api/v1/firms", admin.ID, map[string]string{"name": "Doe & Partners"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var firm firms.Firm
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &firm))
	assert.Equal(t, admin.ID, firm.AdminID)

	t.Run("admin creates and lists clients", func(t *testing.T) {
		rr := env.do(t, "POST", "/api/v1/clients", admin.ID, map[string]string{"name": "Acme Holdings"})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

		rr = env.do(t, "GET", "/api/v1/clients", admin.ID, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var page struct {
			Items []practice.Client `json:"items"`
			Total int               `json:"total"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
		assert.Equal(t, 1, page.Total)
	})

	t.Run("member without grants sees nothing", func(t *testing.T) {
		clerk := env.user(t, "clerk@doe.law")
		rr := env.do(t, "POST", "/api/v1/members", admin.ID, map[string]string{"user_id": clerk.ID})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

		rr = env.do(t, "GET", "/api/v1/clients", clerk.ID, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"items": [], "total": 0, "limit": 25, "offset": 0}`, rr.Body.String())

		rr = env.do(t, "POST", "/api/v1/clients", clerk.ID, map[string]string{"name": "Globex"})
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("trial seat ceiling", func(t *testing.T) {
		third := env.user(t, "third@doe.law")
		rr := env.do(t, "POST", "/api/v1/members", admin.ID, map[string]string{"user_id": third.ID})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

		fourth := env.user(t, "fourth@doe.law")
		rr = env.do(t, "POST", "/api/v1/members", admin.ID, map[string]string{"user_id": fourth.ID})
		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.Contains(t, rr.Body.String(), "seats limit exceeded")
	})

	t.Run("sweep reconciles", func(t *testing.T) {
		report, err := env.svc.sweeper.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.FirmsReconciled)
		assert.Zero(t, report.ReconcileFailures)
	})
}
