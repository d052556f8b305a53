package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/caseload/pkg/firms"
	"github.com/platinummonkey/caseload/pkg/rbac"
)

func TestServer_Authentication(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing token", ""},
		{"malformed scheme", "Token abc"},
		{"garbage token", "Bearer not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/clients", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			env.server.ServeHTTP(rr, req)
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
		})
	}

	t.Run("deleted user", func(t *testing.T) {
		rr := env.do(t, "GET", "/api/v1/me", "ghost", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestServer_FirmScopedRoutesNeedAFirm(t *testing.T) {
	env := newTestEnv(t)
	env.firms.setFirm("loner", "")

	for _, path := range []string{"/api/v1/clients", "/api/v1/calendar", "/api/v1/notifications", "/api/v1/firm"} {
		rr := env.do(t, "GET", path, "loner", nil)
		assert.Equal(t, http.StatusForbidden, rr.Code, path)
	}

	rr := env.do(t, "GET", "/api/v1/me", "loner", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestServer_RemovedMemberLosesAccess(t *testing.T) {
	env := newTestEnv(t)
	env.addMember("paralegal", clientViewerRole())
	env.dir.RemoveMember(firmID, "paralegal")

	rr := env.do(t, "GET", "/api/v1/clients", "paralegal", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"items": [], "total": 0, "limit": 25, "offset": 0}`, rr.Body.String())
}

func TestServer_WriteGate(t *testing.T) {
	env := newTestEnv(t)
	env.gate.decision = firms.WriteDecision{Allowed: false, Reason: "trial expired"}

	t.Run("writes are refused", func(t *testing.T) {
		rr := env.do(t, "POST", "/api/v1/clients", adminID, map[string]string{"name": "Acme"})
		assert.Equal(t, http.StatusPaymentRequired, rr.Code)
		assert.Contains(t, rr.Body.String(), "trial expired")

		rr = env.do(t, "PATCH", "/api/v1/firm", adminID, map[string]string{"name": "x"})
		assert.Equal(t, http.StatusPaymentRequired, rr.Code)
	})

	t.Run("reads still work", func(t *testing.T) {
		rr := env.do(t, "GET", "/api/v1/firm", adminID, nil)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("account routes are not gated", func(t *testing.T) {
		env.firms.setFirm("applicant", "")
		rr := env.do(t, "POST", "/api/v1/firms/"+firmID+"/join-requests", "applicant", nil)
		assert.Equal(t, http.StatusCreated, rr.Code)
	})
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestServer_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "PUT", "/api/v1/clients", adminID, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestServer_RequestIDAndLogging(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/api/v1/firm", adminID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	var served bool
	for _, entry := range env.logs.AllEntries() {
		if entry.Message == "request served" {
			served = true
			assert.Equal(t, "/api/v1/firm", entry.Data["path"])
			assert.Equal(t, http.StatusOK, entry.Data["status"])
		}
	}
	assert.True(t, served)
}

func TestServer_PermissionsIntrospection(t *testing.T) {
	env := newTestEnv(t)
	env.addMember("associate", &rbac.Role{
		ID:          "r-assoc",
		Name:        "Associate",
		Permissions: []rbac.PermissionKey{rbac.PermCasesView},
	}, rbac.PermReportsView)

	rr := env.do(t, "GET", "/api/v1/me/permissions", "associate", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), string(rbac.PermCasesView))
	assert.Contains(t, rr.Body.String(), string(rbac.PermReportsView))
	assert.NotContains(t, rr.Body.String(), string(rbac.PermFirmManageUsers))

	env.logs.Reset()
	rr = env.do(t, "GET", "/api/v1/members/"+adminID+"/permissions", "associate", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.NotEmpty(t, env.logs.AllEntries())
	assert.Equal(t, logrus.InfoLevel, env.logs.LastEntry().Level)
}
