package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/caseload/pkg/audit"
	"github.com/platinummonkey/caseload/pkg/firms"
	"github.com/platinummonkey/caseload/pkg/rbac"
)

func TestGetMe(t *testing.T) {
	env := newTestEnv(t)
	env.firms.setFirm("newcomer", "")

	rr := env.do(t, "GET", "/api/v1/me", adminID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	me := decode[map[string]interface{}](t, rr)
	assert.Equal(t, adminID, me["id"])
	assert.Equal(t, true, me["is_firm_admin"])

	rr = env.do(t, "GET", "/api/v1/me", "newcomer", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	me = decode[map[string]interface{}](t, rr)
	assert.Equal(t, false, me["is_firm_admin"])
	assert.NotContains(t, me, "firm_id")
}

func TestCreateFirm(t *testing.T) {
	env := newTestEnv(t)
	env.firms.setFirm("founder", "")

	var gotCreator string
	env.firms.createFirmFunc = func(_ context.Context, req firms.CreateFirmRequest, creatorID string) (*firms.Firm, error) {
		gotCreator = creatorID
		return &firms.Firm{ID: "F2", Name: req.Name, AdminID: creatorID, Status: firms.StatusTrial}, nil
	}

	t.Run("founder without a firm", func(t *testing.T) {
		rr := env.do(t, "POST", "/api/v1/firms", "founder", map[string]string{"name": "Roe Legal"})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		firm := decode[firms.Firm](t, rr)
		assert.Equal(t, "Roe Legal", firm.Name)
		assert.Equal(t, firms.StatusTrial, firm.Status)
		assert.Equal(t, "founder", gotCreator)
	})

	t.Run("member of a firm", func(t *testing.T) {
		rr := env.do(t, "POST", "/api/v1/firms", adminID, map[string]string{"name": "Second"})
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("missing name", func(t *testing.T) {
		rr := env.do(t, "POST", "/api/v1/firms", "founder", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestRenameFirm_RequiresManageSettings(t *testing.T) {
	env := newTestEnv(t)
	env.addMember("associate", &rbac.Role{ID: "r-assoc", Name: "Associate"})

	rr := env.do(t, "PATCH", "/api/v1/firm", "associate", map[string]string{"name": "Renamed"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.do(t, "PATCH", "/api/v1/firm", adminID, map[string]string{"name": "Renamed"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Renamed", decode[firms.Firm](t, rr).Name)
}

func TestDeleteFirm_AdminOnly(t *testing.T) {
	env := newTestEnv(t)
	env.addMember("partner", &rbac.Role{
		ID:          "r-partner",
		Name:        "Partner",
		Permissions: rbac.AllPermissionKeys(),
	})

	deleted := ""
	env.firms.deleteFirmFunc = func(_ context.Context, id string) error {
		deleted = id
		return nil
	}

	rr := env.do(t, "DELETE", "/api/v1/firm", "partner", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Empty(t, deleted)

	rr = env.do(t, "DELETE", "/api/v1/firm", adminID, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, firmID, deleted)
}

func TestAddMember_SeatLimitNotifiesAdmin(t *testing.T) {
	env := newTestEnv(t)
	env.firms.addMemberFunc = func(_ context.Context, fid, _ string, _ *string) (*firms.Member, error) {
		return nil, &firms.LimitExceededError{FirmID: fid, Resource: firms.ResourceSeats, Current: 5, Limit: 5}
	}

	rr := env.do(t, "POST", "/api/v1/members", adminID, map[string]string{"user_id": "u9"})
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "seats limit exceeded (5 of 5)")

	call := env.inbox.awaitLimit(t)
	assert.Equal(t, limitCall{firmID: firmID, resource: firms.ResourceSeats, current: 5, limit: 5}, call)
}

func TestUpdateMember_PassesCallerAdminStatus(t *testing.T) {
	env := newTestEnv(t)
	env.addMember("office-manager", &rbac.Role{
		ID:          "r-office",
		Name:        "Office manager",
		Permissions: []rbac.PermissionKey{rbac.PermFirmManageUsers},
	})

	var got []firms.UpdateMemberRequest
	env.firms.updateMemberFunc = func(_ context.Context, fid, uid string, req firms.UpdateMemberRequest) (*firms.Member, error) {
		got = append(got, req)
		if !req.ByFirmAdmin {
			return nil, firms.ErrPrivilegedGrant
		}
		return &firms.Member{Membership: rbac.Membership{FirmID: fid, UserID: uid, Status: rbac.MembershipActive}}, nil
	}
	body := map[string]interface{}{"custom_permissions": []string{string(rbac.PermFirmManageRoles)}}

	rr := env.do(t, "PATCH", "/api/v1/members/office-manager", "office-manager", body)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "only the firm admin")

	rr = env.do(t, "PATCH", "/api/v1/members/office-manager", adminID, body)
	assert.Equal(t, http.StatusOK, rr.Code)

	require.Len(t, got, 2)
	assert.False(t, got[0].ByFirmAdmin)
	assert.True(t, got[1].ByFirmAdmin)

	events := env.audit.recorded()
	require.Len(t, events, 2)
	assert.Equal(t, audit.EventMemberUpdate, events[0].Type)
	assert.Equal(t, audit.StatusDenied, events[0].Status)
	assert.Equal(t, "office-manager", events[0].ActorID)
	assert.Equal(t, "office-manager", events[0].ResourceID)
	assert.Equal(t, audit.StatusSuccess, events[1].Status)
	assert.Equal(t, adminID, events[1].ActorID)
}

func TestMembershipChangesAreAudited(t *testing.T) {
	env := newTestEnv(t)
	env.addMember("office-manager", &rbac.Role{
		ID:          "r-office",
		Name:        "Office manager",
		Permissions: []rbac.PermissionKey{rbac.PermFirmManageSettings},
	})
	env.firms.addMemberFunc = func(_ context.Context, fid, uid string, _ *string) (*firms.Member, error) {
		return &firms.Member{Membership: rbac.Membership{FirmID: fid, UserID: uid, Status: rbac.MembershipActive}}, nil
	}
	env.firms.cancelMembershipFunc = func(context.Context, string, string) error { return nil }

	require.Equal(t, http.StatusCreated, env.do(t, "POST", "/api/v1/members", adminID, map[string]string{"user_id": "u9"}).Code)
	require.Equal(t, http.StatusNoContent, env.do(t, "DELETE", "/api/v1/members/u9", adminID, nil).Code)

	events := env.audit.recorded()
	require.Len(t, events, 2)
	assert.Equal(t, audit.EventMemberAdd, events[0].Type)
	assert.Equal(t, audit.EventMemberRemove, events[1].Type)
	for _, e := range events {
		assert.Equal(t, firmID, e.FirmID)
		assert.Equal(t, adminID, e.ActorID)
		assert.Equal(t, "u9", e.ResourceID)
		assert.NotEmpty(t, e.RequestID)
	}

	rr := env.do(t, "GET", "/api/v1/audit/events", "office-manager", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	page := decode[map[string]interface{}](t, rr)
	assert.Equal(t, float64(2), page["total"])

	env.addMember("associate", &rbac.Role{ID: "r-assoc", Name: "Associate"})
	rr = env.do(t, "GET", "/api/v1/audit/events", "associate", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestUpdateMember_ClientCannotSetAdminFlag(t *testing.T) {
	env := newTestEnv(t)
	env.addMember("office-manager", &rbac.Role{
		ID:          "r-office",
		Name:        "Office manager",
		Permissions: []rbac.PermissionKey{rbac.PermFirmManageUsers},
	})

	var got firms.UpdateMemberRequest
	env.firms.updateMemberFunc = func(_ context.Context, _, _ string, req firms.UpdateMemberRequest) (*firms.Member, error) {
		got = req
		return nil, firms.ErrPrivilegedGrant
	}

	rr := env.do(t, "PATCH", "/api/v1/members/office-manager", "office-manager",
		`{"role_id": "r-admin", "ByFirmAdmin": true}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.False(t, got.ByFirmAdmin)
}

func TestGetMember_SelfOrManageUsers(t *testing.T) {
	env := newTestEnv(t)
	env.addMember("associate", &rbac.Role{ID: "r-assoc", Name: "Associate"})
	env.firms.getMemberFunc = func(_ context.Context, fid, uid string) (*firms.Member, error) {
		return &firms.Member{Membership: rbac.Membership{FirmID: fid, UserID: uid, Status: rbac.MembershipActive}}, nil
	}

	rr := env.do(t, "GET", "/api/v1/members/associate", "associate", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, "GET", "/api/v1/members/"+adminID, "associate", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.do(t, "GET", "/api/v1/members/associate", adminID, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCancelMembership_AdminCannotBeRemoved(t *testing.T) {
	env := newTestEnv(t)
	env.firms.cancelMembershipFunc = func(_ context.Context, _, uid string) error {
		if uid == adminID {
			return firms.ErrCannotModifyAdmin
		}
		return nil
	}

	rr := env.do(t, "DELETE", "/api/v1/members/"+adminID, adminID, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	env.addMember("leaver", &rbac.Role{ID: "r-assoc", Name: "Associate"})
	rr = env.do(t, "DELETE", "/api/v1/members/leaver", "leaver", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestInvitations(t *testing.T) {
	env := newTestEnv(t)

	t.Run("create returns the token", func(t *testing.T) {
		env.firms.createInvitationFunc = func(_ context.Context, inv *firms.Invitation) error {
			assert.Equal(t, firmID, inv.FirmID)
			assert.Equal(t, adminID, inv.InvitedBy)
			inv.ID = "inv1"
			inv.Token = "tok-abc"
			return nil
		}
		rr := env.do(t, "POST", "/api/v1/invitations", adminID, map[string]string{"email": "new@firm.test"})
		require.Equal(t, http.StatusCreated, rr.Code)
		assert.Equal(t, "tok-abc", decode[firms.Invitation](t, rr).Token)
	})

	t.Run("revoke unknown", func(t *testing.T) {
		rr := env.do(t, "DELETE", "/api/v1/invitations/nope", adminID, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	env.firms.setFirm("invitee", "")

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"accepted", nil, http.StatusOK},
		{"expired", firms.ErrInvitationExpired, http.StatusGone},
		{"already used", firms.ErrInvitationUsed, http.StatusConflict},
		{"other email", firms.ErrInvitationMismatch, http.StatusForbidden},
		{"firm read-only", &firms.WriteDeniedError{Reason: "subscription is read_only"}, http.StatusPaymentRequired},
	}
	for _, tt := range tests {
		t.Run("accept "+tt.name, func(t *testing.T) {
			env.firms.acceptInvitationFunc = func(_ context.Context, token, uid string) (*firms.Member, error) {
				assert.Equal(t, "tok-abc", token)
				assert.Equal(t, "invitee", uid)
				if tt.err != nil {
					return nil, tt.err
				}
				return &firms.Member{Membership: rbac.Membership{FirmID: firmID, UserID: uid}}, nil
			}
			rr := env.do(t, "POST", "/api/v1/invitations/tok-abc/accept", "invitee", nil)
			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
		})
	}
}

func TestJoinRequests(t *testing.T) {
	env := newTestEnv(t)
	env.firms.setFirm("applicant", "")

	rr := env.do(t, "POST", "/api/v1/firms/"+firmID+"/join-requests", "applicant", map[string]string{"message": "hello"})
	require.Equal(t, http.StatusCreated, rr.Code)
	jr := decode[firms.JoinRequest](t, rr)
	assert.Equal(t, "applicant", jr.UserID)
	assert.Equal(t, "hello", jr.Message)

	t.Run("listing needs manage_requests", func(t *testing.T) {
		env.addMember("associate", &rbac.Role{ID: "r-assoc", Name: "Associate"})
		rr := env.do(t, "GET", "/api/v1/join-requests", "associate", nil)
		assert.Equal(t, http.StatusForbidden, rr.Code)

		rr = env.do(t, "GET", "/api/v1/join-requests?status=bogus", adminID, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)

		rr = env.do(t, "GET", "/api/v1/join-requests", adminID, nil)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `[]`, rr.Body.String())
	})

	t.Run("approve over the seat limit", func(t *testing.T) {
		env.firms.approveJoinFunc = func(_ context.Context, fid, _ string, _ *string, decidedBy string) (*firms.Member, error) {
			assert.Equal(t, adminID, decidedBy)
			return nil, &firms.LimitExceededError{FirmID: fid, Resource: firms.ResourceSeats, Current: 3, Limit: 3}
		}
		rr := env.do(t, "POST", "/api/v1/join-requests/jr1/approve", adminID, nil)
		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.Equal(t, firms.ResourceSeats, env.inbox.awaitLimit(t).resource)
	})

	t.Run("reject decided", func(t *testing.T) {
		rr := env.do(t, "POST", "/api/v1/join-requests/jr1/reject", adminID, nil)
		assert.Equal(t, http.StatusConflict, rr.Code)
	})
}
