package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/caseload/pkg/httputil"
	"github.com/platinummonkey/caseload/pkg/notify"
)

func seedInbox(env *testEnv) {
	readAt := recordTime.Add(time.Hour)
	env.inbox.items = []*notify.Notification{
		{ID: "n1", FirmID: firmID, UserID: adminID, Kind: notify.KindLimitExceeded, Title: "Seat limit reached", CreatedAt: recordTime},
		{ID: "n2", FirmID: firmID, UserID: adminID, Kind: notify.KindLimitExceeded, Title: "Storage limit reached", CreatedAt: recordTime, ReadAt: &readAt},
	}
}

func TestNotifications_List(t *testing.T) {
	env := newTestEnv(t)
	seedInbox(env)

	rr := env.do(t, "GET", "/api/v1/notifications", adminID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 2, decode[httputil.Page[notify.Notification]](t, rr).Total)

	rr = env.do(t, "GET", "/api/v1/notifications?unread=true", adminID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	page := decode[httputil.Page[notify.Notification]](t, rr)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "n1", page.Items[0].ID)

	rr = env.do(t, "GET", "/api/v1/notifications?unread=maybe", adminID, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestNotifications_MarkRead(t *testing.T) {
	env := newTestEnv(t)
	seedInbox(env)

	rr := env.do(t, "POST", "/api/v1/notifications/n1/read", adminID, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, []string{"n1"}, env.inbox.marked)

	rr = env.do(t, "POST", "/api/v1/notifications/missing/read", adminID, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, "POST", "/api/v1/notifications/read-all", adminID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"marked": 2}`, rr.Body.String())
}
