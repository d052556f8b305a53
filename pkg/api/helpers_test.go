package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/caseload/pkg/audit"
	"github.com/platinummonkey/caseload/pkg/auth"
	"github.com/platinummonkey/caseload/pkg/calendar"
	"github.com/platinummonkey/caseload/pkg/firms"
	"github.com/platinummonkey/caseload/pkg/httputil"
	"github.com/platinummonkey/caseload/pkg/notify"
	"github.com/platinummonkey/caseload/pkg/practice"
	"github.com/platinummonkey/caseload/pkg/rbac"
	"github.com/platinummonkey/caseload/pkg/rbac/rbactest"
)

const (
	testSecret = "api-test-secret-0123456789abcdefghij"
	firmID     = "F"
	adminID    = "admin"
)

// fakeFirms implements FirmService. Unset function fields fail loudly.
type fakeFirms struct {
	mu        sync.Mutex
	userFirms map[string]string

	createFirmFunc       func(ctx context.Context, req firms.CreateFirmRequest, creatorID string) (*firms.Firm, error)
	getMemberFunc        func(ctx context.Context, firmID, userID string) (*firms.Member, error)
	addMemberFunc        func(ctx context.Context, firmID, userID string, roleID *string) (*firms.Member, error)
	updateMemberFunc     func(ctx context.Context, firmID, userID string, req firms.UpdateMemberRequest) (*firms.Member, error)
	cancelMembershipFunc func(ctx context.Context, firmID, userID string) error
	acceptInvitationFunc func(ctx context.Context, token, userID string) (*firms.Member, error)
	createInvitationFunc func(ctx context.Context, inv *firms.Invitation) error
	approveJoinFunc      func(ctx context.Context, firmID, requestID string, roleID *string, decidedBy string) (*firms.Member, error)
	deleteFirmFunc       func(ctx context.Context, firmID string) error
}

var errUnexpectedCall = errors.New("unexpected call")

func newFakeFirms() *fakeFirms {
	return &fakeFirms{userFirms: map[string]string{}}
}

func (f *fakeFirms) setFirm(userID, firmID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userFirms[userID] = firmID
}

func (f *fakeFirms) GetUserFirmID(_ context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.userFirms[userID]
	if !ok {
		return "", firms.ErrUserNotFound
	}
	return id, nil
}

func (f *fakeFirms) GetUser(_ context.Context, userID string) (*firms.User, error) {
	firmID, err := f.GetUserFirmID(context.Background(), userID)
	if err != nil {
		return nil, err
	}
	user := &firms.User{ID: userID, Email: userID + "@firm.test", FullName: userID}
	if firmID != "" {
		user.FirmID = &firmID
	}
	return user, nil
}

func (f *fakeFirms) CreateFirm(ctx context.Context, req firms.CreateFirmRequest, creatorID string) (*firms.Firm, error) {
	if f.createFirmFunc == nil {
		return nil, errUnexpectedCall
	}
	return f.createFirmFunc(ctx, req, creatorID)
}

func (f *fakeFirms) GetFirm(_ context.Context, id string) (*firms.Firm, error) {
	return &firms.Firm{ID: id, Name: "Doe & Partners", AdminID: adminID, Status: firms.StatusActive}, nil
}

func (f *fakeFirms) RenameFirm(_ context.Context, id, name string) (*firms.Firm, error) {
	return &firms.Firm{ID: id, Name: name, AdminID: adminID, Status: firms.StatusActive}, nil
}

func (f *fakeFirms) DeleteFirm(ctx context.Context, id string) error {
	if f.deleteFirmFunc == nil {
		return errUnexpectedCall
	}
	return f.deleteFirmFunc(ctx, id)
}

func (f *fakeFirms) ListMembers(context.Context, string) ([]*firms.Member, error) {
	return nil, nil
}

func (f *fakeFirms) GetMember(ctx context.Context, firmID, userID string) (*firms.Member, error) {
	if f.getMemberFunc == nil {
		return nil, errUnexpectedCall
	}
	return f.getMemberFunc(ctx, firmID, userID)
}

func (f *fakeFirms) AddMember(ctx context.Context, firmID, userID string, roleID *string) (*firms.Member, error) {
	if f.addMemberFunc == nil {
		return nil, errUnexpectedCall
	}
	return f.addMemberFunc(ctx, firmID, userID, roleID)
}

func (f *fakeFirms) UpdateMember(ctx context.Context, firmID, userID string, req firms.UpdateMemberRequest) (*firms.Member, error) {
	if f.updateMemberFunc == nil {
		return nil, errUnexpectedCall
	}
	return f.updateMemberFunc(ctx, firmID, userID, req)
}

func (f *fakeFirms) CancelMembership(ctx context.Context, firmID, userID string) error {
	if f.cancelMembershipFunc == nil {
		return errUnexpectedCall
	}
	return f.cancelMembershipFunc(ctx, firmID, userID)
}

func (f *fakeFirms) CreateInvitation(ctx context.Context, inv *firms.Invitation) error {
	if f.createInvitationFunc == nil {
		return errUnexpectedCall
	}
	return f.createInvitationFunc(ctx, inv)
}

func (f *fakeFirms) ListInvitations(context.Context, string) ([]*firms.Invitation, error) {
	return nil, nil
}

func (f *fakeFirms) RevokeInvitation(context.Context, string, string) error {
	return firms.ErrInvitationNotFound
}

func (f *fakeFirms) AcceptInvitation(ctx context.Context, token, userID string) (*firms.Member, error) {
	if f.acceptInvitationFunc == nil {
		return nil, errUnexpectedCall
	}
	return f.acceptInvitationFunc(ctx, token, userID)
}

func (f *fakeFirms) CreateJoinRequest(_ context.Context, firmID, userID, message string) (*firms.JoinRequest, error) {
	return &firms.JoinRequest{ID: "jr1", FirmID: firmID, UserID: userID, Message: message, Status: firms.JoinPending}, nil
}

func (f *fakeFirms) ListJoinRequests(context.Context, string, firms.JoinRequestStatus) ([]*firms.JoinRequest, error) {
	return nil, nil
}

func (f *fakeFirms) ApproveJoinRequest(ctx context.Context, firmID, requestID string, roleID *string, decidedBy string) (*firms.Member, error) {
	if f.approveJoinFunc == nil {
		return nil, errUnexpectedCall
	}
	return f.approveJoinFunc(ctx, firmID, requestID, roleID, decidedBy)
}

func (f *fakeFirms) RejectJoinRequest(context.Context, string, string, string) error {
	return firms.ErrJoinRequestDecided
}

type fakeGate struct {
	decision firms.WriteDecision
}

func (g *fakeGate) CanFirmWrite(context.Context, string) (firms.WriteDecision, error) {
	return g.decision, nil
}

type limitCall struct {
	firmID   string
	resource string
	current  int64
	limit    int64
}

// fakeInbox records limit notifications on a channel
type fakeInbox struct {
	limits chan limitCall
	items  []*notify.Notification
	marked []string
}

func newFakeInbox() *fakeInbox {
	return &fakeInbox{limits: make(chan limitCall, 4)}
}

func (i *fakeInbox) LimitExceeded(_ context.Context, firmID, resource string, current, limit int64) error {
	i.limits <- limitCall{firmID: firmID, resource: resource, current: current, limit: limit}
	return nil
}

func (i *fakeInbox) List(_ context.Context, _, _ string, unreadOnly bool, limit, offset int) ([]*notify.Notification, int, error) {
	var out []*notify.Notification
	for _, n := range i.items {
		if unreadOnly && n.ReadAt != nil {
			continue
		}
		out = append(out, n)
	}
	return paginate(out, pageOf(limit, offset)), len(out), nil
}

func (i *fakeInbox) MarkRead(_ context.Context, _, _, id string) error {
	for _, n := range i.items {
		if n.ID == id {
			i.marked = append(i.marked, id)
			return nil
		}
	}
	return notify.ErrNotFound
}

func (i *fakeInbox) MarkAllRead(context.Context, string, string) (int64, error) {
	return int64(len(i.items)), nil
}

func (i *fakeInbox) awaitLimit(t *testing.T) limitCall {
	t.Helper()
	select {
	case call := <-i.limits:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("limit notification was not delivered")
		return limitCall{}
	}
}

// memCalendar is an in-memory calendar.Store
type memCalendar struct {
	mu      sync.Mutex
	entries map[string]*calendar.Entry
	seq     int
}

func newMemCalendar() *memCalendar {
	return &memCalendar{entries: map[string]*calendar.Entry{}}
}

func (m *memCalendar) Create(_ context.Context, e *calendar.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	if e.ID == "" {
		e.ID = fmt.Sprintf("e%d", m.seq)
	}
	cp := *e
	m.entries[e.ID] = &cp
	return nil
}

func (m *memCalendar) Get(_ context.Context, firmID, id string) (*calendar.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.FirmID != firmID {
		return nil, calendar.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memCalendar) ListCandidates(_ context.Context, firmID, userID string, _ calendar.ListOptions) ([]*calendar.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*calendar.Entry
	for _, e := range m.entries {
		if e.FirmID != firmID {
			continue
		}
		if e.Scope == calendar.ScopeFirm || e.CreatedBy == userID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memCalendar) Update(_ context.Context, e *calendar.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.entries[e.ID] = &cp
	return nil
}

func (m *memCalendar) Delete(_ context.Context, firmID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; !ok || e.FirmID != firmID {
		return calendar.ErrNotFound
	}
	delete(m.entries, id)
	return nil
}

// auditTrail is both the audit sink and the searchable log of the test server
type auditTrail struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (a *auditTrail) Log(_ context.Context, event *audit.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *auditTrail) Search(_ context.Context, filter audit.SearchFilter) ([]*audit.Event, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*audit.Event
	for _, e := range a.events {
		if e.FirmID == filter.FirmID {
			out = append(out, e)
		}
	}
	return out, len(out), nil
}

func (a *auditTrail) recorded() []*audit.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*audit.Event(nil), a.events...)
}

// testEnv is a fully wired server over fakes, an in-memory directory and
// sqlmock-backed practice repositories
type testEnv struct {
	server   *Server
	dir      *rbactest.Directory
	tokens   *auth.TokenManager
	firms    *fakeFirms
	gate     *fakeGate
	inbox    *fakeInbox
	calendar *memCalendar
	docs     *fakeDocuments
	mock     sqlmock.Sqlmock
	logs     *test.Hook
	audit    *auditTrail
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	env := &testEnv{
		dir:      rbactest.NewDirectory(),
		tokens:   auth.NewTokenManager([]byte(testSecret), "caseload-test", time.Hour),
		firms:    newFakeFirms(),
		gate:     &fakeGate{decision: firms.WriteDecision{Allowed: true}},
		inbox:    newFakeInbox(),
		calendar: newMemCalendar(),
		docs:     newFakeDocuments(),
		mock:     mock,
		logs:     hook,
		audit:    &auditTrail{},
	}
	env.dir.SetAdmin(firmID, adminID)
	env.dir.AddMember(firmID, adminID, nil)
	env.firms.setFirm(adminID, firmID)

	checker := env.dir.Checker()
	env.server = NewServer(Config{
		Firms:         env.firms,
		WriteChecker:  env.gate,
		Checker:       checker,
		Roles:         nil,
		Clients:       practice.NewClients(db),
		Cases:         practice.NewCases(db),
		GeneralWork:   practice.NewGeneralWork(db),
		Calendar:      calendar.NewService(env.calendar, checker, logger),
		Documents:     env.docs,
		Notifications: env.inbox,
		Audit:         audit.NewRecorder(env.audit, logger),
		AuditLog:      env.audit,
		Tokens:        env.tokens,
		Logger:        logger,
	})
	return env
}

// addMember joins userID to the test firm with role
func (e *testEnv) addMember(userID string, role *rbac.Role, custom ...rbac.PermissionKey) {
	e.dir.AddMember(firmID, userID, role, custom...)
	e.firms.setFirm(userID, firmID)
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := e.tokens.Issue(userID)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, userID))
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func clientViewerRole() *rbac.Role {
	return &rbac.Role{
		ID:   "r-client-viewer",
		Name: "Client viewer",
		Policy: rbac.Policy{Resources: []rbac.ResourceRule{
			{Type: rbac.ResourceClient, ResourceID: rbac.Wildcard, Actions: []string{rbac.ActionView}},
		}},
	}
}

func pageOf(limit, offset int) httputil.Pagination {
	return httputil.Pagination{Limit: limit, Offset: offset}
}
