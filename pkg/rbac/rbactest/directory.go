// Package rbactest provides an in-memory rbac.Directory for tests in
// packages that sit above the evaluator.
package rbactest

import (
	"context"
	"sync"

	"github.com/platinummonkey/caseload/pkg/rbac"
)

// Directory is a concurrency-safe in-memory rbac.Directory
type Directory struct {
	mu          sync.RWMutex
	admins      map[string]string
	memberships map[string]*rbac.Membership
	roles       map[string]*rbac.Role
}

var _ rbac.Directory = (*Directory)(nil)

// NewDirectory creates an empty directory
func NewDirectory() *Directory {
	return &Directory{
		admins:      make(map[string]string),
		memberships: make(map[string]*rbac.Membership),
		roles:       make(map[string]*rbac.Role),
	}
}

// Checker returns an evaluator backed by the directory
func (d *Directory) Checker() *rbac.Evaluator {
	return rbac.NewEvaluator(d)
}

// SetAdmin registers firmID with adminID as its designated admin
func (d *Directory) SetAdmin(firmID, adminID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.admins[firmID] = adminID
}

// AddMember adds an active membership. role may be nil.
func (d *Directory) AddMember(firmID, userID string, role *rbac.Role, custom ...rbac.PermissionKey) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m := &rbac.Membership{FirmID: firmID, UserID: userID, Status: rbac.MembershipActive, CustomPermissions: custom}
	if role != nil {
		if role.FirmID == "" {
			role.FirmID = firmID
		}
		d.roles[role.ID] = role
		id := role.ID
		m.RoleID = &id
	}
	d.memberships[firmID+"/"+userID] = m
}

// RemoveMember flips the membership to deleted
func (d *Directory) RemoveMember(firmID, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m, ok := d.memberships[firmID+"/"+userID]; ok {
		m.Status = rbac.MembershipDeleted
	}
}

// GetFirmAdminID implements rbac.Directory
func (d *Directory) GetFirmAdminID(_ context.Context, firmID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	adminID, ok := d.admins[firmID]
	if !ok {
		return "", rbac.ErrFirmNotFound
	}
	return adminID, nil
}

// GetActiveMembership implements rbac.Directory
func (d *Directory) GetActiveMembership(_ context.Context, firmID, userID string) (*rbac.Membership, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.memberships[firmID+"/"+userID]
	if !ok || m.Status != rbac.MembershipActive {
		return nil, rbac.ErrMembershipNotFound
	}
	return m, nil
}

// GetRole implements rbac.Directory
func (d *Directory) GetRole(_ context.Context, firmID, roleID string) (*rbac.Role, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	role, ok := d.roles[roleID]
	if !ok || role.FirmID != firmID {
		return nil, rbac.ErrRoleNotFound
	}
	return role, nil
}
