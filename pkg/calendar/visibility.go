package calendar

import (
	"github.com/platinummonkey/caseload/pkg/rbac"
)

// Access is what a viewer may do with one entry
type Access int

const (
	// AccessNone hides the entry entirely; lookups report it as missing
	AccessNone Access = iota
	// AccessView allows reading only
	AccessView
	// AccessStatus allows reading and a status-only patch
	AccessStatus
	// AccessFull allows reading, patching any field and deleting
	AccessFull
)

func (a Access) String() string {
	switch a {
	case AccessView:
		return "view"
	case AccessStatus:
		return "status"
	case AccessFull:
		return "full"
	default:
		return "none"
	}
}

// Viewer is the caller as seen by the privacy rule
type Viewer struct {
	UserID  string
	IsAdmin bool
	Perms   rbac.PermissionSet
}

type kindKeys struct {
	own        rbac.PermissionKey
	viewFirm   rbac.PermissionKey
	manageFirm rbac.PermissionKey
}

func keysFor(kind Kind) kindKeys {
	if kind == KindReminder {
		return kindKeys{
			own:        rbac.PermRemindersManageOwn,
			viewFirm:   rbac.PermRemindersViewFirm,
			manageFirm: rbac.PermRemindersManageFirm,
		}
	}
	return kindKeys{
		own:        rbac.PermCalendarViewPersonal,
		viewFirm:   rbac.PermCalendarViewFirm,
		manageFirm: rbac.PermCalendarManageFirm,
	}
}

// Evaluate applies the privacy rule to one entry.
//
// Personal entries belong to their creator alone and additionally require
// the creator to hold the own-management key for the kind. The admin flag
// does not open them. A creator who loses that key loses access to their
// own personal entries.
//
// Firm entries are fully manageable by admins and manage-key holders.
// Assignees may read and change status. View-key holders may read.
func Evaluate(v Viewer, e *Entry) Access {
	keys := keysFor(e.Kind)

	if e.Scope == ScopePersonal {
		if e.CreatedBy == v.UserID && v.Perms.Has(keys.own) {
			return AccessFull
		}
		return AccessNone
	}

	switch {
	case v.IsAdmin || v.Perms.Has(keys.manageFirm):
		return AccessFull
	case e.AssignedTo.Contains(v.UserID):
		return AccessStatus
	case v.Perms.Has(keys.viewFirm):
		return AccessView
	default:
		return AccessNone
	}
}

// CanView reports whether the viewer may see the entry
func CanView(v Viewer, e *Entry) bool {
	return Evaluate(v, e) > AccessNone
}

// CanCreate reports whether the viewer may create an entry of this kind
// and scope. Personal entries need the own key; firm entries need the
// manage key or the admin flag.
func CanCreate(v Viewer, kind Kind, scope Scope) bool {
	keys := keysFor(kind)
	if scope == ScopePersonal {
		return v.Perms.Has(keys.own)
	}
	return v.IsAdmin || v.Perms.Has(keys.manageFirm)
}

// CheckPatch decides whether a patch with the given top-level fields may
// be applied. It returns ErrNotFound for hidden entries, ErrStatusOnly when
// an assignee touches anything besides status, and ErrForbidden for
// read-only viewers.
func CheckPatch(access Access, fields []string) error {
	switch access {
	case AccessFull:
		return nil
	case AccessStatus:
		if len(fields) == 1 && fields[0] == "status" {
			return nil
		}
		return ErrStatusOnly
	case AccessView:
		return ErrForbidden
	default:
		return ErrNotFound
	}
}
