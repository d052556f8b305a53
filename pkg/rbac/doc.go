// Package rbac provides role-based access control for caseload firms.
//
// # Overview
//
// Every firm owns its roles. A member's membership row points at one role
// (or none) and may carry custom permission keys on top of it. Two kinds of
// grant exist:
//
//  1. Flat permission keys ("clients.create", "firm.manage_users") gate
//     whole features.
//  2. A role policy scopes actions to individual resources:
//
//	{"resources": [
//	    {"type": "case", "resourceId": "*",  "actions": ["view"]},
//	    {"type": "case", "resourceId": "C1", "actions": ["view", "edit"]}
//	]}
//
// A resourceId of "*" covers every resource of that type. Actions are
// compared case-sensitively and "*" grants every action. There are no deny
// rules: a request is allowed when any rule grants it and denied otherwise.
//
// # Firm admins
//
// IsFirmAdmin is the single admin seam. The firm's designated admin, or an
// active member holding the role named "admin", passes every resource check
// and receives the firm-management baseline keys:
//
//	firm.view_dashboard  firm.manage_settings  firm.view_settings
//	firm.manage_users    firm.manage_roles     firm.manage_requests
//
// # Evaluation
//
//	ev := rbac.NewEvaluator(rbac.NewStore(db))
//
//	// flat key
//	ok, err := ev.RequirePermission(ctx, userID, firmID, rbac.PermClientsCreate)
//
//	// one resource
//	ok, err = ev.RequireResourcePermission(ctx, userID, firmID, rbac.ResourceCase, caseID, rbac.ActionEdit)
//
//	// list scoping
//	scope, err := ev.AccessibleResourceIDs(ctx, userID, firmID, rbac.ResourceCase)
//	if scope.All { /* no filter */ } else if scope.None() { /* empty page */ }
//
// Denials are returned as false (or an empty scope), never as errors.
// Errors only report that the role or membership tables could not be read.
// The evaluator keeps no cache; each call reads the current rows.
//
// List visibility does not imply mutation rights. Handlers that change an
// item found through a list must still call RequireResourcePermission.
//
// # Validation
//
// Policies are typed and validated when a role is saved (unknown resource
// types, empty ids and empty action lists are rejected), so evaluation never
// interprets malformed rules.
package rbac
