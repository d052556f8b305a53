// Package practice stores the firm's clients, cases and general work.
//
// All three share one generic, firm-scoped Repository. List takes the
// rbac.ResourceScope computed for the caller and narrows the query with
// id = ANY($n) unless the scope is All:
//
//	scope, _ := checker.AccessibleResourceIDs(ctx, userID, firmID, rbac.ResourceClient)
//	clients, total, err := practice.NewClients(db).List(ctx, firmID, scope, opts)
//
// Seeing a record in a list never implies the right to change it; mutating
// routes check rbac.Checker.RequireResourcePermission per record.
package practice
