// Package api provides the HTTP REST API server for caseload.
//
// # Request Pipeline
//
// Every /api/v1 request passes through, in order:
//
//	RequestID -> RequestLogger -> Recovery -> HTTP metrics
//	  -> AuthMiddleware (401) -> rate limit (429) -> FirmContext
//	  -> RequireFirm (403, firm-scoped routes only)
//	  -> WriteGate (402, unsafe methods outside /billing)
//	  -> handler: Evaluator check (403) -> limit guard (409) -> store
//
// Account routes (/me, POST /firms, join requests, invitation accept) run
// without RequireFirm so that users who have not joined a firm can reach
// them. Billing routes skip the write gate so a read-only or expired firm
// can still pay.
//
// # Error Mapping
//
//	firms.LimitExceededError    409, admin notified in the background
//	firms.WriteDeniedError      402
//	rbac.ValidationError        400
//	denied policy check         403
//	tenant-filtered miss        404
//	list with no visibility     200 {"items": [], "total": 0}
//
// # Practice Records
//
// Clients, cases and general work share RecordHandlers. Lists are narrowed
// with rbac.Checker.AccessibleResourceIDs; get, update and delete call
// RequireResourcePermission with the record id; create needs the flat
// create key or a policy granting create on the collection wildcard.
//
//	server := api.NewServer(api.Config{Firms: firmSvc, Checker: evaluator, ...})
//	http.ListenAndServe(":8080", server)
package api
