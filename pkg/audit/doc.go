// Package audit keeps a per-firm trail of privileged actions: role and
// membership changes, firm lifecycle and billing.
//
// Handlers record events through a Recorder, which fills in the actor, firm
// and request details from the request context:
//
//	rec := audit.NewRecorder(audit.NewMultiLogger(audit.NewDBLogger(db), audit.NewLogrusLogger(logger)), logger)
//	rec.Record(r, &audit.Event{Type: audit.EventRoleUpdate, ResourceType: audit.ResourceRole, ResourceID: role.ID})
//
// Recording is best effort; a failed insert is logged and the request
// proceeds. The trail is read back with GET /audit/events, which is limited
// to the caller's firm.
package audit
