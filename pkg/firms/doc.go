// Package firms manages tenants: firm lifecycle, users, memberships,
// invitations, join requests and the subscription/limit guard.
//
// # Limit guard
//
// Guard is consulted before every write:
//
//	decision, err := guard.CanFirmWrite(ctx, firmID)
//	if err != nil { ... }                 // infrastructure failure
//	if !decision.Allowed { ... }          // 402 with decision.Reason
//
// Writes are denied while the firm is read_only, expired or canceled, and
// while it is on a trial whose end date has passed.
//
// Seat and storage checks return *LimitExceededError, mapped to 409 by the
// API layer:
//
//	if err := guard.CheckUserSeats(ctx, firmID); firms.IsLimitExceeded(err) { ... }
//	if err := guard.CheckStorage(ctx, firmID, size); firms.IsLimitExceeded(err) { ... }
//
// Both re-read the firm row on every call. The seat check is not wrapped in
// the same transaction as the membership insert, so two concurrent accepts
// can overshoot max_users by one. The Sweeper finds such firms and notifies
// their admin.
//
// # Storage ceiling
//
// UpdateFirmLimits sets
//
//	max_storage_bytes = (storage_per_user_gb * seats + sum(active add-on GB)) * 1024^3
//
// where seats is max_users when set, otherwise the active member count, and
// never below one. Firms without a plan use the trial per-user allowance.
//
// Usage is a running counter maintained by IncrementStorage and
// DecrementStorage. It is not derived from document sizes and can drift when
// an increment fails after a successful upload.
//
// # Lifecycle
//
// CreateFirm and DeleteFirm each run as one transaction. Memberships are
// never physically deleted; cancellation flips their status to deleted and
// detaches the user.
package firms
