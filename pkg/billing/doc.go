// Package billing holds the plan and storage add-on catalog and the
// operations that move a firm between plans.
//
// Every change that affects a ceiling ends with firms.Guard.UpdateFirmLimits,
// so the stored max_storage_bytes always reflects
//
//	(plan.storage_per_user_gb * seats + sum(active add-on GB)) * 1024^3
//
// # Catalog cache
//
// Catalog keeps plan and add-on rows in a small expiring LRU. Only catalog
// rows are cached; firm limits, usage and permissions are always read fresh.
//
//	catalog := billing.NewCatalog(db, 5*time.Minute)
//	svc := billing.NewService(db, catalog, firmSvc, firmSvc.Guard(), logger)
//	firm, err := svc.ChangePlan(ctx, firmID, "team")
//
// # Status transitions
//
// ChangePlan converts a trial still inside its window to active and clears
// the trial end date; every other status is kept. A firm can move itself to
// read_only or canceled through SetSubscriptionStatus. Statuses that lift a
// write denial (active, trial) and the lifecycle states (past_due, expired)
// are set by an operator with `caseload firm status`. Downgrading to a plan
// with fewer seats than the firm's active members returns
// *firms.LimitExceededError.
//
// The billing routes are mounted outside the write gate so an expired or
// read-only firm can still review and change its plan.
package billing
