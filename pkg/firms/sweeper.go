package firms

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/caseload/pkg/async"
)

// LimitNotifier delivers best-effort limit notifications
type LimitNotifier interface {
	LimitExceeded(ctx context.Context, firmID, resource string, current, limit int64) error
}

// SweepReport summarizes one sweep
type SweepReport struct {
	TrialsExpired       int64 `json:"trials_expired"`
	InvitationsRemoved  int64 `json:"invitations_removed"`
	FirmsReconciled     int   `json:"firms_reconciled"`
	ReconcileFailures   int   `json:"reconcile_failures"`
	OverSeatFirmsNotify int   `json:"over_seat_firms_notified"`
	RecordsPruned       int64 `json:"records_pruned"`
}

// Pruner deletes records that have aged out of their retention window
type Pruner interface {
	Prune(ctx context.Context) (int64, error)
}

// Sweeper runs the periodic firm maintenance jobs
type Sweeper struct {
	svc      *PostgresService
	notifier LimitNotifier
	logger   *logrus.Logger
	workers  int
	pruners  []Pruner
	cron     *cron.Cron
}

// NewSweeper creates a sweeper. notifier may be nil.
func NewSweeper(svc *PostgresService, notifier LimitNotifier, logger *logrus.Logger) *Sweeper {
	return &Sweeper{
		svc:      svc,
		notifier: notifier,
		logger:   logger,
		workers:  4,
	}
}

// WithPruner adds a retention job to every sweep
func (sw *Sweeper) WithPruner(p Pruner) *Sweeper {
	sw.pruners = append(sw.pruners, p)
	return sw
}

// RunOnce expires ended trials, drops expired invitations, recomputes every
// live firm's limits and notifies admins of firms that are over their seat
// count.
func (sw *Sweeper) RunOnce(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := sw.svc.now()

	expired, err := sw.svc.ExpireTrials(ctx, now)
	if err != nil {
		return report, err
	}
	report.TrialsExpired = expired

	removed, err := sw.svc.CleanupExpiredInvitations(ctx, now)
	if err != nil {
		return report, err
	}
	report.InvitationsRemoved = removed

	ids, err := sw.svc.ListLiveFirmIDs(ctx)
	if err != nil {
		return report, err
	}
	errs := async.Batch(ctx, ids, sw.workers, "firm limit reconcile", 30*time.Second,
		func(ctx context.Context, firmID string) error {
			if err := sw.svc.guard.UpdateFirmLimits(ctx, firmID); err != nil {
				return fmt.Errorf("firm %s: %w", firmID, err)
			}
			return nil
		})
	for _, err := range errs {
		sw.logger.WithError(err).Warn("limit reconcile failed")
	}
	report.FirmsReconciled = len(ids) - len(errs)
	report.ReconcileFailures = len(errs)

	over, err := sw.svc.ListOverSeatFirms(ctx)
	if err != nil {
		return report, err
	}
	for _, f := range over {
		if sw.notifier == nil {
			break
		}
		if err := sw.notifier.LimitExceeded(ctx, f.ID, ResourceSeats, int64(f.CurrentUsers), int64(*f.MaxUsers)); err != nil {
			sw.logger.WithError(err).WithField("firm_id", f.ID).Warn("failed to notify over-seat firm")
			continue
		}
		report.OverSeatFirmsNotify++
	}

	for _, p := range sw.pruners {
		n, err := p.Prune(ctx)
		if err != nil {
			sw.logger.WithError(err).Warn("retention prune failed")
			continue
		}
		report.RecordsPruned += n
	}

	sw.logger.WithFields(logrus.Fields{
		"trials_expired":      report.TrialsExpired,
		"invitations_removed": report.InvitationsRemoved,
		"firms_reconciled":    report.FirmsReconciled,
		"reconcile_failures":  report.ReconcileFailures,
		"records_pruned":      report.RecordsPruned,
	}).Info("firm sweep completed")
	return report, nil
}

// Start schedules RunOnce on the cron spec
func (sw *Sweeper) Start(spec string) error {
	sw.cron = cron.New()
	_, err := sw.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := sw.RunOnce(ctx); err != nil {
			sw.logger.WithError(err).Error("firm sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweep %q: %w", spec, err)
	}
	sw.cron.Start()
	sw.logger.WithField("schedule", spec).Info("firm sweeper started")
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish
func (sw *Sweeper) Stop(ctx context.Context) {
	if sw.cron == nil {
		return
	}
	stopped := sw.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
}
