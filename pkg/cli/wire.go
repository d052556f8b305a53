package cli

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/caseload/pkg/audit"
	"github.com/platinummonkey/caseload/pkg/billing"
	"github.com/platinummonkey/caseload/pkg/calendar"
	"github.com/platinummonkey/caseload/pkg/config"
	"github.com/platinummonkey/caseload/pkg/database"
	"github.com/platinummonkey/caseload/pkg/documents"
	"github.com/platinummonkey/caseload/pkg/firms"
	"github.com/platinummonkey/caseload/pkg/notify"
	"github.com/platinummonkey/caseload/pkg/observability"
	"github.com/platinummonkey/caseload/pkg/practice"
	"github.com/platinummonkey/caseload/pkg/rbac"
)

// schema lists every migration set. Later sets reference tables created
// by earlier ones.
func schema() []database.MigrationSet {
	return []database.MigrationSet{
		firms.Migrations(),
		rbac.Migrations(),
		billing.Migrations(),
		practice.Migrations(),
		calendar.Migrations(),
		documents.Migrations(),
		notify.Migrations(),
		audit.Migrations(),
	}
}

// services is the application graph shared by serve and the one-shot
// commands
type services struct {
	roles     *rbac.Store
	evaluator *rbac.Evaluator
	guard     *firms.Guard
	firms     *firms.PostgresService
	catalog   *billing.Catalog
	billing   *billing.Service
	calendar  *calendar.Service
	blobs     documents.BlobStore
	documents *documents.Service
	notifier  *notify.Notifier
	sweeper   *firms.Sweeper
	auditLog  *audit.DBLogger
	recorder  *audit.Recorder

	clients     *practice.Repository[practice.Client, *practice.Client]
	cases       *practice.Repository[practice.Case, *practice.Case]
	generalWork *practice.Repository[practice.GeneralWork, *practice.GeneralWork]
}

func newServices(ctx context.Context, cfg *config.Config, db *sql.DB, logger *logrus.Logger, recorders observability.Recorders) (*services, error) {
	blobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s := &services{blobs: blobs}
	s.roles = rbac.NewStore(db)
	s.evaluator = rbac.NewEvaluator(s.roles).WithRecorder(recorders)
	s.guard = firms.NewGuard(db, cfg.FirmLimits()).WithRecorder(recorders)
	s.firms = firms.NewPostgresService(db, s.guard, cfg.FirmLimits(), logger)
	s.catalog = billing.NewCatalog(db, cfg.Limits.CatalogTTL)
	s.billing = billing.NewService(db, s.catalog, s.firms, s.guard, logger)
	s.calendar = calendar.NewService(calendar.NewPostgresStore(db), s.evaluator, logger)
	s.documents = documents.NewService(documents.NewStore(db), blobs, s.guard, logger)
	s.notifier = notify.NewNotifier(db, logger)
	s.auditLog = audit.NewDBLogger(db)
	s.recorder = audit.NewRecorder(audit.NewMultiLogger(s.auditLog, audit.NewLogrusLogger(logger)), logger)
	s.sweeper = firms.NewSweeper(s.firms, s.notifier, logger)
	if cfg.Scheduler.AuditRetention > 0 {
		s.sweeper.WithPruner(audit.NewRetentionPruner(s.auditLog, cfg.Scheduler.AuditRetention))
	}

	s.clients = practice.NewClients(db)
	s.cases = practice.NewCases(db)
	s.generalWork = practice.NewGeneralWork(db)
	return s, nil
}

func openBlobStore(ctx context.Context, cfg *config.Config) (documents.BlobStore, error) {
	switch cfg.Blob.Type {
	case config.BlobS3:
		store, err := documents.NewS3BlobStore(ctx, cfg.S3())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 blob store: %w", err)
		}
		return store, nil
	default:
		store, err := documents.NewFileSystemBlobStore(cfg.Blob.Root)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize blob store: %w", err)
		}
		return store, nil
	}
}

// openDatabase connects and, when migrate is set, brings the schema up to date
func openDatabase(ctx context.Context, cfg *config.Config, logger *logrus.Logger, migrate bool) (*sql.DB, error) {
	db, err := database.Open(ctx, cfg.DatabasePool())
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := database.Migrate(ctx, db, logger, schema()...); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}
