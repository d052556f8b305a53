package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/caseload/pkg/api"
	"github.com/platinummonkey/caseload/pkg/auth"
	"github.com/platinummonkey/caseload/pkg/config"
	"github.com/platinummonkey/caseload/pkg/middleware"
	"github.com/platinummonkey/caseload/pkg/observability"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var skipMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts.cfg, opts.logger, !skipMigrate)
		},
	}
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "Do not apply pending migrations on startup")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *logrus.Logger, migrate bool) error {
	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	providers, err := observability.InitOTel(ctx, cfg.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	if providers != nil {
		shutdown.RegisterShutdownFunc("otel", providers.Shutdown)
	}

	db, err := openDatabase(ctx, cfg, logger, migrate)
	if err != nil {
		return err
	}
	shutdown.RegisterShutdownFunc("database", func(context.Context) error {
		return db.Close()
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var (
		metrics   *observability.Metrics
		recorders observability.Recorders
	)
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
		recorders = append(recorders, metrics)
	}
	if providers != nil {
		otelMetrics, err := observability.NewOTelMetrics(providers.MeterProvider)
		if err != nil {
			return fmt.Errorf("failed to create OpenTelemetry instruments: %w", err)
		}
		recorders = append(recorders, otelMetrics)
	}

	svc, err := newServices(ctx, cfg, db, logger, recorders)
	if err != nil {
		return err
	}

	redisClient, rateLimit, err := newRateLimit(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error {
			return redisClient.Close()
		})
	}

	server := api.NewServer(api.Config{
		Firms:          svc.firms,
		WriteChecker:   svc.guard,
		Checker:        svc.evaluator,
		Roles:          svc.roles,
		Billing:        svc.billing,
		Clients:        svc.clients,
		Cases:          svc.cases,
		GeneralWork:    svc.generalWork,
		Calendar:       svc.calendar,
		Documents:      svc.documents,
		Notifications:  svc.notifier,
		Audit:          svc.recorder,
		AuditLog:       svc.auditLog,
		Tokens:         auth.NewTokenManager([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, cfg.Auth.TokenTTL),
		RateLimit:      rateLimit,
		Metrics:        metrics,
		CORSOrigins:    cfg.Server.CORSOrigins,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Logger:         logger,
	})

	var handler http.Handler = server
	if providers != nil {
		handler = observability.InstrumentHandler(handler, "caseload-api")
	}
	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	health := observability.NewHealthChecker(db, redisClient, Version).
		AddCheck("blob_storage", false, svc.blobs.Ping)
	opsMux := http.NewServeMux()
	observability.RegisterHealthRoutes(opsMux, health)
	if metrics != nil {
		observability.RegisterMetricsEndpoint(opsMux, registry)
	}
	opsServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.MetricsPort),
		Handler: opsMux,
	}

	shutdown.RegisterServer(apiServer)
	shutdown.RegisterServer(opsServer)

	if cfg.Scheduler.Enabled {
		if err := svc.sweeper.Start(cfg.Scheduler.SweepSpec); err != nil {
			return err
		}
		shutdown.RegisterShutdownFunc("sweeper", func(ctx context.Context) error {
			svc.sweeper.Stop(ctx)
			return nil
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listen(apiServer, logger, "api") })
	g.Go(func() error { return listen(opsServer, logger, "ops") })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return shutdown.Shutdown(context.Background())
	})
	return g.Wait()
}

func listen(server *http.Server, logger *logrus.Logger, name string) error {
	logger.WithFields(logrus.Fields{"server": name, "addr": server.Addr}).Info("listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

// newRateLimit keeps counters in Redis when a URL is configured and in
// per-process token buckets otherwise
func newRateLimit(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*redis.Client, *middleware.RateLimitMiddleware, error) {
	if cfg.Redis.URL == "" {
		users := middleware.NewRateLimiter(cfg.UserRateLimit())
		anonymous := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
		users.StartCleanup(ctx)
		anonymous.StartCleanup(ctx)
		return nil, middleware.NewRateLimitMiddleware(users, anonymous, logger), nil
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(redisOpts)
	return client, middleware.NewDistributedRateLimitMiddleware(client, cfg.UserRateLimit(), logger), nil
}
