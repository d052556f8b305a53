// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health probes and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger("info", "json", os.Stdout)
//	observability.LoggerFromContext(r.Context()).WithError(err).Error("list failed")
//
// LoggerFromContext returns the entry attached by httputil.RequestLogger,
// enriched with user_id and firm_id once the caller is authenticated.
//
// # Metrics
//
// Metrics implements rbac.DecisionRecorder and firms.RejectionRecorder, so
// the evaluator and the limit guard report every decision and rejection:
//
//	metrics := observability.NewMetrics(registry)
//	evaluator := rbac.NewEvaluator(store).WithRecorder(metrics)
//	guard := firms.NewGuard(db, limits).WithRecorder(metrics)
//
// OTelMetrics mirrors the same counters onto the OTLP pipeline; combine
// both with Recorders{metrics, otelMetrics}.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	checker.AddCheck("blobs", true, blobs.Ping)
//	observability.RegisterHealthRoutes(mux, checker)
package observability
