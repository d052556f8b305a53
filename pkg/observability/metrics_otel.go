package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/platinummonkey/caseload"

// OTelMetrics mirrors the authorization and limit counters onto the OTLP
// pipeline
type OTelMetrics struct {
	authzDecisions  metric.Int64Counter
	limitRejections metric.Int64Counter
	httpDuration    metric.Float64Histogram
}

// NewOTelMetrics creates the instruments on provider, or on the global
// provider when provider is nil
func NewOTelMetrics(provider metric.MeterProvider) (*OTelMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	m := &OTelMetrics{}
	var err error

	m.authzDecisions, err = meter.Int64Counter(
		"caseload.authz.decisions",
		metric.WithDescription("Authorization checks by check kind and outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authz decisions counter: %w", err)
	}

	m.limitRejections, err = meter.Int64Counter(
		"caseload.limit.rejections",
		metric.WithDescription("Seat and storage limit rejections"),
		metric.WithUnit("{rejection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create limit rejections counter: %w", err)
	}

	m.httpDuration, err = meter.Float64Histogram(
		"http.server.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	return m, nil
}

// RecordDecision implements rbac.DecisionRecorder
func (m *OTelMetrics) RecordDecision(check string, allowed bool) {
	m.authzDecisions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("authz.check", check),
		attribute.String("authz.outcome", outcome(allowed)),
	))
}

// RecordLimitRejection implements firms.RejectionRecorder
func (m *OTelMetrics) RecordLimitRejection(resource string) {
	m.limitRejections.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("limit.resource", resource),
	))
}

// RecordHTTPRequest records an HTTP request duration
func (m *OTelMetrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration) {
	m.httpDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", statusCode),
	))
}

// Recorders fans authorization and limit events out to several sinks
type Recorders []interface {
	RecordDecision(check string, allowed bool)
	RecordLimitRejection(resource string)
}

// RecordDecision implements rbac.DecisionRecorder
func (rs Recorders) RecordDecision(check string, allowed bool) {
	for _, r := range rs {
		r.RecordDecision(check, allowed)
	}
}

// RecordLimitRejection implements firms.RejectionRecorder
func (rs Recorders) RecordLimitRejection(resource string) {
	for _, r := range rs {
		r.RecordLimitRejection(resource)
	}
}
