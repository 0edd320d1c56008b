package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/WailSalutem-Health-Care/tenant-service"

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds all custom metrics for the service
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal metric.Int64Counter
	HTTPDurationMs    metric.Float64Histogram

	// Lifecycle metrics
	OrganizationOperationsTotal metric.Int64Counter
	CompensationsTotal          metric.Int64Counter
	NamespacesSweptTotal        metric.Int64Counter

	// Auth metrics
	AuthFailuresTotal metric.Int64Counter
	AdminLoginsTotal  metric.Int64Counter
}

// InitMetrics registers the metrics on the global meter provider.
func InitMetrics() (*Metrics, error) {
	return NewMetrics(otel.GetMeterProvider())
}

// NewMetrics registers the metrics on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.HTTPRequestsTotal, "http_server_requests_total", "Total number of HTTP requests", "{request}"},
		{&m.OrganizationOperationsTotal, "organization_operations_total", "Organization lifecycle operations by outcome", "{operation}"},
		{&m.CompensationsTotal, "organization_compensations_total", "Compensating actions run after a failed lifecycle step", "{action}"},
		{&m.NamespacesSweptTotal, "namespaces_swept_total", "Orphaned namespaces dropped by the sweeper", "{namespace}"},
		{&m.AuthFailuresTotal, "auth_failures_total", "Total number of authentication failures", "{failure}"},
		{&m.AdminLoginsTotal, "admin_logins_total", "Admin login attempts by outcome", "{attempt}"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	httpDurationMs, err := meter.Float64Histogram(
		"http_server_duration_milliseconds",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	m.HTTPDurationMs = httpDurationMs

	return m, nil
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String("http_method", method),
		attribute.String("http_route", route),
		attribute.Int("http_status_code", statusCode),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPDurationMs.Record(ctx, durationMs, attrs)
}

// RecordOrganizationOperation records a lifecycle operation and its outcome.
func (m *Metrics) RecordOrganizationOperation(ctx context.Context, operation, outcome string) {
	m.OrganizationOperationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

// RecordCompensation records a compensating action.
func (m *Metrics) RecordCompensation(ctx context.Context, operation, action string, ok bool) {
	m.CompensationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("action", action),
		attribute.Bool("ok", ok),
	))
}

// RecordNamespacesSwept records dropped orphan namespaces.
func (m *Metrics) RecordNamespacesSwept(ctx context.Context, n int) {
	m.NamespacesSweptTotal.Add(ctx, int64(n))
}

// RecordAuthFailure records an authentication failure metric
func (m *Metrics) RecordAuthFailure(ctx context.Context, reason string) {
	m.AuthFailuresTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordAdminLogin records a login attempt.
func (m *Metrics) RecordAdminLogin(ctx context.Context, outcome string) {
	m.AdminLoginsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}
