package telemetry

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/WailSalutem-Health-Care/board-publisher"

// Publish outcomes
const (
	OutcomeAcked    = "acked"
	OutcomeRejected = "rejected"
	OutcomeCanceled = "canceled"
)

// Metrics holds all custom metrics for the service.
// A nil *Metrics records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal metric.Int64Counter
	HTTPDurationMs    metric.Float64Histogram

	// Broker metrics
	MessagesPublishedTotal metric.Int64Counter
	PublishDurationMs      metric.Float64Histogram
	ReconnectsTotal        metric.Int64Counter
	TeardownsTotal         metric.Int64Counter
}

// InitMetrics initializes all custom metrics on the global meter provider
func InitMetrics() (*Metrics, error) {
	m, err := NewMetrics(otel.Meter(meterName))
	if err != nil {
		return nil, err
	}
	log.Println("✓ Custom metrics initialized")
	return m, nil
}

// NewMetrics creates the instruments on the given meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	httpRequestsTotal, err := meter.Int64Counter(
		"http_server_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	httpDurationMs, err := meter.Float64Histogram(
		"http_server_duration_milliseconds",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	messagesPublishedTotal, err := meter.Int64Counter(
		"rabbitmq_messages_published_total",
		metric.WithDescription("Total number of publish attempts by outcome"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}

	publishDurationMs, err := meter.Float64Histogram(
		"rabbitmq_publish_duration_milliseconds",
		metric.WithDescription("Time from send to broker confirm in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	reconnectsTotal, err := meter.Int64Counter(
		"rabbitmq_reconnects_total",
		metric.WithDescription("Total number of automatic reconnects after a connection loss"),
		metric.WithUnit("{reconnect}"),
	)
	if err != nil {
		return nil, err
	}

	teardownsTotal, err := meter.Int64Counter(
		"rabbitmq_teardowns_total",
		metric.WithDescription("Total number of sessions torn down after a failed publish"),
		metric.WithUnit("{teardown}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		HTTPRequestsTotal:      httpRequestsTotal,
		HTTPDurationMs:         httpDurationMs,
		MessagesPublishedTotal: messagesPublishedTotal,
		PublishDurationMs:      publishDurationMs,
		ReconnectsTotal:        reconnectsTotal,
		TeardownsTotal:         teardownsTotal,
	}, nil
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, durationMs float64) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("http_method", method),
		attribute.String("http_route", route),
		attribute.Int("http_status_code", statusCode),
	}

	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.HTTPDurationMs.Record(ctx, durationMs, metric.WithAttributes(attrs...))
}

// RecordPublish records one publish attempt
func (m *Metrics) RecordPublish(ctx context.Context, queue, outcome string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("queue", queue),
		attribute.String("outcome", outcome),
	)
	m.MessagesPublishedTotal.Add(ctx, 1, attrs)
	m.PublishDurationMs.Record(ctx, durationMs, attrs)
}

func (m *Metrics) RecordReconnect(ctx context.Context, queue string) {
	if m == nil {
		return
	}
	m.ReconnectsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("queue", queue),
	))
}

func (m *Metrics) RecordTeardown(ctx context.Context, scope string) {
	if m == nil {
		return
	}
	m.TeardownsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
	))
}
