package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/nextbridge/nextcloud-mcp/pkg/logger"
)

const meterName = "github.com/nextbridge/nextcloud-mcp"

// Instruments holds the bridge's domain meters. All record methods are safe
// to call on a no-op meter provider.
type Instruments struct {
	toolCalls        metric.Int64Counter
	toolDuration     metric.Float64Histogram
	upstreamCalls    metric.Int64Counter
	upstreamDuration metric.Float64Histogram
	verifications    metric.Int64Counter
	dbDuration       metric.Float64Histogram
	readinessProbes  metric.Float64Histogram
	documentsIndexed metric.Int64Counter
}

// NewInstruments creates the domain instruments on the given provider.
func NewInstruments(mp metric.MeterProvider) *Instruments {
	meter := mp.Meter(meterName)
	ins := &Instruments{}

	var err error
	if ins.toolCalls, err = meter.Int64Counter("mcp_tool_calls_total",
		metric.WithDescription("Tool calls by name and outcome")); err != nil {
		logger.Warnw("failed to create instrument", "name", "mcp_tool_calls_total", "error", err)
	}
	if ins.toolDuration, err = meter.Float64Histogram("mcp_tool_call_duration_seconds",
		metric.WithDescription("Tool call latency"), metric.WithUnit("s")); err != nil {
		logger.Warnw("failed to create instrument", "name", "mcp_tool_call_duration_seconds", "error", err)
	}
	if ins.upstreamCalls, err = meter.Int64Counter("upstream_requests_total",
		metric.WithDescription("Upstream calls by app, method and status")); err != nil {
		logger.Warnw("failed to create instrument", "name", "upstream_requests_total", "error", err)
	}
	if ins.upstreamDuration, err = meter.Float64Histogram("upstream_request_duration_seconds",
		metric.WithDescription("Upstream call latency"), metric.WithUnit("s")); err != nil {
		logger.Warnw("failed to create instrument", "name", "upstream_request_duration_seconds", "error", err)
	}
	if ins.verifications, err = meter.Int64Counter("token_verifications_total",
		metric.WithDescription("Token verifications by method and outcome")); err != nil {
		logger.Warnw("failed to create instrument", "name", "token_verifications_total", "error", err)
	}
	if ins.dbDuration, err = meter.Float64Histogram("db_operation_duration_seconds",
		metric.WithDescription("Storage operation latency by op and outcome"), metric.WithUnit("s")); err != nil {
		logger.Warnw("failed to create instrument", "name", "db_operation_duration_seconds", "error", err)
	}
	if ins.readinessProbes, err = meter.Float64Histogram("readiness_probe_duration_seconds",
		metric.WithDescription("Readiness probe latency by dependency and state"), metric.WithUnit("s")); err != nil {
		logger.Warnw("failed to create instrument", "name", "readiness_probe_duration_seconds", "error", err)
	}
	if ins.documentsIndexed, err = meter.Int64Counter("vector_sync_documents_total",
		metric.WithDescription("Documents processed by the indexing pipeline, by outcome")); err != nil {
		logger.Warnw("failed to create instrument", "name", "vector_sync_documents_total", "error", err)
	}
	return ins
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordToolCall records one tool invocation.
func (i *Instruments) RecordToolCall(ctx context.Context, tool string, d time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("outcome", outcome(err)),
	)
	i.toolCalls.Add(ctx, 1, attrs)
	i.toolDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordUpstreamCall records one upstream HTTP call.
func (i *Instruments) RecordUpstreamCall(ctx context.Context, app, method string, status int, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("app", app),
		attribute.String("method", method),
		attribute.Int("status", status),
	)
	i.upstreamCalls.Add(ctx, 1, attrs)
	i.upstreamDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordVerification records one token verification attempt.
func (i *Instruments) RecordVerification(ctx context.Context, method string, err error) {
	i.verifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome(err)),
	))
}

// RecordDBOp records one storage operation.
func (i *Instruments) RecordDBOp(ctx context.Context, op string, d time.Duration, err error) {
	i.dbDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome(err)),
	))
}

// RecordReadinessProbe records one dependency probe.
func (i *Instruments) RecordReadinessProbe(ctx context.Context, dependency string, d time.Duration, up bool) {
	state := "down"
	if up {
		state = "up"
	}
	i.readinessProbes.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("dependency", dependency),
		attribute.String("state", state),
	))
}

// RecordDocumentIndexed records one pipeline document outcome.
func (i *Instruments) RecordDocumentIndexed(ctx context.Context, err error) {
	i.documentsIndexed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome(err)),
	))
}
