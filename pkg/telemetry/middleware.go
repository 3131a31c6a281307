package telemetry

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// quietPaths are excluded from request metrics noise thresholds; they are
// still traced when sampling selects them.
var quietPaths = map[string]bool{
	"/health/live":  true,
	"/health/ready": true,
	"/metrics":      true,
}

// Middleware returns the HTTP middleware recording one span and the RED
// metrics (request count, duration, in-flight gauge) per request.
func Middleware(p *Provider, serviceName string) func(http.Handler) http.Handler {
	tracer := p.TracerProvider().Tracer(meterName)
	meter := p.MeterProvider().Meter(meterName)
	propagator := propagation.TraceContext{}

	requests, _ := meter.Int64Counter("http_requests_total",
		metric.WithDescription("Inbound requests by method, path and status"))
	duration, _ := meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("Inbound request latency"), metric.WithUnit("s"))
	inflight, _ := meter.Int64UpDownCounter("http_requests_in_flight",
		metric.WithDescription("Inbound requests currently being served"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method+" "+normalizePath(r.URL.Path),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("url.path", r.URL.Path),
					attribute.String("service.name", serviceName),
				))
			defer span.End()

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			inflight.Add(ctx, 1)
			defer inflight.Add(ctx, -1)

			next.ServeHTTP(rec, r.WithContext(ctx))

			span.SetAttributes(attribute.Int("http.status_code", rec.status))
			if quietPaths[r.URL.Path] {
				return
			}
			attrs := metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("path", normalizePath(r.URL.Path)),
				attribute.String("status", strconv.Itoa(rec.status)),
			)
			requests.Add(ctx, 1, attrs)
			duration.Record(ctx, time.Since(start).Seconds(), attrs)
		})
	}
}

// normalizePath collapses per-user path segments so metric cardinality
// stays bounded.
func normalizePath(path string) string {
	parts := strings.Split(path, "/")
	for i := range parts {
		if i > 0 && parts[i-1] == "users" {
			parts[i] = ":user_id"
		}
	}
	return strings.Join(parts, "/")
}
