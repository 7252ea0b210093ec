package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const httpScopeName = "github.com/feedbackkit/fb/internal/transport"

// HTTPInstruments records outbound request attempts, retries and latency.
// Instruments come from the global providers, so they are no-ops until Init
// installs real ones.
type HTTPInstruments struct {
	tracer   trace.Tracer
	attempts metric.Int64Counter
	retries  metric.Int64Counter
	errs     metric.Int64Counter
	dur      metric.Float64Histogram
}

// NewHTTPInstruments builds the instrument set used by the transport.
func NewHTTPInstruments() *HTTPInstruments {
	m := Meter(httpScopeName)
	attempts, _ := m.Int64Counter("fb.transport.attempts",
		metric.WithDescription("Outbound HTTP attempts, including retries"),
	)
	retries, _ := m.Int64Counter("fb.transport.retries",
		metric.WithDescription("Outbound HTTP retries after a transient failure"),
	)
	errs, _ := m.Int64Counter("fb.transport.errors",
		metric.WithDescription("Outbound HTTP calls that ended in an error"),
	)
	dur, _ := m.Float64Histogram("fb.transport.duration",
		metric.WithDescription("Outbound HTTP call duration including backoff"),
		metric.WithUnit("ms"),
	)
	return &HTTPInstruments{
		tracer:   Tracer(httpScopeName),
		attempts: attempts,
		retries:  retries,
		errs:     errs,
		dur:      dur,
	}
}

// Start opens a client span for one logical call.
func (h *HTTPInstruments) Start(ctx context.Context, method, host string) (context.Context, trace.Span, time.Time) {
	ctx, span := h.tracer.Start(ctx, "http."+method,
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("server.address", host),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	return ctx, span, time.Now()
}

// Attempt counts one attempt; retry is true for every attempt after the first.
func (h *HTTPInstruments) Attempt(ctx context.Context, host string, retry bool) {
	attrs := metric.WithAttributes(attribute.String("server.address", host))
	h.attempts.Add(ctx, 1, attrs)
	if retry {
		h.retries.Add(ctx, 1, attrs)
	}
}

// Done ends the span and records duration, status and error.
func (h *HTTPInstruments) Done(ctx context.Context, span trace.Span, start time.Time, host string, status int, err error) {
	attrs := []attribute.KeyValue{attribute.String("server.address", host)}
	if status > 0 {
		attrs = append(attrs, attribute.Int("http.response.status_code", status))
		span.SetAttributes(attribute.Int("http.response.status_code", status))
	}
	h.dur.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}
