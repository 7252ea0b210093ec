package telemetry

import (
	"context"
	"errors"
	"testing"
)

func TestEnabled(t *testing.T) {
	t.Setenv("FB_OTEL_ENABLED", "")
	if Enabled() {
		t.Error("telemetry should be off by default")
	}
	t.Setenv("FB_OTEL_ENABLED", "true")
	if !Enabled() {
		t.Error("telemetry should be on with FB_OTEL_ENABLED=true")
	}
}

func TestInitDisabledInstallsNoop(t *testing.T) {
	t.Setenv("FB_OTEL_ENABLED", "")
	if err := Init(context.Background(), FromEnv("fb-test", "0.0.0")); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Shutdown(context.Background())

	h := NewHTTPInstruments()
	ctx, span, start := h.Start(context.Background(), "GET", "example.test")
	h.Attempt(ctx, "example.test", false)
	h.Attempt(ctx, "example.test", true)
	h.Done(ctx, span, start, "example.test", 503, errors.New("boom"))
	if span.IsRecording() {
		t.Error("noop span should not record")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("FB_OTEL_ENABLED", "true")
	t.Setenv("FB_OTEL_STDOUT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")

	opts := FromEnv("fb", "1.2.3")
	if !opts.Enabled || opts.Stdout {
		t.Errorf("flags = %+v", opts)
	}
	if opts.OTLPEndpoint != "collector:4318" {
		t.Errorf("OTLPEndpoint = %q", opts.OTLPEndpoint)
	}

	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "metrics:4318")
	if got := FromEnv("fb", "1.2.3").OTLPEndpoint; got != "metrics:4318" {
		t.Errorf("metrics endpoint should win, got %q", got)
	}
}

func TestMetricReaders(t *testing.T) {
	readers, err := metricReaders(context.Background(), Options{Enabled: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(readers) != 0 {
		t.Errorf("no exporters configured, got %d readers", len(readers))
	}

	readers, err = metricReaders(context.Background(), Options{Enabled: true, Stdout: true, OTLPEndpoint: "localhost:4318"})
	if err != nil {
		t.Fatal(err)
	}
	if len(readers) != 2 {
		t.Errorf("readers = %d, want 2", len(readers))
	}
	for _, r := range readers {
		_ = r.Shutdown(context.Background())
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "b", "c"); got != "b" {
		t.Errorf("got %q", got)
	}
	if got := firstNonEmpty("", ""); got != "" {
		t.Errorf("got %q", got)
	}
}
