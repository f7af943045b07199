package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/felixgeelhaar/caretaker/internal/config"
)

// setupTestTracer creates a test tracer with in-memory exporter
func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return exporter
}

func attr(attrs []attribute.KeyValue, key string) string {
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value.Emit()
		}
	}
	return ""
}

func TestRunAndStageSpans(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx, run := StartRunSpan(context.Background(), "acme/api", "run-1")
	_, stage := StartStageSpan(ctx, "code_review")
	RecordDuration(stage, "stage", 1500*time.Millisecond)
	RecordError(stage, errors.New("provider down"))
	stage.End()
	RecordSuccess(run, attribute.String("outcome", "degraded"))
	run.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}

	stageSpan, runSpan := spans[0], spans[1]
	if stageSpan.Name != "stage.code_review" {
		t.Errorf("unexpected stage span name %q", stageSpan.Name)
	}
	if stageSpan.Parent.SpanID() != runSpan.SpanContext.SpanID() {
		t.Error("stage span should be a child of the run span")
	}
	if stageSpan.Status.Code != codes.Error {
		t.Errorf("expected error status, got %v", stageSpan.Status.Code)
	}
	if attr(stageSpan.Attributes, "stage_ms") != "1500" {
		t.Errorf("expected duration attribute, got %v", stageSpan.Attributes)
	}
	if attr(runSpan.Attributes, "repo") != "acme/api" || attr(runSpan.Attributes, "outcome") != "degraded" {
		t.Errorf("unexpected run attributes %v", runSpan.Attributes)
	}
}

func TestRecordErrorNil(t *testing.T) {
	exporter := setupTestTracer(t)

	_, span := StartPluginSpan(context.Background(), "code_metrics")
	RecordError(span, nil)
	span.End()

	if got := exporter.GetSpans()[0].Status.Code; got != codes.Unset {
		t.Errorf("nil error should not change status, got %v", got)
	}
}

func TestInitProviderDisabled(t *testing.T) {
	shutdown, err := InitProvider(context.Background(), FromConfig(config.TelemetryConfig{}))
	if err != nil {
		t.Fatalf("InitProvider failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}

	_, span := StartProviderSpan(context.Background(), "openai/gpt", "review_code")
	if span.SpanContext().IsValid() {
		t.Error("disabled tracing should produce noop spans")
	}
	span.End()
}

func TestFromConfig(t *testing.T) {
	c := FromConfig(config.TelemetryConfig{Enabled: true, Endpoint: "otel:4318", Insecure: true})
	if !c.Enabled || c.Endpoint != "otel:4318" || !c.Insecure {
		t.Errorf("unexpected config %+v", c)
	}
	if c.ServiceName != "caretaker" {
		t.Errorf("expected default service name, got %q", c.ServiceName)
	}
}

func TestInitProviderWithoutEndpoint(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	shutdown, err := InitProvider(context.Background(), Config{Enabled: true, ServiceName: "caretaker-test"})
	if err != nil {
		t.Fatalf("InitProvider failed: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	_, span := StartRunSpan(context.Background(), "acme/api", "run-2")
	if !span.SpanContext().IsValid() {
		t.Error("enabled tracing should record spans")
	}
	span.End()
}
