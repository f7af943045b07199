package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartRunSpan creates the root span of one repository run.
//
// Usage:
//
//	ctx, span := telemetry.StartRunSpan(ctx, "acme/api", runID)
//	defer span.End()
func StartRunSpan(ctx context.Context, repoID, runID string) (context.Context, trace.Span) {
	tracer := tracer("pipeline")
	ctx, span := tracer.Start(ctx, "pipeline.run")

	span.SetAttributes(
		attribute.String("repo", repoID),
		attribute.String("run_id", runID),
	)
	return ctx, span
}

// StartStageSpan creates a span for one stage execution.
func StartStageSpan(ctx context.Context, stageID string) (context.Context, trace.Span) {
	tracer := tracer("pipeline")
	ctx, span := tracer.Start(ctx, "stage."+stageID)

	span.SetAttributes(attribute.String("stage", stageID))
	return ctx, span
}

// StartPluginSpan creates a span for one plugin run.
func StartPluginSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	tracer := tracer("plugins")
	ctx, span := tracer.Start(ctx, "plugin."+name)

	span.SetAttributes(attribute.String("plugin", name))
	return ctx, span
}

// StartProviderSpan creates a span for a provider call.
func StartProviderSpan(ctx context.Context, providerID, templateID string) (context.Context, trace.Span) {
	tracer := tracer("providers")
	ctx, span := tracer.Start(ctx, "provider.invoke")

	span.SetAttributes(
		attribute.String("provider", providerID),
		attribute.String("template", templateID),
	)
	return ctx, span
}

// RecordSuccess marks a span as successful with optional result attributes.
func RecordSuccess(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	span.SetStatus(codes.Ok, "")
}

// RecordError records an error in a span and sets error status.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordDuration records the duration of an operation as a span attribute.
func RecordDuration(span trace.Span, name string, duration time.Duration) {
	span.SetAttributes(attribute.Int64(name+"_ms", duration.Milliseconds()))
}
