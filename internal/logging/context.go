package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldStage is the standardized structured logging key for stage names.
	FieldStage = "stage"
	// FieldChannel is the standardized structured logging key for bus channel names.
	FieldChannel = "channel"
	// FieldBackend is the standardized structured logging key for transport backends.
	FieldBackend = "backend"
	// FieldPipelineID is the standardized structured logging key for pipeline identifiers.
	FieldPipelineID = "pipeline_id"
	// FieldCorrelationID is the standardized structured logging key for per-message identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies a log line for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint suggests a next step to the operator.
	FieldErrorHint = "error_hint"
	// FieldImpact states the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldError carries the error value.
	FieldError = "error"
	// FieldDuration carries elapsed time.
	FieldDuration = "duration"
)

type ctxKey int

const (
	pipelineIDKey ctxKey = iota
	stageKey
)

// WithPipelineID stores a pipeline id on ctx for WithContext to pick up.
func WithPipelineID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, pipelineIDKey, id)
}

// PipelineIDFromContext returns the pipeline id stored by WithPipelineID.
func PipelineIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(pipelineIDKey).(string)
	return id, ok && id != ""
}

// WithStage stores the running stage name on ctx.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name stored by WithStage.
func StageFromContext(ctx context.Context) (string, bool) {
	stage, ok := ctx.Value(stageKey).(string)
	return stage, ok && stage != ""
}

// ContextFields extracts standardized slog attributes from ctx.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 2)
	if stage, ok := StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if id, ok := PipelineIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldPipelineID, id))
	}
	return fields
}

// WithContext returns logger augmented with the fields stored on ctx.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	logger = OrNop(logger)
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
