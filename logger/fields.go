package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across scribe.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldJobID         = "job_id"
	FieldCorrelationID = "correlation_id"
	FieldRemoteJobID   = "remote_job_id"
	FieldContentHash   = "content_hash"

	// Components
	FieldComponent = "component"

	// Operations
	FieldOperation = "operation"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStage     = "stage"
	FieldPhase     = "phase"
	FieldAttempt   = "attempt"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldDelayMS    = "delay_ms"

	// Errors
	FieldError     = "error"
	FieldErrorCode = "error_code"

	// Counts and sizes
	FieldCount = "count"
	FieldSize  = "size"

	// Status
	FieldStatus = "status"
	FieldState  = "state"

	// Files
	FieldFile   = "file"
	FieldOutput = "output"

	FieldSymbol = "symbol" // pulse glyph (꩜, ✿, ❀)
)

// Context keys for propagating logging context
type contextKey string

const (
	jobIDKey         contextKey = "logger_job_id"
	correlationIDKey contextKey = "logger_correlation_id"
	componentKey     contextKey = "logger_component"
)

// WithJobID adds a job ID to the context for logging
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithCorrelationID adds a correlation ID to the context. The remote client
// reuses it as the X-Correlation-ID header instead of minting a new one.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationIDFromContext returns the correlation ID stored in ctx, if any.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(correlationIDKey).(string)
	return id, ok && id != ""
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		fields = append(fields, FieldJobID, jobID)
	}
	if correlationID, ok := CorrelationIDFromContext(ctx); ok {
		fields = append(fields, FieldCorrelationID, correlationID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// LoggerFromContext returns a logger with fields extracted from context.
func LoggerFromContext(ctx context.Context) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return Logger
	}
	return Logger.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	orch := async.NewOrchestrator(queue, exec, ident, async.OrchestratorConfig{
//	    Logger: logger.ComponentLogger("pulse"),
//	})
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l == nil {
		return zap.NewNop().Sugar()
	}
	return l
}
