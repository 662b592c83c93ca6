package logging

import (
	"context"
	"log/slog"

	"autovideo/internal/services"
)

// Structured field keys shared by every component.
const (
	FieldComponent     = "component"
	FieldRunID         = "run_id"
	FieldStage         = "stage"
	FieldProvider      = "provider"
	FieldEventType     = "event_type" // e.g. "cache_hit", "key_rotated"
	FieldErrorHint     = "error_hint"
	FieldCorrelationID = "correlation_id"
	FieldAlert         = "alert"
	// FieldImpact states the user-visible consequence of a warning.
	FieldImpact = "impact"
)

var contextKeys = []struct {
	field  string
	lookup func(context.Context) (string, bool)
}{
	{FieldRunID, services.RunIDFromContext},
	{FieldStage, services.StageFromContext},
	{FieldProvider, services.ProviderFromContext},
	{FieldCorrelationID, services.RequestIDFromContext},
}

// ContextFields returns the run, stage, provider and request identifiers
// carried by ctx as attributes.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var fields []slog.Attr
	for _, key := range contextKeys {
		if value, ok := key.lookup(ctx); ok {
			fields = append(fields, slog.String(key.field, value))
		}
	}
	return fields
}

// WithContext binds the identifiers in ctx to logger.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
