package workflow

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"autovideo/internal/logging"
	"autovideo/internal/services"
)

func (m *Manager) runLogger(id string) *slog.Logger {
	return m.logger.With(logging.String(logging.FieldRunID, id))
}

// withStageContext tags ctx with the stage name and a fresh correlation id
// so provider calls made by the stage can be traced back to it.
func withStageContext(ctx context.Context, stageName string) context.Context {
	if stageName != "" {
		ctx = services.WithStage(ctx, stageName)
	}
	return services.WithRequestID(ctx, uuid.NewString())
}

func deriveStageLabel(stageName string) string {
	parts := strings.Fields(strings.ReplaceAll(stageName, "_", " "))
	for i, part := range parts {
		runes := []rune(strings.ToLower(part))
		runes[0] = unicode.ToUpper(runes[0])
		parts[i] = string(runes)
	}
	return strings.Join(parts, " ")
}
