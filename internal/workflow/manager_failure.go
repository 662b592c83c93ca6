package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"autovideo/internal/checkpoint"
	"autovideo/internal/gateway"
	"autovideo/internal/logging"
	"autovideo/internal/notifications"
	"autovideo/internal/runstore"
	"autovideo/internal/services"
)

// handleStageFailure writes a best-effort "<stage>_failed" checkpoint and
// then marks the run failed.
func (m *Manager) handleStageFailure(ctx context.Context, run *Run, stageName string, stageErr error) {
	logger := m.runLogger(run.ID).With(logging.String(logging.FieldStage, stageName))
	message := classifyStageFailure(stageName, stageErr)

	attrs := []logging.Attr{
		logging.String("resolved_status", string(runstore.StatusFailed)),
		logging.String("error_message", message),
		logging.Alert("stage_failure"),
		logging.String("error_kind", failureKind(stageErr)),
		logging.Error(stageErr),
		logging.String(logging.FieldEventType, "stage_failure"),
	}
	if callErr, ok := gateway.AsCallError(stageErr); ok {
		attrs = append(attrs, logging.Int("provider_attempts", len(callErr.Attempts)))
		if !callErr.RetryAt.IsZero() {
			attrs = append(attrs, logging.String(logging.FieldErrorHint, "provider ceilings reached; start the run again after "+callErr.RetryAt.Format("15:04:05 MST")))
		}
	}
	logger.Error("stage failed", logging.Args(attrs...)...)

	if m.checkpoints != nil {
		m.mu.RLock()
		snap := m.checkpointSnapshotLocked(run, stageName+checkpoint.FailedSuffix)
		m.mu.RUnlock()
		if _, err := m.checkpoints.Save(context.WithoutCancel(ctx), snap); err != nil {
			logging.WarnWithContext(logger, "failure checkpoint not written", "checkpoint_write_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "failure point is not inspectable"),
			)
		}
	}

	m.setLastError(stageErr)
	m.finish(run, runstore.StatusFailed, message, "")
	errText := ""
	if stageErr != nil {
		errText = stageErr.Error()
	}
	m.notify(ctx, run, notifications.EventRunFailed, notifications.Payload{"stage": stageName, "error": errText})
}

func classifyStageFailure(stageName string, stageErr error) string {
	if stageErr == nil {
		return fmt.Sprintf("%s failed without error detail", stageName)
	}
	message := strings.TrimSpace(stageErr.Error())
	if message == "" {
		return fmt.Sprintf("%s failed", stageName)
	}
	return fmt.Sprintf("%s: %s", stageName, message)
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, services.ErrQuota):
		return "quota"
	case errors.Is(err, services.ErrRetryLater):
		return "retry_later"
	case errors.Is(err, services.ErrValidation):
		return "validation"
	case errors.Is(err, services.ErrConfiguration):
		return "configuration"
	case errors.Is(err, services.ErrTimeout):
		return "timeout"
	case errors.Is(err, services.ErrTransient):
		return "transient"
	case errors.Is(err, services.ErrNotFound):
		return "not_found"
	default:
		return "fatal"
	}
}
