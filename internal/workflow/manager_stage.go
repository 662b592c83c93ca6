package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"autovideo/internal/logging"
	"autovideo/internal/services"
	"autovideo/internal/stage"
)

func (m *Manager) executeStage(ctx context.Context, run *Run, name string, runLog *slog.Logger) (json.RawMessage, error) {
	fn, ok := m.stages.Lookup(name)
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "execute stage", fmt.Sprintf("no logic registered for stage %q", name), nil)
	}

	stageCtx := withStageContext(ctx, name)
	stageLogger := logging.WithContext(stageCtx, runLog)

	m.mu.Lock()
	run.CurrentStage = name
	run.Progress[name] = 0
	run.UpdatedAt = m.now().UTC()
	in := stage.Input{
		RunID:   run.ID,
		Stage:   name,
		WorkDir: filepath.Join(m.cfg.Paths.WorkDir, run.ID),
		Results: run.Results.Clone(),
		Config:  run.Config.Clone(),
		Logger:  stageLogger,
	}
	m.mu.Unlock()
	in.Checkpoint = func(ctx context.Context) error {
		return m.checkpointGate(ctx, run)
	}
	m.persist(run)

	stageStart := time.Now()
	stageLogger.Info(
		"stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("stage_label", deriveStageLabel(name)),
		logging.Int("completed_stages", len(in.Results)),
	)

	sampler := logging.NewProgressSampler(10, 30*time.Second)
	reporter := stage.ReporterFunc(func(percent float64, message string) {
		percent = min(max(percent, 0), 100)
		m.mu.Lock()
		run.Progress[name] = percent
		run.UpdatedAt = m.now().UTC()
		emit := sampler.ShouldLog(percent, time.Now())
		m.mu.Unlock()
		if emit {
			stageLogger.Info("stage progress",
				logging.String(logging.FieldEventType, "stage_progress"),
				logging.Float64("percent", percent),
				logging.String("progress_message", message),
			)
		}
	})

	out, err := fn(stageCtx, in, reporter)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "workflow", "execute stage", fmt.Sprintf("result of %s is not serializable", name), err)
	}

	stageLogger.Info(
		"stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("stage_duration", time.Since(stageStart)),
		logging.Int("result_bytes", len(raw)),
	)
	return raw, nil
}
