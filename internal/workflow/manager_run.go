package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"autovideo/internal/checkpoint"
	"autovideo/internal/logging"
	"autovideo/internal/notifications"
	"autovideo/internal/preflight"
	"autovideo/internal/runstore"
	"autovideo/internal/services"
	"autovideo/internal/stage"
)

// Start admits a run and launches it on its own goroutine. A run that is
// already processing or paused makes Start fail with services.ErrConflict.
func (m *Manager) Start(ctx context.Context, req StartRequest) (Snapshot, error) {
	stages := req.Stages
	if len(stages) == 0 {
		stages = m.cfg.Workflow.Stages
	}
	stages = slices.Clone(stages)
	if len(stages) == 0 {
		return Snapshot{}, services.Wrap(services.ErrValidation, "workflow", "start", "no stages configured", nil)
	}
	if missing := m.stages.Missing(stages); len(missing) > 0 {
		return Snapshot{}, services.Wrap(services.ErrValidation, "workflow", "start",
			fmt.Sprintf("unknown stage(s): %s", strings.Join(missing, ", ")), nil)
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if strings.ContainsAny(id, "/\\ ") {
		return Snapshot{}, services.Wrap(services.ErrValidation, "workflow", "start", fmt.Sprintf("invalid run id %q", id), nil)
	}

	if err := m.admissionCheck(id); err != nil {
		return Snapshot{}, err
	}
	if minMB := m.cfg.Workflow.MinFreeDiskMB; minMB > 0 {
		if check := preflight.CheckFreeSpace("work disk space", m.cfg.Paths.WorkDir, minMB); !check.Passed {
			return Snapshot{}, services.Wrap(services.ErrUnavailable, "workflow", "start", check.Detail, nil)
		}
	}

	var record *checkpoint.Record
	if m.checkpoints != nil {
		loaded, ok, err := m.checkpoints.Load(ctx, id)
		if err != nil {
			return Snapshot{}, services.Wrap(services.ErrUnavailable, "workflow", "start", "checkpoint store unavailable", err)
		}
		if ok {
			record = loaded
		}
	}
	report := checkpoint.Recovery(record, stages)

	cfg := req.Config.Clone()
	if record != nil && cfg.Input == "" && cfg.InputPath == "" && len(record.Config) > 0 {
		var stored RunConfig
		if err := json.Unmarshal(record.Config, &stored); err == nil {
			cfg = stored
		}
	}

	now := m.now().UTC()
	run := &Run{
		ID:        id,
		Stages:    stages,
		Status:    runstore.StatusProcessing,
		Progress:  make(map[string]float64, len(stages)),
		Results:   make(stage.Results),
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
		wake:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	if record != nil {
		for _, name := range report.Completed {
			if raw, ok := record.Results[name]; ok {
				run.Results[name] = append(json.RawMessage(nil), raw...)
			}
			run.Progress[name] = 100
		}
		run.Completed = slices.Clone(report.Completed)
		run.ResumedFrom = record.Stage
	}
	if !report.Done {
		run.CurrentStage = report.NextStage
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Snapshot{}, services.Wrap(services.ErrUnavailable, "workflow", "start", "manager is shutting down", nil)
	}
	if m.active != nil && m.active.Status.Active() {
		m.mu.Unlock()
		return Snapshot{}, conflictError(m.active.ID)
	}
	if prev, ok := m.known[id]; ok && !prev.Status.Terminal() {
		m.mu.Unlock()
		return Snapshot{}, conflictError(id)
	}
	if prev, ok := m.known[id]; ok {
		run.CreatedAt = prev.CreatedAt
	}
	runCtx, abort := context.WithCancelCause(services.WithRunID(m.baseCtx, id))
	run.abort = abort
	m.active = run
	m.known[id] = run
	m.wg.Add(1)
	snap := run.snapshot(false)
	m.mu.Unlock()

	logger := m.runLogger(id)
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "run_started"),
		logging.Int("stage_count", len(stages)),
		logging.String("next_stage", report.NextStage),
	}
	if record != nil {
		attrs = append(attrs,
			logging.String("resumed_from", record.Stage),
			logging.Int("completed_stages", len(report.Completed)),
			logging.String("checkpoint_at", report.CheckpointAt.Format(time.RFC3339)),
		)
	}
	logger.Info("run started", logging.Args(attrs...)...)
	m.persist(run)

	go m.execute(runCtx, run, report.NextIndex)
	return snap, nil
}

func (m *Manager) admissionCheck(id string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return services.Wrap(services.ErrUnavailable, "workflow", "start", "manager is shutting down", nil)
	}
	if m.active != nil && m.active.Status.Active() {
		return conflictError(m.active.ID)
	}
	if prev, ok := m.known[id]; ok && !prev.Status.Terminal() {
		return conflictError(id)
	}
	return nil
}

func conflictError(activeID string) error {
	return services.Wrap(services.ErrConflict, "workflow", "start",
		fmt.Sprintf("run %s is already active", activeID), nil)
}

// Pause moves a processing run to paused. The executor observes the pause at
// its next check point.
func (m *Manager) Pause(_ context.Context, id string) (Snapshot, error) {
	m.mu.Lock()
	run, err := m.lookupLocked(id)
	if err != nil {
		m.mu.Unlock()
		return Snapshot{}, err
	}
	if run.Status != runstore.StatusProcessing || run.cancelRequested {
		m.mu.Unlock()
		return Snapshot{}, stateError("pause", run)
	}
	run.Status = runstore.StatusPaused
	run.UpdatedAt = m.now().UTC()
	snap := run.snapshot(false)
	m.mu.Unlock()

	m.runLogger(id).Info("run paused",
		logging.String(logging.FieldEventType, "run_paused"),
		logging.String(logging.FieldStage, snap.CurrentStage))
	m.persist(run)
	return snap, nil
}

// Resume moves a paused run back to processing and wakes the executor.
func (m *Manager) Resume(_ context.Context, id string) (Snapshot, error) {
	m.mu.Lock()
	run, err := m.lookupLocked(id)
	if err != nil {
		m.mu.Unlock()
		return Snapshot{}, err
	}
	if run.Status != runstore.StatusPaused || run.cancelRequested {
		m.mu.Unlock()
		return Snapshot{}, stateError("resume", run)
	}
	run.Status = runstore.StatusProcessing
	run.UpdatedAt = m.now().UTC()
	m.wakeLocked(run)
	snap := run.snapshot(false)
	m.mu.Unlock()

	m.runLogger(id).Info("run resumed",
		logging.String(logging.FieldEventType, "run_resumed"),
		logging.String(logging.FieldStage, snap.CurrentStage))
	m.persist(run)
	return snap, nil
}

// Cancel requests cancellation of a processing or paused run. The run's
// context is cancelled at once, so throttle waits and in-flight provider calls
// return early; the run ends cancelled once the executor unwinds.
func (m *Manager) Cancel(_ context.Context, id string) (Snapshot, error) {
	m.mu.Lock()
	run, err := m.lookupLocked(id)
	if err != nil {
		m.mu.Unlock()
		return Snapshot{}, err
	}
	if !run.Status.Active() {
		m.mu.Unlock()
		return Snapshot{}, stateError("cancel", run)
	}
	run.cancelRequested = true
	run.UpdatedAt = m.now().UTC()
	m.wakeLocked(run)
	if run.abort != nil {
		run.abort(ErrCancelled)
	}
	snap := run.snapshot(false)
	m.mu.Unlock()

	m.runLogger(id).Info("run cancellation requested",
		logging.String(logging.FieldEventType, "run_cancel_requested"),
		logging.String(logging.FieldStage, snap.CurrentStage))
	return snap, nil
}

// Wait blocks until the run finishes or ctx ends and returns its final
// snapshot.
func (m *Manager) Wait(ctx context.Context, id string) (Snapshot, error) {
	m.mu.RLock()
	run, err := m.lookupLocked(id)
	m.mu.RUnlock()
	if err != nil {
		return Snapshot{}, err
	}
	select {
	case <-run.done:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return run.snapshot(true), nil
}

func (m *Manager) lookupLocked(id string) (*Run, error) {
	run, ok := m.known[strings.TrimSpace(id)]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "workflow", "lookup", fmt.Sprintf("run %s not found", id), nil)
	}
	return run, nil
}

func stateError(op string, run *Run) error {
	state := string(run.Status)
	if run.cancelRequested {
		state = "cancelling"
	}
	return services.Wrap(services.ErrConflict, "workflow", op, fmt.Sprintf("run %s is %s", run.ID, state), nil)
}

func (m *Manager) wakeLocked(run *Run) {
	close(run.wake)
	run.wake = make(chan struct{})
}

// checkpointGate honours pause and cancel. It blocks while the run is paused,
// re-checking every poll interval or when woken, and returns ErrCancelled once
// cancellation is requested.
func (m *Manager) checkpointGate(ctx context.Context, run *Run) error {
	announced := false
	for {
		m.mu.RLock()
		cancelled := run.cancelRequested
		paused := run.Status == runstore.StatusPaused
		wake := run.wake
		m.mu.RUnlock()

		if cancelled {
			return ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !paused {
			return nil
		}
		if !announced {
			announced = true
			m.runLogger(run.ID).Debug("executor waiting while paused",
				logging.String(logging.FieldEventType, "run_pause_wait"),
				logging.Duration("poll_interval", m.pollInterval))
		}
		timer := time.NewTimer(m.pollInterval)
		select {
		case <-ctx.Done():
		case <-wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (m *Manager) execute(ctx context.Context, run *Run, start int) {
	defer m.wg.Done()
	defer close(run.done)
	defer run.abort(nil)

	runLog, closeRunLog := m.runLogs.Open(run.ID, m.logger)
	defer closeRunLog()

	for i := start; i < len(run.Stages); i++ {
		name := run.Stages[i]
		if err := m.checkpointGate(ctx, run); err != nil {
			m.unwind(run, name, err)
			return
		}
		raw, err := m.executeStage(ctx, run, name, runLog)
		if err != nil {
			m.mu.RLock()
			cancelled := run.cancelRequested
			m.mu.RUnlock()
			switch {
			case cancelled || errors.Is(err, ErrCancelled):
				m.unwind(run, name, ErrCancelled)
			case ctx.Err() != nil:
				m.unwind(run, name, ctx.Err())
			default:
				m.handleStageFailure(ctx, run, name, err)
			}
			return
		}
		m.commitStage(ctx, run, name, raw)
	}
	m.complete(ctx, run)
}

// commitStage merges a stage result and writes the stage checkpoint.
func (m *Manager) commitStage(ctx context.Context, run *Run, name string, raw json.RawMessage) {
	m.mu.Lock()
	run.Results[name] = raw
	run.Progress[name] = 100
	if !slices.Contains(run.Completed, name) {
		run.Completed = append(run.Completed, name)
	}
	run.UpdatedAt = m.now().UTC()
	snap := m.checkpointSnapshotLocked(run, name)
	m.mu.Unlock()

	m.persist(run)
	if m.checkpoints == nil || !m.cfg.Workflow.CheckpointsEnabled {
		return
	}
	if _, err := m.checkpoints.Save(context.WithoutCancel(ctx), snap); err != nil {
		logging.WarnWithContext(m.runLogger(run.ID), "checkpoint write failed; run continues", "checkpoint_write_failed",
			logging.String(logging.FieldStage, name),
			logging.Error(err),
			logging.String(logging.FieldImpact, "an interruption would redo this stage"),
			logging.String(logging.FieldErrorHint, "check the storage backend"),
		)
	}
}

func (m *Manager) checkpointSnapshotLocked(run *Run, stageTag string) checkpoint.Snapshot {
	return checkpoint.Snapshot{
		PipelineID: run.ID,
		Stage:      stageTag,
		Completed:  slices.Clone(run.Completed),
		Results:    run.Results.Clone(),
		Progress:   maps.Clone(run.Progress),
		Config:     run.Config.Clone(),
	}
}

func (m *Manager) complete(ctx context.Context, run *Run) {
	if m.checkpoints != nil {
		if err := m.checkpoints.Delete(context.WithoutCancel(ctx), run.ID); err != nil {
			logging.WarnWithContext(m.runLogger(run.ID), "checkpoint delete failed", "checkpoint_delete_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "a completed run leaves a stale checkpoint"),
			)
		}
	}
	m.finish(run, runstore.StatusCompleted, "", "")
	m.runLogger(run.ID).Info("run completed",
		logging.String(logging.FieldEventType, "run_completed"),
		logging.Int("stage_count", len(run.Stages)))
	m.mu.RLock()
	elapsed := run.UpdatedAt.Sub(run.CreatedAt).Round(time.Second)
	m.mu.RUnlock()
	m.notify(ctx, run, notifications.EventRunCompleted, notifications.Payload{"duration": elapsed.String()})
}

// unwind ends a run that was cancelled or interrupted. The existing
// checkpoint is kept so the run can be resumed.
func (m *Manager) unwind(run *Run, name string, cause error) {
	reason := runstore.UserCancelReason
	event := "run_cancelled"
	if !errors.Is(cause, ErrCancelled) {
		reason = runstore.InterruptedReason
		event = "run_interrupted"
	}
	m.finish(run, runstore.StatusCancelled, "", reason)
	m.runLogger(run.ID).Info("run cancelled",
		logging.String(logging.FieldEventType, event),
		logging.String(logging.FieldStage, name),
		logging.String("reason", reason))
}

func (m *Manager) finish(run *Run, status runstore.Status, errMsg, reason string) {
	now := m.now().UTC()
	m.mu.Lock()
	run.Status = status
	run.Error = errMsg
	run.Reason = reason
	run.UpdatedAt = now
	run.FinishedAt = &now
	if status == runstore.StatusCompleted {
		run.CurrentStage = ""
	}
	if m.active == run {
		m.active = nil
	}
	m.mu.Unlock()
	m.persist(run)
}

// persist mirrors run into the runstore. Failures are logged, never fatal.
func (m *Manager) persist(run *Run) {
	if m.runs == nil {
		return
	}
	m.mu.RLock()
	rec := run.record()
	m.mu.RUnlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.runs.Upsert(ctx, rec); err != nil {
		m.setLastError(err)
		logging.WarnWithContext(m.runLogger(run.ID), "run history update failed", "runstore_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "status after restart may be stale"),
			logging.String(logging.FieldErrorHint, "check state_dir permissions"),
		)
	}
}
