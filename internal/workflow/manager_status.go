package workflow

import (
	"context"
	"sort"

	"autovideo/internal/logging"
	"autovideo/internal/runstore"
	"autovideo/internal/services"
)

// Status returns the run's snapshot including stage results and its most
// recent log events. Runs not held in memory are served from the runstore.
func (m *Manager) Status(ctx context.Context, id string) (Snapshot, error) {
	m.mu.RLock()
	run, err := m.lookupLocked(id)
	var snap Snapshot
	if err == nil {
		snap = run.snapshot(true)
	}
	m.mu.RUnlock()

	if err != nil {
		if m.runs == nil {
			return Snapshot{}, err
		}
		rec, getErr := m.runs.Get(ctx, id)
		if getErr != nil {
			return Snapshot{}, services.Wrap(services.ErrUnavailable, "workflow", "status", "run history unavailable", getErr)
		}
		if rec == nil {
			return Snapshot{}, err
		}
		snap = snapshotFromRecord(rec)
	}
	snap.Logs = m.hub.ForRun(snap.ID, m.cfg.Workflow.StatusLogLimit)
	return snap, nil
}

// List returns every known run, oldest first. In-memory state wins over
// persisted history for runs started by this process.
func (m *Manager) List(ctx context.Context) ([]Snapshot, error) {
	byID := make(map[string]Snapshot)
	if m.runs != nil {
		records, err := m.runs.List(ctx)
		if err != nil {
			return nil, services.Wrap(services.ErrUnavailable, "workflow", "list", "run history unavailable", err)
		}
		for _, rec := range records {
			byID[rec.ID] = snapshotFromRecord(rec)
		}
	}
	m.mu.RLock()
	for id, run := range m.known {
		byID[id] = run.snapshot(false)
	}
	m.mu.RUnlock()

	out := make([]Snapshot, 0, len(byID))
	for _, snap := range byID {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ActiveRun returns the id of the run holding the admission slot.
func (m *Manager) ActiveRun() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return "", false
	}
	return m.active.ID, true
}

// Summary returns lightweight workflow diagnostics.
func (m *Manager) Summary(ctx context.Context) StatusSummary {
	summary := StatusSummary{
		RunCounts:   make(map[runstore.Status]int),
		StageHealth: m.stages.Check(m.cfg.Workflow.Stages),
	}
	m.mu.RLock()
	if m.active != nil {
		summary.ActiveRun = m.active.ID
		summary.ActiveState = m.active.Status
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	m.mu.RUnlock()

	runs, err := m.List(ctx)
	if err != nil {
		m.logger.Warn("failed to read run history", logging.Error(err))
	}
	for _, snap := range runs {
		summary.RunCounts[snap.Status]++
	}
	return summary
}
