package api

import (
	"slices"
	"time"

	"autovideo/internal/cache"
	"autovideo/internal/checkpoint"
	"autovideo/internal/keypool"
	"autovideo/internal/logging"
	"autovideo/internal/preflight"
	"autovideo/internal/ratelimit"
	"autovideo/internal/stage"
	"autovideo/internal/workflow"
)

// FromSnapshot converts a workflow snapshot to its API representation.
func FromSnapshot(snap workflow.Snapshot) Run {
	dto := Run{
		ID:              snap.ID,
		Status:          string(snap.Status),
		Stages:          slices.Clone(snap.Stages),
		CurrentStage:    snap.CurrentStage,
		Progress:        snap.Progress,
		Completed:       slices.Clone(snap.Completed),
		Results:         snap.Results,
		Error:           snap.Error,
		Reason:          snap.Reason,
		ResumedFrom:     snap.ResumedFrom,
		CancelRequested: snap.CancelRequested,
		CreatedAt:       formatTime(snap.CreatedAt),
		UpdatedAt:       formatTime(snap.UpdatedAt),
		Logs:            FromLogEvents(snap.Logs),
	}
	if dto.Progress == nil {
		dto.Progress = map[string]float64{}
	}
	if dto.Completed == nil {
		dto.Completed = []string{}
	}
	if snap.FinishedAt != nil {
		dto.FinishedAt = formatTime(*snap.FinishedAt)
	}
	return dto
}

// FromSnapshots converts a list of snapshots, preserving order.
func FromSnapshots(snaps []workflow.Snapshot) []Run {
	out := make([]Run, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, FromSnapshot(snap))
	}
	return out
}

// FromCheckpoint converts a record and resolves the next stage against
// stages, the run's configured stage list.
func FromCheckpoint(record *checkpoint.Record, stages []string) Checkpoint {
	if record == nil {
		return Checkpoint{}
	}
	report := checkpoint.Recovery(record, stages)
	dto := Checkpoint{
		PipelineID:  record.PipelineID,
		Stage:       record.Stage,
		Completed:   slices.Clone(record.Completed),
		Progress:    record.Progress,
		Results:     record.Results,
		SavedAt:     formatTime(record.SavedAt),
		Failed:      record.Failed(),
		FailedStage: record.FailedStage(),
		NextStage:   report.NextStage,
		Done:        report.Done,
	}
	if dto.Completed == nil {
		dto.Completed = []string{}
	}
	return dto
}

// FromCacheStats converts cache statistics.
func FromCacheStats(stats cache.Stats) CacheStatus {
	dto := CacheStatus{
		Namespace: stats.Namespace,
		Entries:   stats.Entries,
		Scopes:    stats.Scopes,
		Hits:      stats.Hits,
		Misses:    stats.Misses,
		Evictions: stats.Evictions,
		LastFlush: formatTime(stats.LastFlush),
		LastError: stats.LastError,
	}
	if dto.Scopes == nil {
		dto.Scopes = map[string]int{}
	}
	return dto
}

// FromProviderState merges key pool and limiter snapshots by provider name.
func FromProviderState(pools []keypool.Snapshot, limits []ratelimit.ProviderStatus) []ProviderStatus {
	byName := make(map[string]*ProviderStatus)
	var order []string
	get := func(name string) *ProviderStatus {
		if status, ok := byName[name]; ok {
			return status
		}
		status := &ProviderStatus{Name: name, Keys: []KeyStatus{}}
		byName[name] = status
		order = append(order, name)
		return status
	}
	for _, pool := range pools {
		status := get(pool.Provider)
		status.KeysAvailable = pool.Available
		status.ResetDate = pool.ResetDate
		for _, key := range pool.Keys {
			status.Keys = append(status.Keys, KeyStatus{Key: key.Key, Usage: key.Usage, Exhausted: key.Exhausted})
		}
	}
	for _, limit := range limits {
		status := get(limit.Provider)
		status.MinuteCount = limit.Window.MinuteCount
		status.HourCount = limit.Window.HourCount
		status.MaxPerMinute = limit.Window.MaxPerMinute
		status.MaxPerHour = limit.Window.MaxPerHour
		status.TotalToday = limit.Window.TotalToday
		status.PausedUntil = formatTime(limit.Window.PauseUntil)
		status.ThrottleDelayMS = limit.ThrottleDelay.Milliseconds()
		status.ThrottleSignals = limit.Signals
	}
	slices.Sort(order)
	out := make([]ProviderStatus, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out
}

// FromStatusSummary converts workflow diagnostics.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	counts := make(map[string]int, len(summary.RunCounts))
	for status, count := range summary.RunCounts {
		counts[string(status)] = count
	}
	return WorkflowStatus{
		ActiveRun:   summary.ActiveRun,
		ActiveState: string(summary.ActiveState),
		LastError:   summary.LastError,
		RunCounts:   counts,
		StageHealth: StageHealthSlice(summary.StageHealth),
	}
}

// StageHealthSlice converts stage readiness, keeping workflow order.
func StageHealthSlice(health []stage.Health) []StageHealth {
	out := make([]StageHealth, 0, len(health))
	for _, h := range health {
		out = append(out, StageHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

// FromPreflight converts readiness checks.
func FromPreflight(results []preflight.Result) []PreflightCheck {
	out := make([]PreflightCheck, 0, len(results))
	for _, r := range results {
		out = append(out, PreflightCheck{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
	}
	return out
}

// FromLogEvents converts hub events.
func FromLogEvents(events []logging.LogEvent) []LogEvent {
	if len(events) == 0 {
		return nil
	}
	out := make([]LogEvent, 0, len(events))
	for _, evt := range events {
		out = append(out, LogEvent{
			Sequence:  evt.Sequence,
			Timestamp: formatTime(evt.Timestamp),
			Level:     evt.Level,
			Message:   evt.Message,
			Component: evt.Component,
			RunID:     evt.RunID,
			Stage:     evt.Stage,
			Provider:  evt.Provider,
			EventType: evt.EventType,
			Fields:    evt.Fields,
		})
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
