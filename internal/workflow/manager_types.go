package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"slices"
	"time"

	"autovideo/internal/logging"
	"autovideo/internal/runstore"
	"autovideo/internal/stage"
)

// ErrCancelled is returned through Input.Checkpoint once a run is cancelled.
// It is a control signal, not a failure.
var ErrCancelled = errors.New("run cancelled")

// RunConfig is the caller-supplied configuration of a run.
type RunConfig = stage.RunConfig

// StartRequest asks the manager to begin or resume a run.
type StartRequest struct {
	// ID resumes the run with this id when set; otherwise a new id is minted.
	ID string `json:"id,omitempty"`
	// Stages overrides the configured stage order.
	Stages []string  `json:"stages,omitempty"`
	Config RunConfig `json:"config"`
}

// Run is the executor-owned state of one pipeline run. Fields are guarded by
// Manager.mu.
type Run struct {
	ID           string
	Stages       []string
	Status       runstore.Status
	Progress     map[string]float64
	Results      stage.Results
	Completed    []string
	Config       RunConfig
	CreatedAt    time.Time
	UpdatedAt    time.Time
	FinishedAt   *time.Time
	CurrentStage string
	Error        string
	Reason       string
	ResumedFrom  string

	cancelRequested bool
	abort           context.CancelCauseFunc
	wake            chan struct{}
	done            chan struct{}
}

func (r *Run) snapshot(withResults bool) Snapshot {
	snap := Snapshot{
		ID:              r.ID,
		Status:          r.Status,
		Stages:          slices.Clone(r.Stages),
		CurrentStage:    r.CurrentStage,
		Progress:        maps.Clone(r.Progress),
		Completed:       slices.Clone(r.Completed),
		Error:           r.Error,
		Reason:          r.Reason,
		ResumedFrom:     r.ResumedFrom,
		CancelRequested: r.cancelRequested,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.FinishedAt != nil {
		finished := *r.FinishedAt
		snap.FinishedAt = &finished
	}
	if withResults {
		snap.Results = r.Results.Clone()
	}
	return snap
}

func (r *Run) record() *runstore.Record {
	rec := &runstore.Record{
		ID:           r.ID,
		Status:       r.Status,
		Stages:       slices.Clone(r.Stages),
		CurrentStage: r.CurrentStage,
		Progress:     maps.Clone(r.Progress),
		ErrorMessage: r.Error,
		Reason:       r.Reason,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.FinishedAt != nil {
		finished := *r.FinishedAt
		rec.FinishedAt = &finished
	}
	if raw, err := json.Marshal(r.Config); err == nil {
		rec.Config = raw
	}
	return rec
}

// Snapshot is a point-in-time copy of a run for status queries.
type Snapshot struct {
	ID              string                     `json:"id"`
	Status          runstore.Status            `json:"status"`
	Stages          []string                   `json:"stages"`
	CurrentStage    string                     `json:"current_stage,omitempty"`
	Progress        map[string]float64         `json:"progress,omitempty"`
	Completed       []string                   `json:"completed,omitempty"`
	Results         map[string]json.RawMessage `json:"results,omitempty"`
	Error           string                     `json:"error,omitempty"`
	Reason          string                     `json:"reason,omitempty"`
	ResumedFrom     string                     `json:"resumed_from,omitempty"`
	CancelRequested bool                       `json:"cancel_requested,omitempty"`
	CreatedAt       time.Time                  `json:"created_at"`
	UpdatedAt       time.Time                  `json:"updated_at"`
	FinishedAt      *time.Time                 `json:"finished_at,omitempty"`
	Logs            []logging.LogEvent         `json:"logs,omitempty"`
}

func snapshotFromRecord(rec *runstore.Record) Snapshot {
	snap := Snapshot{
		ID:           rec.ID,
		Status:       rec.Status,
		Stages:       rec.Stages,
		CurrentStage: rec.CurrentStage,
		Progress:     rec.Progress,
		Error:        rec.ErrorMessage,
		Reason:       rec.Reason,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
		FinishedAt:   rec.FinishedAt,
	}
	for _, name := range rec.Stages {
		if rec.Progress[name] >= 100 {
			snap.Completed = append(snap.Completed, name)
		}
	}
	return snap
}

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	ActiveRun   string                  `json:"active_run,omitempty"`
	ActiveState runstore.Status         `json:"active_state,omitempty"`
	LastError   string                  `json:"last_error,omitempty"`
	RunCounts   map[runstore.Status]int `json:"run_counts"`
	StageHealth []stage.Health          `json:"stage_health"`
}
