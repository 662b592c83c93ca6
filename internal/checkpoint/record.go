package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// SchemaVersion is the record layout understood by this build.
const SchemaVersion = 1

// FailedSuffix tags a checkpoint written after a stage failed.
const FailedSuffix = "_failed"

// Record is the persisted form of a checkpoint.
type Record struct {
	SchemaVersion int                        `json:"schema_version"`
	PipelineID    string                     `json:"pipeline_id"`
	Stage         string                     `json:"stage"`
	Completed     []string                   `json:"completed"`
	Results       map[string]json.RawMessage `json:"results"`
	Progress      map[string]float64         `json:"progress"`
	Config        json.RawMessage            `json:"config,omitempty"`
	SavedAt       time.Time                  `json:"saved_at"`
	Integrity     string                     `json:"integrity"`
}

// Failed reports whether the record was written after a stage failure.
func (r *Record) Failed() bool {
	return r != nil && strings.HasSuffix(r.Stage, FailedSuffix)
}

// FailedStage returns the stage that failed, or "".
func (r *Record) FailedStage() string {
	if !r.Failed() {
		return ""
	}
	return strings.TrimSuffix(r.Stage, FailedSuffix)
}

// Signature computes the integrity marker for r.
func Signature(r *Record) (string, error) {
	clone := *r
	clone.Integrity = ""
	payload, err := json.Marshal(&clone)
	if err != nil {
		return "", fmt.Errorf("checkpoint: encode record: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// Validate reports whether r is usable for resume.
func Validate(r *Record) bool {
	if r == nil || r.SchemaVersion != SchemaVersion || strings.TrimSpace(r.PipelineID) == "" {
		return false
	}
	expected, err := Signature(r)
	if err != nil {
		return false
	}
	return expected == r.Integrity
}

// Report is what the executor needs to resume a run.
type Report struct {
	Completed    []string  `json:"completed"`
	NextStage    string    `json:"next_stage,omitempty"`
	NextIndex    int       `json:"next_index"`
	CheckpointAt time.Time `json:"checkpoint_at,omitzero"`
	FailedStage  string    `json:"failed_stage,omitempty"`
	// Done is set when every configured stage is already completed.
	Done bool `json:"done,omitempty"`
}

// Recovery resolves where a run over stages should begin. A nil record
// starts at the first stage. Otherwise execution resumes at the first
// configured stage the record has not completed.
func Recovery(r *Record, stages []string) Report {
	report := Report{}
	if r != nil {
		report.CheckpointAt = r.SavedAt
		report.FailedStage = r.FailedStage()
	}
	next := 0
	if r != nil {
		for next < len(stages) && slices.Contains(r.Completed, stages[next]) {
			next++
		}
	}
	report.Completed = slices.Clone(stages[:next])
	report.NextIndex = next
	if next >= len(stages) {
		report.Done = true
		return report
	}
	report.NextStage = stages[next]
	return report
}
