package runstore

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle of a pipeline run.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
	StatusPaused     Status = "paused"
	StatusCancelled  Status = "cancelled"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// InterruptedReason marks runs stopped by daemon shutdown rather than a user.
const InterruptedReason = "interrupted"

// UserCancelReason marks runs cancelled through the control surface.
const UserCancelReason = "cancelled by user"

var allStatuses = []Status{
	StatusIdle,
	StatusProcessing,
	StatusPaused,
	StatusCancelled,
	StatusCompleted,
	StatusFailed,
}

// ParseStatus validates a status string.
func ParseStatus(value string) (Status, bool) {
	for _, status := range allStatuses {
		if string(status) == value {
			return status, true
		}
	}
	return "", false
}

// Active reports whether the status holds the admission slot.
func (s Status) Active() bool {
	return s == StatusProcessing || s == StatusPaused
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted || s == StatusFailed
}

// Record is one persisted run row.
type Record struct {
	ID           string             `json:"id"`
	Status       Status             `json:"status"`
	Stages       []string           `json:"stages"`
	CurrentStage string             `json:"current_stage,omitempty"`
	Progress     map[string]float64 `json:"progress,omitempty"`
	Config       json.RawMessage    `json:"config,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
	Reason       string             `json:"reason,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	FinishedAt   *time.Time         `json:"finished_at,omitempty"`
}
