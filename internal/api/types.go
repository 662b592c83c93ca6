package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Run describes one pipeline run.
type Run struct {
	ID              string                     `json:"id"`
	Status          string                     `json:"status"`
	Stages          []string                   `json:"stages"`
	CurrentStage    string                     `json:"currentStage,omitempty"`
	Progress        map[string]float64         `json:"progress"`
	Completed       []string                   `json:"completed"`
	Results         map[string]json.RawMessage `json:"results,omitempty"`
	Error           string                     `json:"error,omitempty"`
	Reason          string                     `json:"reason,omitempty"`
	ResumedFrom     string                     `json:"resumedFrom,omitempty"`
	CancelRequested bool                       `json:"cancelRequested,omitempty"`
	CreatedAt       string                     `json:"createdAt,omitempty"`
	UpdatedAt       string                     `json:"updatedAt,omitempty"`
	FinishedAt      string                     `json:"finishedAt,omitempty"`
	Logs            []LogEvent                 `json:"logs,omitempty"`
}

// StartRunRequest is the body of POST /api/runs.
type StartRunRequest struct {
	ID        string                       `json:"id,omitempty"`
	Stages    []string                     `json:"stages,omitempty"`
	Input     string                       `json:"input,omitempty"`
	InputPath string                       `json:"inputPath,omitempty"`
	Settings  map[string]map[string]string `json:"settings,omitempty"`
}

// RunResponse wraps a single run.
type RunResponse struct {
	Run Run `json:"run"`
}

// RunListResponse wraps a collection of runs.
type RunListResponse struct {
	Runs []Run `json:"runs"`
}

// Checkpoint describes a run's persisted resume point.
type Checkpoint struct {
	PipelineID  string                     `json:"pipelineId"`
	Stage       string                     `json:"stage"`
	Completed   []string                   `json:"completed"`
	Progress    map[string]float64         `json:"progress"`
	Results     map[string]json.RawMessage `json:"results,omitempty"`
	SavedAt     string                     `json:"savedAt,omitempty"`
	Failed      bool                       `json:"failed"`
	FailedStage string                     `json:"failedStage,omitempty"`
	NextStage   string                     `json:"nextStage,omitempty"`
	Done        bool                       `json:"done"`
}

// CheckpointResponse wraps a checkpoint.
type CheckpointResponse struct {
	Checkpoint Checkpoint `json:"checkpoint"`
}

// CacheStatus summarizes the response cache.
type CacheStatus struct {
	Namespace string         `json:"namespace"`
	Entries   int            `json:"entries"`
	Scopes    map[string]int `json:"scopes"`
	Hits      uint64         `json:"hits"`
	Misses    uint64         `json:"misses"`
	Evictions uint64         `json:"evictions"`
	LastFlush string         `json:"lastFlush,omitempty"`
	LastError string         `json:"lastError,omitempty"`
}

// CacheFlushResponse reports a manual flush.
type CacheFlushResponse struct {
	Swept int         `json:"swept"`
	Cache CacheStatus `json:"cache"`
}

// KeyStatus is one masked credential.
type KeyStatus struct {
	Key       string `json:"key"`
	Usage     int    `json:"usage"`
	Exhausted bool   `json:"exhausted"`
}

// ProviderStatus combines key pool and rate-limit diagnostics for a provider.
type ProviderStatus struct {
	Name            string      `json:"name"`
	KeysAvailable   int         `json:"keysAvailable"`
	ResetDate       string      `json:"resetDate,omitempty"`
	Keys            []KeyStatus `json:"keys"`
	MinuteCount     int         `json:"minuteCount"`
	HourCount       int         `json:"hourCount"`
	MaxPerMinute    int         `json:"maxPerMinute"`
	MaxPerHour      int         `json:"maxPerHour"`
	TotalToday      int         `json:"totalToday"`
	PausedUntil     string      `json:"pausedUntil,omitempty"`
	ThrottleDelayMS int64       `json:"throttleDelayMs"`
	ThrottleSignals int         `json:"throttleSignals"`
}

// StageHealth mirrors readiness reporting for workflow stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	ActiveRun   string         `json:"activeRun,omitempty"`
	ActiveState string         `json:"activeState,omitempty"`
	LastError   string         `json:"lastError,omitempty"`
	RunCounts   map[string]int `json:"runCounts"`
	StageHealth []StageHealth  `json:"stageHealth"`
}

// PreflightCheck is one readiness check result.
type PreflightCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool             `json:"running"`
	PID          int              `json:"pid"`
	LockFilePath string           `json:"lockFilePath"`
	LogPath      string           `json:"logPath,omitempty"`
	RunsDBPath   string           `json:"runsDbPath,omitempty"`
	Storage      string           `json:"storage"`
	Workflow     WorkflowStatus   `json:"workflow"`
	Providers    []ProviderStatus `json:"providers"`
	Cache        CacheStatus      `json:"cache"`
	Preflight    []PreflightCheck `json:"preflight"`
}

// LogEvent is a structured log line.
type LogEvent struct {
	Sequence  uint64            `json:"seq"`
	Timestamp string            `json:"ts"`
	Level     string            `json:"level"`
	Message   string            `json:"msg"`
	Component string            `json:"component,omitempty"`
	RunID     string            `json:"runId,omitempty"`
	Stage     string            `json:"stage,omitempty"`
	Provider  string            `json:"provider,omitempty"`
	EventType string            `json:"eventType,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// LogStreamResponse wraps log events and the cursor for the next poll.
type LogStreamResponse struct {
	Events []LogEvent `json:"events"`
	Next   uint64     `json:"next"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
