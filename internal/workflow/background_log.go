package workflow

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"autovideo/internal/config"
	"autovideo/internal/logging"
)

// RunLogger manages dedicated log files for pipeline runs.
type RunLogger struct {
	baseDir string
	hub     *logging.StreamHub
	cfg     *config.Config
}

// NewRunLogger creates a run logger rooted at <log_dir>/runs.
func NewRunLogger(cfg *config.Config, hub *logging.StreamHub) *RunLogger {
	dir := ""
	if cfg != nil && cfg.Paths.LogDir != "" {
		dir = filepath.Join(cfg.Paths.LogDir, "runs")
	}
	return &RunLogger{baseDir: dir, hub: hub, cfg: cfg}
}

// Path returns the log file location for a run started at ts.
func (r *RunLogger) Path(runID string, ts time.Time) string {
	if strings.TrimSpace(r.baseDir) == "" {
		return ""
	}
	return filepath.Join(r.baseDir, fmt.Sprintf("%s-%s.log", ts.UTC().Format("20060102T150405"), strings.TrimSpace(runID)))
}

// Open returns a logger writing to the run's own file and publishing to the
// stream hub, plus a function that closes the file. When the file cannot be
// opened the fallback logger is returned.
func (r *RunLogger) Open(runID string, fallback *slog.Logger) (*slog.Logger, func()) {
	noop := func() {}
	path := r.Path(runID, time.Now())
	if path == "" {
		return fallback, noop
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		fallback.Warn("run log unavailable", logging.Error(err), logging.String(logging.FieldRunID, runID))
		return fallback, noop
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fallback.Warn("run log unavailable", logging.Error(err), logging.String(logging.FieldRunID, runID))
		return fallback, noop
	}

	level := "info"
	format := "json"
	if r.cfg != nil {
		if strings.TrimSpace(r.cfg.Logging.Level) != "" {
			level = r.cfg.Logging.Level
		}
		if strings.TrimSpace(r.cfg.Logging.Format) != "" {
			format = r.cfg.Logging.Format
		}
	}
	// Stage logs go to the run file only, but still reach the stream hub so
	// status can replay them.
	logger, err := logging.New(logging.Options{
		Level:  level,
		Format: format,
		Writer: file,
		Hub:    r.hub,
	})
	if err != nil {
		_ = file.Close()
		fallback.Warn("failed to create run log writer", logging.Error(err), logging.String(logging.FieldRunID, runID))
		return fallback, noop
	}
	return logging.NewComponentLogger(logger, "stage"), func() { _ = file.Close() }
}
