package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RetentionTarget selects files under Dir whose names match any of Patterns.
// Paths in Keep are never removed; the daemon lists its live session files
// there.
type RetentionTarget struct {
	Dir      string
	Patterns []string
	Keep     []string
}

// PruneLogs deletes target files last modified before now minus
// retentionDays and returns how many were removed. retentionDays <= 0
// disables pruning.
func PruneLogs(logger *slog.Logger, retentionDays int, now time.Time, targets ...RetentionTarget) int {
	if retentionDays <= 0 {
		return 0
	}
	cutoff := now.AddDate(0, 0, -retentionDays)
	removed := 0
	for _, target := range targets {
		for _, path := range target.expired(cutoff) {
			if err := os.Remove(path); err != nil {
				WarnWithContext(logger, "log retention remove failed", "log_retention_failed",
					String("path", path),
					Error(err),
					String(FieldErrorHint, "check log_dir ownership"),
					String(FieldImpact, "old log file remains on disk"),
				)
				continue
			}
			removed++
		}
	}
	if removed > 0 && logger != nil {
		logger.Info("old logs pruned",
			String(FieldEventType, "logs_pruned"),
			Int("removed", removed),
			Int("retention_days", retentionDays))
	}
	return removed
}

func (t RetentionTarget) expired(cutoff time.Time) []string {
	dir := strings.TrimSpace(t.Dir)
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	keep := make(map[string]struct{}, len(t.Keep))
	for _, path := range t.Keep {
		if abs, err := filepath.Abs(path); err == nil {
			keep[abs] = struct{}{}
		}
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() || !t.matches(entry.Name()) {
			continue
		}
		path, err := filepath.Abs(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		if _, ok := keep[path]; ok {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		out = append(out, path)
	}
	return out
}

func (t RetentionTarget) matches(name string) bool {
	if len(t.Patterns) == 0 {
		return true
	}
	for _, pattern := range t.Patterns {
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}
