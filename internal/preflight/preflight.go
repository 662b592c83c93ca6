package preflight

import (
	"context"
	"strings"

	"autovideo/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes every preflight check for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
	}
	if cfg.Workflow.MinFreeDiskMB > 0 {
		results = append(results, CheckFreeSpace("Work disk space", cfg.Paths.WorkDir, cfg.Workflow.MinFreeDiskMB))
	}
	results = append(results, CheckProviders(cfg)...)
	results = append(results, CheckStorage(ctx, cfg))
	return results
}

// Failed returns the checks that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// Summary joins failed checks into one line for error messages.
func Summary(results []Result) string {
	parts := make([]string, 0, len(results))
	for _, r := range Failed(results) {
		parts = append(parts, r.Name+": "+r.Detail)
	}
	return strings.Join(parts, "; ")
}
