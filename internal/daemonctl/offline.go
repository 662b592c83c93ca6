package daemonctl

import (
	"context"
	"time"

	"autovideo/internal/api"
	"autovideo/internal/client"
	"autovideo/internal/preflight"
	"autovideo/internal/runstore"
)

const offlineQueryTimeout = 2 * time.Second

// Status returns the live daemon status. When the daemon is down it builds an
// offline view from run history and local preflight checks instead.
func (c *Controller) Status(ctx context.Context) (*api.DaemonStatus, error) {
	status, err := c.api.Status(ctx)
	if err == nil {
		return status, nil
	}
	if !client.IsUnavailable(err) {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, offlineQueryTimeout)
	defer cancel()
	offline := &api.DaemonStatus{
		LockFilePath: c.cfg.LockPath(),
		Storage:      c.cfg.Storage.Backend,
		Workflow:     api.WorkflowStatus{RunCounts: map[string]int{}},
		Providers:    []api.ProviderStatus{},
		Preflight:    api.FromPreflight(preflight.RunAll(ctx, c.cfg)),
	}
	if store, err := runstore.Open(c.cfg); err == nil {
		offline.RunsDBPath = store.Path()
		countRuns(ctx, store, offline.Workflow.RunCounts)
		_ = store.Close()
	}
	return offline, nil
}

// countRuns tallies persisted runs by status into counts. An unreadable
// history leaves counts untouched.
func countRuns(ctx context.Context, store *runstore.Store, counts map[string]int) {
	records, err := store.List(ctx)
	if err != nil {
		return
	}
	for _, rec := range records {
		counts[string(rec.Status)]++
	}
}
