package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"autovideo/internal/cache"
	"autovideo/internal/checkpoint"
	"autovideo/internal/config"
	"autovideo/internal/keypool"
	"autovideo/internal/logging"
	"autovideo/internal/preflight"
	"autovideo/internal/ratelimit"
	"autovideo/internal/runstore"
	"autovideo/internal/workflow"
)

// Deps bundles the components the daemon coordinates. Workflow and
// Checkpoints are required; the rest are optional.
type Deps struct {
	Workflow    *workflow.Manager
	Checkpoints *checkpoint.Store
	Runs        *runstore.Store
	Cache       *cache.Cache
	Keys        *keypool.Registry
	Limits      *ratelimit.Registry
	Hub         *logging.StreamHub
	Archive     *logging.EventArchive
	// Preflight overrides preflight.RunAll, mainly for tests.
	Preflight func(context.Context, *config.Config) []preflight.Result
}

// Daemon coordinates the background services and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	deps    Deps
	logPath string

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	mu        sync.Mutex
	running   atomic.Bool
	cancel    context.CancelFunc
	flusherWG sync.WaitGroup
	checks    []preflight.Result
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	LockFilePath string
	LogPath      string
	RunsDBPath   string
	Workflow     workflow.StatusSummary
	Cache        cache.Stats
	Keys         []keypool.Snapshot
	Limits       []ratelimit.ProviderStatus
	Preflight    []preflight.Result
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, deps Deps, logger *slog.Logger, logPath string) (*Daemon, error) {
	if cfg == nil || deps.Workflow == nil || deps.Checkpoints == nil {
		return nil, errors.New("daemon requires config, workflow manager, and checkpoint store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if deps.Preflight == nil {
		deps.Preflight = preflight.RunAll
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		deps:     deps,
		logPath:  logPath,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, recovers state left by a previous process
// and starts the cache flusher and the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another autovideo daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.reclaimInterrupted(runCtx)
	d.startCache(runCtx)
	d.checks = d.deps.Preflight(runCtx, d.cfg)
	d.logPreflight(d.checks)

	if err := d.api.start(runCtx); err != nil {
		cancel()
		d.flusherWG.Wait()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("autovideo daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.address()))
	return nil
}

// Stop interrupts the active run, flushes the cache and releases the lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	d.api.stop()
	d.deps.Workflow.Shutdown()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.flusherWG.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("autovideo daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// Running reports whether Start succeeded and Stop has not run.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// APIAddress returns the bound HTTP address, or "" when the API is off.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockFilePath: d.lockPath,
		LogPath:      d.logPath,
		Workflow:     d.deps.Workflow.Summary(ctx),
		Keys:         d.deps.Keys.Snapshots(),
		Limits:       d.deps.Limits.Snapshots(),
	}
	if d.deps.Runs != nil {
		status.RunsDBPath = d.deps.Runs.Path()
	}
	if d.deps.Cache != nil {
		status.Cache = d.deps.Cache.Stats()
	}
	d.mu.Lock()
	status.Preflight = append([]preflight.Result(nil), d.checks...)
	d.mu.Unlock()
	return status
}

// FlushCache sweeps expired entries and persists the cache document.
func (d *Daemon) FlushCache(ctx context.Context) (int, error) {
	if d.deps.Cache == nil {
		return 0, nil
	}
	swept := d.deps.Cache.Sweep()
	return swept, d.deps.Cache.Flush(ctx)
}

func (d *Daemon) reclaimInterrupted(ctx context.Context) {
	if d.deps.Runs == nil {
		return
	}
	reclaimed, err := d.deps.Runs.ReclaimInterrupted(ctx)
	if err != nil {
		logging.WarnWithContext(d.logger, "failed to reclaim interrupted runs", "runs_reclaim_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "runs from a previous process may still report processing"),
			logging.String(logging.FieldErrorHint, "check state_dir permissions"),
		)
		return
	}
	if reclaimed > 0 {
		d.logger.Info("marked interrupted runs",
			logging.String(logging.FieldEventType, "runs_reclaimed"),
			logging.Int64("count", reclaimed))
	}
}

func (d *Daemon) startCache(ctx context.Context) {
	c := d.deps.Cache
	if c == nil {
		return
	}
	if err := c.Load(ctx); err != nil {
		logging.WarnWithContext(d.logger, "cache document not loaded", "cache_load_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "cache starts empty"),
		)
	}
	interval := time.Duration(d.cfg.Cache.FlushIntervalSeconds) * time.Second
	d.flusherWG.Add(1)
	go func() {
		defer d.flusherWG.Done()
		c.RunFlusher(ctx, interval)
	}()
}

func (d *Daemon) logPreflight(results []preflight.Result) {
	for _, r := range preflight.Failed(results) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldImpact, "runs that depend on this may fail"),
		)
	}
	d.logger.Info("preflight complete",
		logging.String(logging.FieldEventType, "preflight_complete"),
		logging.Int("checks", len(results)),
		logging.Int("failed", len(preflight.Failed(results))))
}
