package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"autovideo/internal/checkpoint"
	"autovideo/internal/config"
	"autovideo/internal/logging"
	"autovideo/internal/notifications"
	"autovideo/internal/runstore"
	"autovideo/internal/stage"
)

// Manager coordinates pipeline runs using registered stage functions.
type Manager struct {
	cfg          *config.Config
	stages       *stage.Registry
	checkpoints  *checkpoint.Store
	runs         *runstore.Store
	hub          *logging.StreamHub
	notifier     notifications.Service
	logger       *slog.Logger
	runLogs      *RunLogger
	pollInterval time.Duration
	now          func() time.Time

	baseCtx  context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup

	mu      sync.RWMutex
	active  *Run
	known   map[string]*Run
	lastErr error
	closed  bool
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithRunStore mirrors run transitions into store.
func WithRunStore(store *runstore.Store) ManagerOption {
	return func(m *Manager) { m.runs = store }
}

// WithLogHub attaches the hub used for per-run log replay and per-run log
// files.
func WithLogHub(hub *logging.StreamHub) ManagerOption {
	return func(m *Manager) { m.hub = hub }
}

// WithNotifier publishes completed and failed runs through svc.
func WithNotifier(svc notifications.Service) ManagerOption {
	return func(m *Manager) { m.notifier = svc }
}

// WithClock overrides the manager's time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager constructs a workflow manager. checkpoints may be nil, which
// disables resume entirely.
func NewManager(cfg *config.Config, stages *stage.Registry, checkpoints *checkpoint.Store, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	if stages == nil {
		stages = stage.NewRegistry()
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:          cfg,
		stages:       stages,
		checkpoints:  checkpoints,
		logger:       logging.NewComponentLogger(logger, "workflow"),
		pollInterval: cfg.PauseInterval(),
		now:          time.Now,
		baseCtx:      baseCtx,
		shutdown:     cancel,
		known:        make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.pollInterval <= 0 {
		m.pollInterval = 500 * time.Millisecond
	}
	m.runLogs = NewRunLogger(cfg, m.hub)
	return m
}

// notify publishes event for run. Delivery failures only warn.
func (m *Manager) notify(ctx context.Context, run *Run, event notifications.Event, payload notifications.Payload) {
	if m.notifier == nil {
		return
	}
	if payload == nil {
		payload = notifications.Payload{}
	}
	payload["runID"] = run.ID
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := m.notifier.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(m.runLogger(run.ID), "notification failed", "notification_failed",
			logging.Error(err),
			logging.String("event", string(event)),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}

// Shutdown interrupts every active run and waits for the run goroutines to
// unwind. Interrupted runs keep their checkpoints and end cancelled with
// reason "interrupted".
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.shutdown()
	m.wg.Wait()
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}
