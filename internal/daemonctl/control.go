package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"autovideo/internal/api"
	"autovideo/internal/client"
	"autovideo/internal/config"
)

const pollInterval = 200 * time.Millisecond

// ErrDaemonNotRunning indicates the control API is unreachable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// LaunchOptions are forwarded as flags to the detached `daemon` process.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

func (o LaunchOptions) args() []string {
	args := []string{"daemon"}
	if path := strings.TrimSpace(o.ConfigPath); path != "" {
		args = append(args, "--config", path)
	}
	if level := strings.TrimSpace(o.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}
	return args
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

type StartResult struct {
	State    StartState
	Launched bool
	PID      int
}

type StopResult struct {
	StopAcknowledged bool
	ForcedKill       bool
	PID              int
}

type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

// NewClient returns an API client for the daemon described by cfg.
func NewClient(cfg *config.Config) (*client.Client, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	return client.New(cfg.Paths.APIBind, client.WithToken(cfg.Paths.APIToken))
}

// Controller drives the daemon lifecycle for one configuration. Liveness is
// always judged by the HTTP control API, never by the PID file alone.
type Controller struct {
	cfg *config.Config
	api *client.Client
}

// NewController binds a controller to cfg.
func NewController(cfg *config.Config) (*Controller, error) {
	c, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Controller{cfg: cfg, api: c}, nil
}

// Probe reports whether the daemon answers and the PID it reports. An
// unreachable API is not an error.
func (c *Controller) Probe(ctx context.Context) (bool, int, error) {
	status, err := c.api.Status(ctx)
	switch {
	case client.IsUnavailable(err):
		return false, 0, nil
	case err != nil:
		return false, 0, err
	}
	return status.Running, status.PID, nil
}

// Start launches a detached daemon unless one already answers, then waits up
// to wait for it to report running.
func (c *Controller) Start(ctx context.Context, executable string, opts LaunchOptions, wait time.Duration) (StartResult, error) {
	running, pid, err := c.Probe(ctx)
	if err != nil {
		return StartResult{}, err
	}
	if running {
		return StartResult{State: StartStateAlreadyRunning, PID: pid}, nil
	}
	if err := launch(executable, opts); err != nil {
		return StartResult{}, err
	}

	var started *api.DaemonStatus
	err = pollUntil(ctx, wait, func() (bool, error) {
		status, err := c.api.Status(ctx)
		if err != nil || !status.Running {
			return false, err
		}
		started = status
		return true, nil
	})
	if err != nil {
		return StartResult{}, fmt.Errorf("daemon failed to start: %w", err)
	}
	return StartResult{State: StartStateStarted, Launched: true, PID: started.PID}, nil
}

// Stop sends SIGTERM so the daemon can interrupt its active run and persist
// checkpoints, then SIGKILLs it when it outlives grace.
func (c *Controller) Stop(ctx context.Context, grace time.Duration) (StopResult, error) {
	running, pid, err := c.Probe(ctx)
	if err != nil {
		return StopResult{}, err
	}
	if !running {
		return StopResult{}, ErrDaemonNotRunning
	}
	if pid == 0 {
		pid, _ = ReadPID(c.cfg.PIDPath())
	}
	if err := signalProcess(pid, unix.SIGTERM); err != nil {
		return StopResult{}, err
	}
	result := StopResult{StopAcknowledged: true, PID: pid}

	gone := pollUntil(ctx, grace, func() (bool, error) {
		alive, _, err := c.Probe(ctx)
		return err == nil && !alive, nil
	})
	if gone == nil {
		return result, nil
	}
	killed, err := ForceKillProcess(c.cfg.PIDPath(), c.cfg.LockPath(), pid)
	if err != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", err)
	}
	result.ForcedKill = true
	result.PID = killed
	return result, nil
}

// Restart stops a running daemon, if any, and starts a fresh one.
func (c *Controller) Restart(ctx context.Context, executable string, opts LaunchOptions, grace, wait time.Duration) (RestartResult, error) {
	stopped, err := c.Stop(ctx, grace)
	wasRunning := err == nil
	if err != nil && !errors.Is(err, ErrDaemonNotRunning) {
		return RestartResult{}, err
	}
	started, err := c.Start(ctx, executable, opts, wait)
	if err != nil {
		return RestartResult{}, err
	}
	return RestartResult{WasRunning: wasRunning, Stop: stopped, Start: started}, nil
}

func launch(executable string, opts LaunchOptions) error {
	if strings.TrimSpace(executable) == "" {
		return errors.New("resolve executable: executable path is empty")
	}
	proc := exec.Command(executable, opts.args()...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// pollUntil calls check every pollInterval until it reports done, ctx ends or
// timeout passes. The last check error is kept for the timeout message.
func pollUntil(ctx context.Context, timeout time.Duration, check func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		done, err := check()
		if done {
			return nil
		}
		if err != nil {
			lastErr = err
		}
		if !time.Now().Before(deadline) {
			if lastErr != nil {
				return lastErr
			}
			return fmt.Errorf("timed out after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
