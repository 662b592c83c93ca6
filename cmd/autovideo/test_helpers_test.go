package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"autovideo/internal/checkpoint"
	"autovideo/internal/config"
	"autovideo/internal/daemon"
	"autovideo/internal/preflight"
	"autovideo/internal/stage"
	"autovideo/internal/testsupport"
	"autovideo/internal/workflow"
)

type cliTestEnv struct {
	cfg         *config.Config
	daemon      *daemon.Daemon
	mgr         *workflow.Manager
	configPath  string
	release     chan struct{}
	releaseOnce sync.Once
}

// openGate lets blocked "gate" stages finish.
func (e *cliTestEnv) openGate() {
	e.releaseOnce.Do(func() { close(e.release) })
}

// setupCLITestEnv runs an in-process daemon with an "echo" stage and a
// "gate" stage that blocks until release is closed.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	cfg := testsupport.NewConfig(t, testsupport.WithStages("echo", "gate"))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	release := make(chan struct{})
	registry := stage.NewRegistry()
	registry.Register("echo", func(_ context.Context, in stage.Input, _ stage.Reporter) (any, error) {
		return map[string]string{"input": in.Config.Input}, nil
	})
	registry.Register("gate", func(ctx context.Context, _ stage.Input, _ stage.Reporter) (any, error) {
		select {
		case <-release:
			return map[string]bool{"released": true}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	kv := testsupport.MustOpenKV(t, cfg)
	checkpoints := checkpoint.New(kv, nil)
	runs := testsupport.MustOpenRunStore(t, cfg)
	mgr := workflow.NewManager(cfg, registry, checkpoints, nil, workflow.WithRunStore(runs))
	d, err := daemon.New(cfg, daemon.Deps{
		Workflow:    mgr,
		Checkpoints: checkpoints,
		Runs:        runs,
		Preflight: func(context.Context, *config.Config) []preflight.Result {
			return []preflight.Result{{Name: "stub", Passed: true, Detail: "fine"}}
		},
	}, nil, "")
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	env := &cliTestEnv{cfg: cfg, daemon: d, mgr: mgr, release: release}
	t.Cleanup(func() {
		env.openGate()
		d.Close()
	})

	cfg.Paths.APIBind = d.APIAddress()
	env.configPath = filepath.Join(t.TempDir(), "config.toml")
	writeTestConfig(t, env.configPath, cfg)
	return env
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\nwork_dir = %q\nlog_dir = %q\nstate_dir = %q\napi_bind = %q\n\n[workflow]\nmin_free_disk_mb = 0\n",
		cfg.Paths.WorkDir,
		cfg.Paths.LogDir,
		cfg.Paths.StateDir,
		cfg.Paths.APIBind,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
