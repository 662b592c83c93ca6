package daemonctl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"testing"
	"time"

	"autovideo/internal/testsupport"
)

func TestReadPID(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		write   bool
		want    int
		wantErr bool
	}{
		{name: "missing", write: false, want: 0},
		{name: "valid", content: "1234\n", write: true, want: 1234},
		{name: "garbage", content: "abc", write: true, wantErr: true},
		{name: "negative", content: "-5", write: true, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".pid")
			if tt.write {
				if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
					t.Fatalf("write: %v", err)
				}
			}
			got, err := ReadPID(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ReadPID error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("ReadPID = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWritePIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autovideo.pid")
	if err := WritePIDFile(path); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}
	got, err := ReadPID(path)
	if err != nil || got != os.Getpid() {
		t.Fatalf("expected pid %d, got %d (err %v)", os.Getpid(), got, err)
	}
}

func TestForceKillRefusesCurrentProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autovideo.pid")
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ForceKillProcess(path, "", 0); err == nil {
		t.Fatal("expected refusal to kill the current process")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("pid file should be left in place: %v", err)
	}
}

func TestLaunchOptionsArgs(t *testing.T) {
	tests := []struct {
		name string
		opts LaunchOptions
		want []string
	}{
		{name: "bare", want: []string{"daemon"}},
		{name: "config", opts: LaunchOptions{ConfigPath: " /etc/av.toml "}, want: []string{"daemon", "--config", "/etc/av.toml"}},
		{name: "both", opts: LaunchOptions{ConfigPath: "c.toml", LogLevel: "debug"}, want: []string{"daemon", "--config", "c.toml", "--log-level", "debug"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.opts.args(); !slices.Equal(got, tt.want) {
				t.Fatalf("args = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPollUntil(t *testing.T) {
	calls := 0
	err := pollUntil(context.Background(), time.Second, func() (bool, error) {
		calls++
		return calls == 2, nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("expected success on second check, got err=%v calls=%d", err, calls)
	}

	sentinel := errors.New("still booting")
	err = pollUntil(context.Background(), 0, func() (bool, error) { return false, sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected last check error on timeout, got %v", err)
	}
}

func TestOfflineStatusAndStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	// Port 1 on loopback is never served in tests.
	cfg.Paths.APIBind = "127.0.0.1:1"
	ctx := context.Background()

	ctl, err := NewController(cfg)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	running, pid, err := ctl.Probe(ctx)
	if err != nil || running || pid != 0 {
		t.Fatalf("expected daemon offline, got running=%v pid=%d err=%v", running, pid, err)
	}

	status, err := ctl.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Running {
		t.Fatal("offline snapshot must not report running")
	}
	if status.LockFilePath != cfg.LockPath() {
		t.Fatalf("unexpected lock path %q", status.LockFilePath)
	}
	if len(status.Preflight) == 0 {
		t.Fatal("expected offline preflight checks")
	}

	if _, err := ctl.Stop(ctx, 0); !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}
