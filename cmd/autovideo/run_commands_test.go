package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"autovideo/internal/api"
)

func TestRunStartPauseResumeCycle(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"run", "start", "--id", "cli-1", "--input", "hello"}, env.configPath)
	if err != nil {
		t.Fatalf("run start: %v", err)
	}
	requireContains(t, out, "Run cli-1 processing")

	waitFor(t, 5*time.Second, func() bool {
		snap, err := env.mgr.Status(context.Background(), "cli-1")
		return err == nil && snap.CurrentStage == "gate"
	})

	out, _, err = runCLI(t, []string{"run", "pause", "cli-1"}, env.configPath)
	if err != nil {
		t.Fatalf("run pause: %v", err)
	}
	requireContains(t, out, "paused")

	out, _, err = runCLI(t, []string{"run", "resume", "cli-1"}, env.configPath)
	if err != nil {
		t.Fatalf("run resume: %v", err)
	}
	requireContains(t, out, "processing")

	env.openGate()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := env.mgr.Wait(ctx, "cli-1"); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	out, _, err = runCLI(t, []string{"run", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("run list: %v", err)
	}
	requireContains(t, out, "cli-1")
	requireContains(t, out, "completed")

	out, _, err = runCLI(t, []string{"--json", "run", "show", "cli-1"}, env.configPath)
	if err != nil {
		t.Fatalf("run show: %v", err)
	}
	var run api.Run
	if err := json.Unmarshal([]byte(out), &run); err != nil {
		t.Fatalf("decode run json: %v", err)
	}
	if run.Status != "completed" || len(run.Completed) != 2 {
		t.Fatalf("unexpected run %+v", run)
	}
}

func TestRunCancelKeepsCheckpoint(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, _, err := runCLI(t, []string{"run", "start", "--id", "cli-2", "--input", "x"}, env.configPath); err != nil {
		t.Fatalf("run start: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool {
		snap, err := env.mgr.Status(context.Background(), "cli-2")
		return err == nil && snap.CurrentStage == "gate"
	})

	out, _, err := runCLI(t, []string{"run", "cancel", "cli-2"}, env.configPath)
	if err != nil {
		t.Fatalf("run cancel: %v", err)
	}
	requireContains(t, out, "Run cli-2")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := env.mgr.Wait(ctx, "cli-2")
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if snap.Status != "cancelled" {
		t.Fatalf("expected cancelled, got %s", snap.Status)
	}

	out, _, err = runCLI(t, []string{"checkpoint", "show", "cli-2"}, env.configPath)
	if err != nil {
		t.Fatalf("checkpoint show: %v", err)
	}
	requireContains(t, out, "echo")
	requireContains(t, out, "gate")
}

func TestRunControlUnknownRun(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"run", "pause", "nope"}, env.configPath)
	if err == nil {
		t.Fatal("expected error pausing an unknown run")
	}
	requireContains(t, err.Error(), "pause nope")
}

func TestParseSettings(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]map[string]string
		wantErr bool
	}{
		{name: "empty", pairs: nil, want: nil},
		{
			name:  "two stages",
			pairs: []string{"script_generation.paragraphs=6", "speech_synthesis.voice=alloy", "script_generation.model=x=y"},
			want: map[string]map[string]string{
				"script_generation": {"paragraphs": "6", "model": "x=y"},
				"speech_synthesis":  {"voice": "alloy"},
			},
		},
		{name: "missing dot", pairs: []string{"paragraphs=6"}, wantErr: true},
		{name: "missing value separator", pairs: []string{"a.b"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSettings(tt.pairs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseSettings error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for stageName, opts := range tt.want {
				for k, v := range opts {
					if got[stageName][k] != v {
						t.Fatalf("%s.%s = %q, want %q", stageName, k, got[stageName][k], v)
					}
				}
			}
		})
	}
}

func TestStatusAndCacheCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Running (pid")
	requireContains(t, out, "stub")

	out, _, err = runCLI(t, []string{"cache", "flush"}, env.configPath)
	if err != nil {
		t.Fatalf("cache flush: %v", err)
	}
	requireContains(t, out, "Swept 0 expired entries")
}
