package workflow_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"autovideo/internal/checkpoint"
	"autovideo/internal/config"
	"autovideo/internal/kvstore"
	"autovideo/internal/runstore"
	"autovideo/internal/stage"
	"autovideo/internal/testsupport"
	"autovideo/internal/workflow"
)

type harness struct {
	cfg         *config.Config
	registry    *stage.Registry
	checkpoints *checkpoint.Store
	runs        *runstore.Store
	mgr         *workflow.Manager

	mu    sync.Mutex
	calls map[string]int
}

func newHarness(t *testing.T, stages ...string) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithStages(stages...))
	kv, err := kvstore.NewFileStore(cfg.Paths.StateDir)
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	h := &harness{
		cfg:         cfg,
		registry:    stage.NewRegistry(),
		checkpoints: checkpoint.New(kv, nil),
		runs:        testsupport.MustOpenRunStore(t, cfg),
		calls:       make(map[string]int),
	}
	for _, name := range stages {
		h.register(name, echoStage(name))
	}
	h.mgr = h.newManager()
	t.Cleanup(h.mgr.Shutdown)
	return h
}

func (h *harness) newManager() *workflow.Manager {
	return workflow.NewManager(h.cfg, h.registry, h.checkpoints, nil, workflow.WithRunStore(h.runs))
}

// register wraps fn so calls are counted per stage.
func (h *harness) register(name string, fn stage.Func) {
	h.registry.Register(name, func(ctx context.Context, in stage.Input, report stage.Reporter) (any, error) {
		h.mu.Lock()
		h.calls[name]++
		h.mu.Unlock()
		return fn(ctx, in, report)
	})
}

func (h *harness) callCount(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[name]
}

type echoResult struct {
	Stage string   `json:"stage"`
	Seen  []string `json:"seen"`
}

// echoStage records which earlier results it could see.
func echoStage(name string) stage.Func {
	return func(_ context.Context, in stage.Input, report stage.Reporter) (any, error) {
		report.Progress(50, "halfway")
		seen := make([]string, 0, len(in.Results))
		for prior := range in.Results {
			seen = append(seen, prior)
		}
		return echoResult{Stage: name, Seen: seen}, nil
	}
}

// blockingStage signals entered and then waits for release or ctx.
func blockingStage(entered chan<- struct{}, release <-chan struct{}) stage.Func {
	return func(ctx context.Context, in stage.Input, _ stage.Reporter) (any, error) {
		close(entered)
		select {
		case <-release:
			return map[string]string{"stage": in.Stage}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitDone(t *testing.T, mgr *workflow.Manager, id string) workflow.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := mgr.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait(%s): %v", id, err)
	}
	return snap
}

func decodeEcho(t *testing.T, raw json.RawMessage) echoResult {
	t.Helper()
	var out echoResult
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	return out
}

func startRequest() workflow.StartRequest {
	return workflow.StartRequest{Config: workflow.RunConfig{Input: "some source text"}}
}
