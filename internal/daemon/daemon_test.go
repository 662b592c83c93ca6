package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"autovideo/internal/api"
	"autovideo/internal/cache"
	"autovideo/internal/checkpoint"
	"autovideo/internal/config"
	"autovideo/internal/logging"
	"autovideo/internal/preflight"
	"autovideo/internal/services"
	"autovideo/internal/stage"
	"autovideo/internal/testsupport"
	"autovideo/internal/workflow"
)

type fixture struct {
	cfg      *config.Config
	daemon   *Daemon
	registry *stage.Registry
	mgr      *workflow.Manager
	cache    *cache.Cache
	hub      *logging.StreamHub
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithStages("echo")}, opts...)...)
	kv := testsupport.MustOpenKV(t, cfg)
	registry := stage.NewRegistry()
	registry.Register("echo", func(_ context.Context, in stage.Input, report stage.Reporter) (any, error) {
		report.Progress(100, "done")
		return map[string]string{"input": in.Config.Input}, nil
	})
	hub := logging.NewStreamHub(64)
	runs := testsupport.MustOpenRunStore(t, cfg)
	checkpoints := checkpoint.New(kv, nil)
	mgr := workflow.NewManager(cfg, registry, checkpoints, nil, workflow.WithRunStore(runs), workflow.WithLogHub(hub))
	responses := cache.NewFromConfig(cfg, kv, nil)

	d, err := New(cfg, Deps{
		Workflow:    mgr,
		Checkpoints: checkpoints,
		Runs:        runs,
		Cache:       responses,
		Hub:         hub,
		Preflight: func(context.Context, *config.Config) []preflight.Result {
			return []preflight.Result{{Name: "stub", Passed: true}}
		},
	}, nil, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	t.Cleanup(mgr.Shutdown)
	return &fixture{cfg: cfg, daemon: d, registry: registry, mgr: mgr, cache: responses, hub: hub}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	f.daemon.api.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %T: %v (body %s)", out, err, w.Body.String())
	}
	return out
}

func TestDaemonStartStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.daemon.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !f.daemon.Status(ctx).Running {
		t.Fatal("expected daemon to report running")
	}
	if f.daemon.APIAddress() == "" {
		t.Fatal("expected api to be listening")
	}
	if err := f.daemon.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	other, err := New(f.cfg, Deps{Workflow: f.mgr, Checkpoints: f.daemon.deps.Checkpoints}, nil, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := other.Start(ctx); err == nil {
		other.Stop()
		t.Fatal("expected lock contention to block a second daemon")
	}

	f.daemon.Stop()
	status := f.daemon.Status(ctx)
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
	if len(status.Preflight) != 1 || status.Preflight[0].Name != "stub" {
		t.Fatalf("unexpected preflight results: %+v", status.Preflight)
	}
	f.daemon.Stop()
}

func TestNewRequiresWorkflowAndCheckpoints(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := New(cfg, Deps{}, nil, ""); err == nil {
		t.Fatal("expected error without workflow manager")
	}
}

func TestAPIRunLifecycle(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/runs", api.StartRunRequest{ID: "run-1", Input: "hello"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("start: expected 202, got %d: %s", w.Code, w.Body.String())
	}
	started := decodeBody[api.RunResponse](t, w)
	if started.Run.ID != "run-1" {
		t.Fatalf("unexpected run id %q", started.Run.ID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := f.mgr.Wait(ctx, "run-1"); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	w = f.do(t, http.MethodGet, "/api/runs/run-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}
	run := decodeBody[api.RunResponse](t, w).Run
	if run.Status != "completed" {
		t.Fatalf("expected completed, got %q", run.Status)
	}
	var result map[string]string
	if err := json.Unmarshal(run.Results["echo"], &result); err != nil || result["input"] != "hello" {
		t.Fatalf("unexpected echo result %s (err %v)", run.Results["echo"], err)
	}

	w = f.do(t, http.MethodGet, "/api/checkpoints/run-1", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("completed run should drop its checkpoint, got %d", w.Code)
	}

	w = f.do(t, http.MethodGet, "/api/runs", nil)
	list := decodeBody[api.RunListResponse](t, w)
	if len(list.Runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(list.Runs))
	}

	w = f.do(t, http.MethodGet, "/api/status", nil)
	status := decodeBody[api.DaemonStatus](t, w)
	if status.Workflow.RunCounts["completed"] != 1 {
		t.Fatalf("expected one completed run, got %+v", status.Workflow.RunCounts)
	}
}

func TestAPICheckpointAfterFailure(t *testing.T) {
	f := newFixture(t)
	f.registry.Register("boom", func(context.Context, stage.Input, stage.Reporter) (any, error) {
		return nil, services.Wrap(services.ErrValidation, "test", "boom", "bad input", nil)
	})

	w := f.do(t, http.MethodPost, "/api/runs", api.StartRunRequest{ID: "run-2", Stages: []string{"echo", "boom"}, Input: "x"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("start: expected 202, got %d: %s", w.Code, w.Body.String())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := f.mgr.Wait(ctx, "run-2")
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if snap.Status != "failed" {
		t.Fatalf("expected failed run, got %q", snap.Status)
	}

	w = f.do(t, http.MethodGet, "/api/checkpoints/run-2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("checkpoint: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	cp := decodeBody[api.CheckpointResponse](t, w).Checkpoint
	if !cp.Failed || cp.FailedStage != "boom" || cp.NextStage != "boom" || cp.Done {
		t.Fatalf("unexpected checkpoint %+v", cp)
	}
	if len(cp.Completed) != 1 || cp.Completed[0] != "echo" {
		t.Fatalf("expected echo completed, got %v", cp.Completed)
	}
}

func TestAPIErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		kind   string
	}{
		{name: "unknown run", method: http.MethodGet, path: "/api/runs/missing", status: http.StatusNotFound, kind: "not_found"},
		{name: "pause unknown", method: http.MethodPost, path: "/api/runs/missing/pause", status: http.StatusNotFound, kind: "not_found"},
		{name: "missing checkpoint", method: http.MethodGet, path: "/api/checkpoints/missing", status: http.StatusNotFound, kind: "not_found"},
		{name: "unknown stage", method: http.MethodPost, path: "/api/runs", body: api.StartRunRequest{Stages: []string{"nope"}, Input: "x"}, status: http.StatusBadRequest, kind: "validation"},
		{name: "unknown field", method: http.MethodPost, path: "/api/runs", body: map[string]string{"bogus": "1"}, status: http.StatusBadRequest, kind: "validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, tt.method, tt.path, tt.body)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			resp := decodeBody[api.ErrorResponse](t, w)
			if resp.Kind != tt.kind {
				t.Fatalf("expected kind %q, got %q", tt.kind, resp.Kind)
			}
		})
	}

	w := f.do(t, http.MethodDelete, "/api/runs", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for DELETE, got %d", w.Code)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	f := newFixture(t)
	f.cfg.Paths.APIToken = "secret"
	srv := newAPIServer(f.cfg, f.daemon, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if w.Header().Get("WWW-Authenticate") == "" || !strings.Contains(w.Body.String(), `"unauthorized"`) {
		t.Fatalf("unexpected rejection: headers=%v body=%s", w.Header(), w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong token, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", w.Code)
	}
}

func TestAPICacheFlush(t *testing.T) {
	f := newFixture(t)
	f.cache.Put("text", "abc", []byte("payload"), cache.Hint{TTL: time.Hour})

	w := f.do(t, http.MethodPost, "/api/cache/flush", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeBody[api.CacheFlushResponse](t, w)
	if resp.Swept != 0 || resp.Cache.Entries != 1 {
		t.Fatalf("unexpected flush response %+v", resp)
	}
	if resp.Cache.LastFlush == "" {
		t.Fatal("expected last flush time after flush")
	}

	w = f.do(t, http.MethodGet, "/api/cache", nil)
	stats := decodeBody[api.CacheStatus](t, w)
	if stats.Scopes["text"] != 1 {
		t.Fatalf("expected one entry in scope text, got %+v", stats.Scopes)
	}
}

func TestAPILogsFilterByRun(t *testing.T) {
	f := newFixture(t)
	f.hub.Publish(logging.LogEvent{Message: "first", RunID: "a"})
	f.hub.Publish(logging.LogEvent{Message: "second", RunID: "b"})
	f.hub.Publish(logging.LogEvent{Message: "third", RunID: "a"})

	w := f.do(t, http.MethodGet, "/api/logs?run=a", nil)
	resp := decodeBody[api.LogStreamResponse](t, w)
	if len(resp.Events) != 2 {
		t.Fatalf("expected 2 events for run a, got %d", len(resp.Events))
	}
	if resp.Next != 3 {
		t.Fatalf("expected cursor 3, got %d", resp.Next)
	}

	w = f.do(t, http.MethodGet, "/api/logs?since=3", nil)
	resp = decodeBody[api.LogStreamResponse](t, w)
	if len(resp.Events) != 0 || resp.Next != 3 {
		t.Fatalf("expected empty page at cursor 3, got %+v", resp)
	}
}
