package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"autovideo/internal/checkpoint"
	"autovideo/internal/notifications"
	"autovideo/internal/runstore"
	"autovideo/internal/services"
	"autovideo/internal/stage"
	"autovideo/internal/workflow"
)

var threeStages = []string{"extraction", "title_generation", "premise_generation"}

func TestRunCompletesAllStages(t *testing.T) {
	h := newHarness(t, threeStages...)
	ctx := context.Background()

	started, err := h.mgr.Start(ctx, startRequest())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if started.Status != runstore.StatusProcessing || started.ID == "" {
		t.Fatalf("unexpected start snapshot %+v", started)
	}

	final := waitDone(t, h.mgr, started.ID)
	if final.Status != runstore.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", final.Status, final.Error)
	}
	if len(final.Results) != 3 || len(final.Completed) != 3 {
		t.Fatalf("unexpected results %+v", final)
	}
	for _, name := range threeStages {
		if final.Progress[name] != 100 {
			t.Fatalf("progress[%s] = %v", name, final.Progress[name])
		}
	}
	if seen := decodeEcho(t, final.Results["premise_generation"]).Seen; len(seen) != 2 {
		t.Fatalf("third stage should see two prior results, saw %v", seen)
	}
	if has, _ := h.checkpoints.Has(ctx, started.ID); has {
		t.Fatal("completed run must not leave a checkpoint")
	}
	rec, err := h.runs.Get(ctx, started.ID)
	if err != nil || rec == nil || rec.Status != runstore.StatusCompleted || rec.FinishedAt == nil {
		t.Fatalf("run history not updated: %+v %v", rec, err)
	}
}

func TestResumeSkipsCompletedStages(t *testing.T) {
	h := newHarness(t, threeStages...)
	ctx := context.Background()

	_, err := h.checkpoints.Save(ctx, checkpoint.Snapshot{
		PipelineID: "resume-me",
		Stage:      "title_generation",
		Completed:  []string{"extraction", "title_generation"},
		Results: map[string]json.RawMessage{
			"extraction":       json.RawMessage(`{"stage":"extraction","seen":[]}`),
			"title_generation": json.RawMessage(`{"stage":"title_generation","seen":["extraction"]}`),
		},
		Config: workflow.RunConfig{Input: "stored input"},
	})
	if err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	started, err := h.mgr.Start(ctx, workflow.StartRequest{ID: "resume-me"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if started.ResumedFrom != "title_generation" || started.CurrentStage != "premise_generation" {
		t.Fatalf("unexpected resume snapshot %+v", started)
	}

	final := waitDone(t, h.mgr, "resume-me")
	if final.Status != runstore.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", final.Status, final.Error)
	}
	if h.callCount("extraction") != 0 || h.callCount("title_generation") != 0 {
		t.Fatal("completed stages must not re-run")
	}
	if h.callCount("premise_generation") != 1 {
		t.Fatalf("premise_generation ran %d times", h.callCount("premise_generation"))
	}
	if got := decodeEcho(t, final.Results["title_generation"]).Seen; len(got) != 1 || got[0] != "extraction" {
		t.Fatalf("restored result altered: %v", got)
	}
	if seen := decodeEcho(t, final.Results["premise_generation"]).Seen; len(seen) != 2 {
		t.Fatalf("resumed stage should see restored results, saw %v", seen)
	}
}

func TestFailureWritesFailedCheckpointAndRestartResumes(t *testing.T) {
	h := newHarness(t, threeStages...)
	ctx := context.Background()

	boom := errors.New("provider said no")
	h.register("title_generation", func(context.Context, stage.Input, stage.Reporter) (any, error) {
		return nil, boom
	})

	started, err := h.mgr.Start(ctx, workflow.StartRequest{ID: "flaky"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	final := waitDone(t, h.mgr, started.ID)
	if final.Status != runstore.StatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if !strings.Contains(final.Error, "provider said no") {
		t.Fatalf("error message %q should carry the cause", final.Error)
	}

	record, ok, err := h.checkpoints.Load(ctx, "flaky")
	if err != nil || !ok {
		t.Fatalf("failure checkpoint missing: ok=%v err=%v", ok, err)
	}
	if !record.Failed() || record.FailedStage() != "title_generation" {
		t.Fatalf("unexpected failure checkpoint stage %q", record.Stage)
	}
	if len(record.Completed) != 1 || record.Completed[0] != "extraction" {
		t.Fatalf("failure checkpoint completed = %v", record.Completed)
	}

	h.register("title_generation", echoStage("title_generation"))
	if _, err := h.mgr.Start(ctx, workflow.StartRequest{ID: "flaky"}); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	final = waitDone(t, h.mgr, "flaky")
	if final.Status != runstore.StatusCompleted {
		t.Fatalf("expected completed after restart, got %s (%s)", final.Status, final.Error)
	}
	if h.callCount("extraction") != 1 {
		t.Fatalf("extraction ran %d times, want 1", h.callCount("extraction"))
	}
	if h.callCount("title_generation") != 2 {
		t.Fatalf("title_generation ran %d times, want 2", h.callCount("title_generation"))
	}
}

func TestPauseHoldsNextStageUntilResume(t *testing.T) {
	h := newHarness(t, threeStages...)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	h.register("extraction", blockingStage(entered, release))

	started, err := h.mgr.Start(ctx, startRequest())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-entered

	paused, err := h.mgr.Pause(ctx, started.ID)
	if err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if paused.Status != runstore.StatusPaused {
		t.Fatalf("expected paused, got %s", paused.Status)
	}
	close(release)

	waitFor(t, "extraction to commit", func() bool {
		snap, err := h.mgr.Status(ctx, started.ID)
		return err == nil && len(snap.Completed) == 1
	})
	time.Sleep(50 * time.Millisecond)
	if h.callCount("title_generation") != 0 {
		t.Fatal("next stage started while paused")
	}
	if has, _ := h.checkpoints.Has(ctx, started.ID); !has {
		t.Fatal("expected a checkpoint after the first stage")
	}

	if _, err := h.mgr.Resume(ctx, started.ID); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	final := waitDone(t, h.mgr, started.ID)
	if final.Status != runstore.StatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
}

func TestCancelWhilePausedKeepsCheckpoint(t *testing.T) {
	h := newHarness(t, threeStages...)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	h.register("extraction", blockingStage(entered, release))

	started, err := h.mgr.Start(ctx, startRequest())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-entered
	if _, err := h.mgr.Pause(ctx, started.ID); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	close(release)
	waitFor(t, "extraction to commit", func() bool {
		snap, err := h.mgr.Status(ctx, started.ID)
		return err == nil && len(snap.Completed) == 1
	})

	if _, err := h.mgr.Cancel(ctx, started.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	final := waitDone(t, h.mgr, started.ID)
	if final.Status != runstore.StatusCancelled || final.Reason != runstore.UserCancelReason {
		t.Fatalf("expected user cancel, got %s (%s)", final.Status, final.Reason)
	}
	if h.callCount("title_generation") != 0 {
		t.Fatal("cancelled run must not start further stages")
	}
	record, ok, err := h.checkpoints.Load(ctx, started.ID)
	if err != nil || !ok {
		t.Fatalf("checkpoint should survive cancel: ok=%v err=%v", ok, err)
	}
	if record.Stage != "extraction" {
		t.Fatalf("checkpoint stage = %q", record.Stage)
	}
}

func TestCancelObservedInsideStage(t *testing.T) {
	h := newHarness(t, threeStages...)
	ctx := context.Background()

	entered := make(chan struct{})
	h.register("extraction", func(ctx context.Context, in stage.Input, report stage.Reporter) (any, error) {
		close(entered)
		for i := 0; ; i++ {
			if err := in.Pause(ctx); err != nil {
				return nil, err
			}
			report.Progress(float64(i%100), "segment")
			time.Sleep(2 * time.Millisecond)
		}
	})

	started, err := h.mgr.Start(ctx, startRequest())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-entered
	if _, err := h.mgr.Cancel(ctx, started.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	final := waitDone(t, h.mgr, started.ID)
	if final.Status != runstore.StatusCancelled || final.Reason != runstore.UserCancelReason {
		t.Fatalf("expected user cancel, got %s (%s)", final.Status, final.Reason)
	}
	if len(final.Completed) != 0 {
		t.Fatalf("no stage should complete, got %v", final.Completed)
	}
}

func TestCancelInterruptsBlockingWait(t *testing.T) {
	h := newHarness(t, threeStages...)
	ctx := context.Background()

	entered := make(chan struct{})
	cause := make(chan error, 1)
	h.register("extraction", func(ctx context.Context, _ stage.Input, _ stage.Reporter) (any, error) {
		close(entered)
		select {
		case <-time.After(time.Hour):
			return map[string]string{}, nil
		case <-ctx.Done():
			cause <- context.Cause(ctx)
			return nil, ctx.Err()
		}
	})

	started, err := h.mgr.Start(ctx, startRequest())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-entered
	if _, err := h.mgr.Cancel(ctx, started.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	final := waitDone(t, h.mgr, started.ID)
	if final.Status != runstore.StatusCancelled || final.Reason != runstore.UserCancelReason {
		t.Fatalf("expected user cancel, got %s (%s)", final.Status, final.Reason)
	}
	if got := <-cause; !errors.Is(got, workflow.ErrCancelled) {
		t.Fatalf("stage context cause = %v, want ErrCancelled", got)
	}
	if h.callCount("title_generation") != 0 {
		t.Fatal("no further stage may run after cancel")
	}
}

func TestAdmissionRejectsSecondRun(t *testing.T) {
	h := newHarness(t, threeStages...)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	h.register("extraction", blockingStage(entered, release))

	started, err := h.mgr.Start(ctx, startRequest())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-entered

	if _, err := h.mgr.Start(ctx, startRequest()); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if got := services.HTTPStatus(err); got != 409 {
		t.Fatalf("conflict should map to 409, got %d", got)
	}
	if active, ok := h.mgr.ActiveRun(); !ok || active != started.ID {
		t.Fatalf("ActiveRun = %q %v", active, ok)
	}

	close(release)
	waitDone(t, h.mgr, started.ID)
	if _, ok := h.mgr.ActiveRun(); ok {
		t.Fatal("no run should be active after completion")
	}
	second, err := h.mgr.Start(ctx, startRequest())
	if err != nil {
		t.Fatalf("Start after completion failed: %v", err)
	}
	waitDone(t, h.mgr, second.ID)
}

func TestShutdownInterruptsActiveRun(t *testing.T) {
	h := newHarness(t, threeStages...)
	ctx := context.Background()

	entered := make(chan struct{})
	h.register("title_generation", blockingStage(entered, make(chan struct{})))

	started, err := h.mgr.Start(ctx, startRequest())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-entered
	h.mgr.Shutdown()

	final := waitDone(t, h.mgr, started.ID)
	if final.Status != runstore.StatusCancelled || final.Reason != runstore.InterruptedReason {
		t.Fatalf("expected interrupted, got %s (%s)", final.Status, final.Reason)
	}
	record, ok, err := h.checkpoints.Load(ctx, started.ID)
	if err != nil || !ok {
		t.Fatalf("checkpoint should survive shutdown: ok=%v err=%v", ok, err)
	}
	if record.Failed() {
		t.Fatal("interruption must not write a failure checkpoint")
	}
	if _, err := h.mgr.Start(ctx, startRequest()); !errors.Is(err, services.ErrUnavailable) {
		t.Fatalf("Start after shutdown should be unavailable, got %v", err)
	}
}

func TestStartValidation(t *testing.T) {
	h := newHarness(t, threeStages...)
	ctx := context.Background()

	tests := []struct {
		name string
		req  workflow.StartRequest
	}{
		{name: "unknown stage", req: workflow.StartRequest{Stages: []string{"extraction", "interpretive_dance"}}},
		{name: "id with separator", req: workflow.StartRequest{ID: "../escape"}},
		{name: "id with space", req: workflow.StartRequest{ID: "two words"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.mgr.Start(ctx, tt.req); !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
	if _, ok := h.mgr.ActiveRun(); ok {
		t.Fatal("rejected starts must not leave an active run")
	}
}

func TestControlErrors(t *testing.T) {
	h := newHarness(t, threeStages...)
	ctx := context.Background()

	if _, err := h.mgr.Status(ctx, "nope"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("Status of unknown run: %v", err)
	}
	if _, err := h.mgr.Pause(ctx, "nope"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("Pause of unknown run: %v", err)
	}

	started, err := h.mgr.Start(ctx, startRequest())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitDone(t, h.mgr, started.ID)

	if _, err := h.mgr.Pause(ctx, started.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("Pause of completed run: %v", err)
	}
	if _, err := h.mgr.Resume(ctx, started.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("Resume of completed run: %v", err)
	}
	if _, err := h.mgr.Cancel(ctx, started.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("Cancel of completed run: %v", err)
	}
}

func TestHistorySurvivesManagerRestart(t *testing.T) {
	h := newHarness(t, threeStages...)
	ctx := context.Background()

	started, err := h.mgr.Start(ctx, startRequest())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitDone(t, h.mgr, started.ID)
	h.mgr.Shutdown()

	fresh := h.newManager()
	t.Cleanup(fresh.Shutdown)

	snap, err := fresh.Status(ctx, started.ID)
	if err != nil {
		t.Fatalf("Status from history failed: %v", err)
	}
	if snap.Status != runstore.StatusCompleted || len(snap.Stages) != 3 {
		t.Fatalf("unexpected history snapshot %+v", snap)
	}
	list, err := fresh.List(ctx)
	if err != nil || len(list) != 1 || list[0].ID != started.ID {
		t.Fatalf("List = %+v, %v", list, err)
	}
	summary := fresh.Summary(ctx)
	if summary.ActiveRun != "" || summary.RunCounts[runstore.StatusCompleted] != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestStartRefusesWhenDiskIsLow(t *testing.T) {
	h := newHarness(t, threeStages...)
	h.cfg.Workflow.MinFreeDiskMB = 1 << 40

	if _, err := h.mgr.Start(context.Background(), startRequest()); !errors.Is(err, services.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
	last   notifications.Payload
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.last = payload
	return nil
}

func TestNotifierReceivesTerminalEvents(t *testing.T) {
	h := newHarness(t, threeStages...)
	rec := &recordingNotifier{}
	mgr := workflow.NewManager(h.cfg, h.registry, h.checkpoints, nil,
		workflow.WithRunStore(h.runs), workflow.WithNotifier(rec))
	t.Cleanup(mgr.Shutdown)
	ctx := context.Background()

	ok, err := mgr.Start(ctx, workflow.StartRequest{ID: "good"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitDone(t, mgr, ok.ID)

	h.register("title_generation", func(context.Context, stage.Input, stage.Reporter) (any, error) {
		return nil, errors.New("no titles")
	})
	bad, err := mgr.Start(ctx, workflow.StartRequest{ID: "bad"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitDone(t, mgr, bad.ID)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	want := []notifications.Event{notifications.EventRunCompleted, notifications.EventRunFailed}
	if !slices.Equal(rec.events, want) {
		t.Fatalf("events = %v, want %v", rec.events, want)
	}
	if rec.last["runID"] != "bad" || rec.last["stage"] != "title_generation" || !strings.Contains(rec.last["error"], "no titles") {
		t.Fatalf("unexpected failure payload %v", rec.last)
	}
}
