package stages_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"autovideo/internal/gateway"
	"autovideo/internal/providers"
	"autovideo/internal/services"
	"autovideo/internal/stage"
	"autovideo/internal/stages"
	"autovideo/internal/testsupport"
)

type fakeGenerator struct {
	mu    sync.Mutex
	calls map[providers.Operation]int
	fail  error
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{calls: make(map[providers.Operation]int)}
}

func (f *fakeGenerator) Generate(_ context.Context, call gateway.Call) (providers.Response, error) {
	f.mu.Lock()
	f.calls[call.Request.Operation]++
	f.mu.Unlock()
	if f.fail != nil {
		return providers.Response{}, f.fail
	}
	req := call.Request
	switch req.Operation {
	case providers.OpSpeech:
		return providers.Response{Provider: "openai", Data: []byte("audio:" + req.Prompt), MIMEType: "audio/mpeg"}, nil
	case providers.OpImage:
		return providers.Response{Provider: "openai", Data: []byte("image:" + req.Prompt), MIMEType: "image/png"}, nil
	}
	switch {
	case strings.Contains(req.System, "titles"):
		return providers.Response{Provider: "gemini", Text: "\"the hidden tide.\""}, nil
	case strings.Contains(req.System, "premise"):
		return providers.Response{Provider: "gemini", Text: "A  journey   beneath the waves."}, nil
	default:
		return providers.Response{Provider: "gemini", Text: "# Script\n\nNarrator: The tide **turns**.\n\n[pause]\n\nHost: Something waits below."}, nil
	}
}

func (f *fakeGenerator) count(op providers.Operation) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func newInput(t *testing.T, cfg stage.RunConfig) stage.Input {
	t.Helper()
	return stage.Input{
		RunID:   "run-1",
		WorkDir: filepath.Join(t.TempDir(), "run-1"),
		Results: make(stage.Results),
		Config:  cfg,
	}
}

// runStage executes fn as the named stage and records its result in in.
func runStage(t *testing.T, fn stage.Func, name string, in *stage.Input) json.RawMessage {
	t.Helper()
	in.Stage = name
	out, err := fn(context.Background(), *in, stage.Discard)
	if err != nil {
		t.Fatalf("%s failed: %v", name, err)
	}
	raw, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("%s result not serializable: %v", name, err)
	}
	in.Results[name] = raw
	return raw
}

func TestRegisterBindsEveryStage(t *testing.T) {
	reg := stage.NewRegistry()
	stages.Register(reg, newFakeGenerator())
	names := []string{
		stages.Extraction, stages.TitleGeneration, stages.PremiseGeneration,
		stages.ScriptGeneration, stages.ScriptPostprocessing, stages.SpeechSynthesis,
		stages.ImageGeneration, stages.MediaAssembly, stages.Cleanup,
	}
	if missing := reg.Missing(names); len(missing) != 0 {
		t.Fatalf("unregistered stages: %v", missing)
	}
}

func TestExtract(t *testing.T) {
	dir := t.TempDir()
	path := testsupport.WriteInput(t, dir, "source.txt", "  Deep\tocean\r\n\r\n\r\ncurrents  ")

	tests := []struct {
		name      string
		cfg       stage.RunConfig
		wantText  string
		wantWords int
		wantErr   error
	}{
		{name: "inline", cfg: stage.RunConfig{Input: "one  two three"}, wantText: "one two three", wantWords: 3},
		{name: "file wins", cfg: stage.RunConfig{Input: "ignored", InputPath: path}, wantText: "Deep ocean\n\ncurrents", wantWords: 3},
		{name: "empty", cfg: stage.RunConfig{Input: "   "}, wantErr: services.ErrValidation},
		{name: "missing file", cfg: stage.RunConfig{InputPath: filepath.Join(dir, "nope.txt")}, wantErr: services.ErrValidation},
	}
	set := stages.New(newFakeGenerator())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := newInput(t, tt.cfg)
			in.Stage = stages.Extraction
			out, err := set.Extract(context.Background(), in, stage.Discard)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Extract failed: %v", err)
			}
			got := out.(stages.ExtractionResult)
			if got.Text != tt.wantText || got.Words != tt.wantWords {
				t.Fatalf("got %+v", got)
			}
		})
	}
}

func TestFullWorkflowWritesManifest(t *testing.T) {
	gen := newFakeGenerator()
	set := stages.New(gen)
	in := newInput(t, stage.RunConfig{Input: "The sea keeps its secrets well."})

	runStage(t, set.Extract, stages.Extraction, &in)
	runStage(t, set.GenerateTitle, stages.TitleGeneration, &in)
	runStage(t, set.GeneratePremise, stages.PremiseGeneration, &in)
	runStage(t, set.GenerateScript, stages.ScriptGeneration, &in)
	runStage(t, set.PostprocessScript, stages.ScriptPostprocessing, &in)
	runStage(t, set.SynthesizeSpeech, stages.SpeechSynthesis, &in)
	runStage(t, set.GenerateImages, stages.ImageGeneration, &in)
	raw := runStage(t, set.AssembleMedia, stages.MediaAssembly, &in)
	runStage(t, set.Cleanup, stages.Cleanup, &in)

	var title stages.TitleResult
	if err := in.Results.Decode(stages.TitleGeneration, &title); err != nil || title.Title != "The Hidden Tide" {
		t.Fatalf("title = %q (%v)", title.Title, err)
	}
	var segments stages.SegmentsResult
	if err := in.Results.Decode(stages.ScriptPostprocessing, &segments); err != nil {
		t.Fatalf("decode segments: %v", err)
	}
	wantSegments := []string{"Script", "The tide turns.", "Something waits below."}
	if len(segments.Segments) != len(wantSegments) {
		t.Fatalf("segments = %+v", segments.Segments)
	}
	for i, want := range wantSegments {
		if segments.Segments[i].Text != want || segments.Segments[i].Index != i+1 {
			t.Fatalf("segment %d = %+v, want %q", i, segments.Segments[i], want)
		}
	}
	if gen.count(providers.OpSpeech) != 3 || gen.count(providers.OpImage) != 3 {
		t.Fatalf("expected one media call per segment, got %v", gen.calls)
	}

	var assembly stages.AssemblyResult
	if err := json.Unmarshal(raw, &assembly); err != nil {
		t.Fatalf("decode assembly: %v", err)
	}
	var manifest stages.Manifest
	if err := json.Unmarshal(testsupport.ReadFile(t, assembly.Manifest), &manifest); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if manifest.Title != "The Hidden Tide" || manifest.Slug != "the-hidden-tide" || manifest.RunID != "run-1" || len(manifest.Segments) != 3 {
		t.Fatalf("unexpected manifest %+v", manifest)
	}
	outDir := filepath.Dir(assembly.Manifest)
	for _, seg := range manifest.Segments {
		if seg.AudioSHA256 == "" || seg.ImageSHA256 == "" {
			t.Fatalf("segment %d missing digests: %+v", seg.Index, seg)
		}
		if _, err := os.Stat(filepath.Join(outDir, seg.Audio)); err != nil {
			t.Fatalf("published audio missing: %v", err)
		}
		if filepath.Ext(seg.Image) != ".png" {
			t.Fatalf("image extension = %q", seg.Image)
		}
	}
	if _, err := os.Stat(filepath.Join(in.WorkDir, "tmp")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("cleanup should remove tmp, stat err = %v", err)
	}
}

func segmentsInput(t *testing.T, texts ...string) stage.Input {
	t.Helper()
	in := newInput(t, stage.RunConfig{})
	result := stages.SegmentsResult{}
	for i, text := range texts {
		result.Segments = append(result.Segments, stages.Segment{Index: i + 1, Text: text, Words: 1})
	}
	raw, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal segments: %v", err)
	}
	in.Results[stages.ScriptPostprocessing] = raw
	in.Stage = stages.SpeechSynthesis
	return in
}

func TestSpeechReusesExistingSegmentFiles(t *testing.T) {
	gen := newFakeGenerator()
	in := segmentsInput(t, "first", "second")
	existing := filepath.Join(in.WorkDir, "tmp", "audio", "segment-001.mp3")
	if err := os.MkdirAll(filepath.Dir(existing), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(existing, []byte("cached audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	var progress []float64
	report := stage.ReporterFunc(func(pct float64, _ string) { progress = append(progress, pct) })
	out, err := stages.New(gen).SynthesizeSpeech(context.Background(), in, report)
	if err != nil {
		t.Fatalf("SynthesizeSpeech failed: %v", err)
	}
	result := out.(stages.ArtifactsResult)
	if len(result.Artifacts) != 2 || !result.Artifacts[0].Reused || result.Artifacts[1].Reused {
		t.Fatalf("unexpected artifacts %+v", result.Artifacts)
	}
	if gen.count(providers.OpSpeech) != 1 {
		t.Fatalf("expected 1 speech call, got %d", gen.count(providers.OpSpeech))
	}
	if len(progress) != 2 || progress[0] != 50 || progress[1] != 100 {
		t.Fatalf("progress = %v", progress)
	}
}

func TestSegmentLoopHonoursCheckpoint(t *testing.T) {
	gen := newFakeGenerator()
	in := segmentsInput(t, "a", "b", "c")
	stop := errors.New("stop requested")
	in.Checkpoint = func(context.Context) error { return stop }

	_, err := stages.New(gen).GenerateImages(context.Background(), in, stage.Discard)
	if !errors.Is(err, stop) {
		t.Fatalf("expected checkpoint error, got %v", err)
	}
	if gen.count(providers.OpImage) != 1 {
		t.Fatalf("only the first segment should be generated, got %d", gen.count(providers.OpImage))
	}
}

func TestStagesRequirePriorResults(t *testing.T) {
	set := stages.New(newFakeGenerator())
	tests := []struct {
		name string
		fn   stage.Func
	}{
		{name: stages.TitleGeneration, fn: set.GenerateTitle},
		{name: stages.ScriptGeneration, fn: set.GenerateScript},
		{name: stages.ScriptPostprocessing, fn: set.PostprocessScript},
		{name: stages.SpeechSynthesis, fn: set.SynthesizeSpeech},
		{name: stages.MediaAssembly, fn: set.AssembleMedia},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := newInput(t, stage.RunConfig{})
			in.Stage = tt.name
			if _, err := tt.fn(context.Background(), in, stage.Discard); !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestProviderErrorsPropagate(t *testing.T) {
	gen := newFakeGenerator()
	gen.fail = services.Wrap(services.ErrQuota, "gateway", "generate", "all keys exhausted", nil)
	in := newInput(t, stage.RunConfig{})
	in.Results[stages.Extraction] = json.RawMessage(`{"text":"hello world","words":2}`)
	in.Stage = stages.TitleGeneration
	if _, err := stages.New(gen).GenerateTitle(context.Background(), in, stage.Discard); !errors.Is(err, services.ErrQuota) {
		t.Fatalf("expected quota error, got %v", err)
	}
}
