package stages

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"autovideo/internal/cache"
	"autovideo/internal/gateway"
	"autovideo/internal/logging"
	"autovideo/internal/providers"
	"autovideo/internal/services"
	"autovideo/internal/stage"
)

// Stage names in workflow order.
const (
	Extraction           = "extraction"
	TitleGeneration      = "title_generation"
	PremiseGeneration    = "premise_generation"
	ScriptGeneration     = "script_generation"
	ScriptPostprocessing = "script_postprocessing"
	SpeechSynthesis      = "speech_synthesis"
	ImageGeneration      = "image_generation"
	MediaAssembly        = "media_assembly"
	Cleanup              = "cleanup"
)

const (
	tmpDir    = "tmp"
	outputDir = "output"
)

// Generator is the gateway surface the stages depend on.
type Generator interface {
	Generate(ctx context.Context, call gateway.Call) (providers.Response, error)
}

// Set binds the stage functions to a Generator.
type Set struct {
	gen Generator
}

// New returns a Set backed by gen.
func New(gen Generator) *Set {
	return &Set{gen: gen}
}

// Register binds every stage function to its name in reg.
func (s *Set) Register(reg *stage.Registry) {
	reg.Register(Extraction, s.Extract)
	reg.Register(TitleGeneration, s.GenerateTitle)
	reg.Register(PremiseGeneration, s.GeneratePremise)
	reg.Register(ScriptGeneration, s.GenerateScript)
	reg.Register(ScriptPostprocessing, s.PostprocessScript)
	reg.Register(SpeechSynthesis, s.SynthesizeSpeech)
	reg.Register(ImageGeneration, s.GenerateImages)
	reg.Register(MediaAssembly, s.AssembleMedia)
	reg.Register(Cleanup, s.Cleanup)
}

// Register is shorthand for New(gen).Register(reg).
func Register(reg *stage.Registry, gen Generator) {
	New(gen).Register(reg)
}

func (s *Set) generate(ctx context.Context, in stage.Input, req providers.Request, contentType string) (providers.Response, error) {
	if s.gen == nil {
		return providers.Response{}, services.Wrap(services.ErrConfiguration, in.Stage, "generate", "no provider gateway configured", nil)
	}
	if model := in.Setting("model", ""); model != "" && req.Model == "" {
		req.Model = model
	}
	return s.gen.Generate(ctx, gateway.Call{
		Request: req,
		Hint:    cache.Hint{ContentType: contentType},
	})
}

func (s *Set) generateText(ctx context.Context, in stage.Input, system, prompt string) (providers.Response, string, error) {
	resp, err := s.generate(ctx, in, providers.Request{
		Operation: providers.OpText,
		System:    system,
		Prompt:    prompt,
	}, "text/"+in.Stage)
	if err != nil {
		return resp, "", err
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return resp, "", services.Wrap(services.ErrTransient, in.Stage, "generate", "provider returned empty text", nil)
	}
	return resp, text, nil
}

func stageLogger(in stage.Input) *slog.Logger {
	if in.Logger == nil {
		return logging.NewNop()
	}
	return in.Logger
}

func tmpPath(in stage.Input, parts ...string) string {
	return filepath.Join(append([]string{in.WorkDir, tmpDir}, parts...)...)
}

func outputPath(in stage.Input, parts ...string) string {
	return filepath.Join(append([]string{in.WorkDir, outputDir}, parts...)...)
}
