package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"autovideo/internal/services"
)

// Func is one stage's logic.
type Func func(ctx context.Context, in Input, report Reporter) (any, error)

// RunConfig is the caller-supplied configuration of a run.
type RunConfig struct {
	// Input is literal source text. InputPath, when set, takes precedence.
	Input     string `json:"input,omitempty"`
	InputPath string `json:"input_path,omitempty"`
	// Settings holds per-stage string options keyed by stage name.
	Settings map[string]map[string]string `json:"settings,omitempty"`
}

// Clone returns a deep copy.
func (c RunConfig) Clone() RunConfig {
	out := RunConfig{Input: c.Input, InputPath: c.InputPath}
	if c.Settings != nil {
		out.Settings = make(map[string]map[string]string, len(c.Settings))
		for stage, values := range c.Settings {
			out.Settings[stage] = maps.Clone(values)
		}
	}
	return out
}

// Input is everything a stage may read.
type Input struct {
	RunID string
	Stage string
	// WorkDir is the run's private artifact directory.
	WorkDir string
	Results Results
	Config  RunConfig
	// Logger writes to the run's log. Never nil when provided by the executor.
	Logger *slog.Logger
	// Checkpoint blocks while the run is paused and returns the cancellation
	// signal once the run is cancelled. Nil means no cooperative control.
	Checkpoint func(context.Context) error
}

// Setting returns this stage's setting for key, or fallback.
func (in Input) Setting(key, fallback string) string {
	if values, ok := in.Config.Settings[in.Stage]; ok {
		if value := strings.TrimSpace(values[key]); value != "" {
			return value
		}
	}
	return fallback
}

// Pause honours pause and cancel requests between units of work.
func (in Input) Pause(ctx context.Context) error {
	if in.Checkpoint == nil {
		return ctx.Err()
	}
	return in.Checkpoint(ctx)
}

// Results maps stage names to their marshalled output.
type Results map[string]json.RawMessage

// Has reports whether stage produced a result.
func (r Results) Has(stage string) bool {
	_, ok := r[stage]
	return ok
}

// Decode unmarshals stage's result into v. A missing result is a
// validation error because the stage order is wrong for the caller.
func (r Results) Decode(stage string, v any) error {
	raw, ok := r[stage]
	if !ok {
		return services.Wrap(services.ErrValidation, "stage", "decode result",
			fmt.Sprintf("result of %s unavailable; it must run earlier in the stage list", stage), nil)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return services.Wrap(services.ErrValidation, "stage", "decode result",
			fmt.Sprintf("result of %s is malformed", stage), err)
	}
	return nil
}

// Clone returns a copy that shares no map with r.
func (r Results) Clone() Results {
	out := make(Results, len(r))
	for name, raw := range r {
		out[name] = append(json.RawMessage(nil), raw...)
	}
	return out
}

// Reporter receives fractional progress (0-100) from a running stage.
type Reporter interface {
	Progress(percent float64, message string)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(percent float64, message string)

// Progress implements Reporter.
func (f ReporterFunc) Progress(percent float64, message string) {
	if f != nil {
		f(percent, message)
	}
}

// Discard ignores progress.
var Discard Reporter = ReporterFunc(nil)

// Fraction converts done-of-total into a percent clamped to [0, 100].
func Fraction(done, total int) float64 {
	if total <= 0 {
		return 100
	}
	pct := float64(done) / float64(total) * 100
	return min(max(pct, 0), 100)
}
