package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"autovideo/internal/config"
)

// LogFileName is the daemon log written inside the configured log directory.
const LogFileName = "autovideo.log"

// Options describes logger construction parameters.
type Options struct {
	Level            string
	Format           string
	OutputPaths      []string
	ErrorOutputPaths []string
	Development      bool
	Hub              *StreamHub
	// Writer replaces OutputPaths and ErrorOutputPaths when set. The caller
	// owns its lifetime.
	Writer io.Writer
}

// New builds a console or JSON logger. Records are also published to
// opts.Hub when it is set.
func New(opts Options) (*slog.Logger, error) {
	level := parseLevel(opts.Level)
	out := opts.Writer
	if out == nil {
		var err error
		if out, err = openOutputs(opts.OutputPaths, opts.ErrorOutputPaths); err != nil {
			return nil, err
		}
	}
	withSource := opts.Development || level <= slog.LevelDebug

	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "console":
		handler = newConsoleHandler(out, level, withSource)
	case "json":
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{
			Level:       level,
			AddSource:   withSource,
			ReplaceAttr: jsonReplace,
		})
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
	return slog.New(teeToHub(handler, opts.Hub)), nil
}

// NewFromConfig builds the daemon logger: stdout/stderr plus LogFileName under
// Paths.LogDir when one is configured.
func NewFromConfig(cfg *config.Config, hub *StreamHub) (*slog.Logger, error) {
	opts := Options{Level: "info", Format: "console", Hub: hub}
	if cfg == nil {
		return New(opts)
	}
	opts.Level = cfg.Logging.Level
	opts.Format = cfg.Logging.Format
	if dir := cfg.Paths.LogDir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure log directory: %w", err)
		}
		path := filepath.Join(dir, LogFileName)
		opts.OutputPaths = []string{"stdout", path}
		opts.ErrorOutputPaths = []string{"stderr", path}
	}
	return New(opts)
}

// parseLevel accepts slog level names plus "warning", "dpanic", "panic" and
// "fatal". Anything unrecognised is info.
func parseLevel(raw string) slog.Level {
	name := strings.ToLower(strings.TrimSpace(raw))
	switch name {
	case "dpanic", "panic", "fatal":
		return slog.LevelError
	case "warning":
		return slog.LevelWarn
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func openOutputs(outputs, errorOutputs []string) (io.Writer, error) {
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	if len(errorOutputs) == 0 {
		errorOutputs = []string{"stderr"}
	}

	seen := make(map[string]bool)
	var writers []io.Writer
	for _, target := range append(append([]string(nil), outputs...), errorOutputs...) {
		target = strings.TrimSpace(target)
		if target == "" || seen[target] {
			continue
		}
		seen[target] = true
		w, err := openOutput(target)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}

	switch len(writers) {
	case 0:
		return os.Stdout, nil
	case 1:
		return writers[0], nil
	default:
		return io.MultiWriter(writers...), nil
	}
}

func openOutput(target string) (io.Writer, error) {
	switch target {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	if err := ensureLogDir(target); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", target, err)
	}
	return file, nil
}

func ensureLogDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// jsonReplace shortens the built-in keys: UTC RFC3339 "ts", lowercase level
// and file:line source.
func jsonReplace(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return attr
	}
	switch attr.Key {
	case slog.TimeKey:
		if attr.Value.Kind() == slog.KindTime {
			return slog.String("ts", attr.Value.Time().UTC().Format(time.RFC3339))
		}
	case slog.LevelKey:
		return slog.String(slog.LevelKey, strings.ToLower(attr.Value.String()))
	case slog.SourceKey:
		if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
			return slog.String(slog.SourceKey, sourceLocation(src))
		}
	}
	return attr
}

func sourceLocation(src *slog.Source) string {
	return filepath.Base(src.File) + ":" + strconv.Itoa(src.Line)
}
