package logging

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// consoleHandler writes one human-oriented line per record:
//
//	2026-01-02T15:04:05Z INF workflow 01234567/speech_synthesis: stage started segments=4
//
// The component, run and stage fields form the line subject instead of being
// repeated as key=value pairs.
type consoleHandler struct {
	mu         *sync.Mutex
	out        io.Writer
	level      slog.Level
	withSource bool
	group      string
	subject    lineSubject
	bound      []byte
}

type lineSubject struct {
	component string
	runID     string
	stage     string
}

func newConsoleHandler(out io.Writer, level slog.Level, withSource bool) *consoleHandler {
	return &consoleHandler{mu: &sync.Mutex{}, out: out, level: level, withSource: withSource}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	subject := h.subject
	var fields []byte
	record.Attrs(func(attr slog.Attr) bool {
		fields = appendField(fields, &subject, h.group, attr)
		return true
	})

	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	line := make([]byte, 0, 96+len(h.bound)+len(fields))
	line = ts.UTC().AppendFormat(line, time.RFC3339)
	line = append(line, ' ')
	line = append(line, shortLevel(record.Level)...)
	line = append(line, ' ')
	line = subject.appendTo(line)

	msg := strings.TrimSpace(record.Message)
	if msg == "" {
		msg = "(no message)"
	}
	line = append(line, msg...)
	line = append(line, h.bound...)
	line = append(line, fields...)
	if h.withSource {
		if src := record.Source(); src != nil && src.File != "" {
			line = append(line, " ("...)
			line = append(line, sourceLocation(src)...)
			line = append(line, ')')
		}
	}
	line = append(line, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(line)
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	next := *h
	next.bound = append([]byte(nil), h.bound...)
	for _, attr := range attrs {
		next.bound = appendField(next.bound, &next.subject, h.group, attr)
	}
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.group = joinKey(h.group, name)
	return &next
}

// appendField renders attr as " key=value", flattening groups into dotted
// keys. Top-level subject fields are captured into subject instead.
func appendField(dst []byte, subject *lineSubject, group string, attr slog.Attr) []byte {
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		prefix := group
		if attr.Key != "" {
			prefix = joinKey(group, attr.Key)
		}
		for _, member := range value.Group() {
			dst = appendField(dst, subject, prefix, member)
		}
		return dst
	}
	if attr.Key == "" {
		return dst
	}
	if group == "" && subject.capture(attr.Key, value) {
		return dst
	}
	dst = append(dst, ' ')
	dst = append(dst, joinKey(group, attr.Key)...)
	dst = append(dst, '=')
	return append(dst, quoteIfNeeded(renderValue(value))...)
}

func (s *lineSubject) capture(key string, value slog.Value) bool {
	switch key {
	case FieldComponent:
		s.component = renderValue(value)
	case FieldRunID:
		s.runID = renderValue(value)
	case FieldStage:
		s.stage = renderValue(value)
	default:
		return false
	}
	return true
}

// appendTo writes "component run/stage: " with the run id cut to eight
// characters. Nothing is written without a component.
func (s lineSubject) appendTo(dst []byte) []byte {
	if s.component == "" {
		return dst
	}
	dst = append(dst, s.component...)
	run := strings.TrimSpace(s.runID)
	if len(run) > 8 {
		run = run[:8]
	}
	stage := strings.TrimSpace(s.stage)
	if run != "" || stage != "" {
		dst = append(dst, ' ')
		dst = append(dst, run...)
		if run != "" && stage != "" {
			dst = append(dst, '/')
		}
		dst = append(dst, stage...)
	}
	return append(dst, ": "...)
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func renderValue(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	default:
		return v.String()
	}
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
}

func shortLevel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERR"
	case level >= slog.LevelWarn:
		return "WRN"
	case level >= slog.LevelInfo:
		return "INF"
	default:
		return "DBG"
	}
}
