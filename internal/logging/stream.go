package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const defaultHubCapacity = 512

// LogEvent is one log record as kept by StreamHub and served by /api/logs.
type LogEvent struct {
	Sequence      uint64            `json:"seq"`
	Timestamp     time.Time         `json:"ts"`
	Level         string            `json:"level"`
	Message       string            `json:"msg"`
	Component     string            `json:"component,omitempty"`
	RunID         string            `json:"run_id,omitempty"`
	Stage         string            `json:"stage,omitempty"`
	Provider      string            `json:"provider,omitempty"`
	EventType     string            `json:"event_type,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// LogEventSink receives every event the hub publishes.
type LogEventSink interface {
	Append(LogEvent)
}

// StreamHub is a fixed-size ring of recent events. Sequences are assigned on
// publish and are contiguous, so the oldest buffered sequence is always
// last-size+1. A nil hub accepts and returns nothing.
type StreamHub struct {
	mu    sync.Mutex
	ring  []LogEvent
	head  int
	size  int
	last  uint64
	wake  chan struct{}
	sinks []LogEventSink
}

// NewStreamHub creates a hub holding at most capacity events.
func NewStreamHub(capacity int) *StreamHub {
	if capacity <= 0 {
		capacity = defaultHubCapacity
	}
	return &StreamHub{ring: make([]LogEvent, capacity), wake: make(chan struct{})}
}

// AddSink registers sink for all events published after the call.
func (h *StreamHub) AddSink(sink LogEventSink) {
	if h == nil || sink == nil {
		return
	}
	h.mu.Lock()
	h.sinks = append(h.sinks, sink)
	h.mu.Unlock()
}

// Publish stamps evt with the next sequence, evicts the oldest event when
// full and releases any blocked Fetch callers.
func (h *StreamHub) Publish(evt LogEvent) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.last++
	evt.Sequence = h.last
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if h.size < len(h.ring) {
		h.ring[(h.head+h.size)%len(h.ring)] = evt
		h.size++
	} else {
		h.ring[h.head] = evt
		h.head = (h.head + 1) % len(h.ring)
	}
	close(h.wake)
	h.wake = make(chan struct{})
	sinks := h.sinks
	h.mu.Unlock()

	for _, sink := range sinks {
		sink.Append(evt)
	}
}

// Fetch returns up to limit events newer than since together with the latest
// sequence. With wait set it blocks until such an event exists or ctx ends.
func (h *StreamHub) Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]LogEvent, uint64, error) {
	if h == nil {
		return nil, since, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		h.mu.Lock()
		events := h.sliceLocked(since, h.clampLimit(limit))
		last, wake := h.last, h.wake
		h.mu.Unlock()

		if len(events) > 0 || !wait {
			return events, last, nil
		}
		select {
		case <-ctx.Done():
			return nil, last, ctx.Err()
		case <-wake:
		}
	}
}

// Tail returns the newest limit events and the latest sequence.
func (h *StreamHub) Tail(limit int) ([]LogEvent, uint64) {
	if h == nil {
		return nil, 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	n := min(h.clampLimit(limit), h.size)
	if n == 0 {
		return nil, h.last
	}
	return h.copyLocked(h.size-n, h.size), h.last
}

// ForRun returns, oldest first, the newest limit buffered events for runID.
func (h *StreamHub) ForRun(runID string, limit int) []LogEvent {
	if h == nil || runID == "" {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	limit = h.clampLimit(limit)
	var picked []LogEvent
	for i := h.size - 1; i >= 0 && len(picked) < limit; i-- {
		if evt := h.at(i); evt.RunID == runID {
			picked = append(picked, evt)
		}
	}
	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}
	return picked
}

// FirstSequence is the oldest sequence still buffered, or the latest
// sequence when the hub is empty.
func (h *StreamHub) FirstSequence() uint64 {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.size == 0 {
		return h.last
	}
	return h.last - uint64(h.size) + 1
}

func (h *StreamHub) clampLimit(limit int) int {
	if limit <= 0 || limit > len(h.ring) {
		return len(h.ring)
	}
	return limit
}

func (h *StreamHub) at(i int) LogEvent {
	return h.ring[(h.head+i)%len(h.ring)]
}

func (h *StreamHub) copyLocked(from, to int) []LogEvent {
	out := make([]LogEvent, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, h.at(i))
	}
	return out
}

func (h *StreamHub) sliceLocked(since uint64, limit int) []LogEvent {
	if h.size == 0 || since >= h.last {
		return nil
	}
	first := h.last - uint64(h.size) + 1
	start := 0
	if since >= first {
		start = int(since - first + 1)
	}
	return h.copyLocked(start, min(start+limit, h.size))
}

// hubHandler publishes every record to a StreamHub before handing it on.
type hubHandler struct {
	next  slog.Handler
	hub   *StreamHub
	group string
	bound []slog.Attr
}

// teeToHub wraps next so records also reach hub. It returns next unchanged
// when there is no hub.
func teeToHub(next slog.Handler, hub *StreamHub) slog.Handler {
	if hub == nil || next == nil {
		return next
	}
	return &hubHandler{next: next, hub: hub}
}

func (h *hubHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *hubHandler) Handle(ctx context.Context, record slog.Record) error {
	evt := LogEvent{
		Timestamp: record.Time,
		Level:     strings.ToUpper(record.Level.String()),
		Message:   strings.TrimSpace(record.Message),
		Fields:    map[string]string{},
	}
	for _, attr := range h.bound {
		evt.assign(attr.Key, attr.Value)
	}
	record.Attrs(func(attr slog.Attr) bool {
		evt.absorb(h.group, attr)
		return true
	})
	h.hub.Publish(evt)
	return h.next.Handle(ctx, record)
}

func (h *hubHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &hubHandler{next: h.next.WithAttrs(attrs), hub: h.hub, group: h.group}
	next.bound = append(next.bound, h.bound...)
	for _, attr := range attrs {
		next.bound = flattenAttr(next.bound, h.group, attr)
	}
	return next
}

func (h *hubHandler) WithGroup(name string) slog.Handler {
	return &hubHandler{
		next:  h.next.WithGroup(name),
		hub:   h.hub,
		group: joinKey(h.group, name),
		bound: h.bound,
	}
}

// absorb flattens attr under group and records it on the event.
func (e *LogEvent) absorb(group string, attr slog.Attr) {
	for _, flat := range flattenAttr(nil, group, attr) {
		e.assign(flat.Key, flat.Value)
	}
}

// flattenAttr appends attr to dst with group members expanded into dotted
// keys. Empty keys are dropped.
func flattenAttr(dst []slog.Attr, group string, attr slog.Attr) []slog.Attr {
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		prefix := group
		if attr.Key != "" {
			prefix = joinKey(group, attr.Key)
		}
		for _, member := range value.Group() {
			dst = flattenAttr(dst, prefix, member)
		}
		return dst
	}
	key := strings.TrimSpace(attr.Key)
	if key == "" {
		return dst
	}
	return append(dst, slog.Attr{Key: joinKey(group, key), Value: value})
}

// assign routes the well-known keys to their LogEvent fields; later values
// overwrite earlier ones so call-site attrs beat logger-bound ones.
func (e *LogEvent) assign(key string, value slog.Value) {
	text := renderValue(value)
	switch key {
	case FieldComponent:
		e.Component = text
	case FieldRunID:
		e.RunID = text
	case FieldStage:
		e.Stage = text
	case FieldProvider:
		e.Provider = text
	case FieldEventType:
		e.EventType = text
	case FieldCorrelationID:
		e.CorrelationID = text
	default:
		e.Fields[key] = text
	}
}
