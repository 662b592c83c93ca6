package logging

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// EventArchive is a JSON-lines journal of every hub event for the daemon
// session. /api/logs falls back to it for cursors the hub has evicted.
// A nil archive is valid and does nothing.
type EventArchive struct {
	path string
	mu   sync.Mutex
	file *os.File
}

// NewEventArchive starts a fresh journal at path. An empty path returns a nil
// archive.
func NewEventArchive(path string) (*EventArchive, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	if err := ensureLogDir(path); err != nil {
		return nil, fmt.Errorf("ensure archive dir: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	return &EventArchive{path: path, file: file}, nil
}

// Append writes evt as one line. Failures are ignored so logging never
// blocks on the journal.
func (a *EventArchive) Append(evt LogEvent) {
	if a == nil {
		return
	}
	line, err := json.Marshal(evt)
	if err != nil {
		return
	}
	line = append(line, '\n')
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		_, _ = a.file.Write(line)
	}
}

// ReadSince scans the journal for events after since, keeping at most limit
// (0 for all) and, when runID is set, only that run's events. The second
// result is the highest sequence scanned regardless of the run filter. A torn
// final record, left by a crash mid-write, ends the scan quietly.
func (a *EventArchive) ReadSince(since uint64, limit int, runID string) ([]LogEvent, uint64, error) {
	if a == nil {
		return nil, since, nil
	}
	file, err := os.Open(a.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, since, nil
	}
	if err != nil {
		return nil, since, fmt.Errorf("open archive %s: %w", a.path, err)
	}
	defer file.Close()

	var (
		out     []LogEvent
		highest = since
		dec     = json.NewDecoder(file)
	)
	for limit <= 0 || len(out) < limit {
		var evt LogEvent
		err := dec.Decode(&evt)
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			break
		}
		if err != nil {
			return out, highest, fmt.Errorf("read archive %s: %w", a.path, err)
		}
		if evt.Sequence <= since {
			continue
		}
		highest = max(highest, evt.Sequence)
		if runID == "" || evt.RunID == runID {
			out = append(out, evt)
		}
	}
	return out, highest, nil
}

// Close stops further appends and releases the file.
func (a *EventArchive) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}
