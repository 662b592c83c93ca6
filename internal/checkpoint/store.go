package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"strings"
	"time"

	"autovideo/internal/kvstore"
	"autovideo/internal/logging"
	"autovideo/internal/services"
)

const keyPrefix = "checkpoints/"

// Snapshot is the executor's view of a run at checkpoint time.
type Snapshot struct {
	PipelineID string
	Stage      string
	Completed  []string
	Results    map[string]json.RawMessage
	Progress   map[string]float64
	Config     any
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store reads and writes checkpoints through a kvstore backend.
type Store struct {
	kv     kvstore.Store
	logger *slog.Logger
	now    func() time.Time
}

// New wraps kv.
func New(kv kvstore.Store, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Store{
		kv:     kv,
		logger: logging.NewComponentLogger(logger, "checkpoint"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func key(id string) string {
	return keyPrefix + strings.TrimSpace(id)
}

// Save signs and publishes a checkpoint for snap.PipelineID, replacing any
// previous one.
func (s *Store) Save(ctx context.Context, snap Snapshot) (*Record, error) {
	id := strings.TrimSpace(snap.PipelineID)
	if id == "" {
		return nil, services.Wrap(services.ErrValidation, "checkpoint", "save", "pipeline id is required", nil)
	}
	record := &Record{
		SchemaVersion: SchemaVersion,
		PipelineID:    id,
		Stage:         snap.Stage,
		Completed:     slices.Clone(snap.Completed),
		Results:       maps.Clone(snap.Results),
		Progress:      maps.Clone(snap.Progress),
		SavedAt:       s.now().UTC(),
	}
	if record.Completed == nil {
		record.Completed = []string{}
	}
	if record.Results == nil {
		record.Results = map[string]json.RawMessage{}
	}
	if record.Progress == nil {
		record.Progress = map[string]float64{}
	}
	if snap.Config != nil {
		raw, err := json.Marshal(snap.Config)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: encode config: %w", err)
		}
		record.Config = raw
	}
	signature, err := Signature(record)
	if err != nil {
		return nil, err
	}
	record.Integrity = signature

	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("checkpoint: encode record: %w", err)
	}
	if err := s.kv.Put(ctx, key(id), payload); err != nil {
		return nil, fmt.Errorf("checkpoint: save %s: %w", id, err)
	}
	s.logger.Info("checkpoint saved",
		logging.String(logging.FieldEventType, "checkpoint_saved"),
		logging.String(logging.FieldRunID, id),
		logging.String("checkpoint_stage", record.Stage),
		logging.Int("completed_stages", len(record.Completed)),
	)
	return record, nil
}

// Load returns the stored checkpoint for id. A missing, unreadable or
// invalid record yields ok == false with a nil error; only backend failures
// are returned as errors.
func (s *Store) Load(ctx context.Context, id string) (*Record, bool, error) {
	payload, err := s.kv.Get(ctx, key(id))
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("checkpoint: load %s: %w", id, err)
	}
	var record Record
	if err := json.Unmarshal(payload, &record); err != nil {
		s.reject(id, "decode failed", err)
		return nil, false, nil
	}
	if record.SchemaVersion != SchemaVersion {
		s.reject(id, fmt.Sprintf("schema version %d, want %d", record.SchemaVersion, SchemaVersion), nil)
		return nil, false, nil
	}
	if !Validate(&record) {
		s.reject(id, "integrity marker mismatch", nil)
		return nil, false, nil
	}
	return &record, true, nil
}

func (s *Store) reject(id, reason string, err error) {
	attrs := []logging.Attr{
		logging.String(logging.FieldRunID, id),
		logging.String("reason", reason),
		logging.String(logging.FieldImpact, "run restarts from the first stage"),
	}
	if err != nil {
		attrs = append(attrs, logging.Error(err))
	}
	logging.WarnWithContext(s.logger, "checkpoint rejected", "checkpoint_rejected", attrs...)
}

// Has reports whether a valid checkpoint exists for id.
func (s *Store) Has(ctx context.Context, id string) (bool, error) {
	_, ok, err := s.Load(ctx, id)
	return ok, err
}

// Validate reports whether r is usable for resume.
func (s *Store) Validate(r *Record) bool {
	return Validate(r)
}

// Delete removes the checkpoint for id. Deleting a missing checkpoint is not
// an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.kv.Delete(ctx, key(id)); err != nil && !errors.Is(err, services.ErrNotFound) {
		return fmt.Errorf("checkpoint: delete %s: %w", id, err)
	}
	s.logger.Debug("checkpoint deleted",
		logging.String(logging.FieldEventType, "checkpoint_deleted"),
		logging.String(logging.FieldRunID, id),
	)
	return nil
}

// List returns the pipeline ids that have a stored checkpoint, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	keys, err := s.kv.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		if id := strings.TrimPrefix(k, keyPrefix); id != "" && id != k {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
