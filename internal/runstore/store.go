package runstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"autovideo/internal/config"
	"autovideo/internal/sqlitedb"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store persists run records in runs.db under the state directory.
type Store struct {
	db   *sql.DB
	path string
}

const runColumns = `id, status, stages_json, current_stage, progress_json, config_json,
    error_message, reason, created_at, updated_at, finished_at`

// Open connects to the run database, creating it on first use.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	dbPath := filepath.Join(cfg.Paths.StateDir, "runs.db")
	db, err := sqlitedb.Open(context.Background(), dbPath, migrations)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, path: dbPath}, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close releases the database handle. It is safe on a nil store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Upsert inserts or replaces the row for rec.ID.
func (s *Store) Upsert(ctx context.Context, rec *Record) error {
	if rec == nil || strings.TrimSpace(rec.ID) == "" {
		return errors.New("run record requires an id")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	stagesJSON, err := json.Marshal(rec.Stages)
	if err != nil {
		return fmt.Errorf("encode stages: %w", err)
	}
	var progressJSON []byte
	if len(rec.Progress) > 0 {
		if progressJSON, err = json.Marshal(rec.Progress); err != nil {
			return fmt.Errorf("encode progress: %w", err)
		}
	}
	_, err = sqlitedb.Exec(ctx, s.db,
		`INSERT INTO runs (`+runColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             status = excluded.status,
             stages_json = excluded.stages_json,
             current_stage = excluded.current_stage,
             progress_json = excluded.progress_json,
             config_json = excluded.config_json,
             error_message = excluded.error_message,
             reason = excluded.reason,
             updated_at = excluded.updated_at,
             finished_at = excluded.finished_at`,
		rec.ID,
		string(rec.Status),
		string(stagesJSON),
		nullableString(rec.CurrentStage),
		nullableString(string(progressJSON)),
		nullableString(string(rec.Config)),
		nullableString(rec.ErrorMessage),
		nullableString(rec.Reason),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
		nullableTime(rec.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// Get fetches a run by id. A missing run returns nil with no error.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return rec, nil
}

// List returns runs filtered by status set (or all runs when none is given),
// oldest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Record, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
		query += ` WHERE status IN (` + placeholders + `)`
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ReclaimInterrupted marks runs left processing or paused as cancelled with
// InterruptedReason and returns how many rows changed.
func (s *Store) ReclaimInterrupted(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := sqlitedb.Exec(ctx, s.db,
		`UPDATE runs SET status = ?, reason = ?, updated_at = ?, finished_at = ?
         WHERE status IN (?, ?)`,
		string(StatusCancelled), InterruptedReason, now, now,
		string(StatusProcessing), string(StatusPaused),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim interrupted runs: %w", err)
	}
	return res.RowsAffected()
}

// Remove deletes a run row.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := sqlitedb.Exec(ctx, s.db, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("remove run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(scanner rowScanner) (*Record, error) {
	var (
		rec          Record
		status       string
		stagesJSON   string
		currentStage sql.NullString
		progressJSON sql.NullString
		configJSON   sql.NullString
		errorMessage sql.NullString
		reason       sql.NullString
		createdAt    string
		updatedAt    string
		finishedAt   sql.NullString
	)
	if err := scanner.Scan(&rec.ID, &status, &stagesJSON, &currentStage, &progressJSON, &configJSON,
		&errorMessage, &reason, &createdAt, &updatedAt, &finishedAt); err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	if err := json.Unmarshal([]byte(stagesJSON), &rec.Stages); err != nil {
		return nil, fmt.Errorf("decode stages for run %s: %w", rec.ID, err)
	}
	rec.CurrentStage = currentStage.String
	if progressJSON.Valid && progressJSON.String != "" {
		if err := json.Unmarshal([]byte(progressJSON.String), &rec.Progress); err != nil {
			return nil, fmt.Errorf("decode progress for run %s: %w", rec.ID, err)
		}
	}
	if configJSON.Valid && configJSON.String != "" {
		rec.Config = json.RawMessage(configJSON.String)
	}
	rec.ErrorMessage = errorMessage.String
	rec.Reason = reason.String
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	if finishedAt.Valid && finishedAt.String != "" {
		t := parseTime(finishedAt.String)
		rec.FinishedAt = &t
	}
	return &rec, nil
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullableTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
