package daemon

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"autovideo/internal/api"
	"autovideo/internal/logging"
	"autovideo/internal/services"
	"autovideo/internal/workflow"
)

const defaultLogLimit = 200

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	s.writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		LockFilePath: status.LockFilePath,
		LogPath:      status.LogPath,
		RunsDBPath:   status.RunsDBPath,
		Storage:      s.daemon.cfg.Storage.Backend,
		Workflow:     api.FromStatusSummary(status.Workflow),
		Providers:    api.FromProviderState(status.Keys, status.Limits),
		Cache:        api.FromCacheStats(status.Cache),
		Preflight:    api.FromPreflight(status.Preflight),
	})
}

func (s *apiServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.daemon.deps.Workflow.List(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.RunListResponse{Runs: api.FromSnapshots(snaps)})
}

func (s *apiServer) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req api.StartRunRequest
	if !s.decode(w, r, &req) {
		return
	}
	snap, err := s.daemon.deps.Workflow.Start(r.Context(), workflow.StartRequest{
		ID:     strings.TrimSpace(req.ID),
		Stages: req.Stages,
		Config: workflow.RunConfig{
			Input:     req.Input,
			InputPath: req.InputPath,
			Settings:  req.Settings,
		},
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.RunResponse{Run: api.FromSnapshot(snap)})
}

func (s *apiServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	snap, err := s.daemon.deps.Workflow.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.RunResponse{Run: api.FromSnapshot(snap)})
}

func (s *apiServer) handlePauseRun(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.daemon.deps.Workflow.Pause)
}

func (s *apiServer) handleResumeRun(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.daemon.deps.Workflow.Resume)
}

func (s *apiServer) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.daemon.deps.Workflow.Cancel)
}

func (s *apiServer) control(w http.ResponseWriter, r *http.Request, op func(context.Context, string) (workflow.Snapshot, error)) {
	snap, err := op(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.RunResponse{Run: api.FromSnapshot(snap)})
}

func (s *apiServer) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	record, ok, err := s.daemon.deps.Checkpoints.Load(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "checkpoint not found", "not_found")
		return
	}
	stages := s.daemon.cfg.Workflow.Stages
	if snap, err := s.daemon.deps.Workflow.Status(r.Context(), id); err == nil && len(snap.Stages) > 0 {
		stages = snap.Stages
	}
	s.writeJSON(w, http.StatusOK, api.CheckpointResponse{Checkpoint: api.FromCheckpoint(record, stages)})
}

func (s *apiServer) handleCache(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, api.FromCacheStats(s.daemon.Status(r.Context()).Cache))
}

func (s *apiServer) handleCacheFlush(w http.ResponseWriter, r *http.Request) {
	swept, err := s.daemon.FlushCache(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	var stats api.CacheStatus
	if c := s.daemon.deps.Cache; c != nil {
		stats = api.FromCacheStats(c.Stats())
	}
	s.writeJSON(w, http.StatusOK, api.CacheFlushResponse{Swept: swept, Cache: stats})
}

func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	hub := s.daemon.deps.Hub
	archive := s.daemon.deps.Archive
	if hub == nil && archive == nil {
		s.writeJSON(w, http.StatusOK, api.LogStreamResponse{Events: []api.LogEvent{}})
		return
	}

	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = defaultLogLimit
	}
	follow := parseBool(query.Get("follow"))
	tail := parseBool(query.Get("tail"))
	runID := strings.TrimSpace(query.Get("run"))
	component := strings.TrimSpace(query.Get("component"))

	var (
		events []logging.LogEvent
		next   uint64
	)

	// Cursors older than the in-memory window are served from the journal.
	if archive != nil && since > 0 {
		first := hub.FirstSequence()
		if hub == nil || (first > 0 && since < first) {
			archived, cursor, err := archive.ReadSince(since, limit, runID)
			if err != nil {
				s.log().Warn("log archive read failed", logging.Error(err))
			} else if len(archived) > 0 {
				events, next = archived, cursor
			}
		}
	}
	switch {
	case len(events) > 0:
	case tail && since == 0 && !follow:
		events, next = hub.Tail(limit)
	default:
		raw, cursor, err := hub.Fetch(r.Context(), since, limit, follow)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			s.writeError(w, http.StatusInternalServerError, err.Error(), "internal")
			return
		}
		events, next = raw, cursor
	}
	if next < since {
		next = since
	}

	filtered := make([]api.LogEvent, 0, len(events))
	for _, evt := range api.FromLogEvents(events) {
		if runID != "" && evt.RunID != runID {
			continue
		}
		if component != "" && !strings.EqualFold(component, evt.Component) {
			continue
		}
		filtered = append(filtered, evt)
	}
	s.writeJSON(w, http.StatusOK, api.LogStreamResponse{Events: filtered, Next: next})
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	status := services.HTTPStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.log().Error("api request failed", logging.Error(err))
	}
	s.writeError(w, status, err.Error(), errorKind(err))
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message, kind string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message, Kind: kind})
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrConfiguration):
		return "validation"
	case errors.Is(err, services.ErrNotFound):
		return "not_found"
	case errors.Is(err, services.ErrConflict):
		return "conflict"
	case services.IsQuotaRelated(err):
		return "rate_limited"
	case errors.Is(err, services.ErrUnavailable):
		return "unavailable"
	default:
		return "internal"
	}
}

func parseBool(value string) bool {
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	return err == nil && parsed
}
