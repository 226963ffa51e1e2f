package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/forgeline-labs/forgeline-go/internal/execution/engine"
	"github.com/forgeline-labs/forgeline-go/internal/execution/graph"
	"github.com/forgeline-labs/forgeline-go/internal/platform/auth"
	"github.com/forgeline-labs/forgeline-go/internal/repo"
	"github.com/forgeline-labs/forgeline-go/internal/scheduler"
	"github.com/forgeline-labs/forgeline-go/internal/storage/objectstore"
)

// auditFunc records one orchestrator action. A nil func disables auditing.
type auditFunc func(ctx context.Context, actor, action, entityID string, payload map[string]any)

type orchestratorAPI struct {
	logger      *slog.Logger
	runs        repo.RunRepository
	eng         *engine.Engine
	coordinator *scheduler.Coordinator
	def         graph.Definition
	releases    objectstore.Store
	audit       auditFunc
}

func (api *orchestratorAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/runs", api.handleCreateRun)
	mux.HandleFunc("GET /v1/runs", api.handleListRuns)
	mux.HandleFunc("GET /v1/runs/{run_id}", api.handleGetRun)
	mux.HandleFunc("POST /v1/runs/{run_id}/start", api.handleStartRun)
	mux.HandleFunc("POST /v1/runs/{run_id}/resume", api.handleResumeRun)
	mux.HandleFunc("GET /v1/runs/{run_id}/history", api.handleRunHistory)
	mux.HandleFunc("GET /v1/runs/{run_id}/release", api.handleRunRelease)

	mux.HandleFunc("GET /v1/graph", api.handleGraph)

	mux.HandleFunc("POST /v1/scheduler/enqueue", api.handleEnqueue)
	mux.HandleFunc("POST /v1/scheduler/step", api.handleSchedulerStep)
	mux.HandleFunc("GET /v1/scheduler/snapshot", api.handleSchedulerSnapshot)
	mux.HandleFunc("GET /v1/scheduler/stats", api.handleSchedulerStats)
	mux.HandleFunc("GET /v1/scheduler/policy", api.handleGetPolicy)
	mux.HandleFunc("PUT /v1/scheduler/policy", api.handleUpdatePolicy)
}

func (api *orchestratorAPI) actor(r *http.Request) string {
	identity, ok := auth.IdentityFromContext(r.Context())
	if ok && strings.TrimSpace(identity.Subject) != "" {
		return strings.TrimSpace(identity.Subject)
	}
	return "anonymous"
}

func (api *orchestratorAPI) recordAudit(r *http.Request, action, entityID string, payload map[string]any) {
	if api.audit == nil {
		return
	}
	api.audit(r.Context(), api.actor(r), action, entityID, payload)
}

func (api *orchestratorAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func (api *orchestratorAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

// writeRunError maps the engine's error vocabulary onto HTTP statuses.
func (api *orchestratorAPI) writeRunError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, "run_not_found")
	case errors.Is(err, engine.ErrInvalidState):
		api.writeError(w, r, http.StatusConflict, "run_terminal")
	case errors.Is(err, scheduler.ErrQueueFull):
		api.writeError(w, r, http.StatusTooManyRequests, "queue_full")
	case errors.Is(err, engine.ErrUnknownStopMarker):
		api.writeError(w, r, http.StatusBadRequest, "unknown_stop_after")
	default:
		api.logger.ErrorContext(r.Context(), "request failed",
			"request_id", r.Header.Get("X-Request-Id"),
			"path", r.URL.Path,
			"error", err,
		)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 4<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func parseIntQuery(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	return value, nil
}

func clampInt(value, low, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
