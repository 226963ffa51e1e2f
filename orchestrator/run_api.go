package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/forgeline-labs/forgeline-go/internal/domain"
	"github.com/forgeline-labs/forgeline-go/internal/execution/engine"
	"github.com/forgeline-labs/forgeline-go/internal/repo"
	"github.com/forgeline-labs/forgeline-go/internal/storage/objectstore"
)

type createRunRequest struct {
	TenantID   string `json:"tenant_id"`
	WorkItemID string `json:"work_item_id"`
	Phase      string `json:"phase,omitempty"`
}

func (api *orchestratorAPI) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		api.writeError(w, r, http.StatusBadRequest, "tenant_id_required")
		return
	}
	workItemID := strings.TrimSpace(req.WorkItemID)
	if workItemID == "" {
		api.writeError(w, r, http.StatusBadRequest, "work_item_id_required")
		return
	}

	run := domain.Run{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		WorkItemID: workItemID,
		Phase:      strings.TrimSpace(req.Phase),
		Status:     domain.RunStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	created, err := api.runs.Create(r.Context(), run)
	if err != nil {
		api.writeRunError(w, r, err)
		return
	}

	api.recordAudit(r, "run.create", created.ID, map[string]any{
		"tenant_id":    created.TenantID,
		"work_item_id": created.WorkItemID,
	})
	api.writeJSON(w, http.StatusCreated, created)
}

func (api *orchestratorAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunFilter{
		TenantID: strings.TrimSpace(r.URL.Query().Get("tenant_id")),
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := domain.NormalizeRunStatus(raw)
		if err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_status")
			return
		}
		filter.Status = status
	}

	limit, err := parseIntQuery(r, "limit", 50)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_limit")
		return
	}
	offset, err := parseIntQuery(r, "offset", 0)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_offset")
		return
	}
	filter.Limit = clampInt(limit, 1, 500)
	filter.Offset = clampInt(offset, 0, 1<<20)

	runs, err := api.runs.List(r.Context(), filter)
	if err != nil {
		api.writeRunError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (api *orchestratorAPI) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := api.runs.Get(r.Context(), r.PathValue("run_id"))
	if err != nil {
		api.writeRunError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, run)
}

type startRunRequest struct {
	StopAfter       string         `json:"stop_after,omitempty"`
	MaxVerifyLoops  int            `json:"max_verify_loops,omitempty"`
	ForceVerifyFail bool           `json:"force_verify_fail,omitempty"`
	InjectFailures  map[string]int `json:"inject_failures,omitempty"`
}

func (req startRunRequest) options() engine.StartOptions {
	return engine.StartOptions{
		StopAfter:       req.StopAfter,
		MaxVerifyLoops:  req.MaxVerifyLoops,
		ForceVerifyFail: req.ForceVerifyFail,
		InjectFailures:  req.InjectFailures,
	}
}

func (api *orchestratorAPI) handleStartRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")

	var req startRunRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}
	}

	run, err := api.eng.Start(r.Context(), runID, req.options())
	if err != nil {
		api.writeRunError(w, r, err)
		return
	}

	api.recordAudit(r, "run.start", run.ID, map[string]any{
		"status":     string(run.Status),
		"stop_after": req.StopAfter,
	})
	api.writeJSON(w, http.StatusOK, run)
}

func (api *orchestratorAPI) handleResumeRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")

	var req startRunRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}
	}

	run, err := api.eng.Resume(r.Context(), runID, req.options())
	if err != nil {
		api.writeRunError(w, r, err)
		return
	}

	api.recordAudit(r, "run.resume", run.ID, map[string]any{
		"status":     string(run.Status),
		"stop_after": req.StopAfter,
	})
	api.writeJSON(w, http.StatusOK, run)
}

func (api *orchestratorAPI) handleRunHistory(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	attempts, err := api.eng.History(r.Context(), runID)
	if err != nil {
		api.writeRunError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"run_id":   runID,
		"attempts": attempts,
	})
}

// handleRunRelease presigns a download link for the run's published
// release bundle.
func (api *orchestratorAPI) handleRunRelease(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	run, err := api.runs.Get(r.Context(), runID)
	if err != nil {
		api.writeRunError(w, r, err)
		return
	}
	if run.Status != domain.RunStatusCompleted {
		api.writeError(w, r, http.StatusConflict, "run_not_completed")
		return
	}
	if api.releases == nil {
		api.writeError(w, r, http.StatusNotFound, "release_not_found")
		return
	}

	key := objectstore.ReleaseBundleKey(run.ID)
	info, err := api.releases.Stat(r.Context(), key)
	if err != nil {
		api.writeError(w, r, http.StatusNotFound, "release_not_found")
		return
	}
	url, err := api.releases.PresignGet(r.Context(), key, 10*time.Minute)
	if err != nil {
		api.writeRunError(w, r, err)
		return
	}

	api.writeJSON(w, http.StatusOK, map[string]any{
		"run_id":       run.ID,
		"key":          key,
		"size":         info.Size,
		"content_type": info.ContentType,
		"url":          url,
	})
}

type graphStep struct {
	Name    string `json:"name"`
	Budget  int    `json:"budget"`
	Looping bool   `json:"looping"`
}

func (api *orchestratorAPI) handleGraph(w http.ResponseWriter, r *http.Request) {
	steps := make([]graphStep, 0, api.def.Len())
	for _, step := range api.def.Steps {
		steps = append(steps, graphStep{
			Name:    step.Name,
			Budget:  step.Budget(),
			Looping: step.Loop != nil,
		})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"steps": steps})
}
