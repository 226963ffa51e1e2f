package main

import (
	"net/http"
	"strings"

	"github.com/forgeline-labs/forgeline-go/internal/scheduler"
)

type enqueueRequest struct {
	RunID    string `json:"run_id"`
	Priority int    `json:"priority,omitempty"`
}

func (api *orchestratorAPI) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(req.RunID) == "" {
		api.writeError(w, r, http.StatusBadRequest, "run_id_required")
		return
	}

	entry, created, err := api.coordinator.Enqueue(r.Context(), req.RunID, req.Priority)
	if err != nil {
		api.writeRunError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	api.writeJSON(w, status, map[string]any{
		"entry":   entry,
		"created": created,
	})
}

func (api *orchestratorAPI) handleSchedulerStep(w http.ResponseWriter, r *http.Request) {
	result, err := api.coordinator.Step(r.Context())
	if err != nil {
		api.writeRunError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, result)
}

func (api *orchestratorAPI) handleSchedulerSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := api.coordinator.Snapshot(r.Context())
	if err != nil {
		api.writeRunError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, snapshot)
}

func (api *orchestratorAPI) handleSchedulerStats(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, api.coordinator.GetStats())
}

func (api *orchestratorAPI) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, api.coordinator.GetPolicy())
}

func (api *orchestratorAPI) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var policy scheduler.Policy
	if err := decodeJSON(r, &policy); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	updated, err := api.coordinator.UpdatePolicy(r.Context(), policy)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_policy")
		return
	}
	api.writeJSON(w, http.StatusOK, updated)
}
