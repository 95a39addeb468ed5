package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/R3E-Network/testorch/internal/domain/run"
	"github.com/R3E-Network/testorch/internal/store"
)

type createRunRequest struct {
	TestKeys     []string               `json:"testKeys"`
	Environment  string                 `json:"environment"`
	UserEmail    string                 `json:"userEmail"`
	RunOverrides map[string]interface{} `json:"runOverrides,omitempty"`
}

type runWithTests struct {
	run.Run
	Tests []run.Test `json:"tests"`
}

// createRun handles POST /api/runs.
func (h *handlers) createRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Environment = strings.TrimSpace(req.Environment)
	req.UserEmail = strings.TrimSpace(req.UserEmail)

	if req.Environment == "" || req.UserEmail == "" || len(req.TestKeys) == 0 {
		writeError(w, http.StatusBadRequest, "testKeys, environment, and userEmail are required")
		return
	}
	if !h.cfg().Environments.Known(req.Environment) {
		writeError(w, http.StatusBadRequest, "unknown environment "+req.Environment)
		return
	}
	if !requireEnvironmentAccess(w, h.cfg().Users, req.UserEmail, req.Environment) {
		return
	}

	var tests []run.NewTestInput
	for _, key := range req.TestKeys {
		def, err := h.store().GetTestDefinitionByKey(r.Context(), key)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				h.deps.Log.WithContext(r.Context()).WithField("testKey", key).Warn("unknown test key dropped from run")
				continue
			}
			mapStoreError(w, err)
			return
		}
		if !def.Active {
			h.deps.Log.WithContext(r.Context()).WithField("testKey", key).Warn("inactive test key dropped from run")
			continue
		}
		tests = append(tests, run.NewTestInput{TestID: def.ID, TestKey: def.TestKey})
	}
	if len(tests) == 0 {
		writeError(w, http.StatusBadRequest, "no active test definitions matched the requested testKeys")
		return
	}

	created, err := h.store().CreateRun(r.Context(), run.Run{
		TriggerType:      run.TriggerManual,
		Environment:      req.Environment,
		TriggeredByEmail: req.UserEmail,
		RunOverrides:     req.RunOverrides,
	}, tests)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	if h.deps.Hub != nil {
		h.publishActiveRunCounts(r.Context())
	}
	writeJSON(w, http.StatusCreated, created)
}

// listRuns handles GET /api/runs?status=&environment=&limit=.
func (h *handlers) listRuns(w http.ResponseWriter, r *http.Request) {
	filter := store.RunFilter{
		Status:      run.Status(r.URL.Query().Get("status")),
		Environment: r.URL.Query().Get("environment"),
		Limit:       queryInt(r, "limit", 0),
	}
	runs, err := h.store().ListRuns(r.Context(), filter)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// getRun handles GET /api/runs/{runId}, returning the run with its tests.
func (h *handlers) getRun(w http.ResponseWriter, r *http.Request) {
	runID := pathVar(r, "runId")
	rn, err := h.store().GetRun(r.Context(), runID)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	tests, err := h.store().ListRunTests(r.Context(), runID)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runWithTests{Run: rn, Tests: tests})
}

// cancelRun handles POST /api/runs/{runId}/cancel. store.CancelRun returns
// sql.ErrNoRows both when the run doesn't exist and when it exists but is
// already terminal, so existence is checked separately to tell a 404 apart
// from a 400.
func (h *handlers) cancelRun(w http.ResponseWriter, r *http.Request) {
	runID := pathVar(r, "runId")
	if _, err := h.store().GetRun(r.Context(), runID); err != nil {
		mapStoreError(w, err)
		return
	}
	if err := h.store().CancelRun(r.Context(), runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusBadRequest, "run is already in a terminal state")
			return
		}
		mapStoreError(w, err)
		return
	}
	if h.deps.Hub != nil {
		h.publishActiveRunCounts(r.Context())
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// publishActiveRunCounts pushes the latest running/queued counts to every
// connected dashboard websocket client. Best-effort: a query failure is
// logged and otherwise ignored, since the polling endpoints remain
// authoritative.
func (h *handlers) publishActiveRunCounts(ctx context.Context) {
	active, err := h.aggregator().ActiveRuns(ctx)
	if err != nil {
		h.deps.Log.WithContext(ctx).WithError(err).Warn("failed to refresh dashboard counts for broadcast")
		return
	}
	h.deps.Hub.Broadcast(DashboardCounts{RunningCount: active.Running, QueuedCount: active.Queued})
}
