package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/testorch/internal/domain/schedule"
)

// cronParser validates the basic 5- or 6-field cron shape at creation time,
// mirroring the scheduler's own parser configuration.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

type scheduleRequest struct {
	Name                string                 `json:"name"`
	Cron                string                 `json:"cron"`
	Enabled             bool                   `json:"enabled"`
	Environment         string                 `json:"environment"`
	Selector            schedule.Selector      `json:"selector"`
	DefaultRunOverrides map[string]interface{} `json:"defaultRunOverrides,omitempty"`
	UserEmail           string                 `json:"userEmail"`
}

// createSchedule handles POST /api/schedules.
func (h *handlers) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.validateScheduleRequest(w, &req) {
		return
	}

	created, err := h.store().CreateSchedule(r.Context(), schedule.Schedule{
		Name:                req.Name,
		Cron:                req.Cron,
		Enabled:             req.Enabled,
		Environment:         req.Environment,
		Selector:            req.Selector,
		DefaultRunOverrides: req.DefaultRunOverrides,
		CreatedByEmail:      req.UserEmail,
		UpdatedByEmail:      req.UserEmail,
	})
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// updateSchedule handles PUT /api/schedules/{scheduleId}.
func (h *handlers) updateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.validateScheduleRequest(w, &req) {
		return
	}

	id := pathVar(r, "scheduleId")
	existing, err := h.store().GetSchedule(r.Context(), id)
	if err != nil {
		mapStoreError(w, err)
		return
	}

	existing.Name = req.Name
	existing.Cron = req.Cron
	existing.Enabled = req.Enabled
	existing.Environment = req.Environment
	existing.Selector = req.Selector
	existing.DefaultRunOverrides = req.DefaultRunOverrides
	existing.UpdatedByEmail = req.UserEmail

	updated, err := h.store().UpdateSchedule(r.Context(), existing)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handlers) validateScheduleRequest(w http.ResponseWriter, req *scheduleRequest) bool {
	req.Name = strings.TrimSpace(req.Name)
	req.Environment = strings.TrimSpace(req.Environment)
	req.UserEmail = strings.TrimSpace(req.UserEmail)

	if req.Name == "" || req.Environment == "" || req.UserEmail == "" || req.Cron == "" {
		writeError(w, http.StatusBadRequest, "name, cron, environment, and userEmail are required")
		return false
	}
	fields := strings.Fields(req.Cron)
	if len(fields) < 5 || len(fields) > 6 {
		writeError(w, http.StatusBadRequest, "cron expression must have 5 or 6 whitespace-separated fields")
		return false
	}
	if _, err := cronParser.Parse(req.Cron); err != nil {
		writeError(w, http.StatusBadRequest, "malformed cron expression")
		return false
	}
	if !h.cfg().Environments.Known(req.Environment) {
		writeError(w, http.StatusBadRequest, "unknown environment "+req.Environment)
		return false
	}
	if !requireEnvironmentAccess(w, h.cfg().Users, req.UserEmail, req.Environment) {
		return false
	}
	return true
}

// listSchedules handles GET /api/schedules?enabledOnly=.
func (h *handlers) listSchedules(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabledOnly") == "true"
	schedules, err := h.store().ListSchedules(r.Context(), enabledOnly)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schedules)
}

// getSchedule handles GET /api/schedules/{scheduleId}.
func (h *handlers) getSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := h.store().GetSchedule(r.Context(), pathVar(r, "scheduleId"))
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

// deleteSchedule handles DELETE /api/schedules/{scheduleId}.
func (h *handlers) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := h.store().DeleteSchedule(r.Context(), pathVar(r, "scheduleId")); err != nil {
		mapStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
