package httpapi

import "net/http"

// activeRuns handles GET /api/dashboard/active-runs.
func (h *handlers) activeRuns(w http.ResponseWriter, r *http.Request) {
	result, err := h.aggregator().ActiveRuns(r.Context())
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// passRate handles GET /api/dashboard/pass-rate?days=.
func (h *handlers) passRate(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	result, err := h.aggregator().PassRate(r.Context(), days)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// totalExecutions handles GET /api/dashboard/total-executions?days=.
func (h *handlers) totalExecutions(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	result, err := h.aggregator().TotalExecutions(r.Context(), days)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// flakyTests handles GET /api/dashboard/flaky-tests?days=&minExecutions=.
func (h *handlers) flakyTests(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 14)
	minExecutions := queryInt(r, "minExecutions", 5)
	result, err := h.aggregator().Flakiness(r.Context(), days, minExecutions)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// environmentHealth handles GET /api/dashboard/environment-health?days=.
func (h *handlers) environmentHealth(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	result, err := h.aggregator().EnvironmentHealthReport(r.Context(), days)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// testStats handles GET /api/dashboard/tests/{testKey}?days=.
func (h *handlers) testStats(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 30)
	result, err := h.aggregator().PerTestStats(r.Context(), pathVar(r, "testKey"), days)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
