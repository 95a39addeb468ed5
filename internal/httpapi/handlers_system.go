package httpapi

import "net/http"

// systemStatus handles GET /system/status.
func (h *handlers) systemStatus(w http.ResponseWriter, r *http.Request) {
	if h.deps.Health == nil {
		writeError(w, http.StatusInternalServerError, "health reporter not configured")
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Health.Report(r.Context()))
}
