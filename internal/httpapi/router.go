package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes wires every handler onto router. Run-creation and
// artifact-serving endpoints carry the email-aware rate limiter; everything
// else is unthrottled beyond the IP-keyed limiter applied to the whole tree.
func registerRoutes(router *mux.Router, deps Deps, ipLimiter, emailLimiter *rateLimiter) {
	h := &handlers{deps: deps}

	// Registered via router.Use (not wrapped outside the router) so
	// mux.CurrentRoute is populated when metricsMiddleware records the
	// matched route's path template.
	router.Use(ipLimiter.middleware())
	router.Use(metricsMiddleware(deps.Metrics))

	api := router.PathPrefix("/api").Subrouter()

	catalog := api.PathPrefix("/catalog").Subrouter()
	catalog.HandleFunc("", h.listCatalog).Methods("GET")
	catalog.HandleFunc("/tags", h.listTags).Methods("GET")
	catalog.HandleFunc("/folders", h.listFolders).Methods("GET")
	catalog.HandleFunc("/{testKey}", h.getCatalogEntry).Methods("GET")
	catalog.HandleFunc("/{testKey}/overrides", h.updateOverrides).Methods("PUT")

	emailLimited := func(f http.HandlerFunc) http.Handler {
		return emailLimiter.middleware()(f)
	}

	runs := api.PathPrefix("/runs").Subrouter()
	runs.Handle("", emailLimited(h.createRun)).Methods("POST")
	runs.HandleFunc("", h.listRuns).Methods("GET")
	runs.HandleFunc("/{runId}", h.getRun).Methods("GET")
	runs.HandleFunc("/{runId}/cancel", h.cancelRun).Methods("POST")
	runs.Handle("/{runId}/tests/{testKey}/logs", emailLimited(h.testLogs)).Methods("GET")
	runs.Handle("/{runId}/tests/{testKey}/screenshot", emailLimited(h.testScreenshot)).Methods("GET")
	runs.Handle("/{runId}/tests/{testKey}/artifacts/{fileName}", emailLimited(h.artifact)).Methods("GET")

	schedules := api.PathPrefix("/schedules").Subrouter()
	schedules.HandleFunc("", h.createSchedule).Methods("POST")
	schedules.HandleFunc("", h.listSchedules).Methods("GET")
	schedules.HandleFunc("/{scheduleId}", h.getSchedule).Methods("GET")
	schedules.HandleFunc("/{scheduleId}", h.updateSchedule).Methods("PUT")
	schedules.HandleFunc("/{scheduleId}", h.deleteSchedule).Methods("DELETE")

	dashboard := api.PathPrefix("/dashboard").Subrouter()
	dashboard.HandleFunc("/active-runs", h.activeRuns).Methods("GET")
	dashboard.HandleFunc("/pass-rate", h.passRate).Methods("GET")
	dashboard.HandleFunc("/total-executions", h.totalExecutions).Methods("GET")
	dashboard.HandleFunc("/flaky-tests", h.flakyTests).Methods("GET")
	dashboard.HandleFunc("/environment-health", h.environmentHealth).Methods("GET")
	dashboard.HandleFunc("/tests/{testKey}", h.testStats).Methods("GET")

	router.HandleFunc("/system/status", h.systemStatus).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	if deps.Hub != nil {
		router.HandleFunc("/ws/dashboard", deps.Hub.ServeWS)
	}
}
