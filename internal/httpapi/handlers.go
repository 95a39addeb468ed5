package httpapi

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/testorch/internal/aggregation"
	"github.com/R3E-Network/testorch/internal/config"
	"github.com/R3E-Network/testorch/internal/store"
)

// handlers holds the dependencies every route handler closes over.
type handlers struct {
	deps Deps
}

func (h *handlers) store() *store.Store                 { return h.deps.Store }
func (h *handlers) aggregator() *aggregation.Aggregator { return h.deps.Aggregator }
func (h *handlers) cfg() *config.Config                 { return h.deps.Config }

func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

func queryInt(r *http.Request, name string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// mapStoreError translates a store error into an HTTP status/message.
func mapStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal server error")
}
