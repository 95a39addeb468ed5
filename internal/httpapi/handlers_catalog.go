package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/R3E-Network/testorch/internal/domain/catalog"
	"github.com/R3E-Network/testorch/internal/store"
)

// listCatalog handles GET /api/catalog?folderPrefix=&tag=&activeOnly=.
func (h *handlers) listCatalog(w http.ResponseWriter, r *http.Request) {
	filter := store.CatalogFilter{
		FolderPrefix: r.URL.Query().Get("folderPrefix"),
		Tag:          r.URL.Query().Get("tag"),
		ActiveOnly:   r.URL.Query().Get("activeOnly") == "true",
	}
	defs, err := h.store().ListTestDefinitions(r.Context(), filter)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, defs)
}

// getCatalogEntry handles GET /api/catalog/{testKey}.
func (h *handlers) getCatalogEntry(w http.ResponseWriter, r *http.Request) {
	def, err := h.store().GetTestDefinitionByKey(r.Context(), pathVar(r, "testKey"))
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// listTags handles GET /api/catalog/tags.
func (h *handlers) listTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.store().ListTags(r.Context())
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

// listFolders handles GET /api/catalog/folders.
func (h *handlers) listFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := h.store().ListFolderPaths(r.Context())
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, folders)
}

// updateOverrides handles PUT /api/catalog/{testKey}/overrides. The request
// body replaces the entry's overrides atomically; a JSON null or an object
// with no shared or environment values clears them. An empty body is not
// valid JSON and is rejected with 400.
func (h *handlers) updateOverrides(w http.ResponseWriter, r *http.Request) {
	testKey := pathVar(r, "testKey")
	existing, err := h.store().GetTestDefinitionByKey(r.Context(), testKey)
	if err != nil {
		mapStoreError(w, err)
		return
	}

	var overrides *catalog.Constants
	dec := json.NewDecoder(r.Body)
	var body catalog.Constants
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid overrides payload")
		return
	}
	if !isEmptyConstants(body) {
		overrides = &body
	}

	updated, err := h.store().UpdateOverrides(r.Context(), existing.ID, overrides)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func isEmptyConstants(c catalog.Constants) bool {
	return len(c.Shared) == 0 && len(c.Environments) == 0
}
