package httpapi

import (
	"database/sql"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/R3E-Network/testorch/internal/domain/run"
)

type logResponse struct {
	Content  string `json:"content"`
	Offset   int64  `json:"offset"`
	Finished bool   `json:"finished"`
}

func (h *handlers) testDir(runID, testKey string) string {
	return filepath.Join(h.deps.ArtifactRoot, runID, testKey)
}

func (h *handlers) findRunTest(r *http.Request, runID, testKey string) (run.Test, error) {
	tests, err := h.store().ListRunTests(r.Context(), runID)
	if err != nil {
		return run.Test{}, err
	}
	for _, t := range tests {
		if t.TestKey == testKey {
			return t, nil
		}
	}
	return run.Test{}, sql.ErrNoRows
}

// testLogs handles GET …/logs?offset=N, returning the byte substring of
// console.log starting at N and the new total length.
func (h *handlers) testLogs(w http.ResponseWriter, r *http.Request) {
	runID, testKey := pathVar(r, "runId"), pathVar(r, "testKey")
	offset := int64(queryInt(r, "offset", 0))

	t, err := h.findRunTest(r, runID, testKey)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	finished := t.Status == run.TestStatusPassed || t.Status == run.TestStatusFailed || t.Status == run.TestStatusSkipped

	path := filepath.Join(h.testDir(runID, testKey), "console.log")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeJSON(w, http.StatusOK, logResponse{Content: "", Offset: offset, Finished: finished})
			return
		}
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	total := int64(len(data))
	if offset < 0 || offset > total {
		offset = total
	}
	writeJSON(w, http.StatusOK, logResponse{Content: string(data[offset:]), Offset: total, Finished: finished})
}

// testScreenshot handles GET …/screenshot, serving the driver's latest
// opportunistically-written live.jpg.
func (h *handlers) testScreenshot(w http.ResponseWriter, r *http.Request) {
	runID, testKey := pathVar(r, "runId"), pathVar(r, "testKey")
	path := filepath.Join(h.testDir(runID, testKey), "live.jpg")

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "no screenshot available")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = io.Copy(w, f)
}

// artifact handles GET …/artifacts/{fileName}, path-safe serving rooted at
// the test's artifact directory.
func (h *handlers) artifact(w http.ResponseWriter, r *http.Request) {
	runID, testKey, fileName := pathVar(r, "runId"), pathVar(r, "testKey"), pathVar(r, "fileName")

	if strings.Contains(fileName, "..") || strings.ContainsAny(fileName, "/\\") {
		writeError(w, http.StatusBadRequest, "invalid file name")
		return
	}

	path := filepath.Join(h.testDir(runID, testKey), fileName)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "artifact not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	defer f.Close()

	http.ServeContent(w, r, fileName, time.Time{}, f)
}
