package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/R3E-Network/testorch/internal/domain/run"
)

func TestLogsReturnsSubstringFromOffset(t *testing.T) {
	ts, st, ctx, artifactRoot := newTestServer(t, testConfig())

	created, err := st.CreateRun(ctx, run.Run{
		TriggerType: run.TriggerManual,
		Environment: "SIT1",
	}, []run.NewTestInput{{TestID: "t1", TestKey: "checkout.smoke"}})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	testDir := filepath.Join(artifactRoot, created.ID, "checkout.smoke")
	if err := os.MkdirAll(testDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(testDir, "console.log"), []byte("hello world"), 0o644); err != nil {
		t.Fatalf("write console.log: %v", err)
	}

	url := fmt.Sprintf("%s/api/runs/%s/tests/checkout.smoke/logs?offset=6", ts.URL, created.ID)
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body logResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Content != "world" {
		t.Fatalf("expected %q, got %q", "world", body.Content)
	}
	if body.Offset != 11 {
		t.Fatalf("expected new offset 11, got %d", body.Offset)
	}
	if body.Finished {
		t.Fatalf("expected finished=false for a pending test")
	}
}

func TestLogsMissingFileReturnsEmptyContent(t *testing.T) {
	ts, st, ctx, _ := newTestServer(t, testConfig())

	created, err := st.CreateRun(ctx, run.Run{
		TriggerType: run.TriggerManual,
		Environment: "SIT1",
	}, []run.NewTestInput{{TestID: "t1", TestKey: "checkout.smoke"}})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	url := fmt.Sprintf("%s/api/runs/%s/tests/checkout.smoke/logs?offset=0", ts.URL, created.ID)
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	defer resp.Body.Close()

	var body logResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Content != "" {
		t.Fatalf("expected empty content, got %q", body.Content)
	}
}

func TestArtifactRejectsPathTraversal(t *testing.T) {
	ts, _, _, _ := newTestServer(t, testConfig())

	url := fmt.Sprintf("%s/api/runs/run1/tests/tk/artifacts/%s", ts.URL, "..%2F..%2Fetc%2Fpasswd")
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get artifact: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for path traversal, got %d", resp.StatusCode)
	}
}

func TestScreenshotNotFound(t *testing.T) {
	ts, _, _, _ := newTestServer(t, testConfig())

	resp, err := http.Get(ts.URL + "/api/runs/run1/tests/tk/screenshot")
	if err != nil {
		t.Fatalf("get screenshot: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
