package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/R3E-Network/testorch/internal/domain/catalog"
	"github.com/R3E-Network/testorch/internal/domain/run"
)

func TestCreateRunHappyPath(t *testing.T) {
	ts, st, ctx, _ := newTestServer(t, testConfig())

	if _, err := st.UpsertTestDefinition(ctx, catalog.TestDefinition{
		TestKey:    "auth.basic-login",
		FolderPath: "auth",
		SpecPath:   "auth/basic-login.spec.js",
		Meta:       catalog.Meta{FriendlyName: "Basic login"},
		Active:     true,
	}); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}

	body, _ := json.Marshal(createRunRequest{
		TestKeys:    []string{"auth.basic-login"},
		Environment: "SIT1",
		UserEmail:   "qa@example.com",
	})

	resp, err := http.Post(ts.URL+"/api/runs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post run: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var created run.Run
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.Status != run.StatusQueued {
		t.Fatalf("expected queued status, got %s", created.Status)
	}
}

func TestCreateRunDeniedForUnauthorizedEnvironment(t *testing.T) {
	ts, st, ctx, _ := newTestServer(t, testConfig())

	if _, err := st.UpsertTestDefinition(ctx, catalog.TestDefinition{
		TestKey:    "x",
		FolderPath: "x",
		SpecPath:   "x/x.spec.js",
		Active:     true,
	}); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}

	body, _ := json.Marshal(createRunRequest{
		TestKeys:    []string{"x"},
		Environment: "PROD",
		UserEmail:   "dev@example.com",
	})

	resp, err := http.Post(ts.URL+"/api/runs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post run: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}

	var envelope map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	want := "User dev@example.com does not have access to environment PROD"
	if envelope["error"] != want {
		t.Fatalf("expected error %q, got %q", want, envelope["error"])
	}
}

func TestCreateRunEmptyResolutionIsBadRequest(t *testing.T) {
	ts, _, _, _ := newTestServer(t, testConfig())

	body, _ := json.Marshal(createRunRequest{
		TestKeys:    []string{"does.not.exist"},
		Environment: "SIT1",
		UserEmail:   "qa@example.com",
	})

	resp, err := http.Post(ts.URL+"/api/runs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post run: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCancelRunRejectsTerminalRun(t *testing.T) {
	ts, st, ctx, _ := newTestServer(t, testConfig())

	created, err := st.CreateRun(ctx, run.Run{
		TriggerType:      run.TriggerManual,
		Environment:      "SIT1",
		TriggeredByEmail: "qa@example.com",
	}, nil)
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := st.TransitionRunStatus(ctx, created.ID, run.StatusPassed, &run.Summary{}); err != nil {
		t.Fatalf("transition run: %v", err)
	}

	resp, err := http.Post(fmt.Sprintf("%s/api/runs/%s/cancel", ts.URL, created.ID), "application/json", nil)
	if err != nil {
		t.Fatalf("cancel run: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for terminal run, got %d", resp.StatusCode)
	}
}

func TestCancelRunNotFound(t *testing.T) {
	ts, _, _, _ := newTestServer(t, testConfig())

	resp, err := http.Post(fmt.Sprintf("%s/api/runs/%s/cancel", ts.URL, "missing-run"), "application/json", nil)
	if err != nil {
		t.Fatalf("cancel run: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for nonexistent run, got %d", resp.StatusCode)
	}
}
