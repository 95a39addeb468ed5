package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/R3E-Network/testorch/internal/domain/catalog"
)

func TestListCatalogFiltersByTag(t *testing.T) {
	ts, st, ctx, _ := newTestServer(t, testConfig())

	if _, err := st.UpsertTestDefinition(ctx, catalog.TestDefinition{
		TestKey:    "checkout.smoke",
		FolderPath: "checkout",
		SpecPath:   "checkout/smoke.spec.js",
		Meta:       catalog.Meta{FriendlyName: "Smoke", Tags: []string{"smoke"}},
		Active:     true,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := st.UpsertTestDefinition(ctx, catalog.TestDefinition{
		TestKey:    "checkout.full",
		FolderPath: "checkout",
		SpecPath:   "checkout/full.spec.js",
		Meta:       catalog.Meta{FriendlyName: "Full"},
		Active:     true,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	resp, err := http.Get(ts.URL + "/api/catalog?tag=smoke")
	if err != nil {
		t.Fatalf("list catalog: %v", err)
	}
	defer resp.Body.Close()

	var defs []catalog.TestDefinition
	if err := json.NewDecoder(resp.Body).Decode(&defs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(defs) != 1 || defs[0].TestKey != "checkout.smoke" {
		t.Fatalf("expected only checkout.smoke, got %#v", defs)
	}
}

func TestUpdateOverridesReplacesAtomically(t *testing.T) {
	ts, st, ctx, _ := newTestServer(t, testConfig())

	if _, err := st.UpsertTestDefinition(ctx, catalog.TestDefinition{
		TestKey:    "auth.login",
		FolderPath: "auth",
		SpecPath:   "auth/login.spec.js",
		Active:     true,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	body, _ := json.Marshal(catalog.Constants{Shared: map[string]interface{}{"timeoutMs": float64(5000)}})
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/catalog/auth.login/overrides", bytes.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("update overrides: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var updated catalog.TestDefinition
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.Overrides == nil || updated.Overrides.Shared["timeoutMs"] != float64(5000) {
		t.Fatalf("expected overrides to be set, got %#v", updated.Overrides)
	}
}

func TestGetCatalogEntryNotFound(t *testing.T) {
	ts, _, _, _ := newTestServer(t, testConfig())

	resp, err := http.Get(fmt.Sprintf("%s/api/catalog/%s", ts.URL, "missing.key"))
	if err != nil {
		t.Fatalf("get catalog entry: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
