package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/R3E-Network/testorch/internal/domain/catalog"
	"github.com/R3E-Network/testorch/internal/domain/run"
	"github.com/R3E-Network/testorch/internal/domain/schedule"
	"github.com/R3E-Network/testorch/internal/logging"
	"github.com/R3E-Network/testorch/internal/metrics"
	"github.com/R3E-Network/testorch/internal/store"
)

func newTestMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

type fakeScheduleStore struct {
	mu        sync.Mutex
	schedules []schedule.Schedule
	triggered map[string]time.Time
}

func (f *fakeScheduleStore) ListSchedules(ctx context.Context, enabledOnly bool) ([]schedule.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []schedule.Schedule
	for _, s := range f.schedules {
		if !enabledOnly || s.Enabled {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeScheduleStore) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.triggered == nil {
		f.triggered = map[string]time.Time{}
	}
	f.triggered[id] = at
	for i := range f.schedules {
		if f.schedules[i].ID == id {
			f.schedules[i].LastTriggeredAt = &at
		}
	}
	return nil
}

type fakeRunStore struct {
	mu         sync.Mutex
	created    []run.Run
	activeFor  map[string]bool
}

func (f *fakeRunStore) CreateRun(ctx context.Context, r run.Run, tests []run.NewTestInput) (run.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = "run-" + r.Environment
	f.created = append(f.created, r)
	return r, nil
}

func (f *fakeRunStore) HasActiveRunForSchedule(ctx context.Context, scheduleID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeFor[scheduleID], nil
}

type fakeCatalogStore struct {
	defs []catalog.TestDefinition
}

func (f *fakeCatalogStore) ListTestDefinitions(ctx context.Context, filter store.CatalogFilter) ([]catalog.TestDefinition, error) {
	var out []catalog.TestDefinition
	for _, d := range f.defs {
		if filter.FolderPrefix != "" && !hasPrefix(d.FolderPath, filter.FolderPrefix) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func TestIsDueNeverTriggered(t *testing.T) {
	sch := schedule.Schedule{Cron: "* * * * *"}
	due, err := isDue(sch, time.Now().UTC())
	if err != nil {
		t.Fatalf("is due: %v", err)
	}
	if !due {
		t.Fatalf("expected a never-triggered minutely schedule to be due")
	}
}

func TestIsDueRespectsLastTriggered(t *testing.T) {
	now := time.Now().UTC()
	last := now
	sch := schedule.Schedule{Cron: "*/5 * * * *", LastTriggeredAt: &last}
	due, err := isDue(sch, now.Add(1*time.Second))
	if err != nil {
		t.Fatalf("is due: %v", err)
	}
	if due {
		t.Fatalf("expected schedule not due one second after triggering")
	}
}

func TestIsDueInvalidCronReturnsError(t *testing.T) {
	sch := schedule.Schedule{Cron: "not a cron expression"}
	if _, err := isDue(sch, time.Now().UTC()); err == nil {
		t.Fatalf("expected error for invalid cron expression")
	}
}

func TestTickCreatesRunForDueSchedule(t *testing.T) {
	scheduleStore := &fakeScheduleStore{schedules: []schedule.Schedule{
		{ID: "s1", Name: "nightly", Cron: "* * * * *", Enabled: true, Environment: "SIT1", Selector: schedule.Selector{Type: schedule.SelectorFolder, FolderPrefix: "checkout"}},
	}}
	runStore := &fakeRunStore{activeFor: map[string]bool{}}
	catalogStore := &fakeCatalogStore{defs: []catalog.TestDefinition{
		{ID: "d1", TestKey: "checkout-a", FolderPath: "checkout/a", Active: true},
		{ID: "d2", TestKey: "auth-login", FolderPath: "auth/login", Active: true},
	}}

	s := New(scheduleStore, runStore, catalogStore, logging.New("test", "error", "text"), newTestMetrics())
	s.tick(context.Background())

	if len(runStore.created) != 1 {
		t.Fatalf("expected 1 run created, got %d", len(runStore.created))
	}
	if runStore.created[0].TriggerType != run.TriggerSchedule {
		t.Fatalf("expected schedule-triggered run")
	}
	if scheduleStore.triggered["s1"].IsZero() {
		t.Fatalf("expected lastTriggeredAt to be stamped")
	}
}

func TestTickSuppressesOverlap(t *testing.T) {
	scheduleStore := &fakeScheduleStore{schedules: []schedule.Schedule{
		{ID: "s1", Cron: "* * * * *", Enabled: true, Environment: "SIT1", Selector: schedule.Selector{Type: schedule.SelectorExplicit, TestKeys: []string{"a"}}},
	}}
	runStore := &fakeRunStore{activeFor: map[string]bool{"s1": true}}
	catalogStore := &fakeCatalogStore{}

	s := New(scheduleStore, runStore, catalogStore, logging.New("test", "error", "text"), newTestMetrics())
	s.tick(context.Background())

	if len(runStore.created) != 0 {
		t.Fatalf("expected no run created while a prior run is active, got %d", len(runStore.created))
	}
	if _, ok := scheduleStore.triggered["s1"]; ok {
		t.Fatalf("expected lastTriggeredAt not to be touched when suppressed")
	}
}

func TestTickSkipsDisabledSchedules(t *testing.T) {
	scheduleStore := &fakeScheduleStore{schedules: []schedule.Schedule{
		{ID: "s1", Cron: "* * * * *", Enabled: false, Environment: "SIT1"},
	}}
	runStore := &fakeRunStore{activeFor: map[string]bool{}}
	catalogStore := &fakeCatalogStore{}

	s := New(scheduleStore, runStore, catalogStore, logging.New("test", "error", "text"), newTestMetrics())
	s.tick(context.Background())

	if len(runStore.created) != 0 {
		t.Fatalf("expected disabled schedule not to be evaluated")
	}
}
