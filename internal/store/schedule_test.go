package store

import (
	"testing"
	"time"

	"github.com/R3E-Network/testorch/internal/domain/run"
	"github.com/R3E-Network/testorch/internal/domain/schedule"
)

func TestCreateAndUpdateSchedule(t *testing.T) {
	s, ctx := newTestStore(t)

	created, err := s.CreateSchedule(ctx, schedule.Schedule{
		Name:        "nightly regression",
		Cron:        "0 2 * * *",
		Enabled:     true,
		Environment: "staging",
		Selector:    schedule.Selector{Type: schedule.SelectorTags, Tags: []string{"regression"}},
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected generated id")
	}

	created.Cron = "0 3 * * *"
	created.Selector = schedule.Selector{Type: schedule.SelectorFolder, FolderPrefix: "checkout"}
	updated, err := s.UpdateSchedule(ctx, created)
	if err != nil {
		t.Fatalf("update schedule: %v", err)
	}
	if updated.Cron != "0 3 * * *" {
		t.Fatalf("expected updated cron, got %s", updated.Cron)
	}
	if updated.Selector.Type != schedule.SelectorFolder {
		t.Fatalf("expected updated selector type, got %s", updated.Selector.Type)
	}

	fetched, err := s.GetSchedule(ctx, created.ID)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if fetched.CreatedAt.IsZero() {
		t.Fatalf("expected created_at to survive update")
	}
}

func TestListSchedulesEnabledOnly(t *testing.T) {
	s, ctx := newTestStore(t)

	if _, err := s.CreateSchedule(ctx, schedule.Schedule{Name: "a", Cron: "@hourly", Enabled: true, Environment: "staging"}); err != nil {
		t.Fatalf("create a: %v", err)
	}
	if _, err := s.CreateSchedule(ctx, schedule.Schedule{Name: "b", Cron: "@hourly", Enabled: false, Environment: "staging"}); err != nil {
		t.Fatalf("create b: %v", err)
	}

	all, err := s.ListSchedules(ctx, false)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 schedules, got %d", len(all))
	}

	enabled, err := s.ListSchedules(ctx, true)
	if err != nil {
		t.Fatalf("list enabled: %v", err)
	}
	if len(enabled) != 1 || enabled[0].Name != "a" {
		t.Fatalf("expected only schedule a enabled, got %#v", enabled)
	}
}

func TestDeleteScheduleSetsRunScheduleIDNull(t *testing.T) {
	s, ctx := newTestStore(t)

	sched, err := s.CreateSchedule(ctx, schedule.Schedule{Name: "nightly", Cron: "@hourly", Enabled: true, Environment: "staging"})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	scheduleID := sched.ID
	created, err := s.CreateRun(ctx, run.Run{TriggerType: run.TriggerSchedule, Environment: "staging", ScheduleID: &scheduleID}, nil)
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	if err := s.DeleteSchedule(ctx, sched.ID); err != nil {
		t.Fatalf("delete schedule: %v", err)
	}

	fetched, err := s.GetRun(ctx, created.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if fetched.ScheduleID != nil {
		t.Fatalf("expected run's schedule_id to be nulled out, got %v", *fetched.ScheduleID)
	}
}

func TestMarkTriggered(t *testing.T) {
	s, ctx := newTestStore(t)
	sched, err := s.CreateSchedule(ctx, schedule.Schedule{Name: "nightly", Cron: "@hourly", Enabled: true, Environment: "staging"})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	if sched.LastTriggeredAt != nil {
		t.Fatalf("expected no last triggered time initially")
	}

	now := time.Now().UTC().Truncate(time.Second)
	if err := s.MarkTriggered(ctx, sched.ID, now); err != nil {
		t.Fatalf("mark triggered: %v", err)
	}

	fetched, err := s.GetSchedule(ctx, sched.ID)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if fetched.LastTriggeredAt == nil || !fetched.LastTriggeredAt.Equal(now) {
		t.Fatalf("expected last triggered at %v, got %v", now, fetched.LastTriggeredAt)
	}
}
