// Package scheduler evaluates cron-driven schedules and materializes them
// into runs, with overlap suppression.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/testorch/internal/domain/catalog"
	"github.com/R3E-Network/testorch/internal/domain/run"
	"github.com/R3E-Network/testorch/internal/domain/schedule"
	"github.com/R3E-Network/testorch/internal/logging"
	"github.com/R3E-Network/testorch/internal/metrics"
	"github.com/R3E-Network/testorch/internal/store"
	"github.com/R3E-Network/testorch/internal/system"
)

const tickInterval = 30 * time.Second

// ScheduleStore is the persistence dependency for reading and updating
// schedules.
type ScheduleStore interface {
	ListSchedules(ctx context.Context, enabledOnly bool) ([]schedule.Schedule, error)
	MarkTriggered(ctx context.Context, id string, at time.Time) error
}

// RunStore is the persistence dependency for creating runs and checking
// overlap.
type RunStore interface {
	CreateRun(ctx context.Context, r run.Run, tests []run.NewTestInput) (run.Run, error)
	HasActiveRunForSchedule(ctx context.Context, scheduleID string) (bool, error)
}

// CatalogStore resolves a schedule's selector to active test definitions.
type CatalogStore interface {
	ListTestDefinitions(ctx context.Context, filter store.CatalogFilter) ([]catalog.TestDefinition, error)
}

// cronParser accepts standard 5-field expressions and the extended 6-field
// (leading seconds) form, per spec.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

var _ system.Service = (*Scheduler)(nil)
var _ system.DescriptorProvider = (*Scheduler)(nil)

// Scheduler fires every 30 seconds and materializes any due, non-overlapping
// schedule into a new run.
type Scheduler struct {
	schedules ScheduleStore
	runs      RunStore
	catalog   CatalogStore
	log       *logging.Logger
	metrics   *metrics.Metrics

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New builds a Scheduler.
func New(schedules ScheduleStore, runs RunStore, catalog CatalogStore, log *logging.Logger, m *metrics.Metrics) *Scheduler {
	return &Scheduler{schedules: schedules, runs: runs, catalog: catalog, log: log, metrics: m}
}

// Name identifies the service for the lifecycle manager.
func (s *Scheduler) Name() string { return "scheduler" }

// Descriptor advertises the scheduler's architectural placement.
func (s *Scheduler) Descriptor() system.Descriptor {
	return system.Descriptor{Name: "scheduler", Layer: system.LayerEngine, Capabilities: []string{"cron", "dispatch"}}
}

// Start begins the 30-second evaluation tick.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.tick(runCtx)
			}
		}
	}()

	s.log.WithContext(ctx).Info("scheduler started")
	return nil
}

// Stop halts the evaluation tick.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.WithContext(ctx).Info("scheduler stopped")
	return nil
}

// tick evaluates every enabled schedule. Like the queue's admission tick,
// this runs synchronously inside the Start goroutine's select loop, so a
// slow tick cannot overlap with the next.
func (s *Scheduler) tick(ctx context.Context) {
	log := s.log.WithContext(ctx)

	schedules, err := s.schedules.ListSchedules(ctx, true)
	if err != nil {
		log.WithError(err).Warn("scheduler tick: list enabled schedules")
		return
	}

	now := time.Now().UTC()
	triggered := false
	for _, sch := range schedules {
		if s.evaluate(ctx, sch, now) {
			triggered = true
		}
	}
	s.metrics.RecordScheduleTick(triggered)
}

// evaluate checks one schedule against now and, if due and non-overlapping,
// materializes it into a run. Returns whether a run was created.
func (s *Scheduler) evaluate(ctx context.Context, sch schedule.Schedule, now time.Time) bool {
	log := s.log.WithContext(ctx).WithField("schedule_id", sch.ID)

	due, err := isDue(sch, now)
	if err != nil {
		log.WithError(err).Error("invalid cron expression")
		return false
	}
	if !due {
		return false
	}

	active, err := s.runs.HasActiveRunForSchedule(ctx, sch.ID)
	if err != nil {
		log.WithError(err).Warn("check overlap for schedule")
		return false
	}
	if active {
		return false
	}

	defs, err := s.resolveSelector(ctx, sch.Selector)
	if err != nil {
		log.WithError(err).Warn("resolve schedule selector")
		return false
	}

	tests := make([]run.NewTestInput, 0, len(defs))
	for _, def := range defs {
		tests = append(tests, run.NewTestInput{TestID: def.ID, TestKey: def.TestKey})
	}

	scheduleID := sch.ID
	_, err = s.runs.CreateRun(ctx, run.Run{
		TriggerType:  run.TriggerSchedule,
		Environment:  sch.Environment,
		ScheduleID:   &scheduleID,
		RunOverrides: sch.DefaultRunOverrides,
		Metadata:     run.Metadata{"scheduleName": sch.Name, "selectorType": string(sch.Selector.Type)},
	}, tests)
	if err != nil {
		log.WithError(err).Error("create scheduled run")
		return false
	}

	if err := s.schedules.MarkTriggered(ctx, sch.ID, now); err != nil {
		log.WithError(err).Error("mark schedule triggered")
	}
	return true
}

// isDue interprets sch.Cron against lastTriggeredAt (or epoch, if never
// triggered) as the reference point: the schedule is due iff the next
// firing computed from that reference has already arrived.
func isDue(sch schedule.Schedule, now time.Time) (bool, error) {
	parsed, err := cronParser.Parse(sch.Cron)
	if err != nil {
		return false, fmt.Errorf("parse cron %q: %w", sch.Cron, err)
	}
	reference := time.Unix(0, 0).UTC()
	if sch.LastTriggeredAt != nil {
		reference = sch.LastTriggeredAt.UTC()
	}
	next := parsed.Next(reference)
	return !next.After(now), nil
}

// resolveSelector materializes a schedule's tagged selector into the
// concrete set of currently-active test definitions it names.
func (s *Scheduler) resolveSelector(ctx context.Context, sel schedule.Selector) ([]catalog.TestDefinition, error) {
	switch sel.Type {
	case schedule.SelectorFolder:
		return s.catalog.ListTestDefinitions(ctx, store.CatalogFilter{FolderPrefix: sel.FolderPrefix, ActiveOnly: true})
	case schedule.SelectorTags:
		all, err := s.catalog.ListTestDefinitions(ctx, store.CatalogFilter{ActiveOnly: true})
		if err != nil {
			return nil, err
		}
		out := make([]catalog.TestDefinition, 0, len(all))
		for _, def := range all {
			for _, tag := range sel.Tags {
				if def.HasTag(tag) {
					out = append(out, def)
					break
				}
			}
		}
		return out, nil
	case schedule.SelectorExplicit:
		all, err := s.catalog.ListTestDefinitions(ctx, store.CatalogFilter{ActiveOnly: true})
		if err != nil {
			return nil, err
		}
		want := make(map[string]struct{}, len(sel.TestKeys))
		for _, key := range sel.TestKeys {
			want[key] = struct{}{}
		}
		out := make([]catalog.TestDefinition, 0, len(want))
		for _, def := range all {
			if _, ok := want[def.TestKey]; ok {
				out = append(out, def)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown selector type %q", sel.Type)
	}
}
