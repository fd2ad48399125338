package scheduler

import (
	"testing"

	"github.com/codegrove/codesearch/internal/models"
	"github.com/codegrove/codesearch/internal/pipeline"
	"github.com/codegrove/codesearch/internal/progresstracker"
	"github.com/codegrove/codesearch/internal/registry"
)

func newTestScheduler() *Scheduler {
	reg := registry.NewMemory()
	engine := NewEngine(reg, &fakeIndexer{}, progresstracker.New(),
		func(models.Repository) (pipeline.Crawler, error) { return &fakeCrawler{}, nil },
		func(models.Repository) pipeline.Rules { return pipeline.Rules{} },
		10, 2,
	)
	return New(engine, reg)
}

func TestScheduler_Schedule_RegistersNextRun(t *testing.T) {
	s := newTestScheduler()
	s.cron.Start()
	defer s.cron.Stop()

	repo := models.Repository{ID: "repo1", Name: "example", CronExpression: "0 * * * * *"}
	if err := s.Schedule(repo); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	next, ok := s.NextRun("repo1")
	if !ok {
		t.Fatal("expected a scheduled next run")
	}
	if next.IsZero() {
		t.Error("expected a non-zero next run time")
	}
}

func TestScheduler_Schedule_IsIdempotent(t *testing.T) {
	s := newTestScheduler()
	s.cron.Start()
	defer s.cron.Stop()

	repo := models.Repository{ID: "repo1", Name: "example", CronExpression: "0 * * * * *"}
	if err := s.Schedule(repo); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if err := s.Schedule(repo); err != nil {
		t.Fatalf("second Schedule() error = %v", err)
	}

	status := s.Status()
	if status.ScheduledCount != 1 {
		t.Errorf("expected exactly one scheduled entry after rescheduling, got %d", status.ScheduledCount)
	}
}

func TestScheduler_Unschedule_RemovesEntry(t *testing.T) {
	s := newTestScheduler()
	s.cron.Start()
	defer s.cron.Stop()

	repo := models.Repository{ID: "repo1", Name: "example", CronExpression: "0 * * * * *"}
	if err := s.Schedule(repo); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	s.Unschedule("repo1")

	if _, ok := s.NextRun("repo1"); ok {
		t.Error("expected no next run after unscheduling")
	}
	if status := s.Status(); status.ScheduledCount != 0 {
		t.Errorf("expected 0 scheduled entries, got %d", status.ScheduledCount)
	}
}

func TestScheduler_Schedule_UsesFrequencyFallback(t *testing.T) {
	s := newTestScheduler()
	s.cron.Start()
	defer s.cron.Stop()

	repo := models.Repository{ID: "repo1", Name: "example", CrawlFrequencyHours: 6}
	if err := s.Schedule(repo); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if _, ok := s.NextRun("repo1"); !ok {
		t.Fatal("expected a scheduled next run derived from crawl_frequency_hours")
	}
}

func TestScheduler_Schedule_RejectsRepositoryWithNoSchedule(t *testing.T) {
	s := newTestScheduler()

	repo := models.Repository{ID: "repo1", Name: "example"}
	if err := s.Schedule(repo); err == nil {
		t.Error("expected an error when neither cron_expression nor crawl_frequency_hours is set")
	}
}
