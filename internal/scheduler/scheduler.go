package scheduler

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/codegrove/codesearch/internal/errs"
	"github.com/codegrove/codesearch/internal/logging"
	"github.com/codegrove/codesearch/internal/models"
	"github.com/codegrove/codesearch/internal/registry"
)

// NextRun describes one scheduled repository's upcoming occurrence, as
// returned by Status.
type NextRun struct {
	RepositoryID   string    `json:"repo_id"`
	RepositoryName string    `json:"name"`
	NextAt         time.Time `json:"next_at"`
	Expression     string    `json:"expression"`
}

// Status is the §4.7 scheduler status payload.
type Status struct {
	Running        bool      `json:"running"`
	ScheduledCount int       `json:"scheduled_count"`
	NextRuns       []NextRun `json:"next_runs"`
}

type scheduledEntry struct {
	entryID    cron.EntryID
	repoName   string
	expression string
}

// Scheduler parses cron expressions and maintains one timer task per
// scheduled repository, invoking Engine.Submit when a tick fires.
// Grounded on robfig/cron/v3's own job-entry model; the with-seconds
// parser matches §4.7's 6-field expression format.
type Scheduler struct {
	cron    *cron.Cron
	engine  *Engine
	reg     registry.Registry
	mu      sync.Mutex
	entries map[string]scheduledEntry
	running bool
}

// New builds a Scheduler driving engine from cron ticks, using reg to
// rehydrate auto-crawl repositories at Start.
func New(engine *Engine, reg registry.Registry) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		engine:  engine,
		reg:     reg,
		entries: make(map[string]scheduledEntry),
	}
}

// Start begins the cron dispatch loop and reschedules every enabled,
// auto_crawl repository. Per §4.7, a repository whose next occurrence
// would be in the past is not back-filled — only cron.Schedule.Next is
// ever consulted, which always returns a strictly future time.
func (s *Scheduler) Start(ctx context.Context) error {
	repos, err := s.reg.ListEnabled(ctx)
	if err != nil {
		return errs.Wrap(err, errs.TypeDatabase, "list enabled repositories at startup")
	}
	for _, r := range repos {
		if !r.AutoCrawl {
			continue
		}
		if err := s.Schedule(r); err != nil {
			logging.Get().WithRepository(r.ID).Error().Err(err).Msg("reschedule at startup")
		}
	}

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	s.cron.Start()
	return nil
}

// Stop halts the cron dispatch loop, waiting for in-flight tick
// callbacks (not crawls themselves, which run on the worker pool) to
// return.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Schedule registers or replaces repo's timer task from its
// cron_expression. Idempotent: calling it again for the same repository
// id cancels the previous entry first.
func (s *Scheduler) Schedule(repo models.Repository) error {
	expr := repo.CronExpression
	if expr == "" {
		expr = frequencyToCron(repo.CrawlFrequencyHours)
	}
	if expr == "" {
		return errs.NewValidation("repository has neither cron_expression nor crawl_frequency_hours")
	}

	repoID := repo.ID
	id, err := s.cron.AddFunc(expr, func() { s.engine.Submit(repoID) })
	if err != nil {
		return errs.Wrap(err, errs.TypeValidation, "parse cron expression")
	}

	s.mu.Lock()
	if existing, ok := s.entries[repoID]; ok {
		s.cron.Remove(existing.entryID)
	}
	s.entries[repoID] = scheduledEntry{entryID: id, repoName: repo.Name, expression: expr}
	s.mu.Unlock()

	return nil
}

// Unschedule cancels repoID's timer task, if any.
func (s *Scheduler) Unschedule(repoID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[repoID]; ok {
		s.cron.Remove(existing.entryID)
		delete(s.entries, repoID)
	}
}

// Reschedule is Schedule under another name: replacing an existing
// entry is already idempotent.
func (s *Scheduler) Reschedule(repo models.Repository) error {
	return s.Schedule(repo)
}

// NextRun returns repoID's next scheduled occurrence, computed directly
// from its cron.Entry.
func (s *Scheduler) NextRun(repoID string) (time.Time, bool) {
	s.mu.Lock()
	entry, ok := s.entries[repoID]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(entry.entryID).Next, true
}

// Status reports the scheduler's running state and every scheduled
// repository's next occurrence, per §4.7.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{Running: s.running, ScheduledCount: len(s.entries)}
	for repoID, e := range s.entries {
		status.NextRuns = append(status.NextRuns, NextRun{
			RepositoryID:   repoID,
			RepositoryName: e.repoName,
			NextAt:         s.cron.Entry(e.entryID).Next,
			Expression:     e.expression,
		})
	}
	return status
}

// frequencyToCron turns a crawl_frequency_hours convenience setting
// into an equivalent 6-field cron expression, firing at minute/second 0
// every N hours.
func frequencyToCron(hours int) string {
	if hours <= 0 {
		return ""
	}
	return "0 0 */" + strconv.Itoa(hours) + " * * *"
}
