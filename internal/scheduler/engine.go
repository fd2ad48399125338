// Package scheduler implements the Scheduler (C7): one cron-driven timer
// task per auto-crawled repository, a bounded worker pool that actually
// runs crawls, and the overlap policy that drops a tick while the
// previous run for that repository is still active. Grounded on the
// teacher's worker-pool dispatch in UltraFastProcessor (bounded
// goroutines pulling off a channel) generalized from "process these N
// repos once" to "run whichever repo's timer just fired, forever."
package scheduler

import (
	"context"
	"runtime"
	"time"

	"github.com/codegrove/codesearch/internal/logging"
	"github.com/codegrove/codesearch/internal/metrics"
	"github.com/codegrove/codesearch/internal/models"
	"github.com/codegrove/codesearch/internal/pipeline"
	"github.com/codegrove/codesearch/internal/progresstracker"
	"github.com/codegrove/codesearch/internal/registry"
)

// CrawlerFactory builds the pipeline.Crawler appropriate for a
// repository's Kind (filesystem, git, a host-discovered git/gitlab
// group, or svn).
type CrawlerFactory func(repo models.Repository) (pipeline.Crawler, error)

// RulesFactory derives the inclusion/exclusion Rules to apply to a
// repository's files, allowing per-repository overrides of the global
// defaults.
type RulesFactory func(repo models.Repository) pipeline.Rules

// Engine runs crawls: given a repository id, it resolves config from the
// Registry, builds the right Crawler, and drives it through the shared
// Pipeline, reporting progress and persisting crawl state as it goes.
// It enforces the worker-pool concurrency bound described in §5.
type Engine struct {
	reg            registry.Registry
	indexer        pipeline.Indexer
	tracker        *progresstracker.Tracker
	crawlerFactory CrawlerFactory
	rulesFactory   RulesFactory
	batchSize      int
	sem            chan struct{}
}

// NewEngine builds an Engine with a worker pool sized to workers (0
// defaults to GOMAXPROCS, matching §5's "default = CPU count").
func NewEngine(reg registry.Registry, idx pipeline.Indexer, tracker *progresstracker.Tracker, crawlerFactory CrawlerFactory, rulesFactory RulesFactory, batchSize, workers int) *Engine {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Engine{
		reg: reg, indexer: idx, tracker: tracker,
		crawlerFactory: crawlerFactory, rulesFactory: rulesFactory,
		batchSize: batchSize, sem: make(chan struct{}, workers),
	}
}

// Submit starts a crawl for repoID on the worker pool and returns
// immediately, per §6's "run(repo_id) is non-blocking" contract. Errors
// surface in the Progress Record, not as a return value.
func (e *Engine) Submit(repoID string) {
	go func() {
		e.sem <- struct{}{}
		defer func() { <-e.sem }()
		e.run(repoID)
	}()
}

func (e *Engine) run(repoID string) {
	log := logging.Get().WithRepository(repoID)

	repo, err := e.reg.Get(context.Background(), repoID)
	if err != nil {
		log.Error().Err(err).Msg("load repository for crawl")
		return
	}

	ctx, cancel, err := e.tracker.Begin(repoID, repo.Name)
	if err != nil {
		// Overlap: a crawl is already active. Drop the tick.
		log.Info().Msg("crawl already active, dropping scheduled tick")
		return
	}
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, repo.MaxCrawlDuration())
	defer timeoutCancel()

	start := time.Now()
	metrics.CrawlsActive.Inc()
	defer metrics.CrawlsActive.Dec()

	phase := models.PhaseCloning
	e.tracker.Update(repoID, models.ProgressDelta{Phase: &phase})

	crawler, err := e.crawlerFactory(repo)
	if err != nil {
		e.fail(ctx, repo, start, err)
		return
	}

	target := toCrawlTarget(repo)
	files, crawlErrs := crawler.Start(ctx, target)

	phase = models.PhaseProcessing
	e.tracker.Update(repoID, models.ProgressDelta{Phase: &phase})

	rules := e.rulesFactory(repo)
	p := pipeline.New(e.indexer, rules, e.batchSize, e.tracker)

	counters, runErr := p.Run(ctx, repoID, files)
	crawlErr := <-crawlErrs

	outcome := "completed"
	switch {
	case ctx.Err() != nil:
		outcome = "cancelled"
	case runErr != nil || crawlErr != nil:
		outcome = "failed"
	}
	metrics.CrawlDurationSeconds.WithLabelValues(repoID, outcome).Observe(time.Since(start).Seconds())

	switch {
	case ctx.Err() == context.Canceled:
		e.tracker.Finish(repoID, models.PhaseCancelled, "")
		log.Info().Int64("processed", counters.Processed).Msg("crawl cancelled")
		return
	case ctx.Err() == context.DeadlineExceeded:
		e.tracker.Finish(repoID, models.PhaseCancelled, "crawl exceeded its wall-clock budget")
		log.Warn().Msg("crawl exceeded wall-clock budget")
	case runErr != nil:
		e.fail(ctx, repo, start, runErr)
		return
	case crawlErr != nil:
		e.fail(ctx, repo, start, crawlErr)
		return
	default:
		phase = models.PhaseCompleted
		e.tracker.Update(repoID, models.ProgressDelta{Phase: &phase})
		e.tracker.Finish(repoID, models.PhaseCompleted, "")
	}

	if err := e.indexer.Commit(context.Background()); err != nil {
		log.Error().Err(err).Msg("final commit failed")
	}

	completedAt := time.Now()
	state := models.CrawlState{
		LastRevisions:        resolvedRevisions(crawler, target),
		LastCrawlStartedAt:   &start,
		LastCrawlCompletedAt: &completedAt,
		LastCrawlDuration:    time.Since(start),
	}
	if ctx.Err() != nil {
		// Stopped by its wall-clock budget, the crawl ended cancelled and
		// keeps the previous completion time.
		state.LastCrawlCompletedAt = repo.State.LastCrawlCompletedAt
	}
	if err := e.reg.UpdateCrawlState(context.Background(), repoID, state); err != nil {
		log.Error().Err(err).Msg("persist crawl state")
	}
	// A cancelled crawl, including one stopped by its wall-clock budget,
	// does not advance last_crawled_at; only a crawl that ran to
	// completion does.
	if ctx.Err() == nil {
		if err := e.reg.UpdateLastCrawled(context.Background(), repoID, completedAt); err != nil {
			log.Error().Err(err).Msg("update last crawled timestamp")
		}
	}

	log.Info().
		Int64("processed", counters.Processed).
		Int64("indexed", counters.Indexed).
		Int64("skipped", counters.Skipped).
		Dur("duration", time.Since(start)).
		Msg("crawl finished")
}

func (e *Engine) fail(ctx context.Context, repo models.Repository, start time.Time, err error) {
	log := logging.Get().WithRepository(repo.ID)
	log.Error().Err(err).Msg("crawl failed")
	e.tracker.Finish(repo.ID, models.PhaseFailed, err.Error())

	completedAt := time.Now()
	state := models.CrawlState{
		LastCrawlStartedAt:   &start,
		LastCrawlCompletedAt: &completedAt,
		LastCrawlDuration:    time.Since(start),
	}
	if updateErr := e.reg.UpdateCrawlState(context.Background(), repo.ID, state); updateErr != nil {
		log.Error().Err(updateErr).Msg("persist crawl state after failure")
	}
}

func toCrawlTarget(repo models.Repository) pipeline.CrawlTarget {
	return pipeline.CrawlTarget{
		ID:               repo.ID,
		Name:             repo.Name,
		SourceURL:        repo.SourceURL,
		DefaultBranch:    repo.DefaultBranch,
		Namespace:        repo.Namespace,
		ExcludedProjects: repo.ExcludedProjects,
		ExcludedPatterns: repo.ExcludedPatterns,
		CredentialKind:   repo.Credentials.Kind,
		CredentialValues: repo.Credentials.Values,
		LastRevisions:    cloneRevisions(repo.State.LastRevisions),
	}
}

func cloneRevisions(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// resolvedRevisions returns the per-branch head revisions crawler
// resolved during the crawl that just finished, so the next crawl's
// tree diff (§4.5) has something to diff against. Crawlers with no
// incremental model (fs.Crawler) don't implement pipeline.Revisioner;
// for those, the pre-crawl snapshot is preserved unchanged.
func resolvedRevisions(crawler pipeline.Crawler, target pipeline.CrawlTarget) map[string]string {
	rv, ok := crawler.(pipeline.Revisioner)
	if !ok {
		return target.LastRevisions
	}
	resolved := rv.Revisions(target.ID)
	if len(resolved) == 0 {
		return target.LastRevisions
	}
	return resolved
}
