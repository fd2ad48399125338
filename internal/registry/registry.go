// Package registry stores the repositories the engine knows how to
// crawl, and the crawl state each one accumulates over time (last
// indexed revisions, checkpoints, scheduling metadata). Grounded on the
// teacher's PostgresStore, which plays the equivalent role for
// downloaded GitHub repositories; generalized here from a single
// download-status column to the fuller CrawlState the scheduler and
// pipeline need to resume and re-crawl incrementally.
package registry

import (
	"context"
	"time"

	"github.com/codegrove/codesearch/internal/models"
)

// Registry is the contract the scheduler, crawl engine and API server
// use to read and update repository configuration and crawl state.
type Registry interface {
	// ListEnabled returns every repository with Enabled set, in no
	// particular order.
	ListEnabled(ctx context.Context) ([]models.Repository, error)

	// Get returns a single repository by id.
	Get(ctx context.Context, id string) (models.Repository, error)

	// UpdateCrawlState persists the crawl bookkeeping (last revisions,
	// checkpoint, timestamps) produced by a completed or in-progress
	// crawl.
	UpdateCrawlState(ctx context.Context, id string, state models.CrawlState) error

	// UpdateLastCrawled stamps a repository's last successful crawl
	// completion time, independent of UpdateCrawlState so a cancelled
	// crawl can update its revisions without advancing this timestamp.
	UpdateLastCrawled(ctx context.Context, id string, completedAt time.Time) error
}
