// Package pipeline implements the crawler-independent half of ingestion:
// the Crawler contract every source (filesystem, git, svn) implements,
// and the shared filtering/batching/commit pipeline that turns a stream
// of discovered files into committed index documents. Grounded on the
// teacher's Downloader, which plays the same role (quality filter, circuit
// breaker around the sink, batch stats) one layer up the stack.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/codegrove/codesearch/internal/errs"
	"github.com/codegrove/codesearch/internal/logging"
	"github.com/codegrove/codesearch/internal/metrics"
	"github.com/codegrove/codesearch/internal/models"
	"github.com/codegrove/codesearch/internal/progresstracker"
)

// Counters tracks a crawl's running totals. Run keeps its own *Counters
// and returns a Snapshot of it when the crawl ends.
type Counters struct {
	mu        sync.Mutex
	Processed int64
	Indexed   int64
	Skipped   int64
	Failed    int64
}

func (c *Counters) addProcessed(n int64) {
	c.mu.Lock()
	c.Processed += n
	c.mu.Unlock()
}
func (c *Counters) addIndexed(n int64) {
	c.mu.Lock()
	c.Indexed += n
	c.mu.Unlock()
}
func (c *Counters) addSkipped(n int64) {
	c.mu.Lock()
	c.Skipped += n
	c.mu.Unlock()
}
func (c *Counters) addFailed(n int64) {
	c.mu.Lock()
	c.Failed += n
	c.mu.Unlock()
}

// Snapshot returns a copy of the current counts.
func (c *Counters) Snapshot() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Counters{Processed: c.Processed, Indexed: c.Indexed, Skipped: c.Skipped, Failed: c.Failed}
}

// DiscoveredFile is one file handed from a Crawler to the pipeline,
// before binary detection or size filtering has been applied.
type DiscoveredFile struct {
	Repository     string
	RepositoryType string
	Branch         string
	Project        string
	Path           string
	Content        []byte
	Size           int64
	LastModified   time.Time
	LastAuthor     string
	LastRevision   string

	// Deleted marks a path removed since the last crawl (incremental git
	// diffs and SVN delete-entry editor calls set this); the pipeline
	// issues a Delete instead of an Upsert.
	Deleted bool
}

// Indexer is the subset of the search index service the pipeline writes
// through. Implemented by index.Service.
type Indexer interface {
	Upsert(ctx context.Context, doc models.Document) error
	Delete(ctx context.Context, id string) error
	Commit(ctx context.Context) error
}

// Rules configures which discovered files the pipeline accepts, applied
// in the order listed in §4.3.
type Rules struct {
	DirsToExclude       []string
	FilesToInclude      []string // overrides FilesToExclude/ExtensionsToExclude/MimesToExclude
	FilesToExclude      []string
	ExtensionsToExclude []string
	MimesToExclude      []string // extensions mapped to excluded MIME types; default when empty
	ReadableExtensions  []string // always decoded as text, bypassing the null-byte sniff
	MinFileSizeBytes    int64
	MaxFileSizeBytes    int64 // default 20 MiB when zero
	ExcludedPatterns    []string
	ContentFilter       ContentFilter // optional, nil disables
}

const defaultMaxIndexableSize = 20 * 1024 * 1024

func (r Rules) maxSize() int64 {
	if r.MaxFileSizeBytes <= 0 {
		return defaultMaxIndexableSize
	}
	return r.MaxFileSizeBytes
}

func (r Rules) mimesToExclude() []string {
	if len(r.MimesToExclude) == 0 {
		return defaultMimesToExclude
	}
	return r.MimesToExclude
}

// Pipeline applies Rules to a stream of DiscoveredFile, converts
// survivors to models.Document, and commits them to an Indexer in
// batches.
type Pipeline struct {
	indexer   Indexer
	rules     Rules
	batchSize int
	tracker   *progresstracker.Tracker
}

// New builds a Pipeline writing through indexer, batching commits every
// batchSize documents.
func New(indexer Indexer, rules Rules, batchSize int, tracker *progresstracker.Tracker) *Pipeline {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Pipeline{indexer: indexer, rules: rules, batchSize: batchSize, tracker: tracker}
}

// Run consumes files from the channel until it's closed or ctx is
// cancelled, indexing survivors and reporting progress against repoID.
// It returns the final counters and the first indexing error encountered,
// if any; a cancelled context is not itself treated as an error.
func (p *Pipeline) Run(ctx context.Context, repoID string, files <-chan DiscoveredFile) (Counters, error) {
	counters := &Counters{}
	pending := make([]models.Document, 0, p.batchSize)
	pendingDeletes := make([]string, 0)

	flush := func() error {
		if len(pending) == 0 && len(pendingDeletes) == 0 {
			return nil
		}
		start := time.Now()
		for _, doc := range pending {
			if err := p.indexer.Upsert(ctx, doc); err != nil {
				metrics.CrawlBatchesFailedTotal.WithLabelValues(repoID).Inc()
				return errs.NewDatabase("upsert document", err)
			}
		}
		for _, id := range pendingDeletes {
			if err := p.indexer.Delete(ctx, id); err != nil {
				metrics.CrawlBatchesFailedTotal.WithLabelValues(repoID).Inc()
				return errs.NewDatabase("delete document", err)
			}
		}
		indexedCount := len(pending)
		if err := p.indexer.Commit(ctx); err != nil {
			var partial errs.PartialFailure
			if errors.As(err, &partial) {
				// Per §4.1/§7: a bulk call that succeeded but failed some
				// of its items is recorded and counted, not fatal.
				failed := partial.FailedIDs()
				indexedCount -= len(failed)
				if indexedCount < 0 {
					indexedCount = 0
				}
				metrics.FilesFailedTotal.WithLabelValues(repoID).Add(float64(len(failed)))
				counters.addFailed(int64(len(failed)))
				logging.Get().WithRepository(repoID).
					Warn().Strs("document_ids", failed).Msg("partial bulk commit failure")
			} else {
				metrics.CrawlBatchesFailedTotal.WithLabelValues(repoID).Inc()
				return errs.NewDatabase("commit batch", err)
			}
		}
		metrics.BatchCommitSeconds.WithLabelValues(repoID).Observe(time.Since(start).Seconds())
		metrics.FilesIndexedTotal.WithLabelValues(repoID).Add(float64(indexedCount))
		counters.addIndexed(int64(indexedCount))
		pending = pending[:0]
		pendingDeletes = pendingDeletes[:0]
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			_ = flush()
			return counters.Snapshot(), nil
		case f, ok := <-files:
			if !ok {
				err := flush()
				return counters.Snapshot(), err
			}

			counters.addProcessed(1)
			if p.tracker != nil {
				current := f.Path
				p.tracker.Update(repoID, models.ProgressDelta{FilesProcessedDelta: 1, CurrentFile: &current})
			}

			if f.Deleted {
				pendingDeletes = append(pendingDeletes, models.DocumentID(repoID, f.Branch, f.Path))
				if len(pending)+len(pendingDeletes) >= p.batchSize {
					if err := flush(); err != nil {
						return counters.Snapshot(), err
					}
				}
				continue
			}

			doc, skip, reason := p.convert(repoID, f)
			if skip {
				counters.addSkipped(1)
				metrics.FilesSkippedTotal.WithLabelValues(repoID, reason).Inc()
				if p.tracker != nil {
					p.tracker.Update(repoID, models.ProgressDelta{FilesSkippedDelta: 1})
				}
				continue
			}

			pending = append(pending, doc)
			if len(pending)+len(pendingDeletes) >= p.batchSize {
				if err := flush(); err != nil {
					return counters.Snapshot(), err
				}
			}
		}
	}
}

// convert applies the §4.3 ordered rule set, binary detection, and
// optional content filtering, and produces the Document to index.
func (p *Pipeline) convert(repoID string, f DiscoveredFile) (models.Document, bool, string) {
	name, ext := splitNameExt(f.Path)

	// Rule 1: directory exclusion.
	if containsDir(f.Path, p.rules.DirsToExclude) {
		return models.Document{}, true, "excluded_dir"
	}

	// Rule 2: explicit include overrides rules 3-5.
	included := matchesAny(name, p.rules.FilesToInclude)
	if !included {
		// Rule 3: filename exclusion or backup-file suffix.
		if matchesAny(name, p.rules.FilesToExclude) || strings.HasSuffix(name, "~") {
			return models.Document{}, true, "excluded_file"
		}
		// Rule 4: extension exclusion.
		if extIn(ext, p.rules.ExtensionsToExclude) {
			return models.Document{}, true, "excluded_extension"
		}
		// Rule 5: recognized binary MIME/extension exclusion.
		if extIn(ext, p.rules.mimesToExclude()) {
			return models.Document{}, true, "excluded_mime"
		}
	}

	if f.Size < p.rules.MinFileSizeBytes {
		return models.Document{}, true, "too_small"
	}
	// Rule 6: size budget.
	if f.Size > p.rules.maxSize() {
		return models.Document{}, true, "too_large"
	}
	if matchesAny(f.Path, p.rules.ExcludedPatterns) {
		return models.Document{}, true, "excluded_pattern"
	}

	// Rule 7: a trusted extension always decodes as text; otherwise a
	// null byte in the content marks it binary and the document is
	// indexed metadata-only rather than skipped.
	hasContent := extIn(ext, p.rules.ReadableExtensions) || !hasNullByte(f.Content)
	content := ""
	if hasContent {
		content = decodeBestEffort(f.Content)
	}

	if hasContent && p.rules.ContentFilter != nil {
		if !p.rules.ContentFilter.Accept(f.Path, content) {
			return models.Document{}, true, "content_filter"
		}
	}

	project, version := deriveProjectVersion(f.Path, f.Repository, f.Branch)
	if f.Project != "" {
		project = f.Project
	}

	doc := models.Document{
		ID:             models.DocumentID(repoID, f.Branch, f.Path),
		Repository:     f.Repository,
		RepositoryType: f.RepositoryType,
		Branch:         version,
		Project:        project,
		Path:           f.Path,
		Name:           name,
		Extension:      ext,
		Content:        content,
		Size:           uint64(f.Size),
		LastModified:   f.LastModified,
		LastAuthor:     f.LastAuthor,
		LastRevision:   f.LastRevision,
		HasContent:     hasContent,
	}
	return doc, false, ""
}
