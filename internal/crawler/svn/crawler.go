package svn

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/codegrove/codesearch/internal/pipeline"
)

// Crawler implements pipeline.Crawler for a Subversion repository
// served over HTTP(S) by mod_dav_svn. SVN has no branch concept of its
// own here; the whole repository is treated as a single "trunk" branch
// per §4.4.
type Crawler struct {
	mu        sync.Mutex
	revisions map[string]map[string]string // target ID -> branch -> revision
}

// New returns an SVN Crawler.
func New() *Crawler { return &Crawler{} }

// Kind implements pipeline.Crawler.
func (c *Crawler) Kind() string { return "svn" }

// Revisions implements pipeline.Revisioner: it returns, and clears, the
// trunk revision resolved the last time Start(ctx, target) ran for this
// targetID.
func (c *Crawler) Revisions(targetID string) map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.revisions[targetID]
	delete(c.revisions, targetID)
	return out
}

func (c *Crawler) recordRevision(targetID, branch, revision string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.revisions == nil {
		c.revisions = make(map[string]map[string]string)
	}
	if c.revisions[targetID] == nil {
		c.revisions[targetID] = make(map[string]string)
	}
	c.revisions[targetID][branch] = revision
}

// Start implements pipeline.Crawler. target.SourceURL is the
// repository's DAV root; target.LastRevisions["trunk"], if set, is the
// revision last indexed and limits the crawl to the delta since then.
func (c *Crawler) Start(ctx context.Context, target pipeline.CrawlTarget) (<-chan pipeline.DiscoveredFile, <-chan error) {
	files := make(chan pipeline.DiscoveredFile)
	errCh := make(chan error, 1)

	go func() {
		defer close(files)
		defer close(errCh)

		if err := c.run(ctx, target, files); err != nil {
			errCh <- err
		}
	}()

	return files, errCh
}

func (c *Crawler) run(ctx context.Context, target pipeline.CrawlTarget, files chan<- pipeline.DiscoveredFile) error {
	username, password := target.CredentialValues["username"], target.CredentialValues["password"]
	r := newReporter(target.SourceURL, username, password)

	var lastRev int64
	if raw, ok := target.LastRevisions["trunk"]; ok {
		lastRev, _ = strconv.ParseInt(raw, 10, 64)
	}

	entries, headRev, err := r.fetchChanges(ctx, lastRev)
	if err != nil {
		return err
	}
	c.recordRevision(target.ID, "trunk", strconv.FormatInt(headRev, 10))

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil
		}

		if entry.deleted {
			select {
			case files <- pipeline.DiscoveredFile{
				Repository: target.Name, RepositoryType: "svn", Branch: "trunk",
				Path: entry.path, Deleted: true,
			}:
			case <-ctx.Done():
				return nil
			}
			continue
		}

		mimeType, _ := r.mimeType(ctx, entry.path)
		if isSVNBinaryMime(mimeType) {
			select {
			case files <- pipeline.DiscoveredFile{
				Repository: target.Name, RepositoryType: "svn", Branch: "trunk",
				Path: entry.path, LastRevision: strconv.FormatInt(headRev, 10),
				LastModified: time.Now(),
			}:
			case <-ctx.Done():
				return nil
			}
			continue
		}

		content, err := r.fetchContent(ctx, entry.path)
		if err != nil {
			continue // unreadable entry; skip rather than fail the whole crawl
		}

		select {
		case files <- pipeline.DiscoveredFile{
			Repository: target.Name, RepositoryType: "svn", Branch: "trunk",
			Path: entry.path, Content: content, Size: int64(len(content)),
			LastRevision: strconv.FormatInt(headRev, 10),
			LastModified: time.Now(),
		}:
		case <-ctx.Done():
			return nil
		}
	}

	return nil
}

// isSVNBinaryMime reports whether an svn:mime-type property value
// indicates non-text content, per Subversion's own convention that any
// mime-type other than "text/*" marks a file as binary.
func isSVNBinaryMime(mimeType string) bool {
	if mimeType == "" {
		return false
	}
	return !strings.HasPrefix(mimeType, "text/")
}
