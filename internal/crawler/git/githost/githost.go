// Package githost implements the Repository Host Crawler (C5's project
// discovery half): list every project visible to a configured
// credential on a GitHub organization or a GitLab group, apply
// excluded_projects/excluded_patterns, and hand each surviving project
// off to a git.Crawler for the actual clone/tree walk. Grounded on the
// teacher's Crawler.searchGitHub, which paginated the GitHub search API.
// Listing here is neither rate-limited nor retried with backoff.
package githost

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/codegrove/codesearch/internal/errs"
	"github.com/codegrove/codesearch/internal/models"
	"github.com/codegrove/codesearch/internal/pipeline"
	"github.com/codegrove/codesearch/internal/progresstracker"
)

// Project is one repository discovered on a host, ready to be handed to
// a git.Crawler.
type Project struct {
	ID            string
	Name          string
	CloneURL      string
	DefaultBranch string
}

// Source lists the projects visible under a namespace (a GitHub org or
// a GitLab group) for a credential. Implemented by githubSource and
// gitlabSource.
type Source interface {
	ListProjects(ctx context.Context, namespace string) ([]Project, error)
}

// Crawler implements pipeline.Crawler by discovering projects via a
// Source and fanning each one out to an inner git.Crawler.
type Crawler struct {
	source  Source
	inner   pipeline.Crawler
	kind    string
	tracker *progresstracker.Tracker

	mu        sync.Mutex
	revisions map[string]map[string]string // target ID -> "project/branch" -> revision
}

// NewGitHub builds a Crawler listing repositories from a GitHub
// organization via a personal access token, delegating blob reads to
// inner (ordinarily a *git.Crawler). tracker may be nil.
func NewGitHub(token string, inner pipeline.Crawler, tracker *progresstracker.Tracker) *Crawler {
	return &Crawler{source: newGitHubSource(token), inner: inner, kind: "github", tracker: tracker}
}

// NewGitLab builds a Crawler listing projects from a GitLab group via a
// personal access token against baseURL (empty for gitlab.com),
// delegating blob reads to inner. tracker may be nil.
func NewGitLab(token, baseURL string, inner pipeline.Crawler, tracker *progresstracker.Tracker) (*Crawler, error) {
	source, err := newGitLabSource(token, baseURL)
	if err != nil {
		return nil, err
	}
	return &Crawler{source: source, inner: inner, kind: "gitlab", tracker: tracker}, nil
}

// Kind implements pipeline.Crawler.
func (c *Crawler) Kind() string { return c.kind }

// Revisions implements pipeline.Revisioner: it returns, and clears, the
// per-project-per-branch head revisions resolved across every project
// discovered the last time Start(ctx, target) ran for this targetID.
func (c *Crawler) Revisions(targetID string) map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.revisions[targetID]
	delete(c.revisions, targetID)
	return out
}

func (c *Crawler) recordRevisions(targetID, projectName string, revisions map[string]string) {
	if len(revisions) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.revisions == nil {
		c.revisions = make(map[string]map[string]string)
	}
	if c.revisions[targetID] == nil {
		c.revisions[targetID] = make(map[string]string)
	}
	for branch, rev := range revisions {
		c.revisions[targetID][projectName+"/"+branch] = rev
	}
}

// projectRevisions extracts the branch revisions scoped to projectName
// out of a target's aggregated "project/branch" -> revision map, so a
// sub-crawl sees plain branch names the way its own target.LastRevisions
// would outside a host fan-out.
func projectRevisions(all map[string]string, projectName string) map[string]string {
	prefix := projectName + "/"
	out := make(map[string]string)
	for key, rev := range all {
		if branch, ok := strings.CutPrefix(key, prefix); ok {
			out[branch] = rev
		}
	}
	return out
}

// Start implements pipeline.Crawler. target.Namespace names the GitHub
// org or GitLab group to enumerate; target.ExcludedProjects and
// target.ExcludedPatterns filter the listing before any clone happens.
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
	projects, err := c.source.ListProjects(ctx, target.Namespace)
	if err != nil {
		return errs.NewNetwork(fmt.Sprintf("list %s projects for %s", c.kind, target.Namespace), err)
	}

	excluded := make(map[string]struct{}, len(target.ExcludedProjects))
	for _, name := range target.ExcludedProjects {
		excluded[name] = struct{}{}
	}

	if c.tracker != nil {
		total := int64(len(projects))
		c.tracker.Update(target.ID, models.ProgressDelta{ProjectsTotal: &total})
	}

	processed := 0
	for _, project := range projects {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if _, skip := excluded[project.Name]; skip {
			continue
		}
		if matchesAnyPattern(project.Name, target.ExcludedPatterns) {
			continue
		}

		sub := target
		sub.ID = fmt.Sprintf("%s/%s", target.ID, project.Name)
		sub.Name = project.Name
		sub.SourceURL = project.CloneURL
		sub.LastRevisions = projectRevisions(target.LastRevisions, project.Name)
		if project.DefaultBranch != "" {
			sub.DefaultBranch = project.DefaultBranch
		}

		innerFiles, innerErrs := c.inner.Start(ctx, sub)
		for f := range innerFiles {
			select {
			case files <- f:
			case <-ctx.Done():
				return nil
			}
		}
		if rv, ok := c.inner.(pipeline.Revisioner); ok {
			c.recordRevisions(target.ID, project.Name, rv.Revisions(sub.ID))
		}
		if err := <-innerErrs; err != nil {
			// One project failing (private fork, deleted since listing,
			// network hiccup) shouldn't abort discovery of the rest.
			continue
		}
		processed++
		if c.tracker != nil {
			c.tracker.Update(target.ID, models.ProgressDelta{ProjectsProcessedDelta: 1})
		}
	}

	return nil
}

func matchesAnyPattern(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
		if strings.Contains(name, pattern) {
			return true
		}
	}
	return false
}
