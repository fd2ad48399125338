// Package fs implements the Filesystem Crawler (C4): it walks a
// directory tree already present on disk, emitting every regular file
// as a DiscoveredFile on a single synthetic branch ("main"), with
// symlink loops broken by tracking canonical paths already visited.
// Grounded on the teacher's UltraFastProcessor.isValidRepository and
// processFile, which walk a repository tree with filepath.WalkDir and
// apply size/extension checks before reading a file's content.
package fs

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/codegrove/codesearch/internal/errs"
	"github.com/codegrove/codesearch/internal/pipeline"
)

// Crawler implements pipeline.Crawler for a local directory tree.
type Crawler struct{}

// New returns a filesystem Crawler.
func New() *Crawler { return &Crawler{} }

// Kind implements pipeline.Crawler.
func (c *Crawler) Kind() string { return "filesystem" }

// Start implements pipeline.Crawler. target.SourceURL is the root
// directory to walk.
func (c *Crawler) Start(ctx context.Context, target pipeline.CrawlTarget) (<-chan pipeline.DiscoveredFile, <-chan error) {
	files := make(chan pipeline.DiscoveredFile)
	errCh := make(chan error, 1)

	go func() {
		defer close(files)
		defer close(errCh)

		if err := c.walk(ctx, target, files); err != nil {
			errCh <- err
		}
	}()

	return files, errCh
}

func (c *Crawler) walk(ctx context.Context, target pipeline.CrawlTarget, files chan<- pipeline.DiscoveredFile) error {
	root := target.SourceURL
	info, err := os.Stat(root)
	if err != nil {
		return errs.NewSystem("stat crawl root", err)
	}
	if !info.IsDir() {
		return errs.NewValidation("crawl root is not a directory")
	}

	visited := make(map[string]struct{})

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return filepath.SkipAll
		}
		if err != nil {
			return nil // unreadable entry; skip rather than abort the crawl
		}

		if d.IsDir() {
			return guardAgainstSymlinkLoop(path, visited)
		}

		if d.Type()&os.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(path)
			if err != nil {
				return nil
			}
			if _, seen := visited[resolved]; seen {
				return nil
			}
			visited[resolved] = struct{}{}
		}

		fi, err := d.Info()
		if err != nil {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}

		df := pipeline.DiscoveredFile{
			Repository:     target.Name,
			RepositoryType: "filesystem",
			Branch:         "main",
			Path:           filepath.ToSlash(rel),
			Content:        content,
			Size:           fi.Size(),
			LastModified:   fi.ModTime(),
			LastRevision:   revisionFor(fi),
		}

		select {
		case files <- df:
		case <-ctx.Done():
			return filepath.SkipAll
		}
		return nil
	})
}

// guardAgainstSymlinkLoop resolves directory symlinks to their
// canonical path and skips the subtree if it's already been visited,
// preventing infinite recursion through a symlink cycle.
func guardAgainstSymlinkLoop(path string, visited map[string]struct{}) error {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return nil
	}
	if _, seen := visited[resolved]; seen {
		return filepath.SkipDir
	}
	visited[resolved] = struct{}{}
	return nil
}

// revisionFor derives a crude revision marker from mtime since plain
// filesystem sources carry no VCS revision of their own; it's enough to
// detect whether a file changed between crawls.
func revisionFor(fi os.FileInfo) string {
	return fi.ModTime().UTC().Format(time.RFC3339Nano)
}
