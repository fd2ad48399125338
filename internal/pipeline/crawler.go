package pipeline

import "context"

// Crawler is implemented by each source type (filesystem, git, git host,
// svn). The engine calls Start once per crawl invocation and ends a
// crawl early by cancelling the context passed to Start, mirroring the
// teacher's circuit-breaker-guarded Downloader but generalized from a
// single git-clone operation to an arbitrary file stream.
type Crawler interface {
	// Start begins crawling and emits DiscoveredFile values on the
	// returned channel until the crawl completes or ctx is cancelled, at
	// which point the channel is closed. The returned error channel
	// receives at most one error.
	Start(ctx context.Context, repo CrawlTarget) (<-chan DiscoveredFile, <-chan error)

	// Kind identifies the crawler for logging and metrics labeling.
	Kind() string
}

// Revisioner is implemented by a Crawler that tracks per-branch head
// revisions as it crawls. After Start's channels drain, the engine calls
// Revisions(targetID) to get the revisions resolved for that crawl and
// persists them as the checkpoint for the next incremental crawl.
// Filesystem crawlers, which have no incremental model, don't implement
// it.
type Revisioner interface {
	Revisions(targetID string) map[string]string
}

// CrawlTarget is the subset of models.Repository a Crawler needs,
// isolated so crawler implementations don't import the registry.
type CrawlTarget struct {
	ID               string
	Name             string
	SourceURL        string
	DefaultBranch    string
	Namespace        string
	ExcludedProjects []string
	ExcludedPatterns []string
	CredentialKind   string
	CredentialValues map[string]string
	LastRevisions    map[string]string
	ResumeCheckpoint *ResumeCheckpoint
	WorkspaceDir     string
}

// ResumeCheckpoint mirrors models.ResumeCheckpoint without importing the
// registry's model package from the crawler packages.
type ResumeCheckpoint struct {
	Phase                string
	LastProcessedProject string
	LastProcessedBranch  string
}

// ContentFilter is an optional hook that can reject files past the
// structural rules (size, extension, excluded pattern), e.g. to drop
// vendored or generated code. Disabled by default.
type ContentFilter interface {
	Accept(path, content string) bool
}
