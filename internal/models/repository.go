package models

import "time"

// RepositoryKind identifies the protocol a Repository is crawled with.
type RepositoryKind string

const (
	KindGit        RepositoryKind = "git"
	KindGitLab     RepositoryKind = "gitlab"
	KindGitHub     RepositoryKind = "github"
	KindSVN        RepositoryKind = "svn"
	KindFileSystem RepositoryKind = "filesystem"
)

// Credentials is opaque to the core: the registry stores it, crawlers
// interpret it according to Kind.
type Credentials struct {
	Kind   string            `json:"kind,omitempty"` // "token", "ssh-key", "basic", ""
	Values map[string]string `json:"values,omitempty"`
}

// ResumeCheckpoint captures where a crawl left off so a restart can
// resume instead of starting over, as long as it is still fresh.
type ResumeCheckpoint struct {
	Phase                 string `json:"phase"`
	LastProcessedProject  string `json:"last_processed_project,omitempty"`
	LastProcessedBranch   string `json:"last_processed_branch,omitempty"`
}

// CrawlState is the portion of a Repository mutated by the engine.
type CrawlState struct {
	// LastRevisions maps branch name to the last indexed commit (Git) or
	// revision number (SVN) for that branch.
	LastRevisions        map[string]string `json:"last_revisions,omitempty"`
	LastCrawlStartedAt   *time.Time        `json:"last_crawl_started_at,omitempty"`
	LastCrawlCompletedAt *time.Time        `json:"last_crawl_completed_at,omitempty"`
	LastCrawlDuration    time.Duration     `json:"last_crawl_duration,omitempty"`
	Checkpoint           *ResumeCheckpoint `json:"checkpoint,omitempty"`
}

// Repository is the source of files the engine crawls.
type Repository struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	SourceURL   string         `json:"source_url"`
	Kind        RepositoryKind `json:"kind"`
	Enabled     bool           `json:"enabled"`
	Credentials Credentials    `json:"credentials"`

	DefaultBranch string `json:"default_branch"`

	// Namespace and excludes apply to host-level sources (GitLab/GitHub
	// group or org crawling) where a single Repository config fans out
	// into many discovered projects.
	Namespace        string   `json:"namespace,omitempty"`
	ExcludedProjects []string `json:"excluded_projects,omitempty"`
	ExcludedPatterns []string `json:"excluded_patterns,omitempty"`

	AutoCrawl               bool   `json:"auto_crawl"`
	CronExpression          string `json:"cron_expression,omitempty"`
	CrawlFrequencyHours     int    `json:"crawl_frequency_hours,omitempty"`
	MaxCrawlDurationMinutes int    `json:"max_crawl_duration_minutes"`

	State CrawlState `json:"state"`
}

// MaxCrawlDuration returns the configured wall-clock budget, defaulting
// to 120 minutes when unset.
func (r *Repository) MaxCrawlDuration() time.Duration {
	if r.MaxCrawlDurationMinutes <= 0 {
		return 120 * time.Minute
	}
	return time.Duration(r.MaxCrawlDurationMinutes) * time.Minute
}

// CheckpointFresh reports whether the repository's resumption checkpoint
// is still within the crawl's wall-clock budget, measured from the last
// crawl start.
func (r *Repository) CheckpointFresh(now time.Time) bool {
	if r.State.Checkpoint == nil || r.State.LastCrawlStartedAt == nil {
		return false
	}
	return now.Sub(*r.State.LastCrawlStartedAt) < r.MaxCrawlDuration()
}

// Validate checks that a Repository carries the fields the engine
// requires before it can be scheduled or crawled.
func (r *Repository) Validate() error {
	if r.ID == "" {
		return &ValidationError{Field: "id", Message: "id is required"}
	}
	if r.SourceURL == "" && r.Kind != KindFileSystem {
		return &ValidationError{Field: "source_url", Message: "source_url is required"}
	}
	switch r.Kind {
	case KindGit, KindGitLab, KindGitHub, KindSVN, KindFileSystem:
	default:
		return &ValidationError{Field: "kind", Message: "unknown repository kind: " + string(r.Kind)}
	}
	if r.AutoCrawl && r.CronExpression == "" && r.CrawlFrequencyHours <= 0 {
		return &ValidationError{Field: "cron_expression", Message: "auto_crawl requires a cron expression or a crawl frequency"}
	}
	return nil
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
