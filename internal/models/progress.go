package models

import "time"

// Phase is the lifecycle state of a crawl's Progress Record.
type Phase string

const (
	PhaseStarting   Phase = "starting"
	PhaseCloning    Phase = "cloning"
	PhaseProcessing Phase = "processing"
	PhaseIndexing   Phase = "indexing"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
	PhaseCancelled  Phase = "cancelled"
)

// Terminal reports whether the phase will not transition further.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseFailed, PhaseCancelled:
		return true
	default:
		return false
	}
}

// Progress is a transient, per-repository snapshot of crawl state.
type Progress struct {
	RepositoryID   string  `json:"repository_id"`
	RepositoryName string  `json:"repository_name"`
	Phase          Phase   `json:"phase"`
	FilesTotal     *int64  `json:"files_total,omitempty"`
	FilesProcessed int64   `json:"files_processed"`
	FilesIndexed   int64   `json:"files_indexed"`
	FilesSkipped   int64   `json:"files_skipped"`
	FilesFailed    int64   `json:"files_failed"`
	CurrentFile    string  `json:"current_file,omitempty"`
	ProjectsTotal     *int64 `json:"projects_total,omitempty"`
	ProjectsProcessed *int64 `json:"projects_processed,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
}

// Clone returns a deep-enough copy safe to hand to subscribers without
// sharing mutable state with the tracker's own record.
func (p Progress) Clone() Progress {
	cp := p
	if p.FilesTotal != nil {
		v := *p.FilesTotal
		cp.FilesTotal = &v
	}
	if p.ProjectsTotal != nil {
		v := *p.ProjectsTotal
		cp.ProjectsTotal = &v
	}
	if p.ProjectsProcessed != nil {
		v := *p.ProjectsProcessed
		cp.ProjectsProcessed = &v
	}
	if p.CompletedAt != nil {
		v := *p.CompletedAt
		cp.CompletedAt = &v
	}
	return cp
}

// ProgressDelta is a partial update applied to a Progress record. Nil
// fields are left untouched; non-nil fields replace or add as noted.
type ProgressDelta struct {
	Phase               *Phase
	FilesTotal          *int64
	FilesProcessedDelta int64
	FilesIndexedDelta   int64
	FilesSkippedDelta   int64
	FilesFailedDelta    int64
	CurrentFile         *string
	ProjectsTotal       *int64
	ProjectsProcessedDelta int64
	ErrorMessage        *string
}
