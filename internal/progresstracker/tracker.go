// Package progresstracker keeps an in-memory, per-repository snapshot of
// an active crawl and fans out updates to subscribers (the API's
// progress-stream endpoint), modeled on the worker-stats bookkeeping in
// the teacher's resumable processor but generalized from atomic counters
// to a full Progress record with cancellation support.
package progresstracker

import (
	"context"
	"sync"
	"time"

	"github.com/codegrove/codesearch/internal/errs"
	"github.com/codegrove/codesearch/internal/models"
)

const (
	subscriberBufferSize = 16
	evictionWindow       = 300 * time.Second
)

type entry struct {
	progress    models.Progress
	cancel      context.CancelFunc
	subscribers map[chan models.Progress]struct{}
	finishedAt  *time.Time
}

// Tracker tracks the live Progress record for every active (and recently
// finished) crawl.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{entries: make(map[string]*entry)}
}

// Begin registers a new crawl for repoID. It returns a CancellationToken
// the caller must check periodically, and an error if a crawl for repoID
// is already active — the scheduler and API both rely on this to enforce
// one-active-crawl-per-repository.
func (t *Tracker) Begin(repoID, repoName string) (context.Context, context.CancelFunc, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.entries[repoID]; ok && existing.finishedAt == nil {
		return nil, nil, errs.New(errs.TypeConflict, "crawl already active for repository "+repoID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	t.entries[repoID] = &entry{
		progress: models.Progress{
			RepositoryID:   repoID,
			RepositoryName: repoName,
			Phase:          models.PhaseStarting,
			StartedAt:      now,
			UpdatedAt:      now,
		},
		cancel:      cancel,
		subscribers: make(map[chan models.Progress]struct{}),
	}
	return ctx, cancel, nil
}

// Update applies a partial delta to repoID's Progress record and
// broadcasts the new snapshot to subscribers. Updates for an unknown
// repoID are silently dropped — the crawl may have already been evicted.
func (t *Tracker) Update(repoID string, delta models.ProgressDelta) {
	t.mu.Lock()
	e, ok := t.entries[repoID]
	if !ok {
		t.mu.Unlock()
		return
	}

	if delta.Phase != nil {
		e.progress.Phase = *delta.Phase
	}
	if delta.FilesTotal != nil {
		e.progress.FilesTotal = delta.FilesTotal
	}
	e.progress.FilesProcessed += delta.FilesProcessedDelta
	e.progress.FilesIndexed += delta.FilesIndexedDelta
	e.progress.FilesSkipped += delta.FilesSkippedDelta
	e.progress.FilesFailed += delta.FilesFailedDelta
	if delta.CurrentFile != nil {
		e.progress.CurrentFile = *delta.CurrentFile
	}
	if delta.ProjectsTotal != nil {
		e.progress.ProjectsTotal = delta.ProjectsTotal
	}
	if delta.ProjectsProcessedDelta != 0 {
		processed := int64(0)
		if e.progress.ProjectsProcessed != nil {
			processed = *e.progress.ProjectsProcessed
		}
		processed += delta.ProjectsProcessedDelta
		e.progress.ProjectsProcessed = &processed
	}
	if delta.ErrorMessage != nil {
		e.progress.ErrorMessage = *delta.ErrorMessage
	}
	e.progress.UpdatedAt = time.Now()

	snapshot := e.progress.Clone()
	subs := make([]chan models.Progress, 0, len(e.subscribers))
	for ch := range e.subscribers {
		subs = append(subs, ch)
	}
	t.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snapshot:
		default:
			// Subscriber is behind; drop this update rather than block
			// the crawl. Subscribe() always returns the latest snapshot
			// on connect, so a slow reader only loses intermediate steps.
		}
	}
}

// Cancel requests cancellation of repoID's crawl. Per design, a cancelled
// crawl's phase becomes PhaseCancelled but the registry's last_crawled_at
// is left untouched by the caller.
func (t *Tracker) Cancel(repoID string) error {
	t.mu.Lock()
	e, ok := t.entries[repoID]
	if !ok || e.finishedAt != nil {
		t.mu.Unlock()
		return errs.NewNotFound("no active crawl for repository " + repoID)
	}
	cancel := e.cancel
	t.mu.Unlock()

	cancel()

	phase := models.PhaseCancelled
	t.Update(repoID, models.ProgressDelta{Phase: &phase})
	return nil
}

// Finish marks repoID's crawl terminal and schedules eviction of its
// entry after the eviction window, so a client polling Get() immediately
// after completion still observes the final state.
func (t *Tracker) Finish(repoID string, phase models.Phase, errMessage string) {
	t.mu.Lock()
	e, ok := t.entries[repoID]
	if !ok {
		t.mu.Unlock()
		return
	}
	now := time.Now()
	e.finishedAt = &now
	t.mu.Unlock()

	delta := models.ProgressDelta{Phase: &phase}
	if errMessage != "" {
		delta.ErrorMessage = &errMessage
	}
	t.Update(repoID, delta)

	t.mu.Lock()
	if e.progress.CompletedAt == nil {
		completed := time.Now()
		e.progress.CompletedAt = &completed
	}
	t.mu.Unlock()

	time.AfterFunc(evictionWindow, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if cur, ok := t.entries[repoID]; ok && cur == e {
			for ch := range e.subscribers {
				close(ch)
			}
			delete(t.entries, repoID)
		}
	})
}

// Get returns a snapshot of repoID's Progress record, if one exists.
func (t *Tracker) Get(repoID string) (models.Progress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[repoID]
	if !ok {
		return models.Progress{}, false
	}
	return e.progress.Clone(), true
}

// Active lists the repository IDs with a crawl currently in progress.
func (t *Tracker) Active() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []string
	for id, e := range t.entries {
		if e.finishedAt == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// Subscribe returns a channel that receives every subsequent Progress
// snapshot for repoID, preceded immediately by the current snapshot. The
// returned cancel function must be called to unregister the channel.
func (t *Tracker) Subscribe(repoID string) (<-chan models.Progress, func(), bool) {
	t.mu.Lock()
	e, ok := t.entries[repoID]
	if !ok {
		t.mu.Unlock()
		return nil, nil, false
	}

	ch := make(chan models.Progress, subscriberBufferSize)
	e.subscribers[ch] = struct{}{}
	initial := e.progress.Clone()
	t.mu.Unlock()

	ch <- initial

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if cur, ok := t.entries[repoID]; ok && cur == e {
			if _, present := e.subscribers[ch]; present {
				delete(e.subscribers, ch)
				close(ch)
			}
		}
	}
	return ch, cancel, true
}
