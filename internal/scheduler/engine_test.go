package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/codegrove/codesearch/internal/models"
	"github.com/codegrove/codesearch/internal/pipeline"
	"github.com/codegrove/codesearch/internal/progresstracker"
	"github.com/codegrove/codesearch/internal/registry"
)

type fakeIndexer struct {
	mu      sync.Mutex
	commits int
}

func (f *fakeIndexer) Upsert(context.Context, models.Document) error { return nil }
func (f *fakeIndexer) Delete(context.Context, string) error          { return nil }
func (f *fakeIndexer) Commit(context.Context) error {
	f.mu.Lock()
	f.commits++
	f.mu.Unlock()
	return nil
}

type fakeCrawler struct {
	files []pipeline.DiscoveredFile
}

func (c *fakeCrawler) Kind() string { return "fake" }
func (c *fakeCrawler) Start(ctx context.Context, target pipeline.CrawlTarget) (<-chan pipeline.DiscoveredFile, <-chan error) {
	files := make(chan pipeline.DiscoveredFile, len(c.files))
	errCh := make(chan error, 1)
	for _, f := range c.files {
		files <- f
	}
	close(files)
	close(errCh)
	return files, errCh
}

func waitForTerminal(t *testing.T, tracker *progresstracker.Tracker, repoID string) models.Progress {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p, ok := tracker.Get(repoID); ok && p.Phase.Terminal() {
			return p
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("crawl did not reach a terminal phase in time")
	return models.Progress{}
}

func TestEngine_Submit_IndexesFilesAndUpdatesRegistry(t *testing.T) {
	reg := registry.NewMemory(models.Repository{
		ID: "repo1", Name: "example", SourceURL: "/tmp/example", Kind: models.KindFileSystem, Enabled: true,
	})
	idx := &fakeIndexer{}
	tracker := progresstracker.New()
	crawler := &fakeCrawler{files: []pipeline.DiscoveredFile{
		{Repository: "example", Branch: "main", Path: "a.go", Content: []byte("package a"), Size: 9},
	}}

	engine := NewEngine(reg, idx, tracker,
		func(models.Repository) (pipeline.Crawler, error) { return crawler, nil },
		func(models.Repository) pipeline.Rules { return pipeline.Rules{MaxFileSizeBytes: 1024} },
		10, 2,
	)

	engine.Submit("repo1")

	progress := waitForTerminal(t, tracker, "repo1")
	if progress.Phase != models.PhaseCompleted {
		t.Fatalf("expected crawl to complete, got phase %q (%s)", progress.Phase, progress.ErrorMessage)
	}

	repo, err := reg.Get(context.Background(), "repo1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if repo.State.LastCrawlCompletedAt == nil {
		t.Error("expected last_crawl_completed_at to be set after a successful crawl")
	}
}

func TestEngine_Submit_DropsTickWhenCrawlAlreadyActive(t *testing.T) {
	reg := registry.NewMemory(models.Repository{
		ID: "repo1", Name: "example", Kind: models.KindFileSystem, Enabled: true,
	})
	tracker := progresstracker.New()

	// Manually begin a crawl to simulate one already in flight.
	_, cancel, err := tracker.Begin("repo1", "example")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	defer cancel()

	engine := NewEngine(reg, &fakeIndexer{}, tracker,
		func(models.Repository) (pipeline.Crawler, error) { return &fakeCrawler{}, nil },
		func(models.Repository) pipeline.Rules { return pipeline.Rules{} },
		10, 2,
	)

	engine.Submit("repo1")
	time.Sleep(50 * time.Millisecond)

	progress, ok := tracker.Get("repo1")
	if !ok {
		t.Fatal("expected the original crawl's progress to still be tracked")
	}
	if progress.Phase == models.PhaseCompleted || progress.Phase == models.PhaseFailed {
		t.Errorf("expected the dropped tick to leave the original crawl's phase untouched, got %q", progress.Phase)
	}
}
