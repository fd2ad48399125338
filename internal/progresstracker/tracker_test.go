package progresstracker

import (
	"testing"
	"time"

	"github.com/codegrove/codesearch/internal/models"
)

func TestTracker_BeginRejectsDuplicateActiveCrawl(t *testing.T) {
	tr := New()

	_, _, err := tr.Begin("repo1", "Repo One")
	if err != nil {
		t.Fatalf("first Begin() error = %v", err)
	}

	if _, _, err := tr.Begin("repo1", "Repo One"); err == nil {
		t.Fatal("expected error starting a second concurrent crawl for the same repository")
	}
}

func TestTracker_UpdateAccumulatesCounters(t *testing.T) {
	tr := New()
	tr.Begin("repo1", "Repo One")

	processing := models.PhaseProcessing
	tr.Update("repo1", models.ProgressDelta{
		Phase:               &processing,
		FilesProcessedDelta: 3,
		FilesIndexedDelta:   2,
		FilesSkippedDelta:   1,
	})
	tr.Update("repo1", models.ProgressDelta{
		FilesProcessedDelta: 4,
		FilesIndexedDelta:   4,
	})

	progress, ok := tr.Get("repo1")
	if !ok {
		t.Fatal("expected progress record to exist")
	}
	if progress.Phase != models.PhaseProcessing {
		t.Errorf("expected phase processing, got %v", progress.Phase)
	}
	if progress.FilesProcessed != 7 || progress.FilesIndexed != 6 || progress.FilesSkipped != 1 {
		t.Errorf("unexpected counters: %+v", progress)
	}
}

func TestTracker_Cancel(t *testing.T) {
	tr := New()
	ctx, _, _ := tr.Begin("repo1", "Repo One")

	if err := tr.Cancel("repo1"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected crawl context to be cancelled")
	}

	progress, _ := tr.Get("repo1")
	if progress.Phase != models.PhaseCancelled {
		t.Errorf("expected phase cancelled, got %v", progress.Phase)
	}
}

func TestTracker_CancelUnknownRepository(t *testing.T) {
	tr := New()
	if err := tr.Cancel("missing"); err == nil {
		t.Fatal("expected error cancelling a crawl that was never started")
	}
}

func TestTracker_SubscribeReceivesInitialAndSubsequentSnapshots(t *testing.T) {
	tr := New()
	tr.Begin("repo1", "Repo One")

	ch, cancel, ok := tr.Subscribe("repo1")
	if !ok {
		t.Fatal("expected subscribe to succeed for active crawl")
	}
	defer cancel()

	select {
	case snap := <-ch:
		if snap.RepositoryID != "repo1" {
			t.Errorf("unexpected initial snapshot: %+v", snap)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial snapshot")
	}

	processing := models.PhaseProcessing
	tr.Update("repo1", models.ProgressDelta{Phase: &processing})

	select {
	case snap := <-ch:
		if snap.Phase != models.PhaseProcessing {
			t.Errorf("expected phase processing, got %v", snap.Phase)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update snapshot")
	}
}

func TestTracker_BeginAfterFinishIsAllowed(t *testing.T) {
	tr := New()
	tr.Begin("repo1", "Repo One")
	tr.Finish("repo1", models.PhaseCompleted, "")

	if _, _, err := tr.Begin("repo1", "Repo One"); err != nil {
		t.Fatalf("expected Begin() to succeed after prior crawl finished, got %v", err)
	}
}

func TestTracker_ActiveListsOnlyUnfinishedCrawls(t *testing.T) {
	tr := New()
	tr.Begin("repo1", "Repo One")
	tr.Begin("repo2", "Repo Two")
	tr.Finish("repo2", models.PhaseCompleted, "")

	active := tr.Active()
	if len(active) != 1 || active[0] != "repo1" {
		t.Errorf("expected only repo1 active, got %v", active)
	}
}
