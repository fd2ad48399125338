package models

import (
	"testing"
	"time"
)

func TestRepository_Validate(t *testing.T) {
	tests := []struct {
		name    string
		repo    *Repository
		wantErr bool
	}{
		{
			name: "valid git repository",
			repo: &Repository{
				ID:        "r1",
				SourceURL: "https://example.com/org/repo.git",
				Kind:      KindGit,
			},
			wantErr: false,
		},
		{
			name: "valid filesystem repository without source url",
			repo: &Repository{
				ID:   "r2",
				Kind: KindFileSystem,
			},
			wantErr: false,
		},
		{
			name:    "missing id",
			repo:    &Repository{SourceURL: "https://example.com/x.git", Kind: KindGit},
			wantErr: true,
		},
		{
			name:    "missing source url for non-filesystem",
			repo:    &Repository{ID: "r3", Kind: KindSVN},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			repo:    &Repository{ID: "r4", SourceURL: "x", Kind: "perforce"},
			wantErr: true,
		},
		{
			name: "auto crawl without schedule",
			repo: &Repository{
				ID:        "r5",
				SourceURL: "x",
				Kind:      KindGit,
				AutoCrawl: true,
			},
			wantErr: true,
		},
		{
			name: "auto crawl with cron",
			repo: &Repository{
				ID:             "r6",
				SourceURL:      "x",
				Kind:           KindGit,
				AutoCrawl:      true,
				CronExpression: "0 */5 * * * *",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.repo.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRepository_MaxCrawlDuration_Default(t *testing.T) {
	r := &Repository{}
	if r.MaxCrawlDuration() != 120*time.Minute {
		t.Errorf("expected default 120m, got %v", r.MaxCrawlDuration())
	}
}

func TestRepository_MaxCrawlDuration_Configured(t *testing.T) {
	r := &Repository{MaxCrawlDurationMinutes: 45}
	if r.MaxCrawlDuration() != 45*time.Minute {
		t.Errorf("expected 45m, got %v", r.MaxCrawlDuration())
	}
}

func TestRepository_CheckpointFresh(t *testing.T) {
	now := time.Now()
	started := now.Add(-10 * time.Minute)

	r := &Repository{
		MaxCrawlDurationMinutes: 30,
		State: CrawlState{
			LastCrawlStartedAt: &started,
			Checkpoint:         &ResumeCheckpoint{Phase: "processing"},
		},
	}
	if !r.CheckpointFresh(now) {
		t.Error("expected checkpoint to be fresh within the crawl budget")
	}

	r.MaxCrawlDurationMinutes = 5
	if r.CheckpointFresh(now) {
		t.Error("expected checkpoint to be stale past the crawl budget")
	}
}

func TestRepository_CheckpointFresh_NoCheckpoint(t *testing.T) {
	r := &Repository{}
	if r.CheckpointFresh(time.Now()) {
		t.Error("expected no checkpoint to be considered stale")
	}
}
