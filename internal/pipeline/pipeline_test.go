package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/codegrove/codesearch/internal/models"
)

type fakeIndexer struct {
	mu       sync.Mutex
	upserts  []models.Document
	deletes  []string
	commits  int
	failNext bool
}

func (f *fakeIndexer) Upsert(_ context.Context, doc models.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, doc)
	return nil
}

func (f *fakeIndexer) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	return nil
}

func (f *fakeIndexer) Commit(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	if f.failNext {
		f.failNext = false
		var failed []string
		if n := len(f.upserts); n > 0 {
			failed = []string{f.upserts[n-1].ID}
		}
		return &fakePartialFailure{ids: failed}
	}
	return nil
}

// fakePartialFailure implements errs.PartialFailure without importing
// the errs package, exercising the pipeline's errors.As-based detection
// against the interface's method set rather than a concrete type.
type fakePartialFailure struct {
	ids []string
}

func (e *fakePartialFailure) Error() string      { return "partial bulk failure" }
func (e *fakePartialFailure) FailedIDs() []string { return e.ids }

func TestPipeline_Run_IndexesAcceptedFiles(t *testing.T) {
	idx := &fakeIndexer{}
	p := New(idx, Rules{MaxFileSizeBytes: 1024}, 10, nil)

	files := make(chan DiscoveredFile, 2)
	files <- DiscoveredFile{Repository: "repo1", Branch: "main", Path: "main.go", Content: []byte("package main"), Size: 12}
	files <- DiscoveredFile{Repository: "repo1", Branch: "main", Path: "readme.md", Content: []byte("hello"), Size: 5}
	close(files)

	counters, err := p.Run(context.Background(), "repo1", files)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if counters.Processed != 2 || counters.Indexed != 2 {
		t.Errorf("unexpected counters: %+v", counters)
	}
	if len(idx.upserts) != 2 {
		t.Errorf("expected 2 upserts, got %d", len(idx.upserts))
	}
	if idx.commits != 1 {
		t.Errorf("expected 1 commit (batch smaller than batch size, flushed at channel close), got %d", idx.commits)
	}
}

func TestPipeline_Run_SkipsOversizedFiles(t *testing.T) {
	idx := &fakeIndexer{}
	p := New(idx, Rules{MaxFileSizeBytes: 10}, 10, nil)

	files := make(chan DiscoveredFile, 1)
	files <- DiscoveredFile{Repository: "repo1", Branch: "main", Path: "big.bin", Content: make([]byte, 100), Size: 100}
	close(files)

	counters, err := p.Run(context.Background(), "repo1", files)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if counters.Skipped != 1 || counters.Indexed != 0 {
		t.Errorf("expected the oversized file to be skipped, got %+v", counters)
	}
}

func TestPipeline_Run_SkipsRecognizedBinaryExtension(t *testing.T) {
	idx := &fakeIndexer{}
	p := New(idx, Rules{MaxFileSizeBytes: 1024}, 10, nil)

	binary := append([]byte("PNG"), 0x00, 0x01, 0x02)
	files := make(chan DiscoveredFile, 1)
	files <- DiscoveredFile{Repository: "repo1", Branch: "main", Path: "image.png", Content: binary, Size: int64(len(binary))}
	close(files)

	counters, err := p.Run(context.Background(), "repo1", files)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(idx.upserts) != 0 {
		t.Fatalf("expected image.png to be skipped, got %d upserts", len(idx.upserts))
	}
	if counters.Skipped != 1 {
		t.Errorf("expected 1 skipped file, got %+v", counters)
	}
}

func TestPipeline_Run_MetadataOnlyForMasqueradingTextExtension(t *testing.T) {
	idx := &fakeIndexer{}
	p := New(idx, Rules{MaxFileSizeBytes: 1024}, 10, nil)

	binary := append([]byte("hdr"), 0x00, 0x01, 0x02)
	files := make(chan DiscoveredFile, 1)
	files <- DiscoveredFile{Repository: "repo1", Branch: "main", Path: "data.txt", Content: binary, Size: int64(len(binary))}
	close(files)

	if _, err := p.Run(context.Background(), "repo1", files); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(idx.upserts) != 1 {
		t.Fatalf("expected 1 upsert, got %d", len(idx.upserts))
	}
	if idx.upserts[0].HasContent {
		t.Error("expected null-byte content under a text extension to be indexed as metadata-only")
	}
	if idx.upserts[0].Content != "" {
		t.Error("expected empty content for a metadata-only document")
	}
}

func TestPipeline_Run_ReadableExtensionBypassesNullByteSniff(t *testing.T) {
	idx := &fakeIndexer{}
	p := New(idx, Rules{MaxFileSizeBytes: 1024, ReadableExtensions: []string{"txt"}}, 10, nil)

	binary := append([]byte("hdr"), 0x00, 0x01, 0x02)
	files := make(chan DiscoveredFile, 1)
	files <- DiscoveredFile{Repository: "repo1", Branch: "main", Path: "data.txt", Content: binary, Size: int64(len(binary))}
	close(files)

	if _, err := p.Run(context.Background(), "repo1", files); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(idx.upserts) != 1 {
		t.Fatalf("expected 1 upsert, got %d", len(idx.upserts))
	}
	if !idx.upserts[0].HasContent {
		t.Error("expected a trusted readable extension to decode as text despite the null byte")
	}
}

func TestPipeline_Run_PartialBulkFailureCountsAndContinues(t *testing.T) {
	idx := &fakeIndexer{failNext: true}
	p := New(idx, Rules{MaxFileSizeBytes: 1024}, 10, nil)

	files := make(chan DiscoveredFile, 2)
	files <- DiscoveredFile{Repository: "repo1", Branch: "main", Path: "a.go", Content: []byte("package a"), Size: 9}
	files <- DiscoveredFile{Repository: "repo1", Branch: "main", Path: "b.go", Content: []byte("package b"), Size: 9}
	close(files)

	counters, err := p.Run(context.Background(), "repo1", files)
	if err != nil {
		t.Fatalf("Run() error = %v, a partial bulk failure should not abort the crawl", err)
	}
	if counters.Failed != 1 {
		t.Errorf("expected 1 failed document recorded, got %+v", counters)
	}
	if counters.Indexed != 1 {
		t.Errorf("expected 1 successfully indexed document, got %+v", counters)
	}
}

func TestPipeline_Run_DeletedFileIssuesDelete(t *testing.T) {
	idx := &fakeIndexer{}
	p := New(idx, Rules{MaxFileSizeBytes: 1024}, 10, nil)

	files := make(chan DiscoveredFile, 1)
	files <- DiscoveredFile{Repository: "repo1", Branch: "main", Path: "gone.go", Deleted: true}
	close(files)

	counters, err := p.Run(context.Background(), "repo1", files)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(idx.deletes) != 1 {
		t.Fatalf("expected 1 delete, got %d", len(idx.deletes))
	}
	want := models.DocumentID("repo1", "main", "gone.go")
	if idx.deletes[0] != want {
		t.Errorf("delete id = %q, want %q", idx.deletes[0], want)
	}
	if counters.Processed != 1 {
		t.Errorf("expected processed count to include the delete, got %d", counters.Processed)
	}
}

func TestPipeline_Run_ContextCancellationFlushesAndStops(t *testing.T) {
	idx := &fakeIndexer{}
	p := New(idx, Rules{MaxFileSizeBytes: 1024}, 10, nil)

	ctx, cancel := context.WithCancel(context.Background())
	files := make(chan DiscoveredFile)

	done := make(chan struct{})
	go func() {
		p.Run(ctx, "repo1", files)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return promptly after cancellation")
	}
}

func TestPipeline_Run_ExcludedPatternIsSkipped(t *testing.T) {
	idx := &fakeIndexer{}
	p := New(idx, Rules{MaxFileSizeBytes: 1024, ExcludedPatterns: []string{"vendor"}}, 10, nil)

	files := make(chan DiscoveredFile, 1)
	files <- DiscoveredFile{Repository: "repo1", Branch: "main", Path: "vendor/lib.go", Content: []byte("x"), Size: 1}
	close(files)

	counters, err := p.Run(context.Background(), "repo1", files)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if counters.Skipped != 1 {
		t.Errorf("expected excluded path to be skipped, got %+v", counters)
	}
}

func TestVendorFilter_Accept(t *testing.T) {
	f := NewVendorFilter()
	if f.Accept("vendor/github.com/foo/bar.go", "") {
		t.Error("expected vendor path to be rejected")
	}
	if !f.Accept("internal/pipeline/pipeline.go", "") {
		t.Error("expected normal source path to be accepted")
	}
}

func TestIsBinary(t *testing.T) {
	if !IsBinary("photo.jpg", []byte("whatever")) {
		t.Error("expected extension-based binary detection")
	}
	if IsBinary("main.go", []byte("package main")) {
		t.Error("expected plain text to not be detected as binary")
	}
	if !IsBinary("data.bin", []byte{0x00, 0x01, 0x02}) {
		t.Error("expected null-byte content to be detected as binary")
	}
}
