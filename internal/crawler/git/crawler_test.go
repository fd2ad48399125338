package git

import (
	"reflect"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	billymem "github.com/go-git/go-billy/v5/memfs"

	"github.com/codegrove/codesearch/internal/pipeline"
)

func newInMemoryRepoWithFile(t *testing.T, path, content string) (*git.Repository, *object.Commit) {
	t.Helper()

	fs := billymem.New()
	storer := memory.NewStorage()
	repo, err := git.Init(storer, fs)
	if err != nil {
		t.Fatalf("git.Init: %v", err)
	}

	f, err := fs.Create(path)
	if err != nil {
		t.Fatalf("fs.Create: %v", err)
	}
	if _, err := f.Write([]byte(content)); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree: %v", err)
	}
	if _, err := wt.Add(path); err != nil {
		t.Fatalf("Add: %v", err)
	}

	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	commit, err := repo.CommitObject(hash)
	if err != nil {
		t.Fatalf("CommitObject: %v", err)
	}
	return repo, commit
}

func TestBlobToDiscoveredFile(t *testing.T) {
	_, commit := newInMemoryRepoWithFile(t, "main.go", "package main")

	tree, err := commit.Tree()
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	entry, err := tree.FindEntry("main.go")
	if err != nil {
		t.Fatalf("FindEntry: %v", err)
	}

	target := pipeline.CrawlTarget{Name: "example"}
	df, err := blobToDiscoveredFile(target, "main", "main.go", tree, entry, commit)
	if err != nil {
		t.Fatalf("blobToDiscoveredFile: %v", err)
	}

	if df.Path != "main.go" || string(df.Content) != "package main" {
		t.Errorf("unexpected discovered file: %+v", df)
	}
	if df.LastRevision != commit.Hash.String() {
		t.Errorf("expected last revision to match commit hash")
	}
}

func TestSanitizeDirName(t *testing.T) {
	got := sanitizeDirName("org/repo name!")
	for _, r := range got {
		if r == '/' || r == ' ' || r == '!' {
			t.Errorf("expected unsafe characters to be replaced, got %q", got)
		}
	}
}

func TestListBranches(t *testing.T) {
	repo, commit := newInMemoryRepoWithFile(t, "main.go", "package main")

	for _, name := range []string{"main", "feature/x"} {
		ref := plumbing.NewHashReference(plumbing.NewRemoteReferenceName("origin", name), commit.Hash)
		if err := repo.Storer.SetReference(ref); err != nil {
			t.Fatalf("SetReference(%s): %v", name, err)
		}
	}
	head := plumbing.NewSymbolicReference(plumbing.NewRemoteHEADReferenceName("origin"), plumbing.NewRemoteReferenceName("origin", "main"))
	if err := repo.Storer.SetReference(head); err != nil {
		t.Fatalf("SetReference(HEAD): %v", err)
	}

	branches, err := listBranches(repo)
	if err != nil {
		t.Fatalf("listBranches: %v", err)
	}

	got := map[string]bool{}
	for _, b := range branches {
		got[b] = true
	}
	if !got["main"] || !got["feature/x"] {
		t.Errorf("expected both branches listed, got %v", branches)
	}
	if got["HEAD"] {
		t.Errorf("expected the symbolic origin/HEAD ref to be excluded, got %v", branches)
	}
}

func TestCrawler_RevisionsRoundTrip(t *testing.T) {
	c := New(t.TempDir())
	c.recordRevision("target1", "main", "abc123")
	c.recordRevision("target1", "dev", "def456")
	c.recordRevision("target2", "main", "zzz999")

	got := c.Revisions("target1")
	want := map[string]string{"main": "abc123", "dev": "def456"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Revisions(target1) = %v, want %v", got, want)
	}

	if got := c.Revisions("target1"); len(got) != 0 {
		t.Errorf("expected revisions to be cleared after read, got %v", got)
	}

	if got := c.Revisions("target2"); !reflect.DeepEqual(got, map[string]string{"main": "zzz999"}) {
		t.Errorf("expected target2's revisions to be unaffected by reading target1, got %v", got)
	}
}
