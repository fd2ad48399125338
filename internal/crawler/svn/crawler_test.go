package svn

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/codegrove/codesearch/internal/pipeline"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/!svn/vcc/default", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "REPORT" {
			http.Error(w, "expected REPORT", http.StatusMethodNotAllowed)
			return
		}
		fmt.Fprint(w, `<?xml version="1.0" encoding="utf-8"?>
<update-report>
  <open-directory name="" rev="42">
    <add-file name="main.go" rev="42"/>
    <add-file name="logo.png" rev="40"/>
    <delete-entry name="old.go"/>
    <open-directory name="sub" rev="41">
      <add-file name="nested.go" rev="41"/>
    </open-directory>
  </open-directory>
</update-report>`)
	})

	mux.HandleFunc("/logo.png", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "PROPFIND" {
			w.WriteHeader(http.StatusMultiStatus)
			fmt.Fprint(w, `<?xml version="1.0"?>
<multistatus xmlns="DAV:"><response><propstat><prop><getcontenttype>image/png</getcontenttype></prop></propstat></response></multistatus>`)
			return
		}
		w.Write([]byte("\x89PNG\x00\x01"))
	})

	mux.HandleFunc("/main.go", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "PROPFIND" {
			w.WriteHeader(http.StatusMultiStatus)
			fmt.Fprint(w, `<?xml version="1.0"?>
<multistatus xmlns="DAV:"><response><propstat><prop><getcontenttype>text/plain</getcontenttype></prop></propstat></response></multistatus>`)
			return
		}
		w.Write([]byte("package main"))
	})

	mux.HandleFunc("/sub/nested.go", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "PROPFIND" {
			w.WriteHeader(http.StatusMultiStatus)
			fmt.Fprint(w, `<?xml version="1.0"?>
<multistatus xmlns="DAV:"><response><propstat><prop><getcontenttype>text/plain</getcontenttype></prop></propstat></response></multistatus>`)
			return
		}
		w.Write([]byte("package sub"))
	})

	return httptest.NewServer(mux)
}

func TestCrawler_Start_EmitsAddedModifiedAndDeletedEntries(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	c := New()
	files, errCh := c.Start(context.Background(), pipeline.CrawlTarget{Name: "example", SourceURL: srv.URL})

	var got []pipeline.DiscoveredFile
	for f := range files {
		got = append(got, f)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got) != 4 {
		t.Fatalf("expected 4 entries, got %d: %+v", len(got), got)
	}

	byPath := map[string]pipeline.DiscoveredFile{}
	for _, f := range got {
		byPath[f.Path] = f
	}

	if d, ok := byPath["old.go"]; !ok || !d.Deleted {
		t.Errorf("expected old.go to be a deletion, got %+v", d)
	}
	if d, ok := byPath["main.go"]; !ok || string(d.Content) != "package main" {
		t.Errorf("expected main.go content, got %+v", d)
	}
	if d, ok := byPath["logo.png"]; !ok || len(d.Content) != 0 {
		t.Errorf("expected logo.png to be metadata-only (binary mime), got %+v", d)
	}
	if d, ok := byPath["sub/nested.go"]; !ok || string(d.Content) != "package sub" {
		t.Errorf("expected sub/nested.go content, got %+v", d)
	}
}

func TestIsSVNBinaryMime(t *testing.T) {
	if isSVNBinaryMime("") {
		t.Error("expected empty mime type to not be treated as binary")
	}
	if isSVNBinaryMime("text/plain") {
		t.Error("expected text/plain to not be treated as binary")
	}
	if !isSVNBinaryMime("image/png") {
		t.Error("expected image/png to be treated as binary")
	}
}

func TestCrawler_Start_RespectsContextCancellation(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New()
	files, errCh := c.Start(ctx, pipeline.CrawlTarget{Name: "example", SourceURL: srv.URL})

	done := make(chan struct{})
	go func() {
		for range files {
		}
		<-errCh
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected crawl to stop promptly once cancelled")
	}
}
