// Package svn implements the SVN Crawler (C6) against mod_dav_svn's
// WebDAV REPORT/PROPFIND protocol: a REPORT request against the
// repository's VCC (version-controlled configuration) describes every
// entry changed between two revisions as a stream of open-directory,
// add-file, open-file and delete-entry elements, and a PROPFIND on each
// surviving file reads its svn:mime-type property to decide whether the
// file is binary before fetching its content. No third-party SVN client
// exists anywhere in the example pack (net/http and encoding/xml cover
// the whole wire protocol mod_dav_svn speaks), so this package is built
// directly on the standard library rather than adapting a library that
// doesn't exist in the corpus.
package svn

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/codegrove/codesearch/internal/errs"
)

// updateReportRequest is the REPORT body sent to mod_dav_svn's
// update-report endpoint, requesting the full tree delta between
// startRevision (0 for "from nothing", i.e. a full checkout) and the
// repository's current HEAD.
type updateReportRequest struct {
	XMLName      xml.Name `xml:"S:update-report"`
	XmlnsS       string   `xml:"xmlns:S,attr"`
	SrcPath      string   `xml:"S:src-path"`
	TargetRev    int64    `xml:"S:target-revision"`
	UpdateTarget string   `xml:"S:update-target"`
	Depth        string   `xml:"S:depth"`
}

// updateReportResponse models the subset of mod_dav_svn's
// update-report response this crawler cares about: the entries
// describing which paths changed, in document order.
type updateReportResponse struct {
	XMLName xml.Name          `xml:"update-report"`
	Open    []reportDirOrFile `xml:"open-directory"`
}

type reportDirOrFile struct {
	Name           string            `xml:"name,attr"`
	Rev            int64             `xml:"rev,attr"`
	AddFile        []reportEntry     `xml:"add-file"`
	OpenFile       []reportEntry     `xml:"open-file"`
	DeleteEntry    []reportDeleted   `xml:"delete-entry"`
	OpenDirectory  []reportDirOrFile `xml:"open-directory"`
}

type reportEntry struct {
	Name string `xml:"name,attr"`
	Rev  int64  `xml:"rev,attr"`
}

type reportDeleted struct {
	Name string `xml:"name,attr"`
}

// reporter speaks the REPORT/PROPFIND half of the DAV protocol against
// a single repository root.
type reporter struct {
	baseURL  string
	client   *http.Client
	username string
	password string
}

func newReporter(baseURL, username, password string) *reporter {
	return &reporter{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{},
		username: username,
		password: password,
	}
}

// changedEntry is one file touched since lastRevision, flattened out of
// the report's nested directory tree with its full repository-relative
// path.
type changedEntry struct {
	path    string
	rev     int64
	deleted bool
}

// fetchChanges issues an update-report REPORT request and flattens the
// resulting tree delta into a list of changed paths. lastRevision of 0
// requests the full tree as of HEAD.
func (r *reporter) fetchChanges(ctx context.Context, lastRevision int64) ([]changedEntry, int64, error) {
	body := updateReportRequest{
		XmlnsS:       "svn:",
		SrcPath:      r.baseURL,
		TargetRev:    0, // 0 requests HEAD
		UpdateTarget: "",
		Depth:        "infinity",
	}
	payload, err := xml.Marshal(body)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, "REPORT", r.baseURL+"/!svn/vcc/default", strings.NewReader(string(payload)))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "text/xml")
	req.Header.Set("X-SVN-Last-Revision", strconv.FormatInt(lastRevision, 10))
	if r.username != "" {
		req.SetBasicAuth(r.username, r.password)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, 0, errs.NewNetwork("svn update-report", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, 0, errs.NewNetwork(fmt.Sprintf("svn update-report status %d: %s", resp.StatusCode, string(data)), nil)
	}

	var parsed updateReportResponse
	if err := xml.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, 0, errs.NewSystem("decode svn update-report", err)
	}

	var entries []changedEntry
	var headRev int64
	var walk func(dir reportDirOrFile, prefix string)
	walk = func(dir reportDirOrFile, prefix string) {
		if dir.Rev > headRev {
			headRev = dir.Rev
		}
		p := prefix
		if dir.Name != "" {
			p = strings.TrimPrefix(prefix+"/"+dir.Name, "/")
		}
		for _, f := range dir.AddFile {
			entries = append(entries, changedEntry{path: joinPath(p, f.Name), rev: f.Rev})
			if f.Rev > headRev {
				headRev = f.Rev
			}
		}
		for _, f := range dir.OpenFile {
			entries = append(entries, changedEntry{path: joinPath(p, f.Name), rev: f.Rev})
			if f.Rev > headRev {
				headRev = f.Rev
			}
		}
		for _, d := range dir.DeleteEntry {
			entries = append(entries, changedEntry{path: joinPath(p, d.Name), deleted: true})
		}
		for _, sub := range dir.OpenDirectory {
			walk(sub, p)
		}
	}
	for _, root := range parsed.Open {
		walk(root, "")
	}

	return entries, headRev, nil
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// mimeType reads a file's svn:mime-type property via PROPFIND, used to
// decide whether its content is binary without downloading it first.
func (r *reporter) mimeType(ctx context.Context, path string) (string, error) {
	const body = `<?xml version="1.0" encoding="utf-8"?>
<propfind xmlns="DAV:"><prop><getcontenttype xmlns="DAV:"/></prop></propfind>`

	req, err := http.NewRequestWithContext(ctx, "PROPFIND", r.baseURL+"/"+strings.TrimLeft(path, "/"), strings.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/xml")
	req.Header.Set("Depth", "0")
	if r.username != "" {
		req.SetBasicAuth(r.username, r.password)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", errs.NewNetwork("svn propfind", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMultiStatus && resp.StatusCode != http.StatusOK {
		return "", nil // unknown mime type; caller falls back to sniffing
	}

	var multistatus struct {
		Response []struct {
			Propstat []struct {
				Prop struct {
					ContentType string `xml:"getcontenttype"`
				} `xml:"prop"`
			} `xml:"propstat"`
		} `xml:"response"`
	}
	if err := xml.NewDecoder(resp.Body).Decode(&multistatus); err != nil {
		return "", nil
	}
	for _, resp := range multistatus.Response {
		for _, ps := range resp.Propstat {
			if ps.Prop.ContentType != "" {
				return ps.Prop.ContentType, nil
			}
		}
	}
	return "", nil
}

// fetchContent downloads a file's content at HEAD via a plain GET
// against its public URL.
func (r *reporter) fetchContent(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/"+strings.TrimLeft(path, "/"), nil)
	if err != nil {
		return nil, err
	}
	if r.username != "" {
		req.SetBasicAuth(r.username, r.password)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errs.NewNetwork("svn fetch content", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errs.NewNetwork(fmt.Sprintf("svn fetch content status %d", resp.StatusCode), nil)
	}
	return io.ReadAll(resp.Body)
}
