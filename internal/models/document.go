package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Document is one file snapshot in the search index.
type Document struct {
	ID             string    `json:"id"`
	Repository     string    `json:"repository"`
	RepositoryType string    `json:"repository_type"`
	Branch         string    `json:"branch"`
	Project        string    `json:"project"`
	Path           string    `json:"path"`
	Name           string    `json:"name"`
	Extension      string    `json:"extension"`
	Content        string    `json:"content,omitempty"`
	Size           uint64    `json:"size"`
	LastModified   time.Time `json:"last_modified"`
	LastAuthor     string    `json:"last_author,omitempty"`
	LastRevision   string    `json:"last_revision,omitempty"`

	// HasContent is false for metadata-only documents (content with a
	// null byte under a non-readable extension) per §4.3 rule 7.
	HasContent bool `json:"has_content"`
}

// DocumentID computes the deterministic id for a (repository, branch,
// path) triple so re-indexing overwrites rather than duplicates. Grounded
// on the teacher's hash-based dedup in resumable_processor.go, generalized
// from a content hash to an identity hash.
func DocumentID(repositoryID, branch, path string) string {
	h := sha256.New()
	h.Write([]byte(repositoryID))
	h.Write([]byte{0})
	h.Write([]byte(branch))
	h.Write([]byte{0})
	h.Write([]byte(path))
	return hex.EncodeToString(h.Sum(nil))
}
