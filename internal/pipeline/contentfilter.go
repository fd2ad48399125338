package pipeline

import "strings"

// VendorFilter rejects files under common vendored or generated-code
// directories. It is not wired in by default; repositories opt in via
// Rules.ContentFilter. Grounded on the teacher's quality.Filter exclude
// pattern list, narrowed from "is this repository worth crawling" to
// "is this particular file worth indexing".
type VendorFilter struct {
	markers []string
}

// NewVendorFilter returns a VendorFilter with a sensible default marker
// set covering the common package-manager and build-output directories.
func NewVendorFilter() *VendorFilter {
	return &VendorFilter{
		markers: []string{
			"/vendor/", "/node_modules/", "/third_party/", "/.git/",
			"/dist/", "/build/", "/target/", "/bin/", "/obj/",
			".min.js", ".generated.", "_pb2.py", ".pb.go",
		},
	}
}

// Accept implements pipeline.ContentFilter.
func (f *VendorFilter) Accept(path, _ string) bool {
	lower := "/" + strings.ToLower(path)
	for _, marker := range f.markers {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	return true
}
