package pipeline

import (
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// matchesAny reports whether p matches any of the glob-style patterns,
// tried both against the full path and its base name.
func matchesAny(p string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(pattern, p); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, path.Base(p)); ok {
			return true
		}
		if strings.Contains(p, pattern) {
			return true
		}
	}
	return false
}

// containsDir reports whether any path segment of p matches one of dirs.
func containsDir(p string, dirs []string) bool {
	segments := strings.Split(p, "/")
	for _, seg := range segments {
		for _, dir := range dirs {
			if seg == dir {
				return true
			}
		}
	}
	return false
}

// splitNameExt returns the base name and lowercase extension (without
// the dot) of a slash-separated path.
func splitNameExt(p string) (name, ext string) {
	name = path.Base(p)
	e := path.Ext(name)
	if e == "" {
		return name, ""
	}
	return name, strings.ToLower(strings.TrimPrefix(e, "."))
}

// deriveProjectVersion implements §4.3's mono-repo project/version
// derivation: a /trunk/ or /branches/<x>/ segment in the path overrides
// the crawl's own branch/repository identity.
func deriveProjectVersion(p, repoName, branch string) (project, version string) {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		if seg == "trunk" && i > 0 {
			return segments[i-1], "trunk"
		}
		if seg == "branches" && i > 0 && i+1 < len(segments) {
			return segments[i-1], segments[i+1]
		}
	}
	return repoName, branch
}

// decodeBestEffort converts raw bytes to a string for indexing, per
// §4.3 rule 7: content already valid UTF-8 is used as-is; otherwise it's
// treated as Latin-1 (ISO-8859-1), which maps every byte to a rune and so
// never fails, rather than dropping or mangling the file's content.
func decodeBestEffort(content []byte) string {
	if utf8.Valid(content) {
		return string(content)
	}
	runes := make([]rune, len(content))
	for i, b := range content {
		runes[i] = rune(b)
	}
	return string(runes)
}
