package pipeline

import "strings"

// defaultMimesToExclude is the extension-mapped MIME exclude list
// pipeline.Rules.MimesToExclude falls back to when a repository hasn't
// configured its own: the common binary/archive/media formats §4.3
// rule 5 skips outright, as opposed to the null-byte heuristic in rule
// 7 that catches masquerading content under a text-like extension.
var defaultMimesToExclude = []string{
	"png", "jpg", "jpeg", "gif", "bmp", "ico", "webp",
	"pdf", "zip", "tar", "gz", "bz2", "7z", "rar",
	"exe", "dll", "so", "dylib", "a", "o", "class",
	"woff", "woff2", "ttf", "eot", "otf",
	"mp3", "mp4", "avi", "mov", "wav", "flac",
	"jar", "war", "pyc", "wasm", "bin",
}

const binarySniffWindow = 8192

// extIn reports whether ext (already lowercased) appears in list,
// tolerating a leading dot on configured entries.
func extIn(ext string, list []string) bool {
	for _, e := range list {
		if strings.EqualFold(ext, strings.TrimPrefix(e, ".")) {
			return true
		}
	}
	return false
}

// hasNullByte scans the first binarySniffWindow bytes of content for a
// null byte, the heuristic §4.3 rule 7 uses to flag a file that passed
// the MIME-exclude rule as binary content masquerading under a
// text-like extension.
func hasNullByte(content []byte) bool {
	window := content
	if len(window) > binarySniffWindow {
		window = window[:binarySniffWindow]
	}
	for _, b := range window {
		if b == 0 {
			return true
		}
	}
	return false
}

// IsBinary combines the extension and null-byte signals §4.5's
// binary-file detection note describes ("any positive signal wins")
// into a single yes/no check, for callers that don't need to
// distinguish a skip from a metadata-only document.
func IsBinary(path string, content []byte) bool {
	_, ext := splitNameExt(path)
	if extIn(ext, defaultMimesToExclude) {
		return true
	}
	return hasNullByte(content)
}
