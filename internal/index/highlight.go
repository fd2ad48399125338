package index

import (
	"html"
	"strings"
)

const (
	maxFragments    = 3
	maxTokensPerFragment = 100
	truncatedContentChars = 200
)

// Markers wraps each highlighted match. Configurable so callers embedding
// results in different renderers (HTML vs terminal) can choose their own
// delimiters.
type Markers struct {
	Pre  string
	Post string
}

// DefaultMarkers matches Elasticsearch's own default highlight tags.
var DefaultMarkers = Markers{Pre: "<em>", Post: "</em>"}

// Snippet renders the stored content as either highlighted fragments (if
// terms matched inside it) or a truncated plain prefix (if not), per the
// result snippet policy.
func Snippet(content string, matchedTerms []string, markers Markers) string {
	content = strings.TrimSpace(content)
	if len(matchedTerms) == 0 || content == "" {
		return truncate(content)
	}

	fragments := highlightFragments(content, matchedTerms, markers)
	if len(fragments) == 0 {
		return truncate(content)
	}
	return strings.Join(fragments, " … ")
}

func truncate(content string) string {
	escaped := html.EscapeString(content)
	runes := []rune(escaped)
	if len(runes) <= truncatedContentChars {
		return escaped
	}
	return string(runes[:truncatedContentChars]) + "…"
}

// highlightFragments finds up to maxFragments windows of up to
// maxTokensPerFragment tokens around term matches, escaping HTML and
// wrapping matches in markers.
func highlightFragments(content string, terms []string, markers Markers) []string {
	tokens, offsets := tokenize(content)
	lowerTerms := make([]string, len(terms))
	for i, t := range terms {
		lowerTerms[i] = strings.ToLower(t)
	}

	matchPositions := []int{}
	for i, tok := range tokens {
		lower := strings.ToLower(tok)
		for _, term := range lowerTerms {
			if term != "" && strings.Contains(lower, term) {
				matchPositions = append(matchPositions, i)
				break
			}
		}
	}
	if len(matchPositions) == 0 {
		return nil
	}

	var fragments []string
	used := make(map[int]bool)

	for _, pos := range matchPositions {
		if len(fragments) >= maxFragments {
			break
		}
		if used[pos] {
			continue
		}

		start := pos - maxTokensPerFragment/2
		if start < 0 {
			start = 0
		}
		end := start + maxTokensPerFragment
		if end > len(tokens) {
			end = len(tokens)
		}

		for k := start; k < end; k++ {
			used[k] = true
		}

		fragments = append(fragments, renderFragment(content, tokens, offsets, start, end, lowerTerms, markers))
	}

	return fragments
}

type tokenOffset struct {
	start, end int
}

func tokenize(content string) ([]string, []tokenOffset) {
	var tokens []string
	var offsets []tokenOffset

	start := -1
	for i, r := range content {
		isWordChar := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
		if isWordChar {
			if start == -1 {
				start = i
			}
		} else if start != -1 {
			tokens = append(tokens, content[start:i])
			offsets = append(offsets, tokenOffset{start, i})
			start = -1
		}
	}
	if start != -1 {
		tokens = append(tokens, content[start:])
		offsets = append(offsets, tokenOffset{start, len(content)})
	}
	return tokens, offsets
}

func renderFragment(content string, tokens []string, offsets []tokenOffset, start, end int, lowerTerms []string, markers Markers) string {
	if start >= end || len(offsets) == 0 {
		return ""
	}
	byteStart := offsets[start].start
	byteEnd := offsets[end-1].end

	var b strings.Builder
	cursor := byteStart
	for i := start; i < end; i++ {
		tok := tokens[i]
		lower := strings.ToLower(tok)
		off := offsets[i]

		b.WriteString(html.EscapeString(content[cursor:off.start]))

		matched := false
		for _, term := range lowerTerms {
			if term != "" && strings.Contains(lower, term) {
				matched = true
				break
			}
		}
		if matched {
			b.WriteString(markers.Pre)
			b.WriteString(html.EscapeString(tok))
			b.WriteString(markers.Post)
		} else {
			b.WriteString(html.EscapeString(tok))
		}
		cursor = off.end
	}
	if cursor < byteEnd {
		b.WriteString(html.EscapeString(content[cursor:byteEnd]))
	}
	return b.String()
}
