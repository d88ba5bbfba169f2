package extract

import (
	"strings"
)

const (
	DefaultLookahead = 4
	DefaultMinLength = 10
)

// Extractor locates a status value next to a marker phrase in page text.
type Extractor struct {
	Marker    string
	Lookahead int
	MinLength int
}

// New returns an extractor, filling zero values with defaults.
func New(marker string, lookahead, minLength int) Extractor {
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	return Extractor{Marker: marker, Lookahead: lookahead, MinLength: minLength}
}

// Extract returns the status found after the first marker occurrence.
// The second return value is false when the marker is missing or no
// qualifying line follows it within the lookahead window.
func (e Extractor) Extract(text string) (string, bool) {
	marker := strings.TrimSpace(e.Marker)
	if marker == "" || !strings.Contains(text, marker) {
		return "", false
	}
	lines := splitLines(text)
	for i, line := range lines {
		idx := strings.Index(line, marker)
		if idx < 0 {
			continue
		}
		if status := trailing(line, idx, marker); status != "" {
			return status, true
		}
		return e.scanAhead(lines[i+1:], marker)
	}
	return "", false
}

func (e Extractor) scanAhead(lines []string, marker string) (string, bool) {
	leading := leadingWord(marker)
	window := e.Lookahead
	if window <= 0 {
		window = DefaultLookahead
	}
	if len(lines) < window {
		window = len(lines)
	}
	for _, line := range lines[:window] {
		candidate := strings.TrimSpace(line)
		if candidate == "" || strings.HasPrefix(candidate, leading) {
			continue
		}
		if len([]rune(candidate)) > e.MinLength {
			return candidate, true
		}
	}
	return "", false
}

// trailing returns what follows the marker on its own line, without the
// usual label separators. Text before the marker is a label, not a status.
func trailing(line string, idx int, marker string) string {
	rest := strings.TrimSpace(line[idx+len(marker):])
	rest = strings.TrimLeft(rest, ":-–|")
	return strings.TrimSpace(rest)
}

func leadingWord(marker string) string {
	fields := strings.Fields(marker)
	if len(fields) == 0 {
		return marker
	}
	return fields[0]
}

func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r")
	}
	return lines
}
