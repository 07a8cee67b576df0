package chunker

import (
	"context"
	"regexp"
	"strings"
)

var boundaryPattern = regexp.MustCompile(`^(def|class)\b`)

// HeuristicSplitter starts a new section at every line that, once
// indentation is trimmed, opens with def or class. Blank lines ahead of a
// boundary stay with the section that follows them.
type HeuristicSplitter struct{}

func (HeuristicSplitter) Split(_ context.Context, code string) []Section {
	lines := strings.Split(code, "\n")

	var (
		sections   []Section
		current    []string
		hasContent bool
	)
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if boundaryPattern.MatchString(trimmed) && hasContent {
			sections = append(sections, Section{Code: strings.Join(current, "\n")})
			current, hasContent = nil, false
		}
		current = append(current, line)
		hasContent = hasContent || trimmed != ""
	}
	sections = append(sections, Section{Code: strings.Join(current, "\n")})

	return sections
}
