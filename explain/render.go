package explain

import (
	"strings"

	"github.com/fabfab/codexplain/chunker"
)

// SectionResult pairs the blocks of one section with their fragments,
// index for index.
type SectionResult struct {
	Title     string              `json:"title,omitempty"`
	Blocks    []chunker.CodeBlock `json:"-"`
	Fragments []Fragment          `json:"fragments"`
}

// Analysis is the outcome of one pass over a snippet. Code is the snippet
// exactly as received.
type Analysis struct {
	Code     string          `json:"code"`
	Document string          `json:"explanation"`
	Sections []SectionResult `json:"sections"`
}

type RenderOptions struct {
	FenceCode       bool
	FenceLanguage   string
	SectionHeadings bool
}

// Render builds the explanation document. With fencing every explanation is
// preceded by its block, without surrounding blank lines, in a fenced code
// block; without it only the
// explanations are kept. Blocks and sections are separated by a blank line.
func Render(sections []SectionResult, opts RenderOptions) string {
	rendered := make([]string, 0, len(sections))
	for _, sec := range sections {
		parts := make([]string, 0, len(sec.Fragments))
		for i, frag := range sec.Fragments {
			if opts.FenceCode && i < len(sec.Blocks) {
				code := strings.Trim(sec.Blocks[i].Text, "\n")
				parts = append(parts, "```"+opts.FenceLanguage+"\n"+code+"\n```\n\n"+frag.Text)
				continue
			}
			parts = append(parts, frag.Text)
		}

		body := strings.Join(parts, "\n\n")
		if opts.SectionHeadings && sec.Title != "" {
			body = "### " + sec.Title + "\n\n" + body
		}
		rendered = append(rendered, body)
	}
	return strings.Join(rendered, "\n\n")
}
