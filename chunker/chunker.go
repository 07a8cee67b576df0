// Package chunker cuts a pasted snippet into ordered, size-bounded blocks.
//
// Splitting happens in two passes. A Splitter first proposes logical
// sections (by syntax or by asking the model), then Bound slices every
// section so no block exceeds the configured line count. Both passes keep
// source order and never drop text.
package chunker

import (
	"context"
	"fmt"
	"strings"
)

// DefaultMaxLines is the block size used when none is configured.
const DefaultMaxLines = 20

// Section is a logical part of a snippet as proposed by a Splitter.
// Title is empty for untitled sections.
type Section struct {
	Title string
	Code  string
}

// CodeBlock is one unit sent to the explainer. Ordinal is the 0-based
// position across the whole snippet; Section is the index of the Section
// the block was cut from.
type CodeBlock struct {
	Ordinal int
	Section int
	Title   string
	Text    string
}

// Splitter proposes sections for a snippet. Implementations are total:
// every failure is turned into a fallback section list.
type Splitter interface {
	Split(ctx context.Context, code string) []Section
}

type Strategy string

const (
	StrategyHeuristic Strategy = "heuristic"
	StrategySemantic  Strategy = "semantic"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyHeuristic:
		return StrategyHeuristic, nil
	case StrategySemantic, "":
		return StrategySemantic, nil
	default:
		return "", fmt.Errorf("unknown chunker strategy: %s", s)
	}
}

type Chunker struct {
	splitter Splitter
	maxLines int
}

func New(splitter Splitter, maxLines int) *Chunker {
	if splitter == nil {
		splitter = HeuristicSplitter{}
	}
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	return &Chunker{splitter: splitter, maxLines: maxLines}
}

// Split runs the configured strategy, bounds every section and numbers the
// resulting blocks in source order. Whitespace-only blocks are dropped.
func (c *Chunker) Split(ctx context.Context, code string) []CodeBlock {
	sections := c.splitter.Split(ctx, code)

	var blocks []CodeBlock
	for i, sec := range sections {
		for _, text := range Bound(sec.Code, c.maxLines) {
			if strings.TrimSpace(text) == "" {
				continue
			}
			blocks = append(blocks, CodeBlock{
				Ordinal: len(blocks),
				Section: i,
				Title:   sec.Title,
				Text:    text,
			})
		}
	}
	return blocks
}

// Sections groups blocks back by the section they came from, preserving order.
func Sections(blocks []CodeBlock) [][]CodeBlock {
	var out [][]CodeBlock
	for _, b := range blocks {
		if len(out) == 0 || out[len(out)-1][0].Section != b.Section {
			out = append(out, nil)
		}
		out[len(out)-1] = append(out[len(out)-1], b)
	}
	return out
}
