package chunker

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plainLines(n int) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("x%d = %d", i, i)
	}
	return strings.Join(lines, "\n")
}

func TestHeuristicSplitsOnDefAndClass(t *testing.T) {
	code := "import os\n\ndef a():\n    return 1\n\nclass B:\n    def m(self):\n        pass\nprint(a())"

	sections := HeuristicSplitter{}.Split(context.Background(), code)
	require.Len(t, sections, 4)
	assert.Equal(t, "import os\n", sections[0].Code)
	assert.Equal(t, "def a():\n    return 1\n", sections[1].Code)
	assert.Equal(t, "class B:", sections[2].Code)
	assert.True(t, strings.HasPrefix(sections[3].Code, "    def m(self):"))
}

func TestHeuristicRoundTrip(t *testing.T) {
	inputs := []string{
		"",
		"\n",
		"def f():\n    pass\n",
		"x = 1\ndef f():\n  pass\nclass C: pass\n\n\ndef g(): return 2",
		"define = 1\nclassic = 2",
		plainLines(45),
	}

	for _, code := range inputs {
		sections := HeuristicSplitter{}.Split(context.Background(), code)
		parts := make([]string, len(sections))
		for i, s := range sections {
			parts[i] = s.Code
		}
		assert.Equal(t, code, strings.Join(parts, "\n"))
	}
}

func TestHeuristicWithoutBoundariesIsOneSection(t *testing.T) {
	code := "define = 1\nclassic = 2\nprint(define + classic)"

	sections := HeuristicSplitter{}.Split(context.Background(), code)
	require.Len(t, sections, 1)
	assert.Equal(t, code, sections[0].Code)
	assert.Empty(t, sections[0].Title)
}

func TestBound(t *testing.T) {
	tests := []struct {
		name     string
		lines    int
		maxLines int
		want     []int
	}{
		{"under limit", 5, 20, []int{5}},
		{"exactly limit", 20, 20, []int{20}},
		{"one over", 21, 20, []int{20, 1}},
		{"forty five", 45, 20, []int{20, 20, 5}},
		{"default when zero", 41, 0, []int{20, 20, 1}},
		{"small slices", 7, 3, []int{3, 3, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := plainLines(tt.lines)
			chunks := Bound(code, tt.maxLines)

			got := make([]int, len(chunks))
			for i, c := range chunks {
				got[i] = len(strings.Split(c, "\n"))
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, code, strings.Join(chunks, "\n"))
		})
	}
}

func TestBoundSliceCount(t *testing.T) {
	for n := 1; n <= 70; n++ {
		for _, max := range []int{1, 7, 20} {
			chunks := Bound(plainLines(n), max)
			want := 1
			if n > max {
				want = (n + max - 1) / max
			}
			require.Len(t, chunks, want, "n=%d max=%d", n, max)
		}
	}
}

func TestChunkerSingleDefScenario(t *testing.T) {
	c := New(HeuristicSplitter{}, 20)

	blocks := c.Split(context.Background(), "def f():\n    pass\n")
	require.Len(t, blocks, 1)
	assert.Equal(t, 0, blocks[0].Ordinal)
	assert.Equal(t, "def f():\n    pass\n", blocks[0].Text)
}

func TestChunkerFortyFiveLines(t *testing.T) {
	code := plainLines(45)
	c := New(HeuristicSplitter{}, 20)

	blocks := c.Split(context.Background(), code)
	require.Len(t, blocks, 3)

	texts := make([]string, len(blocks))
	for i, b := range blocks {
		assert.Equal(t, i, b.Ordinal)
		assert.Equal(t, 0, b.Section)
		texts[i] = b.Text
	}
	assert.Equal(t, code, strings.Join(texts, "\n"))
}

func TestChunkerOrdinalsSpanSections(t *testing.T) {
	code := "def a():\n" + plainLines(25) + "\ndef b():\n    pass"
	c := New(HeuristicSplitter{}, 20)

	blocks := c.Split(context.Background(), code)
	require.Len(t, blocks, 3)
	assert.Equal(t, []int{0, 0, 1}, []int{blocks[0].Section, blocks[1].Section, blocks[2].Section})
	for i, b := range blocks {
		assert.Equal(t, i, b.Ordinal)
	}

	groups := Sections(blocks)
	require.Len(t, groups, 2)
	assert.Len(t, groups[0], 2)
	assert.Len(t, groups[1], 1)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("Heuristic")
	require.NoError(t, err)
	assert.Equal(t, StrategyHeuristic, s)

	s, err = ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategySemantic, s)

	_, err = ParseStrategy("ast")
	require.Error(t, err)
}

func TestBoundTrailingNewline(t *testing.T) {
	code := plainLines(20) + "\n"
	assert.Equal(t, []string{code}, Bound(code, 20))

	code = plainLines(45) + "\n"
	chunks := Bound(code, 20)
	require.Len(t, chunks, 3)
	assert.Equal(t, code, strings.Join(chunks, "\n"))
	assert.True(t, strings.HasSuffix(chunks[2], "\n"))
}

func TestHeuristicKeepsLeadingBlankLinesWithSection(t *testing.T) {
	code := "\n\ndef f():\n    pass"

	sections := HeuristicSplitter{}.Split(context.Background(), code)
	require.Len(t, sections, 1)
	assert.Equal(t, code, sections[0].Code)
}

func TestChunkerDropsWhitespaceOnlyBlocks(t *testing.T) {
	c := New(HeuristicSplitter{}, 20)

	blocks := c.Split(context.Background(), plainLines(20)+"\n")
	require.Len(t, blocks, 1)

	blocks = c.Split(context.Background(), "x = 1\n"+strings.Repeat("\n", 25))
	require.Len(t, blocks, 1)
	assert.Equal(t, 0, blocks[0].Ordinal)
	assert.True(t, strings.HasPrefix(blocks[0].Text, "x = 1"))

	blocks = c.Split(context.Background(), "\n\ndef f():\n    pass")
	require.Len(t, blocks, 1)
	assert.Equal(t, "\n\ndef f():\n    pass", blocks[0].Text)
}
