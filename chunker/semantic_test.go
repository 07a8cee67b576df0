package chunker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/codexplain/llm"
)

type stubClient struct {
	reply string
	err   error
	reqs  []llm.Request
}

func (s *stubClient) Generate(_ context.Context, req llm.Request) (string, error) {
	s.reqs = append(s.reqs, req)
	return s.reply, s.err
}

func TestSemanticSplitterParsesSections(t *testing.T) {
	client := &stubClient{reply: "```json\n[{\"title\": \"Imports\", \"code\": \"import os\"}, \"print(1)\"]\n```"}
	splitter := NewSemanticSplitter(client, 0, nil)

	sections := splitter.Split(context.Background(), "import os\nprint(1)")
	require.Equal(t, []Section{
		{Title: "Imports", Code: "import os"},
		{Code: "print(1)"},
	}, sections)

	require.Len(t, client.reqs, 1)
	assert.InDelta(t, DefaultSplitTemperature, client.reqs[0].Temperature, 1e-6)
	assert.Equal(t, llm.RoleSystem, client.reqs[0].Messages[0].Role)
	assert.Contains(t, client.reqs[0].Messages[1].Content, "import os\nprint(1)")
}

func TestSemanticSplitterFallbacks(t *testing.T) {
	code := "x = 1\ny = 2"

	tests := []struct {
		name   string
		reply  string
		err    error
		expect []Section
	}{
		{"quota sentinel", "", fmt.Errorf("openai: %w", llm.ErrQuotaExceeded), []Section{{Title: QuotaSectionTitle, Code: QuotaSectionMessage}}},
		{"quota wording", "", errors.New("Monthly spending LIMIT reached"), []Section{{Title: QuotaSectionTitle, Code: QuotaSectionMessage}}},
		{"transport", "", errors.New("connection refused"), []Section{{Code: code}}},
		{"empty reply", "   ", nil, []Section{{Code: code}}},
		{"not json", "Here are your sections!", nil, []Section{{Code: code}}},
		{"empty array", "[]", nil, []Section{{Code: code}}},
		{"object not array", `{"title": "a", "code": "x"}`, nil, []Section{{Code: code}}},
		{"missing code", `[{"title": "a"}]`, nil, []Section{{Code: code}}},
		{"code wrong type", `[{"title": "a", "code": 5}]`, nil, []Section{{Code: code}}},
		{"number item", `[1, 2]`, nil, []Section{{Code: code}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			splitter := NewSemanticSplitter(&stubClient{reply: tt.reply, err: tt.err}, 0.3, nil)
			assert.Equal(t, tt.expect, splitter.Split(context.Background(), code))
		})
	}
}

func TestParseSectionsWrapsMalformed(t *testing.T) {
	_, err := ParseSections(`[{"code": ""}]`)
	require.ErrorIs(t, err, llm.ErrMalformedResponse)

	sections, err := ParseSections(`[{"title": "  Loop  ", "code": "for i in x:\n    pass"}]`)
	require.NoError(t, err)
	assert.Equal(t, "Loop", sections[0].Title)
}

func TestChunkerWithSemanticSplitterBoundsSections(t *testing.T) {
	long := plainLines(25)
	client := &stubClient{reply: fmt.Sprintf(`[{"title": "Setup", "code": %q}, {"title": "Run", "code": "run()"}]`, long)}

	blocks := New(NewSemanticSplitter(client, 0.3, nil), 20).Split(context.Background(), "ignored")
	require.Len(t, blocks, 3)
	assert.Equal(t, "Setup", blocks[0].Title)
	assert.Equal(t, "Setup", blocks[1].Title)
	assert.Equal(t, "Run", blocks[2].Title)
	assert.Equal(t, 2, blocks[2].Ordinal)
}
