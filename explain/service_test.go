package explain

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/codexplain/chunker"
	"github.com/fabfab/codexplain/conversation"
	"github.com/fabfab/codexplain/llm"
)

func TestExplainValidation(t *testing.T) {
	client := &recordingClient{}
	svc := newTestService(t, client, fenced)
	ctx := context.Background()

	tests := []struct {
		name string
		code string
		id   string
		want error
	}{
		{"empty code", "   ", "1", ErrEmptyCode},
		{"missing conversation", "print(1)", " ", ErrMissingConversation},
		{"invalid id", "print(1)", "abc", ErrInvalidConversationID},
		{"zero id", "print(1)", "0", ErrInvalidConversationID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Explain(ctx, tt.code, tt.id)
			require.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
	assert.Empty(t, client.calls())
}

func TestExplainAppendsRecord(t *testing.T) {
	client := &recordingClient{}
	svc := newTestService(t, client, fenced)
	ctx := context.Background()

	id, err := svc.CreateConversation(ctx)
	require.NoError(t, err)

	res, err := svc.Explain(ctx, "print(1)", id)
	require.NoError(t, err)
	assert.Equal(t, id, res.ConversationID)
	assert.Equal(t, 0, res.Position)

	res, err = svc.Explain(ctx, "print(2)", id)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Position)

	records, err := svc.Messages(ctx, id)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "print(1)", records[0].Code)
	assert.Equal(t, "```python\nprint(1)\n```\n\nexplanation 0", records[0].Explanation)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, conversation.Stats{Conversations: 1, Questions: 2}, stats)
}

func TestExplainAutoCreatesConversation(t *testing.T) {
	svc := newTestService(t, &recordingClient{}, fenced)
	ctx := context.Background()

	_, err := svc.Explain(ctx, "print(1)", "7")
	require.NoError(t, err)

	ids, err := svc.ListConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, ids)

	next, err := svc.CreateConversation(ctx)
	require.NoError(t, err)
	assert.Equal(t, "8", next)
}

func TestCanceledExplainLeavesNoConversation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &recordingClient{respond: func(int, llm.Request) (string, error) {
		cancel()
		return "ok", nil
	}}
	svc := newTestService(t, client, fenced)

	_, err := svc.Explain(ctx, plainLines(45), "9")
	require.ErrorIs(t, err, context.Canceled)

	ids, err := svc.ListConversations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)

	id, err := svc.CreateConversation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", id)
}

func TestExplainRejectsUnknownConversationWithoutAutoCreate(t *testing.T) {
	client := &recordingClient{}
	svc := newTestService(t, client, Options{AutoCreate: false})

	_, err := svc.Explain(context.Background(), "print(1)", "3")
	require.ErrorIs(t, err, ErrConversationNotFound)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.ErrorIs(t, err, conversation.ErrNotFound)
	assert.Empty(t, client.calls())
}

func TestConversationLifecycle(t *testing.T) {
	svc := newTestService(t, &recordingClient{}, fenced)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.CreateConversation(ctx)
		require.NoError(t, err)
	}
	require.NoError(t, svc.DeleteConversation(ctx, "3"))

	id, err := svc.CreateConversation(ctx)
	require.NoError(t, err)
	assert.Equal(t, "4", id)

	assert.ErrorIs(t, svc.DeleteConversation(ctx, "3"), ErrConversationNotFound)
	assert.ErrorIs(t, svc.DeleteConversation(ctx, "x"), ErrInvalidConversationID)

	_, err = svc.Messages(ctx, "3")
	assert.ErrorIs(t, err, conversation.ErrNotFound)
}

func TestMirrorReceivesSectionsAndFailuresAreIgnored(t *testing.T) {
	store, err := conversation.NewFileStore(filepath.Join(t.TempDir(), "c.json"))
	require.NoError(t, err)
	mirror := &stubMirror{err: errors.New("neo4j down")}

	svc := NewService(
		chunker.New(chunker.HeuristicSplitter{}, 20),
		NewExplainer(&recordingClient{}, ExplainerOptions{}, nil),
		store, mirror, nil, fenced, nil,
	)
	ctx := context.Background()

	_, err = svc.Explain(ctx, "x = 1\ndef f():\n    return x", "1")
	require.NoError(t, err)

	require.Len(t, mirror.synced, 1)
	node := mirror.synced[0]
	assert.Equal(t, "1", node.ConversationID)
	require.Len(t, node.Sections, 2)
	assert.Equal(t, "x = 1", node.Sections[0].Blocks[0].Text)
	assert.Equal(t, 1, node.Sections[1].Blocks[0].Ordinal)
	assert.Equal(t, "ok", node.Sections[1].Blocks[0].Status)

	require.NoError(t, svc.DeleteConversation(ctx, "1"))
	assert.Equal(t, []string{"1"}, mirror.deleted)
}

func TestInsightsRequireMirror(t *testing.T) {
	svc := newTestService(t, &recordingClient{}, fenced)
	_, err := svc.Insights(context.Background(), "1")
	assert.ErrorIs(t, err, ErrGraphUnavailable)
}

type searchableStore struct {
	*conversation.FileStore
	indexed map[string][]float32
}

func (s *searchableStore) IndexRecord(_ context.Context, id string, _ int, embedding []float32) error {
	s.indexed[id] = embedding
	return nil
}

func (s *searchableStore) SimilarRecords(_ context.Context, _ []float32, limit int) ([]conversation.Match, error) {
	var out []conversation.Match
	for id := range s.indexed {
		out = append(out, conversation.Match{ConversationID: id, Score: 1})
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fixedEmbedder struct{ texts []string }

func (e *fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.texts = append(e.texts, texts...)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func TestSearchIndexesAndQueries(t *testing.T) {
	fs, err := conversation.NewFileStore(filepath.Join(t.TempDir(), "c.json"))
	require.NoError(t, err)
	store := &searchableStore{FileStore: fs, indexed: map[string][]float32{}}
	embedder := &fixedEmbedder{}

	svc := NewService(
		chunker.New(chunker.HeuristicSplitter{}, 20),
		NewExplainer(&recordingClient{}, ExplainerOptions{}, nil),
		store, nil, embedder, fenced, nil,
	)
	ctx := context.Background()

	_, err = svc.Explain(ctx, "print(1)", "1")
	require.NoError(t, err)
	assert.Contains(t, store.indexed, "1")

	matches, err := svc.Search(ctx, "printing", 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "1", matches[0].ConversationID)

	_, err = svc.Search(ctx, "  ", 0)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestSearchUnavailableWithoutSearcher(t *testing.T) {
	svc := newTestService(t, &recordingClient{}, fenced)
	_, err := svc.Search(context.Background(), "loops", 3)
	assert.ErrorIs(t, err, ErrSearchUnavailable)
}
