package knowledge

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/codexplain/config"
	"github.com/fabfab/codexplain/database"
)

func TestGraphRoundTrip(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION_TESTS") != "1" {
		t.Skip("set RUN_DB_INTEGRATION_TESTS=1 to run knowledge graph checks")
	}

	cfg, err := config.Load("")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	driver, err := database.NewNeo4jDriver(ctx, cfg.Graph.Neo4jURI, cfg.Graph.Neo4jUser, cfg.Graph.Neo4jPass)
	require.NoError(t, err)
	defer driver.Close(ctx)

	g := NewGraph(driver)

	// Ids far above anything a real store hands out keep the test off live data.
	base := time.Now().UnixNano() % 1_000_000_000
	first := fmt.Sprint(9_000_000_000 + base)
	second := fmt.Sprint(9_000_000_001 + base)
	topic := fmt.Sprintf("loops %d", base)
	t.Cleanup(func() {
		_ = g.DeleteConversation(context.Background(), first)
		_ = g.DeleteConversation(context.Background(), second)
	})

	require.NoError(t, g.SyncRecord(ctx, RecordNode{
		ConversationID: first,
		Position:       0,
		Code:           "for i in range(3):\n    print(i)",
		Explanation:    "prints three numbers",
		Sections: []Section{
			{Order: 0, Title: topic, Blocks: []Block{{Ordinal: 0, Text: "prints three numbers", Status: "ok"}}},
			{Order: 1, Title: "", Blocks: []Block{{Ordinal: 1, Text: "untitled", Status: "ok"}}},
		},
	}))
	require.NoError(t, g.SyncRecord(ctx, RecordNode{
		ConversationID: second,
		Position:       0,
		Code:           "while True:\n    break",
		Explanation:    "stops at once",
		Sections:       []Section{{Order: 0, Title: topic, Blocks: []Block{{Ordinal: 0, Text: "stops at once", Status: "ok"}}}},
	}))

	// Syncing the same record again replaces its sections instead of adding to them.
	require.NoError(t, g.SyncRecord(ctx, RecordNode{
		ConversationID: second,
		Position:       0,
		Code:           "while True:\n    break",
		Explanation:    "stops at once",
		Sections:       []Section{{Order: 0, Title: topic, Blocks: []Block{{Ordinal: 0, Text: "stops at once", Status: "ok"}}}},
	}))

	insight, err := g.Insights(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, first, insight.ConversationID)
	assert.Equal(t, 1, insight.RecordCount)
	assert.Equal(t, []string{topic}, insight.Topics)
	assert.Contains(t, insight.Related, RelatedConversation{ID: second, SharedTopics: 1})

	require.NoError(t, g.DeleteConversation(ctx, second))

	insight, err = g.Insights(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 1, insight.RecordCount)
	assert.Equal(t, []string{topic}, insight.Topics)
	assert.NotContains(t, insight.Related, RelatedConversation{ID: second, SharedTopics: 1})

	require.NoError(t, g.DeleteConversation(ctx, first))

	insight, err = g.Insights(ctx, first)
	require.NoError(t, err)
	assert.Zero(t, insight.RecordCount)
	assert.Empty(t, insight.Topics)
}
