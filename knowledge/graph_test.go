package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncRecordNilDriver(t *testing.T) {
	err := NewGraph(nil).SyncRecord(context.Background(), RecordNode{ConversationID: "1"})
	require.Error(t, err)
}

func TestDeleteConversationNilDriver(t *testing.T) {
	var g *Graph
	require.Error(t, g.DeleteConversation(context.Background(), "1"))
}

func TestInsightsNilDriver(t *testing.T) {
	_, err := NewGraph(nil).Insights(context.Background(), "1")
	require.Error(t, err)
}

func TestConvertRelated(t *testing.T) {
	related := convertRelated([]any{
		map[string]any{"id": "2", "shared": int64(3)},
		map[string]any{"id": "", "shared": int64(1)},
		"garbage",
		map[string]any{"id": "7", "shared": int64(1)},
	})
	assert.Equal(t, []RelatedConversation{{ID: "2", SharedTopics: 3}, {ID: "7", SharedTopics: 1}}, related)
	assert.Nil(t, convertRelated(nil))
}

func TestConvertStringSlice(t *testing.T) {
	assert.Equal(t, []string{"loops", "functions"}, convertStringSlice([]any{"loops", "", 5, "functions"}))
	assert.Equal(t, []string{"x"}, convertStringSlice([]string{"x"}))
	assert.Nil(t, convertStringSlice(42))
}
