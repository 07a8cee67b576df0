package knowledge

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Insights summarizes one conversation: how many records it holds, which
// topics its sections cover and which other conversations share them.
func (g *Graph) Insights(ctx context.Context, conversationID string) (Insight, error) {
	if g == nil || g.driver == nil {
		return Insight{}, fmt.Errorf("neo4j driver is nil")
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (c:Conversation {id: $id})
		OPTIONAL MATCH (c)-[:HAS_RECORD]->(r:Record)
		OPTIONAL MATCH (r)-[:HAS_SECTION]->(:Section)-[:ABOUT]->(t:Topic)
		WITH c, count(DISTINCT r) AS recordCount, collect(DISTINCT t) AS topicNodes
		OPTIONAL MATCH (other:Conversation)-[:HAS_RECORD]->(:Record)-[:HAS_SECTION]->(:Section)-[:ABOUT]->(shared:Topic)
		WHERE other.id <> c.id AND shared IN topicNodes
		WITH c, recordCount, topicNodes, other, count(DISTINCT shared) AS sharedCount
		ORDER BY sharedCount DESC, other.id
		WITH recordCount,
		     [t IN topicNodes | t.name] AS topics,
		     collect(CASE WHEN other IS NULL THEN NULL ELSE {id: other.id, shared: sharedCount} END) AS related
		RETURN recordCount, topics, [x IN related WHERE x IS NOT NULL] AS related
	`, map[string]any{"id": conversationID})
	if err != nil {
		return Insight{}, fmt.Errorf("run neo4j insights query: %w", err)
	}

	insight := Insight{ConversationID: conversationID}
	if result.Next(ctx) {
		record := result.Record()
		countVal, _ := record.Get("recordCount")
		topicsVal, _ := record.Get("topics")
		relatedVal, _ := record.Get("related")

		insight.RecordCount = int(toInt64(countVal))
		insight.Topics = convertStringSlice(topicsVal)
		insight.Related = convertRelated(relatedVal)
	}
	if err := result.Err(); err != nil {
		return Insight{}, fmt.Errorf("neo4j insights result error: %w", err)
	}

	return insight, nil
}

func toInt64(value any) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	default:
		return 0
	}
}

func convertStringSlice(value any) []string {
	raw, ok := value.([]any)
	if !ok {
		if v, ok := value.([]string); ok {
			return v
		}
		return nil
	}

	result := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			result = append(result, s)
		}
	}
	return result
}

func convertRelated(value any) []RelatedConversation {
	raw, ok := value.([]any)
	if !ok {
		return nil
	}

	related := make([]RelatedConversation, 0, len(raw))
	for _, item := range raw {
		data, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := data["id"].(string)
		if id == "" {
			continue
		}
		related = append(related, RelatedConversation{ID: id, SharedTopics: int(toInt64(data["shared"]))})
	}
	return related
}
