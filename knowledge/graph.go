// Package knowledge mirrors explained snippets into Neo4j so conversations
// can be browsed by the topics their sections cover.
package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// RecordNode is one stored explanation as it appears in the graph.
type RecordNode struct {
	ConversationID string
	Position       int
	Code           string
	Explanation    string
	Sections       []Section
}

// Section is a titled part of an explained snippet. Titles double as topics.
type Section struct {
	Order  int
	Title  string
	Blocks []Block
}

type Block struct {
	Ordinal int
	Text    string
	Status  string
}

type RelatedConversation struct {
	ID           string `json:"id"`
	SharedTopics int    `json:"shared_topics"`
}

type Insight struct {
	ConversationID string                `json:"conversation_id"`
	RecordCount    int                   `json:"record_count"`
	Topics         []string              `json:"topics"`
	Related        []RelatedConversation `json:"related"`
}

type Graph struct {
	driver neo4j.DriverWithContext
}

func NewGraph(driver neo4j.DriverWithContext) *Graph {
	return &Graph{driver: driver}
}

func recordKey(conversationID string, position int) string {
	return fmt.Sprintf("%s:%d", conversationID, position)
}

// SyncRecord upserts the record, its sections and blocks, and links every
// titled section to a shared Topic node.
func (g *Graph) SyncRecord(ctx context.Context, rec RecordNode) error {
	if g == nil || g.driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	key := recordKey(rec.ConversationID, rec.Position)
	params := map[string]any{
		"conversation_id": rec.ConversationID,
		"record_id":       key,
		"position":        rec.Position,
		"code":            rec.Code,
		"explanation":     rec.Explanation,
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (c:Conversation {id: $conversation_id})
			MERGE (r:Record {id: $record_id})
			SET r.code = $code,
			    r.explanation = $explanation,
			    r.updated_at = datetime()
			MERGE (c)-[:HAS_RECORD {position: $position}]->(r)
		`, params); err != nil {
			return nil, fmt.Errorf("upsert record node: %w", err)
		}

		if _, err := tx.Run(ctx, `
			MATCH (r:Record {id: $record_id})-[:HAS_SECTION]->(s:Section)
			OPTIONAL MATCH (s)-[:HAS_BLOCK]->(b:Block)
			DETACH DELETE s, b
		`, params); err != nil {
			return nil, fmt.Errorf("clear existing sections: %w", err)
		}

		for _, section := range rec.Sections {
			sectionID := fmt.Sprintf("%s:%d", key, section.Order)
			if _, err := tx.Run(ctx, `
				MATCH (r:Record {id: $record_id})
				MERGE (s:Section {id: $section_id})
				SET s.title = $section_title,
				    s.order = $section_order
				MERGE (r)-[:HAS_SECTION {order: $section_order}]->(s)
			`, map[string]any{
				"record_id":     key,
				"section_id":    sectionID,
				"section_title": section.Title,
				"section_order": section.Order,
			}); err != nil {
				return nil, fmt.Errorf("upsert section: %w", err)
			}

			if topic := strings.TrimSpace(section.Title); topic != "" {
				if _, err := tx.Run(ctx, `
					MATCH (s:Section {id: $section_id})
					MERGE (t:Topic {name: $topic_name})
					MERGE (s)-[:ABOUT]->(t)
				`, map[string]any{
					"section_id": sectionID,
					"topic_name": strings.ToLower(topic),
				}); err != nil {
					return nil, fmt.Errorf("upsert topic: %w", err)
				}
			}

			for _, block := range section.Blocks {
				if _, err := tx.Run(ctx, `
					MATCH (s:Section {id: $section_id})
					MERGE (b:Block {id: $block_id})
					SET b.ordinal = $ordinal,
					    b.text = $text,
					    b.status = $status
					MERGE (s)-[:HAS_BLOCK {ordinal: $ordinal}]->(b)
				`, map[string]any{
					"section_id": sectionID,
					"block_id":   fmt.Sprintf("%s:b%d", key, block.Ordinal),
					"ordinal":    block.Ordinal,
					"text":       block.Text,
					"status":     block.Status,
				}); err != nil {
					return nil, fmt.Errorf("upsert block node: %w", err)
				}
			}
		}

		return nil, nil
	})
	return err
}

// DeleteConversation removes a conversation and everything hanging off it,
// then drops topics no section refers to anymore.
func (g *Graph) DeleteConversation(ctx context.Context, conversationID string) error {
	if g == nil || g.driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MATCH (c:Conversation {id: $id})
			OPTIONAL MATCH (c)-[:HAS_RECORD]->(r:Record)
			OPTIONAL MATCH (r)-[:HAS_SECTION]->(s:Section)
			OPTIONAL MATCH (s)-[:HAS_BLOCK]->(b:Block)
			DETACH DELETE c, r, s, b
		`, map[string]any{"id": conversationID}); err != nil {
			return nil, fmt.Errorf("delete conversation subgraph: %w", err)
		}
		if _, err := tx.Run(ctx, `
			MATCH (t:Topic)
			WHERE NOT (t)<-[:ABOUT]-(:Section)
			DELETE t
		`, nil); err != nil {
			return nil, fmt.Errorf("cleanup orphan topics: %w", err)
		}
		return nil, nil
	})
	return err
}
