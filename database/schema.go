package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureConversationSchema creates the Postgres conversation tables. When
// dimension is positive the pgvector extension and a nullable embedding
// column are added for record similarity search.
func EnsureConversationSchema(ctx context.Context, pool *pgxpool.Pool, dimension int) error {
	if dimension < 0 {
		return fmt.Errorf("embedding dimension must not be negative")
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id BIGINT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_records (
			id UUID PRIMARY KEY,
			conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			position INT NOT NULL,
			code TEXT NOT NULL,
			explanation TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(conversation_id, position)
		)`,
		`CREATE TABLE IF NOT EXISTS id_sequence (
			name TEXT PRIMARY KEY,
			high_water BIGINT NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS idx_conversation_records_conversation ON conversation_records(conversation_id, position)",
	}
	if dimension > 0 {
		stmts = append(stmts,
			"CREATE EXTENSION IF NOT EXISTS vector",
			fmt.Sprintf("ALTER TABLE conversation_records ADD COLUMN IF NOT EXISTS embedding VECTOR(%d)", dimension),
			"CREATE INDEX IF NOT EXISTS idx_conversation_records_embedding ON conversation_records USING ivfflat (embedding vector_l2_ops)",
		)
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}

	return nil
}

// EnsureSQLiteSchema creates the same conversation tables in SQLite,
// without the embedding column.
func EnsureSQLiteSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_records (
			conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			code TEXT NOT NULL,
			explanation TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (conversation_id, position)
		)`,
		`CREATE TABLE IF NOT EXISTS id_sequence (
			name TEXT PRIMARY KEY,
			high_water INTEGER NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute sqlite schema statement: %w", err)
		}
	}
	return nil
}
