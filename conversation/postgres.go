package conversation

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/fabfab/codexplain/database"
)

const postgresBackend = "postgres"

// PostgresStore keeps conversations in Postgres. When the schema was created
// with a positive embedding dimension it also serves similarity search.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, dimension int) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if err := database.EnsureConversationSchema(ctx, pool, dimension); err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Create(ctx context.Context) (string, error) {
	var id string
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			"INSERT INTO id_sequence (name, high_water) VALUES ($1, 0) ON CONFLICT (name) DO NOTHING", sequenceName,
		); err != nil {
			return fmt.Errorf("init id sequence: %w", err)
		}

		var highWater, top int64
		if err := tx.QueryRow(ctx,
			"SELECT high_water FROM id_sequence WHERE name = $1 FOR UPDATE", sequenceName,
		).Scan(&highWater); err != nil {
			return fmt.Errorf("read id sequence: %w", err)
		}
		if err := tx.QueryRow(ctx, "SELECT COALESCE(MAX(id), 0) FROM conversations").Scan(&top); err != nil {
			return fmt.Errorf("read max conversation id: %w", err)
		}

		id = NextID([]string{strconv.FormatInt(top, 10)}, int(highWater))
		n, _ := strconv.ParseInt(id, 10, 64)
		if _, err := tx.Exec(ctx, "INSERT INTO conversations (id) VALUES ($1)", n); err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		return bumpPostgresSequence(ctx, tx, n)
	})
	observe(postgresBackend, "create", err)
	return id, err
}

func (s *PostgresStore) Ensure(ctx context.Context, id string) error {
	n, err := ParseID(id)
	if err != nil {
		return err
	}
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "INSERT INTO conversations (id) VALUES ($1) ON CONFLICT (id) DO NOTHING", n); err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		return bumpPostgresSequence(ctx, tx, n)
	})
	observe(postgresBackend, "ensure", err)
	return err
}

func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
	ids, err := s.list(ctx)
	observe(postgresBackend, "list", err)
	return ids, err
}

func (s *PostgresStore) list(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT id FROM conversations ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan conversation id: %w", err)
		}
		ids = append(ids, strconv.FormatInt(n, 10))
	}
	return ids, rows.Err()
}

func (s *PostgresStore) Messages(ctx context.Context, id string) ([]Record, error) {
	records, err := s.messages(ctx, id)
	observe(postgresBackend, "messages", err)
	return records, err
}

func (s *PostgresStore) messages(ctx context.Context, id string) ([]Record, error) {
	n, err := ParseID(id)
	if err != nil {
		return nil, ErrNotFound
	}
	if ok, err := postgresExists(ctx, s.pool, n); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrNotFound
	}

	rows, err := s.pool.Query(ctx,
		"SELECT code, explanation FROM conversation_records WHERE conversation_id = $1 ORDER BY position", n)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Code, &rec.Explanation); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) Append(ctx context.Context, id string, rec Record) (int, error) {
	var position int
	n, err := ParseID(id)
	if err != nil {
		err = ErrNotFound
	} else {
		err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			var locked int64
			err := tx.QueryRow(ctx, "SELECT id FROM conversations WHERE id = $1 FOR UPDATE", n).Scan(&locked)
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("lock conversation: %w", err)
			}

			if err := tx.QueryRow(ctx,
				"SELECT COALESCE(MAX(position) + 1, 0) FROM conversation_records WHERE conversation_id = $1", n,
			).Scan(&position); err != nil {
				return fmt.Errorf("read next position: %w", err)
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO conversation_records (id, conversation_id, position, code, explanation)
				VALUES ($1, $2, $3, $4, $5)
			`, uuid.New(), n, position, rec.Code, rec.Explanation); err != nil {
				return fmt.Errorf("insert record: %w", err)
			}
			return nil
		})
	}
	observe(postgresBackend, "append", err)
	return position, err
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	err := s.delete(ctx, id)
	observe(postgresBackend, "delete", err)
	return err
}

// delete relies on ON DELETE CASCADE for the records.
func (s *PostgresStore) delete(ctx context.Context, id string) error {
	n, err := ParseID(id)
	if err != nil {
		return ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, "DELETE FROM conversations WHERE id = $1", n)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.pool.QueryRow(ctx,
		"SELECT (SELECT count(*) FROM conversations), (SELECT count(*) FROM conversation_records)",
	).Scan(&stats.Conversations, &stats.Questions)
	if err != nil {
		err = fmt.Errorf("query stats: %w", err)
	}
	observe(postgresBackend, "stats", err)
	return stats, err
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) IndexRecord(ctx context.Context, id string, position int, embedding []float32) error {
	n, err := ParseID(id)
	if err != nil {
		return err
	}
	if len(embedding) == 0 {
		return fmt.Errorf("embedding is empty")
	}
	_, err = s.pool.Exec(ctx,
		"UPDATE conversation_records SET embedding = $1 WHERE conversation_id = $2 AND position = $3",
		pgvector.NewVector(embedding), n, position)
	if err != nil {
		return fmt.Errorf("store record embedding: %w", err)
	}
	return nil
}

func (s *PostgresStore) SimilarRecords(ctx context.Context, embedding []float32, limit int) ([]Match, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("embedding is empty")
	}
	if limit <= 0 {
		limit = 5
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	probes := max(limit*10, 10)
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET ivfflat.probes = %d", probes)); err != nil {
		return nil, fmt.Errorf("set ivfflat probes: %w", err)
	}

	rows, err := conn.Query(ctx, `
        SELECT
            conversation_id,
            position,
            code,
            explanation,
            (embedding <-> $1::vector) AS distance
        FROM conversation_records
        WHERE embedding IS NOT NULL
        ORDER BY embedding <-> $1::vector
        LIMIT $2
    `, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("query similar records: %w", err)
	}
	defer rows.Close()

	matches := make([]Match, 0)
	for rows.Next() {
		var (
			m        Match
			convID   int64
			distance float64
		)
		if err := rows.Scan(&convID, &m.Position, &m.Record.Code, &m.Record.Explanation, &distance); err != nil {
			return nil, fmt.Errorf("scan similar record: %w", err)
		}
		m.ConversationID = strconv.FormatInt(convID, 10)
		m.Score = 1 / (1 + distance)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return matches, nil
}

func postgresExists(ctx context.Context, pool *pgxpool.Pool, id int64) (bool, error) {
	var exists bool
	if err := pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)", id).Scan(&exists); err != nil {
		return false, fmt.Errorf("lookup conversation: %w", err)
	}
	return exists, nil
}

func bumpPostgresSequence(ctx context.Context, tx pgx.Tx, id int64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO id_sequence (name, high_water) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET high_water = GREATEST(id_sequence.high_water, EXCLUDED.high_water)
	`, sequenceName, id)
	if err != nil {
		return fmt.Errorf("update id sequence: %w", err)
	}
	return nil
}

var (
	_ Store    = (*PostgresStore)(nil)
	_ Searcher = (*PostgresStore)(nil)
)
