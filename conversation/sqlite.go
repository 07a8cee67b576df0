package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/fabfab/codexplain/database"
)

const (
	sqliteBackend = "sqlite"
	sequenceName  = "conversations"
)

// SQLiteStore keeps conversations in a local SQLite database. Every mutation
// runs in its own transaction.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore takes ownership of db and creates the schema if needed.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite handle is nil")
	}
	if err := database.EnsureSQLiteSchema(ctx, db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Create(ctx context.Context) (string, error) {
	var id string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var highWater, top int
		if err := tx.QueryRowContext(ctx,
			"SELECT COALESCE((SELECT high_water FROM id_sequence WHERE name = ?), 0)", sequenceName,
		).Scan(&highWater); err != nil {
			return fmt.Errorf("read id sequence: %w", err)
		}
		if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) FROM conversations").Scan(&top); err != nil {
			return fmt.Errorf("read max conversation id: %w", err)
		}

		id = NextID([]string{strconv.Itoa(top)}, highWater)
		n, _ := strconv.ParseInt(id, 10, 64)
		if _, err := tx.ExecContext(ctx, "INSERT INTO conversations (id) VALUES (?)", n); err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		return bumpSQLiteSequence(ctx, tx, n)
	})
	observe(sqliteBackend, "create", err)
	return id, err
}

func (s *SQLiteStore) Ensure(ctx context.Context, id string) error {
	n, err := ParseID(id)
	if err != nil {
		return err
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO conversations (id) VALUES (?)", n); err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		return bumpSQLiteSequence(ctx, tx, n)
	})
	observe(sqliteBackend, "ensure", err)
	return err
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	ids, err := s.list(ctx)
	observe(sqliteBackend, "list", err)
	return ids, err
}

func (s *SQLiteStore) list(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM conversations ORDER BY id")
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

func (s *SQLiteStore) Messages(ctx context.Context, id string) ([]Record, error) {
	records, err := s.messages(ctx, id)
	observe(sqliteBackend, "messages", err)
	return records, err
}

func (s *SQLiteStore) messages(ctx context.Context, id string) ([]Record, error) {
	n, err := ParseID(id)
	if err != nil {
		return nil, ErrNotFound
	}
	if ok, err := sqliteExists(ctx, s.db, n); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT code, explanation FROM conversation_records WHERE conversation_id = ? ORDER BY position", n)
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

func (s *SQLiteStore) Append(ctx context.Context, id string, rec Record) (int, error) {
	var position int
	n, err := ParseID(id)
	if err != nil {
		err = ErrNotFound
	} else {
		err = s.withTx(ctx, func(tx *sql.Tx) error {
			if ok, err := sqliteExists(ctx, tx, n); err != nil {
				return err
			} else if !ok {
				return ErrNotFound
			}
			if err := tx.QueryRowContext(ctx,
				"SELECT COALESCE(MAX(position) + 1, 0) FROM conversation_records WHERE conversation_id = ?", n,
			).Scan(&position); err != nil {
				return fmt.Errorf("read next position: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO conversation_records (conversation_id, position, code, explanation) VALUES (?, ?, ?, ?)",
				n, position, rec.Code, rec.Explanation,
			); err != nil {
				return fmt.Errorf("insert record: %w", err)
			}
			return nil
		})
	}
	observe(sqliteBackend, "append", err)
	return position, err
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	n, err := ParseID(id)
	if err != nil {
		err = ErrNotFound
	} else {
		err = s.withTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, "DELETE FROM conversation_records WHERE conversation_id = ?", n); err != nil {
				return fmt.Errorf("delete records: %w", err)
			}
			res, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", n)
			if err != nil {
				return fmt.Errorf("delete conversation: %w", err)
			}
			if affected, err := res.RowsAffected(); err == nil && affected == 0 {
				return ErrNotFound
			}
			return nil
		})
	}
	observe(sqliteBackend, "delete", err)
	return err
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.db.QueryRowContext(ctx,
		"SELECT (SELECT count(*) FROM conversations), (SELECT count(*) FROM conversation_records)",
	).Scan(&stats.Conversations, &stats.Questions)
	if err != nil {
		err = fmt.Errorf("query stats: %w", err)
	}
	observe(sqliteBackend, "stats", err)
	return stats, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func sqliteExists(ctx context.Context, q queryRower, id int64) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, "SELECT 1 FROM conversations WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup conversation: %w", err)
	}
	return true, nil
}

func bumpSQLiteSequence(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO id_sequence (name, high_water) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET high_water = max(high_water, excluded.high_water)
	`, sequenceName, id)
	if err != nil {
		return fmt.Errorf("update id sequence: %w", err)
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
