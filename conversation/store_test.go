package conversation

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/codexplain/database"
)

func TestNextID(t *testing.T) {
	tests := []struct {
		name      string
		existing  []string
		highWater int
		want      string
	}{
		{"empty", nil, 0, "1"},
		{"max plus one", []string{"1", "2", "7"}, 0, "8"},
		{"unordered", []string{"10", "9", "2"}, 0, "11"},
		{"ignores non numeric", []string{"abc", "3"}, 0, "4"},
		{"only non numeric", []string{"abc"}, 0, "1"},
		{"high water wins", []string{"1", "2"}, 3, "4"},
		{"high water with empty store", nil, 5, "6"},
		{"existing above high water", []string{"9"}, 4, "10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextID(tt.existing, tt.highWater))
		})
	}
}

func TestParseID(t *testing.T) {
	for _, ok := range []string{"1", "42", "1000"} {
		_, err := ParseID(ok)
		assert.NoError(t, err, ok)
	}
	for _, bad := range []string{"", "0", "-1", "01", "abc", "1.5", " 1"} {
		_, err := ParseID(bad)
		assert.ErrorIs(t, err, ErrInvalidID, bad)
	}
}

func TestSortIDs(t *testing.T) {
	ids := []string{"10", "b", "2", "a", "1"}
	sortIDs(ids)
	assert.Equal(t, []string{"1", "2", "10", "a", "b"}, ids)
}

type storeFactory func(t *testing.T) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"json": func(t *testing.T) Store {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "conversations.json"))
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) Store {
			ctx := context.Background()
			db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "codexplain.db"))
			require.NoError(t, err)
			s, err := NewSQLiteStore(ctx, db)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		"postgres": func(t *testing.T) Store {
			s, err := NewPostgresStore(context.Background(), postgresTestPool(t), 0)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func TestStoreLifecycle(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)

			ids, err := store.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, ids)

			first, err := store.Create(ctx)
			require.NoError(t, err)
			assert.Equal(t, "1", first)

			second, err := store.Create(ctx)
			require.NoError(t, err)
			assert.Equal(t, "2", second)

			pos, err := store.Append(ctx, first, Record{Code: "print(1)", Explanation: "prints one"})
			require.NoError(t, err)
			assert.Equal(t, 0, pos)
			pos, err = store.Append(ctx, first, Record{Code: "print(2)", Explanation: "prints two"})
			require.NoError(t, err)
			assert.Equal(t, 1, pos)

			records, err := store.Messages(ctx, first)
			require.NoError(t, err)
			assert.Equal(t, []Record{
				{Code: "print(1)", Explanation: "prints one"},
				{Code: "print(2)", Explanation: "prints two"},
			}, records)

			records, err = store.Messages(ctx, second)
			require.NoError(t, err)
			assert.Empty(t, records)

			stats, err := store.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, Stats{Conversations: 2, Questions: 2}, stats)

			require.NoError(t, store.Delete(ctx, first))
			_, err = store.Messages(ctx, first)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, store.Delete(ctx, first), ErrNotFound)

			ids, err = store.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"2"}, ids)
		})
	}
}

func TestStoreDeletedIDIsNotReused(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)

			for i := 0; i < 3; i++ {
				_, err := store.Create(ctx)
				require.NoError(t, err)
			}
			require.NoError(t, store.Delete(ctx, "3"))

			id, err := store.Create(ctx)
			require.NoError(t, err)
			assert.Equal(t, "4", id)
		})
	}
}

func TestStoreAppendUnknownConversation(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			_, err := factory(t).Append(context.Background(), "9", Record{Code: "x"})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreEnsure(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)

			require.NoError(t, store.Ensure(ctx, "5"))
			require.NoError(t, store.Ensure(ctx, "5"))
			_, err := store.Append(ctx, "5", Record{Code: "x", Explanation: "y"})
			require.NoError(t, err)

			id, err := store.Create(ctx)
			require.NoError(t, err)
			assert.Equal(t, "6", id)

			assert.ErrorIs(t, store.Ensure(ctx, "abc"), ErrInvalidID)
		})
	}
}

func TestStoreConcurrentAppends(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)

			a, err := store.Create(ctx)
			require.NoError(t, err)
			b, err := store.Create(ctx)
			require.NoError(t, err)

			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				for _, id := range []string{a, b} {
					wg.Add(1)
					go func(id string, i int) {
						defer wg.Done()
						_, err := store.Append(ctx, id, Record{Code: fmt.Sprintf("x = %d", i)})
						assert.NoError(t, err)
					}(id, i)
				}
			}
			wg.Wait()

			stats, err := store.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, 20, stats.Questions)
		})
	}
}
