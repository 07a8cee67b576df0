// Package conversation persists explained snippets, grouped into numbered
// conversations. Records within a conversation are append-only.
package conversation

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"github.com/fabfab/codexplain/metrics"
)

var (
	ErrNotFound  = errors.New("conversation not found")
	ErrInvalidID = errors.New("conversation id must be a positive integer")

	// ErrConflict is returned when the backing document changed between
	// read and write.
	ErrConflict = errors.New("conversation store modified concurrently")
)

// Record is one explained snippet.
type Record struct {
	Code        string `json:"code"`
	Explanation string `json:"explanation"`
}

type Stats struct {
	Conversations int `json:"conversation_count"`
	Questions     int `json:"questions_asked"`
}

// Store is implemented by the JSON file, SQLite and Postgres backends.
type Store interface {
	// Create allocates a new id with NextID and stores an empty conversation.
	Create(ctx context.Context) (string, error)
	// Ensure creates the conversation if it does not exist yet.
	Ensure(ctx context.Context, id string) error
	// List returns all ids in ascending numeric order.
	List(ctx context.Context) ([]string, error)
	Messages(ctx context.Context, id string) ([]Record, error)
	// Append adds rec to an existing conversation and returns its position.
	Append(ctx context.Context, id string, rec Record) (int, error)
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Match is a stored record returned by similarity search.
type Match struct {
	ConversationID string  `json:"conversation_id"`
	Position       int     `json:"position"`
	Record         Record  `json:"record"`
	Score          float64 `json:"score"`
}

// Searcher is implemented by backends that can index record embeddings.
type Searcher interface {
	IndexRecord(ctx context.Context, id string, position int, embedding []float32) error
	SimilarRecords(ctx context.Context, embedding []float32, limit int) ([]Match, error)
}

// NextID returns one more than the larger of the highest numeric id in
// existing and highWater, the largest id ever issued. Ids that are not
// numbers are ignored. Keeping highWater means a deleted id is never handed
// out again.
func NextID(existing []string, highWater int) string {
	top := highWater
	for _, id := range existing {
		n, err := strconv.Atoi(id)
		if err != nil {
			continue
		}
		top = max(top, n)
	}
	return strconv.Itoa(top + 1)
}

// ParseID validates a conversation id.
func ParseID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 || strconv.FormatInt(n, 10) != id {
		return 0, ErrInvalidID
	}
	return n, nil
}

// sortIDs orders numeric ids by value, then any others lexically.
func sortIDs(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return ids[i] < ids[j]
		}
	})
}

func observe(backend, op string, err error) {
	metrics.StoreOperations.WithLabelValues(backend, op, metrics.Result(err)).Inc()
}
