package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

const fileBackend = "json"

// fileDocument is the on-disk layout. Version increases on every save and
// HighWater is the largest id ever issued.
type fileDocument struct {
	Version       int                 `json:"version"`
	HighWater     int                 `json:"high_water"`
	Conversations map[string][]Record `json:"conversations"`
}

// FileStore keeps every conversation in one JSON document. Each mutation
// loads the whole document, changes it and writes it back through a temp
// file rename. The mutex serializes writers in this process; the version
// check catches writers in other processes.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("conversation file path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create conversation directory: %w", err)
		}
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Create(ctx context.Context) (string, error) {
	var id string
	err := s.update(ctx, func(doc *fileDocument) error {
		id = NextID(keys(doc.Conversations), doc.HighWater)
		n, _ := strconv.Atoi(id)
		doc.HighWater = n
		doc.Conversations[id] = []Record{}
		return nil
	})
	observe(fileBackend, "create", err)
	return id, err
}

func (s *FileStore) Ensure(ctx context.Context, id string) error {
	n, err := ParseID(id)
	if err != nil {
		return err
	}
	err = s.update(ctx, func(doc *fileDocument) error {
		if _, ok := doc.Conversations[id]; ok {
			return errUnchanged
		}
		doc.Conversations[id] = []Record{}
		doc.HighWater = max(doc.HighWater, int(n))
		return nil
	})
	observe(fileBackend, "ensure", err)
	return err
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	doc, err := s.read(ctx)
	observe(fileBackend, "list", err)
	if err != nil {
		return nil, err
	}
	ids := keys(doc.Conversations)
	sortIDs(ids)
	return ids, nil
}

func (s *FileStore) Messages(ctx context.Context, id string) ([]Record, error) {
	doc, err := s.read(ctx)
	if err == nil {
		if records, ok := doc.Conversations[id]; ok {
			observe(fileBackend, "messages", nil)
			return records, nil
		}
		err = ErrNotFound
	}
	observe(fileBackend, "messages", err)
	return nil, err
}

func (s *FileStore) Append(ctx context.Context, id string, rec Record) (int, error) {
	var position int
	err := s.update(ctx, func(doc *fileDocument) error {
		records, ok := doc.Conversations[id]
		if !ok {
			return ErrNotFound
		}
		position = len(records)
		doc.Conversations[id] = append(records, rec)
		return nil
	})
	observe(fileBackend, "append", err)
	return position, err
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	err := s.update(ctx, func(doc *fileDocument) error {
		if _, ok := doc.Conversations[id]; !ok {
			return ErrNotFound
		}
		delete(doc.Conversations, id)
		return nil
	})
	observe(fileBackend, "delete", err)
	return err
}

func (s *FileStore) Stats(ctx context.Context) (Stats, error) {
	doc, err := s.read(ctx)
	observe(fileBackend, "stats", err)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Conversations: len(doc.Conversations)}
	for _, records := range doc.Conversations {
		stats.Questions += len(records)
	}
	return stats, nil
}

func (s *FileStore) Close() error { return nil }

var errUnchanged = errors.New("unchanged")

func (s *FileStore) read(ctx context.Context) (*fileDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileStore) update(ctx context.Context, fn func(doc *fileDocument) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	loaded := doc.Version

	if err := fn(doc); err != nil {
		if errors.Is(err, errUnchanged) {
			return nil
		}
		return err
	}

	current, err := s.load()
	if err != nil {
		return err
	}
	if current.Version != loaded {
		return ErrConflict
	}

	doc.Version = loaded + 1
	return s.save(doc)
}

// load reads the document, accepting the legacy flat {"id": [records]}
// layout as well. A missing file is an empty store.
func (s *FileStore) load() (*fileDocument, error) {
	doc := &fileDocument{Conversations: map[string][]Record{}}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read conversations: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}

	if _, ok := probe["conversations"]; ok {
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("decode conversations: %w", err)
		}
		if doc.Conversations == nil {
			doc.Conversations = map[string][]Record{}
		}
		return doc, nil
	}

	for id, raw := range probe {
		var records []Record
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("decode legacy conversation %s: %w", id, err)
		}
		if records == nil {
			records = []Record{}
		}
		doc.Conversations[id] = records
	}
	return doc, nil
}

func (s *FileStore) save(doc *fileDocument) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode conversations: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".conversations-*.json")
	if err != nil {
		return fmt.Errorf("create temp conversations file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write conversations: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp conversations file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace conversations file: %w", err)
	}
	return nil
}

func keys(m map[string][]Record) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

var _ Store = (*FileStore)(nil)
