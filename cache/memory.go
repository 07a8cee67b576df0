package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	key     string
	value   string
	expires time.Time
}

// Memory is an in-process LRU cache with an optional TTL.
type Memory struct {
	mu         sync.Mutex
	maxEntries int
	ttl        time.Duration
	order      *list.List
	items      map[string]*list.Element
	now        func() time.Time
}

// NewMemory returns a cache holding at most maxEntries values (unbounded
// when maxEntries <= 0). A zero ttl keeps entries until evicted.
func NewMemory(maxEntries int, ttl time.Duration) *Memory {
	return &Memory{
		maxEntries: maxEntries,
		ttl:        ttl,
		order:      list.New(),
		items:      make(map[string]*list.Element),
		now:        time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key]
	if !ok {
		return "", ErrCacheMiss
	}
	entry := el.Value.(*memoryEntry)
	if !entry.expires.IsZero() && m.now().After(entry.expires) {
		m.remove(el)
		return "", ErrCacheMiss
	}
	m.order.MoveToFront(el)
	return entry.value, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expires time.Time
	if m.ttl > 0 {
		expires = m.now().Add(m.ttl)
	}

	if el, ok := m.items[key]; ok {
		entry := el.Value.(*memoryEntry)
		entry.value = value
		entry.expires = expires
		m.order.MoveToFront(el)
		return nil
	}

	m.items[key] = m.order.PushFront(&memoryEntry{key: key, value: value, expires: expires})
	for m.maxEntries > 0 && m.order.Len() > m.maxEntries {
		m.remove(m.order.Back())
	}
	return nil
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

func (m *Memory) Close() error { return nil }

func (m *Memory) remove(el *list.Element) {
	m.order.Remove(el)
	delete(m.items, el.Value.(*memoryEntry).key)
}

var _ Cache = (*Memory)(nil)
