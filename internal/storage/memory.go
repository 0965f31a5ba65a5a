package storage

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store shared between simulated parties. It is
// the test and demo double for the browser's storage area: several
// independent feeds attach to one MemoryStore the way several tabs share one
// origin.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
	subs   map[int]chan Change
	nextID int
	closed bool
}

const watchBuffer = 16

// NewMemoryStore builds an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string][]byte),
		subs:   make(map[int]chan Change),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrUnavailable
	}
	value, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrUnavailable
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	m.values[key] = stored
	m.broadcastLocked(Change{Key: key, Value: stored})
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrUnavailable
	}
	if _, ok := m.values[key]; !ok {
		return nil
	}
	delete(m.values, key)
	m.broadcastLocked(Change{Key: key, Removed: true})
	return nil
}

func (m *MemoryStore) Watch(ctx context.Context) (<-chan Change, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrUnavailable
	}
	id := m.nextID
	m.nextID++
	ch := make(chan Change, watchBuffer)
	m.subs[id] = ch
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		if existing, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(existing)
		}
		m.mu.Unlock()
	}()
	return ch, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
	return nil
}

// A full subscriber simply misses the notification; the poll fallback
// re-reads the key on the next tick.
func (m *MemoryStore) broadcastLocked(change Change) {
	for _, ch := range m.subs {
		select {
		case ch <- change:
		default:
		}
	}
}
