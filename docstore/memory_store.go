package docstore

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store used by tests and short-lived tools.
// It supports the full interface including Subscribe.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]Record
	watchers  map[int]*watcher
	nextWatch int
	closed    bool
}

type watcher struct {
	collection string
	wheres     []Where
	ch         chan Snapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]Record),
		watchers:  make(map[int]*watcher),
	}
}

func (m *MemoryStore) Get(_ context.Context, path string) (Record, error) {
	if _, err := splitPath(path); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.documents[path]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(record), nil
}

func (m *MemoryStore) Set(_ context.Context, path string, record Record, merge bool) error {
	if _, err := splitPath(path); err != nil {
		return err
	}

	m.mu.Lock()
	existing, ok := m.documents[path]
	if merge && ok {
		m.documents[path] = mergeRecords(existing, record)
	} else {
		m.documents[path] = cloneRecord(record)
	}
	m.notifyLocked(path)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Update(_ context.Context, path string, partial Record) error {
	if _, err := splitPath(path); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.documents[path]
	if !ok {
		return ErrNotFound
	}
	m.documents[path] = mergeRecords(existing, partial)
	m.notifyLocked(path)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, path string) error {
	if _, err := splitPath(path); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.documents, path)
	m.notifyLocked(path)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Query(_ context.Context, collection string, wheres ...Where) ([]Record, error) {
	if _, err := splitCollection(collection); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queryLocked(collection, wheres), nil
}

// queryLocked collects matching documents of a collection. Documents of
// nested subcollections are excluded: a member has exactly one more path
// segment than its collection.
func (m *MemoryStore) queryLocked(collection string, wheres []Where) []Record {
	prefix := collection + "/"
	var results []Record
	for path, record := range m.documents {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		if strings.Contains(path[len(prefix):], "/") {
			continue
		}
		if matches(record, wheres) {
			results = append(results, cloneRecord(record))
		}
	}
	return results
}

func (m *MemoryStore) Subscribe(ctx context.Context, collection string, wheres ...Where) (<-chan Snapshot, error) {
	if _, err := splitCollection(collection); err != nil {
		return nil, err
	}

	m.mu.Lock()
	id := m.nextWatch
	m.nextWatch++
	w := &watcher{collection: collection, wheres: wheres, ch: make(chan Snapshot, 8)}
	// Enqueue the initial snapshot before the watcher becomes visible to
	// writers, so no notify snapshot can precede it. The fresh buffered
	// channel cannot block here.
	w.ch <- m.queryLocked(collection, wheres)
	m.watchers[id] = w
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
		close(w.ch)
	}()

	return w.ch, nil
}

// notifyLocked pushes a fresh snapshot to every watcher whose collection
// contains the changed path. Slow consumers drop intermediate snapshots
// rather than block writers.
func (m *MemoryStore) notifyLocked(path string) {
	for _, w := range m.watchers {
		if !strings.HasPrefix(path, w.collection+"/") {
			continue
		}
		snapshot := m.queryLocked(w.collection, w.wheres)
		select {
		case w.ch <- snapshot:
		default:
		}
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Type() string { return string(TypeMemory) }
