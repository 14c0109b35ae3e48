package docstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type memCollection struct {
	order []string
	docs  map[string]map[string]interface{}
}

// MemoryStore is a process-local Store used in tests and for single-node development
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
	maxBatch    int
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]*memCollection),
		maxBatch:    DefaultMaxBatchSize,
	}
}

// WithMaxBatchSize overrides the batch limit
func (m *MemoryStore) WithMaxBatchSize(n int) *MemoryStore {
	if n > 0 {
		m.maxBatch = n
	}
	return m
}

// Set writes a document at ref, replacing any existing one
func (m *MemoryStore) Set(_ context.Context, ref Ref, data map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(ref.Collection, true)
	if _, exists := c.docs[ref.ID]; !exists {
		c.order = append(c.order, ref.ID)
	}
	c.docs[ref.ID] = copyMap(data)
	return nil
}

func (m *MemoryStore) collection(name string, create bool) *memCollection {
	c, ok := m.collections[name]
	if !ok && create {
		c = &memCollection{docs: make(map[string]map[string]interface{})}
		m.collections[name] = c
	}
	return c
}

func (m *MemoryStore) Get(_ context.Context, ref Ref) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.collection(ref.Collection, false)
	if c == nil {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	data, ok := c.docs[ref.ID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return &Document{Ref: ref, Data: copyMap(data)}, nil
}

func (m *MemoryStore) Query(_ context.Context, collection string, q Query) ([]Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.collection(collection, false)
	if c == nil {
		return nil, nil
	}
	var out []Document
	for _, id := range c.order {
		data := c.docs[id]
		if !Matches(data, q.Filters) {
			continue
		}
		out = append(out, Document{Ref: Ref{Collection: collection, ID: id}, Data: copyMap(data)})
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) Count(_ context.Context, collection string, q Query) (int, error) {
	if err := q.Validate(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.collection(collection, false)
	if c == nil {
		return 0, nil
	}
	n := 0
	for _, id := range c.order {
		if Matches(c.docs[id], q.Filters) {
			n++
			if q.Limit > 0 && n >= q.Limit {
				break
			}
		}
	}
	return n, nil
}

func (m *MemoryStore) Add(ctx context.Context, collection string, data map[string]interface{}) (Ref, error) {
	ref := Ref{Collection: collection, ID: uuid.NewString()}
	return ref, m.Set(ctx, ref, data)
}

func (m *MemoryStore) Update(_ context.Context, ref Ref, data map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(ref.Collection, false)
	if c == nil {
		return fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	existing, ok := c.docs[ref.ID]
	if !ok {
		return fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	for k, v := range data {
		existing[k] = copyValue(v)
	}
	return nil
}

func (m *MemoryStore) BatchDelete(_ context.Context, refs []Ref) error {
	if len(refs) > m.maxBatch {
		return fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(refs), m.maxBatch)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ref := range refs {
		c := m.collection(ref.Collection, false)
		if c == nil {
			continue
		}
		if _, ok := c.docs[ref.ID]; !ok {
			continue
		}
		delete(c.docs, ref.ID)
		for i, id := range c.order {
			if id == ref.ID {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (m *MemoryStore) MaxBatchSize() int { return m.maxBatch }

func (m *MemoryStore) ListCollections(_ context.Context, suffix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for name, c := range m.collections {
		if len(c.docs) > 0 && strings.HasSuffix(name, suffix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func copyMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return copyMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = copyValue(t[i])
		}
		return out
	case []float32:
		return append([]float32(nil), t...)
	case []float64:
		return append([]float64(nil), t...)
	case []string:
		return append([]string(nil), t...)
	}
	return v
}
