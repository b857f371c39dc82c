package store

import (
	"context"
	"slices"
	"sync"
)

var _ Backend = (*Memory)(nil)

type bucket struct {
	order []string
	docs  map[string][]byte
}

// Memory is an in-process Backend guarded by a RWMutex.
type Memory struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
}

func NewMemory() *Memory {
	return &Memory{buckets: make(map[string]*bucket)}
}

func (m *Memory) Get(_ context.Context, collection, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buckets[collection]
	if !ok {
		return nil, ErrNotFound
	}
	raw, ok := b.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(raw), nil
}

func (m *Memory) Put(_ context.Context, collection, id string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[collection]
	if !ok {
		b = &bucket{docs: make(map[string][]byte)}
		m.buckets[collection] = b
	}
	if _, exists := b.docs[id]; !exists {
		b.order = append(b.order, id)
	}
	b.docs[id] = slices.Clone(body)
	return nil
}

func (m *Memory) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[collection]
	if !ok {
		return ErrNotFound
	}
	if _, exists := b.docs[id]; !exists {
		return ErrNotFound
	}
	delete(b.docs, id)
	if i := slices.Index(b.order, id); i >= 0 {
		b.order = slices.Delete(b.order, i, i+1)
	}
	return nil
}

func (m *Memory) List(_ context.Context, collection string) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buckets[collection]
	if !ok {
		return nil, nil
	}
	out := make([][]byte, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, slices.Clone(b.docs[id]))
	}
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
