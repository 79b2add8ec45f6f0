package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryKV is an in-process TransactionalKV for development and tests.
// A single mutex makes every read-modify-write atomic.
type MemoryKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

// NewMemoryStore returns a Store backed by a fresh MemoryKV.
func NewMemoryStore() *KVStore {
	return NewKVStore(NewMemoryKV())
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBytes(v), nil
}

func (m *MemoryKV) ReadModifyWrite(ctx context.Context, key string, fn func([]byte) ([]byte, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var cur []byte
	if v, ok := m.data[key]; ok {
		cur = cloneBytes(v)
	}
	next, err := fn(cur)
	if err != nil {
		return err
	}
	if next != nil {
		m.data[key] = cloneBytes(next)
	}
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	delete(m.data, key)
	return ok, nil
}

func (m *MemoryKV) Scan(ctx context.Context, prefix string, fn func(string, []byte) error) error {
	m.mu.Lock()
	keys := make([]string, 0, len(m.data))
	values := make(map[string][]byte)
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
			values[k] = cloneBytes(v)
		}
	}
	m.mu.Unlock()

	sort.Strings(keys)
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(k, values[k]); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryKV) Ping(ctx context.Context) error {
	return ctx.Err()
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

var _ TransactionalKV = (*MemoryKV)(nil)
