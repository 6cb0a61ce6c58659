package forms

import (
	"context"
	"errors"
	"path"
	"strings"
	"sync"
)

// memoryStore is a small in-memory StateStore used across the package
// tests. Glob matching supports the '*' wildcard only, which is all the
// key patterns here use.
type memoryStore struct {
	mu        sync.Mutex
	data      map[string][]byte
	published map[string][][]byte

	failSet bool
	failGet bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		data:      map[string][]byte{},
		published: map[string][][]byte{},
	}
}

var errStoreDown = errors.New("state store down")

func (m *memoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return nil, errStoreDown
	}
	raw, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return cp, nil
}

func (m *memoryStore) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet {
		return errStoreDown
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
	return nil
}

func (m *memoryStore) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.data {
		// path.Match treats ':' as a literal, so redis-style globs map
		// straight onto it.
		if ok, _ := path.Match(pattern, k); ok && !strings.Contains(k, "/") {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memoryStore) Publish(ctx context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	m.published[channel] = append(m.published[channel], cp)
	return nil
}
