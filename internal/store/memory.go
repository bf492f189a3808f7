package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process ObjectStore, used for tests and dry runs.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
	fetches map[string]int
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte), fetches: make(map[string]int)}
}

// Put stores data under key, replacing any previous object.
func (m *Memory) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = bytes.Clone(data)
}

// Fetches reports how many times key has been fetched.
func (m *Memory) Fetches(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fetches[key]
}

// Fetch implements ObjectStore.
func (m *Memory) Fetch(ctx context.Context, key string, w io.Writer) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.fetches[key]++
	data, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("memory://%s: %w", key, ErrNotFound)
	}
	n, err := w.Write(data)
	return int64(n), err
}

// List implements Lister.
func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
