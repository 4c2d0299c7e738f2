package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// MemoryAdapter keeps objects in process memory. Used for tests and
// for deployments that accept losing the cache on restart.
type MemoryAdapter struct {
	objects map[string][]byte
	mu      sync.RWMutex
}

// NewMemoryAdapter creates an empty in-memory adapter
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		objects: make(map[string][]byte),
	}
}

// Put stores data at the given path
func (m *MemoryAdapter) Put(ctx context.Context, path string, data io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("failed to read data: %w", err)
	}

	m.mu.Lock()
	m.objects[path] = buf
	m.mu.Unlock()
	return nil
}

// Get retrieves data from the given path
func (m *MemoryAdapter) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	m.mu.RLock()
	buf, ok := m.objects[path]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return io.NopCloser(bytes.NewReader(buf)), nil
}

// Delete removes data at the given path
func (m *MemoryAdapter) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	delete(m.objects, path)
	m.mu.Unlock()
	return nil
}

// Exists checks if data exists at the given path
func (m *MemoryAdapter) Exists(ctx context.Context, path string) (bool, error) {
	m.mu.RLock()
	_, ok := m.objects[path]
	m.mu.RUnlock()
	return ok, nil
}

// List returns paths matching the given prefix in lexical order
func (m *MemoryAdapter) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	paths := make([]string, 0)
	for p := range m.objects {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Close cleans up any resources
func (m *MemoryAdapter) Close() error {
	return nil
}
