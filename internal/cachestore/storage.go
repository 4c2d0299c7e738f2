// Package cachestore implements named cache generations on top of a
// storage.Adapter. A generation maps the identity of a GET request to a
// stored response; the Storage type plays the role of the page-facing
// cache registry (open, enumerate, delete, match across generations).
package cachestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unalkalkan/pdftools-offline/internal/storage"
	"github.com/unalkalkan/pdftools-offline/pkg/types"
)

var (
	// ErrNotFound is returned when no stored response matches a request
	ErrNotFound = errors.New("cachestore: no matching response")

	// ErrInvalidName is returned for generation names that cannot be stored
	ErrInvalidName = errors.New("cachestore: invalid generation name")
)

// Storage manages every cache generation kept in one storage adapter.
// Generation names are indexed in memory once loaded, so matching a request
// costs one read per generation instead of a listing of every entry. Full
// listings (Keys, Generations) reload the index.
type Storage struct {
	storage storage.Adapter
	mu      sync.Mutex // serialises generation creation and listing
	now     func() time.Time

	indexMu sync.RWMutex
	index   map[string]time.Time // name -> created at; nil until loaded

	rollbackFailures atomic.Int64
}

// New creates a Storage over the given adapter
func New(adapter storage.Adapter) *Storage {
	return &Storage{
		storage: adapter,
		now:     time.Now,
	}
}

// Open returns the named generation, creating it when absent
func (s *Storage) Open(ctx context.Context, name string) (*Cache, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.storage.Exists(ctx, generationPath(name))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache %s: %w", name, err)
	}
	if !exists {
		info := types.GenerationInfo{Name: name, CreatedAt: s.now().UTC()}
		data, err := json.Marshal(info)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal generation: %w", err)
		}
		if err := s.storage.Put(ctx, generationPath(name), bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("failed to create cache %s: %w", name, err)
		}
		s.remember(info)
	} else if !s.indexed(name) {
		s.remember(s.generationInfo(ctx, name))
	}

	return &Cache{name: name, store: s}, nil
}

// Has reports whether any object of the named generation exists
func (s *Storage) Has(ctx context.Context, name string) (bool, error) {
	names, err := s.Keys(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

// Keys returns every generation name, oldest first. Objects left under a
// name without a marker (e.g. an interrupted delete) still surface here so
// that a later sweep can remove them.
func (s *Storage) Keys(ctx context.Context) ([]string, error) {
	infos, err := s.Generations(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	return names, nil
}

// Generations returns the known generations with their creation time, oldest first
func (s *Storage) Generations(ctx context.Context) ([]types.GenerationInfo, error) {
	// A generation created during the listing must not be dropped from the index
	s.mu.Lock()
	defer s.mu.Unlock()

	paths, err := s.storage.List(ctx, RootPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list caches: %w", err)
	}

	seen := make(map[string]bool)
	infos := make([]types.GenerationInfo, 0)
	for _, p := range paths {
		name, ok := nameFromPath(p)
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		infos = append(infos, s.generationInfo(ctx, name))
	}

	sort.SliceStable(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].Name < infos[j].Name
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})

	index := make(map[string]time.Time, len(infos))
	for _, info := range infos {
		index[info.Name] = info.CreatedAt
	}
	s.indexMu.Lock()
	s.index = index
	s.indexMu.Unlock()

	return infos, nil
}

// names returns the indexed generation names, oldest first, loading the
// index with a full listing the first time
func (s *Storage) names(ctx context.Context) ([]string, error) {
	s.indexMu.RLock()
	loaded := s.index != nil
	infos := make([]types.GenerationInfo, 0, len(s.index))
	for name, created := range s.index {
		infos = append(infos, types.GenerationInfo{Name: name, CreatedAt: created})
	}
	s.indexMu.RUnlock()

	if !loaded {
		var err error
		if infos, err = s.Generations(ctx); err != nil {
			return nil, err
		}
	} else {
		sort.Slice(infos, func(i, j int) bool {
			if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
				return infos[i].Name < infos[j].Name
			}
			return infos[i].CreatedAt.Before(infos[j].CreatedAt)
		})
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	return names, nil
}

// indexed reports whether name is known to a loaded index. An index that
// is not loaded yet picks every generation up on its first listing.
func (s *Storage) indexed(name string) bool {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	if s.index == nil {
		return true
	}
	_, ok := s.index[name]
	return ok
}

func (s *Storage) remember(info types.GenerationInfo) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	if s.index != nil {
		s.index[info.Name] = info.CreatedAt
	}
}

func (s *Storage) forget(name string) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	delete(s.index, name)
}

// generationInfo reads a generation marker; a missing or unreadable marker
// yields a zero creation time
func (s *Storage) generationInfo(ctx context.Context, name string) types.GenerationInfo {
	info := types.GenerationInfo{Name: name}
	reader, err := s.storage.Get(ctx, generationPath(name))
	if err != nil {
		return info
	}
	defer reader.Close()

	var stored types.GenerationInfo
	if err := json.NewDecoder(reader).Decode(&stored); err == nil {
		info.CreatedAt = stored.CreatedAt
	}
	return info
}

// Delete removes the named generation and all its entries. It reports
// whether the generation existed. The marker is removed last so a failed
// delete stays visible to Keys.
func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}

	paths, err := s.storage.List(ctx, generationPrefix(name))
	if err != nil {
		return false, fmt.Errorf("failed to list cache %s: %w", name, err)
	}
	if len(paths) == 0 {
		return false, nil
	}

	marker := generationPath(name)
	var errs []error
	for _, p := range paths {
		if p == marker {
			continue
		}
		if err := s.storage.Delete(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return true, fmt.Errorf("failed to delete cache %s: %w", name, errors.Join(errs...))
	}

	if err := s.storage.Delete(ctx, marker); err != nil {
		return true, fmt.Errorf("failed to delete cache %s: %w", name, err)
	}
	s.forget(name)
	return true, nil
}

// RollbackFailures counts entries a failed PutAll could not restore
func (s *Storage) RollbackFailures() int64 {
	return s.rollbackFailures.Load()
}

// Match looks the request up in every indexed generation, oldest first, and
// returns the first stored response
func (s *Storage) Match(ctx context.Context, requestURI string) (*types.CachedResponse, error) {
	names, err := s.names(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		c := &Cache{name: name, store: s}
		resp, err := c.Match(ctx, requestURI)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func validateName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
