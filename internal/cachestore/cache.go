package cachestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/unalkalkan/pdftools-offline/internal/logging"
	"github.com/unalkalkan/pdftools-offline/internal/storage"
	"github.com/unalkalkan/pdftools-offline/pkg/types"
)

// savedEntry remembers what a PutAll write replaced
type savedEntry struct {
	url  string
	resp *types.CachedResponse // nil when nothing was stored before
}

// Cache is one named generation
type Cache struct {
	name  string
	store *Storage
}

// Name returns the generation name
func (c *Cache) Name() string {
	return c.name
}

// Match returns the stored response for a request URI
func (c *Cache) Match(ctx context.Context, requestURI string) (*types.CachedResponse, error) {
	reader, err := c.store.storage.Get(ctx, entryPath(c.name, requestURI))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read entry: %w", err)
	}
	defer reader.Close()

	var resp types.CachedResponse
	if err := json.NewDecoder(reader).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode entry: %w", err)
	}
	// Guard against hash collisions
	if resp.URL != requestURI {
		return nil, ErrNotFound
	}
	return &resp, nil
}

// Put stores a response, replacing any previous entry for the same request
func (c *Cache) Put(ctx context.Context, resp *types.CachedResponse) error {
	if resp.Method == "" {
		resp.Method = http.MethodGet
	}
	if resp.Method != http.MethodGet {
		return fmt.Errorf("cachestore: only GET responses can be stored, got %s", resp.Method)
	}
	if resp.StoredAt.IsZero() {
		resp.StoredAt = c.store.now().UTC()
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	if err := c.store.storage.Put(ctx, entryPath(c.name, resp.URL), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to store %s in %s: %w", resp.URL, c.name, err)
	}
	return nil
}

// PutAll stores every response or none of them. When a write fails the
// entries already written by this call are restored to their previous
// state before the error is returned.
func (c *Cache) PutAll(ctx context.Context, resps []*types.CachedResponse) error {
	written := make([]savedEntry, 0, len(resps))

	for _, resp := range resps {
		prev, err := c.Match(ctx, resp.URL)
		if err != nil && !errors.Is(err, ErrNotFound) {
			c.rollback(ctx, written)
			return err
		}
		if err := c.Put(ctx, resp); err != nil {
			c.rollback(ctx, written)
			return err
		}
		written = append(written, savedEntry{url: resp.URL, resp: prev})
	}
	return nil
}

func (c *Cache) rollback(ctx context.Context, written []savedEntry) {
	// Rollback must run even when the caller's context is done
	ctx = context.WithoutCancel(ctx)
	for i := len(written) - 1; i >= 0; i-- {
		w := written[i]
		var err error
		if w.resp != nil {
			err = c.Put(ctx, w.resp)
		} else {
			_, err = c.Delete(ctx, w.url)
		}
		if err != nil {
			c.store.rollbackFailures.Add(1)
			logging.Error().
				Add(logging.Cache(c.name)).
				Add(logging.URL(w.url)).
				Add(logging.ErrorField(err)).
				Msg("Rollback failed, generation holds a partial batch")
		}
	}
}

// Delete removes the entry for a request URI and reports whether it existed
func (c *Cache) Delete(ctx context.Context, requestURI string) (bool, error) {
	p := entryPath(c.name, requestURI)
	exists, err := c.store.storage.Exists(ctx, p)
	if err != nil {
		return false, fmt.Errorf("failed to check entry: %w", err)
	}
	if !exists {
		return false, nil
	}
	if err := c.store.storage.Delete(ctx, p); err != nil {
		return true, fmt.Errorf("failed to delete entry: %w", err)
	}
	return true, nil
}

// Keys returns the request URIs stored in the generation
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	paths, err := c.store.storage.List(ctx, entriesPrefix(c.name))
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	urls := make([]string, 0, len(paths))
	for _, p := range paths {
		reader, err := c.store.storage.Get(ctx, p)
		if err != nil {
			continue // Entry removed concurrently
		}
		var resp types.CachedResponse
		err = json.NewDecoder(reader).Decode(&resp)
		reader.Close()
		if err != nil {
			continue
		}
		urls = append(urls, resp.URL)
	}
	return urls, nil
}
