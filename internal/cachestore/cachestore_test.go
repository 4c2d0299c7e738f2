package cachestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unalkalkan/pdftools-offline/internal/storage"
	"github.com/unalkalkan/pdftools-offline/pkg/types"
)

func entry(url, body string) *types.CachedResponse {
	return &types.CachedResponse{
		URL:        url,
		Status:     http.StatusOK,
		StatusText: "OK",
		Header:     http.Header{"Content-Type": []string{"text/html"}},
		Body:       []byte(body),
	}
}

// flakyAdapter fails Put for paths containing failOn and Delete for paths
// containing failDelete
type flakyAdapter struct {
	storage.Adapter
	mu         sync.Mutex
	failOn     string
	failDelete string
	puts       int
}

func (f *flakyAdapter) Delete(ctx context.Context, path string) error {
	f.mu.Lock()
	fail := f.failDelete != "" && strings.Contains(path, f.failDelete)
	f.mu.Unlock()
	if fail {
		return errors.New("read-only")
	}
	return f.Adapter.Delete(ctx, path)
}

// opsAdapter counts adapter calls and the paths returned by List
type opsAdapter struct {
	storage.Adapter
	ops    atomic.Int64
	listed atomic.Int64
}

func (o *opsAdapter) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	o.ops.Add(1)
	return o.Adapter.Get(ctx, path)
}

func (o *opsAdapter) Exists(ctx context.Context, path string) (bool, error) {
	o.ops.Add(1)
	return o.Adapter.Exists(ctx, path)
}

func (o *opsAdapter) List(ctx context.Context, prefix string) ([]string, error) {
	o.ops.Add(1)
	paths, err := o.Adapter.List(ctx, prefix)
	o.listed.Add(int64(len(paths)))
	return paths, err
}

func (o *opsAdapter) reset() {
	o.ops.Store(0)
	o.listed.Store(0)
}

func (f *flakyAdapter) Put(ctx context.Context, path string, data io.Reader) error {
	f.mu.Lock()
	f.puts++
	fail := f.failOn != "" && strings.Contains(path, f.failOn)
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.Adapter.Put(ctx, path, data)
}

func TestOpenCreatesGeneration(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemoryAdapter())

	has, err := s.Has(ctx, "pdftools-v2")
	require.NoError(t, err)
	assert.False(t, has)

	c, err := s.Open(ctx, "pdftools-v2")
	require.NoError(t, err)
	assert.Equal(t, "pdftools-v2", c.Name())

	has, err = s.Has(ctx, "pdftools-v2")
	require.NoError(t, err)
	assert.True(t, has, "empty generation should exist after Open")
}

func TestOpenRejectsInvalidNames(t *testing.T) {
	s := New(storage.NewMemoryAdapter())
	for _, name := range []string{"", "a/b", "..", `a\b`} {
		_, err := s.Open(context.Background(), name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
}

func TestPutMatchOverwrite(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemoryAdapter())
	c, err := s.Open(ctx, "pdftools-v2")
	require.NoError(t, err)

	require.NoError(t, c.Put(ctx, entry("/merge-pdf", "v1")))
	require.NoError(t, c.Put(ctx, entry("/merge-pdf", "v2")))

	got, err := c.Match(ctx, "/merge-pdf")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got.Body))
	assert.Equal(t, http.MethodGet, got.Method)
	assert.False(t, got.StoredAt.IsZero())

	// Query strings are part of the identity
	_, err = c.Match(ctx, "/merge-pdf?x=1")
	assert.ErrorIs(t, err, ErrNotFound)

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/merge-pdf"}, keys)
}

func TestPutRejectsNonGET(t *testing.T) {
	ctx := context.Background()
	c, err := New(storage.NewMemoryAdapter()).Open(ctx, "pdftools-v2")
	require.NoError(t, err)

	resp := entry("/upload", "x")
	resp.Method = http.MethodPost
	assert.Error(t, c.Put(ctx, resp))
}

func TestMatchAcrossGenerationsOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemoryAdapter())
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	older, err := s.Open(ctx, "zz-older")
	require.NoError(t, err)
	newer, err := s.Open(ctx, "aa-newer")
	require.NoError(t, err)

	require.NoError(t, newer.Put(ctx, entry("/", "newer")))
	require.NoError(t, older.Put(ctx, entry("/", "older")))
	require.NoError(t, newer.Put(ctx, entry("/only-newer", "n")))

	names, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"zz-older", "aa-newer"}, names)

	got, err := s.Match(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, "older", string(got.Body))

	got, err = s.Match(ctx, "/only-newer")
	require.NoError(t, err)
	assert.Equal(t, "n", string(got.Body))

	_, err = s.Match(ctx, "/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteGeneration(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemoryAdapter())
	c, err := s.Open(ctx, "pdftools-v1")
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, entry("/", "shell")))

	existed, err := s.Delete(ctx, "pdftools-v1")
	require.NoError(t, err)
	assert.True(t, existed)

	names, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	_, err = s.Match(ctx, "/")
	assert.ErrorIs(t, err, ErrNotFound)

	existed, err = s.Delete(ctx, "pdftools-v1")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestOrphanEntriesSurfaceAsGeneration(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryAdapter()
	s := New(mem)
	c, err := s.Open(ctx, "pdftools-v1")
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, entry("/", "shell")))
	require.NoError(t, mem.Delete(ctx, generationPath("pdftools-v1")))

	names, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"pdftools-v1"}, names)
}

func TestPutAllIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyAdapter{Adapter: storage.NewMemoryAdapter()}
	s := New(flaky)
	c, err := s.Open(ctx, "pdftools-v2")
	require.NoError(t, err)

	// A previous version of "/" must survive a failed batch
	require.NoError(t, c.Put(ctx, entry("/", "old shell")))

	flaky.failOn = RequestKey("/manifest.json")
	err = c.PutAll(ctx, []*types.CachedResponse{
		entry("/", "new shell"),
		entry("/merge-pdf", "merge"),
		entry("/manifest.json", "{}"),
	})
	require.Error(t, err)

	got, err := c.Match(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, "old shell", string(got.Body))

	_, err = c.Match(ctx, "/merge-pdf")
	assert.ErrorIs(t, err, ErrNotFound)

	flaky.failOn = ""
	require.NoError(t, c.PutAll(ctx, []*types.CachedResponse{
		entry("/", "new shell"),
		entry("/manifest.json", "{}"),
	}))
	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/", "/manifest.json"}, keys)
}

func TestConcurrentPutsOnDistinctKeys(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemoryAdapter())
	c, err := s.Open(ctx, "pdftools-v2")
	require.NoError(t, err)

	var wg sync.WaitGroup
	urls := []string{"/a", "/b", "/c", "/d", "/e", "/f"}
	for _, u := range urls {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			assert.NoError(t, c.Put(ctx, entry(u, u)))
		}(u)
	}
	wg.Wait()

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, urls, keys)
}

func TestMatchCostDoesNotGrowWithEntries(t *testing.T) {
	ctx := context.Background()
	counting := &opsAdapter{Adapter: storage.NewMemoryAdapter()}
	s := New(counting)

	c, err := s.Open(ctx, "pdftools-v2")
	require.NoError(t, err)
	for i := 0; i < 500; i++ {
		require.NoError(t, c.Put(ctx, entry(fmt.Sprintf("/asset-%d.png", i), "x")))
	}

	// The first lookup loads the generation index
	_, err = s.Match(ctx, "/asset-1.png")
	require.NoError(t, err)

	counting.reset()
	got, err := s.Match(ctx, "/asset-499.png")
	require.NoError(t, err)
	assert.Equal(t, "/asset-499.png", got.URL)
	assert.Equal(t, int64(1), counting.ops.Load(), "a hit in one generation is a single read")
	assert.Zero(t, counting.listed.Load())

	counting.reset()
	_, err = s.Match(ctx, "/missing.png")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int64(1), counting.ops.Load())
}

func TestMatchIndexFollowsOpenAndDelete(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemoryAdapter())

	v1, err := s.Open(ctx, "pdftools-v1")
	require.NoError(t, err)
	require.NoError(t, v1.Put(ctx, entry("/old", "old")))
	_, err = s.Match(ctx, "/old")
	require.NoError(t, err)

	// Opened after the index was loaded
	v2, err := s.Open(ctx, "pdftools-v2")
	require.NoError(t, err)
	require.NoError(t, v2.Put(ctx, entry("/new", "new")))
	got, err := s.Match(ctx, "/new")
	require.NoError(t, err)
	assert.Equal(t, "new", string(got.Body))

	_, err = s.Delete(ctx, "pdftools-v1")
	require.NoError(t, err)
	_, err = s.Match(ctx, "/old")
	assert.ErrorIs(t, err, ErrNotFound)

	names, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"pdftools-v2"}, names)
}

func TestPutAllCountsFailedRollback(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyAdapter{Adapter: storage.NewMemoryAdapter()}
	s := New(flaky)
	c, err := s.Open(ctx, "pdftools-v2")
	require.NoError(t, err)

	flaky.failOn = RequestKey("/manifest.json")
	flaky.failDelete = RequestKey("/merge-pdf")
	err = c.PutAll(ctx, []*types.CachedResponse{
		entry("/merge-pdf", "merge"),
		entry("/manifest.json", "{}"),
	})
	require.Error(t, err)
	assert.Equal(t, int64(1), s.RollbackFailures())
	assert.Zero(t, New(storage.NewMemoryAdapter()).RollbackFailures())
}
