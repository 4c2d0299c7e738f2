package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/unalkalkan/pdftools-offline/internal/cachestore"
	"github.com/unalkalkan/pdftools-offline/internal/clients"
	"github.com/unalkalkan/pdftools-offline/internal/config"
	"github.com/unalkalkan/pdftools-offline/internal/fetch"
	"github.com/unalkalkan/pdftools-offline/internal/storage"
	"github.com/unalkalkan/pdftools-offline/pkg/types"
)

const upstreamURL = "http://app.test"

type page struct {
	status      int
	body        string
	contentType string
}

// stubUpstream answers fetches from a fixed set of pages
type stubUpstream struct {
	mu    sync.Mutex
	pages map[string]page
	calls map[string]int
	down  bool
	panic bool
}

func newStubUpstream() *stubUpstream {
	return &stubUpstream{
		pages: make(map[string]page),
		calls: make(map[string]int),
	}
}

func (s *stubUpstream) set(uri, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[uri] = page{status: http.StatusOK, body: body, contentType: "text/html"}
}

func (s *stubUpstream) setStatus(uri string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[uri] = page{status: status, body: body, contentType: "text/plain"}
}

func (s *stubUpstream) setDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func (s *stubUpstream) count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}

func (s *stubUpstream) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *stubUpstream) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	key := req.URL.RequestURI()
	if req.URL.Host != "app.test" {
		key = req.URL.String()
	}
	if req.Method != http.MethodGet {
		key = req.Method + " " + key
	}

	s.mu.Lock()
	s.calls[key]++
	down, shouldPanic := s.down, s.panic
	p, ok := s.pages[key]
	s.mu.Unlock()

	if shouldPanic {
		panic("upstream exploded")
	}
	if down {
		return nil, fmt.Errorf("%w: connection refused", fetch.ErrNetwork)
	}

	rec := httptest.NewRecorder()
	if !ok {
		http.NotFound(rec, req)
		return rec.Result(), nil
	}
	rec.Header().Set("Content-Type", p.contentType)
	rec.WriteHeader(p.status)
	io.WriteString(rec, p.body)
	return rec.Result(), nil
}

// countingAdapter counts every storage operation
type countingAdapter struct {
	storage.Adapter
	ops atomic.Int64
}

func (c *countingAdapter) Put(ctx context.Context, path string, data io.Reader) error {
	c.ops.Add(1)
	return c.Adapter.Put(ctx, path, data)
}

func (c *countingAdapter) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	c.ops.Add(1)
	return c.Adapter.Get(ctx, path)
}

func (c *countingAdapter) Delete(ctx context.Context, path string) error {
	c.ops.Add(1)
	return c.Adapter.Delete(ctx, path)
}

func (c *countingAdapter) Exists(ctx context.Context, path string) (bool, error) {
	c.ops.Add(1)
	return c.Adapter.Exists(ctx, path)
}

func (c *countingAdapter) List(ctx context.Context, prefix string) ([]string, error) {
	c.ops.Add(1)
	return c.Adapter.List(ctx, prefix)
}

// brokenAdapter fails every operation once broken is set
type brokenAdapter struct {
	storage.Adapter
	broken atomic.Bool
}

var errBroken = errors.New("storage unavailable")

func (b *brokenAdapter) Put(ctx context.Context, path string, data io.Reader) error {
	if b.broken.Load() {
		return errBroken
	}
	return b.Adapter.Put(ctx, path, data)
}

func (b *brokenAdapter) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	if b.broken.Load() {
		return nil, errBroken
	}
	return b.Adapter.Get(ctx, path)
}

func (b *brokenAdapter) Exists(ctx context.Context, path string) (bool, error) {
	if b.broken.Load() {
		return false, errBroken
	}
	return b.Adapter.Exists(ctx, path)
}

func (b *brokenAdapter) List(ctx context.Context, prefix string) ([]string, error) {
	if b.broken.Load() {
		return nil, errBroken
	}
	return b.Adapter.List(ctx, prefix)
}

type harness struct {
	upstream *stubUpstream
	adapter  storage.Adapter
	caches   *cachestore.Storage
	clients  *clients.Registry
	cfg      types.ControllerConfig
}

func newHarness(t *testing.T, manifest ...string) *harness {
	t.Helper()
	return newHarnessWithAdapter(t, storage.NewMemoryAdapter(), manifest...)
}

func newHarnessWithAdapter(t *testing.T, adapter storage.Adapter, manifest ...string) *harness {
	t.Helper()
	cfg := config.GetDefault().Controller
	if len(manifest) > 0 {
		cfg.Manifest = manifest
	}
	return &harness{
		upstream: newStubUpstream(),
		adapter:  adapter,
		caches:   cachestore.New(adapter),
		clients:  clients.NewRegistry(),
		cfg:      cfg,
	}
}

func (h *harness) controller(t *testing.T, version string) *Controller {
	t.Helper()
	c, err := New(version, h.cfg, upstreamURL, Deps{
		Caches:  h.caches,
		Fetcher: h.upstream,
		Clients: h.clients,
	})
	require.NoError(t, err)
	return c
}

// seed stores a response directly in a generation
func (h *harness) seed(t *testing.T, generation, uri, body string) {
	t.Helper()
	ctx := context.Background()
	cache, err := h.caches.Open(ctx, generation)
	require.NoError(t, err)
	require.NoError(t, cache.Put(ctx, &types.CachedResponse{
		URL:    uri,
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"text/html"}},
		Body:   []byte(body),
	}))
}

func navigate(uri string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, uri, nil)
	r.Header.Set("Sec-Fetch-Mode", "navigate")
	r.Header.Set("Accept", "text/html,application/xhtml+xml")
	return r
}

func asset(uri string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, uri, nil)
	r.Header.Set("Sec-Fetch-Mode", "no-cors")
	r.Header.Set("Accept", "image/avif,image/webp,*/*")
	return r
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}
