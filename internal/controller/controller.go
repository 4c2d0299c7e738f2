// Package controller implements the offline cache controller: the
// install-phase manager, the activation sweep, the request router with its
// fetch strategies and the message/push bridge. A Registration moves
// controller versions through their lifecycle.
package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/unalkalkan/pdftools-offline/internal/cachestore"
	"github.com/unalkalkan/pdftools-offline/internal/clients"
	"github.com/unalkalkan/pdftools-offline/internal/fetch"
	"github.com/unalkalkan/pdftools-offline/internal/lifecycle"
	"github.com/unalkalkan/pdftools-offline/internal/logging"
	"github.com/unalkalkan/pdftools-offline/internal/metrics"
	"github.com/unalkalkan/pdftools-offline/internal/notify"
	"github.com/unalkalkan/pdftools-offline/pkg/types"
)

// manifestConcurrency bounds parallel manifest fetches during install
const manifestConcurrency = 8

// Deps are the collaborators shared by every controller version
type Deps struct {
	Caches  *cachestore.Storage
	Fetcher fetch.Fetcher
	// Passthrough serves non-GET and cross-origin requests; defaults to Fetcher
	Passthrough fetch.Fetcher
	Clients     *clients.Registry
	Notifier    *notify.Center
	Metrics     *metrics.Metrics
}

// Controller is one version of the offline cache controller
type Controller struct {
	version  string
	cfg      types.ControllerConfig
	upstream *url.URL
	origin   *url.URL
	allowed  []*url.URL // cross-origin forwarding targets

	caches      *cachestore.Storage
	fetcher     fetch.Fetcher
	passthrough fetch.Fetcher
	clients     *clients.Registry
	notifier    *notify.Center
	metrics     *metrics.Metrics

	machine     *lifecycle.Machine
	skipWaiting atomic.Bool
}

// New creates a controller version in the parsed state. version may be
// empty, in which case a random one is assigned.
func New(version string, cfg types.ControllerConfig, upstreamURL string, deps Deps) (*Controller, error) {
	if deps.Caches == nil || deps.Fetcher == nil || deps.Clients == nil {
		return nil, fmt.Errorf("controller requires caches, fetcher and clients")
	}

	upstream, err := url.Parse(upstreamURL)
	if err != nil || !upstream.IsAbs() || upstream.Host == "" {
		return nil, fmt.Errorf("invalid upstream url: %q", upstreamURL)
	}

	origin := &url.URL{Scheme: upstream.Scheme, Host: upstream.Host}
	if cfg.Origin != "" {
		origin, err = url.Parse(cfg.Origin)
		if err != nil || origin.Scheme == "" || origin.Host == "" {
			return nil, fmt.Errorf("invalid controller origin: %q", cfg.Origin)
		}
	}

	allowed := make([]*url.URL, 0, len(cfg.PassthroughOrigins))
	for _, o := range cfg.PassthroughOrigins {
		u, err := url.Parse(o)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid passthrough origin: %q", o)
		}
		allowed = append(allowed, u)
	}

	if cfg.RootPath == "" {
		cfg.RootPath = "/"
	}
	if version == "" {
		version = uuid.NewString()
	}

	machine, err := lifecycle.New()
	if err != nil {
		return nil, err
	}

	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.NewCenter(cfg.Notification, deps.Clients, deps.Metrics, cfg.RootPath)
	}

	return &Controller{
		version:     version,
		cfg:         cfg,
		upstream:    upstream,
		origin:      origin,
		allowed:     allowed,
		caches:      deps.Caches,
		fetcher:     deps.Fetcher,
		passthrough: deps.Passthrough,
		clients:     deps.Clients,
		notifier:    notifier,
		metrics:     deps.Metrics,
		machine:     machine,
	}, nil
}

// Version returns the controller version
func (c *Controller) Version() string {
	return c.version
}

// State returns the lifecycle state
func (c *Controller) State() lifecycle.State {
	return c.machine.State()
}

// History returns the lifecycle transitions so far
func (c *Controller) History() []lifecycle.Transition {
	return c.machine.History()
}

// Config returns the caching policy of this version
func (c *Controller) Config() types.ControllerConfig {
	return c.cfg
}

func (c *Controller) passthroughFetcher() fetch.Fetcher {
	if c.passthrough != nil {
		return c.passthrough
	}
	return c.fetcher
}

// SkipWaiting asks for this version to activate as soon as it is installed,
// without waiting for the current version to be released
func (c *Controller) SkipWaiting() {
	if !c.skipWaiting.Swap(true) {
		logging.Info().Add(logging.Version(c.version)).Msg("Skip waiting")
	}
}

// SkippedWaiting reports whether SkipWaiting was called
func (c *Controller) SkippedWaiting() bool {
	return c.skipWaiting.Load()
}

// Install caches the app shell. Every manifest entry is fetched from the
// upstream and must answer with an ok status; only then are all of them
// stored in the shell generation. On any failure nothing new is stored and
// the version becomes redundant.
func (c *Controller) Install(ctx context.Context) error {
	if err := c.transition(lifecycle.EventInstall); err != nil {
		return err
	}
	logging.Info().Add(logging.Version(c.version)).Msg("Installing")

	if err := c.install(ctx); err != nil {
		logging.Error().
			Add(logging.Version(c.version)).
			Add(logging.Cache(c.cfg.ShellCache)).
			Add(logging.ErrorField(err)).
			Msg("Install failed")
		c.becomeRedundant()
		return fmt.Errorf("failed to install %s: %w", c.version, err)
	}

	if err := c.transition(lifecycle.EventInstalled); err != nil {
		return err
	}
	c.SkipWaiting()
	return nil
}

func (c *Controller) install(ctx context.Context) error {
	cache, err := c.caches.Open(ctx, c.cfg.ShellCache)
	if err != nil {
		return err
	}

	logging.Info().
		Add(logging.Cache(cache.Name())).
		Add(logging.Count(len(c.cfg.Manifest))).
		Msg("Caching app shell")

	entries, err := c.fetchManifest(ctx)
	if err != nil {
		return err
	}
	if err := cache.PutAll(ctx, entries); err != nil {
		return err
	}

	logging.Info().
		Add(logging.Cache(cache.Name())).
		Add(logging.Count(len(entries))).
		Msg("App shell cached")
	return nil
}

// fetchManifest fetches every manifest entry concurrently and fails when
// any one of them fails
func (c *Controller) fetchManifest(ctx context.Context) ([]*types.CachedResponse, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make([]*types.CachedResponse, len(c.cfg.Manifest))
	semaphore := make(chan struct{}, manifestConcurrency)
	var wg sync.WaitGroup
	errCh := make(chan error, len(c.cfg.Manifest))

	for i, path := range c.cfg.Manifest {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			entry, err := c.fetchManifestEntry(ctx, path)
			if err != nil {
				errCh <- fmt.Errorf("%s: %w", path, err)
				cancel() // the group already failed
				return
			}
			entries[i] = entry
		}(i, path)
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to fetch app shell: %w", errors.Join(errs...))
	}
	return entries, nil
}

func (c *Controller) fetchManifestEntry(ctx context.Context, path string) (*types.CachedResponse, error) {
	target, err := c.upstreamURL(path)
	if err != nil {
		return nil, err
	}
	req, err := fetch.NewGetRequest(ctx, target)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.fetcher.Fetch(ctx, req)
	if err != nil {
		c.metrics.ObserveFetch("failed", time.Since(start))
		return nil, err
	}
	defer resp.Body.Close()

	if !isOK(resp.StatusCode) {
		c.metrics.ObserveFetch("not_ok", time.Since(start))
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	c.metrics.ObserveFetch("ok", time.Since(start))

	entry, complete, err := capture(path, resp, c.cfg.MaxEntryBytes)
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, fmt.Errorf("response exceeds %d bytes", c.cfg.MaxEntryBytes)
	}
	return entry, nil
}

// Activate deletes every cache generation this version does not own, then
// claims all registered clients. Deletion failures are logged and do not
// stop activation.
func (c *Controller) Activate(ctx context.Context) error {
	if err := c.transition(lifecycle.EventActivate); err != nil {
		return err
	}
	logging.Info().Add(logging.Version(c.version)).Msg("Activating")

	deleted, err := Sweep(ctx, c.caches, c.metrics, c.cfg.ShellCache, c.cfg.APICache)
	if err != nil {
		logging.Warn().
			Add(logging.Version(c.version)).
			Add(logging.Count(len(deleted))).
			Add(logging.ErrorField(err)).
			Msg("Some old caches could not be deleted")
	}

	claimed := c.clients.Claim(c.version)
	logging.Info().
		Add(logging.Version(c.version)).
		Add(logging.Count(claimed)).
		Msg("Claiming clients")

	return c.transition(lifecycle.EventActivated)
}

// Sweep deletes every generation whose name is not in keep. Deletions run
// concurrently; all of them are attempted and their failures joined.
func Sweep(ctx context.Context, caches *cachestore.Storage, m *metrics.Metrics, keep ...string) ([]string, error) {
	names, err := caches.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list caches: %w", err)
	}

	keepSet := make(map[string]bool, len(keep))
	for _, k := range keep {
		keepSet[k] = true
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		deleted []string
		errs    []error
	)
	for _, name := range names {
		if keepSet[name] {
			continue
		}
		wg.Add(1)
		go func(name string) {
			defer wg.Done()

			logging.Info().Add(logging.Cache(name)).Msg("Deleting old cache")
			_, err := caches.Delete(ctx, name)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logging.Error().Add(logging.Cache(name)).Add(logging.ErrorField(err)).Msg("Failed to delete old cache")
				m.ObserveSweep("failed")
				errs = append(errs, err)
				return
			}
			m.ObserveSweep("deleted")
			deleted = append(deleted, name)
		}(name)
	}
	wg.Wait()

	return deleted, errors.Join(errs...)
}

// becomeRedundant retires the version; it is a no-op when already redundant
func (c *Controller) becomeRedundant() {
	if c.machine.Is(lifecycle.StateRedundant) {
		return
	}
	if err := c.transition(lifecycle.EventRedundant); err == nil {
		logging.Info().Add(logging.Version(c.version)).Msg("Controller redundant")
	}
}

func (c *Controller) transition(event lifecycle.Event) error {
	state, err := c.machine.Fire(event)
	if err != nil {
		return fmt.Errorf("controller %s: %w", c.version, err)
	}
	c.metrics.ObserveTransition(string(state))
	logging.Debug().
		Add(logging.Version(c.version)).
		Add(logging.State(string(state))).
		Msg("Lifecycle transition")
	return nil
}

// upstreamURL maps a request URI onto the upstream origin
func (c *Controller) upstreamURL(requestURI string) (*url.URL, error) {
	ref, err := url.ParseRequestURI(requestURI)
	if err != nil {
		return nil, fmt.Errorf("invalid request uri %q: %w", requestURI, err)
	}
	// Join the escaped forms so encoded separators such as %2F survive
	rawPath := joinPath(c.upstream.EscapedPath(), ref.EscapedPath())
	p, err := url.PathUnescape(rawPath)
	if err != nil {
		return nil, fmt.Errorf("invalid request uri %q: %w", requestURI, err)
	}
	target := *c.upstream
	target.Path = p
	target.RawPath = rawPath
	target.RawQuery = ref.RawQuery
	target.Fragment = ""
	return &target, nil
}

func joinPath(base, p string) string {
	switch {
	case base == "" || base == "/":
		return p
	case strings.HasSuffix(base, "/") && strings.HasPrefix(p, "/"):
		return base + p[1:]
	case !strings.HasSuffix(base, "/") && !strings.HasPrefix(p, "/"):
		return base + "/" + p
	}
	return base + p
}

func isOK(status int) bool {
	return status >= http.StatusOK && status < 300
}
