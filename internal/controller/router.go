package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/unalkalkan/pdftools-offline/internal/cachestore"
	"github.com/unalkalkan/pdftools-offline/internal/fetch"
	"github.com/unalkalkan/pdftools-offline/internal/logging"
	"github.com/unalkalkan/pdftools-offline/pkg/types"
)

// Strategy names the way a request is answered
type Strategy string

const (
	StrategyPassthrough  Strategy = "passthrough"
	StrategyCrossOrigin  Strategy = "cross-origin"
	StrategyNetworkFirst Strategy = "network-first"
	StrategyCacheFirst   Strategy = "cache-first"
)

// Classify picks the strategy for r. Non-GET and cross-origin requests are
// never served from or written to the cache. Navigations are network-first,
// every other GET is cache-first.
func (c *Controller) Classify(r *http.Request) Strategy {
	if r.Method != http.MethodGet {
		return StrategyPassthrough
	}
	if r.URL.IsAbs() && !sameOrigin(r.URL, c.origin) {
		return StrategyCrossOrigin
	}
	if IsNavigation(r) {
		return StrategyNetworkFirst
	}
	return StrategyCacheFirst
}

// IsNavigation reports whether r loads a top-level document
func IsNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	if r.Header.Get("Sec-Fetch-Dest") == "document" {
		return true
	}
	return prefersHTML(r.Header.Get("Accept"))
}

// prefersHTML reports whether the first listed media type is an HTML type
func prefersHTML(accept string) bool {
	first, _, _ := strings.Cut(accept, ",")
	mediaType, _, _ := strings.Cut(first, ";")
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case "text/html", "application/xhtml+xml":
		return true
	}
	return false
}

func sameOrigin(u, origin *url.URL) bool {
	return strings.EqualFold(u.Scheme, origin.Scheme) && hostPort(u) == hostPort(origin)
}

func hostPort(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" {
		switch strings.ToLower(u.Scheme) {
		case "https":
			port = "443"
		case "http":
			port = "80"
		}
	}
	return host + ":" + port
}

// ServeHTTP answers an intercepted request. Cached strategies always
// produce a response: failures end in a cached or synthesized fallback.
func (c *Controller) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	strategy := c.Classify(r)
	if strategy == StrategyPassthrough || strategy == StrategyCrossOrigin {
		c.forward(w, r, strategy)
		return
	}

	tw := &trackingWriter{ResponseWriter: w}
	defer func() {
		if p := recover(); p != nil {
			if p == http.ErrAbortHandler {
				panic(p)
			}
			c.recoverRequest(tw, r, strategy, fmt.Errorf("panic: %v", p))
		}
	}()

	var err error
	if strategy == StrategyNetworkFirst {
		err = c.networkFirst(tw, r)
	} else {
		err = c.cacheFirst(tw, r)
	}
	if err != nil {
		c.recoverRequest(tw, r, strategy, err)
	}
}

// networkFirst serves navigations: the live response when the network
// answers, else the cached request, else the cached root, else the offline
// page
func (c *Controller) networkFirst(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	uri := r.URL.RequestURI()

	res, err := c.fetchUpstream(ctx, r, uri)
	if err == nil {
		return c.respond(ctx, w, res, uri, StrategyNetworkFirst)
	}
	if !errors.Is(err, fetch.ErrNetwork) {
		return err
	}

	logging.Debug().
		Add(logging.URL(uri)).
		Add(logging.ErrorField(err)).
		Msg("Network failed, falling back to cache")

	if entry := c.match(ctx, uri); entry != nil {
		c.served(uri, StrategyNetworkFirst, "cache", entry.Status)
		writeCached(w, entry)
		return nil
	}
	if entry := c.match(ctx, c.cfg.RootPath); entry != nil {
		c.served(uri, StrategyNetworkFirst, "root", entry.Status)
		writeCached(w, entry)
		return nil
	}

	c.served(uri, StrategyNetworkFirst, "offline", http.StatusServiceUnavailable)
	writeOfflinePage(w)
	return nil
}

// cacheFirst serves subresources from any cache generation, going to the
// network only on a miss
func (c *Controller) cacheFirst(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	uri := r.URL.RequestURI()

	entry, err := c.caches.Match(ctx, uri)
	switch {
	case err == nil:
		c.metrics.ObserveCache("match", "hit")
		c.served(uri, StrategyCacheFirst, "cache", entry.Status)
		writeCached(w, entry)
		return nil
	case errors.Is(err, cachestore.ErrNotFound):
		c.metrics.ObserveCache("match", "miss")
	default:
		c.metrics.ObserveCache("match", "error")
		return err
	}

	res, err := c.fetchUpstream(ctx, r, uri)
	if err != nil {
		if !errors.Is(err, fetch.ErrNetwork) {
			return err
		}
		c.served(uri, StrategyCacheFirst, "offline", http.StatusServiceUnavailable)
		writeOfflineResource(w)
		return nil
	}
	return c.respond(ctx, w, res, uri, StrategyCacheFirst)
}

// networkResult is an upstream response, read into entry when cacheable
type networkResult struct {
	resp     *http.Response
	entry    *types.CachedResponse
	complete bool
}

// fetchUpstream fetches uri from the upstream. A body that cannot be read
// counts as a network failure.
func (c *Controller) fetchUpstream(ctx context.Context, r *http.Request, uri string) (*networkResult, error) {
	target, err := c.upstreamURL(uri)
	if err != nil {
		return nil, err
	}
	req := fetch.NewOutboundRequest(ctx, r, target)
	// Let the transport negotiate compression so stored bodies are identity
	req.Header.Del("Accept-Encoding")

	start := time.Now()
	resp, err := c.fetcher.Fetch(ctx, req)
	if err != nil {
		c.metrics.ObserveFetch("failed", time.Since(start))
		return nil, err
	}
	if !cacheable(resp) {
		c.metrics.ObserveFetch("not_ok", time.Since(start))
		return &networkResult{resp: resp}, nil
	}

	entry, complete, err := capture(uri, resp, c.cfg.MaxEntryBytes)
	c.metrics.ObserveFetch("ok", time.Since(start))
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %v", fetch.ErrNetwork, err)
	}
	return &networkResult{resp: resp, entry: entry, complete: complete}, nil
}

// respond stores a cacheable network response in the shell generation and
// then writes it. A failed store is logged; the response is still served.
func (c *Controller) respond(ctx context.Context, w http.ResponseWriter, res *networkResult, uri string, strategy Strategy) error {
	defer res.resp.Body.Close()

	switch {
	case res.entry == nil:
		c.served(uri, strategy, "network", res.resp.StatusCode)
		return writeNetwork(w, res.resp, nil)

	case !res.complete:
		logging.Debug().
			Add(logging.URL(uri)).
			Msg("Response too large to cache")
		c.served(uri, strategy, "network", res.resp.StatusCode)
		return writeNetwork(w, res.resp, res.entry.Body)
	}

	if err := c.store(ctx, res.entry); err != nil {
		c.metrics.ObserveCache("put", "error")
		logging.Warn().
			Add(logging.URL(uri)).
			Add(logging.Cache(c.cfg.ShellCache)).
			Add(logging.ErrorField(err)).
			Msg("Failed to cache response")
	} else {
		c.metrics.ObserveCache("put", "ok")
	}

	c.served(uri, strategy, "network", res.entry.Status)
	writeCached(w, res.entry)
	return nil
}

func (c *Controller) store(ctx context.Context, entry *types.CachedResponse) error {
	cache, err := c.caches.Open(ctx, c.cfg.ShellCache)
	if err != nil {
		return err
	}
	return cache.Put(ctx, entry)
}

// match looks uri up in every generation; misses and errors both yield nil
func (c *Controller) match(ctx context.Context, uri string) *types.CachedResponse {
	entry, err := c.caches.Match(ctx, uri)
	switch {
	case err == nil:
		c.metrics.ObserveCache("match", "hit")
		return entry
	case errors.Is(err, cachestore.ErrNotFound):
		c.metrics.ObserveCache("match", "miss")
	default:
		c.metrics.ObserveCache("match", "error")
		logging.Warn().
			Add(logging.URL(uri)).
			Add(logging.ErrorField(err)).
			Msg("Cache lookup failed")
	}
	return nil
}

// recoverRequest is the error boundary of the cached strategies
func (c *Controller) recoverRequest(w *trackingWriter, r *http.Request, strategy Strategy, err error) {
	uri := r.URL.RequestURI()
	logging.Error().
		Add(logging.URL(uri)).
		Add(logging.Strategy(string(strategy))).
		Add(logging.ErrorField(err)).
		Msg("Request failed")

	if w.wroteHeader {
		return
	}

	if strategy == StrategyNetworkFirst {
		if entry := c.match(r.Context(), c.cfg.RootPath); entry != nil {
			c.served(uri, strategy, "root", entry.Status)
			writeCached(w, entry)
			return
		}
		c.served(uri, strategy, "error", http.StatusServiceUnavailable)
		writeOfflinePage(w)
		return
	}

	c.served(uri, strategy, "error", http.StatusServiceUnavailable)
	writeOfflineResource(w)
}

// forward sends a request on without touching the cache
func (c *Controller) forward(w http.ResponseWriter, r *http.Request, strategy Strategy) {
	var target *url.URL
	if strategy == StrategyCrossOrigin {
		if !c.forwardAllowed(r.URL) {
			logging.Warn().
				Add(logging.URL(r.URL.String())).
				Msg("Cross-origin target not allowed")
			c.metrics.ObserveRequest(string(strategy), "rejected")
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		u := *r.URL
		target = &u
	} else {
		var err error
		target, err = c.upstreamURL(r.URL.RequestURI())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	req := fetch.NewOutboundRequest(r.Context(), r, target)
	resp, err := c.passthroughFetcher().Fetch(r.Context(), req)
	if err != nil {
		logging.Warn().
			Add(logging.Method(r.Method)).
			Add(logging.URL(target.String())).
			Add(logging.ErrorField(err)).
			Msg("Passthrough failed")
		c.metrics.ObserveRequest(string(strategy), "error")
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	c.metrics.ObserveRequest(string(strategy), "passthrough")
	if err := writeNetwork(w, resp, nil); err != nil {
		logging.Debug().Add(logging.URL(target.String())).Add(logging.ErrorField(err)).Msg("Passthrough interrupted")
	}
}

// forwardAllowed reports whether u belongs to a configured passthrough origin
func (c *Controller) forwardAllowed(u *url.URL) bool {
	for _, o := range c.allowed {
		if sameOrigin(u, o) {
			return true
		}
	}
	return false
}

func (c *Controller) served(uri string, strategy Strategy, outcome string, status int) {
	c.metrics.ObserveRequest(string(strategy), outcome)
	logging.Debug().
		Add(logging.URL(uri)).
		Add(logging.Strategy(string(strategy))).
		Add(logging.Str("outcome", outcome)).
		Add(logging.Status(status)).
		Msg("Request served")
}

// forwardStrategy classifies a request that bypasses the cache entirely
func (c *Controller) forwardStrategy(r *http.Request) Strategy {
	if r.URL.IsAbs() && !sameOrigin(r.URL, c.origin) {
		return StrategyCrossOrigin
	}
	return StrategyPassthrough
}
