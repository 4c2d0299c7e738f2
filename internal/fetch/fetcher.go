// Package fetch performs the controller's network requests towards the
// application origin and any passthrough targets.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
)

// ErrNetwork marks a request that produced no HTTP response at all
// (connection refused, timeout, cancelled, breaker open)
var ErrNetwork = errors.New("fetch: network failure")

// Fetcher issues a request and returns the network response
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Options configures an HTTPFetcher
type Options struct {
	// Timeout bounds a whole fetch including reading the body, 0 disables.
	Timeout time.Duration

	// BreakerEnabled makes consecutive network failures open a circuit so
	// later requests fail fast and fall back to the cache immediately.
	BreakerEnabled   bool
	BreakerThreshold int
	BreakerTimeout   time.Duration

	// Transport overrides http.DefaultTransport.
	Transport http.RoundTripper
}

// HTTPFetcher is the production Fetcher on net/http
type HTTPFetcher struct {
	client  *http.Client
	breaker circuitbreaker.CircuitBreaker[*http.Response]
	timeout time.Duration
}

// NewHTTPFetcher creates a fetcher. Redirects are returned to the caller
// rather than followed.
func NewHTTPFetcher(opts Options) *HTTPFetcher {
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	f := &HTTPFetcher{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: opts.Timeout,
	}

	if opts.BreakerEnabled {
		threshold := opts.BreakerThreshold
		if threshold <= 0 {
			threshold = 5
		}
		openFor := opts.BreakerTimeout
		if openFor <= 0 {
			openFor = 30 * time.Second
		}
		f.breaker = circuitbreaker.New[*http.Response](circuitbreaker.Config{
			MaxRequests: 1,
			Interval:    openFor,
			Timeout:     openFor,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(threshold) // #nosec G115 -- threshold is positive
			},
		})
	}

	return f
}

// Fetch sends req. Any HTTP response, whatever its status, is a success;
// only the absence of a response is reported as ErrNetwork.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	cancel := context.CancelFunc(func() {})
	if f.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
	}
	req = req.WithContext(ctx)

	do := func(ctx context.Context) (*http.Response, error) {
		return f.client.Do(req)
	}

	var resp *http.Response
	var err error
	if f.breaker != nil {
		resp, err = f.breaker.Execute(ctx, do)
	} else {
		resp, err = do(ctx)
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	// The deadline covers the body; release it once the body is closed
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// BreakerState returns the circuit state, or "disabled"
func (f *HTTPFetcher) BreakerState() string {
	if f.breaker == nil {
		return "disabled"
	}
	return fmt.Sprint(f.breaker.State())
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// hopHeaders are connection-scoped and never forwarded
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// RemoveHopHeaders strips hop-by-hop headers in place
func RemoveHopHeaders(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, name := range strings.Split(f, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// NewOutboundRequest clones an incoming request for target, dropping
// hop-by-hop headers
func NewOutboundRequest(ctx context.Context, in *http.Request, target *url.URL) *http.Request {
	out := in.Clone(ctx)
	out.URL = target
	out.Host = target.Host
	out.RequestURI = ""
	if in.ContentLength == 0 {
		out.Body = nil
	}
	RemoveHopHeaders(out.Header)
	return out
}

// NewGetRequest builds a bodiless GET for target
func NewGetRequest(ctx context.Context, target *url.URL) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return req, nil
}
