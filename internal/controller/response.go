package controller

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/unalkalkan/pdftools-offline/internal/fetch"
	"github.com/unalkalkan/pdftools-offline/pkg/types"
)

// Synthesized offline bodies
const (
	OfflinePageBody     = "Offline"
	OfflineResourceBody = "Resource not available offline"
)

// capture reads resp into a cache entry keyed by requestURI. When the body
// is larger than limit, complete is false and entry.Body holds only the
// bytes read so far; the rest is still unread in resp.Body.
func capture(requestURI string, resp *http.Response, limit int64) (entry *types.CachedResponse, complete bool, err error) {
	reader := io.Reader(resp.Body)
	if limit > 0 {
		reader = io.LimitReader(resp.Body, limit+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read response body: %w", err)
	}

	header := resp.Header.Clone()
	fetch.RemoveHopHeaders(header)
	header.Del("Set-Cookie")

	entry = &types.CachedResponse{
		Method:     http.MethodGet,
		URL:        requestURI,
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Header:     header,
		Body:       body,
		StoredAt:   time.Now().UTC(),
	}
	complete = limit <= 0 || int64(len(body)) <= limit
	if complete {
		entry.Header.Set("Content-Length", strconv.Itoa(len(body)))
	}
	return entry, complete, nil
}

func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}

// cacheable reports whether a network response may be stored
func cacheable(resp *http.Response) bool {
	return isOK(resp.StatusCode) && resp.StatusCode != http.StatusPartialContent
}

// writeCached replays a stored response
func writeCached(w http.ResponseWriter, entry *types.CachedResponse) {
	h := w.Header()
	for k, v := range entry.Header {
		h[k] = append([]string(nil), v...)
	}
	h.Set("Content-Length", strconv.Itoa(len(entry.Body)))
	w.WriteHeader(entry.Status)
	w.Write(entry.Body)
}

// writeNetwork relays a network response; prefix holds body bytes that
// were already consumed from resp.Body
func writeNetwork(w http.ResponseWriter, resp *http.Response, prefix []byte) error {
	h := w.Header()
	for k, v := range resp.Header {
		h[k] = append([]string(nil), v...)
	}
	fetch.RemoveHopHeaders(h)
	w.WriteHeader(resp.StatusCode)

	body := io.Reader(resp.Body)
	if len(prefix) > 0 {
		body = io.MultiReader(bytes.NewReader(prefix), resp.Body)
	}
	if _, err := io.Copy(w, body); err != nil {
		return fmt.Errorf("failed to relay response: %w", err)
	}
	return nil
}

// writeOfflinePage is the last resort for navigations
func writeOfflinePage(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html")
	w.Header().Set("Content-Length", strconv.Itoa(len(OfflinePageBody)))
	w.WriteHeader(http.StatusServiceUnavailable)
	io.WriteString(w, OfflinePageBody)
}

// writeOfflineResource answers subresources that are neither cached nor
// reachable
func writeOfflineResource(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(OfflineResourceBody)))
	w.WriteHeader(http.StatusServiceUnavailable)
	io.WriteString(w, OfflineResourceBody)
}

// trackingWriter remembers whether a response was started
type trackingWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (t *trackingWriter) WriteHeader(code int) {
	t.wroteHeader = true
	t.ResponseWriter.WriteHeader(code)
}

func (t *trackingWriter) Write(b []byte) (int, error) {
	t.wroteHeader = true
	return t.ResponseWriter.Write(b)
}

func (t *trackingWriter) Unwrap() http.ResponseWriter {
	return t.ResponseWriter
}
