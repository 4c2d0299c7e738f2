package types

import (
	"net/http"
	"time"
)

// CachedResponse is a response stored in a cache generation
type CachedResponse struct {
	Method     string      `json:"method"`      // always GET
	URL        string      `json:"url"`         // request URI, e.g. "/merge-pdf?x=1"
	Status     int         `json:"status"`
	StatusText string      `json:"status_text"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	StoredAt   time.Time   `json:"stored_at"`
}

// OK reports whether the stored status is in the 2xx range
func (r *CachedResponse) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// GenerationInfo describes a cache generation
type GenerationInfo struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
