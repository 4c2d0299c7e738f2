// Package clients tracks the page clients attached to the controller and
// delivers lifecycle and notification events to them.
package clients

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/unalkalkan/pdftools-offline/internal/logging"
	"github.com/unalkalkan/pdftools-offline/pkg/types"
)

// Event types delivered to clients
const (
	EventControllerChange  = "controllerchange"
	EventNotification      = "notification"
	EventNotificationClose = "notificationclose"
	EventFocus             = "focus"
	EventOpenWindow        = "openwindow"
)

const defaultBuffer = 32

// Info is a snapshot of a registered client
type Info struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	Controller   string    `json:"controller,omitempty"` // controlling version, empty when uncontrolled
	RegisteredAt time.Time `json:"registered_at"`
}

// Client is a registered page context
type Client struct {
	info   Info
	events chan types.ClientEvent
}

// ID returns the client identifier
func (c *Client) ID() string { return c.info.ID }

// Events returns the client's event channel. It is closed on Unregister.
func (c *Client) Events() <-chan types.ClientEvent { return c.events }

// Registry holds the registered clients
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	buffer   int
	onChange func(n int)
	now      func() time.Time
}

// Option configures a Registry
type Option func(*Registry)

// WithBuffer sets the per-client event buffer
func WithBuffer(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.buffer = n
		}
	}
}

// WithOnChange registers a callback invoked with the client count after
// every register or unregister
func WithOnChange(fn func(n int)) Option {
	return func(r *Registry) { r.onChange = fn }
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		clients: make(map[string]*Client),
		buffer:  defaultBuffer,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a client at url. controller is the version that controls it,
// empty when no version is active yet.
func (r *Registry) Register(url, controller string) *Client {
	c := &Client{
		info: Info{
			ID:           uuid.NewString(),
			URL:          url,
			Controller:   controller,
			RegisteredAt: r.now(),
		},
		events: make(chan types.ClientEvent, r.buffer),
	}

	r.mu.Lock()
	r.clients[c.info.ID] = c
	n := len(r.clients)
	r.mu.Unlock()

	r.changed(n)
	return c
}

// Unregister removes a client and closes its event channel
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	c, ok := r.clients[id]
	if ok {
		delete(r.clients, id)
		close(c.events)
	}
	n := len(r.clients)
	r.mu.Unlock()

	if ok {
		r.changed(n)
	}
	return ok
}

// Get returns the client with id
func (r *Registry) Get(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// Info returns a snapshot of the client with id
func (r *Registry) Info(id string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	if !ok {
		return Info{}, false
	}
	return c.info, true
}

// List returns all clients, oldest first
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c.info)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out
}

// Len returns the number of registered clients
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Controlled returns how many clients are controlled by version
func (r *Registry) Controlled(version string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.clients {
		if c.info.Controller == version {
			n++
		}
	}
	return n
}

// Claim makes version the controller of every registered client and
// notifies each client whose controller changed. It returns how many
// clients changed controller.
func (r *Registry) Claim(version string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	claimed := 0
	for _, c := range r.clients {
		if c.info.Controller == version {
			continue
		}
		c.info.Controller = version
		r.deliver(c, types.ClientEvent{Type: EventControllerChange, Version: version, At: r.now()})
		claimed++
	}
	return claimed
}

// Broadcast sends ev to every client
func (r *Registry) Broadcast(ev types.ClientEvent) int {
	if ev.At.IsZero() {
		ev.At = r.now()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.clients {
		r.deliver(c, ev)
	}
	return len(r.clients)
}

// OpenWindow focuses the first client already showing url. When none does,
// an openwindow event is broadcast so an attached shell can open it. It
// returns the focused client id, or "" when a window was requested.
func (r *Registry) OpenWindow(url string) string {
	now := r.now()

	r.mu.RLock()
	var target *Client
	for _, c := range r.clients {
		if c.info.URL != url {
			continue
		}
		if target == nil || c.info.RegisteredAt.Before(target.info.RegisteredAt) {
			target = c
		}
	}
	if target != nil {
		r.deliver(target, types.ClientEvent{Type: EventFocus, URL: url, At: now})
		r.mu.RUnlock()
		return target.info.ID
	}
	r.mu.RUnlock()

	r.Broadcast(types.ClientEvent{Type: EventOpenWindow, URL: url, At: now})
	return ""
}

// deliver must be called with r.mu held. Slow clients lose events rather
// than blocking the controller.
func (r *Registry) deliver(c *Client, ev types.ClientEvent) {
	select {
	case c.events <- ev:
	default:
		logging.Warn().
			Add(logging.Str("client", c.info.ID)).
			Add(logging.Str("event", ev.Type)).
			Msg("Client event buffer full, dropping event")
	}
}

func (r *Registry) changed(n int) {
	if r.onChange != nil {
		r.onChange(n)
	}
}
