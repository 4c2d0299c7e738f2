// Package notify shows notifications to page clients and handles clicks
// on them.
package notify

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/unalkalkan/pdftools-offline/internal/clients"
	"github.com/unalkalkan/pdftools-offline/internal/logging"
	"github.com/unalkalkan/pdftools-offline/internal/metrics"
	"github.com/unalkalkan/pdftools-offline/pkg/types"
)

// ActionOpen is the only notification action
const ActionOpen = "open"

// PrimaryKey identifies notifications raised by push
const PrimaryKey = "pdftools-notification"

// DefaultMaxRetained bounds the shown notifications kept when the config
// leaves it unset
const DefaultMaxRetained = 20

// ErrNotFound is returned for unknown notification ids
var ErrNotFound = errors.New("notification not found")

// Center keeps the shown notifications
type Center struct {
	cfg      types.NotificationConfig
	clients  *clients.Registry
	metrics  *metrics.Metrics
	openPath string

	mu    sync.Mutex
	shown map[string]*types.Notification
	order []string // shown ids, oldest first
	limit int
	now   func() time.Time
}

// NewCenter creates a notification center. Clicking the open action
// focuses or opens openPath.
func NewCenter(cfg types.NotificationConfig, registry *clients.Registry, m *metrics.Metrics, openPath string) *Center {
	if openPath == "" {
		openPath = "/"
	}
	limit := cfg.MaxRetained
	if limit <= 0 {
		limit = DefaultMaxRetained
	}
	return &Center{
		cfg:      cfg,
		clients:  registry,
		metrics:  m,
		openPath: openPath,
		shown:    make(map[string]*types.Notification),
		limit:    limit,
		now:      time.Now,
	}
}

// Build returns the fixed push notification
func (c *Center) Build() *types.Notification {
	vibrate := make([]int, len(c.cfg.Vibrate))
	copy(vibrate, c.cfg.Vibrate)

	return &types.Notification{
		ID:      uuid.NewString(),
		Title:   c.cfg.Title,
		Body:    c.cfg.Body,
		Icon:    c.cfg.Icon,
		Badge:   c.cfg.Badge,
		Image:   c.cfg.Image,
		Vibrate: vibrate,
		Data: types.NotificationData{
			DateOfArrival: c.now(),
			PrimaryKey:    PrimaryKey,
		},
		Actions: []types.NotificationAction{
			{Action: ActionOpen, Title: c.cfg.ActionTitle, Icon: c.cfg.ActionIcon},
		},
		RequireInteraction: false,
		Persistent:         true,
	}
}

// Show records n and delivers it to every client. Once more than the
// retention limit are shown, the oldest are closed.
func (c *Center) Show(n *types.Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	c.mu.Lock()
	if _, ok := c.shown[n.ID]; !ok {
		c.order = append(c.order, n.ID)
	}
	c.shown[n.ID] = n
	var evicted []*types.Notification
	for len(c.order) > c.limit {
		id := c.order[0]
		c.order = c.order[1:]
		evicted = append(evicted, c.shown[id])
		delete(c.shown, id)
	}
	c.mu.Unlock()

	for _, old := range evicted {
		c.clients.Broadcast(types.ClientEvent{Type: clients.EventNotificationClose, Notification: old})
		c.metrics.ObserveNotification("evicted")
	}

	delivered := c.clients.Broadcast(types.ClientEvent{Type: clients.EventNotification, Notification: n})
	c.metrics.ObserveNotification("shown")

	logging.Info().
		Add(logging.Str("notification", n.ID)).
		Add(logging.Count(delivered)).
		Msg("Notification shown")
}

// Close removes a notification. It reports whether it was shown.
func (c *Center) Close(id string) bool {
	c.mu.Lock()
	n, ok := c.shown[id]
	if ok {
		delete(c.shown, id)
		for i, shown := range c.order {
			if shown == id {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	c.clients.Broadcast(types.ClientEvent{Type: clients.EventNotificationClose, Notification: n})
	c.metrics.ObserveNotification("closed")
	return true
}

// List returns the shown notifications, oldest first
func (c *Center) List() []*types.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.Notification, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.shown[id])
	}
	return out
}

// Click closes the notification, then focuses or opens the app when the
// action is open or the notification body was clicked. Other actions only
// close it. Clicking an unknown notification still honours the action.
func (c *Center) Click(id, action string) error {
	closed := c.Close(id)
	c.metrics.ObserveNotification("clicked")

	if action != "" && action != ActionOpen {
		logging.Debug().
			Add(logging.Str("notification", id)).
			Add(logging.Str("action", action)).
			Msg("Ignoring notification action")
		if !closed {
			return ErrNotFound
		}
		return nil
	}

	focused := c.clients.OpenWindow(c.openPath)
	logging.Info().
		Add(logging.Str("notification", id)).
		Add(logging.URL(c.openPath)).
		Add(logging.Str("client", focused)).
		Msg("Notification clicked")

	if !closed {
		return ErrNotFound
	}
	return nil
}
