package controller

import (
	"context"

	"github.com/unalkalkan/pdftools-offline/internal/logging"
	"github.com/unalkalkan/pdftools-offline/pkg/types"
)

// MessageSkipWaiting is the only message a controller acts on
const MessageSkipWaiting = "SKIP_WAITING"

// SyncTagBackground is the background sync tag the controller answers
const SyncTagBackground = "background-sync"

// Message is sent by a page client to a controller version
type Message struct {
	Type string `json:"type"`
}

// HandleMessage reacts to a client message and reports whether it was
// recognised. Unknown or malformed messages are ignored.
func (c *Controller) HandleMessage(msg Message) bool {
	if msg.Type != MessageSkipWaiting {
		logging.Debug().
			Add(logging.Version(c.version)).
			Add(logging.Str("type", msg.Type)).
			Msg("Ignoring message")
		return false
	}
	c.SkipWaiting()
	return true
}

// HandlePush shows the fixed notification. The payload is not inspected.
func (c *Controller) HandlePush(payload []byte) *types.Notification {
	logging.Info().
		Add(logging.Version(c.version)).
		Add(logging.Count(len(payload))).
		Msg("Push received")

	n := c.notifier.Build()
	c.notifier.Show(n)
	return n
}

// HandleNotificationClick closes the notification and, for the open action
// or a click on the notification itself, focuses or opens the app root
func (c *Controller) HandleNotificationClick(id, action string) error {
	return c.notifier.Click(id, action)
}

// HandleSync completes a background sync. Only the background-sync tag is
// recognised; it has no work to do.
func (c *Controller) HandleSync(_ context.Context, tag string) bool {
	if tag != SyncTagBackground {
		logging.Debug().Add(logging.Str("tag", tag)).Msg("Ignoring sync")
		return false
	}
	logging.Info().Add(logging.Version(c.version)).Msg("Background sync")
	return true
}
