package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unalkalkan/pdftools-offline/internal/clients"
	"github.com/unalkalkan/pdftools-offline/internal/config"
	"github.com/unalkalkan/pdftools-offline/pkg/types"
)

func newCenter(t *testing.T) (*Center, *clients.Registry) {
	t.Helper()
	registry := clients.NewRegistry()
	return NewCenter(config.GetDefault().Controller.Notification, registry, nil, "/"), registry
}

func drain(c *clients.Client) []types.ClientEvent {
	var out []types.ClientEvent
	for {
		select {
		case ev := <-c.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestBuildFixedNotification(t *testing.T) {
	center, _ := newCenter(t)
	n := center.Build()

	assert.NotEmpty(t, n.ID)
	assert.Equal(t, "PDFTools", n.Title)
	assert.Equal(t, "PDFTools está pronto para usar!", n.Body)
	assert.Equal(t, "/icons/icon-192x192.png", n.Icon)
	assert.Equal(t, "/icons/icon-96x96.png", n.Badge)
	assert.Equal(t, "/icons/icon-384x384.png", n.Image)
	assert.Equal(t, []int{100, 50, 100}, n.Vibrate)
	require.Len(t, n.Actions, 1)
	assert.Equal(t, "open", n.Actions[0].Action)
	assert.Equal(t, "Abrir App", n.Actions[0].Title)
	assert.Equal(t, PrimaryKey, n.Data.PrimaryKey)
	assert.WithinDuration(t, time.Now(), n.Data.DateOfArrival, time.Minute)
	assert.False(t, n.RequireInteraction)
	assert.True(t, n.Persistent)
}

func TestShowAndClose(t *testing.T) {
	center, registry := newCenter(t)
	page := registry.Register("/merge-pdf", "v2")

	n := center.Build()
	center.Show(n)
	require.Len(t, center.List(), 1)

	assert.True(t, center.Close(n.ID))
	assert.False(t, center.Close(n.ID))
	assert.Empty(t, center.List())

	events := drain(page)
	require.Len(t, events, 2)
	assert.Equal(t, clients.EventNotification, events[0].Type)
	assert.Equal(t, n.ID, events[0].Notification.ID)
	assert.Equal(t, clients.EventNotificationClose, events[1].Type)
}

func TestClickOpenFocusesRoot(t *testing.T) {
	for _, action := range []string{"open", ""} {
		t.Run("action="+action, func(t *testing.T) {
			center, registry := newCenter(t)
			root := registry.Register("/", "v2")

			n := center.Build()
			center.Show(n)
			drain(root)

			require.NoError(t, center.Click(n.ID, action))
			assert.Empty(t, center.List())

			events := drain(root)
			require.Len(t, events, 2)
			assert.Equal(t, clients.EventNotificationClose, events[0].Type)
			assert.Equal(t, clients.EventFocus, events[1].Type)
			assert.Equal(t, "/", events[1].URL)
		})
	}
}

func TestClickOtherActionOnlyCloses(t *testing.T) {
	center, registry := newCenter(t)
	root := registry.Register("/", "v2")

	n := center.Build()
	center.Show(n)
	drain(root)

	require.NoError(t, center.Click(n.ID, "dismiss"))
	events := drain(root)
	require.Len(t, events, 1)
	assert.Equal(t, clients.EventNotificationClose, events[0].Type)
}

func TestClickUnknownStillOpens(t *testing.T) {
	center, registry := newCenter(t)
	page := registry.Register("/rotate-pdf", "v2")

	err := center.Click("missing", "open")
	assert.ErrorIs(t, err, ErrNotFound)

	events := drain(page)
	require.Len(t, events, 1)
	assert.Equal(t, clients.EventOpenWindow, events[0].Type)
}

func TestShowRetainsNewestWithinLimit(t *testing.T) {
	cfg := config.GetDefault().Controller.Notification
	cfg.MaxRetained = 3
	registry := clients.NewRegistry(clients.WithBuffer(64))
	center := NewCenter(cfg, registry, nil, "/")
	page := registry.Register("/", "v2")

	var ids []string
	for i := 0; i < 10; i++ {
		n := center.Build()
		center.Show(n)
		ids = append(ids, n.ID)
	}

	list := center.List()
	require.Len(t, list, 3)
	for i, n := range list {
		assert.Equal(t, ids[7+i], n.ID)
	}

	// Evicted notifications are closed on the clients
	closes := 0
	for _, ev := range drain(page) {
		if ev.Type == clients.EventNotificationClose {
			closes++
		}
	}
	assert.Equal(t, 7, closes)

	assert.ErrorIs(t, center.Click(ids[0], "dismiss"), ErrNotFound)
	require.NoError(t, center.Click(ids[9], "dismiss"))
	assert.Len(t, center.List(), 2)
}

func TestRepeatedPushStaysBounded(t *testing.T) {
	center, _ := newCenter(t)
	for i := 0; i < 5000; i++ {
		center.Show(center.Build())
	}
	assert.Len(t, center.List(), DefaultMaxRetained)
}
