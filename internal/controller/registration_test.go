package controller

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unalkalkan/pdftools-offline/internal/clients"
	"github.com/unalkalkan/pdftools-offline/internal/lifecycle"
	"github.com/unalkalkan/pdftools-offline/pkg/types"
)

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

// installedOnly brings c to the waiting state without asking to skip waiting
func installedOnly(t *testing.T, c *Controller) {
	t.Helper()
	require.NoError(t, c.transition(lifecycle.EventInstall))
	require.NoError(t, c.transition(lifecycle.EventInstalled))
}

func TestFirstUpdateActivates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "/")
	h.upstream.set("/", "shell")
	reg := NewRegistration(h.clients)

	c := h.controller(t, "v2")
	require.NoError(t, reg.Update(ctx, c))

	assert.Equal(t, c, reg.Active())
	assert.Nil(t, reg.Waiting())
	assert.Equal(t, lifecycle.StateActivated, c.State())

	snap := reg.Snapshot()
	require.NotNil(t, snap.Active)
	assert.Equal(t, "v2", snap.Active.Version)
	assert.Nil(t, snap.Waiting)
}

func TestUpdateReplacesActiveVersion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "/")
	h.upstream.set("/", "shell v2")
	reg := NewRegistration(h.clients)
	page := h.clients.Register("/", "")

	v2 := h.controller(t, "v2")
	require.NoError(t, reg.Update(ctx, v2))
	drain(page)

	// Next release bumps the shell cache name
	h.cfg.ShellCache = "pdftools-v3"
	h.upstream.set("/", "shell v3")
	v3 := h.controller(t, "v3")
	require.NoError(t, reg.Update(ctx, v3))

	assert.Equal(t, v3, reg.Active())
	assert.Equal(t, lifecycle.StateRedundant, v2.State())

	names, err := h.caches.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pdftools-v3"}, names)

	events := drain(page)
	require.Len(t, events, 1)
	assert.Equal(t, clients.EventControllerChange, events[0].Type)
	assert.Equal(t, "v3", events[0].Version)
}

func TestFailedUpdateKeepsActiveVersion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "/")
	h.upstream.set("/", "shell")
	reg := NewRegistration(h.clients)

	v2 := h.controller(t, "v2")
	require.NoError(t, reg.Update(ctx, v2))

	h.upstream.setDown(true)
	v3 := h.controller(t, "v3")
	require.Error(t, reg.Update(ctx, v3))

	assert.Equal(t, v2, reg.Active())
	assert.Equal(t, lifecycle.StateActivated, v2.State())
	assert.Equal(t, lifecycle.StateRedundant, v3.State())
}

func TestSupersededInstallNeverWaits(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "/")
	h.upstream.set("/", "shell")
	reg := NewRegistration(h.clients)

	v2 := h.controller(t, "v2")
	require.NoError(t, reg.Update(ctx, v2))

	// v3 finishes installing just as v4 replaces it
	v3 := h.controller(t, "v3")
	v4 := h.controller(t, "v4")
	reg.mu.Lock()
	reg.installing = v3
	reg.mu.Unlock()
	installedOnly(t, v3)
	reg.mu.Lock()
	reg.installing = v4
	reg.mu.Unlock()
	v3.becomeRedundant()

	err := reg.installed(ctx, v3, nil)
	require.ErrorIs(t, err, ErrSuperseded)
	assert.Nil(t, reg.Waiting())
	assert.Equal(t, v2, reg.Active())
	assert.Equal(t, lifecycle.StateRedundant, v3.State())

	reg.mu.RLock()
	assert.Equal(t, v4, reg.installing)
	reg.mu.RUnlock()
}

func TestInstalledVersionReplacedBeforeWaitingIsDropped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "/")
	reg := NewRegistration(h.clients)

	v2 := h.controller(t, "v2")
	reg.mu.Lock()
	reg.installing = v2
	reg.mu.Unlock()
	installedOnly(t, v2)
	v2.becomeRedundant()

	require.ErrorIs(t, reg.installed(ctx, v2, nil), ErrSuperseded)
	assert.Nil(t, reg.Waiting())
	assert.Nil(t, reg.Active())
}

func TestWaitingVersionActivatesOnSkipWaitingMessage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "/")
	h.upstream.set("/", "shell")
	reg := NewRegistration(h.clients)

	v2 := h.controller(t, "v2")
	require.NoError(t, reg.Update(ctx, v2))
	h.clients.Register("/merge-pdf", "v2")

	v3 := h.controller(t, "v3")
	installedOnly(t, v3)
	reg.mu.Lock()
	reg.waiting = v3
	reg.mu.Unlock()

	require.NoError(t, reg.Reconcile(ctx))
	assert.Equal(t, v3, reg.Waiting(), "a version with controlled clients keeps the new one waiting")

	ok, err := reg.HandleMessage(ctx, Message{Type: "PING"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, v3, reg.Waiting())

	ok, err = reg.HandleMessage(ctx, Message{Type: MessageSkipWaiting})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, v3, reg.Active())
	assert.Nil(t, reg.Waiting())
	assert.Equal(t, lifecycle.StateRedundant, v2.State())
}

func TestWaitingVersionActivatesWhenClientsRelease(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "/")
	h.upstream.set("/", "shell")
	reg := NewRegistration(h.clients)

	v2 := h.controller(t, "v2")
	require.NoError(t, reg.Update(ctx, v2))
	page := h.clients.Register("/merge-pdf", "v2")

	v3 := h.controller(t, "v3")
	installedOnly(t, v3)
	reg.mu.Lock()
	reg.waiting = v3
	reg.mu.Unlock()

	released, err := reg.Release(ctx, page.ID())
	require.NoError(t, err)
	assert.True(t, released)
	assert.Equal(t, v3, reg.Active())

	released, err = reg.Release(ctx, page.ID())
	require.NoError(t, err)
	assert.False(t, released)
}

func TestRegistrationWithoutActivePassesThrough(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "/", "/manifest.json")
	h.upstream.set("/", "live shell")
	reg := NewRegistration(h.clients)

	rec := serve(reg, navigate("/"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "nothing registered yet")

	// Install fails on the missing manifest.json, leaving no active version
	c := h.controller(t, "v2")
	require.Error(t, reg.Update(ctx, c))
	assert.Nil(t, reg.Active())

	rec = serve(reg, navigate("/"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "live shell", rec.Body.String())

	_, err := h.caches.Match(ctx, "/")
	assert.Error(t, err, "passthrough must not cache")
}

func TestRegistrationRoutesToActive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "/")
	h.upstream.set("/", "shell")
	reg := NewRegistration(h.clients)
	require.NoError(t, reg.Update(ctx, h.controller(t, "v2")))

	h.upstream.setDown(true)
	rec := serve(reg, navigate("/compress-pdf"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "shell", rec.Body.String())
}

func TestBridgeEvents(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "/")
	h.upstream.set("/", "shell")
	reg := NewRegistration(h.clients)

	_, err := reg.HandlePush(nil)
	assert.ErrorIs(t, err, ErrNoActive)
	_, err = reg.HandleMessage(ctx, Message{Type: MessageSkipWaiting})
	assert.ErrorIs(t, err, ErrNoActive)

	require.NoError(t, reg.Update(ctx, h.controller(t, "v2")))
	root := h.clients.Register("/", "v2")

	n, err := reg.HandlePush([]byte("ignored payload"))
	require.NoError(t, err)
	assert.Equal(t, "PDFTools", n.Title)

	require.NoError(t, reg.HandleNotificationClick(n.ID, "open"))
	events := drain(root)
	require.Len(t, events, 3)
	assert.Equal(t, clients.EventNotification, events[0].Type)
	assert.Equal(t, clients.EventNotificationClose, events[1].Type)
	assert.Equal(t, clients.EventFocus, events[2].Type)

	handled, err := reg.HandleSync(ctx, SyncTagBackground)
	require.NoError(t, err)
	assert.True(t, handled)

	handled, err = reg.HandleSync(ctx, "other")
	require.NoError(t, err)
	assert.False(t, handled)
}
