package controller

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/unalkalkan/pdftools-offline/internal/clients"
	"github.com/unalkalkan/pdftools-offline/internal/lifecycle"
	"github.com/unalkalkan/pdftools-offline/internal/logging"
	"github.com/unalkalkan/pdftools-offline/pkg/types"
)

// ErrNoActive is returned for events that need an active controller
var ErrNoActive = errors.New("no active controller")

// ErrSuperseded is returned by Update when a newer version replaced c
// before it finished installing
var ErrSuperseded = errors.New("install superseded by a newer version")

// Registration hosts controller versions. At most one version is installing,
// one is waiting and one is active. Requests go to the active version; with
// none active they pass straight through to the upstream.
type Registration struct {
	clients *clients.Registry

	mu         sync.RWMutex
	installing *Controller
	waiting    *Controller
	active     *Controller
	latest     *Controller // most recently registered, used for passthrough

	promoteMu sync.Mutex // serialises activation
}

// NewRegistration creates an empty registration
func NewRegistration(registry *clients.Registry) *Registration {
	return &Registration{clients: registry}
}

// Update installs c. A newer Update supersedes an install still in
// progress. Once installed, c waits until no version is active, it asked to
// skip waiting, or the active version controls no clients; then it
// activates.
func (r *Registration) Update(ctx context.Context, c *Controller) error {
	r.mu.Lock()
	prev := r.installing
	r.installing = c
	r.latest = c
	r.mu.Unlock()

	if prev != nil {
		prev.becomeRedundant()
	}

	return r.installed(ctx, c, c.Install(ctx))
}

// installed records the outcome of c's install. Only a version that is
// still the current install and reached INSTALLED may start waiting.
func (r *Registration) installed(ctx context.Context, c *Controller, err error) error {
	r.mu.Lock()
	current := r.installing == c
	if current {
		r.installing = nil
	}
	var replaced *Controller
	promote := err == nil && current && c.State() == lifecycle.StateInstalled
	if promote {
		replaced = r.waiting
		r.waiting = c
	}
	r.mu.Unlock()

	if err != nil {
		return err
	}
	if !promote {
		c.becomeRedundant()
		logging.Info().Add(logging.Version(c.Version())).Msg("Install superseded")
		return ErrSuperseded
	}
	if replaced != nil {
		replaced.becomeRedundant()
	}
	return r.Reconcile(ctx)
}

// Reconcile activates the waiting version when it is allowed to
func (r *Registration) Reconcile(ctx context.Context) error {
	r.promoteMu.Lock()
	defer r.promoteMu.Unlock()

	r.mu.Lock()
	next := r.waiting
	prev := r.active
	if next == nil {
		r.mu.Unlock()
		return nil
	}
	if prev != nil && !next.SkippedWaiting() && r.clients.Controlled(prev.Version()) > 0 {
		r.mu.Unlock()
		return nil
	}
	r.waiting = nil
	r.active = next
	r.mu.Unlock()

	if prev != nil {
		prev.becomeRedundant()
	}
	return next.Activate(ctx)
}

// Active returns the active version, or nil
func (r *Registration) Active() *Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Waiting returns the installed version waiting to activate, or nil
func (r *Registration) Waiting() *Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiting
}

// ServeHTTP routes through the active version
func (r *Registration) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	active, latest := r.active, r.latest
	r.mu.RUnlock()

	switch {
	case active != nil:
		active.ServeHTTP(w, req)
	case latest != nil:
		latest.forward(w, req, latest.forwardStrategy(req))
	default:
		http.Error(w, ErrNoActive.Error(), http.StatusServiceUnavailable)
	}
}

// HandleMessage delivers msg to the waiting version, else the installing
// one, else the active one. A recognised SKIP_WAITING promotes the waiting
// version right away.
func (r *Registration) HandleMessage(ctx context.Context, msg Message) (bool, error) {
	r.mu.RLock()
	target := r.waiting
	if target == nil {
		target = r.installing
	}
	if target == nil {
		target = r.active
	}
	r.mu.RUnlock()

	if target == nil {
		return false, ErrNoActive
	}
	if !target.HandleMessage(msg) {
		return false, nil
	}
	return true, r.Reconcile(ctx)
}

// HandlePush dispatches a push to the active version
func (r *Registration) HandlePush(payload []byte) (*types.Notification, error) {
	active := r.Active()
	if active == nil {
		return nil, ErrNoActive
	}
	return active.HandlePush(payload), nil
}

// HandleNotificationClick dispatches a click to the active version
func (r *Registration) HandleNotificationClick(id, action string) error {
	active := r.Active()
	if active == nil {
		return ErrNoActive
	}
	return active.HandleNotificationClick(id, action)
}

// HandleSync dispatches a background sync to the active version
func (r *Registration) HandleSync(ctx context.Context, tag string) (bool, error) {
	active := r.Active()
	if active == nil {
		return false, ErrNoActive
	}
	return active.HandleSync(ctx, tag), nil
}

// VersionInfo describes one controller version
type VersionInfo struct {
	Version     string                 `json:"version"`
	State       lifecycle.State        `json:"state"`
	SkipWaiting bool                   `json:"skip_waiting"`
	ShellCache  string                 `json:"shell_cache"`
	APICache    string                 `json:"api_cache"`
	History     []lifecycle.Transition `json:"history,omitempty"`
}

// Snapshot is the registration state
type Snapshot struct {
	Installing *VersionInfo `json:"installing,omitempty"`
	Waiting    *VersionInfo `json:"waiting,omitempty"`
	Active     *VersionInfo `json:"active,omitempty"`
	Clients    int          `json:"clients"`
}

// Snapshot returns the current registration state
func (r *Registration) Snapshot() Snapshot {
	r.mu.RLock()
	installing, waiting, active := r.installing, r.waiting, r.active
	r.mu.RUnlock()

	return Snapshot{
		Installing: info(installing),
		Waiting:    info(waiting),
		Active:     info(active),
		Clients:    r.clients.Len(),
	}
}

func info(c *Controller) *VersionInfo {
	if c == nil {
		return nil
	}
	return &VersionInfo{
		Version:     c.Version(),
		State:       c.State(),
		SkipWaiting: c.SkippedWaiting(),
		ShellCache:  c.cfg.ShellCache,
		APICache:    c.cfg.APICache,
		History:     c.History(),
	}
}

// Release drops a client and lets a waiting version activate once the
// active one controls no more clients
func (r *Registration) Release(ctx context.Context, clientID string) (bool, error) {
	if !r.clients.Unregister(clientID) {
		return false, nil
	}
	if err := r.Reconcile(ctx); err != nil {
		logging.Error().Add(logging.ErrorField(err)).Msg("Activation after client release failed")
		return true, err
	}
	return true, nil
}
