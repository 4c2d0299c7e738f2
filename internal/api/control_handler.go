package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/unalkalkan/pdftools-offline/internal/cachestore"
	"github.com/unalkalkan/pdftools-offline/internal/clients"
	"github.com/unalkalkan/pdftools-offline/internal/controller"
	"github.com/unalkalkan/pdftools-offline/internal/logging"
	"github.com/unalkalkan/pdftools-offline/internal/notify"
	"github.com/unalkalkan/pdftools-offline/pkg/types"
)

// maxPushPayload bounds the push body read; the payload is not interpreted
const maxPushPayload = 64 << 10

// ControlHandler serves the page-facing control API: messages, push,
// notification clicks, background sync and client registration
type ControlHandler struct {
	reg      *controller.Registration
	clients  *clients.Registry
	notifier *notify.Center
	caches   *cachestore.Storage
}

// NewControlHandler creates a new control handler
func NewControlHandler(reg *controller.Registration, registry *clients.Registry, notifier *notify.Center, caches *cachestore.Storage) *ControlHandler {
	return &ControlHandler{
		reg:      reg,
		clients:  registry,
		notifier: notifier,
		caches:   caches,
	}
}

// Routes returns the control API router, to be mounted under the control
// prefix
func (h *ControlHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Post("/message", h.PostMessage)
	r.Post("/push", h.Push)
	r.Post("/notificationclick", h.NotificationClick)
	r.Post("/sync", h.Sync)
	r.Get("/notifications", h.ListNotifications)
	r.Get("/state", h.State)

	r.Route("/clients", func(r chi.Router) {
		r.Get("/", h.ListClients)
		r.Post("/", h.RegisterClient)
		r.Delete("/{id}", h.UnregisterClient)
		r.Get("/{id}/events", h.ClientEvents)
	})

	return r
}

// PostMessage handles POST /message
func (h *ControlHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var msg controller.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		// Malformed messages are ignored like unknown ones
		respondJSON(w, map[string]bool{"handled": false}, http.StatusAccepted)
		return
	}

	handled, err := h.reg.HandleMessage(r.Context(), msg)
	if err != nil {
		if errors.Is(err, controller.ErrNoActive) {
			respondError(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		respondError(w, "Failed to handle message", http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]bool{"handled": handled}, http.StatusAccepted)
}

// Push handles POST /push
func (h *ControlHandler) Push(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPushPayload))
	if err != nil {
		respondError(w, "Failed to read push payload", http.StatusBadRequest)
		return
	}

	n, err := h.reg.HandlePush(payload)
	if err != nil {
		respondError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	respondJSON(w, n, http.StatusCreated)
}

// NotificationClickRequest is the body of POST /notificationclick
type NotificationClickRequest struct {
	ID     string `json:"id"`
	Action string `json:"action"`
}

// NotificationClick handles POST /notificationclick
func (h *ControlHandler) NotificationClick(w http.ResponseWriter, r *http.Request) {
	var req NotificationClickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	err := h.reg.HandleNotificationClick(req.ID, req.Action)
	switch {
	case err == nil:
		respondJSON(w, map[string]bool{"closed": true}, http.StatusOK)
	case errors.Is(err, notify.ErrNotFound):
		respondError(w, "Notification not found", http.StatusNotFound)
	case errors.Is(err, controller.ErrNoActive):
		respondError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		respondError(w, "Failed to handle click", http.StatusInternalServerError)
	}
}

// SyncRequest is the body of POST /sync
type SyncRequest struct {
	Tag string `json:"tag"`
}

// Sync handles POST /sync
func (h *ControlHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	handled, err := h.reg.HandleSync(r.Context(), req.Tag)
	if err != nil {
		respondError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	respondJSON(w, map[string]bool{"handled": handled}, http.StatusOK)
}

// ListNotifications handles GET /notifications
func (h *ControlHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	list := h.notifier.List()
	respondJSON(w, map[string]interface{}{
		"notifications": list,
		"count":         len(list),
	}, http.StatusOK)
}

// StateResponse describes the controller registration and its caches
type StateResponse struct {
	controller.Snapshot
	Generations []types.GenerationInfo `json:"generations"`
}

// State handles GET /state
func (h *ControlHandler) State(w http.ResponseWriter, r *http.Request) {
	generations, err := h.caches.Generations(r.Context())
	if err != nil {
		respondError(w, "Failed to list caches", http.StatusInternalServerError)
		return
	}

	respondJSON(w, StateResponse{
		Snapshot:    h.reg.Snapshot(),
		Generations: generations,
	}, http.StatusOK)
}

// RegisterClientRequest is the body of POST /clients
type RegisterClientRequest struct {
	URL string `json:"url"`
}

// RegisterClient handles POST /clients
func (h *ControlHandler) RegisterClient(w http.ResponseWriter, r *http.Request) {
	var req RegisterClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		req.URL = "/"
	}

	// A page that loads while a version is active is controlled by it
	version := ""
	if active := h.reg.Active(); active != nil {
		version = active.Version()
	}

	c := h.clients.Register(req.URL, version)
	info, _ := h.clients.Info(c.ID())
	respondJSON(w, info, http.StatusCreated)
}

// ListClients handles GET /clients
func (h *ControlHandler) ListClients(w http.ResponseWriter, r *http.Request) {
	list := h.clients.List()
	respondJSON(w, map[string]interface{}{
		"clients": list,
		"count":   len(list),
	}, http.StatusOK)
}

// UnregisterClient handles DELETE /clients/{id}
func (h *ControlHandler) UnregisterClient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	released, err := h.reg.Release(r.Context(), id)
	if !released {
		respondError(w, "Client not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logging.Warn().Add(logging.Str("client", id)).Add(logging.ErrorField(err)).Msg("Client released with activation error")
	}

	w.WriteHeader(http.StatusNoContent)
}

// ClientEvents handles GET /clients/{id}/events, streaming NDJSON until
// the client disconnects or is unregistered
func (h *ControlHandler) ClientEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, ok := h.clients.Get(id)
	if !ok {
		respondError(w, "Client not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	flush := func() {
		if err := rc.Flush(); err != nil {
			logging.Debug().Add(logging.Str("client", id)).Add(logging.ErrorField(err)).Msg("Flush not supported")
		}
	}
	flush()

	if err := clients.Stream(r.Context(), w, flush, c); err != nil {
		logging.Debug().Add(logging.Str("client", id)).Add(logging.ErrorField(err)).Msg("Client event stream closed")
	}
}

// requestLogger logs every control request with its status and duration
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logging.Debug().
			Add(logging.Str("request_id", middleware.GetReqID(r.Context()))).
			Add(logging.Method(r.Method)).
			Add(logging.URL(r.URL.Path)).
			Add(logging.Status(ww.Status())).
			Add(logging.Duration(time.Since(start))).
			Msg("Control request")
	})
}
