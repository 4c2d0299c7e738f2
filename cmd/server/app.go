package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/unalkalkan/pdftools-offline/internal/api"
	"github.com/unalkalkan/pdftools-offline/internal/cachestore"
	"github.com/unalkalkan/pdftools-offline/internal/clients"
	"github.com/unalkalkan/pdftools-offline/internal/controller"
	"github.com/unalkalkan/pdftools-offline/internal/fetch"
	"github.com/unalkalkan/pdftools-offline/internal/health"
	"github.com/unalkalkan/pdftools-offline/internal/logging"
	"github.com/unalkalkan/pdftools-offline/internal/metrics"
	"github.com/unalkalkan/pdftools-offline/internal/notify"
	"github.com/unalkalkan/pdftools-offline/internal/storage"
	"github.com/unalkalkan/pdftools-offline/pkg/types"
)

// app holds the components shared by every controller version
type app struct {
	cfg *types.Config

	adapter     storage.Adapter
	caches      *cachestore.Storage
	upstream    *fetch.HTTPFetcher
	passthrough *fetch.HTTPFetcher
	clients     *clients.Registry
	notifier    *notify.Center
	metrics     *metrics.Metrics
	promReg     *prometheus.Registry
	reg         *controller.Registration
	health      *health.Handler
}

func newApp(cfg *types.Config) (*app, error) {
	adapter, err := storage.NewAdapter(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage adapter: %w", err)
	}

	a := &app{
		cfg:     cfg,
		adapter: adapter,
		caches:  cachestore.New(adapter),
	}

	if cfg.Metrics.Enabled {
		a.promReg = prometheus.NewRegistry()
		a.metrics = metrics.New(a.promReg)
	}

	timeout := time.Duration(cfg.Upstream.NetworkTimeout) * time.Millisecond
	a.upstream = fetch.NewHTTPFetcher(fetch.Options{
		Timeout:          timeout,
		BreakerEnabled:   cfg.Upstream.CircuitBreaker.Enabled,
		BreakerThreshold: cfg.Upstream.CircuitBreaker.Threshold,
		BreakerTimeout:   time.Duration(cfg.Upstream.CircuitBreaker.OpenTimeoutMs) * time.Millisecond,
	})
	// Cross-origin targets must not trip the upstream breaker
	a.passthrough = fetch.NewHTTPFetcher(fetch.Options{Timeout: timeout})

	a.clients = clients.NewRegistry(clients.WithOnChange(a.metrics.SetClients))
	a.notifier = notify.NewCenter(cfg.Controller.Notification, a.clients, a.metrics, cfg.Controller.RootPath)
	a.reg = controller.NewRegistration(a.clients)

	a.health = health.NewHandler(version)
	a.health.Register("storage", health.StorageCheck(adapter, cachestore.RootPrefix))
	a.health.Register("controller", health.ControllerCheck(func() string {
		if c := a.reg.Active(); c != nil {
			return c.Version()
		}
		return ""
	}))
	a.health.Register("upstream", health.BreakerCheck(a.upstream.BreakerState))

	return a, nil
}

// update registers a new controller version built from cfg and runs it
// through install and, when allowed, activation. The storage, fetchers and
// notification text of the running process are kept.
func (a *app) update(ctx context.Context, cfg *types.Config) error {
	if cfg.Storage.Adapter != a.cfg.Storage.Adapter {
		logging.Warn().
			Add(logging.Str("adapter", cfg.Storage.Adapter)).
			Msg("Storage adapter change requires a restart, keeping current adapter")
	}

	c, err := controller.New("", cfg.Controller, cfg.Upstream.URL, controller.Deps{
		Caches:      a.caches,
		Fetcher:     a.upstream,
		Passthrough: a.passthrough,
		Clients:     a.clients,
		Notifier:    a.notifier,
		Metrics:     a.metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}

	logging.Info().
		Add(logging.Version(c.Version())).
		Add(logging.Cache(cfg.Controller.ShellCache)).
		Add(logging.URL(cfg.Upstream.URL)).
		Msg("Registering controller")

	return a.reg.Update(ctx, c)
}

// handler routes the control API, health and metrics endpoints; everything
// else is intercepted by the registration
func (a *app) handler() http.Handler {
	mux := http.NewServeMux()

	prefix := strings.TrimSuffix(a.cfg.Controller.ControlPrefix, "/")
	control := api.NewControlHandler(a.reg, a.clients, a.notifier, a.caches)
	mux.Handle(prefix+"/", http.StripPrefix(prefix, control.Routes()))

	// Health endpoints
	mux.HandleFunc("/health/live", a.health.LivenessHandler())
	mux.HandleFunc("/health/ready", a.health.ReadinessHandler())
	mux.HandleFunc("/health", a.health.HealthHandler())

	if a.promReg != nil {
		mux.Handle(a.cfg.Metrics.Path, metrics.Handler(a.promReg))
	}

	mux.Handle("/", a.reg)
	return mux
}

func (a *app) Close() error {
	return a.adapter.Close()
}
