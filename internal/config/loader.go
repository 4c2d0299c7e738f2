package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/unalkalkan/pdftools-offline/pkg/types"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "PDFTOOLS_"

// DefaultManifest is the app shell cached at install time
var DefaultManifest = []string{
	"/",
	"/images-to-pdf",
	"/merge-pdf",
	"/compress-pdf",
	"/rotate-pdf",
	"/manifest.json",
	"/icons/icon-72x72.png",
	"/icons/icon-96x96.png",
	"/icons/icon-128x128.png",
	"/icons/icon-144x144.png",
	"/icons/icon-152x152.png",
	"/icons/icon-192x192.png",
	"/icons/icon-384x384.png",
	"/icons/icon-512x512.png",
}

// Load reads and parses the configuration file
// Values missing from the file keep their defaults; PDFTOOLS_ environment
// variables override both.
func Load(configPath string) (*types.Config, error) {
	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML on top of the defaults
	cfg := GetDefault()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply environment variable overrides
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	// Validate configuration
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func Validate(cfg *types.Config) error {
	// Validate server config
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	// Validate upstream
	u, err := url.Parse(cfg.Upstream.URL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("upstream url must be absolute: %q", cfg.Upstream.URL)
	}
	if cfg.Upstream.NetworkTimeout < 0 {
		return fmt.Errorf("invalid upstream network timeout: %d", cfg.Upstream.NetworkTimeout)
	}

	if err := validateStorage(&cfg.Storage); err != nil {
		return err
	}

	if err := validateController(&cfg.Controller); err != nil {
		return err
	}

	// Fill in defaults for optional values
	if cfg.Upstream.CircuitBreaker.Threshold <= 0 {
		cfg.Upstream.CircuitBreaker.Threshold = 5 // default
	}
	if cfg.Upstream.CircuitBreaker.OpenTimeoutMs <= 0 {
		cfg.Upstream.CircuitBreaker.OpenTimeoutMs = 30000 // default
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	return nil
}

func validateStorage(s *types.StorageConfig) error {
	switch s.Adapter {
	case "local":
		if s.Local.BasePath == "" {
			return fmt.Errorf("local storage base_path is required")
		}
		// Ensure base path is absolute
		if !filepath.IsAbs(s.Local.BasePath) {
			return fmt.Errorf("local storage base_path must be absolute: %s", s.Local.BasePath)
		}
	case "s3":
		if s.S3.Bucket == "" {
			return fmt.Errorf("s3 bucket is required")
		}
		if s.S3.Region == "" {
			return fmt.Errorf("s3 region is required")
		}
	case "badger":
		if !s.Badger.InMemory && s.Badger.Dir == "" {
			return fmt.Errorf("badger dir is required unless in_memory is set")
		}
	case "redis":
		if s.Redis.Address == "" {
			return fmt.Errorf("redis address is required")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid storage adapter: %s (must be 'local', 's3', 'badger', 'redis' or 'memory')", s.Adapter)
	}
	return nil
}

func validateController(c *types.ControllerConfig) error {
	if c.ShellCache == "" || c.APICache == "" {
		return fmt.Errorf("shell_cache and api_cache are required")
	}
	if c.ShellCache == c.APICache {
		return fmt.Errorf("shell_cache and api_cache must differ: %s", c.ShellCache)
	}
	for _, name := range []string{c.ShellCache, c.APICache} {
		if strings.ContainsAny(name, "/\\") {
			return fmt.Errorf("invalid cache name: %s", name)
		}
	}

	for _, p := range c.Manifest {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("manifest entry must be root-relative: %s", p)
		}
	}

	if c.Origin != "" {
		u, err := url.Parse(c.Origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid controller origin: %q", c.Origin)
		}
	}

	for _, o := range c.PassthroughOrigins {
		u, err := url.Parse(o)
		if err != nil || u.Scheme == "" || u.Host == "" || (u.Path != "" && u.Path != "/") {
			return fmt.Errorf("invalid passthrough origin: %q", o)
		}
	}

	if c.RootPath == "" {
		c.RootPath = "/"
	}
	if !strings.HasPrefix(c.RootPath, "/") {
		return fmt.Errorf("root_path must be root-relative: %s", c.RootPath)
	}
	if c.ControlPrefix == "" {
		c.ControlPrefix = "/__sw"
	}
	if c.MaxEntryBytes <= 0 {
		c.MaxEntryBytes = 32 << 20 // default
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides
// Environment variables should be prefixed with PDFTOOLS_
func applyEnvOverrides(cfg *types.Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return nil
}

// GetDefault returns a default configuration
func GetDefault() *types.Config {
	manifest := make([]string, len(DefaultManifest))
	copy(manifest, DefaultManifest)

	return &types.Config{
		Server: types.ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15,
			WriteTimeout: 0,
		},
		Upstream: types.UpstreamConfig{
			URL:            "http://127.0.0.1:5173",
			NetworkTimeout: 10000,
			CircuitBreaker: types.CircuitBreakerConfig{
				Enabled:       true,
				Threshold:     5,
				OpenTimeoutMs: 30000,
			},
		},
		Storage: types.StorageConfig{
			Adapter: "local",
			Local: types.LocalStorageOpts{
				BasePath: "/var/lib/pdftools/cache",
			},
		},
		Controller: types.ControllerConfig{
			ShellCache:    "pdftools-v2",
			APICache:      "pdftools-api-v1",
			Manifest:      manifest,
			RootPath:      "/",
			ControlPrefix: "/__sw",
			MaxEntryBytes: 32 << 20,
			Notification: types.NotificationConfig{
				Title:       "PDFTools",
				Body:        "PDFTools está pronto para usar!",
				Icon:        "/icons/icon-192x192.png",
				Badge:       "/icons/icon-96x96.png",
				Image:       "/icons/icon-384x384.png",
				Vibrate:     []int{100, 50, 100},
				ActionTitle: "Abrir App",
				ActionIcon:  "/icons/icon-96x96.png",
				MaxRetained: 20,
			},
		},
		Logging: types.LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: types.MetricsConfig{
			Enabled: false,
			Path:    "/metrics",
		},
	}
}
