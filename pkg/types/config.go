package types

// Config represents the overall application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server" envPrefix:"SERVER_"`
	Upstream   UpstreamConfig   `yaml:"upstream" json:"upstream" envPrefix:"UPSTREAM_"`
	Storage    StorageConfig    `yaml:"storage" json:"storage" envPrefix:"STORAGE_"`
	Controller ControllerConfig `yaml:"controller" json:"controller" envPrefix:"CONTROLLER_"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging" envPrefix:"LOG_"`
	Metrics    MetricsConfig    `yaml:"metrics" json:"metrics" envPrefix:"METRICS_"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string `yaml:"host" json:"host" env:"HOST"`
	Port         int    `yaml:"port" json:"port" env:"PORT"`
	ReadTimeout  int    `yaml:"read_timeout" json:"read_timeout" env:"READ_TIMEOUT"`    // seconds
	WriteTimeout int    `yaml:"write_timeout" json:"write_timeout" env:"WRITE_TIMEOUT"` // seconds, 0 keeps event streams open
}

// UpstreamConfig points at the application origin the controller fronts
type UpstreamConfig struct {
	URL            string               `yaml:"url" json:"url" env:"URL"`
	NetworkTimeout int                  `yaml:"network_timeout_ms" json:"network_timeout_ms" env:"NETWORK_TIMEOUT_MS"` // 0 disables
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker" envPrefix:"BREAKER_"`
}

// CircuitBreakerConfig configures fail-fast behaviour towards the upstream
type CircuitBreakerConfig struct {
	Enabled       bool `yaml:"enabled" json:"enabled" env:"ENABLED"`
	Threshold     int  `yaml:"threshold" json:"threshold" env:"THRESHOLD"`                // consecutive network failures
	OpenTimeoutMs int  `yaml:"open_timeout_ms" json:"open_timeout_ms" env:"OPEN_TIMEOUT_MS"` // time spent open before probing
}

// StorageConfig defines storage adapter settings
type StorageConfig struct {
	Adapter string            `yaml:"adapter" json:"adapter" env:"ADAPTER"` // "local", "s3", "badger", "redis" or "memory"
	Local   LocalStorageOpts  `yaml:"local" json:"local" envPrefix:"LOCAL_"`
	S3      S3StorageOpts     `yaml:"s3" json:"s3" envPrefix:"S3_"`
	Badger  BadgerStorageOpts `yaml:"badger" json:"badger" envPrefix:"BADGER_"`
	Redis   RedisStorageOpts  `yaml:"redis" json:"redis" envPrefix:"REDIS_"`
	Options map[string]string `yaml:"options" json:"options"` // Additional adapter-specific options
}

// LocalStorageOpts configures the local filesystem adapter
type LocalStorageOpts struct {
	BasePath string `yaml:"base_path" json:"base_path" env:"BASE_PATH"`
}

// S3StorageOpts configures the S3-compatible adapter
type S3StorageOpts struct {
	Endpoint        string `yaml:"endpoint" json:"endpoint" env:"ENDPOINT"`
	Region          string `yaml:"region" json:"region" env:"REGION"`
	Bucket          string `yaml:"bucket" json:"bucket" env:"BUCKET"`
	Prefix          string `yaml:"prefix" json:"prefix" env:"PREFIX"`
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" json:"secret_access_key" env:"SECRET_ACCESS_KEY"`
	UseSSL          bool   `yaml:"use_ssl" json:"use_ssl" env:"USE_SSL"`
}

// BadgerStorageOpts configures the embedded BadgerDB adapter
type BadgerStorageOpts struct {
	Dir      string `yaml:"dir" json:"dir" env:"DIR"`
	InMemory bool   `yaml:"in_memory" json:"in_memory" env:"IN_MEMORY"`
}

// RedisStorageOpts configures the Redis adapter
type RedisStorageOpts struct {
	Address   string `yaml:"address" json:"address" env:"ADDRESS"`
	Password  string `yaml:"password" json:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" json:"db" env:"DB"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix" env:"KEY_PREFIX"`
}

// ControllerConfig holds the caching policy of the offline cache controller
type ControllerConfig struct {
	// Origin is the scheme://host the controller considers same-origin.
	// Empty means the upstream origin.
	Origin        string   `yaml:"origin" json:"origin" env:"ORIGIN"`
	ShellCache    string   `yaml:"shell_cache" json:"shell_cache" env:"SHELL_CACHE"`
	APICache      string   `yaml:"api_cache" json:"api_cache" env:"API_CACHE"`
	Manifest      []string `yaml:"manifest" json:"manifest" env:"MANIFEST" envSeparator:","`
	RootPath      string   `yaml:"root_path" json:"root_path" env:"ROOT_PATH"`
	ControlPrefix string   `yaml:"control_prefix" json:"control_prefix" env:"CONTROL_PREFIX"`
	MaxEntryBytes int64    `yaml:"max_entry_bytes" json:"max_entry_bytes" env:"MAX_ENTRY_BYTES"`
	// PassthroughOrigins lists the scheme://host[:port] origins that
	// absolute-form cross-origin requests may be forwarded to. Requests for
	// any other origin are refused without a fetch.
	PassthroughOrigins []string           `yaml:"passthrough_origins" json:"passthrough_origins" env:"PASSTHROUGH_ORIGINS" envSeparator:","`
	Notification       NotificationConfig `yaml:"notification" json:"notification" envPrefix:"NOTIFICATION_"`
}

// NotificationConfig holds the fixed content shown on push
type NotificationConfig struct {
	Title       string `yaml:"title" json:"title" env:"TITLE"`
	Body        string `yaml:"body" json:"body" env:"BODY"`
	Icon        string `yaml:"icon" json:"icon" env:"ICON"`
	Badge       string `yaml:"badge" json:"badge" env:"BADGE"`
	Image       string `yaml:"image" json:"image" env:"IMAGE"`
	Vibrate     []int  `yaml:"vibrate" json:"vibrate" env:"VIBRATE" envSeparator:","`
	ActionTitle string `yaml:"action_title" json:"action_title" env:"ACTION_TITLE"`
	ActionIcon  string `yaml:"action_icon" json:"action_icon" env:"ACTION_ICON"`
	MaxRetained int    `yaml:"max_retained" json:"max_retained" env:"MAX_RETAINED"` // shown notifications kept, oldest closed first
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"LEVEL"`   // trace, debug, info, warn, error
	Format string `yaml:"format" json:"format" env:"FORMAT"` // json or console
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" json:"path" env:"PATH"`
}
