package server

import (
	"errors"
	"io/fs"
	"strconv"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/gochat-relay/internal/store"
)

const (
	defaultPort            = ":8080"
	defaultMaxMessageSize  = 4096
	defaultSendBufferSize  = 256
	defaultBurst           = 20
	defaultRefillInterval  = time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port            string
	AllowedOrigins  []string
	MaxMessageSize  int64
	SendBufferSize  int
	RateLimit       RateLimitConfig
	CloseSuperseded bool
	Store           store.Options
	SeedFile        string
	LogLevel        string
	LogFormat       string
	MetricsEnabled  bool
	ShutdownTimeout time.Duration
}

// envConfig is the raw environment view of Config.
type envConfig struct {
	Port             string        `env:"SERVER_PORT,default=:8080"`
	AllowedOrigins   string        `env:"ALLOWED_ORIGINS,default=http://localhost:8080"`
	MaxMessageSize   int64         `env:"MAX_MESSAGE_SIZE,default=4096"`
	SendBufferSize   int           `env:"SEND_BUFFER_SIZE,default=256"`
	RateLimitBurst   int           `env:"RATE_LIMIT_BURST,default=20"`
	RefillInterval   string        `env:"RATE_LIMIT_REFILL_INTERVAL,default=1s"`
	CloseSuperseded  bool          `env:"CLOSE_SUPERSEDED,default=true"`
	DirectoryBackend string        `env:"DIRECTORY_BACKEND,default=memory"`
	ArchiveBackend   string        `env:"ARCHIVE_BACKEND,default=memory"`
	SQLitePath       string        `env:"SQLITE_PATH,default=relay.db"`
	BadgerPath       string        `env:"BADGER_PATH,default=relay-archive"`
	SeedFile         string        `env:"SEED_FILE"`
	LogLevel         string        `env:"LOG_LEVEL,default=info"`
	LogFormat        string        `env:"LOG_FORMAT,default=json"`
	MetricsEnabled   bool          `env:"METRICS_ENABLED,default=true"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

func defaultConfig() Config {
	return Config{
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: defaultMaxMessageSize,
		SendBufferSize: defaultSendBufferSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultBurst,
			RefillInterval: defaultRefillInterval,
		},
		CloseSuperseded: true,
		Store: store.Options{
			Directory:  store.BackendMemory,
			Archive:    store.BackendMemory,
			SQLitePath: "relay.db",
			BadgerPath: "relay-archive",
		},
		LogLevel:        "info",
		LogFormat:       "json",
		MetricsEnabled:  true,
		ShutdownTimeout: defaultShutdownTimeout,
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv loads an optional .env file (or the given files) into the
// process environment, then decodes and sanitizes the configuration.
func NewConfigFromEnv(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Strs("files", files).Msg("could not load env file")
	}

	var raw envConfig
	if _, err := env.UnmarshalFromEnviron(&raw); err != nil {
		return nil, err
	}
	cfg := raw.config()
	return &cfg, nil
}

// configFromEnvSet decodes cfg from an explicit variable set.
func configFromEnvSet(es env.EnvSet) (Config, error) {
	var raw envConfig
	if err := env.Unmarshal(es, &raw); err != nil {
		return Config{}, err
	}
	return raw.config(), nil
}

func (e envConfig) config() Config {
	return sanitizeConfig(Config{
		Port:           e.Port,
		AllowedOrigins: parseOrigins(e.AllowedOrigins),
		MaxMessageSize: e.MaxMessageSize,
		SendBufferSize: e.SendBufferSize,
		RateLimit: RateLimitConfig{
			Burst:          e.RateLimitBurst,
			RefillInterval: parseRefillInterval(e.RefillInterval, defaultRefillInterval),
		},
		CloseSuperseded: e.CloseSuperseded,
		Store: store.Options{
			Directory:  strings.ToLower(strings.TrimSpace(e.DirectoryBackend)),
			Archive:    strings.ToLower(strings.TrimSpace(e.ArchiveBackend)),
			SQLitePath: e.SQLitePath,
			BadgerPath: e.BadgerPath,
		},
		SeedFile:        e.SeedFile,
		LogLevel:        e.LogLevel,
		LogFormat:       e.LogFormat,
		MetricsEnabled:  e.MetricsEnabled,
		ShutdownTimeout: e.ShutdownTimeout,
	})
}

// sanitizeConfig replaces zero or invalid values with defaults and
// normalizes the origin list.
func sanitizeConfig(cfg Config) Config {
	defaults := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = defaults.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = defaults.SendBufferSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaults.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaults.RateLimit.RefillInterval
	}
	if cfg.Store.Directory == "" {
		cfg.Store.Directory = defaults.Store.Directory
	}
	if cfg.Store.Archive == "" {
		cfg.Store.Archive = defaults.Store.Archive
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = defaults.Store.SQLitePath
	}
	if cfg.Store.BadgerPath == "" {
		cfg.Store.BadgerPath = defaults.Store.BadgerPath
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = defaults.LogFormat
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// parseRefillInterval accepts a Go duration ("500ms") or a whole number of seconds.
func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
