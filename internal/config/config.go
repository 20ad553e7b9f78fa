// Package config loads mapsync configuration from defaults, an optional file
// and the environment, in that order of priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment names the deployment environment
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
	Test        Environment = "test"
)

// Store drivers
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverSupabase = "supabase"
)

// Duration is a time.Duration written as "500ms" or "2s" in config files
type Duration time.Duration

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for JSON and TOML
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(v)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// Config is the complete application configuration
type Config struct {
	Environment Environment     `yaml:"environment" json:"environment" toml:"environment" validate:"required,oneof=development staging production test"`
	Server      ServerConfig    `yaml:"server" json:"server" toml:"server"`
	Store       StoreConfig     `yaml:"store" json:"store" toml:"store"`
	Sync        SyncConfig      `yaml:"sync" json:"sync" toml:"sync"`
	Breaker     BreakerConfig   `yaml:"breaker" json:"breaker" toml:"breaker"`
	Auth        AuthConfig      `yaml:"auth" json:"auth" toml:"auth"`
	Tracing     TracingConfig   `yaml:"tracing" json:"tracing" toml:"tracing"`
	WebSocket   WebSocketConfig `yaml:"websocket" json:"websocket" toml:"websocket"`
	Log         LogConfig       `yaml:"log" json:"log" toml:"log"`

	// LoadedFrom lists the sources applied, lowest priority first
	LoadedFrom []string `yaml:"-" json:"-" toml:"-"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Address         string   `yaml:"address" json:"address" toml:"address" validate:"required"`
	ReadTimeout     Duration `yaml:"read_timeout" json:"read_timeout" toml:"read_timeout" validate:"gt=0"`
	WriteTimeout    Duration `yaml:"write_timeout" json:"write_timeout" toml:"write_timeout" validate:"gt=0"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" toml:"shutdown_timeout" validate:"gt=0"`
	AllowedOrigins  []string `yaml:"allowed_origins" json:"allowed_origins" toml:"allowed_origins"`
	EnableMetrics   bool     `yaml:"enable_metrics" json:"enable_metrics" toml:"enable_metrics"`
}

// StoreConfig selects and configures the shared store
type StoreConfig struct {
	Driver      string `yaml:"driver" json:"driver" toml:"driver" validate:"required,oneof=memory sqlite supabase"`
	SQLitePath  string `yaml:"sqlite_path" json:"sqlite_path" toml:"sqlite_path"`
	SupabaseURL string `yaml:"supabase_url" json:"supabase_url" toml:"supabase_url" validate:"omitempty,url"`
	SupabaseKey string `yaml:"supabase_key" json:"supabase_key" toml:"supabase_key"`
}

// SyncConfig tunes the persistence synchronizer
type SyncConfig struct {
	DebounceWindow Duration    `yaml:"debounce_window" json:"debounce_window" toml:"debounce_window" validate:"gt=0"`
	WriteTimeout   Duration    `yaml:"write_timeout" json:"write_timeout" toml:"write_timeout" validate:"gt=0"`
	IDStrategy     string      `yaml:"id_strategy" json:"id_strategy" toml:"id_strategy" validate:"omitempty,oneof=uuid ulid"`
	Retry          RetryConfig `yaml:"retry" json:"retry" toml:"retry"`
}

// RetryConfig is the backoff policy for failed snapshot writes
type RetryConfig struct {
	InitialInterval Duration `yaml:"initial_interval" json:"initial_interval" toml:"initial_interval" validate:"gt=0"`
	MaxInterval     Duration `yaml:"max_interval" json:"max_interval" toml:"max_interval" validate:"gtefield=InitialInterval"`
	Multiplier      float64  `yaml:"multiplier" json:"multiplier" toml:"multiplier" validate:"gte=1"`
	MaxAttempts     uint     `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts" validate:"gte=1"`
	MaxElapsed      Duration `yaml:"max_elapsed" json:"max_elapsed" toml:"max_elapsed" validate:"gte=0"`
}

// BreakerConfig configures the store circuit breaker
type BreakerConfig struct {
	Enabled          bool     `yaml:"enabled" json:"enabled" toml:"enabled"`
	MaxRequests      uint32   `yaml:"max_requests" json:"max_requests" toml:"max_requests" validate:"gte=1"`
	Interval         Duration `yaml:"interval" json:"interval" toml:"interval" validate:"gte=0"`
	Timeout          Duration `yaml:"timeout" json:"timeout" toml:"timeout" validate:"gt=0"`
	FailureThreshold float64  `yaml:"failure_threshold" json:"failure_threshold" toml:"failure_threshold" validate:"gt=0,lte=1"`
	MinRequests      uint32   `yaml:"min_requests" json:"min_requests" toml:"min_requests"`
}

// AuthConfig configures bearer token verification on the HTTP surface
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	JWTSecret string `yaml:"jwt_secret" json:"jwt_secret" toml:"jwt_secret"`
	Issuer    string `yaml:"issuer" json:"issuer" toml:"issuer"`
}

// TracingConfig configures OTLP trace export; an empty endpoint disables it
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint" json:"endpoint" toml:"endpoint"`
	ServiceName string  `yaml:"service_name" json:"service_name" toml:"service_name" validate:"required"`
	SampleRatio float64 `yaml:"sample_ratio" json:"sample_ratio" toml:"sample_ratio" validate:"gte=0,lte=1"`
}

// WebSocketConfig configures the canvas websocket
type WebSocketConfig struct {
	MaxConnectionsPerMap int      `yaml:"max_connections_per_map" json:"max_connections_per_map" toml:"max_connections_per_map" validate:"gte=1"`
	WriteWait            Duration `yaml:"write_wait" json:"write_wait" toml:"write_wait" validate:"gt=0"`
	PongWait             Duration `yaml:"pong_wait" json:"pong_wait" toml:"pong_wait" validate:"gt=0"`
	MaxMessageSize       int64    `yaml:"max_message_size" json:"max_message_size" toml:"max_message_size" validate:"gt=0"`
}

// LogConfig configures logging
type LogConfig struct {
	Level string `yaml:"level" json:"level" toml:"level" validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Environment: Development,
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(15 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
			AllowedOrigins:  []string{"*"},
			EnableMetrics:   true,
		},
		Store: StoreConfig{
			Driver:     DriverMemory,
			SQLitePath: "data/mapsync.db",
		},
		Sync: SyncConfig{
			DebounceWindow: Duration(500 * time.Millisecond),
			WriteTimeout:   Duration(10 * time.Second),
			IDStrategy:     "uuid",
			Retry: RetryConfig{
				InitialInterval: Duration(250 * time.Millisecond),
				MaxInterval:     Duration(5 * time.Second),
				Multiplier:      2,
				MaxAttempts:     5,
				MaxElapsed:      Duration(30 * time.Second),
			},
		},
		Breaker: BreakerConfig{
			Enabled:          true,
			MaxRequests:      5,
			Interval:         Duration(30 * time.Second),
			Timeout:          Duration(30 * time.Second),
			FailureThreshold: 0.6,
			MinRequests:      5,
		},
		Tracing: TracingConfig{
			ServiceName: "mapsync",
			SampleRatio: 1,
		},
		WebSocket: WebSocketConfig{
			MaxConnectionsPerMap: 16,
			WriteWait:            Duration(10 * time.Second),
			PongWait:             Duration(60 * time.Second),
			MaxMessageSize:       512 * 1024,
		},
		Log: LogConfig{Level: "info"},
	}
}

var validate = validator.New()

// Validate checks struct tags and the rules that span several fields
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed '%s'", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	switch c.Store.Driver {
	case DriverSupabase:
		if c.Store.SupabaseURL == "" || c.Store.SupabaseKey == "" {
			return errors.New("supabase store requires SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY")
		}
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("sqlite store requires a database path")
		}
	}

	if c.Auth.Enabled && len(c.Auth.JWTSecret) < 16 {
		return errors.New("auth requires a JWT secret of at least 16 characters")
	}
	if c.Sync.WriteTimeout < c.Sync.DebounceWindow {
		return errors.New("sync write timeout must not be shorter than the debounce window")
	}
	return nil
}

// IsProduction reports whether the config targets production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// Dynamic is the part of the config that can change while running
type Dynamic struct {
	LogLevel       string
	DebounceWindow time.Duration
}

// Dynamic extracts the live-reloadable settings
func (c *Config) Dynamic() Dynamic {
	return Dynamic{
		LogLevel:       c.Log.Level,
		DebounceWindow: c.Sync.DebounceWindow.Std(),
	}
}
