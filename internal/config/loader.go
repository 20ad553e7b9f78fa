package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// FileLoader decodes one configuration file format
type FileLoader interface {
	Load(reader io.Reader, target interface{}) error
	Extensions() []string
}

// YAMLLoader decodes .yaml and .yml files
type YAMLLoader struct{}

func (YAMLLoader) Load(reader io.Reader, target interface{}) error {
	err := yaml.NewDecoder(reader).Decode(target)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (YAMLLoader) Extensions() []string { return []string{".yaml", ".yml"} }

// JSONLoader decodes .json files
type JSONLoader struct{}

func (JSONLoader) Load(reader io.Reader, target interface{}) error {
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	return dec.Decode(target)
}

func (JSONLoader) Extensions() []string { return []string{".json"} }

// TOMLLoader decodes .toml files
type TOMLLoader struct{}

func (TOMLLoader) Load(reader io.Reader, target interface{}) error {
	_, err := toml.NewDecoder(reader).Decode(target)
	return err
}

func (TOMLLoader) Extensions() []string { return []string{".toml"} }

// Loader layers defaults, an optional file and environment variables
type Loader struct {
	fileLoaders map[string]FileLoader
	getenv      func(string) string
}

// NewLoader creates a loader that reads the process environment
func NewLoader() *Loader {
	l := &Loader{
		fileLoaders: make(map[string]FileLoader),
		getenv:      os.Getenv,
	}
	l.RegisterLoader(YAMLLoader{})
	l.RegisterLoader(JSONLoader{})
	l.RegisterLoader(TOMLLoader{})
	return l
}

// WithEnv replaces the environment lookup, for tests
func (l *Loader) WithEnv(getenv func(string) string) *Loader {
	l.getenv = getenv
	return l
}

// RegisterLoader registers a loader for each of its extensions
func (l *Loader) RegisterLoader(loader FileLoader) {
	for _, ext := range loader.Extensions() {
		l.fileLoaders[ext] = loader
	}
}

// Load builds the configuration. An empty path skips the file layer; a path
// that does not exist is an error.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := Default()
	cfg.LoadedFrom = append(cfg.LoadedFrom, "defaults")

	if path != "" {
		if err := l.LoadFile(path, cfg); err != nil {
			return nil, err
		}
		cfg.LoadedFrom = append(cfg.LoadedFrom, path)
	}

	if err := l.applyEnvironment(cfg); err != nil {
		return nil, err
	}
	cfg.LoadedFrom = append(cfg.LoadedFrom, "environment")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadFile decodes path over cfg using the loader registered for its extension
func (l *Loader) LoadFile(path string, cfg *Config) error {
	ext := strings.ToLower(filepath.Ext(path))
	loader, ok := l.fileLoaders[ext]
	if !ok {
		return fmt.Errorf("unsupported config file format %q", ext)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	if err := loader.Load(file, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// env returns the first non-empty value among names
func (l *Loader) env(names ...string) string {
	for _, name := range names {
		if v := l.getenv(name); v != "" {
			return v
		}
	}
	return ""
}

func (l *Loader) applyEnvironment(cfg *Config) error {
	var errs []error

	str := func(target *string, names ...string) {
		if v := l.env(names...); v != "" {
			*target = v
		}
	}
	dur := func(target *Duration, names ...string) {
		if v := l.env(names...); v != "" {
			var d Duration
			if err := d.UnmarshalText([]byte(v)); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", names[0], err))
				return
			}
			*target = d
		}
	}
	boolean := func(target *bool, names ...string) {
		if v := l.env(names...); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid boolean %q", names[0], v))
				return
			}
			*target = b
		}
	}
	integer := func(target *int, names ...string) {
		if v := l.env(names...); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid integer %q", names[0], v))
				return
			}
			*target = n
		}
	}

	var env string
	str(&env, "MAPSYNC_ENVIRONMENT", "ENVIRONMENT")
	if env != "" {
		cfg.Environment = Environment(strings.ToLower(env))
	}

	str(&cfg.Server.Address, "MAPSYNC_SERVER_ADDRESS", "SERVER_ADDRESS")
	if v := l.env("MAPSYNC_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	boolean(&cfg.Server.EnableMetrics, "MAPSYNC_ENABLE_METRICS", "ENABLE_METRICS")

	str(&cfg.Store.Driver, "MAPSYNC_STORE_DRIVER")
	str(&cfg.Store.SQLitePath, "MAPSYNC_SQLITE_PATH")
	str(&cfg.Store.SupabaseURL, "MAPSYNC_SUPABASE_URL", "SUPABASE_URL")
	str(&cfg.Store.SupabaseKey, "MAPSYNC_SUPABASE_KEY", "SUPABASE_SERVICE_ROLE_KEY")

	dur(&cfg.Sync.DebounceWindow, "MAPSYNC_SYNC_DEBOUNCE_WINDOW")
	dur(&cfg.Sync.WriteTimeout, "MAPSYNC_SYNC_WRITE_TIMEOUT")
	str(&cfg.Sync.IDStrategy, "MAPSYNC_SYNC_ID_STRATEGY")
	dur(&cfg.Sync.Retry.InitialInterval, "MAPSYNC_SYNC_RETRY_INITIAL_INTERVAL")
	dur(&cfg.Sync.Retry.MaxInterval, "MAPSYNC_SYNC_RETRY_MAX_INTERVAL")
	dur(&cfg.Sync.Retry.MaxElapsed, "MAPSYNC_SYNC_RETRY_MAX_ELAPSED")
	var attempts int
	integer(&attempts, "MAPSYNC_SYNC_RETRY_MAX_ATTEMPTS")
	if attempts > 0 {
		cfg.Sync.Retry.MaxAttempts = uint(attempts)
	}

	boolean(&cfg.Breaker.Enabled, "MAPSYNC_BREAKER_ENABLED")

	boolean(&cfg.Auth.Enabled, "MAPSYNC_AUTH_ENABLED", "ENABLE_AUTH")
	str(&cfg.Auth.JWTSecret, "MAPSYNC_JWT_SECRET", "JWT_SECRET")
	str(&cfg.Auth.Issuer, "MAPSYNC_JWT_ISSUER", "JWT_ISSUER")

	str(&cfg.Tracing.Endpoint, "MAPSYNC_TRACING_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")

	integer(&cfg.WebSocket.MaxConnectionsPerMap, "MAPSYNC_WEBSOCKET_MAX_CONNECTIONS_PER_MAP")

	str(&cfg.Log.Level, "MAPSYNC_LOG_LEVEL", "LOG_LEVEL")
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load is a convenience for NewLoader().Load(path)
func Load(path string) (*Config, error) {
	return NewLoader().Load(path)
}

