// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/pdf-relay/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config        string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host          string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port          int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel      string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	ByteCeiling   int64  `kong:"help='Maximum relayed body size in bytes (overrides config).',env='RELAY_BYTE_CEILING'"`
	TimeoutMs     int    `kong:"help='Upstream attempt timeout in milliseconds (overrides config).',env='RELAY_TIMEOUT_MS'"`
	AllowInternal bool   `kong:"help='Disable the internal network guard. Unsafe outside development.',env='RELAY_ALLOW_INTERNAL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Relay    RelayConfig    `toml:"relay"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Tracing  TracingConfig  `toml:"tracing"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// RelayConfig holds the relay limits and the network guard policy.
// Boolean pointers distinguish an explicit false from an omitted key.
type RelayConfig struct {
	BlockInternal    *bool  `toml:"block_internal"`
	ByteCeiling      int64  `toml:"byte_ceiling"`
	TimeoutMs        int    `toml:"timeout_ms"`
	UserAgent        string `toml:"user_agent"`
	MaxRedirects     int    `toml:"max_redirects"`
	RecheckRedirects *bool  `toml:"recheck_redirects"`
	CheckResolvedIP  bool   `toml:"check_resolved_ip"`
	SniffContentType bool   `toml:"sniff_content_type"`
}

// UpstreamConfig holds outbound connection pool settings.
type UpstreamConfig struct {
	IdleConnections int `toml:"idle_connections"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// TracingConfig holds OpenTelemetry exporter settings.
type TracingConfig struct {
	Enabled     bool   `toml:"enabled"`
	Endpoint    string `toml:"endpoint"`
	Insecure    bool   `toml:"insecure"`
	ServiceName string `toml:"service_name"`
}

const (
	DefaultByteCeiling  = 40 * 1024 * 1024 // 40 MiB
	DefaultTimeoutMs    = 30_000
	DefaultUserAgent    = "Mozilla/5.0 (compatible; pdf-relay-go/1.0)"
	DefaultMaxRedirects = 10
)

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/pdf-relay/config.toml then configs/config.toml, and falls back to
// built-in defaults if neither exists.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.ByteCeiling != 0 {
		c.Relay.ByteCeiling = cli.ByteCeiling
	}
	if cli.TimeoutMs != 0 {
		c.Relay.TimeoutMs = cli.TimeoutMs
	}
	if cli.AllowInternal {
		off := false
		c.Relay.BlockInternal = &off
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Relay.ByteCeiling < 0 {
		return fmt.Errorf("relay.byte_ceiling must be non-negative; got %d", c.Relay.ByteCeiling)
	}
	if c.Relay.TimeoutMs < 0 {
		return fmt.Errorf("relay.timeout_ms must be non-negative; got %d", c.Relay.TimeoutMs)
	}
	if c.Relay.MaxRedirects < 0 {
		return fmt.Errorf("relay.max_redirects must be non-negative; got %d", c.Relay.MaxRedirects)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if strings.ContainsAny(c.Relay.UserAgent, "\r\n") {
		return errors.New("relay.user_agent must not contain line breaks")
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/api", "/healthz", "/relay/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return errors.New("tracing.endpoint is required when tracing is enabled")
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, ByteCeiling, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1024 * 1024 // 1 MB
	}
	if c.Relay.BlockInternal == nil {
		on := true
		c.Relay.BlockInternal = &on
	}
	if c.Relay.RecheckRedirects == nil {
		on := true
		c.Relay.RecheckRedirects = &on
	}
	if c.Relay.ByteCeiling == 0 {
		c.Relay.ByteCeiling = DefaultByteCeiling
	}
	if c.Relay.TimeoutMs == 0 {
		c.Relay.TimeoutMs = DefaultTimeoutMs
	}
	if c.Relay.UserAgent == "" {
		c.Relay.UserAgent = DefaultUserAgent
	}
	if c.Relay.MaxRedirects == 0 {
		c.Relay.MaxRedirects = DefaultMaxRedirects
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "pdf-relay"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		} else if !errors.Is(err, fs.ErrNotExist) {
			// Unreadable candidates are still returned so Load reports the real error.
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// InternalBlockEnabled reports whether the network guard is active.
// An unset value counts as enabled.
func (c *RelayConfig) InternalBlockEnabled() bool {
	return c.BlockInternal == nil || *c.BlockInternal
}

// RecheckRedirectsEnabled reports whether redirect targets pass the guard again.
func (c *RelayConfig) RecheckRedirectsEnabled() bool {
	return c.RecheckRedirects == nil || *c.RecheckRedirects
}

// Timeout returns the upstream attempt timeout, defaulting to 30s when unset.
func (c *RelayConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return DefaultTimeoutMs * time.Millisecond
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Ceiling returns the byte ceiling, defaulting to 40 MiB when unset.
func (c *RelayConfig) Ceiling() int64 {
	if c.ByteCeiling <= 0 {
		return DefaultByteCeiling
	}
	return c.ByteCeiling
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
