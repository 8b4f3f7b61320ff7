// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/service-gateway/config.toml",
	"configs/config.toml",
}

// defaultBackends is the reference deployment used when the config declares none.
var defaultBackends = []BackendConfig{
	{Name: "users", Prefix: "/users"},
	{Name: "orders", Prefix: "/orders"},
	{Name: "payments", Prefix: "/payments"},
}

// Local routes that a backend prefix may not shadow.
const (
	HealthPath = "/healthz"
	StatusPath = "/gateway/status"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config         string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host           string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port           int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel       string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	TimeoutSeconds int    `kong:"help='Upstream call timeout in seconds (overrides config).',env='UPSTREAM_TIMEOUT_SECONDS'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig    `toml:"server"`
	Upstream UpstreamConfig  `toml:"upstream"`
	Log      LogConfig       `toml:"log"`
	Metrics  MetricsConfig   `toml:"metrics"`
	Backends []BackendConfig `toml:"backends"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"` // 0 means "use default" (8080); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64  `toml:"body_max_bytes"`
}

// UpstreamConfig holds settings of the shared outbound client.
type UpstreamConfig struct {
	TimeoutSeconds  int `toml:"timeout_seconds"`
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

// BackendConfig is one row of the routing table.
type BackendConfig struct {
	Name    string `toml:"name"`
	Prefix  string `toml:"prefix"`
	BaseURL string `toml:"base_url"`
	// Env names the variable that overrides BaseURL; defaults to NAME_BASE_URL.
	Env string `toml:"env"`
	// UpstreamPath is appended to BaseURL; nil keeps the prefix on the upstream side.
	UpstreamPath *string  `toml:"upstream_path"`
	Methods      []string `toml:"methods"`
}

// Load reads the TOML config file, applies environment and CLI overrides,
// validates the result and fills defaults.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/service-gateway/config.toml then configs/config.toml and falls back to
// built-in defaults when neither exists.
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

	// Defaults go first for backends so env overrides and validation see the
	// final base URLs.
	cfg.setBackendDefaults()
	cfg.applyEnv(os.LookupEnv)

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
	if cli.TimeoutSeconds != 0 {
		c.Upstream.TimeoutSeconds = cli.TimeoutSeconds
	}
}

// applyEnv overrides backend base URLs from their environment variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	for i := range c.Backends {
		b := &c.Backends[i]
		if v, ok := lookup(b.Env); ok && v != "" {
			b.BaseURL = v
		}
	}
}

func (c *Config) setBackendDefaults() {
	if len(c.Backends) == 0 {
		c.Backends = make([]BackendConfig, len(defaultBackends))
		copy(c.Backends, defaultBackends)
	}
	for i := range c.Backends {
		b := &c.Backends[i]
		if b.Env == "" && b.Name != "" {
			b.Env = strings.ToUpper(strings.ReplaceAll(b.Name, "-", "_")) + "_BASE_URL"
		}
		if b.BaseURL == "" && b.Name != "" {
			b.BaseURL = fmt.Sprintf("http://%s:8080", b.Name)
		}
		for j, m := range b.Methods {
			b.Methods[j] = strings.ToUpper(m)
		}
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
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
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

	reserved := []string{HealthPath, StatusPath}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, r := range reserved {
			if p == r || strings.HasPrefix(p, r+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, r)
			}
		}
	}
	if c.Metrics.Enabled {
		reserved = append(reserved, c.MetricsPath())
	}

	return c.validateBackends(reserved)
}

func (c *Config) validateBackends(reserved []string) error {
	names := make(map[string]bool, len(c.Backends))
	prefixes := make(map[string]string, len(c.Backends))
	var errs []error

	for i := range c.Backends {
		b := &c.Backends[i]
		if err := b.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("backends[%d]: %w", i, err))
			continue
		}
		if names[b.Name] {
			errs = append(errs, fmt.Errorf("backends[%d]: duplicate name %q", i, b.Name))
		}
		names[b.Name] = true

		if other, ok := prefixes[b.Prefix]; ok {
			errs = append(errs, fmt.Errorf("backends[%d]: prefix %q already used by %q", i, b.Prefix, other))
		}
		prefixes[b.Prefix] = b.Name

		for _, r := range reserved {
			if r == b.Prefix || (b.Prefix != "/" && strings.HasPrefix(r, strings.TrimSuffix(b.Prefix, "/")+"/")) {
				errs = append(errs, fmt.Errorf("backends[%d]: prefix %q shadows local route %q", i, b.Prefix, r))
			}
		}
	}

	return errors.Join(errs...)
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 15
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
}

// MetricsPath returns the configured metrics path or the default.
func (c *Config) MetricsPath() string {
	if c.Metrics.Path == "" {
		return "/metrics"
	}
	return c.Metrics.Path
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
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// UpstreamBase returns the backend base address with the upstream path applied.
// Without an explicit upstream_path the prefix is kept, so /users/1 is
// forwarded to BaseURL + /users/1.
func (b *BackendConfig) UpstreamBase() string {
	base := strings.TrimSuffix(b.BaseURL, "/")
	path := strings.TrimSuffix(b.Prefix, "/")
	if b.UpstreamPath != nil {
		path = strings.TrimSuffix(*b.UpstreamPath, "/")
	}
	return base + path
}

// FilePath returns the config file the settings were read from, if any.
func (c *Config) FilePath() string {
	return c.filePath
}

// WarnPermissions logs a warning if the config file is writable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		logger.Info("no config file found, using built-in defaults")
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o022 != 0 {
		logger.Warn("config file is writable by group/others; routing table could be altered",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}

func validBaseURL(value any) error {
	s, _ := value.(string)
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https; got %q", s)
	}
	if u.Host == "" {
		return fmt.Errorf("must include a host; got %q", s)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("must not carry a query or fragment; got %q", s)
	}
	return nil
}
