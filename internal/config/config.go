// Package config handles loading and validating Kivuli configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jkaninda/kivuli/internal/sandbox"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Kivuli.
type Config struct {
	Workspace     string               `json:"workspace,omitempty" yaml:"workspace,omitempty"`     // Workspace root. Default: ~/.kivuli/workspace. Override: KIVULI_WORKSPACE env var.
	RuntimeDir    string               `json:"runtime_dir,omitempty" yaml:"runtime_dir,omitempty"` // Directory holding deno/runner.ts and vendor/pyodide. Default: <workspace>/runtime.
	Sandbox       SandboxConfig        `json:"sandbox" yaml:"sandbox"`
	Server        *ServerConfig        `json:"server,omitempty" yaml:"server,omitempty"`               // nil = HTTP gateway disabled
	History       *HistoryConfig       `json:"history,omitempty" yaml:"history,omitempty"`             // nil = execution history disabled
	Maintenance   *MaintenanceConfig   `json:"maintenance,omitempty" yaml:"maintenance,omitempty"`     // nil = background maintenance disabled
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
}

// SandboxConfig configures the Deno + Pyodide worker and per-request defaults.
type SandboxConfig struct {
	Deno           string `json:"deno,omitempty" yaml:"deno,omitempty"`                         // Deno binary. Default: "deno" from PATH. Override: KIVULI_DENO env var.
	TimeoutMS      int    `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`             // Default execution timeout. Default: 30000.
	MemoryMB       int    `json:"memory_mb,omitempty" yaml:"memory_mb,omitempty"`               // Default V8 heap ceiling. Default: 512.
	MaxOutputChars int    `json:"max_output_chars,omitempty" yaml:"max_output_chars,omitempty"` // Truncation limit per output field. Default: 12000.
	AllowNet       bool   `json:"allow_net" yaml:"allow_net"`                                   // Grant network access to sandboxed code. Default: false.
}

// ServerConfig configures the HTTP API gateway.
type ServerConfig struct {
	ListenAddr string   `json:"listen_addr" yaml:"listen_addr"`                 // Default: ":8080".
	APIKeys    []string `json:"api_keys,omitempty" yaml:"api_keys,omitempty"`   // Bearer keys. Empty = unauthenticated (dev only). Override: KIVULI_API_KEY env var.
	EnableDocs bool     `json:"enable_docs,omitempty" yaml:"enable_docs,omitempty"` // Serve OpenAPI docs.
}

// Addr returns the listen address with a default of ":8080".
func (s *ServerConfig) Addr() string {
	if s != nil && s.ListenAddr != "" {
		return s.ListenAddr
	}
	return ":8080"
}

// HistoryConfig configures the execution record store.
type HistoryConfig struct {
	Driver        string `json:"driver,omitempty" yaml:"driver,omitempty"`                 // "sqlite" (default) or "postgres".
	Path          string `json:"path,omitempty" yaml:"path,omitempty"`                     // SQLite file path. Default: <workspace>/data/kivuli.db.
	DSN           string `json:"dsn,omitempty" yaml:"dsn,omitempty"`                       // PostgreSQL DSN. Override: KIVULI_HISTORY_DSN env var.
	RetentionDays int    `json:"retention_days,omitempty" yaml:"retention_days,omitempty"` // Records older than this are purged. Default: 30.
}

// Retention returns the record retention with a default of 30 days.
func (h *HistoryConfig) Retention() time.Duration {
	if h != nil && h.RetentionDays > 0 {
		return time.Duration(h.RetentionDays) * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}

// MaintenanceConfig configures the background maintenance scheduler.
type MaintenanceConfig struct {
	Schedule          string `json:"schedule,omitempty" yaml:"schedule,omitempty"`                       // Cron spec. Default: "@every 1m".
	RecycleIdleAfterS int    `json:"recycle_idle_after_s,omitempty" yaml:"recycle_idle_after_s,omitempty"` // Replace a worker idle longer than this. 0 = never. Default: 900.
}

// CronSchedule returns the cron spec with a default of every minute.
func (m *MaintenanceConfig) CronSchedule() string {
	if m != nil && m.Schedule != "" {
		return m.Schedule
	}
	return "@every 1m"
}

// RecycleIdleAfter returns the idle-worker recycle threshold.
// Zero means idle workers are kept alive indefinitely.
func (m *MaintenanceConfig) RecycleIdleAfter() time.Duration {
	if m == nil {
		return 0
	}
	if m.RecycleIdleAfterS > 0 {
		return time.Duration(m.RecycleIdleAfterS) * time.Second
	}
	return 15 * time.Minute
}

// ObservabilityConfig configures metrics, tracing, and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// MetricsPath returns the exposition path with a default of "/metrics".
func (m *MetricsConfig) MetricsPath() string {
	if m != nil && m.Path != "" {
		return m.Path
	}
	return "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "kivuli"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// DefaultConfigPath returns the default config file path (~/.kivuli/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/kivuli.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".kivuli", "config.yaml")
}

// Default returns the configuration used when no config file exists:
// sandbox defaults, no HTTP server, no history, no observability.
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	return cfg
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	// Expand ~ in config path.
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault loads the config at path, falling back to Default()
// when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}
	if _, err := os.Stat(resolved); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// applyEnv applies KIVULI_* environment variable overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("KIVULI_WORKSPACE"); v != "" {
		c.Workspace = v
	}
	if v := os.Getenv("KIVULI_RUNTIME_DIR"); v != "" {
		c.RuntimeDir = v
	}
	if v := os.Getenv("KIVULI_DENO"); v != "" {
		c.Sandbox.Deno = v
	}
	if v, ok := envInt("KIVULI_TIMEOUT_MS"); ok {
		c.Sandbox.TimeoutMS = v
	}
	if v, ok := envInt("KIVULI_MEMORY_MB"); ok {
		c.Sandbox.MemoryMB = v
	}
	if v, ok := envInt("KIVULI_MAX_OUTPUT_CHARS"); ok {
		c.Sandbox.MaxOutputChars = v
	}
	if v := os.Getenv("KIVULI_ALLOW_NET"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Sandbox.AllowNet = b
		}
	}
	if v := os.Getenv("KIVULI_LISTEN_ADDR"); v != "" {
		if c.Server == nil {
			c.Server = &ServerConfig{}
		}
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("KIVULI_API_KEY"); v != "" {
		if c.Server == nil {
			c.Server = &ServerConfig{}
		}
		c.Server.APIKeys = strings.Split(v, ",")
	}
	if v := os.Getenv("KIVULI_HISTORY_DSN"); v != "" {
		if c.History == nil {
			c.History = &HistoryConfig{Driver: "postgres"}
		}
		c.History.DSN = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedWorkspace returns the workspace root, resolving ~ if needed.
func (c *Config) ResolvedWorkspace() string {
	ws := c.Workspace
	if ws == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "workspace"
		}
		return filepath.Join(home, ".kivuli", "workspace")
	}
	resolved, err := resolvePath(ws)
	if err != nil {
		return ws
	}
	return resolved
}

// ResolvedRuntimeDir returns the runtime assets directory, defaulting to
// <workspace>/runtime.
func (c *Config) ResolvedRuntimeDir() string {
	if c.RuntimeDir == "" {
		return filepath.Join(c.ResolvedWorkspace(), "runtime")
	}
	resolved, err := resolvePath(c.RuntimeDir)
	if err != nil {
		return c.RuntimeDir
	}
	return resolved
}

// HistoryPath returns the SQLite database path, defaulting to
// <workspace>/data/kivuli.db.
func (c *Config) HistoryPath() string {
	if c.History != nil && c.History.Path != "" {
		return c.History.Path
	}
	return filepath.Join(c.ResolvedWorkspace(), "data", "kivuli.db")
}

func (c *Config) validate() error {
	if c.Sandbox.TimeoutMS < 0 {
		return fmt.Errorf("sandbox.timeout_ms must not be negative")
	}
	if c.Sandbox.MemoryMB < 0 {
		return fmt.Errorf("sandbox.memory_mb must not be negative")
	}
	if c.Sandbox.MaxOutputChars < 0 {
		return fmt.Errorf("sandbox.max_output_chars must not be negative")
	}
	if c.Sandbox.TimeoutMS > sandbox.MaxTimeoutMS {
		return fmt.Errorf("sandbox.timeout_ms must not exceed %d", sandbox.MaxTimeoutMS)
	}
	if c.Sandbox.MemoryMB > sandbox.MaxMemoryMB {
		return fmt.Errorf("sandbox.memory_mb must not exceed %d", sandbox.MaxMemoryMB)
	}
	if c.History != nil && c.History.Driver != "" {
		switch c.History.Driver {
		case "sqlite", "postgres":
			// valid
		default:
			return fmt.Errorf("history.driver %q is not supported (use sqlite or postgres)", c.History.Driver)
		}
	}
	if c.History != nil && c.History.Driver == "postgres" && c.History.DSN == "" {
		return fmt.Errorf("history.dsn is required for the postgres driver (set KIVULI_HISTORY_DSN env var)")
	}
	if c.History != nil && c.History.RetentionDays < 0 {
		return fmt.Errorf("history.retention_days must not be negative")
	}
	return nil
}

// SandboxSettings converts to the sandbox package's config, filling in
// the runtime directory.
func (c *Config) SandboxSettings() sandbox.Config {
	return sandbox.Config{
		DenoBin:          c.Sandbox.Deno,
		RuntimeDir:       c.ResolvedRuntimeDir(),
		DefaultTimeoutMS: c.Sandbox.TimeoutMS,
		DefaultMemoryMB:  c.Sandbox.MemoryMB,
		MaxOutputChars:   c.Sandbox.MaxOutputChars,
		AllowNet:         c.Sandbox.AllowNet,
	}
}
