package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/HyphaGroup/execstream/internal/session"
)

// FileName is the configuration file looked up in each config directory
const FileName = "execstream.jsonc"

// Config is the single configuration file format for execstream.jsonc
type Config struct {
	Server  ServerSection  `json:"server"`
	Session SessionSection `json:"session"`
	Control ControlSection `json:"control"`
	History HistorySection `json:"history"`
	Logging LoggingSection `json:"logging"`
	Metrics MetricsSection `json:"metrics"`
	MCP     MCPSection     `json:"mcp"`
}

// ServerSection describes the execution server this client talks to
type ServerSection struct {
	BaseURL        string `json:"base_url"`
	Token          string `json:"token"`
	Transport      string `json:"transport"` // subscribe, request, websocket
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// SessionSection holds session behaviour
type SessionSection struct {
	Mode                  string   `json:"mode"` // agent, workflow
	MutatingTools         []string `json:"mutating_tools"`
	RefreshTimeoutSeconds int      `json:"refresh_timeout_seconds"`
	EventBufferSize       int      `json:"event_buffer_size"`
}

// ControlSection throttles control calls per execution
type ControlSection struct {
	RatePerSecond float64 `json:"rate_per_second"`
	Burst         int     `json:"burst"`
}

// HistorySection configures the local message history
type HistorySection struct {
	Enabled       *bool  `json:"enabled"`
	Dir           string `json:"dir"`
	RetentionDays int    `json:"retention_days"`
	PruneCron     string `json:"prune_cron"`
}

// LoggingSection configures file logging
type LoggingSection struct {
	Dir   string `json:"dir"`
	JSON  bool   `json:"json"`
	Level string `json:"level"`
}

// MetricsSection configures the Prometheus endpoint; empty address disables it
type MetricsSection struct {
	Address string `json:"address"`
}

// MCPSection configures the MCP HTTP endpoint
type MCPSection struct {
	Address string      `json:"address"`
	Tokens  []TokenSpec `json:"tokens"`
}

// TokenSpec is one accepted bearer token; scope is "read" or "write"
type TokenSpec struct {
	Name  string `json:"name"`
	Token string `json:"token"`
	Scope string `json:"scope"`
}

// FindConfigPath returns the path to execstream.jsonc using precedence:
// 1. configDir + /execstream.jsonc (if configDir specified)
// 2. ./config/execstream.jsonc (project-local)
// 3. ~/.execstream/config/execstream.jsonc (user global)
func FindConfigPath(configDir string) (string, error) {
	if configDir != "" {
		path := filepath.Join(configDir, FileName)
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%s not found in %s", FileName, configDir)
		}
		return absPath(path), nil
	}

	candidates := []string{filepath.Join("config", FileName)}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".execstream", "config", FileName))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return absPath(path), nil
		}
	}
	return "", fmt.Errorf("%s not found; tried: %v", FileName, candidates)
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// LoadFile loads and validates one execstream.jsonc file
func LoadFile(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", configPath, err)
	}

	var cfg Config
	if err := json.Unmarshal(StripJSONComments(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configPath, err)
	}

	applyDefaults(&cfg, filepath.Dir(configPath))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", configPath, err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file exists
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg, ".")
	return &cfg
}

func applyDefaults(cfg *Config, baseDir string) {
	if cfg.Server.Transport == "" {
		cfg.Server.Transport = "subscribe"
	}
	if cfg.Server.TimeoutSeconds == 0 {
		cfg.Server.TimeoutSeconds = 30
	}

	if cfg.Session.Mode == "" {
		cfg.Session.Mode = "agent"
	}
	// An explicit empty list disables refreshes; only a missing key gets defaults
	if cfg.Session.MutatingTools == nil {
		cfg.Session.MutatingTools = append([]string(nil), session.DefaultMutatingTools...)
	}
	if cfg.Session.RefreshTimeoutSeconds == 0 {
		cfg.Session.RefreshTimeoutSeconds = 10
	}
	if cfg.Session.EventBufferSize == 0 {
		cfg.Session.EventBufferSize = 1000
	}

	if cfg.Control.RatePerSecond == 0 {
		cfg.Control.RatePerSecond = 5
	}
	if cfg.Control.Burst == 0 {
		cfg.Control.Burst = 10
	}

	if cfg.History.Enabled == nil {
		enabled := true
		cfg.History.Enabled = &enabled
	}
	if cfg.History.Dir == "" {
		cfg.History.Dir = "data"
	}
	if !filepath.IsAbs(cfg.History.Dir) {
		cfg.History.Dir = filepath.Join(baseDir, cfg.History.Dir)
	}
	if cfg.History.RetentionDays == 0 {
		cfg.History.RetentionDays = 30
	}
	if cfg.History.PruneCron == "" {
		cfg.History.PruneCron = "17 3 * * *"
	}

	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = "logs"
	}
	if !filepath.IsAbs(cfg.Logging.Dir) {
		cfg.Logging.Dir = filepath.Join(baseDir, cfg.Logging.Dir)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.MCP.Address == "" {
		cfg.MCP.Address = "127.0.0.1:8790"
	}
	for i := range cfg.MCP.Tokens {
		if cfg.MCP.Tokens[i].Scope == "" {
			cfg.MCP.Tokens[i].Scope = "read"
		}
	}
}

// Validate checks enumerations and ranges
func (c *Config) Validate() error {
	switch c.Server.Transport {
	case "subscribe", "request", "websocket":
	default:
		return fmt.Errorf("server.transport must be subscribe, request or websocket, got %q", c.Server.Transport)
	}
	switch c.Session.Mode {
	case "agent", "workflow":
	default:
		return fmt.Errorf("session.mode must be agent or workflow, got %q", c.Session.Mode)
	}
	if c.Server.TimeoutSeconds < 0 || c.Session.RefreshTimeoutSeconds < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.Control.RatePerSecond < 0 || c.Control.Burst < 0 {
		return fmt.Errorf("control limits must not be negative")
	}
	if c.History.RetentionDays < 0 {
		return fmt.Errorf("history.retention_days must not be negative")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	for i, t := range c.MCP.Tokens {
		if t.Token == "" {
			return fmt.Errorf("mcp.tokens[%d]: token is required", i)
		}
		if t.Scope != "read" && t.Scope != "write" {
			return fmt.Errorf("mcp.tokens[%d]: scope must be read or write, got %q", i, t.Scope)
		}
	}
	return nil
}

// HistoryEnabled reports whether messages are persisted
func (c *Config) HistoryEnabled() bool {
	return c.History.Enabled == nil || *c.History.Enabled
}

// Timeout returns the control request timeout
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// RefreshTimeout returns the bound on one refresh callback
func (c *Config) RefreshTimeout() time.Duration {
	return time.Duration(c.Session.RefreshTimeoutSeconds) * time.Second
}

// Retention returns the history retention window
func (c *Config) Retention() time.Duration {
	return time.Duration(c.History.RetentionDays) * 24 * time.Hour
}
