package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment overrides, applied after the file is read
const (
	EnvBaseURL = "EXECSTREAM_BASE_URL"
	EnvToken   = "EXECSTREAM_TOKEN"
)

// Loaded is a resolved configuration and where it came from
type Loaded struct {
	*Config
	// Path is empty when no file was found and defaults are in use
	Path      string
	ConfigDir string
}

// LoadAll finds and loads execstream.jsonc. When configDir is empty and no
// file exists anywhere, defaults are used so that flags and environment
// variables alone are enough.
func LoadAll(configDir string) (*Loaded, error) {
	path, err := FindConfigPath(configDir)
	if err != nil {
		if configDir != "" {
			return nil, err
		}
		cfg := Default()
		applyEnv(cfg)
		return &Loaded{Config: cfg, ConfigDir: "."}, nil
	}

	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return &Loaded{Config: cfg, Path: path, ConfigDir: filepath.Dir(path)}, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvBaseURL); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		cfg.Server.Token = v
	}
}

// RequireServer checks that a server base URL is configured
func (l *Loaded) RequireServer() error {
	if l.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required: set it in %s or %s", FileName, EnvBaseURL)
	}
	return nil
}
