package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("full config", func(t *testing.T) {
		path := writeConfig(t, tmpDir, `{
			// execution server
			"server": {"base_url": "https://api.example.com", "token": "abc", "transport": "websocket", "timeout_seconds": 5},
			"session": {"mode": "workflow", "mutating_tools": ["create_document"], "refresh_timeout_seconds": 3, "event_buffer_size": 50},
			/* throttle */
			"control": {"rate_per_second": 2.5, "burst": 4},
			"history": {"dir": "/var/lib/execstream", "retention_days": 7, "prune_cron": "0 4 * * *"},
			"logging": {"dir": "logs", "json": true, "level": "debug"},
			"metrics": {"address": ":9100"}
		}`)

		cfg, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile() error = %v", err)
		}
		if cfg.Server.BaseURL != "https://api.example.com" || cfg.Server.Transport != "websocket" {
			t.Errorf("Server = %+v", cfg.Server)
		}
		if cfg.Session.Mode != "workflow" || len(cfg.Session.MutatingTools) != 1 {
			t.Errorf("Session = %+v", cfg.Session)
		}
		if cfg.Control.RatePerSecond != 2.5 || cfg.Control.Burst != 4 {
			t.Errorf("Control = %+v", cfg.Control)
		}
		if cfg.History.Dir != "/var/lib/execstream" {
			t.Errorf("History.Dir = %q", cfg.History.Dir)
		}
		if cfg.Logging.Dir != filepath.Join(tmpDir, "logs") {
			t.Errorf("Logging.Dir = %q, want relative to config dir", cfg.Logging.Dir)
		}
		if cfg.Timeout().Seconds() != 5 || cfg.RefreshTimeout().Seconds() != 3 {
			t.Errorf("durations = %v, %v", cfg.Timeout(), cfg.RefreshTimeout())
		}
		if cfg.Retention().Hours() != 7*24 {
			t.Errorf("Retention() = %v", cfg.Retention())
		}
	})

	t.Run("defaults applied", func(t *testing.T) {
		path := writeConfig(t, tmpDir, `{}`)
		cfg, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile() error = %v", err)
		}
		tests := []struct {
			name string
			got  any
			want any
		}{
			{"transport", cfg.Server.Transport, "subscribe"},
			{"timeout", cfg.Server.TimeoutSeconds, 30},
			{"mode", cfg.Session.Mode, "agent"},
			{"mutating tools", len(cfg.Session.MutatingTools), 11},
			{"refresh timeout", cfg.Session.RefreshTimeoutSeconds, 10},
			{"buffer", cfg.Session.EventBufferSize, 1000},
			{"rate", cfg.Control.RatePerSecond, 5.0},
			{"burst", cfg.Control.Burst, 10},
			{"history enabled", cfg.HistoryEnabled(), true},
			{"retention", cfg.History.RetentionDays, 30},
			{"level", cfg.Logging.Level, "info"},
		}
		for _, tt := range tests {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		}
	})

	t.Run("mcp tokens default to read", func(t *testing.T) {
		path := writeConfig(t, tmpDir, `{"mcp": {"tokens": [{"name": "ci", "token": "exs_0123456789abcdef"}]}}`)
		cfg, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile() error = %v", err)
		}
		if cfg.MCP.Tokens[0].Scope != "read" || cfg.MCP.Address == "" {
			t.Errorf("MCP = %+v", cfg.MCP)
		}
	})

	t.Run("empty mutating list kept", func(t *testing.T) {
		path := writeConfig(t, tmpDir, `{"session": {"mutating_tools": []}}`)
		cfg, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile() error = %v", err)
		}
		if cfg.Session.MutatingTools == nil || len(cfg.Session.MutatingTools) != 0 {
			t.Errorf("MutatingTools = %v, want empty", cfg.Session.MutatingTools)
		}
	})

	t.Run("history disabled", func(t *testing.T) {
		path := writeConfig(t, tmpDir, `{"history": {"enabled": false}}`)
		cfg, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile() error = %v", err)
		}
		if cfg.HistoryEnabled() {
			t.Error("HistoryEnabled() = true, want false")
		}
	})

	t.Run("invalid values", func(t *testing.T) {
		tests := []struct {
			name string
			body string
			want string
		}{
			{"transport", `{"server": {"transport": "smoke-signal"}}`, "server.transport"},
			{"mode", `{"session": {"mode": "batch"}}`, "session.mode"},
			{"level", `{"logging": {"level": "loud"}}`, "logging.level"},
			{"negative", `{"history": {"retention_days": -1}}`, "retention_days"},
			{"syntax", `{"server": `, "parsing"},
			{"token scope", `{"mcp": {"tokens": [{"name": "x", "token": "exs_abc", "scope": "admin"}]}}`, "mcp.tokens[0]"},
			{"token missing", `{"mcp": {"tokens": [{"name": "x"}]}}`, "token is required"},
		}
		for _, tt := range tests {
			path := writeConfig(t, tmpDir, tt.body)
			_, err := LoadFile(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("%s: LoadFile() error = %v, want mention of %q", tt.name, err, tt.want)
			}
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadFile(filepath.Join(tmpDir, "nope.jsonc")); err == nil {
			t.Error("LoadFile() should fail for a missing file")
		}
	})
}

func TestFindConfigPath(t *testing.T) {
	t.Run("explicit dir", func(t *testing.T) {
		dir := t.TempDir()
		want := writeConfig(t, dir, `{}`)
		got, err := FindConfigPath(dir)
		if err != nil {
			t.Fatalf("FindConfigPath() error = %v", err)
		}
		if got != want {
			t.Errorf("FindConfigPath() = %q, want %q", got, want)
		}
	})

	t.Run("explicit dir without file", func(t *testing.T) {
		if _, err := FindConfigPath(t.TempDir()); err == nil {
			t.Error("FindConfigPath() should fail")
		}
	})
}

func TestLoadAll(t *testing.T) {
	t.Run("from dir with env override", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, `{"server": {"base_url": "http://file", "token": "file-token"}}`)
		t.Setenv(EnvToken, "env-token")

		loaded, err := LoadAll(dir)
		if err != nil {
			t.Fatalf("LoadAll() error = %v", err)
		}
		if loaded.Server.BaseURL != "http://file" || loaded.Server.Token != "env-token" {
			t.Errorf("Server = %+v", loaded.Server)
		}
		if loaded.ConfigDir != dir || loaded.Path == "" {
			t.Errorf("ConfigDir = %q, Path = %q", loaded.ConfigDir, loaded.Path)
		}
		if err := loaded.RequireServer(); err != nil {
			t.Errorf("RequireServer() error = %v", err)
		}
	})

	t.Run("explicit dir missing file fails", func(t *testing.T) {
		if _, err := LoadAll(t.TempDir()); err == nil {
			t.Error("LoadAll() should fail")
		}
	})

	t.Run("defaults without any file", func(t *testing.T) {
		wd, _ := os.Getwd()
		empty := t.TempDir()
		if err := os.Chdir(empty); err != nil {
			t.Fatalf("chdir: %v", err)
		}
		defer func() { _ = os.Chdir(wd) }()
		t.Setenv("HOME", empty)
		t.Setenv(EnvBaseURL, "http://env")

		loaded, err := LoadAll("")
		if err != nil {
			t.Fatalf("LoadAll() error = %v", err)
		}
		if loaded.Path != "" || loaded.Server.BaseURL != "http://env" {
			t.Errorf("Loaded = %+v", loaded)
		}
	})

	t.Run("require server", func(t *testing.T) {
		l := &Loaded{Config: Default()}
		if err := l.RequireServer(); err == nil {
			t.Error("RequireServer() should fail without base_url")
		}
	})
}
