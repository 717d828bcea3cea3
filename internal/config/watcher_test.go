package config

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{"session": {"mutating_tools": ["a"]}}`)

	reloaded := make(chan *Config, 4)
	w := NewWatcher(path, nil, func(c *Config) { reloaded <- c })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := os.WriteFile(path, []byte(`{"session": {"mutating_tools": ["b", "c"]}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if len(cfg.Session.MutatingTools) != 2 || cfg.Session.MutatingTools[0] != "b" {
			t.Errorf("MutatingTools = %v", cfg.Session.MutatingTools)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after write")
	}
}

func TestWatcher_InvalidEditKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{}`)

	reloaded := make(chan *Config, 4)
	w := NewWatcher(path, nil, func(c *Config) { reloaded <- c })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	_ = os.WriteFile(path, []byte(`{"session": {"mode": "nonsense"}}`), 0o644)

	select {
	case cfg := <-reloaded:
		t.Errorf("invalid config delivered: %+v", cfg.Session)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{}`)

	reloaded := make(chan *Config, 4)
	w := NewWatcher(path, nil, func(c *Config) { reloaded <- c })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	_ = os.WriteFile(dir+"/other.txt", []byte("x"), 0o644)

	select {
	case <-reloaded:
		t.Error("reload triggered by unrelated file")
	case <-time.After(400 * time.Millisecond):
	}
}
