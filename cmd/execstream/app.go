package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/HyphaGroup/execstream/internal/audit"
	"github.com/HyphaGroup/execstream/internal/cleanup"
	"github.com/HyphaGroup/execstream/internal/config"
	"github.com/HyphaGroup/execstream/internal/control"
	"github.com/HyphaGroup/execstream/internal/controller"
	"github.com/HyphaGroup/execstream/internal/history"
	"github.com/HyphaGroup/execstream/internal/logger"
	"github.com/HyphaGroup/execstream/internal/metrics"
	"github.com/HyphaGroup/execstream/internal/notify"
	"github.com/HyphaGroup/execstream/internal/session"
	"github.com/HyphaGroup/execstream/internal/transport"
)

// exitError carries a process exit code without an error message
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func asExit(err error, target *exitError) bool {
	return errors.As(err, target)
}

// app wires one controller and its supporting services from config
type app struct {
	cfg     *config.Loaded
	ctrl    *controller.Controller
	history *history.Store
	limiter *control.RateLimiter
	audit   *audit.Logger

	pruner  *history.Pruner
	cleaner *cleanup.Cleaner
	metrics *http.Server
}

// appOptions tunes newApp per command
type appOptions struct {
	configDir string
	// console receives human-facing log lines; stdio MCP passes stderr
	console  io.Writer
	notifier notify.Notifier
	refresh  controller.RefreshFunc
	mode     string
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newApp(opts appOptions) (*app, error) {
	cfg, err := config.LoadAll(opts.configDir)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.RequireServer(); err != nil {
		return nil, err
	}

	if err := logger.InitSlog(logger.Options{
		Dir:    cfg.Logging.Dir,
		JSON:   cfg.Logging.JSON,
		Stdout: opts.console,
		Level:  parseLevel(cfg.Logging.Level),
	}); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	if opts.console != nil {
		logger.SetConsole(opts.console, opts.console)
	}

	a := &app{
		cfg:     cfg,
		limiter: control.NewRateLimiter(cfg.Control.RatePerSecond, cfg.Control.Burst),
		audit:   audit.New(opts.console, true),
	}

	if cfg.HistoryEnabled() {
		a.history, err = history.NewStore(cfg.History.Dir)
		if err != nil {
			return nil, fmt.Errorf("opening history: %w", err)
		}
		a.pruner, err = history.NewPruner(a.history, cfg.Retention(), cfg.History.PruneCron)
		if err != nil {
			_ = a.history.Close()
			return nil, err
		}
	}

	channel, err := transport.New(transport.Backend(cfg.Server.Transport), transport.Options{
		BaseURL: cfg.Server.BaseURL,
		Token:   cfg.Server.Token,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	mode := cfg.Session.Mode
	if opts.mode != "" {
		mode = opts.mode
	}

	ctrlOpts := controller.Options{
		Control: control.NewClient(control.Options{
			BaseURL: cfg.Server.BaseURL,
			Token:   cfg.Server.Token,
			Timeout: cfg.Timeout(),
			Limiter: a.limiter,
		}),
		Channel:         channel,
		Mode:            session.Mode(mode),
		MutatingTools:   cfg.Session.MutatingTools,
		EventBufferSize: cfg.Session.EventBufferSize,
		Notifier:        opts.notifier,
		Refresh:         opts.refresh,
		RefreshTimeout:  cfg.RefreshTimeout(),
	}
	if a.history != nil {
		ctrlOpts.History = a.history
	}
	a.ctrl, err = controller.New(ctrlOpts)
	if err != nil {
		a.Close()
		return nil, err
	}

	cleanCfg := cleanup.DefaultConfig(cfg.Logging.Dir, cfg.History.Dir)
	cleanCfg.Limiter = a.limiter
	a.cleaner = cleanup.New(cleanCfg)
	return a, nil
}

// startBackground runs the pruner, janitor, metrics endpoint and config watcher until ctx ends
func (a *app) startBackground(ctx context.Context) {
	if a.pruner != nil {
		a.pruner.Start()
	}
	a.cleaner.Start()

	if addr := a.cfg.Metrics.Address; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		a.metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Slog().Error("metrics server failed", "address", addr, "error", err)
			}
		}()
	}

	if a.cfg.Path != "" {
		w := config.NewWatcher(a.cfg.Path, logger.Slog(), func(next *config.Config) {
			a.ctrl.SetMutatingTools(next.Session.MutatingTools)
			logger.Slog().Info("mutating tools updated", "count", len(next.Session.MutatingTools))
		})
		if err := w.Start(ctx); err != nil {
			logger.Slog().Warn("config watcher not started", "error", err)
		}
	}
}

// Close stops background work and releases resources
func (a *app) Close() {
	if a.ctrl != nil {
		_ = a.ctrl.Close()
	}
	if a.pruner != nil {
		a.pruner.Stop()
	}
	if a.cleaner != nil {
		a.cleaner.Stop()
	}
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.metrics.Shutdown(ctx)
		cancel()
	}
	if a.history != nil {
		_ = a.history.Close()
	}
	_ = logger.CloseSlog()
}
