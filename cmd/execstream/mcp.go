package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/HyphaGroup/execstream/internal/auth"
	"github.com/HyphaGroup/execstream/internal/config"
	"github.com/HyphaGroup/execstream/internal/logger"
	"github.com/HyphaGroup/execstream/internal/mcp"
	"github.com/HyphaGroup/execstream/internal/notify"
)

func cmdMCP(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	configDir := fs.String("config", "", "Config directory")
	httpMode := fs.Bool("http", false, "Serve streamable HTTP instead of stdio")
	addr := fs.String("addr", "", "HTTP listen address (default from mcp.address)")
	_ = fs.Parse(args)

	// stdout carries protocol frames in stdio mode
	a, err := newApp(appOptions{
		configDir: *configDir,
		console:   os.Stderr,
		notifier:  notify.Log{},
	})
	if err != nil {
		return err
	}
	defer a.Close()

	tokens, err := tokenStore(a.cfg.MCP.Tokens)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.startBackground(ctx)

	srvCfg := &mcp.ServerConfig{
		Version: Version,
		Tokens:  tokens,
		Limiter: a.limiter,
		Audit:   a.audit,
	}
	if a.history != nil {
		srvCfg.History = a.history
	}
	srv := mcp.NewServer(a.ctrl, srvCfg)

	if !*httpMode {
		logger.Println("execstream", Version, "serving MCP over stdio")
		return srv.ServeStdio(ctx)
	}

	listen := a.cfg.MCP.Address
	if *addr != "" {
		listen = *addr
	}
	if tokens.Len() == 0 {
		return mcp.ErrNoTokens
	}
	logger.Printf("execstream %s MCP endpoint: http://%s/mcp (%d tokens)\n", Version, listen, tokens.Len())
	return srv.Serve(ctx, listen)
}

// tokenStore loads configured bearer tokens; an empty list yields an empty store
func tokenStore(specs []config.TokenSpec) (*auth.Store, error) {
	store := auth.NewStore()
	for i, spec := range specs {
		if err := store.Add(spec.Token, auth.Token{Name: spec.Name, Scope: spec.Scope}); err != nil {
			return nil, fmt.Errorf("mcp.tokens[%d]: %w", i, err)
		}
	}
	return store, nil
}
