package mcp

import (
	"context"
)

type contextKey string

const contextKeyRemoteAddr contextKey = "execstream-remote-addr"

// WithRemoteAddr adds the remote address to context
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, contextKeyRemoteAddr, addr)
}

// GetRemoteAddr extracts the remote address from context
func GetRemoteAddr(ctx context.Context) string {
	if val, ok := ctx.Value(contextKeyRemoteAddr).(string); ok {
		return val
	}
	return ""
}
