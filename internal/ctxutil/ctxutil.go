// Package ctxutil provides shared context key accessors.
//
// This package exists to break the circular dependency between server and
// mcp: server imports mcp for MCP server setup, and mcp needs to read the
// authenticated user from the context that server's auth middleware
// populates. Both packages import ctxutil instead of each other.
package ctxutil

import (
	"context"

	"github.com/ashita-ai/kensaku/internal/model"
)

type contextKey string

const keyUser contextKey = "user"

// WithUser returns a new context carrying the authenticated user.
func WithUser(ctx context.Context, user model.UserContext) context.Context {
	return context.WithValue(ctx, keyUser, user)
}

// UserFromContext extracts the authenticated user from the context.
// The second return is false when no auth middleware ran.
func UserFromContext(ctx context.Context) (model.UserContext, bool) {
	v, ok := ctx.Value(keyUser).(model.UserContext)
	return v, ok
}
