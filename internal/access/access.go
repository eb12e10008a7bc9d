// Package access builds the per-request document visibility filter.
//
// The builder fails closed: if the grant lookup errors, the request errors,
// never an unrestricted filter. An empty grant set is a valid answer and
// yields a filter that short-circuits retrieval to zero results.
package access

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashita-ai/kensaku/internal/model"
)

// GrantSource lists the document ids a user may read.
type GrantSource interface {
	VisibleDocumentIDs(ctx context.Context, userID string, role model.Role) ([]string, error)
}

// Builder produces AccessFilters, with a short-TTL cache in front of the
// grant source so repeated requests from the same user skip the lookup.
type Builder struct {
	source  GrantSource
	cache   *grantCache
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Builder. cacheTTL <= 0 disables the grant cache.
// Call Close to stop the cache's eviction goroutine.
func New(source GrantSource, cacheTTL, timeout time.Duration, logger *slog.Logger) *Builder {
	b := &Builder{source: source, timeout: timeout, logger: logger}
	if cacheTTL > 0 {
		b.cache = newGrantCache(cacheTTL)
	}
	return b
}

// Close releases the builder's background resources.
func (b *Builder) Close() {
	if b.cache != nil {
		b.cache.Close()
	}
}

// Build returns the visibility filter for the user. Super admins get an
// unrestricted filter without touching the grant source.
func (b *Builder) Build(ctx context.Context, user model.UserContext) (model.AccessFilter, error) {
	if user.Role == model.RoleSuperAdmin {
		return model.AccessFilter{}, nil
	}

	key := user.UserID + ":" + string(user.Role)
	if b.cache != nil {
		if visible, ok := b.cache.Get(key); ok {
			return model.AccessFilter{Visible: visible}, nil
		}
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	ids, err := b.source.VisibleDocumentIDs(ctx, user.UserID, user.Role)
	if err != nil {
		return model.AccessFilter{}, fmt.Errorf("%w: %v", model.ErrFilterBuild, err)
	}

	visible := make(map[string]bool, len(ids))
	for _, id := range ids {
		visible[id] = true
	}

	if b.cache != nil {
		b.cache.Set(key, visible)
	}
	if len(visible) == 0 {
		b.logger.Info("access: empty visible set, retrieval will short-circuit",
			"user_id", user.UserID, "role", user.Role)
	}
	return model.AccessFilter{Visible: visible}, nil
}
