// Package cache implements the semantic query cache: a nearest-neighbor
// lookup over previously answered queries, and a write path gated so that
// only globally public results are ever stored.
//
// The gate lives at write time, not read time, so lookups stay a single
// vector search. Anything in the cache collection is safe to serve to any
// authenticated user.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kensaku/internal/model"
	"github.com/ashita-ai/kensaku/internal/search"
)

// cacheNamespace scopes content-addressed cache ids; repeated stores of the
// same query text upsert the same point.
var cacheNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("kensaku/query-cache"))

// AccessChecker reports the access type per document id. Absent ids mean
// the document is unknown, which the write gate treats as not-public.
type AccessChecker interface {
	DocumentAccessTypes(ctx context.Context, documentIDs []string) (map[string]model.AccessType, error)
}

// Config tunes the cache.
type Config struct {
	SimilarityThreshold float64
	TTL                 time.Duration
	ACLTimeout          time.Duration
}

// Cache wraps the cache collection with the similarity threshold and the
// public-only write gate. Safe for concurrent use.
type Cache struct {
	store  search.CacheStore
	acl    AccessChecker
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Cache.
func New(store search.CacheStore, acl AccessChecker, cfg Config, logger *slog.Logger) *Cache {
	return &Cache{store: store, acl: acl, cfg: cfg, logger: logger, now: time.Now}
}

// Entry is a decoded cache hit.
type Entry struct {
	QueryText string
	Contexts  []model.Context
}

// Lookup returns the cached entry nearest to the query embedding when its
// similarity clears the threshold and it is younger than the TTL. Lookup
// failures are non-fatal: they return a miss plus a warning.
func (c *Cache) Lookup(ctx context.Context, vector []float32) (*Entry, []string) {
	freshAfter := c.now().Add(-c.cfg.TTL).UnixMilli()
	hit, err := c.store.NearestCached(ctx, vector, freshAfter)
	if err != nil {
		msg := fmt.Sprintf("cache lookup failed: %v", err)
		c.logger.Warn("cache: " + msg)
		return nil, []string{msg}
	}
	if hit == nil || float64(hit.Score) < c.cfg.SimilarityThreshold {
		return nil, nil
	}

	var contexts []model.Context
	if err := json.Unmarshal(hit.ContextsJSON, &contexts); err != nil {
		msg := fmt.Sprintf("cache entry undecodable, treating as miss: %v", err)
		c.logger.Warn("cache: " + msg)
		return nil, []string{msg}
	}
	c.logger.Debug("cache: hit", "similarity", hit.Score, "cached_query", hit.QueryText)
	return &Entry{QueryText: hit.QueryText, Contexts: contexts}, nil
}

// Store writes a cache entry if and only if every document referenced by
// the contexts is public. It returns suppressed=true when the gate blocked
// the write, whether because a document is restricted, unknown, or the
// access check itself failed. Write failures after a passed gate are
// warnings, not suppression.
func (c *Cache) Store(ctx context.Context, vector []float32, queryText string, contexts []model.Context) (suppressed bool, warnings []string) {
	if len(contexts) == 0 {
		return false, nil
	}

	seen := make(map[string]bool)
	var docIDs []string
	for _, cx := range contexts {
		if !seen[cx.DocumentID] {
			seen[cx.DocumentID] = true
			docIDs = append(docIDs, cx.DocumentID)
		}
	}

	aclCtx := ctx
	if c.cfg.ACLTimeout > 0 {
		var cancel context.CancelFunc
		aclCtx, cancel = context.WithTimeout(ctx, c.cfg.ACLTimeout)
		defer cancel()
	}
	types, err := c.acl.DocumentAccessTypes(aclCtx, docIDs)
	if err != nil {
		msg := fmt.Sprintf("cache write suppressed, access check failed: %v", err)
		c.logger.Warn("cache: " + msg)
		return true, []string{msg}
	}
	for _, id := range docIDs {
		if types[id] != model.AccessPublic {
			c.logger.Debug("cache: write suppressed, non-public document", "document_id", id)
			return true, nil
		}
	}

	contextsJSON, err := json.Marshal(contexts)
	if err != nil {
		return false, []string{fmt.Sprintf("cache write failed, encode contexts: %v", err)}
	}

	point := search.CachePoint{
		ID:           uuid.NewSHA1(cacheNamespace, []byte(queryText)),
		Vector:       vector,
		QueryText:    queryText,
		ContextsJSON: contextsJSON,
		CreatedAtMs:  c.now().UnixMilli(),
	}
	if err := c.store.UpsertCached(ctx, point); err != nil {
		msg := fmt.Sprintf("cache write failed: %v", err)
		c.logger.Warn("cache: " + msg)
		return false, []string{msg}
	}
	return false, nil
}

// Purge deletes entries older than the TTL. Meant to run periodically from
// the host process.
func (c *Cache) Purge(ctx context.Context) error {
	cutoff := c.now().Add(-c.cfg.TTL).UnixMilli()
	return c.store.PurgeExpired(ctx, cutoff)
}
