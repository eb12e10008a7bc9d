package search

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/kensaku/internal/model"
)

// QdrantConfig holds configuration for connecting to Qdrant.
type QdrantConfig struct {
	URL             string // e.g. "https://xyz.cloud.qdrant.io:6333" or "http://localhost:6333"
	APIKey          string
	ChunkCollection string
	CacheCollection string
	Dims            uint64
}

// QdrantIndex implements Index and CacheStore backed by Qdrant.
type QdrantIndex struct {
	client          *qdrant.Client
	chunkCollection string
	cacheCollection string
	dims            uint64
	logger          *slog.Logger

	healthGroup singleflight.Group
	healthErr   atomic.Value // stores *error (pointer-to-error, never nil pointer; inner error may be nil)
	healthAt    atomic.Int64 // unix nanos of last check
}

// parseQdrantURL extracts host, port, and TLS flag from a Qdrant URL.
// Accepts forms like "https://host:6333", "http://host:6333", or "host:6334".
func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("search: invalid qdrant URL: %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()

	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("search: invalid port in qdrant URL: %q", portStr)
		}
		// If the user specified the REST port (6333), use the gRPC port (6334).
		if p == 6333 {
			port = 6334
		} else {
			port = p
		}
	} else {
		port = 6334
	}

	return host, port, useTLS, nil
}

// NewQdrantIndex creates a new QdrantIndex and connects to the Qdrant server via gRPC.
func NewQdrantIndex(cfg QdrantConfig, logger *slog.Logger) (*QdrantIndex, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("search: connect to qdrant at %s:%d: %w", host, port, err)
	}

	return &QdrantIndex{
		client:          client,
		chunkCollection: cfg.ChunkCollection,
		cacheCollection: cfg.CacheCollection,
		dims:            cfg.Dims,
		logger:          logger,
	}, nil
}

// EnsureCollections creates the chunk and cache collections if missing and
// ensures payload indexes are present. CreateFieldIndex is idempotent on
// Qdrant, so index creation is always attempted to backfill indexes added
// after a collection was first created.
func (q *QdrantIndex) EnsureCollections(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.chunkCollection)
	if err != nil {
		return fmt.Errorf("search: check chunk collection exists: %w", err)
	}

	if !exists {
		m := uint64(16)
		efConstruct := uint64(128)

		if err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.chunkCollection,
			VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
				DenseVectorName: {
					Size:     q.dims,
					Distance: qdrant.Distance_Cosine,
					HnswConfig: &qdrant.HnswConfigDiff{
						M:           &m,
						EfConstruct: &efConstruct,
					},
				},
			}),
			SparseVectorsConfig: qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
				SparseVectorName: {},
			}),
		}); err != nil {
			return fmt.Errorf("search: create collection %q: %w", q.chunkCollection, err)
		}
		q.logger.Info("qdrant: created chunk collection", "collection", q.chunkCollection, "dims", q.dims)
	}

	keywordType := qdrant.FieldType_FieldTypeKeyword
	for _, field := range []string{"document_id", "parent_chunk_id"} {
		if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.chunkCollection,
			FieldName:      field,
			FieldType:      &keywordType,
		}); err != nil {
			return fmt.Errorf("search: ensure index on %q: %w", field, err)
		}
	}

	// The cache collection lives in its own namespace so cached queries can
	// never leak into chunk probes. Dense-only, single unnamed vector.
	cacheExists, err := q.client.CollectionExists(ctx, q.cacheCollection)
	if err != nil {
		return fmt.Errorf("search: check cache collection exists: %w", err)
	}
	if !cacheExists {
		if err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.cacheCollection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     q.dims,
				Distance: qdrant.Distance_Cosine,
			}),
		}); err != nil {
			return fmt.Errorf("search: create collection %q: %w", q.cacheCollection, err)
		}
		q.logger.Info("qdrant: created cache collection", "collection", q.cacheCollection)
	}

	floatType := qdrant.FieldType_FieldTypeFloat
	if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: q.cacheCollection,
		FieldName:      "created_at_ms",
		FieldType:      &floatType,
	}); err != nil {
		return fmt.Errorf("search: ensure index on created_at_ms: %w", err)
	}

	return nil
}

// accessConditions converts an access filter into Qdrant must-conditions.
// AllowAll yields no conditions. Callers must short-circuit empty filters
// before probing; this is a second line of defense, not the primary one.
func accessConditions(filter model.AccessFilter) []*qdrant.Condition {
	if filter.AllowAll() {
		return nil
	}
	return []*qdrant.Condition{
		qdrant.NewMatchKeywords("document_id", filter.DocumentIDs()...),
	}
}

// Dense runs an ANN probe over the chunk collection's dense vectors.
func (q *QdrantIndex) Dense(ctx context.Context, vector []float32, filter model.AccessFilter, limit int) ([]Hit, error) {
	if filter.Empty() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	fetchLimit := uint64(limit) //nolint:gosec // limit is bounded by config
	query := &qdrant.QueryPoints{
		CollectionName: q.chunkCollection,
		Query:          qdrant.NewQueryDense(vector),
		Using:          qdrant.PtrOf(DenseVectorName),
		Limit:          &fetchLimit,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if must := accessConditions(filter); must != nil {
		query.Filter = &qdrant.Filter{Must: must}
	}

	scored, err := q.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: qdrant dense query: %w", err)
	}
	return q.toHits(scored), nil
}

// Sparse runs a term-weighted probe over the chunk collection's sparse vectors.
func (q *QdrantIndex) Sparse(ctx context.Context, sq SparseQuery, filter model.AccessFilter, limit int) ([]Hit, error) {
	if filter.Empty() || len(sq.Indices) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	fetchLimit := uint64(limit) //nolint:gosec // limit is bounded by config
	query := &qdrant.QueryPoints{
		CollectionName: q.chunkCollection,
		Query:          qdrant.NewQuerySparse(sq.Indices, sq.Values),
		Using:          qdrant.PtrOf(SparseVectorName),
		Limit:          &fetchLimit,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if must := accessConditions(filter); must != nil {
		query.Filter = &qdrant.Filter{Must: must}
	}

	scored, err := q.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: qdrant sparse query: %w", err)
	}
	return q.toHits(scored), nil
}

// toHits converts Qdrant scored points to Hits, dropping malformed points.
func (q *QdrantIndex) toHits(scored []*qdrant.ScoredPoint) []Hit {
	hits := make([]Hit, 0, len(scored))
	for _, sp := range scored {
		idStr := sp.Id.GetUuid()
		if idStr == "" {
			continue
		}
		payload := sp.Payload
		hit := Hit{
			ChildChunkID: idStr,
			Score:        sp.Score,
		}
		if v, ok := payload["parent_chunk_id"]; ok {
			hit.ParentChunkID = v.GetStringValue()
		}
		if v, ok := payload["document_id"]; ok {
			hit.DocumentID = v.GetStringValue()
		}
		if v, ok := payload["content"]; ok {
			hit.Content = v.GetStringValue()
		}
		if hit.DocumentID == "" {
			q.logger.Warn("qdrant: point missing document_id payload, dropping", "id", idStr)
			continue
		}
		hits = append(hits, hit)
	}
	return hits
}

// NearestCached returns the single nearest cache entry written at or after
// freshAfterMs, or nil on miss. Similarity thresholding is the caller's job;
// the store only enforces freshness.
func (q *QdrantIndex) NearestCached(ctx context.Context, vector []float32, freshAfterMs int64) (*CacheHit, error) {
	one := uint64(1)
	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.cacheCollection,
		Query:          qdrant.NewQueryDense(vector),
		Filter: &qdrant.Filter{Must: []*qdrant.Condition{
			qdrant.NewRange("created_at_ms", &qdrant.Range{
				Gte: qdrant.PtrOf(float64(freshAfterMs)),
			}),
		}},
		Limit:       &one,
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("search: qdrant cache query: %w", err)
	}
	if len(scored) == 0 {
		return nil, nil
	}

	sp := scored[0]
	hit := &CacheHit{Score: sp.Score}
	if v, ok := sp.Payload["query_text"]; ok {
		hit.QueryText = v.GetStringValue()
	}
	if v, ok := sp.Payload["contexts"]; ok {
		hit.ContextsJSON = []byte(v.GetStringValue())
	}
	if v, ok := sp.Payload["created_at_ms"]; ok {
		hit.CreatedAtMs = int64(v.GetDoubleValue())
	}
	return hit, nil
}

// UpsertCached writes or replaces a cache entry. The point id is derived
// from the query text by the caller, so identical queries upsert in place
// without core-level locking.
func (q *QdrantIndex) UpsertCached(ctx context.Context, point CachePoint) error {
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cacheCollection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(point.ID.String()),
			Vectors: qdrant.NewVectorsDense(point.Vector),
			Payload: qdrant.NewValueMap(map[string]any{
				"query_text":    point.QueryText,
				"contexts":      string(point.ContextsJSON),
				"created_at_ms": float64(point.CreatedAtMs),
			}),
		}},
	})
	if err != nil {
		return fmt.Errorf("search: qdrant cache upsert: %w", err)
	}
	return nil
}

// PurgeExpired deletes cache entries written before cutoffMs.
func (q *QdrantIndex) PurgeExpired(ctx context.Context, cutoffMs int64) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.cacheCollection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						qdrant.NewRange("created_at_ms", &qdrant.Range{
							Lt: qdrant.PtrOf(float64(cutoffMs)),
						}),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("search: qdrant purge expired cache: %w", err)
	}
	return nil
}

// Healthy returns nil if Qdrant is reachable. Results are cached for 5 seconds
// to avoid hammering the health endpoint on every request. Concurrent calls
// after cache expiry are deduplicated via singleflight so only one gRPC call
// is made; all waiters share its result.
func (q *QdrantIndex) Healthy(ctx context.Context) error {
	// Fast path: return the cached result if fresh.
	if time.Since(time.Unix(0, q.healthAt.Load())) < 5*time.Second {
		return q.loadHealthErr()
	}

	// Deduplicate concurrent checks. Use context.Background() instead of the
	// caller's ctx because singleflight reuses the first caller's context —
	// if that caller cancels, all waiters would get a stale error.
	result, _, _ := q.healthGroup.Do("health", func() (any, error) {
		checkCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		_, err := q.client.HealthCheck(checkCtx)
		if err != nil {
			wrapped := fmt.Errorf("search: qdrant unhealthy: %w", err)
			q.storeHealthErr(wrapped)
		} else {
			q.storeHealthErr(nil)
		}
		q.healthAt.Store(time.Now().UnixNano())
		return q.loadHealthErr(), nil
	})
	if result == nil {
		return nil
	}
	return result.(error)
}

// storeHealthErr stores an error (or nil) in the atomic.Value.
// atomic.Value cannot store nil directly, so we wrap it in a pointer.
func (q *QdrantIndex) storeHealthErr(err error) {
	q.healthErr.Store(&err)
}

// loadHealthErr loads the cached health error.
func (q *QdrantIndex) loadHealthErr() error {
	v := q.healthErr.Load()
	if v == nil {
		return nil
	}
	return *v.(*error)
}

// Close shuts down the Qdrant gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
