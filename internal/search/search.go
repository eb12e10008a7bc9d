// Package search provides the vector store access layer backed by Qdrant:
// dense and sparse probes over the chunk collection, plus the dedicated
// semantic-cache collection.
package search

import (
	"context"

	"github.com/google/uuid"

	"github.com/ashita-ai/kensaku/internal/model"
)

// Vector names inside the chunk collection. The ingestion pipeline writes
// both; probes pick one via the Qdrant "using" selector.
const (
	DenseVectorName  = "dense"
	SparseVectorName = "sparse"
)

// Hit is a single child-chunk match from one probe, with the probe's
// native score (cosine similarity for dense, BM25-ish dot product for sparse).
type Hit struct {
	ChildChunkID  string
	ParentChunkID string
	DocumentID    string
	Content       string
	Score         float32
}

// SparseQuery is a sparse (term-weighted) probe vector. Indices and Values
// must have equal length.
type SparseQuery struct {
	Indices []uint32
	Values  []float32
}

// Index is the chunk-collection probe interface.
// Implementations must be safe for concurrent use; every probe honors the
// access filter store-side so restricted documents never leave the index.
type Index interface {
	// Dense runs an ANN probe with the given embedding.
	Dense(ctx context.Context, vector []float32, filter model.AccessFilter, limit int) ([]Hit, error)

	// Sparse runs a term-based probe with the given sparse vector.
	Sparse(ctx context.Context, query SparseQuery, filter model.AccessFilter, limit int) ([]Hit, error)

	// Healthy returns nil if the index is reachable.
	Healthy(ctx context.Context) error
}

// CachePoint is one semantic-cache entry keyed by query embedding.
// ID is content-addressed (uuid5 of the query text) so repeated stores of
// the same query upsert in place.
type CachePoint struct {
	ID           uuid.UUID
	Vector       []float32
	QueryText    string
	ContextsJSON []byte
	CreatedAtMs  int64
}

// CacheHit is the nearest cached entry and its similarity to the probe.
type CacheHit struct {
	Score        float32
	QueryText    string
	ContextsJSON []byte
	CreatedAtMs  int64
}

// CacheStore is the semantic-cache collection interface.
type CacheStore interface {
	// NearestCached returns the single nearest fresh entry, or nil on miss.
	// freshAfterMs excludes entries written before that timestamp (TTL).
	NearestCached(ctx context.Context, vector []float32, freshAfterMs int64) (*CacheHit, error)

	// UpsertCached writes or replaces a cache entry.
	UpsertCached(ctx context.Context, point CachePoint) error

	// PurgeExpired deletes entries written before cutoffMs.
	PurgeExpired(ctx context.Context, cutoffMs int64) error
}
