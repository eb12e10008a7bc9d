package model

import "errors"

// Fatal error kinds. Anything not wrapping one of these (or the context
// cancellation errors) is treated as degraded and recorded in metrics
// warnings instead of failing the request.
var (
	// ErrInvalidInput rejects malformed requests: empty query, out-of-range
	// top_k, unavailable mode. No side effects have occurred.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEmbeddingUnavailable means the base query embedding could not be
	// produced; nothing downstream can run without it.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrFilterBuild means the access-control lookup failed. The pipeline
	// fails closed rather than falling back to an unrestricted filter.
	ErrFilterBuild = errors.New("access filter build failed")

	// ErrRetrievalFailed means every index probe failed.
	ErrRetrievalFailed = errors.New("retrieval failed")
)
