// Package rerank scores fused candidates against the original query using an
// external cross-encoder service. The reranker is strictly best-effort: any
// failure falls back to RRF ordering so the pipeline never stalls on it.
package rerank

import (
	"context"
	"log/slog"
	"sort"

	"github.com/ashita-ai/kensaku/internal/model"
)

// Scorer submits one query/texts batch to a cross-encoder and returns one
// relevance score per input text, in input order.
type Scorer interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// Reranker applies cross-encoder scoring with batching and RRF fallback.
type Reranker struct {
	scorer    Scorer
	batchSize int
	logger    *slog.Logger
}

// New creates a Reranker. A nil scorer means no cross-encoder is configured;
// every call then takes the fallback path.
func New(scorer Scorer, batchSize int, logger *slog.Logger) *Reranker {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Reranker{scorer: scorer, batchSize: batchSize, logger: logger}
}

// Rerank scores candidates and returns them sorted descending by rerank
// score. The second return reports whether the fallback path was taken: on
// any scorer error the fused ordering is preserved and RRF scores stand in
// for rerank scores.
//
// Candidates with empty content are dropped before submission; if none
// remain the result is empty.
func (r *Reranker) Rerank(ctx context.Context, query string, fused []model.FusedResult) ([]model.RerankedResult, bool) {
	candidates := make([]model.FusedResult, 0, len(fused))
	for _, f := range fused {
		if f.Content != "" {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}

	if r.scorer == nil {
		return fallback(candidates), true
	}

	scores := make([]float64, 0, len(candidates))
	for start := 0; start < len(candidates); start += r.batchSize {
		end := min(start+r.batchSize, len(candidates))

		texts := make([]string, 0, end-start)
		for _, c := range candidates[start:end] {
			texts = append(texts, c.Content)
		}

		batch, err := r.scorer.Score(ctx, query, texts)
		if err != nil || len(batch) != len(texts) {
			r.logger.Warn("rerank: scorer failed, falling back to fused order",
				"batch_start", start, "error", err)
			return fallback(candidates), true
		}
		scores = append(scores, batch...)
	}

	out := make([]model.RerankedResult, len(candidates))
	for i, c := range candidates {
		out[i] = model.RerankedResult{FusedResult: c, RerankScore: scores[i]}
	}
	// Cross-encoder scores for the same query are comparable across batches,
	// so one merged sort suffices.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RerankScore != out[j].RerankScore {
			return out[i].RerankScore > out[j].RerankScore
		}
		return out[i].ChildChunkID < out[j].ChildChunkID
	})
	return out, false
}

// fallback preserves fused order, substituting the RRF score.
func fallback(candidates []model.FusedResult) []model.RerankedResult {
	out := make([]model.RerankedResult, len(candidates))
	for i, c := range candidates {
		out[i] = model.RerankedResult{FusedResult: c, RerankScore: c.RRFScore}
	}
	return out
}
