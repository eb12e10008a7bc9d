// Package retrieve runs the concurrent probe fan-out against the chunk
// index: dense probes for the query and each analyzer artifact, one sparse
// probe over the tokenized query, and dense probes for decomposed
// sub-queries when the controller triggers them.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/kensaku/internal/analyze"
	"github.com/ashita-ai/kensaku/internal/model"
	"github.com/ashita-ai/kensaku/internal/search"
	"github.com/ashita-ai/kensaku/internal/service/embedding"
)

// Config bounds the probe fan-out.
type Config struct {
	ProbeTimeout        time.Duration
	MaxConcurrentProbes int
	EmbedTimeout        time.Duration
}

// Retriever fans probes out over the index with bounded concurrency.
// Safe for concurrent use.
type Retriever struct {
	index    search.Index
	embedder embedding.Provider
	cfg      Config
	logger   *slog.Logger
}

// New creates a Retriever. The embedder is only used for sub-query probes;
// primary probes reuse embeddings produced by the analyzer.
func New(index search.Index, embedder embedding.Provider, cfg Config, logger *slog.Logger) *Retriever {
	if cfg.MaxConcurrentProbes <= 0 {
		cfg.MaxConcurrentProbes = 4
	}
	return &Retriever{index: index, embedder: embedder, cfg: cfg, logger: logger}
}

// probe is one planned index call.
type probe struct {
	label  string
	source model.ProbeSource
	run    func(ctx context.Context) ([]search.Hit, error)
}

// Retrieve runs every probe the analysis supports and returns one ranked
// result list per successful probe. Individual probe failures degrade to
// warnings; only total failure returns ErrRetrievalFailed.
//
// An empty access filter short-circuits to zero probes and zero results.
func (r *Retriever) Retrieve(ctx context.Context, query string, analysis *analyze.Analysis, filter model.AccessFilter, candidatesPerProbe int) ([]model.ProbeResult, []string, error) {
	if filter.Empty() {
		return nil, nil, nil
	}

	probes := []probe{
		r.denseProbe("dense", model.SourceDense, analysis.QueryEmbedding.Slice(), filter, candidatesPerProbe),
	}
	if analysis.HasHyde() {
		probes = append(probes, r.denseProbe("hyde", model.SourceHyde, analysis.HydeEmbedding.Slice(), filter, candidatesPerProbe))
	}
	if analysis.HasRewrite() {
		probes = append(probes, r.denseProbe("rewrite", model.SourceRewrite, analysis.RewriteEmbedding.Slice(), filter, candidatesPerProbe))
	}
	for i, vec := range analysis.ReformulationEmbeddings {
		label := fmt.Sprintf("reformulation_%d", i+1)
		probes = append(probes, r.denseProbe(label, model.SourceReformulation, vec.Slice(), filter, candidatesPerProbe))
	}
	if sparse := EncodeSparse(query); len(sparse.Indices) > 0 {
		probes = append(probes, probe{
			label:  "sparse",
			source: model.SourceSparse,
			run: func(ctx context.Context) ([]search.Hit, error) {
				return r.index.Sparse(ctx, sparse, filter, candidatesPerProbe)
			},
		})
	}

	return r.runProbes(ctx, probes)
}

// SubQueries embeds each decomposed sub-query and runs one dense probe per
// sub-query, tagged source=subquery. Per-sub-query failures degrade to
// warnings; a fully failed pass returns no results and only warnings, never
// an error, because sub-queries supplement an already-retrieved set.
func (r *Retriever) SubQueries(ctx context.Context, subs []string, filter model.AccessFilter, candidatesPerProbe int) ([]model.ProbeResult, []string) {
	if filter.Empty() || len(subs) == 0 {
		return nil, nil
	}

	var warnings []string
	probes := make([]probe, 0, len(subs))
	for i, sub := range subs {
		embedCtx, cancel := context.WithTimeout(ctx, r.cfg.EmbedTimeout)
		vec, err := r.embedder.Embed(embedCtx, sub)
		cancel()
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("subquery %d embedding failed: %v", i+1, err))
			continue
		}
		label := fmt.Sprintf("subquery_%d", i+1)
		probes = append(probes, r.denseProbe(label, model.SourceSubquery, vec.Slice(), filter, candidatesPerProbe))
	}

	results, probeWarnings, err := r.runProbes(ctx, probes)
	warnings = append(warnings, probeWarnings...)
	if err != nil {
		warnings = append(warnings, err.Error())
	}
	return results, warnings
}

func (r *Retriever) denseProbe(label string, source model.ProbeSource, vector []float32, filter model.AccessFilter, limit int) probe {
	return probe{
		label:  label,
		source: source,
		run: func(ctx context.Context) ([]search.Hit, error) {
			return r.index.Dense(ctx, vector, filter, limit)
		},
	}
}

// runProbes executes probes with bounded concurrency and per-probe
// deadlines. Output order matches input order regardless of completion
// order, so downstream fusion is deterministic.
func (r *Retriever) runProbes(ctx context.Context, probes []probe) ([]model.ProbeResult, []string, error) {
	if len(probes) == 0 {
		return nil, nil, nil
	}

	hits := make([][]search.Hit, len(probes))
	errs := make([]error, len(probes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.MaxConcurrentProbes)
	for i, p := range probes {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(gctx, r.cfg.ProbeTimeout)
			defer cancel()

			start := time.Now()
			result, err := p.run(probeCtx)
			if err != nil {
				errs[i] = fmt.Errorf("probe %s: %w", p.label, err)
				return nil
			}
			hits[i] = result
			r.logger.Debug("retrieve: probe complete",
				"probe", p.label, "hits", len(result), "elapsed", time.Since(start))
			return nil
		})
	}
	_ = g.Wait()

	var (
		results  []model.ProbeResult
		warnings []string
		failed   int
	)
	for i, p := range probes {
		if errs[i] != nil {
			failed++
			warnings = append(warnings, errs[i].Error())
			continue
		}
		results = append(results, model.ProbeResult{
			Label:  p.label,
			Source: p.source,
			Hits:   toScored(hits[i], p.source),
		})
	}
	if failed == len(probes) {
		return nil, warnings, fmt.Errorf("%w: all %d probes failed", model.ErrRetrievalFailed, failed)
	}
	return results, warnings, nil
}

func toScored(hits []search.Hit, source model.ProbeSource) []model.ScoredResult {
	out := make([]model.ScoredResult, len(hits))
	for i, h := range hits {
		out[i] = model.ScoredResult{
			ChildChunkID:  h.ChildChunkID,
			ParentChunkID: h.ParentChunkID,
			DocumentID:    h.DocumentID,
			Content:       h.Content,
			Score:         h.Score,
			Source:        source,
		}
	}
	return out
}
