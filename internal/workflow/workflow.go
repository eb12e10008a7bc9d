// Package workflow wires the retrieval pipeline: cache check, query
// analysis, access filtering, concurrent probe fan-out, fusion, reranking,
// small-to-big enrichment, the adaptive sufficiency loop, and the
// public-only cache write.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/kensaku/internal/analyze"
	"github.com/ashita-ai/kensaku/internal/cache"
	"github.com/ashita-ai/kensaku/internal/model"
)

// QueryAnalyzer produces the probe artifacts for a query.
type QueryAnalyzer interface {
	EmbedQuery(ctx context.Context, query string) (pgvector.Vector, error)
	Analyze(ctx context.Context, query string, baseEmbedding pgvector.Vector, attempt int) *analyze.Analysis
}

// FilterBuilder resolves the caller's document visibility.
type FilterBuilder interface {
	Build(ctx context.Context, user model.UserContext) (model.AccessFilter, error)
}

// ProbeRunner fans probes out over the chunk index.
type ProbeRunner interface {
	Retrieve(ctx context.Context, query string, analysis *analyze.Analysis, filter model.AccessFilter, candidatesPerProbe int) ([]model.ProbeResult, []string, error)
	SubQueries(ctx context.Context, subs []string, filter model.AccessFilter, candidatesPerProbe int) ([]model.ProbeResult, []string)
}

// Fuser merges probe result lists.
type Fuser interface {
	Fuse(probes []model.ProbeResult) []model.FusedResult
}

// Reranker scores fused candidates; the bool reports RRF fallback.
type Reranker interface {
	Rerank(ctx context.Context, query string, fused []model.FusedResult) ([]model.RerankedResult, bool)
}

// Enricher expands reranked children into parent contexts.
type Enricher interface {
	Enrich(ctx context.Context, reranked []model.RerankedResult) ([]model.Context, []string)
}

// SemanticCache is the query cache; Store reports suppression by the
// public-only write gate.
type SemanticCache interface {
	Lookup(ctx context.Context, vector []float32) (*cache.Entry, []string)
	Store(ctx context.Context, vector []float32, queryText string, contexts []model.Context) (bool, []string)
}

// Config tunes the engine.
type Config struct {
	CandidatesPerProbe int
	// RetryCandidateStep widens each retry's probes by this much.
	RetryCandidateStep int
	MaxIterations      int
	Sufficiency        SufficiencyConfig
	CacheEnabled       bool
	RequestDeadline    time.Duration
}

// Engine executes retrieval requests. It holds no per-request state and is
// safe for concurrent use; everything request-scoped lives in State.
type Engine struct {
	analyzer QueryAnalyzer
	filters  FilterBuilder
	prober   ProbeRunner
	fuser    Fuser
	reranker Reranker
	enricher Enricher
	cache    SemanticCache
	cfg      Config
	logger   *slog.Logger
}

// New creates an Engine.
func New(analyzer QueryAnalyzer, filters FilterBuilder, prober ProbeRunner, fuser Fuser, reranker Reranker, enricher Enricher, semCache SemanticCache, cfg Config, logger *slog.Logger) *Engine {
	if cfg.RetryCandidateStep <= 0 {
		cfg.RetryCandidateStep = 25
	}
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = 1
	}
	return &Engine{
		analyzer: analyzer,
		filters:  filters,
		prober:   prober,
		fuser:    fuser,
		reranker: reranker,
		enricher: enricher,
		cache:    semCache,
		cfg:      cfg,
		logger:   logger,
	}
}

// ExecuteWorkflow runs one request end to end and returns the final
// contexts with the request metrics. Fatal errors (invalid input, base
// embedding unavailable, filter build failure, total probe failure,
// cancellation) return an error; degraded paths land in metrics.Warnings.
func (e *Engine) ExecuteWorkflow(ctx context.Context, req model.QueryRequest, user model.UserContext) ([]model.Context, *model.Metrics, error) {
	if err := req.Normalize(); err != nil {
		return nil, nil, err
	}
	if e.cfg.RequestDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RequestDeadline)
		defer cancel()
	}

	st := &State{
		Request: req,
		User:    user,
		Stage:   StageInit,
		Metrics: model.NewMetrics(uuid.NewString()),
	}
	logger := e.logger.With("request_id", st.Metrics.RequestID, "user_id", user.UserID)

	contexts, err := e.run(ctx, st, logger)
	if err != nil {
		st.Stage = StageFailed
		logger.Error("workflow: request failed", "stage", st.Stage, "error", err)
		return nil, st.Metrics, err
	}
	st.Stage = StageComplete
	logger.Info("workflow: request complete",
		"contexts", len(contexts),
		"iterations", st.Metrics.Iterations,
		"sufficiency", st.Metrics.SufficiencyScore,
		"cache_hit", st.Metrics.CacheHit)
	return contexts, st.Metrics, nil
}

func (e *Engine) run(ctx context.Context, st *State, logger *slog.Logger) ([]model.Context, error) {
	query := st.Request.Text

	start := time.Now()
	base, err := e.analyzer.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	st.QueryEmbedding = base
	st.Metrics.RecordStage("embed", time.Since(start))

	if e.cacheUsable(st.Request) {
		start = time.Now()
		entry, warnings := e.cache.Lookup(ctx, base.Slice())
		st.Metrics.RecordStage("cache_lookup", time.Since(start))
		warnAll(st.Metrics, warnings)
		if entry != nil {
			st.Stage = StageCacheHitReturn
			st.Metrics.CacheHit = true
			logger.Info("workflow: cache hit", "cached_query", entry.QueryText)
			return entry.Contexts, nil
		}
	}

	start = time.Now()
	st.Filter, err = e.filters.Build(ctx, st.User)
	if err != nil {
		return nil, err
	}
	st.Stage = StageFilterBuilt
	st.Metrics.RecordStage("filter", time.Since(start))

	// An empty whitelist short-circuits the whole retrieval path: no
	// probes, no reranker, no metadata fetches, just an empty answer.
	if st.Filter.Empty() {
		st.Metrics.Iterations = 0
		return nil, nil
	}

	if err := e.retrieveLoop(ctx, st, logger); err != nil {
		return nil, err
	}

	if !st.sufficient(e.cfg.Sufficiency.Threshold) && len(st.Analysis.Decompositions) > 0 && !st.Decomposed {
		e.decompose(ctx, st, logger)
	}

	contexts := st.Enriched
	if len(contexts) > st.Request.TopK {
		contexts = contexts[:st.Request.TopK]
	}

	if e.cacheUsable(st.Request) && len(contexts) > 0 {
		start = time.Now()
		suppressed, warnings := e.cache.Store(ctx, st.QueryEmbedding.Slice(), query, contexts)
		st.Metrics.RecordStage("cache_store", time.Since(start))
		st.Metrics.CacheWriteSuppressed = suppressed
		warnAll(st.Metrics, warnings)
	}
	return contexts, ctx.Err()
}

// retrieveLoop runs analyze -> retrieve -> fuse -> rerank -> enrich up to
// MaxIterations times, widening each pass until the enriched set clears the
// sufficiency threshold.
func (e *Engine) retrieveLoop(ctx context.Context, st *State, logger *slog.Logger) error {
	for iter := 0; iter < e.cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		st.Iteration = iter
		st.Metrics.Iterations = iter + 1
		candidates := e.cfg.CandidatesPerProbe + iter*e.cfg.RetryCandidateStep

		start := time.Now()
		st.Analysis = e.analyzer.Analyze(ctx, st.Request.Text, st.QueryEmbedding, iter)
		st.Stage = StageAnalyzed
		st.Metrics.RecordStage("analyze", time.Since(start))
		warnAll(st.Metrics, st.Analysis.Warnings)

		start = time.Now()
		probes, warnings, err := e.prober.Retrieve(ctx, st.Request.Text, st.Analysis, st.Filter, candidates)
		st.Metrics.RecordStage("retrieve", time.Since(start))
		warnAll(st.Metrics, warnings)
		if err != nil {
			return err
		}
		st.Probes = probes
		st.Stage = StageRetrieved
		for _, p := range probes {
			st.Metrics.CountSource(p.Source, len(p.Hits))
		}

		e.rankAndEnrich(ctx, st)

		st.Stage = StageAssess
		if st.sufficient(e.cfg.Sufficiency.Threshold) {
			return nil
		}
		logger.Info("workflow: insufficient, retrying",
			"iteration", iter+1,
			"sufficiency", st.Assessment.Score,
			"candidates_per_probe", candidates)
	}
	return nil
}

// decompose runs the sub-query executor once and re-enters fusion with the
// merged probe set. It never re-runs analysis.
func (e *Engine) decompose(ctx context.Context, st *State, logger *slog.Logger) {
	if err := ctx.Err(); err != nil {
		return
	}
	st.Decomposed = true
	st.Metrics.DecompositionTriggered = true
	candidates := e.cfg.CandidatesPerProbe + (e.cfg.MaxIterations-1)*e.cfg.RetryCandidateStep

	start := time.Now()
	subProbes, warnings := e.prober.SubQueries(ctx, st.Analysis.Decompositions, st.Filter, candidates)
	st.Metrics.RecordStage("subqueries", time.Since(start))
	warnAll(st.Metrics, warnings)
	st.Stage = StageSubqueriesRun
	if len(subProbes) == 0 {
		return
	}
	for _, p := range subProbes {
		st.Metrics.CountSource(p.Source, len(p.Hits))
	}

	st.Probes = append(st.Probes, subProbes...)
	e.rankAndEnrich(ctx, st)
	logger.Info("workflow: decomposition merged",
		"subqueries", len(subProbes), "sufficiency", st.Assessment.Score)
}

// rankAndEnrich runs fusion, rerank, and enrichment over st.Probes and
// refreshes the assessment.
func (e *Engine) rankAndEnrich(ctx context.Context, st *State) {
	start := time.Now()
	st.Fused = e.fuser.Fuse(st.Probes)
	st.Stage = StageFused
	st.Metrics.RecordStage("fusion", time.Since(start))

	start = time.Now()
	var fallback bool
	st.Reranked, fallback = e.reranker.Rerank(ctx, st.Request.Text, st.Fused)
	if fallback {
		st.Metrics.RerankFallbackTriggered = true
		st.Metrics.Warn("reranker unavailable, served RRF order")
	}
	st.Stage = StageReranked
	st.Metrics.RecordStage("rerank", time.Since(start))

	start = time.Now()
	var warnings []string
	st.Enriched, warnings = e.enricher.Enrich(ctx, st.Reranked)
	warnAll(st.Metrics, warnings)
	st.Stage = StageEnriched
	st.Metrics.RecordStage("enrich", time.Since(start))

	st.Assessment = Assess(st.Enriched, st.Request.TopK, e.cfg.Sufficiency)
	st.Metrics.SufficiencyScore = st.Assessment.Score
}

func (e *Engine) cacheUsable(req model.QueryRequest) bool {
	if e.cache == nil || !e.cfg.CacheEnabled {
		return false
	}
	return req.UseCache == nil || *req.UseCache
}

func (st *State) sufficient(threshold float64) bool {
	return st.Assessment.Score >= threshold
}

func warnAll(m *model.Metrics, warnings []string) {
	for _, w := range warnings {
		m.Warn(w)
	}
}

// ErrUnavailable reports a dependency outage distinct from request errors;
// hosts map it to a 503.
var ErrUnavailable = errors.New("workflow: dependency unavailable")

// Fatal classifies err for transport mapping: invalid input maps to 400,
// everything else fatal maps to 502/503.
func Fatal(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, model.ErrInvalidInput):
		return err
	case errors.Is(err, model.ErrEmbeddingUnavailable),
		errors.Is(err, model.ErrRetrievalFailed),
		errors.Is(err, model.ErrFilterBuild):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return err
	}
}
