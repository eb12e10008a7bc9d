// Package analyze turns a raw query into the artifacts the retriever probes
// with: the base embedding, an optional cleaned rewrite, a HyDE passage,
// paraphrased reformulations, and eagerly generated sub-questions.
//
// Only the base embedding is required. Every LLM-derived artifact is
// best-effort: a failed call leaves the artifact absent and adds a warning,
// and retrieval proceeds on whatever was produced.
package analyze

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/kensaku/internal/model"
	"github.com/ashita-ai/kensaku/internal/service/embedding"
	"github.com/ashita-ai/kensaku/internal/service/llm"
)

const (
	maxReformulations = 3
	maxDecompositions = 3
)

// Analysis holds the artifacts for one analyzer pass. Absent artifacts are
// zero-valued; HasRewrite/HasHyde report presence.
type Analysis struct {
	QueryEmbedding pgvector.Vector

	RewrittenQuery   string
	RewriteEmbedding pgvector.Vector

	HydePassage   string
	HydeEmbedding pgvector.Vector

	Reformulations          []string
	ReformulationEmbeddings []pgvector.Vector

	// Decompositions are generated eagerly but only executed if the
	// sufficiency controller triggers decomposition.
	Decompositions []string

	// Warnings collects non-fatal artifact failures for the request metrics.
	Warnings []string
}

// HasRewrite reports whether a rewritten query and its embedding exist.
func (a *Analysis) HasRewrite() bool { return a.RewrittenQuery != "" }

// HasHyde reports whether a HyDE passage and its embedding exist.
func (a *Analysis) HasHyde() bool { return a.HydePassage != "" }

// Analyzer produces Analysis values. Safe for concurrent use.
type Analyzer struct {
	embedder     embedding.Provider
	completer    llm.Provider
	embedTimeout time.Duration
	llmTimeout   time.Duration
	logger       *slog.Logger
}

// New creates an Analyzer.
func New(embedder embedding.Provider, completer llm.Provider, embedTimeout, llmTimeout time.Duration, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		embedder:     embedder,
		completer:    completer,
		embedTimeout: embedTimeout,
		llmTimeout:   llmTimeout,
		logger:       logger,
	}
}

// EmbedQuery computes the base query embedding. This runs before any LLM
// artifact so the semantic cache can be consulted without paying for
// analysis; the result is then threaded into Analyze.
//
// Returns ErrEmbeddingUnavailable on failure; the request cannot proceed
// without a base embedding.
func (a *Analyzer) EmbedQuery(ctx context.Context, query string) (pgvector.Vector, error) {
	embedCtx, cancel := context.WithTimeout(ctx, a.embedTimeout)
	defer cancel()
	vec, err := a.embedder.Embed(embedCtx, query)
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("%w: %v", model.ErrEmbeddingUnavailable, err)
	}
	return vec, nil
}

// Analyze computes the LLM-derived artifacts for query around a base
// embedding from EmbedQuery. attempt is 0 on the first pass and increments
// on each adaptive retry; retries ask for one more reformulation (capped)
// and a lower HyDE temperature to vary recall.
//
// Analyze never fails: every artifact is best-effort and failures surface
// only in Warnings.
func (a *Analyzer) Analyze(ctx context.Context, query string, baseEmbedding pgvector.Vector, attempt int) *Analysis {
	out := &Analysis{QueryEmbedding: baseEmbedding}
	var mu sync.Mutex
	warn := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		a.logger.Warn("analyze: " + msg)
		mu.Lock()
		out.Warnings = append(out.Warnings, msg)
		mu.Unlock()
	}

	hydeTemp := max(0.7-0.2*float64(attempt), 0.1)
	reformCount := min(2+attempt, maxReformulations)

	// Artifact calls are independent; run them together. Failures never
	// propagate as errors, so the group's error is always nil.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		passage, err := a.complete(gctx, hydePromptSystem, query, llm.Options{Temperature: hydeTemp, MaxTokens: 256})
		if err != nil {
			warn("hyde generation failed: %v", err)
			return nil
		}
		vec, err := a.embedWithTimeout(gctx, passage)
		if err != nil {
			warn("hyde embedding failed: %v", err)
			return nil
		}
		mu.Lock()
		out.HydePassage = passage
		out.HydeEmbedding = vec
		mu.Unlock()
		return nil
	})

	if queryLooksNoisy(query) {
		g.Go(func() error {
			rewritten, err := a.complete(gctx, rewritePromptSystem, query, llm.Options{Temperature: 0.0, MaxTokens: 128})
			if err != nil {
				warn("rewrite failed: %v", err)
				return nil
			}
			rewritten = strings.TrimSpace(rewritten)
			if rewritten == "" || strings.EqualFold(rewritten, query) {
				return nil
			}
			vec, err := a.embedWithTimeout(gctx, rewritten)
			if err != nil {
				warn("rewrite embedding failed: %v", err)
				return nil
			}
			mu.Lock()
			out.RewrittenQuery = rewritten
			out.RewriteEmbedding = vec
			mu.Unlock()
			return nil
		})
	}

	g.Go(func() error {
		raw, err := a.complete(gctx, fmt.Sprintf(reformulatePromptSystem, reformCount), query, llm.Options{Temperature: 0.8, MaxTokens: 256})
		if err != nil {
			warn("reformulation failed: %v", err)
			return nil
		}
		reforms := parseLines(raw, reformCount)
		if len(reforms) == 0 {
			return nil
		}
		vecs, err := a.embedder.EmbedBatch(gctx, reforms)
		if err != nil {
			warn("reformulation embedding failed: %v", err)
			return nil
		}
		mu.Lock()
		out.Reformulations = reforms
		out.ReformulationEmbeddings = vecs
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		raw, err := a.complete(gctx, decomposePromptSystem, query, llm.Options{Temperature: 0.2, MaxTokens: 256})
		if err != nil {
			warn("decomposition failed: %v", err)
			return nil
		}
		subs := parseLines(raw, maxDecompositions)
		mu.Lock()
		out.Decompositions = subs
		mu.Unlock()
		return nil
	})

	_ = g.Wait()
	return out
}

func (a *Analyzer) complete(ctx context.Context, system, user string, opts llm.Options) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.llmTimeout)
	defer cancel()
	return a.completer.Complete(ctx, system, user, opts)
}

func (a *Analyzer) embedWithTimeout(ctx context.Context, text string) (pgvector.Vector, error) {
	ctx, cancel := context.WithTimeout(ctx, a.embedTimeout)
	defer cancel()
	return a.embedder.Embed(ctx, text)
}

// ambiguous pronouns that usually signal the query depends on missing context
var noisyPronouns = map[string]bool{
	"it": true, "they": true, "them": true, "this": true, "that": true,
	"these": true, "those": true, "he": true, "she": true,
}

// queryLooksNoisy gates the rewrite artifact: very short queries and queries
// leaning on ambiguous pronouns benefit from an LLM cleanup pass, the rest
// retrieve fine as-is.
func queryLooksNoisy(query string) bool {
	words := strings.Fields(strings.ToLower(query))
	if len(words) < 4 {
		return true
	}
	for _, w := range words {
		if noisyPronouns[strings.Trim(w, ".,!?;:")] {
			return true
		}
	}
	return false
}

// parseLines splits an LLM listing into at most limit cleaned lines,
// stripping bullets and numeric prefixes.
func parseLines(raw string, limit int) []string {
	var out []string
	for line := range strings.Lines(raw) {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789.) \t")
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == limit {
			break
		}
	}
	return out
}
