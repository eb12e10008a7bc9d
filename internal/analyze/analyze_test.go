package analyze

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kensaku/internal/model"
	"github.com/ashita-ai/kensaku/internal/service/llm"
	"github.com/ashita-ai/kensaku/internal/testutil"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) (pgvector.Vector, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	f.mu.Unlock()
	if f.err != nil {
		return pgvector.Vector{}, f.err
	}
	return pgvector.NewVector([]float32{float32(len(text)), 1}), nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	vecs := make([]pgvector.Vector, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		vecs[i] = v
	}
	return vecs, nil
}

func (f *fakeEmbedder) Dimensions() int { return 2 }

// fakeCompleter routes on the system prompt so each artifact gets a
// distinct canned answer.
type fakeCompleter struct {
	hyde      string
	rewrite   string
	reform    string
	decompose string
	err       error
}

func (f *fakeCompleter) Complete(_ context.Context, system, _ string, _ llm.Options) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	switch {
	case strings.Contains(system, "factual passage"):
		return f.hyde, nil
	case strings.Contains(system, "clean up search queries"):
		return f.rewrite, nil
	case strings.Contains(system, "alternative phrasings"):
		return f.reform, nil
	default:
		return f.decompose, nil
	}
}

func newAnalyzer(e *fakeEmbedder, c *fakeCompleter) *Analyzer {
	return New(e, c, time.Second, time.Second, testutil.TestLogger())
}

func mustAnalyze(t *testing.T, a *Analyzer, query string, attempt int) *Analysis {
	t.Helper()
	base, err := a.EmbedQuery(context.Background(), query)
	require.NoError(t, err)
	return a.Analyze(context.Background(), query, base, attempt)
}

func TestAnalyzeProducesAllArtifacts(t *testing.T) {
	embedder := &fakeEmbedder{}
	completer := &fakeCompleter{
		hyde:      "A plausible passage about regions.",
		rewrite:   "Which cloud region has the lowest latency?",
		reform:    "best region for low latency\nfastest cloud region",
		decompose: "What regions exist?\nHow is latency measured?",
	}
	a := newAnalyzer(embedder, completer)

	// Short query triggers the rewrite heuristic.
	out := mustAnalyze(t, a, "lowest latency region?", 0)

	assert.NotEmpty(t, out.QueryEmbedding.Slice())
	assert.True(t, out.HasHyde())
	assert.True(t, out.HasRewrite())
	assert.Equal(t, []string{"best region for low latency", "fastest cloud region"}, out.Reformulations)
	assert.Len(t, out.ReformulationEmbeddings, 2)
	assert.Equal(t, []string{"What regions exist?", "How is latency measured?"}, out.Decompositions)
	assert.Empty(t, out.Warnings)
}

func TestEmbedQueryRequired(t *testing.T) {
	embedder := &fakeEmbedder{err: errors.New("model offline")}
	a := newAnalyzer(embedder, &fakeCompleter{})

	_, err := a.EmbedQuery(context.Background(), "any query at all here")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrEmbeddingUnavailable)
}

func TestAnalyzeLLMFailureIsDegraded(t *testing.T) {
	embedder := &fakeEmbedder{}
	a := newAnalyzer(embedder, &fakeCompleter{err: errors.New("llm down")})

	out := mustAnalyze(t, a, "how does billing work for shared clusters", 0)
	assert.NotEmpty(t, out.QueryEmbedding.Slice())
	assert.False(t, out.HasHyde())
	assert.Empty(t, out.Reformulations)
	assert.NotEmpty(t, out.Warnings)
}

func TestAnalyzeNoopProviderDegrades(t *testing.T) {
	embedder := &fakeEmbedder{}
	a := New(embedder, llm.NoopProvider{}, time.Second, time.Second, testutil.TestLogger())

	out := mustAnalyze(t, a, "how does billing work for shared clusters", 0)
	assert.False(t, out.HasHyde())
	assert.False(t, out.HasRewrite())
}

func TestAnalyzeRewriteGating(t *testing.T) {
	embedder := &fakeEmbedder{}
	completer := &fakeCompleter{rewrite: "rewritten", hyde: "passage"}
	a := newAnalyzer(embedder, completer)

	// Long, pronoun-free query: no rewrite probe.
	out := mustAnalyze(t, a, "compare storage costs between standard and archive tiers", 0)
	assert.False(t, out.HasRewrite())

	// Ambiguous pronoun: rewrite applies.
	out = mustAnalyze(t, a, "why is it slower than the other one", 0)
	assert.True(t, out.HasRewrite())
}

func TestQueryLooksNoisy(t *testing.T) {
	assert.True(t, queryLooksNoisy("kube setup"))
	assert.True(t, queryLooksNoisy("why does it keep crashing"))
	assert.False(t, queryLooksNoisy("compare storage costs between standard and archive tiers"))
}

func TestParseLines(t *testing.T) {
	raw := "1. first question\n- second question\n\n3) third question\nfourth question"
	assert.Equal(t, []string{"first question", "second question", "third question"}, parseLines(raw, 3))
	assert.Empty(t, parseLines("\n \n", 3))
}

func TestAnalyzeRetryWidensReformulations(t *testing.T) {
	embedder := &fakeEmbedder{}
	completer := &fakeCompleter{reform: "a\nb\nc\nd"}
	a := newAnalyzer(embedder, completer)

	out := mustAnalyze(t, a, "some ordinary query about database indexes", 0)
	assert.Len(t, out.Reformulations, 2)

	out = mustAnalyze(t, a, "some ordinary query about database indexes", 2)
	assert.Len(t, out.Reformulations, 3)
}
