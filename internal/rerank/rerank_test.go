package rerank

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashita-ai/kensaku/internal/model"
	"github.com/ashita-ai/kensaku/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScorer struct {
	scores [][]float64
	err    error
	calls  int
}

func (f *fakeScorer) Score(_ context.Context, _ string, texts []string) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	batch := f.scores[f.calls-1]
	if len(batch) != len(texts) {
		return batch, nil
	}
	return batch, nil
}

func fusedFixture(n int) []model.FusedResult {
	out := make([]model.FusedResult, n)
	for i := range out {
		out[i] = model.FusedResult{
			ChildChunkID: string(rune('a' + i)),
			DocumentID:   "doc-1",
			Content:      "passage " + string(rune('a'+i)),
			RRFScore:     1.0 / float64(i+1),
		}
	}
	return out
}

func TestRerankOrdersByScore(t *testing.T) {
	scorer := &fakeScorer{scores: [][]float64{{0.2, 0.9, 0.5}}}
	r := New(scorer, 100, testutil.TestLogger())

	out, fallback := r.Rerank(context.Background(), "q", fusedFixture(3))
	require.False(t, fallback)
	require.Len(t, out, 3)
	assert.Equal(t, "b", out[0].ChildChunkID)
	assert.Equal(t, 0.9, out[0].RerankScore)
	assert.Equal(t, "c", out[1].ChildChunkID)
	assert.Equal(t, "a", out[2].ChildChunkID)
}

func TestRerankBatchesLargeInput(t *testing.T) {
	// 5 candidates, batch size 2 -> 3 calls; scores merged and re-sorted.
	scorer := &fakeScorer{scores: [][]float64{{0.1, 0.2}, {0.9, 0.4}, {0.5}}}
	r := New(scorer, 2, testutil.TestLogger())

	out, fallback := r.Rerank(context.Background(), "q", fusedFixture(5))
	require.False(t, fallback)
	assert.Equal(t, 3, scorer.calls)
	require.Len(t, out, 5)
	assert.Equal(t, "c", out[0].ChildChunkID) // 0.9 from second batch
	assert.Equal(t, 0.9, out[0].RerankScore)
}

func TestRerankFallbackOnError(t *testing.T) {
	scorer := &fakeScorer{err: errors.New("connection refused")}
	r := New(scorer, 100, testutil.TestLogger())

	fused := fusedFixture(3)
	out, fallback := r.Rerank(context.Background(), "q", fused)
	require.True(t, fallback)
	require.Len(t, out, 3)
	// Fused order preserved, RRF score stands in.
	for i := range out {
		assert.Equal(t, fused[i].ChildChunkID, out[i].ChildChunkID)
		assert.Equal(t, fused[i].RRFScore, out[i].RerankScore)
	}
}

func TestRerankNilScorerFallsBack(t *testing.T) {
	r := New(nil, 100, testutil.TestLogger())
	out, fallback := r.Rerank(context.Background(), "q", fusedFixture(2))
	require.True(t, fallback)
	assert.Len(t, out, 2)
}

func TestRerankDropsEmptyContent(t *testing.T) {
	scorer := &fakeScorer{scores: [][]float64{{0.8}}}
	r := New(scorer, 100, testutil.TestLogger())

	fused := []model.FusedResult{
		{ChildChunkID: "a", Content: ""},
		{ChildChunkID: "b", Content: "real passage", RRFScore: 0.5},
	}
	out, fallback := r.Rerank(context.Background(), "q", fused)
	require.False(t, fallback)
	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].ChildChunkID)
}

func TestRerankAllEmptyContent(t *testing.T) {
	scorer := &fakeScorer{}
	r := New(scorer, 100, testutil.TestLogger())

	out, fallback := r.Rerank(context.Background(), "q", []model.FusedResult{{ChildChunkID: "a"}})
	assert.False(t, fallback)
	assert.Empty(t, out)
	assert.Zero(t, scorer.calls)
}

func TestHTTPScorer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "which region?", req.Query)

		// Answer out of input order; the client must map indices back.
		_ = json.NewEncoder(w).Encode([]rerankScore{
			{Index: 1, Score: 0.9},
			{Index: 0, Score: 0.3},
		})
	}))
	defer server.Close()

	s := NewHTTPScorer(server.URL, 5*time.Second)
	scores, err := s.Score(context.Background(), "which region?", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.3, 0.9}, scores)
}

func TestHTTPScorerErrors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}))
		defer server.Close()

		s := NewHTTPScorer(server.URL, time.Second)
		_, err := s.Score(context.Background(), "q", []string{"a"})
		assert.Error(t, err)
	})

	t.Run("score count mismatch", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode([]rerankScore{{Index: 0, Score: 0.5}})
		}))
		defer server.Close()

		s := NewHTTPScorer(server.URL, time.Second)
		_, err := s.Score(context.Background(), "q", []string{"a", "b"})
		assert.Error(t, err)
	})

	t.Run("deadline exceeded", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer server.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		s := NewHTTPScorer(server.URL, time.Second)
		_, err := s.Score(ctx, "q", []string{"a"})
		assert.Error(t, err)
	})
}
