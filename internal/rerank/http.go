package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPScorer calls a cross-encoder reranker over HTTP. The service accepts
// {"query": ..., "texts": [...]} and answers with one {"index", "score"}
// pair per input text.
type HTTPScorer struct {
	url        string
	httpClient *http.Client
}

// NewHTTPScorer creates a scorer for the reranker service at url. The
// timeout bounds the whole reranking exchange, batches included, because
// each batch shares the request context deadline set by the caller; the
// client timeout here is a backstop.
func NewHTTPScorer(url string, timeout time.Duration) *HTTPScorer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPScorer{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type rerankScore struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Score submits one batch and returns scores in input order.
func (s *HTTPScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	reqBody, err := json.Marshal(rerankRequest{Query: query, Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("rerank: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("rerank: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("rerank: status %d: %s", resp.StatusCode, string(body))
	}

	var result []rerankScore
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("rerank: decode response: %w", err)
	}
	if len(result) != len(texts) {
		return nil, fmt.Errorf("rerank: got %d scores for %d texts", len(result), len(texts))
	}

	scores := make([]float64, len(texts))
	for _, r := range result {
		if r.Index < 0 || r.Index >= len(texts) {
			return nil, fmt.Errorf("rerank: invalid index %d in response", r.Index)
		}
		scores[r.Index] = r.Score
	}
	return scores, nil
}
