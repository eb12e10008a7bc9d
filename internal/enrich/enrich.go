// Package enrich implements small-to-big expansion: reranked child chunks
// are grouped under their parent chunk and the parent bodies are fetched in
// one batched metadata-store call.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ashita-ai/kensaku/internal/model"
)

// ParentFetcher is the batched parent-chunk lookup. Missing ids are
// silently omitted from the result.
type ParentFetcher interface {
	FetchParents(ctx context.Context, parentChunkIDs []string) ([]model.ParentChunk, error)
}

// Enricher groups reranked hits by parent and attaches parent bodies.
type Enricher struct {
	parents ParentFetcher
	timeout time.Duration
	logger  *slog.Logger
}

// New creates an Enricher.
func New(parents ParentFetcher, timeout time.Duration, logger *slog.Logger) *Enricher {
	return &Enricher{parents: parents, timeout: timeout, logger: logger}
}

// Enrich returns one Context per parent found, sorted descending by best
// child score. Children whose parent is missing from the metadata store are
// dropped. A failed parent fetch degrades to zero contexts plus a warning
// rather than an error; the controller treats that as insufficient and
// retries.
func (e *Enricher) Enrich(ctx context.Context, reranked []model.RerankedResult) ([]model.Context, []string) {
	if len(reranked) == 0 {
		return nil, nil
	}

	childrenByParent := make(map[string][]model.ChildHit)
	order := make([]string, 0, len(reranked))
	for _, r := range reranked {
		if r.ParentChunkID == "" {
			continue
		}
		if _, seen := childrenByParent[r.ParentChunkID]; !seen {
			order = append(order, r.ParentChunkID)
		}
		childrenByParent[r.ParentChunkID] = append(childrenByParent[r.ParentChunkID], model.ChildHit{
			ChunkID: r.ChildChunkID,
			Content: r.Content,
			Score:   r.RerankScore,
		})
	}
	if len(order) == 0 {
		return nil, nil
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	parents, err := e.parents.FetchParents(ctx, order)
	if err != nil {
		msg := fmt.Sprintf("parent fetch failed: %v", err)
		e.logger.Warn("enrich: " + msg)
		return nil, []string{msg}
	}

	byID := make(map[string]model.ParentChunk, len(parents))
	for _, p := range parents {
		byID[p.ParentChunkID] = p
	}

	out := make([]model.Context, 0, len(parents))
	for _, parentID := range order {
		parent, ok := byID[parentID]
		if !ok {
			continue
		}
		children := childrenByParent[parentID]
		best := children[0].Score
		for _, c := range children[1:] {
			if c.Score > best {
				best = c.Score
			}
		}
		out = append(out, model.Context{
			ParentChunkID: parent.ParentChunkID,
			DocumentID:    parent.DocumentID,
			Content:       parent.Content,
			Tokens:        parent.Tokens,
			Metadata:      parent.Metadata,
			BestScore:     best,
			ChildHits:     children,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].BestScore > out[j].BestScore })
	return out, nil
}
