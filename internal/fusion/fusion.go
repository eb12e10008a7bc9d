// Package fusion merges ranked probe result lists into a single candidate
// list using reciprocal rank fusion.
package fusion

import (
	"sort"

	"github.com/ashita-ai/kensaku/internal/model"
)

// Fuser combines probe results with RRF: score(c) = sum over probes p
// containing c of 1/(k + rank_p(c)), ranks 1-based.
type Fuser struct {
	k    int
	topN int
}

// New creates a Fuser with the RRF constant k and a post-fusion truncation
// bound topN.
func New(k, topN int) *Fuser {
	if k <= 0 {
		k = 60
	}
	if topN <= 0 {
		topN = 50
	}
	return &Fuser{k: k, topN: topN}
}

// Fuse deduplicates hits across probes by child chunk id and ranks them by
// RRF score. Ties break on: probe membership count (more wins), then best
// single-probe rank (lower wins), then child chunk id ascending. The output
// is deterministic for a fixed set of probe inputs.
func (f *Fuser) Fuse(probes []model.ProbeResult) []model.FusedResult {
	byChunk := make(map[string]*model.FusedResult)

	for _, probe := range probes {
		for i, hit := range probe.Hits {
			rank := i + 1
			fused, ok := byChunk[hit.ChildChunkID]
			if !ok {
				// Content comes from whichever probe produced the hit first;
				// probes agree on it.
				fused = &model.FusedResult{
					ChildChunkID:  hit.ChildChunkID,
					ParentChunkID: hit.ParentChunkID,
					DocumentID:    hit.DocumentID,
					Content:       hit.Content,
					Ranks:         make(map[string]int),
				}
				byChunk[hit.ChildChunkID] = fused
			}
			// A chunk appears at most once per probe; keep the first rank if
			// an index ever repeats it.
			if _, seen := fused.Ranks[probe.Label]; !seen {
				fused.Ranks[probe.Label] = rank
				fused.RRFScore += 1.0 / float64(f.k+rank)
			}
		}
	}

	out := make([]model.FusedResult, 0, len(byChunk))
	for _, fused := range byChunk {
		out = append(out, *fused)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].RRFScore != out[j].RRFScore {
			return out[i].RRFScore > out[j].RRFScore
		}
		if len(out[i].Ranks) != len(out[j].Ranks) {
			return len(out[i].Ranks) > len(out[j].Ranks)
		}
		bi, bj := bestRank(out[i].Ranks), bestRank(out[j].Ranks)
		if bi != bj {
			return bi < bj
		}
		return out[i].ChildChunkID < out[j].ChildChunkID
	})

	if len(out) > f.topN {
		out = out[:f.topN]
	}
	return out
}

func bestRank(ranks map[string]int) int {
	best := 0
	for _, r := range ranks {
		if best == 0 || r < best {
			best = r
		}
	}
	return best
}
