package workflow

import "github.com/ashita-ai/kensaku/internal/model"

// SufficiencyConfig holds the controller constants.
type SufficiencyConfig struct {
	// Threshold is the composite score at which the loop exits.
	Threshold float64
	// HighQualityMin is the best-score floor for a context to count as
	// high quality.
	HighQualityMin float64
	// MinCoverage is the context count below which the coverage term is 0.
	MinCoverage int
}

// Assessment is the sufficiency breakdown for one enriched set.
type Assessment struct {
	Score       float64
	HighQuality int
	AvgScore    float64
	CoverageMet bool
}

// Assess computes the composite sufficiency score:
//
//	0.5*(highQuality/topK) + 0.3*avgScore + 0.2*coverage
//
// The high-quality ratio divides by the requested topK, not the enriched
// count, so under-retrieval is penalized rather than hidden.
func Assess(contexts []model.Context, topK int, cfg SufficiencyConfig) Assessment {
	a := Assessment{CoverageMet: len(contexts) >= cfg.MinCoverage}
	if len(contexts) > 0 {
		var sum float64
		for _, c := range contexts {
			sum += c.BestScore
			if c.BestScore >= cfg.HighQualityMin {
				a.HighQuality++
			}
		}
		a.AvgScore = sum / float64(len(contexts))
	}

	coverage := 0.0
	if a.CoverageMet {
		coverage = 1.0
	}
	a.Score = 0.5*(float64(a.HighQuality)/float64(topK)) + 0.3*a.AvgScore + 0.2*coverage
	return a
}
