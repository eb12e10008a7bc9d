package workflow

import (
	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/kensaku/internal/analyze"
	"github.com/ashita-ai/kensaku/internal/model"
)

// Stage names the position of a request inside the pipeline; used for
// logging and for asserting transitions in tests.
type Stage string

const (
	StageInit           Stage = "init"
	StageCacheHitReturn Stage = "cache_hit_return"
	StageAnalyzed       Stage = "analyzed"
	StageFilterBuilt    Stage = "filter_built"
	StageRetrieved      Stage = "retrieved"
	StageFused          Stage = "fused"
	StageReranked       Stage = "reranked"
	StageEnriched       Stage = "enriched"
	StageAssess         Stage = "assess"
	StageSubqueriesRun  Stage = "subqueries_run"
	StageComplete       Stage = "complete"
	StageFailed         Stage = "failed"
)

// State carries everything produced while executing one request. It is
// created by the engine, lives for one request, and is discarded on return;
// nodes overwrite only their own slot.
type State struct {
	Request model.QueryRequest
	User    model.UserContext
	Stage   Stage

	QueryEmbedding pgvector.Vector
	Analysis       *analyze.Analysis
	Filter         model.AccessFilter

	Probes   []model.ProbeResult
	Fused    []model.FusedResult
	Reranked []model.RerankedResult
	Enriched []model.Context

	Iteration  int
	Decomposed bool
	Assessment Assessment

	Metrics *model.Metrics
}
