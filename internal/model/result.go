package model

// ProbeSource tags which query artifact produced a vector hit.
type ProbeSource string

const (
	SourceDense         ProbeSource = "dense"
	SourceHyde          ProbeSource = "hyde"
	SourceRewrite       ProbeSource = "rewrite"
	SourceReformulation ProbeSource = "reformulation"
	SourceSparse        ProbeSource = "sparse"
	SourceSubquery      ProbeSource = "subquery"
)

// ScoredResult is a single child-chunk hit from one index probe.
// ChildChunkID is unique within one probe but may recur across probes.
type ScoredResult struct {
	ChildChunkID  string
	ParentChunkID string
	DocumentID    string
	Content       string
	Score         float32
	Source        ProbeSource
}

// ProbeResult is one probe's ranked hit list. Label is unique per probe
// within a request (e.g. "reformulation_2") and is the key used for
// per-probe ranks during fusion.
type ProbeResult struct {
	Label  string
	Source ProbeSource
	Hits   []ScoredResult
}

// FusedResult is a deduplicated candidate after reciprocal rank fusion.
type FusedResult struct {
	ChildChunkID  string
	ParentChunkID string
	DocumentID    string
	Content       string
	RRFScore      float64
	// Ranks maps probe label to the candidate's 1-based rank in that probe.
	Ranks map[string]int
}

// RerankedResult is a fused candidate with a cross-encoder relevance score.
// When the reranker degrades, RerankScore carries the RRF score instead.
type RerankedResult struct {
	FusedResult
	RerankScore float64
}

// ParentChunk is a larger enclosing passage fetched from the metadata store
// at enrichment time.
type ParentChunk struct {
	ParentChunkID string
	DocumentID    string
	Content       string
	Tokens        int
	Metadata      map[string]string
}

// ChildHit is one reranked child chunk grouped under its parent.
type ChildHit struct {
	ChunkID string  `json:"chunk_id"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Context is the public enriched result shape: a parent chunk plus the
// reranked children that surfaced it. BestScore is the maximum child score.
type Context struct {
	ParentChunkID string            `json:"parent_chunk_id"`
	DocumentID    string            `json:"document_id"`
	Content       string            `json:"content"`
	Tokens        int               `json:"tokens"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	BestScore     float64           `json:"best_score"`
	ChildHits     []ChildHit        `json:"child_hits"`
}
