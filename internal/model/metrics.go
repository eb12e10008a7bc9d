package model

import "time"

// Metrics aggregates per-request observability data. It is returned to the
// caller alongside the contexts and is the only place degraded-path errors
// surface (fatal errors abort the request instead).
type Metrics struct {
	RequestID string `json:"request_id"`

	CacheHit             bool `json:"cache_hit"`
	CacheWriteSuppressed bool `json:"cache_write_suppressed"`

	Iterations              int     `json:"iterations"`
	SufficiencyScore        float64 `json:"sufficiency_score"`
	RerankFallbackTriggered bool    `json:"rerank_fallback_triggered"`
	DecompositionTriggered  bool    `json:"decomposition_triggered"`

	// StageMillis records wall-clock duration per pipeline stage.
	StageMillis map[string]int64 `json:"stage_millis,omitempty"`
	// SourceCounts records how many hits each probe source contributed.
	SourceCounts map[ProbeSource]int `json:"source_counts,omitempty"`

	// Warnings collects degraded-path failures (cache, probe variants,
	// reranker fallback, parent fetch) that did not fail the request.
	Warnings []string `json:"warnings,omitempty"`
}

// NewMetrics returns a Metrics with map fields initialized.
func NewMetrics(requestID string) *Metrics {
	return &Metrics{
		RequestID:    requestID,
		StageMillis:  make(map[string]int64),
		SourceCounts: make(map[ProbeSource]int),
	}
}

// Warn appends a degraded-path warning.
func (m *Metrics) Warn(msg string) {
	m.Warnings = append(m.Warnings, msg)
}

// RecordStage accumulates elapsed time for a named stage. Stages that run
// more than once (retry loop) accumulate across iterations.
func (m *Metrics) RecordStage(stage string, elapsed time.Duration) {
	m.StageMillis[stage] += elapsed.Milliseconds()
}

// CountSource accumulates hit counts per probe source.
func (m *Metrics) CountSource(source ProbeSource, n int) {
	if n > 0 {
		m.SourceCounts[source] += n
	}
}
