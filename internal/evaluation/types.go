package evaluation

import "time"

// Mode is the retrieval entry point a golden query is evaluated against
type Mode string

const (
	ModeKeyword  Mode = "keyword"
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
)

// ValidModes returns all valid mode values.
func ValidModes() []Mode {
	return []Mode{ModeKeyword, ModeSemantic, ModeHybrid}
}

// IsValid checks if the mode value is one of the defined constants.
func (m Mode) IsValid() bool {
	switch m {
	case ModeKeyword, ModeSemantic, ModeHybrid:
		return true
	}
	return false
}

// GoldenQuery is a labeled query with the codes a good ranking returns.
// SemanticWeight only applies to hybrid queries; nil uses the service default.
type GoldenQuery struct {
	ID             string   `json:"id"`
	Query          string   `json:"query"`
	Mode           Mode     `json:"mode"`
	CodeSystem     string   `json:"code_system,omitempty"`
	ExpectedCodes  []string `json:"expected_codes"`
	SemanticWeight *float64 `json:"semantic_weight,omitempty"`
	Difficulty     string   `json:"difficulty"` // easy, medium, hard
}

// EvalResult holds the evaluation outcome for a single query.
type EvalResult struct {
	QueryID        string        `json:"query_id"`
	Query          string        `json:"query"`
	Mode           Mode          `json:"mode"`
	RecallAt10     float64       `json:"recall_at_10"`
	MRRAt10        float64       `json:"mrr_at_10"`
	ResultCount    int           `json:"result_count"`
	RetrievedCodes []string      `json:"retrieved_codes"`
	Latency        time.Duration `json:"latency_ns"`
	Error          string        `json:"error,omitempty"`
}

// EvalSummary holds aggregate metrics across all golden queries.
type EvalSummary struct {
	TotalQueries    int                   `json:"total_queries"`
	FailedQueries   int                   `json:"failed_queries"`
	AvgRecallAt10   float64               `json:"avg_recall_at_10"`
	AvgMRRAt10      float64               `json:"avg_mrr_at_10"`
	AvgLatency      time.Duration         `json:"avg_latency_ns"`
	QueriesWithHits int                   `json:"queries_with_hits"` // queries that returned at least 1 result
	ByMode          map[Mode]*ModeSummary `json:"by_mode"`
	Results         []EvalResult          `json:"results"`
}

// ModeSummary holds metrics grouped by retrieval mode.
type ModeSummary struct {
	Count         int     `json:"count"`
	AvgRecallAt10 float64 `json:"avg_recall_at_10"`
	AvgMRRAt10    float64 `json:"avg_mrr_at_10"`
}
