package entities

// MatchSource names the retrieval strategy that produced a candidate
type MatchSource string

const (
	MatchSourceKeyword  MatchSource = "keyword"
	MatchSourceSemantic MatchSource = "semantic"
)

// ScoredEntry is a code entry with the similarity computed by the corpus store
type ScoredEntry struct {
	Entry      *CodeEntry
	Similarity float64
}

// CandidateMatch is a request-scoped retrieval hit. It is never persisted.
type CandidateMatch struct {
	Entry  *CodeEntry
	Score  float64
	Source MatchSource
}

// Identity returns the identity of the matched entry
func (c CandidateMatch) Identity() CodeIdentity {
	return c.Entry.Identity()
}

// RankedResult is the outward-facing unit returned by every retrieval operation.
// Entry is always the redacted view.
type RankedResult struct {
	Entry              *CodeEntry `json:"entry"`
	DisplayDescription string     `json:"display_description"`
	Facet              *Facet     `json:"facet"`
	Mappings           []Mapping  `json:"mappings"`
	Score              *float64   `json:"score"`
}
