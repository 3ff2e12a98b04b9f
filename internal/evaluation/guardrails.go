package evaluation

import "fmt"

// GuardrailConfig sets the minimum averages an evaluation run must reach.
// Zero thresholds are not checked.
type GuardrailConfig struct {
	MinRecallAt10    float64
	MinMRRAt10       float64
	MaxFailedQueries int
}

// Guardrails turns an evaluation summary into pass/fail
type Guardrails struct {
	config GuardrailConfig
}

func NewGuardrails(config GuardrailConfig) *Guardrails {
	if config.MaxFailedQueries < 0 {
		config.MaxFailedQueries = 0
	}
	return &Guardrails{config: config}
}

// Violations lists every threshold the summary misses, overall and per mode
func (g *Guardrails) Violations(s *EvalSummary) []string {
	var out []string
	if s.FailedQueries > g.config.MaxFailedQueries {
		out = append(out, fmt.Sprintf("%d queries failed (max %d)", s.FailedQueries, g.config.MaxFailedQueries))
	}

	check := func(scope string, recall, mrr float64) {
		if g.config.MinRecallAt10 > 0 && recall < g.config.MinRecallAt10 {
			out = append(out, fmt.Sprintf("%s recall@10 %.3f below %.3f", scope, recall, g.config.MinRecallAt10))
		}
		if g.config.MinMRRAt10 > 0 && mrr < g.config.MinMRRAt10 {
			out = append(out, fmt.Sprintf("%s mrr@10 %.3f below %.3f", scope, mrr, g.config.MinMRRAt10))
		}
	}

	check("overall", s.AvgRecallAt10, s.AvgMRRAt10)
	for _, mode := range ValidModes() {
		if ms, ok := s.ByMode[mode]; ok && ms.Count > 0 {
			check(string(mode), ms.AvgRecallAt10, ms.AvgMRRAt10)
		}
	}
	return out
}

// Passes reports whether the summary meets every threshold
func (g *Guardrails) Passes(s *EvalSummary) bool {
	return len(g.Violations(s)) == 0
}
