package services

import (
	"context"

	"github.com/zatekoja/codelookup/internal/domain/entities"
)

// KeywordStrategy selects how the keyword matcher combines its prefix and substring tests
type KeywordStrategy int

const (
	// PrefixThenSubstringMatch runs the code-prefix test and falls back to substring search only when it finds nothing
	PrefixThenSubstringMatch KeywordStrategy = iota
	// AlwaysSubstringMatch runs the OR substring search over code, descriptions and category
	AlwaysSubstringMatch
)

func (s KeywordStrategy) String() string {
	switch s {
	case PrefixThenSubstringMatch:
		return "prefix_then_substring"
	case AlwaysSubstringMatch:
		return "always_substring"
	}
	return "unknown"
}

// Fixed keyword relevance scores
const (
	PrefixMatchScore    = 1.0
	SubstringMatchScore = 0.5
)

// KeywordMatcher matches codes and descriptions by prefix or substring
type KeywordMatcher struct {
	corpus *CorpusAccessor
}

// NewKeywordMatcher creates a keyword matcher
func NewKeywordMatcher(corpus *CorpusAccessor) *KeywordMatcher {
	return &KeywordMatcher{corpus: corpus}
}

// Match returns keyword candidates in store order, truncated to filter.Limit.
// Nothing matching is an empty slice; only corpus failures are errors.
func (m *KeywordMatcher) Match(ctx context.Context, strategy KeywordStrategy, query string, filter RetrievalFilter) ([]entities.CandidateMatch, error) {
	if strategy == PrefixThenSubstringMatch {
		prefixHits, err := m.corpus.EntriesWithCodePrefix(ctx, query, filter, YearPolicyDefault)
		if err != nil {
			return nil, err
		}
		if len(prefixHits) > 0 {
			return toCandidates(prefixHits, PrefixMatchScore, filter.Limit), nil
		}
	}

	hits, err := m.corpus.EntriesContaining(ctx, query, filter, YearPolicyDefault)
	if err != nil {
		return nil, err
	}
	return toCandidates(hits, SubstringMatchScore, filter.Limit), nil
}

// toCandidates dedups entries by identity, keeping first occurrence order
func toCandidates(entries []*entities.CodeEntry, score float64, limit int) []entities.CandidateMatch {
	seen := make(map[string]struct{}, len(entries))
	out := make([]entities.CandidateMatch, 0, len(entries))
	for _, e := range entries {
		key := e.Identity().Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, entities.CandidateMatch{Entry: e, Score: score, Source: entities.MatchSourceKeyword})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
