package services

import (
	"context"

	"github.com/zatekoja/codelookup/internal/domain/entities"
	"golang.org/x/sync/errgroup"
)

// hybridOverFetch is how many candidates each leg fetches per requested result
const hybridOverFetch = 2

// FusionOutcome is the fused hybrid ranking plus whether the semantic leg degraded
type FusionOutcome struct {
	Matches        []entities.CandidateMatch
	Degraded       bool
	FallbackReason string
}

// FusionRanker merges semantic and keyword candidates under a caller-supplied weight
type FusionRanker struct {
	keyword  *KeywordMatcher
	semantic *SemanticMatcher
}

// NewFusionRanker creates a fusion ranker
func NewFusionRanker(keyword *KeywordMatcher, semantic *SemanticMatcher) *FusionRanker {
	return &FusionRanker{keyword: keyword, semantic: semantic}
}

// Rank runs both legs concurrently with an over-fetched limit and fuses them
func (r *FusionRanker) Rank(ctx context.Context, query string, filter RetrievalFilter, semanticWeight float64) (FusionOutcome, error) {
	legFilter := filter
	legFilter.Limit = filter.Limit * hybridOverFetch

	var (
		semanticOutcome SemanticOutcome
		keywordMatches  []entities.CandidateMatch
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		semanticOutcome, err = r.semantic.Match(gctx, query, legFilter, 0)
		return err
	})
	g.Go(func() error {
		var err error
		keywordMatches, err = r.keyword.Match(gctx, AlwaysSubstringMatch, query, legFilter)
		return err
	})
	if err := g.Wait(); err != nil {
		return FusionOutcome{}, err
	}

	return FusionOutcome{
		Matches:        Fuse(semanticOutcome.Matches, keywordMatches, semanticWeight, filter.Limit),
		Degraded:       semanticOutcome.Degraded,
		FallbackReason: semanticOutcome.FallbackReason,
	}, nil
}

type fusedCandidate struct {
	entry       *entities.CodeEntry
	semantic    float64
	keyword     float64
	hasSemantic bool
	hasKeyword  bool
}

// Fuse dedups both legs by identity and scores each candidate as
// semantic*w, keyword*(1-w), or their sum when present in both.
// Neither source is ever excluded; a zero-weighted source still contributes a zero-scored candidate.
func Fuse(semantic, keyword []entities.CandidateMatch, semanticWeight float64, limit int) []entities.CandidateMatch {
	byKey := make(map[string]*fusedCandidate, len(semantic)+len(keyword))
	order := make([]string, 0, len(semantic)+len(keyword))

	get := func(m entities.CandidateMatch) *fusedCandidate {
		key := m.Identity().Key()
		if c, ok := byKey[key]; ok {
			return c
		}
		c := &fusedCandidate{entry: m.Entry}
		byKey[key] = c
		order = append(order, key)
		return c
	}

	for _, m := range semantic {
		c := get(m)
		if !c.hasSemantic || m.Score > c.semantic {
			c.semantic = m.Score
		}
		c.hasSemantic = true
	}
	for _, m := range keyword {
		c := get(m)
		if !c.hasKeyword || m.Score > c.keyword {
			c.keyword = m.Score
		}
		c.hasKeyword = true
	}

	out := make([]entities.CandidateMatch, 0, len(order))
	for _, key := range order {
		c := byKey[key]
		var score float64
		source := entities.MatchSourceKeyword
		if c.hasSemantic {
			score += c.semantic * semanticWeight
			source = entities.MatchSourceSemantic
		}
		if c.hasKeyword {
			score += c.keyword * (1 - semanticWeight)
		}
		out = append(out, entities.CandidateMatch{Entry: c.entry, Score: clampUnit(score), Source: source})
	}

	sortCandidates(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
