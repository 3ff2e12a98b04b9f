package services

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/zatekoja/codelookup/internal/domain/entities"
	"github.com/zatekoja/codelookup/internal/domain/providers"
	"github.com/zatekoja/codelookup/internal/infrastructure/observability"
)

// Fallback reasons reported on a degraded semantic outcome
const (
	FallbackReasonEmbeddingTimeout = "embedding_timeout"
	FallbackReasonEmbeddingFailed  = "embedding_failed"
	FallbackReasonEmbeddingEmpty   = "embedding_empty"
	FallbackReasonSimilarityFailed = "similarity_failed"
	FallbackReasonNoEmbedder       = "embedding_unavailable"
)

// SemanticOutcome is the result of one semantic match.
// Degraded is set when the keyword matcher served the request instead.
type SemanticOutcome struct {
	Matches        []entities.CandidateMatch
	Degraded       bool
	FallbackReason string
}

// SemanticMatcher ranks entries by cosine similarity between their stored embedding and the query's
type SemanticMatcher struct {
	corpus   *CorpusAccessor
	embedder providers.EmbeddingProvider
	keyword  *KeywordMatcher
	timeout  time.Duration
	metrics  *observability.Metrics
}

// NewSemanticMatcher creates a semantic matcher. timeout bounds each embedding call; zero means the caller's deadline only.
func NewSemanticMatcher(corpus *CorpusAccessor, embedder providers.EmbeddingProvider, keyword *KeywordMatcher, timeout time.Duration, metrics *observability.Metrics) *SemanticMatcher {
	return &SemanticMatcher{
		corpus:   corpus,
		embedder: embedder,
		keyword:  keyword,
		timeout:  timeout,
		metrics:  metrics,
	}
}

// Match embeds query and returns entries at or above minSimilarity, most similar first.
// Any embedding or similarity failure degrades to AlwaysSubstringMatch with the same filter.
func (m *SemanticMatcher) Match(ctx context.Context, query string, filter RetrievalFilter, minSimilarity float64) (SemanticOutcome, error) {
	vector, reason, err := m.embed(ctx, query)
	if err != nil {
		return m.fallback(ctx, query, filter, reason, err)
	}

	scored, err := m.corpus.NearestEntries(ctx, vector, filter, YearPolicyDefault, minSimilarity)
	if err != nil {
		return m.fallback(ctx, query, filter, FallbackReasonSimilarityFailed, err)
	}

	matches := make([]entities.CandidateMatch, 0, len(scored))
	for _, s := range scored {
		if math.IsNaN(s.Similarity) {
			continue
		}
		similarity := clampUnit(s.Similarity)
		if similarity < minSimilarity {
			continue
		}
		matches = append(matches, entities.CandidateMatch{Entry: s.Entry, Score: similarity, Source: entities.MatchSourceSemantic})
	}
	sortCandidates(matches)
	matches = dedupCandidates(matches)
	if filter.Limit > 0 && len(matches) > filter.Limit {
		matches = matches[:filter.Limit]
	}

	return SemanticOutcome{Matches: matches}, nil
}

func (m *SemanticMatcher) embed(ctx context.Context, query string) ([]float32, string, error) {
	if m.embedder == nil {
		return nil, FallbackReasonNoEmbedder, providers.ErrEmbeddingUnavailable
	}

	embedCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		embedCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	vector, err := m.embedder.Embed(embedCtx, query)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return nil, FallbackReasonEmbeddingTimeout, err
	case errors.Is(err, providers.ErrEmbeddingUnavailable):
		return nil, FallbackReasonNoEmbedder, err
	case err != nil:
		return nil, FallbackReasonEmbeddingFailed, err
	case len(vector) == 0:
		return nil, FallbackReasonEmbeddingEmpty, errors.New("embedding provider returned an empty vector")
	}
	return vector, "", nil
}

func (m *SemanticMatcher) fallback(ctx context.Context, query string, filter RetrievalFilter, reason string, cause error) (SemanticOutcome, error) {
	observability.LoggerFromContext(ctx).Warn().
		Err(cause).
		Str("reason", reason).
		Msg("Semantic search degraded to keyword matching")
	observability.RecordSemanticFallback(ctx, m.metrics, reason)

	matches, err := m.keyword.Match(ctx, AlwaysSubstringMatch, query, filter)
	if err != nil {
		return SemanticOutcome{}, err
	}
	return SemanticOutcome{Matches: matches, Degraded: true, FallbackReason: reason}, nil
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// sortCandidates orders by score desc, then code asc, code system asc, version year desc
func sortCandidates(c []entities.CandidateMatch) {
	sort.SliceStable(c, func(i, j int) bool {
		return candidateLess(c[i], c[j])
	})
}

func candidateLess(a, b entities.CandidateMatch) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Entry.Code != b.Entry.Code {
		return a.Entry.Code < b.Entry.Code
	}
	if a.Entry.CodeSystem != b.Entry.CodeSystem {
		return a.Entry.CodeSystem < b.Entry.CodeSystem
	}
	return a.Entry.VersionYear > b.Entry.VersionYear
}

// dedupCandidates keeps the first candidate per identity
func dedupCandidates(c []entities.CandidateMatch) []entities.CandidateMatch {
	seen := make(map[string]struct{}, len(c))
	out := c[:0]
	for _, m := range c {
		key := m.Identity().Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, m)
	}
	return out
}
