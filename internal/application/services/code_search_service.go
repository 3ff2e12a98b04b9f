package services

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/zatekoja/codelookup/internal/domain/entities"
	"github.com/zatekoja/codelookup/internal/domain/providers"
	"github.com/zatekoja/codelookup/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/codelookup/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Retrieval modes, used for metrics and spans
const (
	ModeKeyword  = "keyword"
	ModeSemantic = "semantic"
	ModeHybrid   = "hybrid"
	ModeFaceted  = "faceted"
	ModeDetail   = "detail"
	ModeSuggest  = "suggest"
)

// SearchRequest is the input of the keyword/prefix entry point
type SearchRequest struct {
	Query       string
	CodeSystem  *entities.CodeSystem
	VersionYear *int
	Limit       int
}

// SemanticSearchRequest is the input of semantic search. A nil MinSimilarity means 0.
type SemanticSearchRequest struct {
	Query         string
	CodeSystem    *entities.CodeSystem
	VersionYear   *int
	Limit         int
	MinSimilarity *float64
}

// HybridSearchRequest is the input of hybrid search. A nil SemanticWeight uses the configured default.
type HybridSearchRequest struct {
	Query          string
	CodeSystem     *entities.CodeSystem
	VersionYear    *int
	Limit          int
	SemanticWeight *float64
}

// FacetedSearchRequest is the input of faceted search
type FacetedSearchRequest struct {
	Constraints entities.FacetConstraints
	CodeSystem  *entities.CodeSystem
	Limit       int
}

// SuggestRequest maps free clinical text to codes. A nil MinSimilarity uses the configured suggestion floor.
type SuggestRequest struct {
	Text          string
	CodeSystem    *entities.CodeSystem
	Limit         int
	MinSimilarity *float64
}

// CodeSearchConfig holds retrieval defaults
type CodeSearchConfig struct {
	DefaultSemanticWeight float64
	SuggestMinSimilarity  float64
	MaxLimit              int
	EmbeddingTimeout      time.Duration
}

// DefaultCodeSearchConfig returns the stock retrieval defaults
func DefaultCodeSearchConfig() CodeSearchConfig {
	return CodeSearchConfig{
		DefaultSemanticWeight: 0.7,
		SuggestMinSimilarity:  0.6,
		MaxLimit:              100,
		EmbeddingTimeout:      2 * time.Second,
	}
}

// CodeSearchService exposes every retrieval operation of the engine.
// Results leave this service only through buildResult, so redaction applies uniformly.
type CodeSearchService struct {
	corpus   *CorpusAccessor
	keyword  *KeywordMatcher
	semantic *SemanticMatcher
	fusion   *FusionRanker
	facets   *FacetFilter
	details  *DetailAssembler
	cfg      CodeSearchConfig
	metrics  *observability.Metrics
}

// NewCodeSearchService wires the matchers, ranker, facet filter and detail assembler over one corpus
func NewCodeSearchService(corpus *CorpusAccessor, embedder providers.EmbeddingProvider, cfg CodeSearchConfig, metrics *observability.Metrics) *CodeSearchService {
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = DefaultCodeSearchConfig().MaxLimit
	}

	keyword := NewKeywordMatcher(corpus)
	semantic := NewSemanticMatcher(corpus, embedder, keyword, cfg.EmbeddingTimeout, metrics)

	return &CodeSearchService{
		corpus:   corpus,
		keyword:  keyword,
		semantic: semantic,
		fusion:   NewFusionRanker(keyword, semantic),
		facets:   NewFacetFilter(corpus),
		details:  NewDetailAssembler(corpus),
		cfg:      cfg,
		metrics:  metrics,
	}
}

// Search is the keyword entry point: code-prefix hits first, substring hits only when no prefix matches
func (s *CodeSearchService) Search(ctx context.Context, req SearchRequest) (results []entities.RankedResult, err error) {
	ctx, span, done := s.begin(ctx, ModeKeyword)
	defer func() { done(len(results), err) }()

	filter, query, err := s.textFilter(req.Query, req.CodeSystem, req.VersionYear, req.Limit)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("search.strategy", PrefixThenSubstringMatch.String()))

	matches, err := s.keyword.Match(ctx, PrefixThenSubstringMatch, query, filter)
	if err != nil {
		return nil, err
	}
	return s.enrich(ctx, matches, false)
}

// SemanticSearch ranks by embedding similarity, degrading to substring matching when embedding fails
func (s *CodeSearchService) SemanticSearch(ctx context.Context, req SemanticSearchRequest) (results []entities.RankedResult, err error) {
	ctx, span, done := s.begin(ctx, ModeSemantic)
	defer func() { done(len(results), err) }()

	filter, query, err := s.textFilter(req.Query, req.CodeSystem, req.VersionYear, req.Limit)
	if err != nil {
		return nil, err
	}
	minSimilarity, err := unitValue("min_similarity", req.MinSimilarity, 0)
	if err != nil {
		return nil, err
	}

	return s.runSemantic(ctx, span, query, filter, minSimilarity)
}

// HybridSearch fuses semantic and keyword candidates under a semantic weight
func (s *CodeSearchService) HybridSearch(ctx context.Context, req HybridSearchRequest) (results []entities.RankedResult, err error) {
	ctx, span, done := s.begin(ctx, ModeHybrid)
	defer func() { done(len(results), err) }()

	filter, query, err := s.textFilter(req.Query, req.CodeSystem, req.VersionYear, req.Limit)
	if err != nil {
		return nil, err
	}
	weight, err := unitValue("semantic_weight", req.SemanticWeight, s.cfg.DefaultSemanticWeight)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Float64("search.semantic_weight", weight))

	outcome, err := s.fusion.Rank(ctx, query, filter, weight)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Bool("search.degraded", outcome.Degraded))
	return s.enrich(ctx, outcome.Matches, true)
}

// FacetedSearch filters by classification attributes. Results carry no score.
func (s *CodeSearchService) FacetedSearch(ctx context.Context, req FacetedSearchRequest) (results []entities.RankedResult, err error) {
	ctx, _, done := s.begin(ctx, ModeFaceted)
	defer func() { done(len(results), err) }()

	if err := validateSystem(req.CodeSystem); err != nil {
		return nil, err
	}
	limit, err := s.resolveLimit(req.Limit)
	if err != nil {
		return nil, err
	}

	entries, err := s.facets.Filter(ctx, req.Constraints, RetrievalFilter{CodeSystem: req.CodeSystem, Limit: limit})
	if err != nil {
		return nil, err
	}

	matches := make([]entities.CandidateMatch, 0, len(entries))
	for _, e := range entries {
		matches = append(matches, entities.CandidateMatch{Entry: e})
	}
	return s.enrich(ctx, matches, false)
}

// GetDetail returns one code with its facet and mappings. Without a year the most recent version is used.
func (s *CodeSearchService) GetDetail(ctx context.Context, code string, system entities.CodeSystem, year *int) (result *entities.RankedResult, err error) {
	ctx, span, done := s.begin(ctx, ModeDetail)
	defer func() {
		n := 0
		if result != nil {
			n = 1
		}
		done(n, err)
	}()

	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperrors.NewValidationError("code is required")
	}
	if !system.IsValid() {
		return nil, apperrors.NewValidationError("unknown code system: " + string(system))
	}
	if err := validateYear(year); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("code", code), attribute.String("code_system", string(system)))

	return s.details.Assemble(ctx, code, system, year)
}

// SuggestFromText is semantic search tuned for noisy clinical text, with a higher default similarity floor
func (s *CodeSearchService) SuggestFromText(ctx context.Context, req SuggestRequest) (results []entities.RankedResult, err error) {
	ctx, span, done := s.begin(ctx, ModeSuggest)
	defer func() { done(len(results), err) }()

	filter, text, err := s.textFilter(req.Text, req.CodeSystem, nil, req.Limit)
	if err != nil {
		return nil, err
	}
	minSimilarity, err := unitValue("min_similarity", req.MinSimilarity, s.cfg.SuggestMinSimilarity)
	if err != nil {
		return nil, err
	}

	return s.runSemantic(ctx, span, text, filter, minSimilarity)
}

func (s *CodeSearchService) runSemantic(ctx context.Context, span trace.Span, query string, filter RetrievalFilter, minSimilarity float64) ([]entities.RankedResult, error) {
	span.SetAttributes(attribute.Float64("search.min_similarity", minSimilarity))

	outcome, err := s.semantic.Match(ctx, query, filter, minSimilarity)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Bool("search.degraded", outcome.Degraded))
	return s.enrich(ctx, outcome.Matches, true)
}

// begin starts the span for one operation and returns a completion hook that records metrics
func (s *CodeSearchService) begin(ctx context.Context, mode string) (context.Context, trace.Span, func(int, error)) {
	ctx, span := observability.StartSpan(ctx, "CodeSearchService."+mode)
	span.SetAttributes(attribute.String("search.mode", mode))
	start := time.Now()

	return ctx, span, func(results int, err error) {
		duration := time.Since(start)
		observability.RecordError(span, err)
		span.SetAttributes(attribute.Int("search.results", results))
		span.End()
		observability.RecordSearchMetric(ctx, s.metrics, mode, results, err, duration)

		logger := observability.LoggerFromContext(ctx)
		if err != nil && !apperrors.IsValidation(err) && !apperrors.IsNotFound(err) {
			logger.Error().Err(err).Str("mode", mode).Dur("duration", duration).Msg("Code retrieval failed")
			return
		}
		logger.Debug().Str("mode", mode).Int("results", results).Dur("duration", duration).Msg("Code retrieval completed")
	}
}

// enrich attaches facets and mappings in one batch per table and redacts every entry
func (s *CodeSearchService) enrich(ctx context.Context, matches []entities.CandidateMatch, withScore bool) ([]entities.RankedResult, error) {
	results := make([]entities.RankedResult, 0, len(matches))
	if len(matches) == 0 {
		return results, nil
	}

	seen := make(map[entities.CodeKey]struct{}, len(matches))
	keys := make([]entities.CodeKey, 0, len(matches))
	for _, m := range matches {
		k := m.Entry.CodeKey()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}

	var (
		facets   map[entities.CodeKey]*entities.Facet
		mappings map[entities.CodeKey][]entities.Mapping
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		facets, err = s.corpus.FacetsFor(gctx, keys)
		return err
	})
	g.Go(func() error {
		var err error
		mappings, err = s.corpus.MappingsFromCodes(gctx, keys)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, m := range matches {
		var score *float64
		if withScore {
			v := clampUnit(m.Score)
			score = &v
		}
		k := m.Entry.CodeKey()
		results = append(results, buildResult(m.Entry, facets[k], mappings[k], score))
	}
	return results, nil
}

func (s *CodeSearchService) textFilter(query string, system *entities.CodeSystem, year *int, limit int) (RetrievalFilter, string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return RetrievalFilter{}, "", apperrors.NewValidationError("query is required")
	}
	if err := validateSystem(system); err != nil {
		return RetrievalFilter{}, "", err
	}
	if err := validateYear(year); err != nil {
		return RetrievalFilter{}, "", err
	}
	resolved, err := s.resolveLimit(limit)
	if err != nil {
		return RetrievalFilter{}, "", err
	}
	return RetrievalFilter{CodeSystem: system, VersionYear: year, Limit: resolved}, query, nil
}

// resolveLimit rejects non-positive limits and clamps to the maximum
func (s *CodeSearchService) resolveLimit(limit int) (int, error) {
	switch {
	case limit <= 0:
		return 0, apperrors.NewValidationError("limit must be positive")
	case limit > s.cfg.MaxLimit:
		return s.cfg.MaxLimit, nil
	}
	return limit, nil
}

func validateSystem(system *entities.CodeSystem) error {
	if system != nil && !system.IsValid() {
		return apperrors.NewValidationError("unknown code system: " + string(*system))
	}
	return nil
}

func validateYear(year *int) error {
	if year != nil && *year <= 0 {
		return apperrors.NewValidationError("version_year must be positive")
	}
	return nil
}

// unitValue returns v, or def when v is nil, rejecting anything outside [0,1]
func unitValue(name string, v *float64, def float64) (float64, error) {
	value := def
	if v != nil {
		value = *v
	}
	if math.IsNaN(value) || value < 0 || value > 1 {
		return 0, apperrors.NewValidationError(name + " must be between 0 and 1")
	}
	return value, nil
}
