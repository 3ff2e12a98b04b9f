package services

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/codelookup/internal/domain/entities"
	"github.com/zatekoja/codelookup/internal/domain/repositories"
	apperrors "github.com/zatekoja/codelookup/pkg/errors"
)

func searchCorpus() *memoryCorpus {
	corpus := kneeCorpus()
	corpus.entries = append(corpus.entries,
		cptEntry("99213", 2025, "office visit, established patient, low complexity"),
		cptEntry("99214", 2025, "office visit, established patient, moderate complexity"),
	)
	leaked := cptEntry("27448", 2025, "knee osteotomy")
	leaked.LicensedDescription = strPtr("Osteotomy, femur, shaft or supracondylar")
	leaked.ShortDescriptor = strPtr("Osteotomy femur")
	corpus.entries = append(corpus.entries, leaked)
	corpus.similarity["27448|CPT|2025"] = 0.7

	corpus.facets[entities.CodeKey{Code: "29881", CodeSystem: entities.CodeSystemCPT}] = &entities.Facet{Code: "29881", CodeSystem: entities.CodeSystemCPT, BodyRegion: strPtr("knee")}
	corpus.mappings[entities.CodeKey{Code: "29881", CodeSystem: entities.CodeSystemCPT}] = []entities.Mapping{
		{FromSystem: entities.CodeSystemCPT, FromCode: "29881", ToSystem: "ICD10PCS", ToCode: "0SBC4ZZ", MapType: "approximate"},
	}
	return corpus
}

func healthyEmbedder() *MockEmbeddingProvider {
	embedder := new(MockEmbeddingProvider)
	embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{0.1, 0.2, 0.3}, nil)
	return embedder
}

func failingEmbedder() *MockEmbeddingProvider {
	embedder := new(MockEmbeddingProvider)
	embedder.On("Embed", mock.Anything, mock.Anything).Return(nil, errors.New("upstream 503"))
	return embedder
}

func newTestSearchService(corpus *memoryCorpus, embedder *MockEmbeddingProvider) *CodeSearchService {
	return NewCodeSearchService(corpus.accessor(0), embedder, DefaultCodeSearchConfig(), nil)
}

func TestCodeSearchService_SearchValidation(t *testing.T) {
	svc := newTestSearchService(searchCorpus(), healthyEmbedder())
	bogus := entities.CodeSystem("ICD10")
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{name: "empty query", call: func() error {
			_, err := svc.Search(ctx, SearchRequest{Query: "   ", Limit: 20})
			return err
		}},
		{name: "zero limit", call: func() error {
			_, err := svc.Search(ctx, SearchRequest{Query: "knee"})
			return err
		}},
		{name: "zero faceted limit", call: func() error {
			_, err := svc.FacetedSearch(ctx, FacetedSearchRequest{})
			return err
		}},
		{name: "negative limit", call: func() error {
			_, err := svc.Search(ctx, SearchRequest{Query: "knee", Limit: -1})
			return err
		}},
		{name: "unknown system", call: func() error {
			_, err := svc.Search(ctx, SearchRequest{Query: "knee", CodeSystem: &bogus, Limit: 20})
			return err
		}},
		{name: "zero year", call: func() error {
			_, err := svc.Search(ctx, SearchRequest{Query: "knee", VersionYear: intPtr(0), Limit: 20})
			return err
		}},
		{name: "similarity above one", call: func() error {
			_, err := svc.SemanticSearch(ctx, SemanticSearchRequest{Query: "knee", MinSimilarity: floatPtr(1.5), Limit: 20})
			return err
		}},
		{name: "negative weight", call: func() error {
			_, err := svc.HybridSearch(ctx, HybridSearchRequest{Query: "knee", SemanticWeight: floatPtr(-0.1), Limit: 20})
			return err
		}},
		{name: "NaN weight", call: func() error {
			_, err := svc.HybridSearch(ctx, HybridSearchRequest{Query: "knee", SemanticWeight: floatPtr(math.NaN()), Limit: 20})
			return err
		}},
		{name: "empty suggest text", call: func() error {
			_, err := svc.SuggestFromText(ctx, SuggestRequest{Limit: 20})
			return err
		}},
		{name: "faceted unknown system", call: func() error {
			_, err := svc.FacetedSearch(ctx, FacetedSearchRequest{CodeSystem: &bogus, Limit: 20})
			return err
		}},
		{name: "detail empty code", call: func() error {
			_, err := svc.GetDetail(ctx, "", entities.CodeSystemCPT, nil)
			return err
		}},
		{name: "detail unknown system", call: func() error {
			_, err := svc.GetDetail(ctx, "99213", bogus, nil)
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, apperrors.IsValidation(tt.call()))
		})
	}
}

func TestCodeSearchService_ValidationHappensBeforeIO(t *testing.T) {
	corpus := searchCorpus()
	embedder := healthyEmbedder()
	svc := newTestSearchService(corpus, embedder)

	_, err := svc.HybridSearch(context.Background(), HybridSearchRequest{Query: "knee", SemanticWeight: floatPtr(2), Limit: 20})
	require.Error(t, err)
	embedder.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
	assert.Equal(t, 0, corpus.callCount("SearchBySubstring"))
}

func TestCodeSearchService_LimitClamps(t *testing.T) {
	repo := new(MockCodeCatalogRepository)
	repo.On("SearchByCodePrefix", mock.Anything, "knee", repositories.CodeFilter{Limit: 20}).Return([]*entities.CodeEntry{}, nil).Once()
	repo.On("SearchBySubstring", mock.Anything, "knee", repositories.CodeFilter{Limit: 20}).Return([]*entities.CodeEntry{}, nil).Once()
	repo.On("SearchByCodePrefix", mock.Anything, "knee", repositories.CodeFilter{Limit: 100}).Return([]*entities.CodeEntry{}, nil).Once()
	repo.On("SearchBySubstring", mock.Anything, "knee", repositories.CodeFilter{Limit: 100}).Return([]*entities.CodeEntry{}, nil).Once()

	svc := NewCodeSearchService(NewCorpusAccessor(repo, nil, nil, 0), nil, DefaultCodeSearchConfig(), nil)

	_, err := svc.Search(context.Background(), SearchRequest{Query: "knee", Limit: 20})
	require.NoError(t, err)
	_, err = svc.Search(context.Background(), SearchRequest{Query: "knee", Limit: 5000})
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestCodeSearchService_ZeroLimitRejectedBeforeIO(t *testing.T) {
	corpus := searchCorpus()
	embedder := healthyEmbedder()
	svc := newTestSearchService(corpus, embedder)
	ctx := context.Background()

	_, err := svc.Search(ctx, SearchRequest{Query: "knee", Limit: 0})
	assert.True(t, apperrors.IsValidation(err))
	_, err = svc.SemanticSearch(ctx, SemanticSearchRequest{Query: "knee", Limit: 0})
	assert.True(t, apperrors.IsValidation(err))
	_, err = svc.HybridSearch(ctx, HybridSearchRequest{Query: "knee", Limit: 0})
	assert.True(t, apperrors.IsValidation(err))

	embedder.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
	assert.Equal(t, 0, corpus.callCount("SearchByCodePrefix"))
	assert.Equal(t, 0, corpus.callCount("SearchBySubstring"))
	assert.Equal(t, 0, corpus.callCount("NearestBySimilarity"))
}

func TestCodeSearchService_SearchTrimsQueryAndOmitsScore(t *testing.T) {
	svc := newTestSearchService(searchCorpus(), healthyEmbedder())

	results, err := svc.Search(context.Background(), SearchRequest{Query: "  2988  ", Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, []string{"29881"}, resultCodes(results))
	assert.Nil(t, results[0].Score)
}

func TestCodeSearchService_EnrichmentAttachesFacetsAndMappings(t *testing.T) {
	corpus := searchCorpus()
	svc := newTestSearchService(corpus, healthyEmbedder())

	results, err := svc.SemanticSearch(context.Background(), SemanticSearchRequest{Query: "knee surgery", Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	for _, r := range results {
		assert.NotNil(t, r.Mappings)
		if r.Entry.Code == "29881" {
			require.NotNil(t, r.Facet)
			assert.Equal(t, "knee", *r.Facet.BodyRegion)
			require.Len(t, r.Mappings, 1)
		} else {
			assert.Nil(t, r.Facet)
			assert.Empty(t, r.Mappings)
		}
	}
	assert.Equal(t, 1, corpus.callCount("ListByCodes"))
	assert.Equal(t, 1, corpus.callCount("ListFromCodes"))
	assert.Equal(t, 0, corpus.callCount("GetByCode"))
}

func TestCodeSearchService_ScoresWithinBounds(t *testing.T) {
	corpus := searchCorpus()
	corpus.similarity["29881|CPT|2025"] = 1.3
	corpus.similarity["29870|CPT|2025"] = -0.2
	svc := newTestSearchService(corpus, healthyEmbedder())
	ctx := context.Background()

	var all []entities.RankedResult
	semantic, err := svc.SemanticSearch(ctx, SemanticSearchRequest{Query: "knee", Limit: 20})
	require.NoError(t, err)
	all = append(all, semantic...)
	for _, w := range []float64{0, 0.3, 0.7, 1} {
		hybrid, err := svc.HybridSearch(ctx, HybridSearchRequest{Query: "knee", SemanticWeight: floatPtr(w), Limit: 20})
		require.NoError(t, err)
		all = append(all, hybrid...)
	}
	suggest, err := svc.SuggestFromText(ctx, SuggestRequest{Text: "pt with torn meniscus, knee scope", MinSimilarity: floatPtr(0), Limit: 20})
	require.NoError(t, err)
	all = append(all, suggest...)

	require.NotEmpty(t, all)
	for _, r := range all {
		require.NotNil(t, r.Score)
		assert.GreaterOrEqual(t, *r.Score, 0.0)
		assert.LessOrEqual(t, *r.Score, 1.0)
	}
}

// semantic with a failing embedder equals the generic keyword path
func TestCodeSearchService_SemanticFallbackMatchesGenericKeyword(t *testing.T) {
	corpus := searchCorpus()
	svc := newTestSearchService(corpus, failingEmbedder())

	results, err := svc.SemanticSearch(context.Background(), SemanticSearchRequest{Query: "knee", Limit: 3, MinSimilarity: floatPtr(0.95)})
	require.NoError(t, err)

	expected, err := NewKeywordMatcher(corpus.accessor(0)).Match(context.Background(), AlwaysSubstringMatch, "knee", RetrievalFilter{Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, codes(expected), resultCodes(results))
}

func TestCodeSearchService_HybridWithDegradedEmbedder(t *testing.T) {
	svc := newTestSearchService(searchCorpus(), failingEmbedder())

	results, err := svc.HybridSearch(context.Background(), HybridSearchRequest{Query: "knee", Limit: 10})
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestCodeSearchService_HybridDefaultWeight(t *testing.T) {
	svc := newTestSearchService(searchCorpus(), healthyEmbedder())

	results, err := svc.HybridSearch(context.Background(), HybridSearchRequest{Query: "meniscectomy", Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "29881", results[0].Entry.Code)
	assert.InDelta(t, 0.95*0.7+0.5*0.3, *results[0].Score, 1e-9)
}

func TestCodeSearchService_RedactsEveryResult(t *testing.T) {
	svc := newTestSearchService(searchCorpus(), healthyEmbedder())
	ctx := context.Background()

	check := func(t *testing.T, results []entities.RankedResult) {
		t.Helper()
		for _, r := range results {
			if r.Entry.LicenseStatus == entities.LicenseStatusLicensed {
				continue
			}
			assert.Nil(t, r.Entry.LicensedDescription, r.Entry.Code)
			assert.Nil(t, r.Entry.LongDescriptor, r.Entry.Code)
			assert.Nil(t, r.Entry.ShortDescriptor, r.Entry.Code)
			assert.Equal(t, r.Entry.OpenDescription, r.DisplayDescription)
		}
	}

	keyword, err := svc.Search(ctx, SearchRequest{Query: "osteotomy", Limit: 20})
	require.NoError(t, err)
	require.Equal(t, []string{"27448"}, resultCodes(keyword))
	check(t, keyword)

	semantic, err := svc.SemanticSearch(ctx, SemanticSearchRequest{Query: "knee", Limit: 20})
	require.NoError(t, err)
	check(t, semantic)

	hybrid, err := svc.HybridSearch(ctx, HybridSearchRequest{Query: "knee", Limit: 20})
	require.NoError(t, err)
	check(t, hybrid)

	detail, err := svc.GetDetail(ctx, "27448", entities.CodeSystemCPT, nil)
	require.NoError(t, err)
	check(t, []entities.RankedResult{*detail})
}

func TestCodeSearchService_Idempotent(t *testing.T) {
	svc := newTestSearchService(searchCorpus(), healthyEmbedder())
	ctx := context.Background()
	req := HybridSearchRequest{Query: "knee", SemanticWeight: floatPtr(0.5), Limit: 4}

	first, err := svc.HybridSearch(ctx, req)
	require.NoError(t, err)
	second, err := svc.HybridSearch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCodeSearchService_FacetedSearchHasNoScore(t *testing.T) {
	corpus := facetCorpus()
	corpus.mappings[entities.CodeKey{Code: "27447", CodeSystem: entities.CodeSystemCPT}] = []entities.Mapping{
		{FromSystem: entities.CodeSystemCPT, FromCode: "27447", ToSystem: "ICD10PCS", ToCode: "0SRD0J9", MapType: "equivalent"},
	}
	svc := NewCodeSearchService(corpus.accessor(0), nil, DefaultCodeSearchConfig(), nil)

	results, err := svc.FacetedSearch(context.Background(), FacetedSearchRequest{Constraints: entities.FacetConstraints{BodyRegion: strPtr("knee")}, Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, []string{"27447", "29881", "73721"}, resultCodes(results))
	for _, r := range results {
		assert.Nil(t, r.Score)
		require.NotNil(t, r.Facet)
	}
	assert.Len(t, results[0].Mappings, 1)
}

func TestCodeSearchService_SuggestUsesHigherFloor(t *testing.T) {
	svc := newTestSearchService(searchCorpus(), healthyEmbedder())

	results, err := svc.SuggestFromText(context.Background(), SuggestRequest{Text: "left knee pain after twisting injury", Limit: 20})
	require.NoError(t, err)
	for _, r := range results {
		assert.GreaterOrEqual(t, *r.Score, 0.6)
	}
	assert.Equal(t, []string{"29881", "29870", "27447", "27448"}, resultCodes(results))
}

func TestCodeSearchService_SuggestIgnoresRequestYearButHonorsDefault(t *testing.T) {
	repo := new(MockCodeCatalogRepository)
	repo.On("NearestBySimilarity", mock.Anything, mock.Anything, repositories.CodeFilter{VersionYear: intPtr(2025), Limit: 20}, 0.6).
		Return([]entities.ScoredEntry{}, nil).Once()

	svc := NewCodeSearchService(NewCorpusAccessor(repo, nil, nil, 2025), healthyEmbedder(), DefaultCodeSearchConfig(), nil)
	results, err := svc.SuggestFromText(context.Background(), SuggestRequest{Text: "knee pain", Limit: 20})
	require.NoError(t, err)
	assert.Empty(t, results)
	repo.AssertExpectations(t)
}

func TestCodeSearchService_GetDetail(t *testing.T) {
	svc := newTestSearchService(searchCorpus(), healthyEmbedder())

	result, err := svc.GetDetail(context.Background(), " 29881 ", entities.CodeSystemCPT, nil)
	require.NoError(t, err)
	assert.Equal(t, "29881", result.Entry.Code)
	assert.NotNil(t, result.Facet)
	assert.Len(t, result.Mappings, 1)

	_, err = svc.GetDetail(context.Background(), "00000", entities.CodeSystemCPT, nil)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestCodeSearchService_StoreFailureIsFatal(t *testing.T) {
	repo := new(MockCodeCatalogRepository)
	repo.On("SearchByCodePrefix", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, apperrors.NewInternalError("failed to search codes by prefix", errors.New("connection reset")))

	svc := NewCodeSearchService(NewCorpusAccessor(repo, nil, nil, 0), nil, DefaultCodeSearchConfig(), nil)
	_, err := svc.Search(context.Background(), SearchRequest{Query: "99213", Limit: 20})
	assert.Equal(t, apperrors.ErrorTypeInternal, apperrors.TypeOf(err))
}
