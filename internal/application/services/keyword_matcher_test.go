package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/codelookup/internal/domain/entities"
	"github.com/zatekoja/codelookup/internal/domain/repositories"
	apperrors "github.com/zatekoja/codelookup/pkg/errors"
)

func officeVisitCorpus() *memoryCorpus {
	return newMemoryCorpus(
		cptEntry("99213", 2025, "office visit, established patient, low complexity"),
		cptEntry("99214", 2025, "office visit, established patient, moderate complexity"),
		cptEntry("29870", 2025, "diagnostic knee arthroscopy"),
	)
}

func TestKeywordMatcher_ExactCode(t *testing.T) {
	matcher := NewKeywordMatcher(officeVisitCorpus().accessor(0))

	matches, err := matcher.Match(context.Background(), PrefixThenSubstringMatch, "99213", RetrievalFilter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"99213"}, codes(matches))
	assert.Equal(t, PrefixMatchScore, matches[0].Score)
	assert.Equal(t, entities.MatchSourceKeyword, matches[0].Source)
}

func TestKeywordMatcher_Prefix(t *testing.T) {
	matcher := NewKeywordMatcher(officeVisitCorpus().accessor(0))

	matches, err := matcher.Match(context.Background(), PrefixThenSubstringMatch, "992", RetrievalFilter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"99213", "99214"}, codes(matches))
	for _, m := range matches {
		assert.Equal(t, PrefixMatchScore, m.Score)
	}
}

func TestKeywordMatcher_PrefixMissFallsThroughToSubstring(t *testing.T) {
	corpus := officeVisitCorpus()
	matcher := NewKeywordMatcher(corpus.accessor(0))

	matches, err := matcher.Match(context.Background(), PrefixThenSubstringMatch, "office visit", RetrievalFilter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"99213", "99214"}, codes(matches))
	for _, m := range matches {
		assert.Equal(t, SubstringMatchScore, m.Score)
	}
	assert.Equal(t, 1, corpus.callCount("SearchByCodePrefix"))
	assert.Equal(t, 1, corpus.callCount("SearchBySubstring"))
}

func TestKeywordMatcher_PrefixHitSkipsSubstring(t *testing.T) {
	corpus := officeVisitCorpus()
	matcher := NewKeywordMatcher(corpus.accessor(0))

	_, err := matcher.Match(context.Background(), PrefixThenSubstringMatch, "2987", RetrievalFilter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 0, corpus.callCount("SearchBySubstring"))
}

func TestKeywordMatcher_AlwaysSubstringIgnoresPrefixTest(t *testing.T) {
	corpus := officeVisitCorpus()
	matcher := NewKeywordMatcher(corpus.accessor(0))

	matches, err := matcher.Match(context.Background(), AlwaysSubstringMatch, "992", RetrievalFilter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"99213", "99214"}, codes(matches))
	for _, m := range matches {
		assert.Equal(t, SubstringMatchScore, m.Score)
	}
	assert.Equal(t, 0, corpus.callCount("SearchByCodePrefix"))
}

func TestKeywordMatcher_CategoryAndLicensedDescriptionMatch(t *testing.T) {
	licensed := cptEntry("27447", 2025, "total knee replacement")
	licensed.LicenseStatus = entities.LicenseStatusLicensed
	licensed.LicensedDescription = strPtr("Arthroplasty, knee, condyle and plateau")
	categorized := cptEntry("70551", 2025, "brain mri")
	categorized.Category = "Radiology"
	matcher := NewKeywordMatcher(newMemoryCorpus(licensed, categorized).accessor(0))

	matches, err := matcher.Match(context.Background(), AlwaysSubstringMatch, "arthroplasty", RetrievalFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"27447"}, codes(matches))

	matches, err = matcher.Match(context.Background(), AlwaysSubstringMatch, "radiology", RetrievalFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"70551"}, codes(matches))
}

func TestKeywordMatcher_FiltersInactiveSystemAndYear(t *testing.T) {
	inactive := cptEntry("99215", 2025, "office visit high complexity")
	inactive.IsActive = false
	old := cptEntry("99213", 2024, "office visit, established patient")
	hcpcs := &entities.CodeEntry{Code: "G0463", CodeSystem: entities.CodeSystemHCPCS, VersionYear: 2025, OpenDescription: "hospital outpatient clinic visit", IsActive: true}
	corpus := newMemoryCorpus(cptEntry("99213", 2025, "office visit, established patient"), inactive, old, hcpcs)
	matcher := NewKeywordMatcher(corpus.accessor(0))

	cpt := entities.CodeSystemCPT
	matches, err := matcher.Match(context.Background(), AlwaysSubstringMatch, "visit", RetrievalFilter{CodeSystem: &cpt, VersionYear: intPtr(2025)})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "99213", matches[0].Entry.Code)
	assert.Equal(t, 2025, matches[0].Entry.VersionYear)
}

func TestKeywordMatcher_LimitTruncates(t *testing.T) {
	matcher := NewKeywordMatcher(officeVisitCorpus().accessor(0))

	matches, err := matcher.Match(context.Background(), PrefixThenSubstringMatch, "992", RetrievalFilter{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"99213"}, codes(matches))
}

func TestKeywordMatcher_NoResultsIsEmptyNotError(t *testing.T) {
	matcher := NewKeywordMatcher(officeVisitCorpus().accessor(0))

	matches, err := matcher.Match(context.Background(), PrefixThenSubstringMatch, "zzz", RetrievalFilter{Limit: 10})
	require.NoError(t, err)
	assert.NotNil(t, matches)
	assert.Empty(t, matches)
}

func TestKeywordMatcher_DeduplicatesStoreRows(t *testing.T) {
	repo := new(MockCodeCatalogRepository)
	e := cptEntry("99213", 2025, "office visit")
	repo.On("SearchByCodePrefix", mock.Anything, "99213", mock.Anything).Return([]*entities.CodeEntry{e, e}, nil)

	matcher := NewKeywordMatcher(NewCorpusAccessor(repo, nil, nil, 0))
	matches, err := matcher.Match(context.Background(), PrefixThenSubstringMatch, "99213", RetrievalFilter{})
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestKeywordMatcher_StoreFailurePropagates(t *testing.T) {
	repo := new(MockCodeCatalogRepository)
	repo.On("SearchBySubstring", mock.Anything, "knee", mock.Anything).Return(nil, apperrors.NewInternalError("failed to search codes by keyword", errors.New("conn refused")))

	matcher := NewKeywordMatcher(NewCorpusAccessor(repo, nil, nil, 0))
	_, err := matcher.Match(context.Background(), AlwaysSubstringMatch, "knee", RetrievalFilter{})
	assert.Equal(t, apperrors.ErrorTypeInternal, apperrors.TypeOf(err))
}

func TestKeywordMatcher_DefaultYearApplied(t *testing.T) {
	repo := new(MockCodeCatalogRepository)
	repo.On("SearchByCodePrefix", mock.Anything, "992", repositories.CodeFilter{VersionYear: intPtr(2025), Limit: 5}).
		Return([]*entities.CodeEntry{cptEntry("99213", 2025, "office visit")}, nil)

	matcher := NewKeywordMatcher(NewCorpusAccessor(repo, nil, nil, 2025))
	matches, err := matcher.Match(context.Background(), PrefixThenSubstringMatch, "992", RetrievalFilter{Limit: 5})
	require.NoError(t, err)
	assert.Len(t, matches, 1)
	repo.AssertExpectations(t)
}
