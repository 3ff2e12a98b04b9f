package evaluation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/codelookup/internal/application/services"
	"github.com/zatekoja/codelookup/internal/domain/entities"
)

type MockSearcher struct {
	mock.Mock
}

func (m *MockSearcher) Search(ctx context.Context, req services.SearchRequest) ([]entities.RankedResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entities.RankedResult), args.Error(1)
}

func (m *MockSearcher) SemanticSearch(ctx context.Context, req services.SemanticSearchRequest) ([]entities.RankedResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entities.RankedResult), args.Error(1)
}

func (m *MockSearcher) HybridSearch(ctx context.Context, req services.HybridSearchRequest) ([]entities.RankedResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entities.RankedResult), args.Error(1)
}

func ranked(codes ...string) []entities.RankedResult {
	out := make([]entities.RankedResult, len(codes))
	for i, c := range codes {
		out[i] = entities.RankedResult{Entry: &entities.CodeEntry{Code: c, CodeSystem: entities.CodeSystemCPT, VersionYear: 2025}}
	}
	return out
}

func TestRunner_DispatchesByModeAndAggregates(t *testing.T) {
	weight := 0.4
	cpt := entities.CodeSystemCPT
	searcher := new(MockSearcher)
	searcher.On("Search", mock.Anything, services.SearchRequest{Query: "99213", Limit: 10}).Return(ranked("99213"), nil)
	searcher.On("SemanticSearch", mock.Anything, services.SemanticSearchRequest{Query: "knee scope", CodeSystem: &cpt, Limit: 10}).
		Return(ranked("29870", "29881"), nil)
	searcher.On("HybridSearch", mock.Anything, services.HybridSearchRequest{Query: "hip replacement", Limit: 10, SemanticWeight: &weight}).
		Return(ranked(), nil)

	queries := []GoldenQuery{
		{ID: "k1", Query: "99213", Mode: ModeKeyword, ExpectedCodes: []string{"99213"}, Difficulty: "easy"},
		{ID: "s1", Query: "knee scope", Mode: ModeSemantic, CodeSystem: "cpt", ExpectedCodes: []string{"29881"}, Difficulty: "medium"},
		{ID: "h1", Query: "hip replacement", Mode: ModeHybrid, ExpectedCodes: []string{"27130"}, SemanticWeight: &weight, Difficulty: "hard"},
	}

	summary, err := NewRunner(searcher, 2).Run(context.Background(), queries)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.TotalQueries)
	assert.Equal(t, 0, summary.FailedQueries)
	assert.Equal(t, 2, summary.QueriesWithHits)
	assert.InDelta(t, (1.0+1.0+0.0)/3, summary.AvgRecallAt10, 1e-9)
	assert.InDelta(t, (1.0+0.5+0.0)/3, summary.AvgMRRAt10, 1e-9)

	require.Len(t, summary.Results, 3)
	assert.Equal(t, "k1", summary.Results[0].QueryID)
	assert.Equal(t, []string{"29870", "29881"}, summary.Results[1].RetrievedCodes)
	assert.Equal(t, 1, summary.ByMode[ModeSemantic].Count)
	assert.InDelta(t, 0.5, summary.ByMode[ModeSemantic].AvgMRRAt10, 1e-9)
	searcher.AssertExpectations(t)
}

func TestRunner_FailedQueryScoresZero(t *testing.T) {
	searcher := new(MockSearcher)
	searcher.On("Search", mock.Anything, mock.Anything).Return(nil, errors.New("database is down"))

	summary, err := NewRunner(searcher, 0).Run(context.Background(), []GoldenQuery{
		{ID: "k1", Query: "99213", Mode: ModeKeyword, ExpectedCodes: []string{"99213"}, Difficulty: "easy"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.FailedQueries)
	assert.Equal(t, "database is down", summary.Results[0].Error)
	assert.Equal(t, 0.0, summary.AvgRecallAt10)
}

func TestRunner_EmptyQuerySet(t *testing.T) {
	summary, err := NewRunner(new(MockSearcher), 1).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.TotalQueries)
	assert.Empty(t, summary.Results)
}
