package services

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"
	"github.com/zatekoja/codelookup/internal/domain/entities"
	"github.com/zatekoja/codelookup/internal/domain/repositories"
	apperrors "github.com/zatekoja/codelookup/pkg/errors"
)

// MockCodeCatalogRepository is a mock implementation of CodeCatalogRepository
type MockCodeCatalogRepository struct {
	mock.Mock
}

func (m *MockCodeCatalogRepository) Find(ctx context.Context, filter repositories.CodeFilter) ([]*entities.CodeEntry, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.CodeEntry), args.Error(1)
}

func (m *MockCodeCatalogRepository) FindByIdentity(ctx context.Context, code string, system entities.CodeSystem, versionYear int) (*entities.CodeEntry, error) {
	args := m.Called(ctx, code, system, versionYear)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.CodeEntry), args.Error(1)
}

func (m *MockCodeCatalogRepository) FindLatest(ctx context.Context, code string, system entities.CodeSystem) (*entities.CodeEntry, error) {
	args := m.Called(ctx, code, system)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.CodeEntry), args.Error(1)
}

func (m *MockCodeCatalogRepository) SearchByCodePrefix(ctx context.Context, prefix string, filter repositories.CodeFilter) ([]*entities.CodeEntry, error) {
	args := m.Called(ctx, prefix, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.CodeEntry), args.Error(1)
}

func (m *MockCodeCatalogRepository) SearchBySubstring(ctx context.Context, term string, filter repositories.CodeFilter) ([]*entities.CodeEntry, error) {
	args := m.Called(ctx, term, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.CodeEntry), args.Error(1)
}

func (m *MockCodeCatalogRepository) NearestBySimilarity(ctx context.Context, vector []float32, filter repositories.CodeFilter, minSimilarity float64) ([]entities.ScoredEntry, error) {
	args := m.Called(ctx, vector, filter, minSimilarity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entities.ScoredEntry), args.Error(1)
}

func (m *MockCodeCatalogRepository) FindByFacets(ctx context.Context, filter repositories.FacetFilter) ([]*entities.CodeEntry, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.CodeEntry), args.Error(1)
}

// MockFacetRepository is a mock implementation of FacetRepository
type MockFacetRepository struct {
	mock.Mock
}

func (m *MockFacetRepository) GetByCode(ctx context.Context, code string, system entities.CodeSystem) (*entities.Facet, error) {
	args := m.Called(ctx, code, system)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Facet), args.Error(1)
}

func (m *MockFacetRepository) ListByCodes(ctx context.Context, keys []entities.CodeKey) (map[entities.CodeKey]*entities.Facet, error) {
	args := m.Called(ctx, keys)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[entities.CodeKey]*entities.Facet), args.Error(1)
}

// MockMappingRepository is a mock implementation of MappingRepository
type MockMappingRepository struct {
	mock.Mock
}

func (m *MockMappingRepository) ListFrom(ctx context.Context, code string, system entities.CodeSystem) ([]entities.Mapping, error) {
	args := m.Called(ctx, code, system)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entities.Mapping), args.Error(1)
}

func (m *MockMappingRepository) ListFromCodes(ctx context.Context, keys []entities.CodeKey) (map[entities.CodeKey][]entities.Mapping, error) {
	args := m.Called(ctx, keys)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[entities.CodeKey][]entities.Mapping), args.Error(1)
}

// MockEmbeddingProvider is a mock implementation of EmbeddingProvider
type MockEmbeddingProvider struct {
	mock.Mock
}

func (m *MockEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

// memoryCorpus is an in-memory corpus store with the same matching rules as the Postgres adapters.
// similarity maps a code identity key to the similarity NearestBySimilarity reports for it.
type memoryCorpus struct {
	mu         sync.Mutex
	entries    []*entities.CodeEntry
	facets     map[entities.CodeKey]*entities.Facet
	mappings   map[entities.CodeKey][]entities.Mapping
	similarity map[string]float64
	calls      map[string]int
}

func newMemoryCorpus(entries ...*entities.CodeEntry) *memoryCorpus {
	return &memoryCorpus{
		entries:    entries,
		facets:     make(map[entities.CodeKey]*entities.Facet),
		mappings:   make(map[entities.CodeKey][]entities.Mapping),
		similarity: make(map[string]float64),
		calls:      make(map[string]int),
	}
}

func (c *memoryCorpus) record(op string) {
	c.mu.Lock()
	c.calls[op]++
	c.mu.Unlock()
}

func (c *memoryCorpus) callCount(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *memoryCorpus) accessor(defaultYear int) *CorpusAccessor {
	return NewCorpusAccessor(c, c, c, defaultYear)
}

func (c *memoryCorpus) matches(e *entities.CodeEntry, f repositories.CodeFilter) bool {
	if !f.IncludeInactive && !e.IsActive {
		return false
	}
	if f.CodeSystem != nil && e.CodeSystem != *f.CodeSystem {
		return false
	}
	if f.VersionYear != nil && e.VersionYear != *f.VersionYear {
		return false
	}
	return true
}

func (c *memoryCorpus) selectEntries(f repositories.CodeFilter, pred func(*entities.CodeEntry) bool) []*entities.CodeEntry {
	out := make([]*entities.CodeEntry, 0)
	for _, e := range c.entries {
		if c.matches(e, f) && pred(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		if out[i].CodeSystem != out[j].CodeSystem {
			return out[i].CodeSystem < out[j].CodeSystem
		}
		return out[i].VersionYear > out[j].VersionYear
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func (c *memoryCorpus) Find(ctx context.Context, f repositories.CodeFilter) ([]*entities.CodeEntry, error) {
	c.record("Find")
	return c.selectEntries(f, func(*entities.CodeEntry) bool { return true }), nil
}

func (c *memoryCorpus) FindByIdentity(ctx context.Context, code string, system entities.CodeSystem, year int) (*entities.CodeEntry, error) {
	c.record("FindByIdentity")
	for _, e := range c.entries {
		if e.Code == code && e.CodeSystem == system && e.VersionYear == year {
			return e, nil
		}
	}
	return nil, apperrors.NewNotFoundError("code not found")
}

func (c *memoryCorpus) FindLatest(ctx context.Context, code string, system entities.CodeSystem) (*entities.CodeEntry, error) {
	c.record("FindLatest")
	var latest *entities.CodeEntry
	for _, e := range c.entries {
		if e.Code == code && e.CodeSystem == system && (latest == nil || e.VersionYear > latest.VersionYear) {
			latest = e
		}
	}
	if latest == nil {
		return nil, apperrors.NewNotFoundError("code not found")
	}
	return latest, nil
}

func (c *memoryCorpus) SearchByCodePrefix(ctx context.Context, prefix string, f repositories.CodeFilter) ([]*entities.CodeEntry, error) {
	c.record("SearchByCodePrefix")
	p := strings.ToLower(prefix)
	return c.selectEntries(f, func(e *entities.CodeEntry) bool {
		return strings.HasPrefix(strings.ToLower(e.Code), p)
	}), nil
}

func (c *memoryCorpus) SearchBySubstring(ctx context.Context, term string, f repositories.CodeFilter) ([]*entities.CodeEntry, error) {
	c.record("SearchBySubstring")
	t := strings.ToLower(term)
	contains := func(s string) bool { return strings.Contains(strings.ToLower(s), t) }
	return c.selectEntries(f, func(e *entities.CodeEntry) bool {
		licensed := ""
		if e.LicensedDescription != nil {
			licensed = *e.LicensedDescription
		}
		return contains(e.Code) || contains(e.OpenDescription) || contains(licensed) || contains(e.Category)
	}), nil
}

func (c *memoryCorpus) NearestBySimilarity(ctx context.Context, vector []float32, f repositories.CodeFilter, minSimilarity float64) ([]entities.ScoredEntry, error) {
	c.record("NearestBySimilarity")
	limit := f.Limit
	f.Limit = 0
	candidates := c.selectEntries(f, func(e *entities.CodeEntry) bool {
		_, ok := c.similarity[e.Identity().Key()]
		return e.HasEmbedding && ok
	})
	out := make([]entities.ScoredEntry, 0, len(candidates))
	for _, e := range candidates {
		s := c.similarity[e.Identity().Key()]
		if s >= minSimilarity {
			out = append(out, entities.ScoredEntry{Entry: e, Similarity: s})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *memoryCorpus) FindByFacets(ctx context.Context, f repositories.FacetFilter) ([]*entities.CodeEntry, error) {
	c.record("FindByFacets")
	cons := f.Constraints
	eq := func(want, got *string) bool { return want == nil || (got != nil && *got == *want) }
	return c.selectEntries(repositories.CodeFilter{CodeSystem: f.CodeSystem, VersionYear: f.VersionYear, Limit: f.Limit}, func(e *entities.CodeEntry) bool {
		facet, ok := c.facets[e.CodeKey()]
		if !ok {
			return false
		}
		if cons.IsMajorSurgery != nil && (facet.IsMajorSurgery == nil || *facet.IsMajorSurgery != *cons.IsMajorSurgery) {
			return false
		}
		return eq(cons.BodyRegion, facet.BodyRegion) &&
			eq(cons.BodySystem, facet.BodySystem) &&
			eq(cons.ProcedureCategory, facet.ProcedureCategory) &&
			eq(cons.ComplexityLevel, facet.ComplexityLevel) &&
			eq(cons.ServiceLocation, facet.ServiceLocation) &&
			eq(cons.EMLevel, facet.EMLevel) &&
			eq(cons.EMPatientType, facet.EMPatientType) &&
			eq(cons.ImagingModality, facet.ImagingModality)
	}), nil
}

func (c *memoryCorpus) GetByCode(ctx context.Context, code string, system entities.CodeSystem) (*entities.Facet, error) {
	c.record("GetByCode")
	return c.facets[entities.CodeKey{Code: code, CodeSystem: system}], nil
}

func (c *memoryCorpus) ListByCodes(ctx context.Context, keys []entities.CodeKey) (map[entities.CodeKey]*entities.Facet, error) {
	c.record("ListByCodes")
	out := make(map[entities.CodeKey]*entities.Facet)
	for _, k := range keys {
		if f, ok := c.facets[k]; ok {
			out[k] = f
		}
	}
	return out, nil
}

func (c *memoryCorpus) ListFrom(ctx context.Context, code string, system entities.CodeSystem) ([]entities.Mapping, error) {
	c.record("ListFrom")
	return append([]entities.Mapping{}, c.mappings[entities.CodeKey{Code: code, CodeSystem: system}]...), nil
}

func (c *memoryCorpus) ListFromCodes(ctx context.Context, keys []entities.CodeKey) (map[entities.CodeKey][]entities.Mapping, error) {
	c.record("ListFromCodes")
	out := make(map[entities.CodeKey][]entities.Mapping)
	for _, k := range keys {
		if m, ok := c.mappings[k]; ok {
			out[k] = m
		}
	}
	return out, nil
}

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }

func floatPtr(f float64) *float64 { return &f }

func cptEntry(code string, year int, open string) *entities.CodeEntry {
	return &entities.CodeEntry{
		Code:            code,
		CodeSystem:      entities.CodeSystemCPT,
		VersionYear:     year,
		LicenseStatus:   entities.LicenseStatusFree,
		OpenDescription: open,
		IsActive:        true,
		HasEmbedding:    true,
	}
}

func codes(matches []entities.CandidateMatch) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Entry.Code
	}
	return out
}

func resultCodes(results []entities.RankedResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Entry.Code
	}
	return out
}
