package services

import (
	"context"

	"github.com/zatekoja/codelookup/internal/domain/entities"
	"github.com/zatekoja/codelookup/internal/domain/repositories"
)

// YearPolicy decides which version year applies when a request names none
type YearPolicy int

const (
	// YearPolicyDefault uses the configured default year, or every year when none is configured
	YearPolicyDefault YearPolicy = iota
	// YearPolicyMostRecent picks the largest version year
	YearPolicyMostRecent
)

// RetrievalFilter narrows every retrieval branch
type RetrievalFilter struct {
	CodeSystem  *entities.CodeSystem
	VersionYear *int
	Limit       int
}

// CorpusAccessor is typed read access to the code catalog, its facets and its mappings.
// It never ranks and returns empty slices when nothing matches.
type CorpusAccessor struct {
	entries            repositories.CodeCatalogRepository
	facets             repositories.FacetRepository
	mappings           repositories.MappingRepository
	defaultVersionYear int
}

// NewCorpusAccessor creates a corpus accessor. A zero defaultVersionYear disables the default-year policy.
func NewCorpusAccessor(
	entries repositories.CodeCatalogRepository,
	facets repositories.FacetRepository,
	mappings repositories.MappingRepository,
	defaultVersionYear int,
) *CorpusAccessor {
	return &CorpusAccessor{
		entries:            entries,
		facets:             facets,
		mappings:           mappings,
		defaultVersionYear: defaultVersionYear,
	}
}

// DefaultVersionYear returns the configured default year, 0 when unset
func (c *CorpusAccessor) DefaultVersionYear() int {
	return c.defaultVersionYear
}

// resolveYear returns the year filter to apply; nil means no year restriction
func (c *CorpusAccessor) resolveYear(requested *int, policy YearPolicy) *int {
	if requested != nil {
		return requested
	}
	if policy == YearPolicyDefault && c.defaultVersionYear > 0 {
		year := c.defaultVersionYear
		return &year
	}
	return nil
}

func (c *CorpusAccessor) codeFilter(filter RetrievalFilter, policy YearPolicy) repositories.CodeFilter {
	return repositories.CodeFilter{
		CodeSystem:  filter.CodeSystem,
		VersionYear: c.resolveYear(filter.VersionYear, policy),
		Limit:       filter.Limit,
	}
}

// Find lists active entries matching the filter
func (c *CorpusAccessor) Find(ctx context.Context, filter RetrievalFilter, policy YearPolicy) ([]*entities.CodeEntry, error) {
	return nonNilEntries(c.entries.Find(ctx, c.codeFilter(filter, policy)))
}

// EntriesWithCodePrefix lists active entries whose code starts with prefix
func (c *CorpusAccessor) EntriesWithCodePrefix(ctx context.Context, prefix string, filter RetrievalFilter, policy YearPolicy) ([]*entities.CodeEntry, error) {
	return nonNilEntries(c.entries.SearchByCodePrefix(ctx, prefix, c.codeFilter(filter, policy)))
}

// EntriesContaining lists active entries whose code, descriptions or category contain term
func (c *CorpusAccessor) EntriesContaining(ctx context.Context, term string, filter RetrievalFilter, policy YearPolicy) ([]*entities.CodeEntry, error) {
	return nonNilEntries(c.entries.SearchBySubstring(ctx, term, c.codeFilter(filter, policy)))
}

// NearestEntries lists active entries with an embedding ordered by similarity to vector
func (c *CorpusAccessor) NearestEntries(ctx context.Context, vector []float32, filter RetrievalFilter, policy YearPolicy, minSimilarity float64) ([]entities.ScoredEntry, error) {
	scored, err := c.entries.NearestBySimilarity(ctx, vector, c.codeFilter(filter, policy), minSimilarity)
	if err != nil {
		return nil, err
	}
	if scored == nil {
		scored = []entities.ScoredEntry{}
	}
	return scored, nil
}

// EntriesWithFacets lists active entries whose facet satisfies every constraint
func (c *CorpusAccessor) EntriesWithFacets(ctx context.Context, constraints entities.FacetConstraints, filter RetrievalFilter, policy YearPolicy) ([]*entities.CodeEntry, error) {
	return nonNilEntries(c.entries.FindByFacets(ctx, repositories.FacetFilter{
		Constraints: constraints,
		CodeSystem:  filter.CodeSystem,
		VersionYear: c.resolveYear(filter.VersionYear, policy),
		Limit:       filter.Limit,
	}))
}

// Entry resolves one entry. An explicit year is looked up exactly; otherwise policy picks the year.
func (c *CorpusAccessor) Entry(ctx context.Context, code string, system entities.CodeSystem, year *int, policy YearPolicy) (*entities.CodeEntry, error) {
	if resolved := c.resolveYear(year, policy); resolved != nil {
		return c.entries.FindByIdentity(ctx, code, system, *resolved)
	}
	return c.entries.FindLatest(ctx, code, system)
}

// FacetFor returns the facet for (code, system), nil when absent
func (c *CorpusAccessor) FacetFor(ctx context.Context, code string, system entities.CodeSystem) (*entities.Facet, error) {
	return c.facets.GetByCode(ctx, code, system)
}

// MappingsFrom returns every outgoing mapping for (code, system)
func (c *CorpusAccessor) MappingsFrom(ctx context.Context, code string, system entities.CodeSystem) ([]entities.Mapping, error) {
	mappings, err := c.mappings.ListFrom(ctx, code, system)
	if err != nil {
		return nil, err
	}
	if mappings == nil {
		mappings = []entities.Mapping{}
	}
	return mappings, nil
}

// FacetsFor resolves facets for many codes at once
func (c *CorpusAccessor) FacetsFor(ctx context.Context, keys []entities.CodeKey) (map[entities.CodeKey]*entities.Facet, error) {
	if len(keys) == 0 {
		return map[entities.CodeKey]*entities.Facet{}, nil
	}
	return c.facets.ListByCodes(ctx, keys)
}

// MappingsFromCodes resolves outgoing mappings for many codes at once
func (c *CorpusAccessor) MappingsFromCodes(ctx context.Context, keys []entities.CodeKey) (map[entities.CodeKey][]entities.Mapping, error) {
	if len(keys) == 0 {
		return map[entities.CodeKey][]entities.Mapping{}, nil
	}
	return c.mappings.ListFromCodes(ctx, keys)
}

func nonNilEntries(entries []*entities.CodeEntry, err error) ([]*entities.CodeEntry, error) {
	if err != nil {
		return nil, err
	}
	if entries == nil {
		return []*entities.CodeEntry{}, nil
	}
	return entries, nil
}
