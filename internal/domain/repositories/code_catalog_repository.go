package repositories

import (
	"context"

	"github.com/zatekoja/codelookup/internal/domain/entities"
)

// CodeCatalogRepository defines read access to versioned code entries
type CodeCatalogRepository interface {
	// Find lists entries matching the filter, ordered by code then version year (newest first)
	Find(ctx context.Context, filter CodeFilter) ([]*entities.CodeEntry, error)

	// FindByIdentity retrieves exactly one (code, system, year) entry
	FindByIdentity(ctx context.Context, code string, system entities.CodeSystem, versionYear int) (*entities.CodeEntry, error)

	// FindLatest retrieves the entry with the largest version year for (code, system)
	FindLatest(ctx context.Context, code string, system entities.CodeSystem) (*entities.CodeEntry, error)

	// SearchByCodePrefix matches entries whose code starts with prefix, case-insensitively
	SearchByCodePrefix(ctx context.Context, prefix string, filter CodeFilter) ([]*entities.CodeEntry, error)

	// SearchBySubstring matches term against code, either description or category
	SearchBySubstring(ctx context.Context, term string, filter CodeFilter) ([]*entities.CodeEntry, error)

	// NearestBySimilarity returns entries with an embedding, most similar to vector first.
	// Similarity is 1 - cosine distance and only rows at or above minSimilarity are returned.
	NearestBySimilarity(ctx context.Context, vector []float32, filter CodeFilter, minSimilarity float64) ([]entities.ScoredEntry, error)

	// FindByFacets joins entries with facets and applies every supplied constraint
	FindByFacets(ctx context.Context, filter FacetFilter) ([]*entities.CodeEntry, error)
}

// FacetRepository defines read access to facets
type FacetRepository interface {
	// GetByCode retrieves the facet for (code, system); nil with no error when absent
	GetByCode(ctx context.Context, code string, system entities.CodeSystem) (*entities.Facet, error)

	// ListByCodes retrieves the facets for many codes in one round trip
	ListByCodes(ctx context.Context, keys []entities.CodeKey) (map[entities.CodeKey]*entities.Facet, error)
}

// MappingRepository defines read access to cross-system mappings
type MappingRepository interface {
	// ListFrom retrieves every mapping whose source is (code, system)
	ListFrom(ctx context.Context, code string, system entities.CodeSystem) ([]entities.Mapping, error)

	// ListFromCodes retrieves outgoing mappings for many codes in one round trip
	ListFromCodes(ctx context.Context, keys []entities.CodeKey) (map[entities.CodeKey][]entities.Mapping, error)
}

// CodeFilter defines filters shared by every code entry query
type CodeFilter struct {
	CodeSystem      *entities.CodeSystem
	VersionYear     *int
	IncludeInactive bool
	Limit           int
}

// FacetFilter defines the inputs of a faceted search
type FacetFilter struct {
	Constraints entities.FacetConstraints
	CodeSystem  *entities.CodeSystem
	VersionYear *int
	Limit       int
}
