package services

import (
	"context"

	"github.com/zatekoja/codelookup/internal/domain/entities"
)

// FacetFilter selects entries by structured classification attributes. It never scores.
type FacetFilter struct {
	corpus *CorpusAccessor
}

// NewFacetFilter creates a facet filter
func NewFacetFilter(corpus *CorpusAccessor) *FacetFilter {
	return &FacetFilter{corpus: corpus}
}

// Filter returns active entries whose facet satisfies every set constraint.
// Order is the store's code order and carries no ranking meaning.
func (f *FacetFilter) Filter(ctx context.Context, constraints entities.FacetConstraints, filter RetrievalFilter) ([]*entities.CodeEntry, error) {
	return f.corpus.EntriesWithFacets(ctx, constraints, filter, YearPolicyDefault)
}
