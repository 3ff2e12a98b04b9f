package services

import (
	"context"

	"github.com/zatekoja/codelookup/internal/domain/entities"
)

// DetailAssembler builds the single-code view: entry, facet and outgoing mappings
type DetailAssembler struct {
	corpus *CorpusAccessor
}

// NewDetailAssembler creates a detail assembler
func NewDetailAssembler(corpus *CorpusAccessor) *DetailAssembler {
	return &DetailAssembler{corpus: corpus}
}

// Assemble resolves (code, system, year). Without a year the most recent version is used.
// A missing entry surfaces as the repository's NotFound error. The result is redacted.
func (a *DetailAssembler) Assemble(ctx context.Context, code string, system entities.CodeSystem, year *int) (*entities.RankedResult, error) {
	entry, err := a.corpus.Entry(ctx, code, system, year, YearPolicyMostRecent)
	if err != nil {
		return nil, err
	}

	facet, err := a.corpus.FacetFor(ctx, entry.Code, entry.CodeSystem)
	if err != nil {
		return nil, err
	}

	mappings, err := a.corpus.MappingsFrom(ctx, entry.Code, entry.CodeSystem)
	if err != nil {
		return nil, err
	}

	result := buildResult(entry, facet, mappings, nil)
	return &result, nil
}

// buildResult is the one place entries become outward-facing results
func buildResult(entry *entities.CodeEntry, facet *entities.Facet, mappings []entities.Mapping, score *float64) entities.RankedResult {
	if mappings == nil {
		mappings = []entities.Mapping{}
	}
	return entities.RankedResult{
		Entry:              entities.Redact(entry),
		DisplayDescription: entities.DisplayDescription(entry),
		Facet:              facet,
		Mappings:           mappings,
		Score:              score,
	}
}
