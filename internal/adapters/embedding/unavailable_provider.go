package embedding

import (
	"context"

	"github.com/zatekoja/codelookup/internal/domain/providers"
)

// UnavailableProvider stands in when no embedding endpoint is configured.
// Every semantic request then degrades to keyword matching.
type UnavailableProvider struct{}

// Embed always fails with ErrEmbeddingUnavailable
func (UnavailableProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, providers.ErrEmbeddingUnavailable
}
