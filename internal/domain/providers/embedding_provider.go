package providers

import (
	"context"
	"errors"
)

// ErrEmbeddingUnavailable is returned when no embedding provider is configured
var ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

// EmbeddingProvider turns text into a fixed-length vector.
// Callers must treat every failure as recoverable.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
