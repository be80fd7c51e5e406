// Package embeddings provides the embedding provider contract and its
// OpenAI-backed implementation, wrapped with retry and caching decorators.
package embeddings

import "context"

// Provider turns texts into embedding vectors. Implementations must preserve
// input order and produce deterministic output for identical input within a
// model version. Embed is a suspension point: it honors ctx cancellation and
// deadlines.
type Provider interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector dimensionality.
	Dimensions() int

	// HealthCheck verifies the provider is reachable.
	HealthCheck(ctx context.Context) error
}
