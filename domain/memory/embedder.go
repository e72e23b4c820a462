package memory

import "context"

// Embedder converts text into unit-length embedding vectors of a fixed
// dimension. The engine depends only on this contract, never on which
// provider is active.
type Embedder interface {
	// Embed returns the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch returns one embedding per text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the vector dimension D.
	Dimensions() int
}
