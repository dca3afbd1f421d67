package local

import "context"

// Model is a loaded sentence-embedding model. Implementations must be safe
// for concurrent Embed calls once Init has returned.
type Model interface {
	// Name identifies the model in logs and debug output.
	Name() string

	// Init loads the model weights. Called once before any Embed.
	Init(ctx context.Context) error

	// Embed produces a raw, not yet validated, vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Close releases model resources.
	Close() error
}
