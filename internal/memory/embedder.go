package memory

import "context"

// Embedding sources. Fallback vectors come from the deterministic
// hash-based generator used when the model is unavailable.
const (
	SourceModel    = "model"
	SourceFallback = "fallback"
)

// Embedding is a fixed-dimension L2-normalised vector with its provenance.
type Embedding struct {
	Vector []float32
	Source string // model | fallback
}

// Embedder produces embeddings for short English text. Implementations
// must return vectors of length EmbeddingDim with all components finite,
// and must be safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) (Embedding, error)
}

// CacheStats is a point-in-time snapshot of an embedder's cache counters.
type CacheStats struct {
	Size     int   `json:"size"`
	Capacity int   `json:"capacity"`
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Total    int64 `json:"totalRequests"`
}

// InstrumentedEmbedder is implemented by embedders that report cache
// counters and model identity, consumed by health checks and metrics.
type InstrumentedEmbedder interface {
	Embedder
	CacheStats() CacheStats
	ModelName() string
}
