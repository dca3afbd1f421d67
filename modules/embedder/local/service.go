package local

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/memory"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/vec"
)

const (
	// maxCacheKeyRunes bounds the cache key length. Longer texts share a
	// prefix key, trading a little precision for bounded memory.
	maxCacheKeyRunes = 200

	// maxBatchWorkers caps EmbedBatch parallelism.
	maxBatchWorkers = 4
)

// cached is one cache entry: the vector plus where it came from.
type cached struct {
	vector []float32
	source string
}

// Service produces fixed-dimension embeddings with an expiring LRU cache
// in front of the model and the deterministic fallback generator behind
// it. It implements memory.Embedder and is safe for concurrent use.
type Service struct {
	model    Model
	cache    *lru.LRU[string, cached]
	capacity int
	log      *slog.Logger

	ready  atomic.Bool
	hits   atomic.Int64
	misses atomic.Int64
	total  atomic.Int64
}

// NewService builds an embed service. A nil model is valid: every embed
// then uses the fallback generator.
func NewService(model Model, cacheSize int, cacheTTL time.Duration, log *slog.Logger) *Service {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &Service{
		model:    model,
		cache:    lru.NewLRU[string, cached](cacheSize, nil, cacheTTL),
		capacity: cacheSize,
		log:      log,
	}
}

// Init loads the model and marks the service ready. A model load failure
// is returned to the caller and aborts startup. With no model configured
// the service still comes up serving fallback vectors, announced once at
// WARN.
func (s *Service) Init(ctx context.Context) error {
	if s.model == nil {
		s.log.Warn("no embedding model loaded, serving deterministic fallback vectors")
		s.ready.Store(true)
		return nil
	}
	if err := s.model.Init(ctx); err != nil {
		return fmt.Errorf("embedder: load model %s: %w", s.model.Name(), err)
	}
	s.log.Info("embedding model ready", "model", s.model.Name())
	s.ready.Store(true)
	return nil
}

// Embed returns the embedding for text, from cache when possible. A model
// runtime failure degrades to the fallback generator rather than failing
// the call.
func (s *Service) Embed(ctx context.Context, text string) (memory.Embedding, error) {
	if !s.ready.Load() {
		return memory.Embedding{}, memory.ErrEmbedderNotReady
	}
	if strings.TrimSpace(text) == "" {
		return memory.Embedding{}, fmt.Errorf("%w: embed text is empty", memory.ErrInvalidInput)
	}

	s.total.Add(1)

	key := cacheKey(text)
	if entry, ok := s.cache.Get(key); ok {
		s.hits.Add(1)
		return memory.Embedding{Vector: entry.vector, Source: entry.source}, nil
	}
	s.misses.Add(1)

	entry := s.compute(ctx, text)
	s.cache.Add(key, entry)
	return memory.Embedding{Vector: entry.vector, Source: entry.source}, nil
}

// EmbedBatch embeds texts concurrently, preserving input order. The first
// error aborts the batch.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([]memory.Embedding, error) {
	out := make([]memory.Embedding, len(texts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(min(runtime.NumCPU(), maxBatchWorkers))
	for i, text := range texts {
		g.Go(func() error {
			e, err := s.Embed(ctx, text)
			if err != nil {
				return fmt.Errorf("batch item %d: %w", i, err)
			}
			out[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// CacheStats reports the cache counters.
func (s *Service) CacheStats() memory.CacheStats {
	return memory.CacheStats{
		Size:     s.cache.Len(),
		Capacity: s.capacity,
		Hits:     s.hits.Load(),
		Misses:   s.misses.Load(),
		Total:    s.total.Load(),
	}
}

// ModelName reports the loaded model, or empty when running on fallback
// vectors only.
func (s *Service) ModelName() string {
	if s.model == nil {
		return ""
	}
	return s.model.Name()
}

// Close releases the model and stops accepting embeds.
func (s *Service) Close() error {
	s.ready.Store(false)
	if s.model == nil {
		return nil
	}
	return s.model.Close()
}

func (s *Service) compute(ctx context.Context, text string) cached {
	if s.model != nil {
		v, err := s.model.Embed(ctx, text)
		switch {
		case err != nil:
			s.log.Warn("model embed failed, using fallback vector",
				"model", s.model.Name(), "error", err)
		case !validVector(v):
			s.log.Warn("model produced an invalid vector, using fallback",
				"model", s.model.Name(), "len", len(v))
		default:
			return cached{vector: v, source: memory.SourceModel}
		}
	}
	return cached{vector: FallbackVector(text), source: memory.SourceFallback}
}

func validVector(v []float32) bool {
	return len(v) == memory.EmbeddingDim && vec.AllFinite(v)
}

// cacheKey normalises text into a bounded lookup key.
func cacheKey(text string) string {
	key := strings.ToLower(strings.TrimSpace(text))
	if r := []rune(key); len(r) > maxCacheKeyRunes {
		key = string(r[:maxCacheKeyRunes])
	}
	return key
}
