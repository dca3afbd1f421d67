package local

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/memory"
)

// fakeModel serves canned vectors keyed by input text. Unknown texts get a
// unit vector on axis 0.
type fakeModel struct {
	mu      sync.Mutex
	vecs    map[string][]float32
	err     error
	initErr error
	calls   int
	closed  bool
}

func (f *fakeModel) Name() string { return "fake-minilm" }

func (f *fakeModel) Init(context.Context) error { return f.initErr }

func (f *fakeModel) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vecs[text]; ok {
		return v, nil
	}
	return unitAt(0), nil
}

func (f *fakeModel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeModel) embedCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func unitAt(axis int) []float32 {
	v := make([]float32, memory.EmbeddingDim)
	v[axis] = 1
	return v
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readyService(t *testing.T, model Model) *Service {
	t.Helper()
	svc := NewService(model, 16, time.Minute, testLogger())
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return svc
}

func TestService_EmbedBeforeInit(t *testing.T) {
	t.Parallel()

	svc := NewService(nil, 16, time.Minute, testLogger())

	_, err := svc.Embed(context.Background(), "hello")
	if !errors.Is(err, memory.ErrEmbedderNotReady) {
		t.Errorf("Embed() error = %v, want ErrEmbedderNotReady", err)
	}
}

func TestService_EmbedEmptyText(t *testing.T) {
	t.Parallel()

	svc := readyService(t, nil)

	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := svc.Embed(context.Background(), text); !errors.Is(err, memory.ErrInvalidInput) {
			t.Errorf("Embed(%q) error = %v, want ErrInvalidInput", text, err)
		}
	}
}

func TestService_FallbackWithoutModel(t *testing.T) {
	t.Parallel()

	svc := readyService(t, nil)

	e, err := svc.Embed(context.Background(), "remember this")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if e.Source != memory.SourceFallback {
		t.Errorf("Source = %q, want %q", e.Source, memory.SourceFallback)
	}
	if want := FallbackVector("remember this"); !slices.Equal(e.Vector, want) {
		t.Error("fallback vector does not match the deterministic generator")
	}
}

func TestService_ModelVectorUsed(t *testing.T) {
	t.Parallel()

	model := &fakeModel{vecs: map[string][]float32{"coffee": unitAt(3)}}
	svc := readyService(t, model)

	e, err := svc.Embed(context.Background(), "coffee")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if e.Source != memory.SourceModel {
		t.Errorf("Source = %q, want %q", e.Source, memory.SourceModel)
	}
	if !slices.Equal(e.Vector, unitAt(3)) {
		t.Error("vector does not match the model output")
	}
}

func TestService_FallbackOnModelFailure(t *testing.T) {
	t.Parallel()

	model := &fakeModel{err: errors.New("inference blew up")}
	svc := readyService(t, model)

	e, err := svc.Embed(context.Background(), "still works")
	if err != nil {
		t.Fatalf("Embed() error = %v, want degraded success", err)
	}
	if e.Source != memory.SourceFallback {
		t.Errorf("Source = %q, want %q", e.Source, memory.SourceFallback)
	}
	if len(e.Vector) != memory.EmbeddingDim {
		t.Errorf("len = %d, want %d", len(e.Vector), memory.EmbeddingDim)
	}
}

func TestService_FallbackOnInvalidModelVector(t *testing.T) {
	t.Parallel()

	// Wrong dimension gets rejected by post-inference validation.
	model := &fakeModel{vecs: map[string][]float32{"bad": {1, 2, 3}}}
	svc := readyService(t, model)

	e, err := svc.Embed(context.Background(), "bad")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if e.Source != memory.SourceFallback {
		t.Errorf("Source = %q, want %q", e.Source, memory.SourceFallback)
	}
}

func TestService_InitFailurePropagates(t *testing.T) {
	t.Parallel()

	model := &fakeModel{initErr: errors.New("missing weights file")}
	svc := NewService(model, 16, time.Minute, testLogger())

	if err := svc.Init(context.Background()); err == nil {
		t.Error("Init() error = nil, want model load failure")
	}
}

func TestService_CacheCounters(t *testing.T) {
	t.Parallel()

	model := &fakeModel{}
	svc := readyService(t, model)
	ctx := context.Background()

	if _, err := svc.Embed(ctx, "repeated text"); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if _, err := svc.Embed(ctx, "repeated text"); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	stats := svc.CacheStats()
	if stats.Hits != 1 {
		t.Errorf("Hits = %d, want 1", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("Misses = %d, want 1", stats.Misses)
	}
	if stats.Total != 2 {
		t.Errorf("Total = %d, want 2", stats.Total)
	}
	if stats.Size != 1 {
		t.Errorf("Size = %d, want 1", stats.Size)
	}
	if stats.Capacity != 16 {
		t.Errorf("Capacity = %d, want 16", stats.Capacity)
	}
	if got := model.embedCalls(); got != 1 {
		t.Errorf("model calls = %d, want 1", got)
	}
}

func TestService_CacheKeyNormalisation(t *testing.T) {
	t.Parallel()

	model := &fakeModel{}
	svc := readyService(t, model)
	ctx := context.Background()

	// Case and surrounding whitespace collapse into one cache entry.
	if _, err := svc.Embed(ctx, "Hello World"); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if _, err := svc.Embed(ctx, "  hello world  "); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	if got := model.embedCalls(); got != 1 {
		t.Errorf("model calls = %d, want 1", got)
	}
}

func TestService_EmbedBatchPreservesOrder(t *testing.T) {
	t.Parallel()

	vecs := make(map[string][]float32)
	texts := make([]string, 8)
	for i := range texts {
		texts[i] = string(rune('a' + i))
		vecs[texts[i]] = unitAt(i)
	}
	svc := readyService(t, &fakeModel{vecs: vecs})

	out, err := svc.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if len(out) != len(texts) {
		t.Fatalf("len = %d, want %d", len(out), len(texts))
	}
	for i := range texts {
		if !slices.Equal(out[i].Vector, unitAt(i)) {
			t.Errorf("out[%d] does not match the vector for %q", i, texts[i])
		}
	}
}

func TestService_EmbedBatchFailsOnEmptyItem(t *testing.T) {
	t.Parallel()

	svc := readyService(t, nil)

	_, err := svc.EmbedBatch(context.Background(), []string{"ok", "", "also ok"})
	if !errors.Is(err, memory.ErrInvalidInput) {
		t.Errorf("EmbedBatch() error = %v, want ErrInvalidInput", err)
	}
}

func TestService_CloseReleasesModel(t *testing.T) {
	t.Parallel()

	model := &fakeModel{}
	svc := readyService(t, model)

	if err := svc.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !model.closed {
		t.Error("model not closed")
	}
	if _, err := svc.Embed(context.Background(), "late"); !errors.Is(err, memory.ErrEmbedderNotReady) {
		t.Errorf("Embed() after Close error = %v, want ErrEmbedderNotReady", err)
	}
}
