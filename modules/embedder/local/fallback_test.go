package local

import (
	"math"
	"slices"
	"testing"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/memory"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/vec"
)

func TestFallbackVector_Deterministic(t *testing.T) {
	t.Parallel()

	text := "I prefer tea over coffee in the morning"
	a := FallbackVector(text)
	b := FallbackVector(text)

	if !slices.Equal(a, b) {
		t.Error("same input produced different vectors")
	}
}

func TestFallbackVector_Dimension(t *testing.T) {
	t.Parallel()

	v := FallbackVector("hello world")
	if len(v) != memory.EmbeddingDim {
		t.Errorf("len = %d, want %d", len(v), memory.EmbeddingDim)
	}
}

func TestFallbackVector_Normalized(t *testing.T) {
	t.Parallel()

	for _, text := range []string{
		"a",
		"short note",
		"a much longer piece of text with many repeated words words words and more words",
	} {
		v := FallbackVector(text)
		norm := vec.Norm(v)
		if math.Abs(norm-1) > 1e-4 {
			t.Errorf("FallbackVector(%q) norm = %v, want 1", text, norm)
		}
	}
}

func TestFallbackVector_AllFinite(t *testing.T) {
	t.Parallel()

	for _, text := range []string{
		"",
		"   ",
		"normal text",
		"ünïcödé text with ¢hars",
	} {
		v := FallbackVector(text)
		if !vec.AllFinite(v) {
			t.Errorf("FallbackVector(%q) contains non-finite components", text)
		}
	}
}

func TestFallbackVector_DistinctTexts(t *testing.T) {
	t.Parallel()

	a := FallbackVector("meeting notes from the quarterly planning session")
	b := FallbackVector("recipe for sourdough bread with rye flour")

	if sim := vec.Cosine(a, b); sim > 0.99 {
		t.Errorf("unrelated texts nearly identical: cosine = %v", sim)
	}
}

func TestFallbackVector_EmptyTextStillUsable(t *testing.T) {
	t.Parallel()

	v := FallbackVector("")
	if len(v) != memory.EmbeddingDim {
		t.Fatalf("len = %d, want %d", len(v), memory.EmbeddingDim)
	}
	// The statistics tail keeps even an empty text away from the zero
	// vector, so normalisation always has something to work with.
	if norm := vec.Norm(v); math.Abs(norm-1) > 1e-4 {
		t.Errorf("norm = %v, want 1", norm)
	}
}
