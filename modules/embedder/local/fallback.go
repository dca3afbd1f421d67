package local

import (
	"hash/fnv"
	"math"
	"strings"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/memory"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/vec"
)

// statsDims is the tail of the vector reserved for coarse text statistics.
const statsDims = 20

// FallbackVector derives a deterministic unit vector from text alone. It is
// used when no model is loaded or when inference fails, so the write and
// search paths keep working in a degraded mode. Same input always produces
// the same output and every component is finite.
//
// Each unique token hashes into four dimensions, weighted by token
// frequency and first-occurrence position. The last 20 dimensions carry
// bounded trig functions of text length, word count, and average word
// length, keeping texts of very different shape separable even when their
// tokens collide.
func FallbackVector(text string) []float32 {
	v := make([]float32, memory.EmbeddingDim)
	tokenDims := memory.EmbeddingDim - statsDims

	words := strings.Fields(strings.ToLower(text))

	type tokenInfo struct {
		count int
		first int
	}
	// Unique tokens in first-occurrence order. Iterating the map directly
	// would make float accumulation order, and therefore the output bits,
	// depend on map ordering.
	var order []string
	info := make(map[string]*tokenInfo, len(words))
	for i, w := range words {
		if ti, ok := info[w]; ok {
			ti.count++
			continue
		}
		info[w] = &tokenInfo{count: 1, first: i}
		order = append(order, w)
	}

	for _, w := range order {
		ti := info[w]

		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		seed := h.Sum32()

		freq := float64(ti.count) / float64(len(words))
		pos := 1 - float64(ti.first)/float64(len(words))
		weight := freq * (0.5 + 0.5*pos)

		for k := uint32(0); k < 4; k++ {
			dim := int((seed + k*0x9e3779b9) % uint32(tokenDims))
			if seed>>(k*2)&1 == 1 {
				v[dim] -= float32(weight)
			} else {
				v[dim] += float32(weight)
			}
		}
	}

	textLen := float64(len(text))
	wordCount := float64(len(words))
	var avgWordLen float64
	if len(words) > 0 {
		total := 0
		for _, w := range words {
			total += len(w)
		}
		avgWordLen = float64(total) / wordCount
	}

	for i := 0; i < statsDims; i++ {
		phase := float64(i + 1)
		var s float64
		switch i % 3 {
		case 0:
			s = math.Sin(textLen / (10 * phase))
		case 1:
			s = math.Cos(wordCount / phase)
		default:
			s = math.Sin(avgWordLen * phase / 7)
		}
		v[tokenDims+i] = float32(s * 0.1)
	}

	return vec.Normalize(v)
}
