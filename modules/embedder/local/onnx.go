//go:build onnx

package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/memory"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/vec"
)

// newModel returns an ONNX-backed MiniLM model for path. The WordPiece
// vocabulary is read from tokenizer.json next to the model file.
func newModel(path string) Model {
	if path == "" {
		return nil
	}
	return &onnxModel{path: path}
}

const (
	onnxSeqLen = 128

	// Standard BERT special token ids.
	clsTokenID = 101
	sepTokenID = 102
	unkTokenID = 100
)

// onnxModel runs sentence-transformer inference through onnxruntime:
// WordPiece tokenisation, transformer forward pass, mean pooling over
// attended positions. Inference is serialised on a mutex; tensor state is
// per call but the session is shared.
type onnxModel struct {
	path    string
	session *ort.DynamicAdvancedSession
	vocab   map[string]int

	mu sync.Mutex
}

func (m *onnxModel) Name() string {
	return filepath.Base(m.path)
}

// Init loads the runtime, the tokenizer vocabulary, and the model session.
// The shared library path can be overridden with ONNXRUNTIME_LIB.
func (m *onnxModel) Init(_ context.Context) error {
	if lib := os.Getenv("ONNXRUNTIME_LIB"); lib != "" {
		ort.SetSharedLibraryPath(lib)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("onnx: initialize runtime: %w", err)
	}

	vocab, err := loadVocab(filepath.Join(filepath.Dir(m.path), "tokenizer.json"))
	if err != nil {
		return fmt.Errorf("onnx: load tokenizer: %w", err)
	}
	m.vocab = vocab

	session, err := ort.NewDynamicAdvancedSession(m.path,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return fmt.Errorf("onnx: create session for %s: %w", m.path, err)
	}
	m.session = session
	return nil
}

func (m *onnxModel) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil, fmt.Errorf("onnx: session not initialised")
	}

	inputIDs, attentionMask := m.encode(text)
	tokenTypeIDs := make([]int64, onnxSeqLen)

	shape := ort.NewShape(1, onnxSeqLen)

	idsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("onnx: input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()

	maskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("onnx: attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	typeTensor, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("onnx: token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := m.session.Run([]ort.Value{idsTensor, maskTensor, typeTensor}, outputs); err != nil {
		return nil, fmt.Errorf("onnx: inference: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("onnx: unexpected output tensor type %T", outputs[0])
	}

	return meanPool(hidden.GetData(), hidden.GetShape(), attentionMask)
}

func (m *onnxModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		if err := m.session.Destroy(); err != nil {
			return err
		}
		m.session = nil
	}
	return nil
}

// encode turns text into fixed-length input id and attention mask slices
// with [CLS] and [SEP] framing.
func (m *onnxModel) encode(text string) (ids, mask []int64) {
	ids = make([]int64, onnxSeqLen)
	mask = make([]int64, onnxSeqLen)

	ids[0] = clsTokenID
	mask[0] = 1

	tokens := m.tokenize(text)
	if len(tokens) > onnxSeqLen-2 {
		tokens = tokens[:onnxSeqLen-2]
	}
	for i, t := range tokens {
		ids[i+1] = t
		mask[i+1] = 1
	}

	ids[len(tokens)+1] = sepTokenID
	mask[len(tokens)+1] = 1
	return ids, mask
}

// tokenize lowercases, splits on whitespace, and applies greedy WordPiece
// with the ## continuation prefix. Unknown pieces map to [UNK].
func (m *onnxModel) tokenize(text string) []int64 {
	var out []int64
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'")
		if word == "" {
			continue
		}
		if id, ok := m.vocab[word]; ok {
			out = append(out, int64(id))
			continue
		}

		start := 0
		for start < len(word) {
			end := len(word)
			matched := false
			for end > start {
				piece := word[start:end]
				if start > 0 {
					piece = "##" + piece
				}
				if id, ok := m.vocab[piece]; ok {
					out = append(out, int64(id))
					start = end
					matched = true
					break
				}
				end--
			}
			if !matched {
				out = append(out, unkTokenID)
				start++
			}
		}
	}
	return out
}

// meanPool averages the hidden states of attended positions and
// L2-normalises the result. Accepts either an already pooled [1, dim]
// output or the raw [1, seq, dim] last hidden state.
func meanPool(data []float32, shape []int64, mask []int64) ([]float32, error) {
	switch len(shape) {
	case 2:
		if int(shape[1]) < memory.EmbeddingDim {
			return nil, fmt.Errorf("onnx: pooled output too small: %v", shape)
		}
		out := make([]float32, memory.EmbeddingDim)
		copy(out, data[:memory.EmbeddingDim])
		return vec.Normalize(out), nil
	case 3:
		seqLen, dim := int(shape[1]), int(shape[2])
		if dim != memory.EmbeddingDim {
			return nil, fmt.Errorf("onnx: hidden size %d, want %d", dim, memory.EmbeddingDim)
		}
		out := make([]float32, dim)
		var attended float32
		for i := 0; i < seqLen && i < len(mask); i++ {
			if mask[i] == 0 {
				continue
			}
			attended++
			row := data[i*dim : (i+1)*dim]
			for j, x := range row {
				out[j] += x
			}
		}
		if attended == 0 {
			return nil, fmt.Errorf("onnx: no attended tokens")
		}
		for j := range out {
			out[j] /= attended
		}
		return vec.Normalize(out), nil
	default:
		return nil, fmt.Errorf("onnx: unexpected output shape %v", shape)
	}
}

// loadVocab reads the WordPiece vocabulary out of a HuggingFace
// tokenizer.json file.
func loadVocab(path string) (map[string]int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(doc.Model.Vocab) == 0 {
		return nil, fmt.Errorf("no vocabulary in %s", path)
	}
	return doc.Model.Vocab, nil
}
