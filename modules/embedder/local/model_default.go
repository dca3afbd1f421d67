//go:build !onnx

package local

// newModel returns the model backing the given path. Without the onnx
// build tag no inference runtime is linked, so there is no model to load
// and every embed uses the deterministic fallback generator.
func newModel(path string) Model {
	return nil
}
