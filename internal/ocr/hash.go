package ocr

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

// TextChangeDetector remembers the hash of the last text it saw so the
// capture loop can skip re-embedding unchanged screen content. Hashing is
// over a normalised form, so whitespace jitter between OCR runs does not
// count as change.
type TextChangeDetector struct {
	mu   sync.Mutex
	last string
}

func NewTextChangeDetector() *TextChangeDetector {
	return &TextChangeDetector{}
}

// Check hashes text and reports whether it differs from the previous
// call. The first call always reports a change. The stored hash is
// updated unconditionally.
func (d *TextChangeDetector) Check(text string) (changed bool, hash string) {
	sum := sha256.Sum256([]byte(normalizeForHash(text)))
	hash = hex.EncodeToString(sum[:])

	d.mu.Lock()
	defer d.mu.Unlock()
	changed = hash != d.last
	d.last = hash
	return changed, hash
}

// Reset forgets the previous hash so the next Check reports a change.
func (d *TextChangeDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = ""
}

func normalizeForHash(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
