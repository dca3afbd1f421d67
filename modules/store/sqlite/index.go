package sqlite

import "sync"

// vectorIndex keeps the embeddings of live records in memory so vector
// searches avoid re-reading BLOB columns. It is an optimisation, never
// authoritative: candidate ids always come from SQL, and any id missing
// here is fetched from the database, so results are identical with a
// cold, warm, or absent index.
type vectorIndex struct {
	mu      sync.RWMutex
	entries map[string]indexEntry
}

type indexEntry struct {
	userID string
	vector []float32
}

func newVectorIndex() *vectorIndex {
	return &vectorIndex{entries: make(map[string]indexEntry)}
}

// Add inserts or replaces the vector for id.
func (x *vectorIndex) Add(id, userID string, v []float32) {
	if len(v) == 0 {
		return
	}
	x.mu.Lock()
	x.entries[id] = indexEntry{userID: userID, vector: v}
	x.mu.Unlock()
}

// Remove drops id from the index.
func (x *vectorIndex) Remove(id string) {
	x.mu.Lock()
	delete(x.entries, id)
	x.mu.Unlock()
}

// Vector returns the cached vector for id.
func (x *vectorIndex) Vector(id string) ([]float32, bool) {
	x.mu.RLock()
	e, ok := x.entries[id]
	x.mu.RUnlock()
	return e.vector, ok
}

// Len reports the number of indexed records.
func (x *vectorIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// ReplaceAll swaps in a freshly built entry set.
func (x *vectorIndex) ReplaceAll(entries map[string]indexEntry) {
	if entries == nil {
		entries = make(map[string]indexEntry)
	}
	x.mu.Lock()
	x.entries = entries
	x.mu.Unlock()
}

// Compact copies live entries into a fresh map. Go maps never shrink, so
// after heavy delete traffic the old buckets are only released here.
func (x *vectorIndex) Compact() {
	x.mu.Lock()
	fresh := make(map[string]indexEntry, len(x.entries))
	for id, e := range x.entries {
		fresh[id] = e
	}
	x.entries = fresh
	x.mu.Unlock()
}
