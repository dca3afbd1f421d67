package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/vec"
)

// InMemoryStore is a thread-safe, in-memory implementation of RecordStore.
// Vector search is a brute-force cosine scan, which makes it the reference
// for what an indexed implementation must return.
type InMemoryStore struct {
	mu       sync.RWMutex
	records  map[string]*Record
	entities map[string][]Entity // memoryId → entity rows
}

// NewInMemoryStore creates a new empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records:  make(map[string]*Record),
		entities: make(map[string][]Entity),
	}
}

// Compile-time interface check.
var _ RecordStore = (*InMemoryStore)(nil)

// Insert stores a record with its entity rows.
func (s *InMemoryStore) Insert(_ context.Context, rec *Record, entities []Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.records[cp.ID] = &cp
	if len(entities) > 0 {
		s.entities[cp.ID] = append([]Entity(nil), entities...)
	}
	return nil
}

// GetByID returns the record owned by userID, or ErrRecordNotFound.
func (s *InMemoryStore) GetByID(_ context.Context, id, userID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok || rec.UserID != userID {
		return nil, ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

// Delete removes a record and its entities.
func (s *InMemoryStore) Delete(_ context.Context, id, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.UserID != userID {
		return false, nil
	}
	delete(s.records, id)
	delete(s.entities, id)
	return true, nil
}

// VectorSearch scans every embedded record of the user and returns the k
// nearest by cosine distance.
func (s *InMemoryStore) VectorSearch(_ context.Context, userID string, query []float32, k int, f SearchFilters) ([]SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 {
		return nil, nil
	}

	var cutoff time.Time
	if f.MaxAgeDays > 0 {
		cutoff = time.Now().UTC().AddDate(0, 0, -f.MaxAgeDays)
	}

	var hits []SearchHit
	for _, rec := range s.records {
		if rec.UserID != userID || rec.Embedding == nil {
			continue
		}
		if !matchesFilters(rec, f, cutoff) {
			continue
		}
		hits = append(hits, SearchHit{Record: *rec, Similarity: vec.Cosine(query, rec.Embedding)})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// MetadataQuery returns a page of records plus the total match count.
func (s *InMemoryStore) MetadataQuery(_ context.Context, userID string, q ListQuery) ([]Record, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []Record
	for _, rec := range s.records {
		if rec.UserID != userID {
			continue
		}
		if q.Type != "" && rec.Type != q.Type {
			continue
		}
		if q.SessionID != "" && !strings.Contains(rec.Metadata, q.SessionID) {
			continue
		}
		matched = append(matched, *rec)
	}
	total := int64(len(matched))

	key := func(r Record) time.Time {
		if q.SortBy == SortUpdatedAt {
			return r.UpdatedAt
		}
		return r.CreatedAt
	}
	sort.Slice(matched, func(i, j int) bool {
		if q.Order == OrderAsc {
			return key(matched[i]).Before(key(matched[j]))
		}
		return key(matched[i]).After(key(matched[j]))
	})

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return nil, total, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, total, nil
}

// ListEntities returns the entities attached to a record.
func (s *InMemoryStore) ListEntities(_ context.Context, memoryID string) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entity(nil), s.entities[memoryID]...), nil
}

// Stats reports store contents.
func (s *InMemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Path: ":memory:"}
	for _, rec := range s.records {
		st.Records++
		if rec.Embedding != nil {
			st.Embedded++
		}
		if rec.Type == TypeScreenCapture {
			st.ScreenCaptures++
		}
	}
	for _, ents := range s.entities {
		st.Entities += int64(len(ents))
	}
	st.IndexSize = int(st.Embedded)
	return st, nil
}

func matchesFilters(rec *Record, f SearchFilters, cutoff time.Time) bool {
	if f.Type != "" && rec.Type != f.Type {
		return false
	}
	if f.SessionID != "" && !strings.Contains(rec.Metadata, f.SessionID) {
		return false
	}
	if !cutoff.IsZero() && rec.CreatedAt.Before(cutoff) {
		return false
	}
	return true
}
