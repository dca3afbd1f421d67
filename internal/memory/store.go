package memory

import (
	"context"
	"time"
)

// SearchFilters narrows a vector search. Zero values disable a filter.
type SearchFilters struct {
	// Type restricts results to records of this type.
	Type string

	// SessionID is substring-matched against the metadata JSON document.
	SessionID string

	// MaxAgeDays excludes records older than now minus this many days.
	MaxAgeDays int
}

// SearchHit is a record with its similarity to the query vector,
// where similarity = 1 - cosineDistance.
type SearchHit struct {
	Record     Record
	Similarity float64
}

// List sort keys and orders accepted by MetadataQuery.
const (
	SortCreatedAt = "createdAt"
	SortUpdatedAt = "updatedAt"
	OrderDesc     = "DESC"
	OrderAsc      = "ASC"
)

// ListQuery is a structured metadata listing request.
type ListQuery struct {
	Type      string
	SessionID string
	SortBy    string // createdAt | updatedAt
	Order     string // DESC | ASC
	Limit     int
	Offset    int
}

// Stats is a point-in-time view of store contents.
type Stats struct {
	Records         int64  `json:"records"`
	Embedded        int64  `json:"embedded"`
	ScreenCaptures  int64  `json:"screenCaptures"`
	Entities        int64  `json:"entities"`
	SkillPrompts    int64  `json:"skillPrompts"`
	ContextRules    int64  `json:"contextRules"`
	InstalledSkills int64  `json:"installedSkills"`
	IndexSize       int    `json:"indexSize"`
	Path            string `json:"path"`
}

// RecordStore persists records and their entities and answers vector and
// metadata queries. Implementations must be safe for concurrent use and
// must return identical result sets whether or not an ANN index is built.
type RecordStore interface {
	// Insert appends a record with its entity rows. The record either fully
	// exists or exists without a partial entity set: individual entity-insert
	// failures are logged and skipped, never fatal.
	Insert(ctx context.Context, rec *Record, entities []Entity) error

	// GetByID returns the record owned by userID, or ErrRecordNotFound.
	GetByID(ctx context.Context, id, userID string) (*Record, error)

	// Delete removes a record and its entities atomically. Reports whether
	// a record was found; deleting a missing record is not an error.
	Delete(ctx context.Context, id, userID string) (bool, error)

	// VectorSearch returns up to k records ordered by ascending cosine
	// distance to query, excluding rows with no embedding.
	VectorSearch(ctx context.Context, userID string, query []float32, k int, f SearchFilters) ([]SearchHit, error)

	// MetadataQuery returns a page of records plus the total match count.
	MetadataQuery(ctx context.Context, userID string, q ListQuery) ([]Record, int64, error)

	// ListEntities returns the entities attached to a record.
	ListEntities(ctx context.Context, memoryID string) ([]Entity, error)

	// Stats reports store contents.
	Stats(ctx context.Context) (Stats, error)
}

// Maintainer is the housekeeping surface used by the retention controller
// and startup: range purge, index lifecycle, and durability checkpoints.
type Maintainer interface {
	// DataAge reports the createdAt bounds of the record table.
	// ok is false when the table is empty.
	DataAge(ctx context.Context) (oldest, newest time.Time, ok bool, err error)

	// PurgeBefore deletes entities then records with createdAt < cutoff,
	// reporting row counts. Resumable: an interrupted purge continues from
	// the new minimum on the next call.
	PurgeBefore(ctx context.Context, cutoff time.Time) (records, entities int64, err error)

	// RebuildIndex drops and rebuilds the vector index from embedded rows.
	// Skipped (no error) when no embedded rows exist.
	RebuildIndex(ctx context.Context) error

	// CompactIndex releases index memory held for deleted rows.
	CompactIndex(ctx context.Context) error

	// Checkpoint flushes the write-ahead log to the main database file.
	Checkpoint(ctx context.Context) error
}

// PromptHit is a skill prompt scored against a query vector.
type PromptHit struct {
	Prompt     SkillPrompt
	Similarity float64
}

// SkillPromptStore persists semantic-searchable prompt snippets.
type SkillPromptStore interface {
	Put(ctx context.Context, p *SkillPrompt) error
	Get(ctx context.Context, id string) (*SkillPrompt, error)
	Search(ctx context.Context, query []float32, k int, minSimilarity float64) ([]PromptHit, error)
	List(ctx context.Context, limit, offset int) ([]SkillPrompt, error)
	Delete(ctx context.Context, id string) (bool, error)

	// RecordHit increments the prompt's hit counter.
	RecordHit(ctx context.Context, id string) error
}

// ContextRuleStore persists exact-match keyed context rules.
type ContextRuleStore interface {
	// Put inserts a rule; an existing (contextType, contextKey, ruleText)
	// triple is updated in place rather than duplicated.
	Put(ctx context.Context, r *ContextRule) error

	// Get returns the rules for an exact (contextType, contextKey) pair and
	// increments their hit counters.
	Get(ctx context.Context, contextType, contextKey string) ([]ContextRule, error)

	List(ctx context.Context, contextType string, limit, offset int) ([]ContextRule, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// SkillRegistry persists installed skills keyed by unique name.
type SkillRegistry interface {
	Upsert(ctx context.Context, s *InstalledSkill) error
	GetByName(ctx context.Context, name string) (*InstalledSkill, error)
	List(ctx context.Context, includeDisabled bool) ([]InstalledSkill, error)
	SetEnabled(ctx context.Context, name string, enabled bool) (bool, error)
	Remove(ctx context.Context, name string) (bool, error)
}
