// Package memory defines the domain model for the user-memory service:
// records, entities, the auxiliary store types, the storage interfaces
// implemented by modules/store/sqlite, and the orchestrating Service.
package memory

import (
	"encoding/json"
	"time"
)

// EmbeddingDim is the fixed dimensionality of all stored embeddings.
const EmbeddingDim = 384

// MaxSourceTextLen is the maximum accepted length of Record.SourceText
// after trimming.
const MaxSourceTextLen = 10000

// MaxEntitiesPerRecord caps the number of entity rows stored per record.
const MaxEntitiesPerRecord = 100

// DefaultUserID is the owner scope used when a request carries no user id.
const DefaultUserID = "default_user"

// Well-known record types. Type is an open string; callers may define
// their own values.
const (
	TypeUserMemory    = "user_memory"
	TypeScreenCapture = "screen_capture"
)

// Record is a persisted unit of memory: user text or a screen capture.
type Record struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	Type          string    `json:"type"`
	SourceText    string    `json:"sourceText"`
	Metadata      string    `json:"metadata,omitempty"` // opaque JSON document
	Screenshot    string    `json:"screenshot,omitempty"`
	ExtractedText string    `json:"extractedText,omitempty"`
	Embedding     []float32 `json:"-"` // nil only for legacy rows
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// MetadataMap decodes the opaque metadata document into a generic map.
// Returns an empty map when metadata is absent or not a JSON object;
// caller data is never schema-validated.
func (r *Record) MetadataMap() map[string]any {
	if r.Metadata == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(r.Metadata), &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

// Entity is a caller-tagged span associated with a record.
type Entity struct {
	ID              string    `json:"id"`
	MemoryID        string    `json:"memoryId"`
	Value           string    `json:"value"`
	Type            string    `json:"type"`
	EntityType      string    `json:"entityType"`      // normalised tag, defaults to Type
	NormalizedValue string    `json:"normalizedValue"` // lower-case canonical form
	CreatedAt       time.Time `json:"createdAt"`
}

// SkillPrompt is a semantic-searchable prompt snippet.
type SkillPrompt struct {
	ID         string    `json:"id"`
	Tags       []string  `json:"tags"`
	PromptText string    `json:"promptText"`
	Embedding  []float32 `json:"-"`
	HitCount   int64     `json:"hitCount"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Context rule scopes.
const (
	ContextTypeSite = "site"
	ContextTypeApp  = "app"
)

// ContextRule is a per-site or per-app text snippet injected into
// downstream prompts. (contextType, contextKey, ruleText) triples are
// unique after trim.
type ContextRule struct {
	ID          string    `json:"id"`
	ContextType string    `json:"contextType"` // site | app
	ContextKey  string    `json:"contextKey"`  // hostname or app name, lowercased
	RuleText    string    `json:"ruleText"`
	Category    string    `json:"category,omitempty"`
	Source      string    `json:"source,omitempty"`
	HitCount    int64     `json:"hitCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Skill executable kinds.
const (
	ExecTypeNode  = "node"
	ExecTypeShell = "shell"
)

// InstalledSkill is a caller-registered named capability. Name is unique
// and must match the skill-name pattern; ExecPath must resolve inside the
// per-user skills sandbox directory.
type InstalledSkill struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	ContractMD  string    `json:"contractMd,omitempty"`
	ExecPath    string    `json:"execPath"`
	ExecType    string    `json:"execType"` // node | shell
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
