package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
)

// Service defaults, applied when a request leaves the knob unset.
const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 100
	DefaultListLimit   = 50
	MaxListLimit       = 200
)

// Config carries the tunable search defaults of the service. The config
// layer fills these from MIN_SIMILARITY_THRESHOLD and MAX_AGE_DAYS.
type Config struct {
	// MinSimilarity is the similarity floor applied to search results when
	// the request does not carry its own.
	MinSimilarity float64 `yaml:"min_similarity"`

	// MaxAgeDays bounds search results by age when the request does not
	// carry its own. Zero disables the age filter.
	MaxAgeDays int `yaml:"max_age_days"`
}

// Service orchestrates the write and read paths: validate, embed, insert
// on the way in; embed, vector-search, entity join on the way out. The
// embedding is always produced before any store call begins.
type Service struct {
	store RecordStore
	embed Embedder
	log   *slog.Logger
	cfg   Config

	now func() time.Time
}

// NewService wires the write and read paths over a store and an embedder.
func NewService(store RecordStore, embed Embedder, log *slog.Logger, cfg Config) *Service {
	return &Service{store: store, embed: embed, log: log, cfg: cfg, now: time.Now}
}

// EntityInput is a caller-supplied entity before normalisation.
type EntityInput struct {
	Type       string `json:"type"`
	Value      string `json:"value"`
	EntityType string `json:"entityType,omitempty"`
}

// Timings breaks a request's elapsed time into its dominant phases.
type Timings struct {
	EmbeddingMs int64 `json:"embeddingMs"`
	DBInsertMs  int64 `json:"dbInsertMs,omitempty"`
	SearchMs    int64 `json:"searchMs,omitempty"`
	TotalMs     int64 `json:"totalMs"`
}

// StoreRequest is the write-path input. Metadata passes through opaque;
// SessionID, when set, is merged into object-shaped metadata so session
// filtering works on later searches.
type StoreRequest struct {
	UserID        string          `json:"userId,omitempty"`
	SessionID     string          `json:"sessionId,omitempty"`
	Type          string          `json:"type,omitempty"`
	Text          string          `json:"text"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	Screenshot    string          `json:"screenshot,omitempty"`
	ExtractedText string          `json:"extractedText,omitempty"`
	Entities      []EntityInput   `json:"entities,omitempty"`
}

// StoreResult reports a completed write.
type StoreResult struct {
	MemoryID            string  `json:"memoryId"`
	Stored              bool    `json:"stored"`
	Entities            int     `json:"entities"`
	EmbeddingDimensions int     `json:"embeddingDimensions"`
	EmbeddingSource     string  `json:"embeddingSource"`
	Timings             Timings `json:"timings"`
}

// Store validates, embeds, and persists one record with its entities.
func (s *Service) Store(ctx context.Context, req StoreRequest) (*StoreResult, error) {
	start := s.now()

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: text is required", ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(text); n > MaxSourceTextLen {
		return nil, fmt.Errorf("%w: text is %d characters, limit %d", ErrInvalidInput, n, MaxSourceTextLen)
	}

	userID := req.UserID
	if userID == "" {
		userID = DefaultUserID
	}
	recType := req.Type
	if recType == "" {
		recType = TypeUserMemory
	}

	now := s.now().UTC()
	id := NewRecordID(now)
	entities := normalizeEntities(id, req.Entities, now)

	embStart := s.now()
	emb, err := s.embed.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	embeddingMs := s.now().Sub(embStart).Milliseconds()

	rec := &Record{
		ID:            id,
		UserID:        userID,
		Type:          recType,
		SourceText:    text,
		Metadata:      metadataDocument(req.Metadata, req.SessionID),
		Screenshot:    req.Screenshot,
		ExtractedText: req.ExtractedText,
		Embedding:     emb.Vector,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	insStart := s.now()
	if err := s.store.Insert(ctx, rec, entities); err != nil {
		return nil, err
	}
	insertMs := s.now().Sub(insStart).Milliseconds()

	s.log.Debug("memory stored",
		"id", id, "userId", userID, "type", recType,
		"entities", len(entities), "embeddingSource", emb.Source)

	return &StoreResult{
		MemoryID:            id,
		Stored:              true,
		Entities:            len(entities),
		EmbeddingDimensions: len(emb.Vector),
		EmbeddingSource:     emb.Source,
		Timings: Timings{
			EmbeddingMs: embeddingMs,
			DBInsertMs:  insertMs,
			TotalMs:     s.now().Sub(start).Milliseconds(),
		},
	}, nil
}

// SearchRequest is the read-path input. Optional knobs are pointers so an
// explicit zero can disable the corresponding filter.
type SearchRequest struct {
	UserID        string   `json:"userId,omitempty"`
	Query         string   `json:"query"`
	Limit         int      `json:"limit,omitempty"`
	MinSimilarity *float64 `json:"minSimilarity,omitempty"`
	Type          string   `json:"type,omitempty"`
	SessionID     string   `json:"sessionId,omitempty"`
	MaxAgeDays    *int     `json:"maxAgeDays,omitempty"`
}

// SearchResultItem is one scored record with its entities.
type SearchResultItem struct {
	Record
	Similarity float64  `json:"similarity"`
	Entities   []Entity `json:"entities"`
}

// SearchResult is the assembled read-path response.
type SearchResult struct {
	Results     []SearchResultItem `json:"results"`
	Total       int                `json:"total"`
	QuerySource string             `json:"queryEmbeddingSource"`
	Timings     Timings            `json:"timings"`
}

// Search embeds the query and returns records above the similarity floor,
// ordered by descending similarity.
func (s *Service) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	start := s.now()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidInput)
	}
	userID := req.UserID
	if userID == "" {
		userID = DefaultUserID
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	minSim := s.cfg.MinSimilarity
	if req.MinSimilarity != nil {
		minSim = *req.MinSimilarity
	}
	maxAge := s.cfg.MaxAgeDays
	if req.MaxAgeDays != nil {
		maxAge = *req.MaxAgeDays
	}

	embStart := s.now()
	emb, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	embeddingMs := s.now().Sub(embStart).Milliseconds()

	// Overshoot the requested page so the similarity floor applied below
	// cannot starve it when the index returns approximate neighbours.
	searchStart := s.now()
	hits, err := s.store.VectorSearch(ctx, userID, emb.Vector, limit*2, SearchFilters{
		Type:       req.Type,
		SessionID:  req.SessionID,
		MaxAgeDays: maxAge,
	})
	if err != nil {
		return nil, err
	}

	results := make([]SearchResultItem, 0, limit)
	for _, h := range hits {
		if h.Similarity < minSim {
			continue
		}
		entities, err := s.store.ListEntities(ctx, h.Record.ID)
		if err != nil {
			s.log.Warn("entity fetch failed", "id", h.Record.ID, "error", err)
			entities = nil
		}
		if entities == nil {
			entities = []Entity{}
		}
		results = append(results, SearchResultItem{Record: h.Record, Similarity: h.Similarity, Entities: entities})
		if len(results) == limit {
			break
		}
	}
	searchMs := s.now().Sub(searchStart).Milliseconds()

	s.log.Debug("memory search",
		"userId", userID, "results", len(results), "querySource", emb.Source)

	return &SearchResult{
		Results:     results,
		Total:       len(results),
		QuerySource: emb.Source,
		Timings: Timings{
			EmbeddingMs: embeddingMs,
			SearchMs:    searchMs,
			TotalMs:     s.now().Sub(start).Milliseconds(),
		},
	}, nil
}

// RetrieveResult is a record with its entity rows.
type RetrieveResult struct {
	Record
	Entities []Entity `json:"entities"`
}

// Retrieve returns one record by id, scoped to its owner.
func (s *Service) Retrieve(ctx context.Context, id, userID string) (*RetrieveResult, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	if userID == "" {
		userID = DefaultUserID
	}
	rec, err := s.store.GetByID(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	entities, err := s.store.ListEntities(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	if entities == nil {
		entities = []Entity{}
	}
	return &RetrieveResult{Record: *rec, Entities: entities}, nil
}

// UpdateRequest replaces fields of an existing record. Nil pointers leave
// the stored value untouched; Entities, when present, replaces the entity
// set wholesale.
type UpdateRequest struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId,omitempty"`
	Text          *string         `json:"text,omitempty"`
	Type          *string         `json:"type,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	Screenshot    *string         `json:"screenshot,omitempty"`
	ExtractedText *string         `json:"extractedText,omitempty"`
	Entities      *[]EntityInput  `json:"entities,omitempty"`
}

// UpdateResult reports a completed update.
type UpdateResult struct {
	MemoryID   string  `json:"memoryId"`
	Updated    bool    `json:"updated"`
	Reembedded bool    `json:"reembedded"`
	Timings    Timings `json:"timings"`
}

// Update replaces fields of an existing record, re-embedding only when the
// text changed. The backing store has no in-place UPDATE for vector
// columns, so the row is replaced under the same id with createdAt kept.
func (s *Service) Update(ctx context.Context, req UpdateRequest) (*UpdateResult, error) {
	start := s.now()

	if strings.TrimSpace(req.ID) == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	userID := req.UserID
	if userID == "" {
		userID = DefaultUserID
	}

	rec, err := s.store.GetByID(ctx, req.ID, userID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	updated := *rec
	updated.UpdatedAt = now

	reembed := false
	if req.Text != nil {
		text := strings.TrimSpace(*req.Text)
		if text == "" {
			return nil, fmt.Errorf("%w: text cannot be empty", ErrInvalidInput)
		}
		if n := utf8.RuneCountInString(text); n > MaxSourceTextLen {
			return nil, fmt.Errorf("%w: text is %d characters, limit %d", ErrInvalidInput, n, MaxSourceTextLen)
		}
		if text != rec.SourceText {
			updated.SourceText = text
			reembed = true
		}
	}
	if req.Type != nil && strings.TrimSpace(*req.Type) != "" {
		updated.Type = strings.TrimSpace(*req.Type)
	}
	if len(req.Metadata) > 0 {
		updated.Metadata = string(req.Metadata)
	}
	if req.Screenshot != nil {
		updated.Screenshot = *req.Screenshot
	}
	if req.ExtractedText != nil {
		updated.ExtractedText = *req.ExtractedText
	}

	var entities []Entity
	if req.Entities != nil {
		entities = normalizeEntities(rec.ID, *req.Entities, now)
	} else {
		entities, err = s.store.ListEntities(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
	}

	var embeddingMs int64
	if reembed {
		embStart := s.now()
		emb, err := s.embed.Embed(ctx, updated.SourceText)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
		}
		updated.Embedding = emb.Vector
		embeddingMs = s.now().Sub(embStart).Milliseconds()
	}

	if _, err := s.store.Delete(ctx, rec.ID, userID); err != nil {
		return nil, err
	}
	if err := s.store.Insert(ctx, &updated, entities); err != nil {
		return nil, err
	}

	s.log.Debug("memory updated", "id", rec.ID, "userId", userID, "reembedded", reembed)

	return &UpdateResult{
		MemoryID:   rec.ID,
		Updated:    true,
		Reembedded: reembed,
		Timings: Timings{
			EmbeddingMs: embeddingMs,
			TotalMs:     s.now().Sub(start).Milliseconds(),
		},
	}, nil
}

// Delete removes a record. Deleting a missing record is not an error;
// found reports whether a row existed.
func (s *Service) Delete(ctx context.Context, id, userID string) (found bool, err error) {
	if strings.TrimSpace(id) == "" {
		return false, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	if userID == "" {
		userID = DefaultUserID
	}
	found, err = s.store.Delete(ctx, id, userID)
	if err != nil {
		return false, err
	}
	if found {
		s.log.Debug("memory deleted", "id", id, "userId", userID)
	}
	return found, nil
}

// ListRequest pages records by metadata, newest first by default.
type ListRequest struct {
	UserID    string `json:"userId,omitempty"`
	Type      string `json:"type,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	SortBy    string `json:"sortBy,omitempty"`
	Order     string `json:"order,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

// ListResult is one page of records plus the total match count.
type ListResult struct {
	Items  []Record `json:"items"`
	Total  int64    `json:"total"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}

// List returns a page of records matching the metadata filters.
func (s *Service) List(ctx context.Context, req ListRequest) (*ListResult, error) {
	userID := req.UserID
	if userID == "" {
		userID = DefaultUserID
	}

	q := ListQuery{
		Type:      req.Type,
		SessionID: req.SessionID,
		SortBy:    req.SortBy,
		Order:     strings.ToUpper(req.Order),
		Limit:     req.Limit,
		Offset:    req.Offset,
	}
	switch q.SortBy {
	case "":
		q.SortBy = SortCreatedAt
	case SortCreatedAt, SortUpdatedAt:
	default:
		return nil, fmt.Errorf("%w: sortBy must be %s or %s", ErrInvalidInput, SortCreatedAt, SortUpdatedAt)
	}
	switch q.Order {
	case "":
		q.Order = OrderDesc
	case OrderAsc, OrderDesc:
	default:
		return nil, fmt.Errorf("%w: order must be ASC or DESC", ErrInvalidInput)
	}
	if q.Limit <= 0 {
		q.Limit = DefaultListLimit
	}
	if q.Limit > MaxListLimit {
		q.Limit = MaxListLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	items, total, err := s.store.MetadataQuery(ctx, userID, q)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []Record{}
	}
	return &ListResult{Items: items, Total: total, Limit: q.Limit, Offset: q.Offset}, nil
}

// Stats reports store contents, used by health checks.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.store.Stats(ctx)
}

// normalizeEntities drops inputs missing a type or value, caps the result
// at MaxEntitiesPerRecord, and fills the derived columns.
func normalizeEntities(memoryID string, in []EntityInput, now time.Time) []Entity {
	if len(in) == 0 {
		return nil
	}
	out := make([]Entity, 0, min(len(in), MaxEntitiesPerRecord))
	for _, e := range in {
		value := strings.TrimSpace(e.Value)
		typ := strings.TrimSpace(e.Type)
		if value == "" || typ == "" {
			continue
		}
		entityType := strings.TrimSpace(e.EntityType)
		if entityType == "" {
			entityType = typ
		}
		out = append(out, Entity{
			ID:              NewEntityID(now),
			MemoryID:        memoryID,
			Value:           value,
			Type:            typ,
			EntityType:      entityType,
			NormalizedValue: strings.ToLower(value),
			CreatedAt:       now,
		})
		if len(out) == MaxEntitiesPerRecord {
			break
		}
	}
	return out
}

// metadataDocument serialises caller metadata, merging sessionID into
// object-shaped documents that do not already carry one. Non-object
// documents pass through untouched.
func metadataDocument(raw json.RawMessage, sessionID string) string {
	if len(raw) == 0 {
		if sessionID == "" {
			return "{}"
		}
		raw = json.RawMessage("{}")
	}
	if sessionID == "" {
		return string(raw)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return string(raw)
	}
	if _, ok := m["sessionId"]; !ok {
		m["sessionId"] = sessionID
		if b, err := json.Marshal(m); err == nil {
			return string(b)
		}
	}
	return string(raw)
}
