package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/memory"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/vec"
)

// timeLayout is the fixed-width UTC timestamp format stored in TEXT
// columns. Fixed millisecond precision keeps lexicographic order equal
// to chronological order, so range filters and ORDER BY work on the raw
// strings.
const timeLayout = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Accept rows written by other tools.
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

const recordColumns = "id, user_id, type, source_text, metadata, screenshot, extracted_text, embedding, created_at, updated_at"

// recordStore implements memory.RecordStore on SQLite with the in-memory
// vector index as an embedding cache.
type recordStore struct {
	db     *sql.DB
	index  *vectorIndex
	logger *slog.Logger
	path   string
}

// Insert appends the record row, then the entity rows one by one. An
// entity failure is logged and skipped; the record always survives.
func (s *recordStore) Insert(ctx context.Context, rec *memory.Record, entities []memory.Entity) error {
	var blob []byte
	if rec.Embedding != nil {
		blob = vec.ToBytes(rec.Embedding)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Type, rec.SourceText, rec.Metadata,
		rec.Screenshot, rec.ExtractedText, blob,
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return classify(fmt.Errorf("sqlite: insert record: %w", err))
	}

	for _, e := range entities {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO memory_entities (id, memory_id, entity, type, entity_type, normalized_value, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.MemoryID, e.Value, e.Type, e.EntityType, e.NormalizedValue,
			formatTime(e.CreatedAt),
		); err != nil {
			s.logger.Warn("sqlite: entity insert failed, skipping",
				"memory_id", e.MemoryID,
				"entity", e.Value,
				"error", err,
			)
		}
	}

	if rec.Embedding != nil {
		s.index.Add(rec.ID, rec.UserID, rec.Embedding)
	}
	return nil
}

// GetByID returns the record owned by userID, or memory.ErrRecordNotFound.
func (s *recordStore) GetByID(ctx context.Context, id, userID string) (*memory.Record, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM memory WHERE id = ? AND user_id = ?", id, userID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memory.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get record: %w", err)
	}
	return rec, nil
}

// Delete removes a record; entity rows go with it through the foreign-key
// cascade, which makes the pair atomic.
func (s *recordStore) Delete(ctx context.Context, id, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM memory WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return false, classify(fmt.Errorf("sqlite: delete record: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	s.index.Remove(id)
	return true, nil
}

// VectorSearch ranks the SQL-filtered candidate set by cosine similarity.
// Candidate ids always come from the database; the index only supplies
// vectors it has cached, so a stale or empty index cannot change the
// result set.
func (s *recordStore) VectorSearch(ctx context.Context, userID string, query []float32, k int, f memory.SearchFilters) ([]memory.SearchHit, error) {
	if k <= 0 || len(query) == 0 {
		return nil, nil
	}

	where, args := searchWhere(userID, f)
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM memory WHERE "+where, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("sqlite: search candidates: %w", err))
	}

	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("sqlite: scan candidate: %w", err)
		}
		candidates = append(candidates, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("sqlite: search candidates: %w", err)
	}
	_ = rows.Close()

	if len(candidates) == 0 {
		return nil, nil
	}

	vectors, err := s.vectorsFor(ctx, userID, candidates)
	if err != nil {
		return nil, err
	}

	type scored struct {
		id  string
		sim float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, id := range candidates {
		v, ok := vectors[id]
		if !ok {
			continue
		}
		ranked = append(ranked, scored{id: id, sim: vec.Cosine(query, v)})
	}
	slices.SortFunc(ranked, func(a, b scored) int {
		if a.sim != b.sim {
			if a.sim > b.sim {
				return -1
			}
			return 1
		}
		return strings.Compare(a.id, b.id)
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.id
	}
	recs, err := s.recordsByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	hits := make([]memory.SearchHit, 0, len(ranked))
	for _, r := range ranked {
		rec, ok := recs[r.id]
		if !ok {
			continue
		}
		hits = append(hits, memory.SearchHit{Record: *rec, Similarity: r.sim})
	}
	return hits, nil
}

// MetadataQuery returns one page of structured listing plus the total
// match count.
func (s *recordStore) MetadataQuery(ctx context.Context, userID string, q memory.ListQuery) ([]memory.Record, int64, error) {
	clauses := []string{"user_id = ?"}
	args := []any{userID}
	if q.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, q.Type)
	}
	if q.SessionID != "" {
		clauses = append(clauses, "instr(metadata, ?) > 0")
		args = append(args, q.SessionID)
	}
	where := strings.Join(clauses, " AND ")

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memory WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, classify(fmt.Errorf("sqlite: count records: %w", err))
	}

	sortCol := "created_at"
	if q.SortBy == memory.SortUpdatedAt {
		sortCol = "updated_at"
	}
	dir := "DESC"
	if q.Order == memory.OrderAsc {
		dir = "ASC"
	}

	limit := q.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	sel := fmt.Sprintf("SELECT %s FROM memory WHERE %s ORDER BY %s %s, id %s LIMIT ? OFFSET ?",
		recordColumns, where, sortCol, dir, dir)
	rows, err := s.db.QueryContext(ctx, sel, append(args, limit, q.Offset)...)
	if err != nil {
		return nil, 0, classify(fmt.Errorf("sqlite: list records: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var recs []memory.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("sqlite: scan record: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, total, rows.Err()
}

// ListEntities returns a record's entities in insertion order.
func (s *recordStore) ListEntities(ctx context.Context, memoryID string) ([]memory.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, memory_id, entity, type, entity_type, normalized_value, created_at
		FROM memory_entities WHERE memory_id = ? ORDER BY rowid`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []memory.Entity
	for rows.Next() {
		var (
			e         memory.Entity
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.MemoryID, &e.Value, &e.Type, &e.EntityType, &e.NormalizedValue, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan entity: %w", err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: parse entity created_at %q: %w", createdAt, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Stats reports table counts, index size, and the database path.
func (s *recordStore) Stats(ctx context.Context) (memory.Stats, error) {
	stats := memory.Stats{IndexSize: s.index.Len(), Path: s.path}

	counts := []struct {
		query string
		dst   *int64
	}{
		{"SELECT COUNT(*) FROM memory", &stats.Records},
		{"SELECT COUNT(*) FROM memory WHERE embedding IS NOT NULL", &stats.Embedded},
		{"SELECT COUNT(*) FROM memory WHERE type = '" + memory.TypeScreenCapture + "'", &stats.ScreenCaptures},
		{"SELECT COUNT(*) FROM memory_entities", &stats.Entities},
		{"SELECT COUNT(*) FROM skill_prompts", &stats.SkillPrompts},
		{"SELECT COUNT(*) FROM context_rules", &stats.ContextRules},
		{"SELECT COUNT(*) FROM installed_skills", &stats.InstalledSkills},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return memory.Stats{}, classify(fmt.Errorf("sqlite: stats: %w", err))
		}
	}
	return stats, nil
}

// ScreenshotReferenced reports whether any record still points at the
// screenshot path. Used by the orphaned-screenshot sweep.
func (s *recordStore) ScreenshotReferenced(ctx context.Context, path string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM memory WHERE screenshot = ?", path).Scan(&n); err != nil {
		return false, fmt.Errorf("sqlite: check screenshot reference: %w", err)
	}
	return n > 0, nil
}

// vectorsFor resolves vectors for the candidate ids, serving from the
// index and filling misses from the database (warming the index as a side
// effect).
func (s *recordStore) vectorsFor(ctx context.Context, userID string, ids []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(ids))
	var missing []string
	for _, id := range ids {
		if v, ok := s.index.Vector(id); ok {
			out[id] = v
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	args := make([]any, len(missing))
	for i, id := range missing {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, embedding FROM memory WHERE id IN ("+placeholders(len(missing))+")", args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: fetch embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			id   string
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("sqlite: scan embedding: %w", err)
		}
		if len(blob) == 0 {
			continue
		}
		v := vec.FromBytes(blob)
		out[id] = v
		s.index.Add(id, userID, v)
	}
	return out, rows.Err()
}

func (s *recordStore) recordsByID(ctx context.Context, ids []string) (map[string]*memory.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM memory WHERE id IN ("+placeholders(len(ids))+")", args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: fetch records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]*memory.Record, len(ids))
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan record: %w", err)
		}
		out[rec.ID] = rec
	}
	return out, rows.Err()
}

func searchWhere(userID string, f memory.SearchFilters) (string, []any) {
	clauses := []string{"user_id = ?", "embedding IS NOT NULL"}
	args := []any{userID}
	if f.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, f.Type)
	}
	if f.SessionID != "" {
		clauses = append(clauses, "instr(metadata, ?) > 0")
		args = append(args, f.SessionID)
	}
	if f.MaxAgeDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -f.MaxAgeDays)
		clauses = append(clauses, "created_at >= ?")
		args = append(args, formatTime(cutoff))
	}
	return strings.Join(clauses, " AND "), args
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*memory.Record, error) {
	var (
		rec       memory.Record
		blob      []byte
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Type, &rec.SourceText, &rec.Metadata,
		&rec.Screenshot, &rec.ExtractedText, &blob, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if len(blob) > 0 {
		rec.Embedding = vec.FromBytes(blob)
	}

	var err error
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at %q: %w", updatedAt, err)
	}
	return &rec, nil
}
