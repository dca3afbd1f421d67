package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/memory"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/vec"
)

// promptStore implements memory.SkillPromptStore. Prompts are few enough
// that semantic search scans all embedded rows.
type promptStore struct {
	db *sql.DB
}

const promptColumns = "id, tags, prompt_text, embedding, hit_count, created_at, updated_at"

// Put inserts or replaces a prompt snippet.
func (s *promptStore) Put(ctx context.Context, p *memory.SkillPrompt) error {
	if p.ID == "" {
		return fmt.Errorf("%w: prompt id is required", memory.ErrInvalidInput)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}

	var blob []byte
	if p.Embedding != nil {
		blob = vec.ToBytes(p.Embedding)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO skill_prompts (`+promptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, strings.Join(p.Tags, ","), p.PromptText, blob, p.HitCount,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return classify(fmt.Errorf("sqlite: put skill prompt: %w", err))
	}
	return nil
}

// Get returns a prompt by id, or memory.ErrPromptNotFound.
func (s *promptStore) Get(ctx context.Context, id string) (*memory.SkillPrompt, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+promptColumns+" FROM skill_prompts WHERE id = ?", id)

	p, err := scanPrompt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memory.ErrPromptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get skill prompt: %w", err)
	}
	return p, nil
}

// Search ranks embedded prompts by cosine similarity to query, dropping
// results below minSimilarity.
func (s *promptStore) Search(ctx context.Context, query []float32, k int, minSimilarity float64) ([]memory.PromptHit, error) {
	if k <= 0 || len(query) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+promptColumns+" FROM skill_prompts WHERE embedding IS NOT NULL")
	if err != nil {
		return nil, classify(fmt.Errorf("sqlite: search skill prompts: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var hits []memory.PromptHit
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan skill prompt: %w", err)
		}
		sim := vec.Cosine(query, p.Embedding)
		if sim < minSimilarity {
			continue
		}
		hits = append(hits, memory.PromptHit{Prompt: *p, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.SortFunc(hits, func(a, b memory.PromptHit) int {
		if a.Similarity != b.Similarity {
			if a.Similarity > b.Similarity {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Prompt.ID, b.Prompt.ID)
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// List returns prompts ordered newest first.
func (s *promptStore) List(ctx context.Context, limit, offset int) ([]memory.SkillPrompt, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+promptColumns+" FROM skill_prompts ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		limit, offset)
	if err != nil {
		return nil, classify(fmt.Errorf("sqlite: list skill prompts: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var out []memory.SkillPrompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan skill prompt: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Delete removes a prompt, reporting whether it existed.
func (s *promptStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM skill_prompts WHERE id = ?", id)
	if err != nil {
		return false, classify(fmt.Errorf("sqlite: delete skill prompt: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	return n > 0, nil
}

// RecordHit increments a prompt's hit counter.
func (s *promptStore) RecordHit(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE skill_prompts SET hit_count = hit_count + 1, updated_at = ? WHERE id = ?",
		formatTime(time.Now()), id)
	if err != nil {
		return classify(fmt.Errorf("sqlite: record prompt hit: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return memory.ErrPromptNotFound
	}
	return nil
}

func scanPrompt(row rowScanner) (*memory.SkillPrompt, error) {
	var (
		p         memory.SkillPrompt
		tags      string
		blob      []byte
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&p.ID, &tags, &p.PromptText, &blob, &p.HitCount, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if tags != "" {
		p.Tags = strings.Split(tags, ",")
	}
	if len(blob) > 0 {
		p.Embedding = vec.FromBytes(blob)
	}

	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at %q: %w", updatedAt, err)
	}
	return &p, nil
}
