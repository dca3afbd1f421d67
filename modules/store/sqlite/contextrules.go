package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/memory"
)

// ruleStore implements memory.ContextRuleStore: exact-match keyed text
// snippets scoped to a site hostname or application name.
type ruleStore struct {
	db *sql.DB
}

const ruleColumns = "id, context_type, context_key, rule_text, category, source, hit_count, created_at, updated_at"

// Put inserts a rule, updating in place when the trimmed
// (contextType, contextKey, ruleText) triple already exists. The caller's
// struct is refreshed with the canonical row.
func (s *ruleStore) Put(ctx context.Context, r *memory.ContextRule) error {
	r.ContextType = strings.TrimSpace(r.ContextType)
	r.ContextKey = strings.ToLower(strings.TrimSpace(r.ContextKey))
	r.RuleText = strings.TrimSpace(r.RuleText)

	if r.ContextType != memory.ContextTypeSite && r.ContextType != memory.ContextTypeApp {
		return fmt.Errorf("%w: contextType must be site or app, got %q", memory.ErrInvalidInput, r.ContextType)
	}
	if r.ContextKey == "" || r.RuleText == "" {
		return fmt.Errorf("%w: contextKey and ruleText are required", memory.ErrInvalidInput)
	}
	if r.ID == "" {
		return fmt.Errorf("%w: rule id is required", memory.ErrInvalidInput)
	}

	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO context_rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (context_type, context_key, rule_text) DO UPDATE SET
			category   = excluded.category,
			source     = excluded.source,
			updated_at = excluded.updated_at`,
		r.ID, r.ContextType, r.ContextKey, r.RuleText, r.Category, r.Source,
		r.HitCount, formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		return classify(fmt.Errorf("sqlite: put context rule: %w", err))
	}

	// The conflict branch keeps the original row id; read the canonical
	// row back so the caller sees it.
	row := s.db.QueryRowContext(ctx,
		"SELECT "+ruleColumns+" FROM context_rules WHERE context_type = ? AND context_key = ? AND rule_text = ?",
		r.ContextType, r.ContextKey, r.RuleText)
	stored, err := scanRule(row)
	if err != nil {
		return fmt.Errorf("sqlite: read back context rule: %w", err)
	}
	*r = *stored
	return nil
}

// Get returns the rules for an exact (contextType, contextKey) pair and
// increments their hit counters.
func (s *ruleStore) Get(ctx context.Context, contextType, contextKey string) ([]memory.ContextRule, error) {
	contextType = strings.TrimSpace(contextType)
	contextKey = strings.ToLower(strings.TrimSpace(contextKey))

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+ruleColumns+" FROM context_rules WHERE context_type = ? AND context_key = ? ORDER BY created_at, id",
		contextType, contextKey)
	if err != nil {
		return nil, classify(fmt.Errorf("sqlite: get context rules: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var out []memory.ContextRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan context rule: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}

	if _, err := s.db.ExecContext(ctx,
		"UPDATE context_rules SET hit_count = hit_count + 1 WHERE context_type = ? AND context_key = ?",
		contextType, contextKey); err != nil {
		return nil, classify(fmt.Errorf("sqlite: bump rule hits: %w", err))
	}
	for i := range out {
		out[i].HitCount++
	}
	return out, nil
}

// List returns rules, optionally filtered by contextType, newest first.
func (s *ruleStore) List(ctx context.Context, contextType string, limit, offset int) ([]memory.ContextRule, error) {
	if limit <= 0 {
		limit = -1
	}

	query := "SELECT " + ruleColumns + " FROM context_rules"
	args := []any{}
	if contextType != "" {
		query += " WHERE context_type = ?"
		args = append(args, contextType)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("sqlite: list context rules: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var out []memory.ContextRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan context rule: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Delete removes a rule by id, reporting whether it existed.
func (s *ruleStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM context_rules WHERE id = ?", id)
	if err != nil {
		return false, classify(fmt.Errorf("sqlite: delete context rule: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	return n > 0, nil
}

func scanRule(row rowScanner) (*memory.ContextRule, error) {
	var (
		r         memory.ContextRule
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&r.ID, &r.ContextType, &r.ContextKey, &r.RuleText, &r.Category,
		&r.Source, &r.HitCount, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at %q: %w", updatedAt, err)
	}
	return &r, nil
}
