package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/memory"
)

// skillRegistry implements memory.SkillRegistry keyed by unique name.
// Name and exec-path validation happens in the skills package before
// anything reaches this store.
type skillRegistry struct {
	db *sql.DB
}

const skillColumns = "id, name, description, contract_md, exec_path, exec_type, enabled, created_at, updated_at"

// Upsert inserts a skill or updates the row with the same name. The
// caller's struct is refreshed with the canonical row.
func (s *skillRegistry) Upsert(ctx context.Context, sk *memory.InstalledSkill) error {
	if sk.ID == "" {
		return fmt.Errorf("%w: skill id is required", memory.ErrInvalidInput)
	}
	if sk.Name == "" {
		return fmt.Errorf("%w: skill name is required", memory.ErrInvalidInput)
	}

	now := time.Now().UTC()
	if sk.CreatedAt.IsZero() {
		sk.CreatedAt = now
	}
	sk.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO installed_skills (`+skillColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			description = excluded.description,
			contract_md = excluded.contract_md,
			exec_path   = excluded.exec_path,
			exec_type   = excluded.exec_type,
			enabled     = excluded.enabled,
			updated_at  = excluded.updated_at`,
		sk.ID, sk.Name, sk.Description, sk.ContractMD, sk.ExecPath, sk.ExecType,
		boolToInt(sk.Enabled), formatTime(sk.CreatedAt), formatTime(sk.UpdatedAt),
	)
	if err != nil {
		return classify(fmt.Errorf("sqlite: upsert skill: %w", err))
	}

	stored, err := s.GetByName(ctx, sk.Name)
	if err != nil {
		return fmt.Errorf("sqlite: read back skill: %w", err)
	}
	*sk = *stored
	return nil
}

// GetByName returns a skill, or memory.ErrSkillNotFound.
func (s *skillRegistry) GetByName(ctx context.Context, name string) (*memory.InstalledSkill, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+skillColumns+" FROM installed_skills WHERE name = ?", name)

	sk, err := scanSkill(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memory.ErrSkillNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get skill: %w", err)
	}
	return sk, nil
}

// List returns skills ordered by name, hiding disabled ones unless asked.
func (s *skillRegistry) List(ctx context.Context, includeDisabled bool) ([]memory.InstalledSkill, error) {
	query := "SELECT " + skillColumns + " FROM installed_skills"
	if !includeDisabled {
		query += " WHERE enabled = 1"
	}
	query += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classify(fmt.Errorf("sqlite: list skills: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var out []memory.InstalledSkill
	for rows.Next() {
		sk, err := scanSkill(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan skill: %w", err)
		}
		out = append(out, *sk)
	}
	return out, rows.Err()
}

// SetEnabled flips a skill's enabled flag, reporting whether it existed.
func (s *skillRegistry) SetEnabled(ctx context.Context, name string, enabled bool) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE installed_skills SET enabled = ?, updated_at = ? WHERE name = ?",
		boolToInt(enabled), formatTime(time.Now()), name)
	if err != nil {
		return false, classify(fmt.Errorf("sqlite: set skill enabled: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	return n > 0, nil
}

// Remove deletes a skill by name, reporting whether it existed.
func (s *skillRegistry) Remove(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM installed_skills WHERE name = ?", name)
	if err != nil {
		return false, classify(fmt.Errorf("sqlite: remove skill: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	return n > 0, nil
}

func scanSkill(row rowScanner) (*memory.InstalledSkill, error) {
	var (
		sk        memory.InstalledSkill
		enabled   int
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&sk.ID, &sk.Name, &sk.Description, &sk.ContractMD, &sk.ExecPath,
		&sk.ExecType, &enabled, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	sk.Enabled = enabled != 0

	var err error
	if sk.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	if sk.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at %q: %w", updatedAt, err)
	}
	return &sk, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
