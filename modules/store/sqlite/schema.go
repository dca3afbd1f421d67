package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS memory (
		id             TEXT PRIMARY KEY,
		user_id        TEXT NOT NULL,
		type           TEXT NOT NULL,
		source_text    TEXT NOT NULL,
		metadata       TEXT NOT NULL DEFAULT '',
		screenshot     TEXT NOT NULL DEFAULT '',
		extracted_text TEXT NOT NULL DEFAULT '',
		embedding      BLOB,
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_memory_user ON memory(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_memory_type ON memory(type)`,
	`CREATE INDEX IF NOT EXISTS idx_memory_created ON memory(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_memory_user_created ON memory(user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_memory_user_type ON memory(user_id, type)`,
	`CREATE INDEX IF NOT EXISTS idx_memory_user_type_created ON memory(user_id, type, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS memory_entities (
		id               TEXT PRIMARY KEY,
		memory_id        TEXT NOT NULL REFERENCES memory(id) ON DELETE CASCADE,
		entity           TEXT NOT NULL,
		type             TEXT NOT NULL,
		entity_type      TEXT NOT NULL,
		normalized_value TEXT NOT NULL,
		created_at       TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_entities_memory ON memory_entities(memory_id)`,
	`CREATE INDEX IF NOT EXISTS idx_entities_entity ON memory_entities(entity)`,
	`CREATE INDEX IF NOT EXISTS idx_entities_type ON memory_entities(type)`,
	`CREATE INDEX IF NOT EXISTS idx_entities_entity_type ON memory_entities(entity_type)`,

	`CREATE TABLE IF NOT EXISTS skill_prompts (
		id          TEXT PRIMARY KEY,
		tags        TEXT NOT NULL DEFAULT '',
		prompt_text TEXT NOT NULL,
		embedding   BLOB,
		hit_count   INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS context_rules (
		id           TEXT PRIMARY KEY,
		context_type TEXT NOT NULL,
		context_key  TEXT NOT NULL,
		rule_text    TEXT NOT NULL,
		category     TEXT NOT NULL DEFAULT '',
		source       TEXT NOT NULL DEFAULT '',
		hit_count    INTEGER NOT NULL DEFAULT 0,
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL,
		UNIQUE (context_type, context_key, rule_text)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_rules_lookup ON context_rules(context_type, context_key)`,

	`CREATE TABLE IF NOT EXISTS installed_skills (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		contract_md TEXT NOT NULL DEFAULT '',
		exec_path   TEXT NOT NULL,
		exec_type   TEXT NOT NULL,
		enabled     INTEGER NOT NULL DEFAULT 1,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	)`,
}

// migrate creates or updates the database schema to the latest version.
// All DDL uses IF NOT EXISTS, making migration idempotent.
func migrate(db *sql.DB) error {
	ctx := context.TODO()

	// Ensure schema_version table exists first.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}

	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("sqlite: record schema version: %w", err)
	}

	return nil
}
