package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/vec"
)

// maintenance implements memory.Maintainer: the housekeeping surface used
// by the retention controller, the checkpoint job, and startup.
type maintenance struct {
	db     *sql.DB
	index  *vectorIndex
	logger *slog.Logger
}

// DataAge reports the createdAt bounds of the record table.
func (m *maintenance) DataAge(ctx context.Context) (oldest, newest time.Time, ok bool, err error) {
	var minStr, maxStr sql.NullString
	if err := m.db.QueryRowContext(ctx,
		"SELECT MIN(created_at), MAX(created_at) FROM memory").Scan(&minStr, &maxStr); err != nil {
		return time.Time{}, time.Time{}, false, classify(fmt.Errorf("sqlite: data age: %w", err))
	}
	if !minStr.Valid || !maxStr.Valid {
		return time.Time{}, time.Time{}, false, nil
	}

	if oldest, err = parseTime(minStr.String); err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("sqlite: parse oldest %q: %w", minStr.String, err)
	}
	if newest, err = parseTime(maxStr.String); err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("sqlite: parse newest %q: %w", maxStr.String, err)
	}
	return oldest, newest, true, nil
}

// PurgeBefore deletes entities then records older than cutoff in one
// transaction. An interrupted purge leaves a consistent prefix deleted
// and resumes from the new minimum on the next call.
func (m *maintenance) PurgeBefore(ctx context.Context, cutoff time.Time) (records, entities int64, err error) {
	cutoffStr := formatTime(cutoff)

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, classify(fmt.Errorf("sqlite: begin purge: %w", err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		"DELETE FROM memory_entities WHERE memory_id IN (SELECT id FROM memory WHERE created_at < ?)",
		cutoffStr)
	if err != nil {
		return 0, 0, classify(fmt.Errorf("sqlite: purge entities: %w", err))
	}
	if entities, err = res.RowsAffected(); err != nil {
		return 0, 0, fmt.Errorf("sqlite: purge entities affected: %w", err)
	}

	res, err = tx.ExecContext(ctx, "DELETE FROM memory WHERE created_at < ?", cutoffStr)
	if err != nil {
		return 0, 0, classify(fmt.Errorf("sqlite: purge records: %w", err))
	}
	if records, err = res.RowsAffected(); err != nil {
		return 0, 0, fmt.Errorf("sqlite: purge records affected: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, classify(fmt.Errorf("sqlite: commit purge: %w", err))
	}
	return records, entities, nil
}

// RebuildIndex reloads the vector index from embedded rows. With no
// embedded rows the load is skipped and the index is simply cleared.
func (m *maintenance) RebuildIndex(ctx context.Context) error {
	var embedded int64
	if err := m.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM memory WHERE embedding IS NOT NULL").Scan(&embedded); err != nil {
		return classify(fmt.Errorf("sqlite: count embedded rows: %w", err))
	}
	if embedded == 0 {
		m.index.ReplaceAll(nil)
		m.logger.Debug("sqlite: index rebuild skipped, no embedded rows")
		return nil
	}

	rows, err := m.db.QueryContext(ctx,
		"SELECT id, user_id, embedding FROM memory WHERE embedding IS NOT NULL")
	if err != nil {
		return classify(fmt.Errorf("sqlite: load embeddings: %w", err))
	}
	defer func() { _ = rows.Close() }()

	fresh := make(map[string]indexEntry, embedded)
	for rows.Next() {
		var (
			id     string
			userID string
			blob   []byte
		)
		if err := rows.Scan(&id, &userID, &blob); err != nil {
			return fmt.Errorf("sqlite: scan embedding: %w", err)
		}
		if len(blob) == 0 {
			continue
		}
		fresh[id] = indexEntry{userID: userID, vector: vec.FromBytes(blob)}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlite: load embeddings: %w", err)
	}

	m.index.ReplaceAll(fresh)
	m.logger.Info("sqlite: vector index rebuilt", "entries", len(fresh))
	return nil
}

// CompactIndex releases index memory held for deleted rows.
func (m *maintenance) CompactIndex(_ context.Context) error {
	m.index.Compact()
	return nil
}

// Checkpoint flushes the write-ahead log into the main database file.
func (m *maintenance) Checkpoint(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return classify(fmt.Errorf("sqlite: wal checkpoint: %w", err))
	}
	return nil
}
