package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/memory"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// Another process holding the file lock (a second daemon instance, a
// stuck backup) usually releases it within seconds. Retry before giving
// up, waiting base, 2*base, ... between attempts.
const (
	openAttempts    = 5
	openBackoffBase = 3 * time.Second
)

// openWithRetry retries open while the failure is the retriable
// lock sentinel. Any other failure aborts immediately.
func openWithRetry(cfg Config, logger *slog.Logger, attempts int, base time.Duration) (*sql.DB, error) {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		db, err := open(cfg)
		if err == nil {
			return db, nil
		}
		lastErr = err
		if !errors.Is(err, memory.ErrStoreUnavailable) || attempt == attempts {
			return nil, err
		}
		wait := time.Duration(attempt) * base
		logger.Warn("database locked, retrying",
			"attempt", attempt, "of", attempts, "wait", wait.String())
		time.Sleep(wait)
	}
	return nil, lastErr
}

// open opens the database at cfg.Path, applies the connection PRAGMAs,
// and migrates the schema. A file lock held by another process surfaces
// as memory.ErrStoreUnavailable so the bootstrap layer can retry.
//
// The database uses WAL mode, a busy timeout, foreign keys for entity
// cascade, and a single connection (SQLite serialises writes).
func open(cfg Config) (*sql.DB, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.Path, err)
	}

	db.SetMaxOpenConns(1)

	ctx := context.TODO()

	if cfg.walEnabled() {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, classify(fmt.Errorf("sqlite: enable WAL: %w", err))
		}
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, classify(err)
	}

	// Probe for a write lock now rather than on the first insert.
	if err := probeWriteLock(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func probeWriteLock(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("sqlite: acquire write lock: %w", err))
	}
	if _, err := tx.ExecContext(ctx, "UPDATE schema_version SET version = version WHERE 0"); err != nil {
		_ = tx.Rollback()
		return classify(fmt.Errorf("sqlite: acquire write lock: %w", err))
	}
	return tx.Rollback()
}

// classify maps SQLITE_BUSY failures onto the retriable sentinel.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") {
		return fmt.Errorf("%w: %v", memory.ErrStoreUnavailable, err)
	}
	return err
}
