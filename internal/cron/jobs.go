package cron

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Maintenance is the subset of the store maintenance surface needed by
// cron jobs. Defined here to avoid a circular dependency on the store
// module.
type Maintenance interface {
	Checkpoint(ctx context.Context) error
}

// CheckpointJob periodically flushes the SQLite write-ahead log into the
// main database file so the WAL does not grow without bound between
// shutdowns.
type CheckpointJob struct {
	Store        Maintenance
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "@hourly"
}

// Compile-time interface check.
var _ Job = (*CheckpointJob)(nil)

// Name implements Job.
func (j *CheckpointJob) Name() string { return "wal_checkpoint" }

// Schedule implements Job.
func (j *CheckpointJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "@hourly"
}

// Run flushes the WAL.
func (j *CheckpointJob) Run(ctx context.Context) error {
	if err := j.Store.Checkpoint(ctx); err != nil {
		return fmt.Errorf("cron: wal checkpoint: %w", err)
	}
	j.Logger.Debug("cron: wal checkpoint complete")
	return nil
}

// ScreenshotRefs reports whether a screenshot path is still referenced by
// any record. Defined here to avoid a circular dependency on the store
// module.
type ScreenshotRefs interface {
	ScreenshotReferenced(ctx context.Context, path string) (bool, error)
}

// ScreenshotSweepJob deletes screenshot files whose records are gone,
// typically after a retention purge removed the rows but left the PNG
// files behind.
type ScreenshotSweepJob struct {
	Dir          string
	Refs         ScreenshotRefs
	Logger       *slog.Logger
	MinAge       time.Duration // files younger than this are skipped; empty = 1h
	ScheduleExpr string        // empty = default "30 * * * *"
}

// Compile-time interface check.
var _ Job = (*ScreenshotSweepJob)(nil)

// Name implements Job.
func (j *ScreenshotSweepJob) Name() string { return "screenshot_sweep" }

// Schedule implements Job.
func (j *ScreenshotSweepJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "30 * * * *"
}

// Run removes unreferenced screenshot files older than MinAge.
func (j *ScreenshotSweepJob) Run(ctx context.Context) error {
	minAge := j.MinAge
	if minAge <= 0 {
		minAge = time.Hour
	}
	cutoff := time.Now().Add(-minAge)

	entries, err := os.ReadDir(j.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cron: read screenshot dir: %w", err)
	}

	var removed, kept int
	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".png") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				j.Logger.Warn("cron: stat screenshot failed", "file", entry.Name(), "error", err)
			}
			continue
		}
		if info.ModTime().After(cutoff) {
			kept++
			continue
		}

		path := filepath.Join(j.Dir, entry.Name())
		referenced, err := j.Refs.ScreenshotReferenced(ctx, path)
		if err != nil {
			return fmt.Errorf("cron: check screenshot reference: %w", err)
		}
		if referenced {
			kept++
			continue
		}

		if err := os.Remove(path); err != nil {
			j.Logger.Warn("cron: remove screenshot failed", "file", entry.Name(), "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		j.Logger.Info("cron: swept orphaned screenshots", "removed", removed, "kept", kept)
	}
	return nil
}
