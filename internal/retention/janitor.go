// Package retention enforces the data-age ceiling on the record table.
// When the span between the oldest and newest record exceeds the ceiling,
// the oldest slice is purged and the vector index and write-ahead log are
// brought back in line.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/events"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/memory"
)

// Sentinel errors for janitor lifecycle operations.
var (
	ErrAlreadyStarted = errors.New("retention: already started")
	ErrNotStarted     = errors.New("retention: not started")
)

// Publisher fans out activity events; nil disables publishing.
type Publisher interface {
	Publish(eventType string, data map[string]any)
}

// Stats is a snapshot of the janitor counters.
type Stats struct {
	Checks      uint64    `json:"checks"`
	TotalPurged int64     `json:"totalPurged"`
	LastPurge   time.Time `json:"lastPurge"`
}

// Config holds janitor configuration.
type Config struct {
	MaxDays       int           // age-span ceiling; default 1825
	PurgeDays     int           // slice removed past the ceiling; default 365
	CheckInterval time.Duration // default 24h
	Logger        *slog.Logger
	Now           func() time.Time // injectable for testing
}

func (c Config) withDefaults() Config {
	if c.MaxDays <= 0 {
		c.MaxDays = 1825
	}
	if c.PurgeDays <= 0 {
		c.PurgeDays = 365
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 24 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Janitor runs retention checks: one immediately on start, one per
// interval, and a final one during stop so short-lived sessions still
// get a pass.
type Janitor struct {
	cfg   Config
	store memory.Maintainer
	pub   Publisher

	// checkMu serialises checks across the loop and Stop.
	checkMu sync.Mutex

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	checks      atomic.Uint64
	totalPurged atomic.Int64
	lastPurge   atomic.Value // time.Time
}

// NewJanitor creates a Janitor over the store maintenance surface. The
// publisher may be nil.
func NewJanitor(cfg Config, store memory.Maintainer, pub Publisher) (*Janitor, error) {
	if store == nil {
		return nil, errors.New("retention: nil Maintainer")
	}
	return &Janitor{cfg: cfg.withDefaults(), store: store, pub: pub}, nil
}

// Start runs an immediate check and begins the periodic loop.
func (j *Janitor) Start(ctx context.Context) error {
	j.runMu.Lock()
	defer j.runMu.Unlock()

	if j.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, j.cancel = context.WithCancel(ctx)
	j.done = make(chan struct{})
	go j.run(ctx)
	return nil
}

// Stop cancels the loop, awaits it, then runs a final check.
func (j *Janitor) Stop(ctx context.Context) error {
	j.runMu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel = nil
	j.runMu.Unlock()

	if cancel == nil {
		return ErrNotStarted
	}
	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if _, err := j.Check(ctx); err != nil {
		return fmt.Errorf("retention: final check: %w", err)
	}
	return nil
}

func (j *Janitor) run(ctx context.Context) {
	defer close(j.done)

	j.runCheck(ctx)

	ticker := time.NewTicker(j.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runCheck(ctx)
		}
	}
}

func (j *Janitor) runCheck(ctx context.Context) {
	if _, err := j.Check(ctx); err != nil && ctx.Err() == nil {
		j.cfg.Logger.Error("retention: check failed", "error", err)
	}
}

// Check reads the record age span and purges the oldest slice when the
// span exceeds MaxDays. Returns the number of purged records. A purge
// interrupted mid-way resumes naturally: the next check reads the new
// minimum and continues.
func (j *Janitor) Check(ctx context.Context) (int64, error) {
	j.checkMu.Lock()
	defer j.checkMu.Unlock()
	j.checks.Add(1)

	oldest, newest, ok, err := j.store.DataAge(ctx)
	if err != nil {
		return 0, fmt.Errorf("retention: data age: %w", err)
	}
	if !ok {
		return 0, nil
	}

	ageDays := int(newest.Sub(oldest).Hours() / 24)
	if ageDays <= j.cfg.MaxDays {
		return 0, nil
	}

	cutoff := oldest.AddDate(0, 0, j.cfg.PurgeDays)
	records, entities, err := j.store.PurgeBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention: purge: %w", err)
	}

	j.totalPurged.Add(records)
	j.lastPurge.Store(j.cfg.Now().UTC())
	j.cfg.Logger.Info("retention: purged aged records",
		"records", records,
		"entities", entities,
		"age_days", ageDays,
		"cutoff", cutoff,
	)
	if j.pub != nil && records > 0 {
		j.pub.Publish(events.TypeRetentionPurged, map[string]any{
			"records":  records,
			"entities": entities,
		})
	}

	// Row deletes done; settle the index and the WAL.
	if err := j.store.CompactIndex(ctx); err != nil {
		return records, fmt.Errorf("retention: compact index: %w", err)
	}
	if err := j.store.Checkpoint(ctx); err != nil {
		return records, fmt.Errorf("retention: checkpoint: %w", err)
	}
	if err := j.store.RebuildIndex(ctx); err != nil {
		return records, fmt.Errorf("retention: rebuild index: %w", err)
	}

	return records, nil
}

// Stats returns a snapshot of the janitor counters.
func (j *Janitor) Stats() Stats {
	s := Stats{
		Checks:      j.checks.Load(),
		TotalPurged: j.totalPurged.Load(),
	}
	if v := j.lastPurge.Load(); v != nil {
		s.LastPurge = v.(time.Time)
	}
	return s
}
