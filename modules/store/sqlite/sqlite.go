// Package sqlite implements the store.sqlite module: the persistent
// column store for memory records, entities, skill prompts, context
// rules, and installed skills. It uses modernc.org/sqlite (pure Go, no
// CGO) with WAL mode, foreign-key cascade for entity rows, and an
// in-memory vector index over the embedding column.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/core"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/cron"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/memory"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ memory.RecordStore      = (*recordStore)(nil)
	_ memory.Maintainer       = (*maintenance)(nil)
	_ memory.SkillPromptStore = (*promptStore)(nil)
	_ memory.ContextRuleStore = (*ruleStore)(nil)
	_ memory.SkillRegistry    = (*skillRegistry)(nil)
	_ cron.ScreenshotRefs     = (*recordStore)(nil)
	_ core.Configurable       = (*Module)(nil)
	_ core.Provisioner        = (*Module)(nil)
	_ core.Validator          = (*Module)(nil)
	_ core.Starter            = (*Module)(nil)
	_ core.Stopper            = (*Module)(nil)
)

// Module owns the database handle and the five stores backed by it.
type Module struct {
	config  Config
	db      *sql.DB
	logger  *slog.Logger
	appCtx  *core.AppContext
	records *recordStore
	maint   *maintenance
	prompts *promptStore
	rules   *ruleStore
	skills  *skillRegistry
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "store.sqlite",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("sqlite: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger
	m.appCtx = ctx

	if m.config.Path == "" {
		m.config.Path = filepath.Join(ctx.DataDir, defaultDBFile)
	}

	db, err := openWithRetry(m.config, m.logger, openAttempts, openBackoffBase)
	if err != nil {
		return err
	}

	index := newVectorIndex()
	m.db = db
	m.records = &recordStore{db: db, index: index, logger: ctx.Logger, path: m.config.Path}
	m.maint = &maintenance{db: db, index: index, logger: ctx.Logger}
	m.prompts = &promptStore{db: db}
	m.rules = &ruleStore{db: db}
	m.skills = &skillRegistry{db: db}

	ctx.RegisterService("memory.store", m.records)
	ctx.RegisterService("store.maintenance", m.maint)
	ctx.RegisterService("store.prompts", m.prompts)
	ctx.RegisterService("store.rules", m.rules)
	ctx.RegisterService("store.skills", m.skills)

	m.logger.Info("sqlite store provisioned",
		"path", m.config.Path,
		"wal", m.config.walEnabled(),
	)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if err := m.config.validate(); err != nil {
		return err
	}

	if err := m.db.PingContext(context.TODO()); err != nil {
		return fmt.Errorf("sqlite: ping failed: %w", err)
	}

	var n int
	if err := m.db.QueryRowContext(context.TODO(), "SELECT count(*) FROM memory").Scan(&n); err != nil {
		return fmt.Errorf("sqlite: memory table not available: %w", err)
	}
	return nil
}

// Start implements core.Starter. The vector index is rebuilt from the
// embedding column so a crashed previous run cannot leave it stale, and
// the periodic WAL checkpoint job is registered with the scheduler.
func (m *Module) Start() error {
	if err := m.maint.RebuildIndex(context.Background()); err != nil {
		return err
	}

	if svc, ok := m.appCtx.Service("cron.scheduler"); ok {
		sched, ok := svc.(*cron.Scheduler)
		if !ok {
			return fmt.Errorf("sqlite: cron.scheduler service has type %T", svc)
		}
		job := &cron.CheckpointJob{
			Store:        m.maint,
			Logger:       m.logger,
			ScheduleExpr: m.config.CheckpointSchedule,
		}
		if err := sched.RegisterJob(job); err != nil {
			return fmt.Errorf("sqlite: register checkpoint job: %w", err)
		}
	}
	return nil
}

// Stop implements core.Stopper. A final checkpoint folds the WAL into
// the main file before close.
func (m *Module) Stop(ctx context.Context) error {
	m.logger.Info("sqlite store stopping")
	if m.db == nil {
		return nil
	}
	if err := m.maint.Checkpoint(ctx); err != nil {
		m.logger.Warn("sqlite: final checkpoint failed", "error", err)
	}
	return m.db.Close()
}

// Records returns the record store implementation.
func (m *Module) Records() memory.RecordStore { return m.records }

// Maintenance returns the maintenance implementation.
func (m *Module) Maintenance() memory.Maintainer { return m.maint }
