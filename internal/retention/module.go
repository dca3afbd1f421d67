package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/core"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/events"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/memory"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Defaults matching the shipped configuration template.
const (
	defaultMaxDays            = 1825
	defaultPurgeDays          = 365
	defaultCheckIntervalHours = 24
)

// Module is the retention.janitor module.
type Module struct {
	cfg     moduleConfig
	appCtx  *core.AppContext
	logger  *slog.Logger
	janitor *Janitor
}

type moduleConfig struct {
	// Enabled defaults to true when the key is absent.
	Enabled            *bool `yaml:"enabled"`
	MaxDays            int   `yaml:"max_days"`
	PurgeDays          int   `yaml:"purge_days"`
	CheckIntervalHours int   `yaml:"check_interval_hours"`
}

func (c moduleConfig) enabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "retention.janitor",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.cfg); err != nil {
		return fmt.Errorf("retention: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.appCtx = ctx
	m.logger = ctx.Logger

	if m.cfg.MaxDays <= 0 {
		m.cfg.MaxDays = defaultMaxDays
	}
	if m.cfg.PurgeDays <= 0 {
		m.cfg.PurgeDays = defaultPurgeDays
	}
	if m.cfg.CheckIntervalHours <= 0 {
		m.cfg.CheckIntervalHours = defaultCheckIntervalHours
	}

	ctx.RegisterService("retention.janitor", m)
	m.logger.Info("retention janitor provisioned",
		"enabled", m.cfg.enabled(),
		"max_days", m.cfg.MaxDays,
	)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if m.cfg.PurgeDays >= m.cfg.MaxDays {
		return fmt.Errorf("retention: purge_days (%d) must be below max_days (%d)",
			m.cfg.PurgeDays, m.cfg.MaxDays)
	}
	return nil
}

// Start implements core.Starter.
func (m *Module) Start() error {
	if !m.cfg.enabled() {
		m.logger.Info("retention janitor disabled")
		return nil
	}

	svc, ok := m.appCtx.Service("store.maintenance")
	if !ok {
		return fmt.Errorf("retention: store.maintenance service not registered")
	}
	maint, ok := svc.(memory.Maintainer)
	if !ok {
		return fmt.Errorf("retention: store.maintenance service has type %T", svc)
	}

	var pub Publisher
	if hubSvc, ok := m.appCtx.Service(events.ServiceName); ok {
		if hub, ok := hubSvc.(Publisher); ok {
			pub = hub
		}
	}

	janitor, err := NewJanitor(Config{
		MaxDays:       m.cfg.MaxDays,
		PurgeDays:     m.cfg.PurgeDays,
		CheckInterval: time.Duration(m.cfg.CheckIntervalHours) * time.Hour,
		Logger:        m.logger,
	}, maint, pub)
	if err != nil {
		return err
	}

	if err := janitor.Start(context.Background()); err != nil {
		return err
	}
	m.janitor = janitor

	m.logger.Info("retention janitor started",
		"check_interval_hours", m.cfg.CheckIntervalHours,
	)
	return nil
}

// Stop implements core.Stopper. The janitor runs its final check here.
func (m *Module) Stop(ctx context.Context) error {
	if m.janitor == nil {
		return nil
	}
	if err := m.janitor.Stop(ctx); err != nil {
		return fmt.Errorf("retention: stop janitor: %w", err)
	}
	m.logger.Info("retention janitor stopped")
	return nil
}

// JanitorStats exposes the counters; zero-valued while disabled.
func (m *Module) JanitorStats() Stats {
	if m.janitor == nil {
		return Stats{}
	}
	return m.janitor.Stats()
}
