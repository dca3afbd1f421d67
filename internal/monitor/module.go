package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/core"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/cron"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/events"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/memory"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/ocr"
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
	defaultIntervalMs    = 10000
	defaultIdleTimeoutMs = 300000
	defaultThreshold     = 0.15
)

// stopGrace bounds how long Stop waits for an in-flight tick.
const stopGrace = 10 * time.Second

// Module is the monitor.screen module. It owns the observer lifecycle
// and exposes recent observations and counters to the gateway.
type Module struct {
	cfg      moduleConfig
	appCtx   *core.AppContext
	logger   *slog.Logger
	screens  string
	observer *Observer
}

type moduleConfig struct {
	Enabled           bool    `yaml:"enabled"`
	UserID            string  `yaml:"user_id"`
	CaptureIntervalMs int     `yaml:"capture_interval_ms"`
	IdleTimeoutMs     int     `yaml:"idle_timeout_ms"`
	DiffThreshold     float64 `yaml:"diff_threshold"`
	TesseractPath     string  `yaml:"tesseract_path"`
	MinTextLen        int     `yaml:"min_text_len"`
	MaxRecent         int     `yaml:"max_recent"`
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "monitor.screen",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.cfg); err != nil {
		return fmt.Errorf("monitor: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.appCtx = ctx
	m.logger = ctx.Logger
	m.screens = filepath.Join(ctx.DataDir, "screens")

	if m.cfg.UserID == "" {
		m.cfg.UserID = memory.DefaultUserID
	}
	if m.cfg.CaptureIntervalMs <= 0 {
		m.cfg.CaptureIntervalMs = defaultIntervalMs
	}
	if m.cfg.IdleTimeoutMs <= 0 {
		m.cfg.IdleTimeoutMs = defaultIdleTimeoutMs
	}
	if m.cfg.DiffThreshold == 0 {
		m.cfg.DiffThreshold = defaultThreshold
	}

	ctx.RegisterService("monitor.screen", m)
	m.logger.Info("screen monitor provisioned", "enabled", m.cfg.Enabled)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if m.cfg.DiffThreshold < 0 || m.cfg.DiffThreshold > 1 {
		return fmt.Errorf("monitor: diff_threshold must be in [0, 1], got %v", m.cfg.DiffThreshold)
	}
	if m.cfg.CaptureIntervalMs < 1000 {
		return fmt.Errorf("monitor: capture_interval_ms must be at least 1000, got %d", m.cfg.CaptureIntervalMs)
	}
	return nil
}

// Start implements core.Starter. A missing OCR binary or an unsupported
// platform disables the monitor with a warning instead of failing the
// daemon: the memory API is useful without screen observation.
func (m *Module) Start() error {
	if !m.cfg.Enabled {
		m.logger.Info("screen monitor disabled")
		return nil
	}

	svc, ok := m.appCtx.Service("memory.store")
	if !ok {
		return fmt.Errorf("monitor: memory.store service not registered")
	}
	writer, ok := svc.(RecordWriter)
	if !ok {
		return fmt.Errorf("monitor: memory.store service has type %T", svc)
	}

	embSvc, ok := m.appCtx.Service("embedder")
	if !ok {
		return fmt.Errorf("monitor: embedder service not registered")
	}
	embedder, ok := embSvc.(memory.Embedder)
	if !ok {
		return fmt.Errorf("monitor: embedder service has type %T", embSvc)
	}

	var pub Publisher
	if hubSvc, ok := m.appCtx.Service(events.ServiceName); ok {
		if hub, ok := hubSvc.(Publisher); ok {
			pub = hub
		}
	}

	engine := ocr.NewEngine(m.cfg.TesseractPath, m.logger)
	if !engine.Available() {
		m.logger.Warn("monitor: tesseract not found, screen capture disabled",
			"path", m.cfg.TesseractPath)
		return nil
	}

	sources, err := NewSources(m.logger)
	if err != nil {
		m.logger.Warn("monitor: capture sources unavailable, screen capture disabled",
			"error", err)
		return nil
	}

	observer, err := New(Config{
		UserID:        m.cfg.UserID,
		Interval:      time.Duration(m.cfg.CaptureIntervalMs) * time.Millisecond,
		IdleTimeout:   time.Duration(m.cfg.IdleTimeoutMs) * time.Millisecond,
		DiffThreshold: m.cfg.DiffThreshold,
		MinTextLen:    m.cfg.MinTextLen,
		MaxRecent:     m.cfg.MaxRecent,
		ScreensDir:    m.screens,
		Logger:        m.logger,
	}, sources, engine, embedder, writer, pub)
	if err != nil {
		return err
	}

	if err := observer.Start(context.Background()); err != nil {
		return err
	}
	m.observer = observer
	m.registerSweep()

	m.logger.Info("screen monitor started",
		"interval_ms", m.cfg.CaptureIntervalMs,
		"diff_threshold", m.cfg.DiffThreshold,
	)
	return nil
}

// registerSweep schedules orphaned-screenshot cleanup when both the cron
// scheduler and the reference checker are available.
func (m *Module) registerSweep() {
	schedSvc, ok := m.appCtx.Service("cron.scheduler")
	if !ok {
		return
	}
	scheduler, ok := schedSvc.(*cron.Scheduler)
	if !ok {
		return
	}
	storeSvc, _ := m.appCtx.Service("memory.store")
	refs, ok := storeSvc.(cron.ScreenshotRefs)
	if !ok {
		return
	}
	if err := scheduler.RegisterJob(&cron.ScreenshotSweepJob{
		Dir:    m.screens,
		Refs:   refs,
		Logger: m.logger,
	}); err != nil {
		m.logger.Warn("monitor: register screenshot sweep failed", "error", err)
	}
}

// Stop implements core.Stopper.
func (m *Module) Stop(ctx context.Context) error {
	if m.observer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()
	if err := m.observer.Stop(ctx); err != nil {
		return fmt.Errorf("monitor: stop observer: %w", err)
	}
	m.logger.Info("screen monitor stopped")
	return nil
}

// Recent exposes the observation ring for the recent-OCR query; safe to
// call while disabled.
func (m *Module) Recent(n int) []Observation {
	if m.observer == nil {
		return nil
	}
	return m.observer.Recent(n)
}

// ObserverStats exposes the counters; zero-valued while disabled.
func (m *Module) ObserverStats() Stats {
	if m.observer == nil {
		return Stats{}
	}
	return m.observer.Stats()
}
