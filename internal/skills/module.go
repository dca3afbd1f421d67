package skills

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/core"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/events"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/memory"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards. The module deliberately does not
// implement core.Validator: Validate is the per-skill check consumed by
// the gateway's skills.install action.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// syncTimeout bounds a single directory sync, including the registry
// round-trips it performs.
const syncTimeout = 30 * time.Second

// Publisher fans out activity events; nil disables publishing.
type Publisher interface {
	Publish(eventType string, data map[string]any)
}

// Report summarizes one sync pass over the sandbox directory.
type Report struct {
	Discovered int       `json:"discovered"`
	Registered int       `json:"registered"`
	Skipped    int       `json:"skipped"`
	Failures   []string  `json:"failures,omitempty"`
	SyncedAt   time.Time `json:"syncedAt"`
}

// Module is the skills.manager module. It scans the sandbox directory
// for skill manifests, validates them, and upserts them into the skill
// registry: once at startup, on filesystem changes when watching is
// enabled, and on demand via the skills.sync action.
type Module struct {
	cfg     moduleConfig
	appCtx  *core.AppContext
	logger  *slog.Logger
	sandbox string

	registry memory.SkillRegistry
	pub      Publisher
	watcher  *watcher

	// mu serializes sync passes; the watcher and the gateway can both
	// request one.
	mu sync.Mutex
}

type moduleConfig struct {
	// Dir overrides the sandbox directory. Empty means
	// <home>/.thinkdrop/skills.
	Dir string `yaml:"dir"`
	// Watch defaults to true when the key is absent.
	Watch *bool `yaml:"watch"`
}

func (c moduleConfig) watch() bool {
	return c.Watch == nil || *c.Watch
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "skills.manager",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.cfg); err != nil {
		return fmt.Errorf("skills: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.appCtx = ctx
	m.logger = ctx.Logger

	sandbox := m.cfg.Dir
	if sandbox == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("skills: resolve home directory: %w", err)
		}
		sandbox = filepath.Join(home, ".thinkdrop", "skills")
	}
	abs, err := filepath.Abs(sandbox)
	if err != nil {
		return fmt.Errorf("skills: resolve sandbox %s: %w", sandbox, err)
	}
	m.sandbox = abs

	ctx.RegisterService("skills.manager", m)
	m.logger.Info("skills manager provisioned",
		"sandbox", m.sandbox,
		"watch", m.cfg.watch(),
	)
	return nil
}

// Start implements core.Starter. It resolves the skill registry, runs
// the initial sync, and starts the directory watcher.
func (m *Module) Start() error {
	svc, ok := m.appCtx.Service("store.skills")
	if !ok {
		return fmt.Errorf("skills: store.skills service not registered")
	}
	reg, ok := svc.(memory.SkillRegistry)
	if !ok {
		return fmt.Errorf("skills: store.skills service has type %T", svc)
	}
	m.registry = reg

	if hubSvc, ok := m.appCtx.Service(events.ServiceName); ok {
		if hub, ok := hubSvc.(Publisher); ok {
			m.pub = hub
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()
	report, err := m.Sync(ctx)
	if err != nil {
		return fmt.Errorf("skills: initial sync: %w", err)
	}
	m.logger.Info("skills synced",
		"discovered", report.Discovered,
		"registered", report.Registered,
		"skipped", report.Skipped,
	)

	if m.cfg.watch() {
		w, err := newWatcher(m.sandbox, m.logger, m.syncFromWatcher)
		if err != nil {
			// A missing inotify backend degrades to manual syncs only.
			m.logger.Warn("skills watcher unavailable", "error", err)
			return nil
		}
		m.watcher = w
		m.watcher.Start()
		m.logger.Info("skills watcher started", "dir", m.sandbox)
	}
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.watcher != nil {
		m.watcher.Stop()
		m.watcher = nil
	}
	return nil
}

// Sync scans the sandbox once and upserts every valid manifest into the
// registry. Invalid candidates are skipped and reported; registry
// failures abort the pass.
func (m *Module) Sync(ctx context.Context) (Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := Report{SyncedAt: time.Now().UTC()}

	candidates, err := Scan(m.sandbox)
	if err != nil {
		return report, err
	}
	report.Discovered = len(candidates)

	for _, c := range candidates {
		skill, err := m.fromCandidate(ctx, c)
		if err != nil {
			report.Skipped++
			report.Failures = append(report.Failures,
				fmt.Sprintf("%s: %v", filepath.Base(c.Dir), err))
			m.logger.Warn("skill manifest rejected",
				"dir", c.Dir, "error", err)
			continue
		}
		if err := m.registry.Upsert(ctx, skill); err != nil {
			return report, fmt.Errorf("register skill %s: %w", skill.Name, err)
		}
		report.Registered++
	}

	if m.pub != nil {
		m.pub.Publish(events.TypeSkillsSynced, map[string]any{
			"discovered": report.Discovered,
			"registered": report.Registered,
			"skipped":    report.Skipped,
		})
	}
	return report, nil
}

// Validate checks a single skill against the naming and sandbox rules.
// The gateway calls this before registering caller-supplied skills.
func (m *Module) Validate(s *memory.InstalledSkill) error {
	return ValidateSkill(s, m.sandbox)
}

// fromCandidate builds the registry row for a scanned manifest. Existing
// registrations keep their id, creation time, and enabled flag so a
// manual disable survives re-syncs.
func (m *Module) fromCandidate(ctx context.Context, c Candidate) (*memory.InstalledSkill, error) {
	now := time.Now().UTC()
	skill := &memory.InstalledSkill{
		Name:        c.Manifest.Name,
		Description: c.Manifest.Description,
		ContractMD:  c.Contract,
		ExecPath:    c.ExecPath(),
		ExecType:    c.Manifest.ExecType,
		Enabled:     true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := ValidateSkill(skill, m.sandbox); err != nil {
		return nil, err
	}

	existing, err := m.registry.GetByName(ctx, skill.Name)
	switch {
	case err == nil:
		skill.ID = existing.ID
		skill.CreatedAt = existing.CreatedAt
		skill.Enabled = existing.Enabled
	case errors.Is(err, memory.ErrSkillNotFound):
		skill.ID = memory.NewSkillID(now)
	default:
		return nil, err
	}
	return skill, nil
}

// syncFromWatcher runs a sync pass on behalf of the directory watcher.
func (m *Module) syncFromWatcher() {
	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	report, err := m.Sync(ctx)
	if err != nil {
		m.logger.Warn("skills sync failed", "error", err)
		return
	}
	m.logger.Info("skills re-synced",
		"discovered", report.Discovered,
		"registered", report.Registered,
		"skipped", report.Skipped,
	)
}
