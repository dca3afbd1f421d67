package memory

import (
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/core"
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
)

// Default search knobs, used when the config omits them.
const (
	defaultMinSimilarity = 0.3
	defaultMaxAgeDays    = 30
)

// Module wires the memory service over the record store and the embedder.
// Both are resolved from the service registry at start, after the owning
// modules have provisioned.
type Module struct {
	raw     moduleConfig
	config  Config
	service *Service
	logger  *slog.Logger
	appCtx  *core.AppContext
}

// moduleConfig mirrors Config with pointer fields so an explicit zero in
// the file survives: min_similarity: 0 means no floor and max_age_days: 0
// means no age filter, neither means "use the default".
type moduleConfig struct {
	MinSimilarity *float64 `yaml:"min_similarity"`
	MaxAgeDays    *int     `yaml:"max_age_days"`
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "memory.service",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.raw); err != nil {
		return fmt.Errorf("memory: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner. Configure only runs when the
// file has a memory.service section, so defaults resolve here.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.appCtx = ctx
	m.logger = ctx.Logger

	m.config = Config{
		MinSimilarity: defaultMinSimilarity,
		MaxAgeDays:    defaultMaxAgeDays,
	}
	if m.raw.MinSimilarity != nil {
		m.config.MinSimilarity = *m.raw.MinSimilarity
	}
	if m.raw.MaxAgeDays != nil {
		m.config.MaxAgeDays = *m.raw.MaxAgeDays
	}
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if m.config.MinSimilarity < -1 || m.config.MinSimilarity > 1 {
		return fmt.Errorf("memory: min_similarity must be in [-1, 1], got %v", m.config.MinSimilarity)
	}
	if m.config.MaxAgeDays < 0 {
		return fmt.Errorf("memory: max_age_days must be non-negative, got %d", m.config.MaxAgeDays)
	}
	return nil
}

// Start implements core.Starter. It binds the store and embedder services
// and publishes the assembled service as "memory".
func (m *Module) Start() error {
	svc, ok := m.appCtx.Service("memory.store")
	if !ok {
		return fmt.Errorf("memory: memory.store service not registered")
	}
	store, ok := svc.(RecordStore)
	if !ok {
		return fmt.Errorf("memory: memory.store service has type %T", svc)
	}

	svc, ok = m.appCtx.Service("embedder")
	if !ok {
		return fmt.Errorf("memory: embedder service not registered")
	}
	embed, ok := svc.(Embedder)
	if !ok {
		return fmt.Errorf("memory: embedder service has type %T", svc)
	}

	m.service = NewService(store, embed, m.logger, m.config)
	m.appCtx.RegisterService("memory", m.service)

	m.logger.Info("memory service started",
		"min_similarity", m.config.MinSimilarity,
		"max_age_days", m.config.MaxAgeDays,
	)
	return nil
}
