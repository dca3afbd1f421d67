// Package local implements the embedder.local module: an in-process
// sentence embedder producing 384-dimension L2-normalised vectors, with an
// expiring LRU cache and a deterministic fallback generator for running
// without a model. The ONNX inference path is linked in with the onnx
// build tag; the default build always serves fallback vectors.
package local

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/core"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/memory"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ memory.Embedder   = (*Service)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

const (
	defaultCacheSize = 1000
	defaultCacheTTL  = 24 * time.Hour
)

// Config holds the embedder.local module configuration.
type Config struct {
	// ModelPath points at an ONNX sentence-embedding model file. Empty
	// means no model: every embed uses the fallback generator.
	ModelPath string `yaml:"model_path"`

	// CacheSize is the embed cache capacity. Defaults to 1000 entries.
	CacheSize int `yaml:"cache_size"`

	// CacheTTLMs is the embed cache entry lifetime in milliseconds.
	// Defaults to 24 hours.
	CacheTTLMs int `yaml:"cache_ttl_ms"`
}

func (c *Config) defaults() {
	if c.CacheSize == 0 {
		c.CacheSize = defaultCacheSize
	}
	if c.CacheTTLMs == 0 {
		c.CacheTTLMs = int(defaultCacheTTL / time.Millisecond)
	}
}

func (c *Config) validate() error {
	if c.CacheSize < 0 {
		return fmt.Errorf("embedder: cache_size must be non-negative, got %d", c.CacheSize)
	}
	if c.CacheTTLMs < 0 {
		return fmt.Errorf("embedder: cache_ttl_ms must be non-negative, got %d", c.CacheTTLMs)
	}
	return nil
}

// Module wires the embed service into the application.
type Module struct {
	config  Config
	service *Service
	logger  *slog.Logger
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "embedder.local",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("embedder: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	m.service = NewService(
		newModel(m.config.ModelPath),
		m.config.CacheSize,
		time.Duration(m.config.CacheTTLMs)*time.Millisecond,
		m.logger,
	)

	ctx.RegisterService("embedder", m.service)

	m.logger.Info("embedder provisioned",
		"model_path", m.config.ModelPath,
		"cache_size", m.config.CacheSize,
	)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}

// Start implements core.Starter. A configured model that fails to load
// aborts startup; running without a model is the supported degraded mode.
func (m *Module) Start() error {
	return m.service.Init(context.Background())
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	return m.service.Close()
}
