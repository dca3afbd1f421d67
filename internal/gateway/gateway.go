package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/core"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/events"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/memory"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/monitor"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/retention"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/security"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/skills"
)

func init() {
	core.RegisterModule(&Gateway{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Gateway)(nil)
	_ core.Provisioner  = (*Gateway)(nil)
	_ core.Validator    = (*Gateway)(nil)
	_ core.Starter      = (*Gateway)(nil)
	_ core.Stopper      = (*Gateway)(nil)
)

// screenObserver is the monitor.screen surface the gateway consumes.
type screenObserver interface {
	Recent(n int) []monitor.Observation
	ObserverStats() monitor.Stats
}

// retentionReporter is the retention.janitor surface the gateway consumes.
type retentionReporter interface {
	JanitorStats() retention.Stats
}

// skillManager is the skills.manager surface the gateway consumes.
type skillManager interface {
	Sync(ctx context.Context) (skills.Report, error)
	Validate(s *memory.InstalledSkill) error
}

// Gateway is the gateway.http module: the envelope action API, the
// unauthenticated health and capability endpoints, Prometheus metrics,
// and the live event WebSocket. It is a leaf module; nothing imports it.
type Gateway struct {
	config    Config
	appCtx    *core.AppContext
	logger    *slog.Logger
	server    *http.Server
	metrics   *Metrics
	hub       *events.Hub
	limiter   *security.RateLimiter
	auditor   *security.AuditLogger
	auditFile *os.File
	apiKeys   []string
	actions   map[string]actionFunc
	startedAt time.Time

	// Resolved at Start() via the service registry.
	svc      *memory.Service
	store    memory.RecordStore
	embedder memory.Embedder
	prompts  memory.SkillPromptStore
	rules    memory.ContextRuleStore
	registry memory.SkillRegistry
	monitor  screenObserver
	janitor  retentionReporter
	skillMgr skillManager
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return fmt.Errorf("gateway: decode config: %w", err)
	}
	g.config.defaults()
	return nil
}

// Provision implements core.Provisioner. The event hub is created and
// registered here so producer modules can resolve it at their Start.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.config.defaults()
	g.appCtx = ctx
	g.logger = ctx.Logger
	g.metrics = NewMetrics()
	g.limiter = security.NewRateLimiter(g.config.RateLimits)
	g.apiKeys = g.config.keys()

	g.hub = events.NewHub()
	ctx.RegisterService(events.ServiceName, g.hub)

	if g.config.AuditLog != "" {
		f, err := os.OpenFile(g.config.AuditLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("gateway: open audit log: %w", err)
		}
		g.auditFile = f

		redactor := security.NewRedactor()
		creds := security.NewCredentialStore()
		for i, key := range g.apiKeys {
			creds.Set(fmt.Sprintf("api_key_%d", i+1), key)
		}
		redactor.SyncCredentials(creds)
		g.auditor = security.NewAuditLogger(security.AuditLoggerConfig{
			Writer:   f,
			Redactor: redactor,
		})
	}

	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", g.config.addr()); err != nil {
		return fmt.Errorf("gateway: invalid listen address %q: %w", g.config.addr(), err)
	}
	return nil
}

// Start implements core.Starter. Dependencies resolve lazily from the
// service registry: the memory service, the stores, and the embedder are
// required; monitor, retention, and skills degrade to absent sections in
// health output when missing.
func (g *Gateway) Start() error {
	if err := g.resolveServices(); err != nil {
		return err
	}

	if len(g.apiKeys) == 0 {
		g.logger.Warn("no API keys configured, authentication disabled")
	}

	instrumented, _ := g.embedder.(memory.InstrumentedEmbedder)
	if err := g.metrics.Register(newStatsCollector(g.store, instrumented, g.hub)); err != nil {
		return fmt.Errorf("gateway: register stats collector: %w", err)
	}

	g.actions = g.actionTable()
	g.startedAt = time.Now()

	g.server = &http.Server{
		Addr:         g.config.addr(),
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.addr())
	if err != nil {
		return fmt.Errorf("gateway: listen: %w", err)
	}

	go func() {
		g.logger.Info("gateway listening", "addr", g.config.addr(), "actions", len(g.actions))
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// resolveServices binds the registry entries the handlers use.
func (g *Gateway) resolveServices() error {
	svc, ok := g.appCtx.Service("memory")
	if !ok {
		return fmt.Errorf("gateway: memory service not registered")
	}
	if g.svc, ok = svc.(*memory.Service); !ok {
		return fmt.Errorf("gateway: memory service has type %T", svc)
	}

	required := []struct {
		name string
		bind func(any) bool
	}{
		{"memory.store", func(v any) bool { s, ok := v.(memory.RecordStore); g.store = s; return ok }},
		{"embedder", func(v any) bool { e, ok := v.(memory.Embedder); g.embedder = e; return ok }},
		{"store.prompts", func(v any) bool { s, ok := v.(memory.SkillPromptStore); g.prompts = s; return ok }},
		{"store.rules", func(v any) bool { s, ok := v.(memory.ContextRuleStore); g.rules = s; return ok }},
		{"store.skills", func(v any) bool { s, ok := v.(memory.SkillRegistry); g.registry = s; return ok }},
	}
	for _, dep := range required {
		v, ok := g.appCtx.Service(dep.name)
		if !ok {
			return fmt.Errorf("gateway: %s service not registered", dep.name)
		}
		if !dep.bind(v) {
			return fmt.Errorf("gateway: %s service has type %T", dep.name, v)
		}
	}

	// Optional surfaces.
	if v, ok := g.appCtx.Service("monitor.screen"); ok {
		if obs, ok := v.(screenObserver); ok {
			g.monitor = obs
		}
	}
	if v, ok := g.appCtx.Service("retention.janitor"); ok {
		if jan, ok := v.(retentionReporter); ok {
			g.janitor = jan
		}
	}
	if v, ok := g.appCtx.Service("skills.manager"); ok {
		if mgr, ok := v.(skillManager); ok {
			g.skillMgr = mgr
		}
	}
	return nil
}

// Stop implements core.Stopper. Graceful shutdown with the configured
// timeout; in-flight event subscribers are closed by the server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.auditFile != nil {
		defer func() { _ = g.auditFile.Close() }()
	}
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}
