// Package tracing provides the tracing.otel module: an optional
// OpenTelemetry trace pipeline behind the global otel provider. When
// disabled (the default) the globals keep their no-op implementations
// and instrumented code pays only for the delegate lookup.
package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"gopkg.in/yaml.v3"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/buildinfo"
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
	_ core.Stopper      = (*Module)(nil)
)

const exportBatchTimeout = 5 * time.Second

// Module is the tracing.otel module.
type Module struct {
	cfg      moduleConfig
	logger   *slog.Logger
	provider *sdktrace.TracerProvider
}

type moduleConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Endpoint    string            `yaml:"endpoint"`
	SampleRatio float64           `yaml:"sample_ratio"`
	// Insecure defaults to true: the default endpoint is a local
	// collector without TLS.
	Insecure *bool             `yaml:"insecure"`
	Headers  map[string]string `yaml:"headers"`
}

func (c moduleConfig) insecure() bool {
	return c.Insecure == nil || *c.Insecure
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "tracing.otel",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.cfg); err != nil {
		return fmt.Errorf("tracing: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger
	if m.cfg.Endpoint == "" {
		m.cfg.Endpoint = "localhost:4318"
	}
	if m.cfg.SampleRatio == 0 {
		m.cfg.SampleRatio = 1.0
	}
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if m.cfg.SampleRatio < 0 || m.cfg.SampleRatio > 1 {
		return fmt.Errorf("tracing: sample_ratio %v out of range [0, 1]", m.cfg.SampleRatio)
	}
	return nil
}

// Start implements core.Starter. Instrumented packages hold tracers from
// the otel globals, so installing the provider here reaches every span
// started after this module — and tracing.otel starts first.
func (m *Module) Start() error {
	if !m.cfg.Enabled {
		m.logger.Debug("tracing disabled")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(buildinfo.ServiceName),
			semconv.ServiceVersion(buildinfo.Version),
		),
	)
	if err != nil {
		return fmt.Errorf("tracing: build resource: %w", err)
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(m.cfg.Endpoint),
	}
	if m.cfg.insecure() {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(m.cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(m.cfg.Headers))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("tracing: create exporter: %w", err)
	}

	m.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(exportBatchTimeout)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(m.cfg.SampleRatio))),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(m.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	m.logger.Info("tracing started",
		"endpoint", m.cfg.Endpoint,
		"sample_ratio", m.cfg.SampleRatio,
	)
	return nil
}

// Stop implements core.Stopper. Shutdown flushes batched spans.
func (m *Module) Stop(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	if err := m.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("tracing: shutdown provider: %w", err)
	}
	m.provider = nil
	return nil
}
