package tracing

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/core"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func configure(t *testing.T, m *Module, cfg string) {
	t.Helper()
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(cfg), &node); err != nil {
		t.Fatalf("unmarshal yaml: %v", err)
	}
	if err := m.Configure(node.Content[0]); err != nil {
		t.Fatalf("Configure() error: %v", err)
	}
}

func TestModule_DisabledByDefault(t *testing.T) {
	t.Parallel()

	m := &Module{}
	configure(t, m, "enabled: false\n")

	appCtx := core.NewAppContext(testLogger(), t.TempDir())
	if err := m.Provision(appCtx); err != nil {
		t.Fatalf("Provision() error: %v", err)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if m.provider != nil {
		t.Error("provider built while disabled")
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
}

func TestModule_ProvisionDefaults(t *testing.T) {
	t.Parallel()

	m := &Module{}
	appCtx := core.NewAppContext(testLogger(), t.TempDir())
	if err := m.Provision(appCtx); err != nil {
		t.Fatalf("Provision() error: %v", err)
	}
	if m.cfg.Endpoint != "localhost:4318" {
		t.Errorf("Endpoint = %q, want localhost:4318", m.cfg.Endpoint)
	}
	if m.cfg.SampleRatio != 1.0 {
		t.Errorf("SampleRatio = %v, want 1.0", m.cfg.SampleRatio)
	}
	if !m.cfg.insecure() {
		t.Error("insecure() = false, want true by default")
	}
}

func TestModule_ValidateSampleRatio(t *testing.T) {
	t.Parallel()

	for _, ratio := range []float64{-0.1, 1.5} {
		m := &Module{cfg: moduleConfig{SampleRatio: ratio}}
		if err := m.Validate(); err == nil {
			t.Errorf("Validate() = nil for sample_ratio %v", ratio)
		}
	}

	m := &Module{cfg: moduleConfig{SampleRatio: 0.25}}
	if err := m.Validate(); err != nil {
		t.Errorf("Validate() = %v for sample_ratio 0.25", err)
	}
}
