package cron

import (
	"context"
	"log/slog"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/core"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Provisioner = (*Module)(nil)
	_ core.Starter     = (*Module)(nil)
	_ core.Stopper     = (*Module)(nil)
)

// Module wires the job scheduler into the application. It is started
// after every job-owning module so registrations made during their start
// are picked up.
type Module struct {
	scheduler *Scheduler
	logger    *slog.Logger
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "cron.scheduler",
		New: func() core.Module { return &Module{} },
	}
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger
	m.scheduler = NewScheduler(ctx.Logger)
	ctx.RegisterService("cron.scheduler", m.scheduler)
	return nil
}

// Start implements core.Starter.
func (m *Module) Start() error {
	return m.scheduler.Start()
}

// Stop implements core.Stopper.
func (m *Module) Stop(ctx context.Context) error {
	return m.scheduler.Stop(ctx)
}
