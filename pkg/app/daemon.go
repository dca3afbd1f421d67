package app

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/config"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/core"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/security"
)

// Daemon is a constructed but separately startable daemon instance. The
// split from Run exists for the OS service manager, whose Start callback
// must not block.
type Daemon struct {
	app       *core.App
	appCtx    *core.AppContext
	logger    *slog.Logger
	redactor  *security.Redactor
	creds     *security.CredentialStore
	moduleIDs []string
	dataDir   string
}

// New loads configuration, builds the redacting logger and security
// plumbing, and loads (but does not start) every configured module.
func New(params RunParams) (*Daemon, error) {
	cfg, cfgPath, err := loadConfig(params.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	// The redacting handler keeps registered secrets out of every log
	// line, including module-scoped loggers derived from this one.
	creds := security.NewCredentialStore()
	redactor := security.NewRedactor()
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: params.LogLevel,
	})
	logger := slog.New(security.NewRedactingHandler(inner, redactor))

	dataDir := params.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("app: create data dir %s: %w", dataDir, err)
	}

	appCtx := core.NewAppContext(logger, dataDir)
	appCtx = appCtx.WithModuleConfigs(cfg.Modules)

	appCtx.RegisterService("security.credentials", creds)
	appCtx.RegisterService("security.redactor", redactor)
	if cfgPath != "" {
		appCtx.RegisterService("config.path", cfgPath)
	}

	application := core.NewApp(appCtx)
	ids := config.Resolve(cfg)
	if err := application.LoadModules(ids); err != nil {
		return nil, err
	}

	return &Daemon{
		app:       application,
		appCtx:    appCtx,
		logger:    logger,
		redactor:  redactor,
		creds:     creds,
		moduleIDs: ids,
		dataDir:   dataDir,
	}, nil
}

// Start starts all loaded modules. Secrets modules registered while
// provisioning or starting (the gateway's API keys) are synced into the
// redactor afterwards, so they are masked in all later log output.
func (d *Daemon) Start() error {
	if err := d.app.Start(); err != nil {
		return err
	}
	d.redactor.SyncCredentials(d.creds)
	d.logger.Info("memoryd running",
		"modules", len(d.moduleIDs),
		"data_dir", d.dataDir,
	)
	return nil
}

// Stop stops all started modules in reverse order.
func (d *Daemon) Stop() {
	d.app.Stop()
}

// Logger returns the daemon's redacting logger.
func (d *Daemon) Logger() *slog.Logger { return d.logger }

// Modules returns the resolved module IDs in start order.
func (d *Daemon) Modules() []string { return d.moduleIDs }
