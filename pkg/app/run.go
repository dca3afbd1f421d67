// Package app assembles and runs the memoryd daemon: configuration
// loading, the redacting logger, security plumbing, and the module
// lifecycle. The cmd wrappers (CLI start, OS service manager) stay thin
// by delegating here.
package app

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/config"
)

// RunParams configures the daemon.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is consulted, and when no file exists
	// the built-in defaults are used.
	ConfigPath string

	// DataDir overrides the default persistent data directory
	// (database file, saved screenshots).
	DataDir string

	// LogLevel sets the minimum log level. Defaults to slog.LevelInfo.
	LogLevel slog.Level
}

// Run builds the daemon, starts all modules, and blocks until a
// shutdown signal is received.
func Run(params RunParams) error {
	d, err := New(params)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	sig := <-sigCh
	d.logger.Info("shutdown signal received", "signal", sig.String())
	d.Stop()
	d.logger.Info("shutdown complete")
	return nil
}

// loadConfig resolves and loads the effective configuration. Precedence:
// explicit path, discovered file, built-in defaults. The returned path
// is empty when the built-in template was used.
func loadConfig(explicit string) (*config.Config, string, error) {
	if explicit != "" {
		cfg, err := config.Load(explicit)
		return cfg, explicit, err
	}
	if path, err := ResolveConfigPath(); err == nil {
		cfg, err := config.Load(path)
		return cfg, path, err
	}
	cfg, err := config.LoadDefault()
	return cfg, "", err
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/thinkdrop/memoryd.yaml →
// ~/.config/thinkdrop/memoryd.yaml → ./memoryd.yaml
func ResolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "thinkdrop", "memoryd.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "thinkdrop", "memoryd.yaml"))
	}

	candidates = append(candidates, "memoryd.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

// DefaultDataDir returns the default persistent data directory:
// $XDG_DATA_HOME/thinkdrop if set, otherwise ~/.thinkdrop. The skills
// sandbox lives under the home-based path regardless, so the fallback
// keeps everything under one roof.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok {
		return filepath.Join(dir, "thinkdrop")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".thinkdrop")
}
