package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/config"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/core"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(configCheckCmd(), configInitCmd())
	return cmd
}

// configCheckCmd dry-runs the full module pipeline against a config
// file: load, validate, provision. Provisioning catches wiring problems
// (bad paths, malformed module options) that static checks miss.
func configCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <path>",
		Short: "Validate configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			tmpData, err := os.MkdirTemp("", "memoryd-check-*")
			if err != nil {
				return err
			}
			defer os.RemoveAll(tmpData)

			appCtx := core.NewAppContext(logger, tmpData)
			appCtx = appCtx.WithModuleConfigs(cfg.Modules)

			application := core.NewApp(appCtx)
			ids := config.Resolve(cfg)
			if err := application.LoadModules(ids); err != nil {
				return err
			}
			defer application.Stop()

			fmt.Printf("Configuration OK (%d modules)\n", len(ids))
			for _, id := range ids {
				fmt.Printf("  %s\n", id)
			}
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactively write a starter configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			output, _ := cmd.Flags().GetString("output")
			if output == "" {
				output = defaultConfigTarget()
			}
			return runConfigWizard(output)
		},
	}
	cmd.Flags().StringP("output", "o", "", "Where to write the file (default: $XDG_CONFIG_HOME/thinkdrop/memoryd.yaml)")
	return cmd
}

// defaultConfigTarget is the first location ResolveConfigPath searches.
func defaultConfigTarget() string {
	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		return filepath.Join(xdg, "thinkdrop", "memoryd.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "thinkdrop", "memoryd.yaml")
	}
	return "memoryd.yaml"
}

// verifyGenerated parses and validates a rendered config before it is
// written, so the wizard can never produce a file `start` would reject.
func verifyGenerated(raw []byte) error {
	cfg, err := config.Parse(raw)
	if err != nil {
		return err
	}
	return config.Validate(cfg)
}
