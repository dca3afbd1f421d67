package main

import (
	"fmt"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/pkg/app"
)

// program adapts the daemon to the service manager lifecycle. Start must
// return promptly; the modules run on their own goroutines.
type program struct {
	params app.RunParams
	daemon *app.Daemon
}

func (p *program) Start(service.Service) error {
	d, err := app.New(p.params)
	if err != nil {
		return err
	}
	p.daemon = d
	return d.Start()
}

func (p *program) Stop(service.Service) error {
	if p.daemon != nil {
		p.daemon.Stop()
	}
	return nil
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "service <action>",
		Short:     "Register with, or run under, the OS service manager",
		Long:      "Manage memoryd as a system service (launchd, systemd, or SCM).\nActions: install, uninstall, start, stop, restart, run.",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: append(service.ControlAction[:], "run"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			dataDir, _ := cmd.Flags().GetString("data-dir")

			svc, err := newManagedService(cfgPath, dataDir)
			if err != nil {
				return err
			}

			action := args[0]
			if action == "run" {
				// Invoked by the service manager itself; blocks until the
				// manager asks us to stop.
				return svc.Run()
			}
			if err := service.Control(svc, action); err != nil {
				return err
			}
			fmt.Printf("memoryd service: %s done\n", action)
			return nil
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file, recorded in the service definition")
	cmd.Flags().String("data-dir", "", "Persistent data directory, recorded in the service definition")
	return cmd
}

// newManagedService builds the service definition. The install-time
// flags are baked into the registered start arguments so the managed
// process resolves the same config and data dir.
func newManagedService(cfgPath, dataDir string) (service.Service, error) {
	args := []string{"service", "run"}
	if cfgPath != "" {
		args = append(args, "--config", cfgPath)
	}
	if dataDir != "" {
		args = append(args, "--data-dir", dataDir)
	}

	return service.New(
		&program{params: app.RunParams{ConfigPath: cfgPath, DataDir: dataDir}},
		&service.Config{
			Name:        "memoryd",
			DisplayName: "ThinkDrop User Memory",
			Description: "Per-user long-term memory daemon with semantic search.",
			Arguments:   args,
		},
	)
}
