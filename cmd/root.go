// Package cmd holds the gateway's cobra commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/menubuilder/offline-gateway/internal/conf"
	"github.com/menubuilder/offline-gateway/internal/gateway"
	"github.com/menubuilder/offline-gateway/internal/logger"
	"github.com/menubuilder/offline-gateway/internal/telemetry"
	"github.com/spf13/cobra"
)

// app is populated by the root command before any subcommand runs.
type app struct {
	configPath string
	version    string
	settings   *conf.Settings
	log        logger.Logger
	flush      func()
}

// RootCommand builds the command tree.
func RootCommand(version string) *cobra.Command {
	rt := &app{version: version}

	root := &cobra.Command{
		Use:           "menu-builder-gateway",
		Short:         "Offline caching gateway for the menu builder PWA",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations["skipSettings"] == "true" {
				return nil
			}
			return rt.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if rt.flush != nil {
				rt.flush()
			}
		},
	}
	root.PersistentFlags().StringVarP(&rt.configPath, "config", "c", "", "path to config file")

	root.AddCommand(
		serveCommand(rt),
		syncCommand(rt),
		cacheCommand(rt),
		configCommand(),
	)
	return root
}

func (rt *app) setup() error {
	settings, err := conf.Load(rt.configPath)
	if err != nil {
		return err
	}
	loc, err := settings.Location()
	if err != nil {
		return err
	}
	rt.settings = settings
	rt.log = logger.NewSlogLogger(os.Stderr, logger.ParseLevel(settings.Main.LogLevel), loc).
		With(logger.String("service", settings.Main.Name))

	flush, err := telemetry.Init(&settings.Sentry, rt.version)
	if err != nil {
		return err
	}
	rt.flush = flush
	return nil
}

// gateway wires the components for commands that need them.
func (rt *app) gateway() (*gateway.Gateway, error) {
	g, err := gateway.New(rt.settings, gateway.WithLogger(rt.log))
	if err != nil {
		return nil, fmt.Errorf("failed to initialise gateway: %w", err)
	}
	return g, nil
}
