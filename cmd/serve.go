package cmd

import (
	"os/signal"
	"syscall"

	"github.com/menubuilder/offline-gateway/internal/logger"
	"github.com/spf13/cobra"
)

func serveCommand(rt *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway in front of the origin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				rt.settings.WebServer.Listen = listen
			}
			g, err := rt.gateway()
			if err != nil {
				return err
			}
			defer func() {
				if err := g.Close(); err != nil {
					rt.log.Warn("failed to close gateway", logger.Error(err))
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return g.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address, overrides webserver.listen")
	return cmd
}
