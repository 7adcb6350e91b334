package commands

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCommand(version string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the parity HTTP API.

Runs are scheduled on a bounded worker pool; each request to
/api/executions/start returns a task id that can be polled.`,
		Example: `  # Serve with the defaults on :8080
  parity serve

  # Serve with a settings file on another port
  parity serve -c parity.yaml --addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			if addr != "" {
				settings.Server.Addr = addr
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, settings, version)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(context.Background()); err != nil {
					log.Warn().Err(err).Msg("Shutdown finished with errors")
				}
			}()

			return a.server().Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}
