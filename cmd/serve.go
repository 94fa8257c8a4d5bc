package cmd

import (
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the HTTP API",
		Long: `Starts the HTTP API used to trigger scans and inspect reports, stats and
the egress resource pool. Runs until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return appInstance.Run(cmd.Context())
		},
	}
}
