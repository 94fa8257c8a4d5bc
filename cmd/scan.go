package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/signal-scanner/internal/signals"
)

func newScanCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Runs one scan and prints its report",
		Long: `Runs a single job or hire scan across every active company and prints
the resulting report as JSON. Interrupting the command aborts the scan
between companies; the partial report is still printed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			detection, err := signals.ParseDetectionType(kind)
			if err != nil {
				return err
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, err := appInstance.Scan(cmd.Context(), detection)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "type", string(signals.DetectionJob), "detection type: job or hire")
	return cmd
}
