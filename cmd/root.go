// Package cmd defines and implements the CLI commands for the signalscan executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/signal-scanner/internal/config"
	"github.com/JakeFAU/signal-scanner/internal/logging"
	"github.com/JakeFAU/signal-scanner/internal/server"
	"github.com/JakeFAU/signal-scanner/internal/signals"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the part of the service the commands drive. Tests inject fakes.
type App interface {
	Scan(ctx context.Context, kind signals.DetectionType) (signals.ScanReport, error)
	Run(ctx context.Context) error
	Close()
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &loggedApp{App: app, logger: logger}, nil
}

// loggedApp flushes the logger after the app closes.
type loggedApp struct {
	*server.App
	logger *zap.Logger
}

func (a *loggedApp) Close() {
	a.App.Close()
	_ = a.logger.Sync()
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "signalscan",
		Short: "Detects job postings and executive hires at a roster of companies.",
		Long: `signalscan walks a configured roster of companies through ordered
strategy chains (job board APIs, career pages, news search and website
heuristics), extracts job and hire signals with confidence scoring, and
notifies configured sinks exactly once per net-new event.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults and SIGNALSCAN_* environment variables apply)")
	cmd.AddCommand(newScanCmd(), newServeCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
