// Package cmd defines the CLI commands for the catalog service.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-ingest/internal/app"
	"github.com/JakeFAU/catalog-ingest/internal/config"
	"github.com/JakeFAU/catalog-ingest/internal/logging"
	pkgconfig "github.com/JakeFAU/catalog-ingest/pkg/config"
)

var cfgFile string

type appKeyType string

const appKey appKeyType = "app"

// newApp loads configuration, builds the logger and wires the application.
var newApp = func(ctx context.Context, service string) (*app.App, *zap.Logger, error) {
	path, err := pkgconfig.Discover(cfgFile, pkgconfig.SearchPaths...)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, service)
	if err != nil {
		return nil, nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	application, err := app.Build(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return application, logger, nil
}

type appHandle struct {
	app    *app.App
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Product catalog service with asynchronous CSV bulk import.",
		Long: `catalog serves the product catalog API, runs CSV bulk imports on a
background worker pool and notifies registered webhooks about catalog events.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			application, logger, err := newApp(cmd.Context(), "catalog-"+cmd.Name())
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appHandle{app: application, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if h, ok := cmd.Context().Value(appKey).(appHandle); ok {
				_ = h.app.Close(context.Background())
				_ = h.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml, /etc/catalog/ or $HOME/.catalog/)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newImportCmd())
	return cmd
}

func resolveApp(ctx context.Context) (appHandle, error) {
	h, ok := ctx.Value(appKey).(appHandle)
	if !ok || h.app == nil {
		return appHandle{}, fmt.Errorf("application not initialized")
	}
	return h, nil
}

// Execute is the main entry point.
func Execute() {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
