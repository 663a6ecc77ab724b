// Package cmd defines and implements the CLI commands for the
// tendercrawler executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tenderwatch/crawler/internal/app"
	"github.com/tenderwatch/crawler/internal/config"
	"github.com/tenderwatch/crawler/internal/source/ungm"
	"github.com/tenderwatch/crawler/internal/store"
	"github.com/tenderwatch/crawler/internal/tender"
)

var cfgFile string

type appKeyType struct{}

var appKey appKeyType

// App is the application surface the commands depend on, kept as an
// interface so tests can inject a fake.
type App interface {
	Close()
	Logger() *zap.Logger
	Store() store.TenderStore
	Config() config.Config
	Datasets() *ungm.Datasets
	Crawl(ctx context.Context) tender.CrawlReport
}

// newApp is the application factory, replaceable in tests.
var newApp = func(ctx context.Context) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tendercrawler",
		Short: "Crawls public procurement notices into a normalized store.",
		Long: `tendercrawler collects procurement notices from TED, UNGM and
SAM.gov, normalizes them into a canonical record, and upserts them into
Postgres. It runs either as a one-shot crawl or as a long-lived service
with an HTTP API and a cron schedule.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// A local .env is a development convenience; its absence is fine.
			_ = godotenv.Load()

			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
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

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); environment variables override it")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
