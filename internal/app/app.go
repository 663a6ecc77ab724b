// Package app initializes and holds the long-lived application services,
// acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tenderwatch/crawler/internal/clock"
	"github.com/tenderwatch/crawler/internal/config"
	"github.com/tenderwatch/crawler/internal/httpx"
	"github.com/tenderwatch/crawler/internal/logging"
	"github.com/tenderwatch/crawler/internal/orchestrator"
	"github.com/tenderwatch/crawler/internal/source"
	"github.com/tenderwatch/crawler/internal/source/sam"
	"github.com/tenderwatch/crawler/internal/source/ted"
	"github.com/tenderwatch/crawler/internal/source/ungm"
	"github.com/tenderwatch/crawler/internal/store"
	"github.com/tenderwatch/crawler/internal/telemetry"
	"github.com/tenderwatch/crawler/internal/tender"
)

// App holds the shared services wired at startup: logger, transport,
// store, source adapters, and the orchestrator over them.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	store        store.TenderStore
	orchestrator *orchestrator.Orchestrator
	datasets     *ungm.Datasets
}

// New builds the full service graph from configuration. It fails fast when
// any critical dependency cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	telemetry.Init()

	clk := clock.System{}

	httpClient, err := httpx.New(httpx.Config{
		Timeout:        cfg.HTTP.Timeout(),
		MaxAttempts:    cfg.HTTP.MaxAttempts,
		BackoffBase:    cfg.HTTP.BackoffInitial(),
		BackoffMax:     cfg.HTTP.BackoffMax(),
		UserAgent:      cfg.HTTP.UserAgent,
		AcceptLanguage: cfg.HTTP.AcceptLanguage,
	}, logger.Named("httpx"))
	if err != nil {
		return nil, fmt.Errorf("build http client: %w", err)
	}

	st, err := newStore(ctx, cfg, clk)
	if err != nil {
		return nil, err
	}

	sources := buildSources(cfg, httpClient, clk, logger)
	orch := orchestrator.New(sources, st, cfg.Crawl.SourcePause(), clk, logger.Named("orchestrator"))

	logger.Info("application services initialized",
		zap.Int("sources", len(sources)),
		zap.String("schedule", cfg.Crawl.Schedule))

	return &App{
		cfg:          cfg,
		logger:       logger,
		store:        st,
		orchestrator: orch,
		datasets:     ungm.NewDatasets(httpClient, cfg.Crawl.CacheDir, logger.Named("ungm-datasets")),
	}, nil
}

func newStore(ctx context.Context, cfg config.Config, clk clock.Clock) (store.TenderStore, error) {
	var lifetime time.Duration
	if cfg.DB.ConnLifetime != "" {
		parsed, err := time.ParseDuration(cfg.DB.ConnLifetime)
		if err != nil {
			return nil, fmt.Errorf("parse db.conn_lifetime: %w", err)
		}
		lifetime = parsed
	}

	st, err := store.NewPostgresStore(ctx, store.PostgresConfig{
		DSN:             cfg.DB.DSN,
		Table:           cfg.DB.Table,
		MaxConns:        int32(cfg.DB.MaxConns),
		MinConns:        int32(cfg.DB.MinConns),
		MaxConnLifetime: lifetime,
	}, clk)
	if err != nil {
		return nil, fmt.Errorf("build tender store: %w", err)
	}
	return st, nil
}

// buildSources assembles the adapters in crawl order, each with its merged
// settings.
func buildSources(cfg config.Config, httpClient *httpx.Client, clk clock.Clock, logger *zap.Logger) []source.Source {
	tedSettings := config.DefaultTEDSettings().Merge(cfg.Sources.TED)
	ungmSettings := config.DefaultUNGMSettings().Merge(cfg.Sources.UNGM)
	samSettings := config.DefaultSAMSettings().Merge(cfg.Sources.SAM)

	return []source.Source{
		ted.New(httpClient, tedSettings, clk, logger.Named("ted")),
		ungm.New(httpClient, ungmSettings, clk, logger.Named("ungm")),
		sam.New(httpClient, samSettings, clk, logger.Named("sam")),
	}
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store returns the tender store.
func (a *App) Store() store.TenderStore {
	return a.store
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Datasets returns the UNGM helper dataset syncer.
func (a *App) Datasets() *ungm.Datasets {
	return a.datasets
}

// Crawl runs one full orchestration and returns its report. Both the API
// trigger and the scheduler funnel through here.
func (a *App) Crawl(ctx context.Context) tender.CrawlReport {
	return a.orchestrator.Run(ctx)
}

// Close releases held resources.
func (a *App) Close() {
	if a.store != nil {
		a.store.Close()
	}
	_ = a.logger.Sync()
}
