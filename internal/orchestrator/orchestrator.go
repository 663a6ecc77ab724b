// Package orchestrator sequences the source adapters and persists their
// output. One Run is a full crawl over every configured source.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tenderwatch/crawler/internal/clock"
	"github.com/tenderwatch/crawler/internal/source"
	"github.com/tenderwatch/crawler/internal/store"
	"github.com/tenderwatch/crawler/internal/telemetry"
	"github.com/tenderwatch/crawler/internal/tender"
)

// Orchestrator runs the sources in their configured order, pausing between
// them to stay a considerate client. A failing source is logged and skipped;
// it never aborts the run.
type Orchestrator struct {
	sources []source.Source
	store   store.TenderStore
	pause   time.Duration
	clock   clock.Clock
	logger  *zap.Logger

	// sleep is swappable in tests.
	sleep func(time.Duration)
}

// New builds an orchestrator over the given sources, crawled in slice order.
func New(sources []source.Source, st store.TenderStore, pause time.Duration, clk clock.Clock, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		sources: sources,
		store:   st,
		pause:   pause,
		clock:   clk,
		logger:  logger,
		sleep:   time.Sleep,
	}
}

// Run crawls every source once, sequentially. Both the manual API trigger
// and the scheduler call this entry point. Callers serialize invocations;
// Run itself does not guard against overlap.
func (o *Orchestrator) Run(ctx context.Context) tender.CrawlReport {
	report := tender.CrawlReport{
		RunID:     uuid.NewString(),
		StartedAt: o.clock.Now(),
		Counts:    make(map[tender.Site]int, len(o.sources)),
		Failures:  make(map[tender.Site]string),
	}
	started := time.Now()
	o.logger.Info("crawl run starting",
		zap.String("run_id", report.RunID),
		zap.Int("sources", len(o.sources)))

	for i, src := range o.sources {
		if i > 0 && o.pause > 0 {
			o.sleep(o.pause)
		}
		site := src.Site()

		tenders, err := src.Crawl(ctx)
		if err != nil {
			o.logger.Error("source crawl failed",
				zap.String("site", string(site)), zap.Error(err))
			telemetry.ObserveCrawlFailure(string(site))
			report.Failures[site] = err.Error()
			report.Counts[site] = 0
			continue
		}
		report.Counts[site] = o.persist(ctx, site, tenders)
	}

	report.Duration = time.Since(started)
	telemetry.ObserveCrawlRun(report.Duration)
	o.logger.Info("crawl run finished",
		zap.String("run_id", report.RunID),
		zap.Int("total", report.Total()),
		zap.Duration("duration", report.Duration),
		zap.Int("failed_sources", len(report.Failures)))
	return report
}

// persist upserts each record individually. A failing record is logged and
// skipped so one bad row cannot sink the batch.
func (o *Orchestrator) persist(ctx context.Context, site tender.Site, tenders []tender.Tender) int {
	stored := 0
	for _, t := range tenders {
		if err := o.store.Upsert(ctx, t); err != nil {
			o.logger.Warn("tender upsert failed",
				zap.String("tender", t.Key()),
				zap.Error(err))
			telemetry.ObserveUpsertFailure(string(site))
			continue
		}
		telemetry.ObserveUpsert(string(site))
		stored++
	}
	o.logger.Info("source crawl persisted",
		zap.String("site", string(site)),
		zap.Int("fetched", len(tenders)),
		zap.Int("stored", stored))
	return stored
}
