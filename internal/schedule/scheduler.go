// Package schedule runs the crawl on a cron timetable.
package schedule

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler triggers a crawl function on a cron expression. It shares the
// orchestration entry point with the manual API trigger.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// New registers run under the given cron spec (standard five-field syntax).
// Overlapping runs are skipped rather than stacked.
func New(spec string, run func(context.Context), logger *zap.Logger) (*Scheduler, error) {
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))
	_, err := c.AddFunc(spec, func() {
		logger.Info("scheduled crawl triggered", zap.String("spec", spec))
		run(context.Background())
	})
	if err != nil {
		return nil, fmt.Errorf("parse crawl schedule %q: %w", spec, err)
	}
	return &Scheduler{cron: c, logger: logger}, nil
}

// Start begins firing the schedule in the background.
func (s *Scheduler) Start() {
	s.logger.Info("crawl scheduler started")
	s.cron.Start()
}

// Stop halts the timetable and waits for an in-flight run to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("crawl scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
