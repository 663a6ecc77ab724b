package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tenderwatch/crawler/internal/api"
	"github.com/tenderwatch/crawler/internal/schedule"
)

// newServeCmd creates the long-running 'serve' subcommand: HTTP API plus
// the optional cron-scheduled crawl.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API and the scheduled crawler",
		Long: `Starts the HTTP API (manual crawl trigger, tender listing,
health and metrics endpoints) and, when crawl.schedule is configured,
fires the crawl on that cron timetable until interrupted.`,

		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()
	cfg := appInstance.Config()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var scheduler *schedule.Scheduler
	if spec := cfg.Crawl.Schedule; spec != "" {
		scheduler, err = schedule.New(spec, func(runCtx context.Context) {
			appInstance.Crawl(runCtx)
		}, logger.Named("schedule"))
		if err != nil {
			return err
		}
		scheduler.Start()
	}

	server := api.NewServer(appInstance.Store(), appInstance.Crawl, appInstance.Datasets(), logger.Named("api"))
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if scheduler != nil {
		if err := scheduler.Stop(shutdownCtx); err != nil {
			logger.Warn("scheduler did not stop cleanly", zap.Error(err))
		}
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
