package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCrawlCmd creates the one-shot 'crawl' subcommand: run every source
// once, persist the results, print the report, exit.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Runs a single crawl over all configured sources",
		Long: `Crawls TED, UNGM and SAM.gov once in sequence, upserts the
normalized tenders into the store, and prints a per-source report.`,

		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	report := appInstance.Crawl(cmd.Context())

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode crawl report: %w", err)
	}
	cmd.Println(string(encoded))

	if len(report.Failures) > 0 {
		appInstance.Logger().Warn("crawl finished with source failures",
			zap.Int("failed_sources", len(report.Failures)))
	}
	return nil
}
