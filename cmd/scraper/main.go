// Command scraper fetches every tracked product page and archives the batch
// under today's run prefix.
package main

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/price-archive/internal/app"
	"github.com/JakeFAU/price-archive/internal/cli"
	"github.com/JakeFAU/price-archive/internal/config"
)

func main() {
	cmd := cli.NewStageCommand(config.StageScraper,
		"Fetch tracked product pages and archive them", run)
	os.Exit(cli.Execute(cmd))
}

func run(ctx context.Context, a *app.App) error {
	summary, err := a.ScrapeRunner().Run(ctx)
	if err != nil {
		return err
	}
	a.Logger().Info("scraping job finished",
		zap.String("run_prefix", summary.RunPrefix),
		zap.Int("records", summary.Records),
		zap.Int("archived", summary.Archived),
		zap.Int("fetch_failed", summary.FetchFailed),
		zap.Int("archive_failed", summary.ArchiveFailed),
		zap.String("event_id", summary.EventID),
	)
	return nil
}
