// Command processor extracts prices from the latest archived batch and writes
// them back to the tracking sheet.
package main

import (
	"context"
	"os"

	"github.com/JakeFAU/price-archive/internal/app"
	"github.com/JakeFAU/price-archive/internal/cli"
	"github.com/JakeFAU/price-archive/internal/config"
)

func main() {
	cmd := cli.NewStageCommand(config.StageProcessor,
		"Extract prices from the latest archived batch into the sheet", run)
	os.Exit(cli.Execute(cmd))
}

func run(ctx context.Context, a *app.App) error {
	_, err := a.ProcessRunner().Run(ctx)
	return err
}
