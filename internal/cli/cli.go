// Package cli holds the cobra wiring shared by the stage binaries.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/price-archive/internal/app"
	"github.com/JakeFAU/price-archive/internal/config"
	"github.com/JakeFAU/price-archive/internal/logging"
	"github.com/JakeFAU/price-archive/internal/telemetry"
)

// RunFunc executes one stage against initialized services.
type RunFunc func(ctx context.Context, a *app.App) error

// newApp is the application factory. Tests replace it to avoid real clients.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger, app.Options{})
}

// NewStageCommand builds the root command for a stage binary. It takes no
// flags or arguments; everything comes from the environment.
func NewStageCommand(stage, short string, run RunFunc) *cobra.Command {
	return &cobra.Command{
		Use:           stage,
		Short:         short,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStage(cmd.Context(), stage, run)
		},
	}
}

func runStage(ctx context.Context, stage string, run RunFunc) error {
	cfg, err := config.Load(os.Getenv(config.ConfigPathEnv), stage)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, closeLog, err := logging.NewWithFile(cfg.Logging.Development, cfg.Logging.File)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLog()
	defer func() {
		_ = logger.Sync() //nolint:errcheck // stderr sync fails on some platforms
	}()
	zap.ReplaceGlobals(logger)

	var traceOpts []sdktrace.TracerProviderOption
	if cfg.Tracing.LogSpans {
		traceOpts = append(traceOpts, sdktrace.WithSyncer(telemetry.NewLogExporter(logger.Named("trace"))))
	}
	tp, err := telemetry.InitTracerProvider(ctx, "price-archive-"+stage, traceOpts...)
	if err != nil {
		logger.Error("failed to initialize tracing", zap.Error(err))
		return err
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize application services", zap.Error(err))
		return err
	}
	defer a.Close()

	if err := run(ctx, a); err != nil {
		logger.Error("run failed", zap.String("stage", stage), zap.Error(err))
		return err
	}
	a.PushMetrics(ctx)
	return nil
}

// Execute runs cmd with a signal-aware context and returns the process exit code.
func Execute(cmd *cobra.Command) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd.Name(), err)
		return 1
	}
	return 0
}
