// Package app builds the long-lived services shared by the scrape and process
// stages from a loaded Config, acting as the dependency injection container
// both binaries start from.
package app

import (
	"context"
	"fmt"
	"net/http"

	"cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/JakeFAU/price-archive/internal/clock/system"
	"github.com/JakeFAU/price-archive/internal/config"
	"github.com/JakeFAU/price-archive/internal/dispatcher"
	"github.com/JakeFAU/price-archive/internal/fetcher"
	collyfetcher "github.com/JakeFAU/price-archive/internal/fetcher/colly"
	"github.com/JakeFAU/price-archive/internal/id/uuid"
	"github.com/JakeFAU/price-archive/internal/metrics"
	"github.com/JakeFAU/price-archive/internal/process"
	memorypublisher "github.com/JakeFAU/price-archive/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/price-archive/internal/publisher/pubsub"
	"github.com/JakeFAU/price-archive/internal/runlog"
	"github.com/JakeFAU/price-archive/internal/scrape"
	"github.com/JakeFAU/price-archive/internal/sheets"
	"github.com/JakeFAU/price-archive/internal/storage/gcs"
	"github.com/JakeFAU/price-archive/internal/storage/local"
	"github.com/JakeFAU/price-archive/internal/storage/memory"
	"github.com/JakeFAU/price-archive/internal/storage/postgres"
	"github.com/JakeFAU/price-archive/internal/tracker"
)

// Options override how external clients are built. The zero value builds
// everything from Config and ambient credentials.
type Options struct {
	// SheetsService replaces the service built from the credentials file.
	SheetsService *gsheets.Service
	// HTTPTransport replaces the round tripper used to fetch pages.
	HTTPTransport http.RoundTripper
	// GoogleOptions are appended when building the storage and pubsub clients.
	GoogleOptions []option.ClientOption
}

// App holds the services for one run.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	sheet        *sheets.Client
	store        tracker.ArchiveStore
	publisher    tracker.Publisher
	observations *postgres.ObservationStore
	metrics      *metrics.Metrics
	clock        tracker.Clock
	opts         Options
	closers      []func() error
}

// New initializes every service the configured stage needs and fails fast if
// any required one cannot be built.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		clock:   system.New(cfg.Location()),
		opts:    opts,
	}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("application services initialized",
		zap.String("stage", cfg.Stage),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("publisher", a.publisher != nil),
		zap.Bool("observation_ledger", a.observations != nil),
	)
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	svc := a.opts.SheetsService
	if svc == nil {
		var err error
		svc, err = sheets.NewService(ctx, a.cfg.Sheet.CredentialsFile)
		if err != nil {
			return err
		}
	}
	sheet, err := sheets.New(svc, sheets.Config{
		SpreadsheetID: a.cfg.Sheet.SpreadsheetID,
		SheetName:     a.cfg.Sheet.SheetName,
		URLColumn:     a.cfg.Sheet.URLColumn,
		PriceColumn:   a.cfg.Sheet.PriceColumn,
		DateColumn:    a.cfg.Sheet.DateColumn,
		HeaderRows:    a.cfg.Sheet.HeaderRows,
	}, a.logger.Named("sheets"))
	if err != nil {
		return fmt.Errorf("init sheets: %w", err)
	}
	a.sheet = sheet

	if err := a.initStore(ctx); err != nil {
		return err
	}

	switch {
	case a.cfg.Stage != config.StageScraper || a.cfg.PubSub.TopicName == "":
		// publishing disabled
	case a.cfg.Storage.Backend == config.BackendMemory:
		a.logger.Warn("dry run: batch events stay in memory", zap.String("topic", a.cfg.PubSub.TopicName))
		a.publisher = memorypublisher.New()
	default:
		client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID, a.opts.GoogleOptions...)
		if err != nil {
			return fmt.Errorf("init pubsub: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.publisher = pubsubpublisher.New(client)
	}

	if a.cfg.Stage == config.StageProcessor && a.cfg.DB.DSN != "" {
		obs, err := postgres.NewObservationStore(ctx, postgres.ObservationStoreConfig{
			DSN:      a.cfg.DB.DSN,
			Table:    a.cfg.DB.Table,
			MaxConns: a.cfg.DB.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("init observation ledger: %w", err)
		}
		a.closers = append(a.closers, func() error { obs.Close(); return nil })
		a.observations = obs
	}
	return nil
}

func (a *App) initStore(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		client, err := gcsclient.NewClient(ctx, a.opts.GoogleOptions...)
		if err != nil {
			return fmt.Errorf("init storage client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		a.store = store
	case config.BackendLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		a.store = store
	case config.BackendMemory:
		a.logger.Warn("using in-memory archive; nothing outlives this run")
		a.store = memory.NewBlobStore()
	default:
		return fmt.Errorf("unknown storage backend: %s", a.cfg.Storage.Backend)
	}
	return nil
}

// Logger returns the run logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store returns the archive store.
func (a *App) Store() tracker.ArchiveStore {
	return a.store
}

// Metrics returns the run collectors.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

func (a *App) logConfig() runlog.Config {
	return runlog.Config{
		File:        a.cfg.Logging.File,
		ObjectKey:   a.cfg.Logging.ObjectKey,
		ContentType: a.cfg.Storage.LogContentType,
	}
}

// ScrapeRunner wires the fetch pipeline and returns the scrape stage runner.
func (a *App) ScrapeRunner() *scrape.Runner {
	policy := fetcher.Policy{
		MaxAttempts: a.cfg.Fetch.MaxAttempts,
		TimeoutStep: a.cfg.AttemptTimeoutStep(),
	}
	transport := collyfetcher.New(collyfetcher.Config{
		UserAgent:      a.cfg.Fetch.UserAgent,
		RequestTimeout: policy.Timeout(policy.MaxAttempts - 1),
		Transport:      a.opts.HTTPTransport,
	})
	f := fetcher.New(transport, policy, a.metrics, a.logger.Named("fetcher"))
	d := dispatcher.New(f, a.cfg.Fetch.Concurrency, a.logger.Named("dispatcher"))

	return scrape.New(
		a.sheet,
		d,
		a.store,
		a.publisher,
		a.clock,
		uuid.New(),
		a.metrics,
		scrape.Config{
			ContentType: a.cfg.Storage.ContentType,
			Log:         a.logConfig(),
			Topic:       a.cfg.PubSub.TopicName,
		},
		a.logger.Named("scrape"),
	)
}

// ProcessRunner returns the process stage runner.
func (a *App) ProcessRunner() *process.Runner {
	var observations tracker.ObservationStore
	if a.observations != nil {
		observations = a.observations
	}
	return process.New(
		a.sheet,
		a.sheet,
		a.store,
		observations,
		a.clock,
		a.metrics,
		process.Config{
			HeaderRows: a.cfg.Sheet.HeaderRows,
			RowDelay:   a.cfg.RowDelay(),
			Log:        a.logConfig(),
		},
		a.logger.Named("process"),
	)
}

// PushMetrics exports the run collectors when a Pushgateway is configured.
func (a *App) PushMetrics(ctx context.Context) {
	if err := a.metrics.Push(ctx, a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.JobName); err != nil {
		a.logger.Warn("metrics push failed", zap.Error(err))
	}
}

// Close releases clients in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing client", zap.Error(err))
		}
	}
	a.closers = nil
}
