// Package process runs the process stage: correlate each sheet row with the
// page archived for it in the latest batch, extract the price and write it back.
package process

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/price-archive/internal/archive"
	"github.com/JakeFAU/price-archive/internal/extract"
	"github.com/JakeFAU/price-archive/internal/metrics"
	"github.com/JakeFAU/price-archive/internal/runlog"
	"github.com/JakeFAU/price-archive/internal/tracker"
)

// ErrNoRuns is returned when the archive holds no run prefixes at all.
var ErrNoRuns = errors.New("archive has no runs")

// Config controls row correlation, throttling and log shipping.
type Config struct {
	HeaderRows int
	RowDelay   time.Duration
	Log        runlog.Config
}

// Summary reports what one run did.
type Summary struct {
	RunPrefix   string
	Records     int
	Updated     int
	MissingPage int
	NoPrice     int
	Failed      int
}

// Runner wires the process stage collaborators.
type Runner struct {
	rows         tracker.RowSource
	sink         tracker.RowSink
	archive      tracker.ArchiveStore
	observations tracker.ObservationStore
	clock        tracker.Clock
	metrics      *metrics.Metrics
	cfg          Config
	logger       *zap.Logger
}

// New constructs a Runner. observations and m may be nil.
func New(
	rows tracker.RowSource,
	sink tracker.RowSink,
	store tracker.ArchiveStore,
	observations tracker.ObservationStore,
	clock tracker.Clock,
	m *metrics.Metrics,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		rows:         rows,
		sink:         sink,
		archive:      store,
		observations: observations,
		clock:        clock,
		metrics:      m,
		cfg:          cfg,
		logger:       logger,
	}
}

// Run processes every row against the latest run. Per-row failures are logged
// and counted; only listing runs, reading rows or cancellation fail the run.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	ctx, span := otel.Tracer("github.com/JakeFAU/price-archive/internal/process").Start(ctx, "process.Run")
	defer span.End()

	observedAt := r.clock.Now()
	r.logger.Info("initializing processing job", zap.String("started_at", observedAt.Format(time.DateTime)))

	prefix, err := r.latestRun(ctx)
	if err != nil {
		return Summary{}, err
	}
	records, err := r.rows.ReadRecords(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("read records: %w", err)
	}
	summary := Summary{RunPrefix: prefix, Records: len(records)}

	var limiter *rate.Limiter
	if r.cfg.RowDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(r.cfg.RowDelay), 1)
	}

	for _, rec := range records {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return summary, fmt.Errorf("row throttle: %w", err)
			}
		}
		outcome := r.processRow(ctx, prefix, rec, observedAt)
		r.metrics.ObserveRow(outcome)
		switch outcome {
		case metrics.RowUpdated:
			summary.Updated++
		case metrics.RowMissingPage:
			summary.MissingPage++
		case metrics.RowNoPrice:
			summary.NoPrice++
		default:
			summary.Failed++
		}
	}

	r.logger.Info("processing complete",
		zap.String("run_prefix", prefix),
		zap.Int("records", summary.Records),
		zap.Int("updated", summary.Updated),
		zap.Int("missing_page", summary.MissingPage),
		zap.Int("no_price", summary.NoPrice),
		zap.Int("failed", summary.Failed),
	)

	// End the span first so its export is part of the uploaded log.
	span.End()
	if err := runlog.Upload(ctx, r.archive, r.cfg.Log, r.logger); err != nil {
		r.logger.Error("log upload failed", zap.Error(err))
	}
	return summary, nil
}

func (r *Runner) latestRun(ctx context.Context) (string, error) {
	prefixes, err := r.archive.ListPrefixes(ctx, archive.Delimiter)
	if err != nil {
		return "", fmt.Errorf("list runs: %w", err)
	}
	prefix, ok := archive.SelectLatestRunPrefix(prefixes)
	if !ok {
		return "", ErrNoRuns
	}
	if !archive.IsDatePrefix(prefix) {
		r.logger.Warn("latest run prefix is not a date; selection may be wrong",
			zap.String("run_prefix", prefix),
			zap.Strings("prefixes", prefixes),
		)
	}
	r.logger.Info("selected run", zap.String("run_prefix", prefix))
	return prefix, nil
}

// processRow returns the metrics outcome for one row.
func (r *Runner) processRow(ctx context.Context, prefix string, rec tracker.Record, observedAt time.Time) string {
	key := archive.ObjectKey(archive.ReconstructKey(prefix, rec.RowIndex, r.cfg.HeaderRows))
	log := r.logger.With(zap.Int("row_index", rec.RowIndex), zap.String("key", key))

	content, err := r.archive.GetObject(ctx, key)
	if errors.Is(err, tracker.ErrNotFound) {
		log.Warn("no archived page for row")
		return metrics.RowMissingPage
	}
	if err != nil {
		log.Error("read archived page failed", zap.Error(err))
		return metrics.RowReadError
	}

	value, ok, err := extract.Price(content)
	if err != nil {
		log.Error("extract price failed", zap.Error(err))
		return metrics.RowExtractError
	}
	// A zero price is what the page shows for unavailable products.
	if !ok || value == 0 {
		log.Warn("no price on page")
		return metrics.RowNoPrice
	}
	r.metrics.ObservePrice(value)

	if err := r.sink.UpdatePrice(ctx, tracker.PriceRecord{
		RowIndex:   rec.RowIndex,
		Value:      value,
		ObservedAt: observedAt,
	}); err != nil {
		log.Error("update price failed", zap.Float64("price", value), zap.Error(err))
		return metrics.RowWriteError
	}
	log.Info("updated price", zap.Float64("price", value))

	if r.observations != nil {
		if err := r.observations.RecordObservation(ctx, tracker.Observation{
			RowIndex:   rec.RowIndex,
			URL:        rec.URL,
			Price:      value,
			ObservedAt: observedAt,
			RunPrefix:  prefix,
		}); err != nil {
			log.Warn("record observation failed", zap.Error(err))
		}
	}
	return metrics.RowUpdated
}
