// Package scrape runs the scrape stage: fetch every tracked URL concurrently,
// archive the pages under today's run prefix and announce the batch.
package scrape

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/JakeFAU/price-archive/internal/archive"
	"github.com/JakeFAU/price-archive/internal/metrics"
	"github.com/JakeFAU/price-archive/internal/runlog"
	"github.com/JakeFAU/price-archive/internal/tracker"
)

// Dispatcher fetches an ordered URL list, returning results in input order.
type Dispatcher interface {
	Dispatch(ctx context.Context, urls []string) []tracker.FetchResult
}

// Config controls archive content types, log shipping and the batch event.
type Config struct {
	ContentType string
	Log         runlog.Config
	Topic       string
}

// Summary reports what one run did.
type Summary struct {
	RunPrefix     string
	Records       int
	Archived      int
	FetchFailed   int
	ArchiveFailed int
	EventID       string
}

// Runner wires the scrape stage collaborators.
type Runner struct {
	rows       tracker.RowSource
	dispatcher Dispatcher
	archive    tracker.ArchiveStore
	publisher  tracker.Publisher
	clock      tracker.Clock
	ids        tracker.IDGenerator
	metrics    *metrics.Metrics
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Runner. publisher, ids and m may be nil.
func New(
	rows tracker.RowSource,
	dispatcher Dispatcher,
	store tracker.ArchiveStore,
	publisher tracker.Publisher,
	clock tracker.Clock,
	ids tracker.IDGenerator,
	m *metrics.Metrics,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html"
	}
	return &Runner{
		rows:       rows,
		dispatcher: dispatcher,
		archive:    store,
		publisher:  publisher,
		clock:      clock,
		ids:        ids,
		metrics:    m,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run executes one scrape batch. Only reading the sheet can fail the run;
// fetch and archive failures are logged per item.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	ctx, span := otel.Tracer("github.com/JakeFAU/price-archive/internal/scrape").Start(ctx, "scrape.Run")
	defer span.End()

	started := r.clock.Now()
	r.logger.Info("initializing scraping job", zap.String("started_at", started.Format(time.DateTime)))

	records, err := r.rows.ReadRecords(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("read records: %w", err)
	}
	summary := Summary{
		RunPrefix: archive.RunPrefix(started),
		Records:   len(records),
	}

	results := r.dispatcher.Dispatch(ctx, urlsOf(records))

	// Archive writes stay sequential; the store handle is shared.
	for i, res := range results {
		seq := i + 1
		if !res.OK {
			summary.FetchFailed++
			r.logger.Warn("no content to archive",
				zap.Int("sequence", seq),
				zap.Int("row_index", records[i].RowIndex),
				zap.String("url", records[i].URL),
			)
			continue
		}
		key := archive.ObjectKey(tracker.ArchiveKey{RunPrefix: summary.RunPrefix, Sequence: seq})
		uri, err := r.archive.PutObject(ctx, key, r.cfg.ContentType, res.Content)
		r.metrics.ObserveArchived(err)
		if err != nil {
			summary.ArchiveFailed++
			r.logger.Error("archive page failed", zap.String("key", key), zap.Error(err))
			continue
		}
		summary.Archived++
		r.logger.Info("stored page", zap.Int("sequence", seq), zap.String("uri", uri))
	}

	// End the span first so its export is part of the uploaded log.
	span.End()
	if err := runlog.Upload(ctx, r.archive, r.cfg.Log, r.logger); err != nil {
		r.logger.Error("log upload failed", zap.Error(err))
	}

	summary.EventID = r.announce(ctx, summary)
	return summary, nil
}

// announce publishes the batch event. It is fire-and-forget: failures are logged.
func (r *Runner) announce(ctx context.Context, summary Summary) string {
	if r.publisher == nil || r.cfg.Topic == "" {
		return ""
	}
	event := tracker.BatchEvent{
		Source:     tracker.BatchEventSource,
		DetailType: tracker.BatchEventDetailType,
		Detail:     map[string]any{"state": []string{tracker.BatchStateSucceeded}},
		RunPrefix:  summary.RunPrefix,
		Archived:   summary.Archived,
		Failed:     summary.FetchFailed + summary.ArchiveFailed,
		EmittedAt:  r.clock.Now(),
	}
	if r.ids != nil {
		id, err := r.ids.NewID()
		if err != nil {
			r.logger.Warn("event id generation failed", zap.Error(err))
		}
		event.ID = id
	}
	msgID, err := r.publisher.Publish(ctx, r.cfg.Topic, event)
	if err != nil {
		r.logger.Error("publish batch event failed", zap.String("topic", r.cfg.Topic), zap.Error(err))
		return ""
	}
	r.logger.Info("published batch event", zap.String("topic", r.cfg.Topic), zap.String("message_id", msgID))
	return msgID
}

func urlsOf(records []tracker.Record) []string {
	urls := make([]string, len(records))
	for i, rec := range records {
		urls[i] = rec.URL
	}
	return urls
}
