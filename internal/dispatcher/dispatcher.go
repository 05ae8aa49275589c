// Package dispatcher fans fetches out over a bounded worker pool.
package dispatcher

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/price-archive/internal/tracker"
)

// DefaultConcurrency is the worker pool size used when none is configured.
const DefaultConcurrency = 5

// Dispatcher runs a Fetcher over an ordered URL list with at most
// concurrency fetches in flight.
type Dispatcher struct {
	fetcher     tracker.Fetcher
	concurrency int
	logger      *zap.Logger
}

// New creates a Dispatcher.
func New(fetcher tracker.Fetcher, concurrency int, logger *zap.Logger) *Dispatcher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		fetcher:     fetcher,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Dispatch blocks until every URL has a terminal result. results[i] always
// belongs to urls[i], whatever order the workers finish in.
func (d *Dispatcher) Dispatch(ctx context.Context, urls []string) []tracker.FetchResult {
	results := make([]tracker.FetchResult, len(urls))

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, url := range urls {
		g.Go(func() error {
			results[i] = d.fetcher.Fetch(ctx, url)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	d.logger.Info("dispatch finished",
		zap.Int("urls", len(urls)),
		zap.Int("succeeded", countOK(results)),
	)
	return results
}

func countOK(results []tracker.FetchResult) int {
	n := 0
	for _, r := range results {
		if r.OK {
			n++
		}
	}
	return n
}
