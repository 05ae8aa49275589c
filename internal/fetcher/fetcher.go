// Package fetcher implements the retrying page fetcher used by the scrape stage.
package fetcher

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/price-archive/internal/metrics"
	"github.com/JakeFAU/price-archive/internal/tracker"
)

// Attempter performs one HTTP GET bounded by timeout and returns the body.
// Transport errors, timeouts and non-success statuses are all errors.
type Attempter interface {
	Attempt(ctx context.Context, url string, timeout time.Duration) ([]byte, error)
}

// Policy bounds the number of attempts and grows the per-attempt timeout.
type Policy struct {
	MaxAttempts int
	TimeoutStep time.Duration
}

// DefaultPolicy returns four attempts with a 10s timeout step.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 4, TimeoutStep: 10 * time.Second}
}

// Timeout returns the budget for the 0-based attempt: step × (attempt + 2).
func (p Policy) Timeout(attempt int) time.Duration {
	return p.TimeoutStep * time.Duration(attempt+2)
}

// Fetcher retries an Attempter immediately, with no sleep between attempts.
type Fetcher struct {
	attempter Attempter
	policy    Policy
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// New constructs a Fetcher.
func New(attempter Attempter, policy Policy, m *metrics.Metrics, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultPolicy().MaxAttempts
	}
	if policy.TimeoutStep <= 0 {
		policy.TimeoutStep = DefaultPolicy().TimeoutStep
	}
	return &Fetcher{
		attempter: attempter,
		policy:    policy,
		metrics:   m,
		logger:    logger,
	}
}

// Fetch returns the page content for url. Failures are logged per attempt and
// reported as a result with OK false once every attempt is spent.
func (f *Fetcher) Fetch(ctx context.Context, url string) tracker.FetchResult {
	result := tracker.FetchResult{URL: url}
	if strings.TrimSpace(url) == "" {
		f.logger.Warn("skipping blank url")
		return result
	}
	for attempt := 0; attempt < f.policy.MaxAttempts; attempt++ {
		result.Attempts = attempt + 1
		body, err := f.attempter.Attempt(ctx, url, f.policy.Timeout(attempt))
		if err != nil {
			f.metrics.ObserveFetchAttempt(url, metrics.OutcomeError)
			f.logger.Error("error scraping page",
				zap.String("url", url),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}
		f.metrics.ObserveFetchAttempt(url, metrics.OutcomeSuccess)
		f.logger.Info("successfully scraped page", zap.String("url", url), zap.Int("attempt", attempt+1))
		result.Content = body
		result.OK = true
		return result
	}
	f.metrics.ObserveFetchExhausted(url)
	return result
}
