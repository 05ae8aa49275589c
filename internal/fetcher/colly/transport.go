// Package collyfetcher implements a single fetch attempt using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	// RequestTimeout caps the shared HTTP client. Zero leaves the client
	// unbounded so the per-attempt context deadline alone applies.
	RequestTimeout time.Duration
	// Transport overrides the HTTP round tripper (used by tests).
	Transport http.RoundTripper
}

// Transport implements fetcher.Attempter using the Colly collector.
type Transport struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Transport. Each attempt clones the base collector, so the
// connection pool is shared across the scrape worker pool.
func New(cfg Config) *Transport {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
	)
	c.IgnoreRobotsTxt = true
	// Statuses are judged in OnResponse; colly alone rejects 203-299 too.
	c.ParseHTTPErrorResponse = true
	// Clones share this client, so its timeout is set once here and never per
	// attempt. colly's own 10s default would cut the longer attempt budgets.
	c.SetRequestTimeout(cfg.RequestTimeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	c.WithTransport(transport)

	return &Transport{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Attempt executes a single HTTP GET bounded by timeout. Statuses of 400 and
// above are errors; anything below is returned as content.
func (t *Transport) Attempt(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		body     []byte
		fetchErr error
	)
	collector := t.baseCollector.Clone()
	collector.Context = attemptCtx
	t.configureCollectorHooks(collector, &body, &fetchErr)

	if err := t.runCollector(attemptCtx, collector, url, &fetchErr); err != nil {
		return nil, err
	}
	return body, nil
}

func (t *Transport) configureCollectorHooks(hooks collectorHooks, body *[]byte, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "*/*")
		r.Headers.Set("Connection", "keep-alive")
	})

	hooks.OnResponse(func(r *colly.Response) {
		if r.StatusCode >= http.StatusBadRequest {
			*fetchErr = fmt.Errorf("status %d: %s", r.StatusCode, http.StatusText(r.StatusCode))
			return
		}
		*body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func (t *Transport) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
