package tracker

import (
	"context"
	"time"
)

// RowSource reads the ordered list of input records from the tracking sheet.
type RowSource interface {
	ReadRecords(ctx context.Context) ([]Record, error)
}

// RowSink writes a computed price back to the row that requested it.
type RowSink interface {
	UpdatePrice(ctx context.Context, price PriceRecord) error
}

// ArchiveStore persists raw page content and run logs.
type ArchiveStore interface {
	PutObject(ctx context.Context, key string, contentType string, data []byte) (string, error)
	GetObject(ctx context.Context, key string) ([]byte, error)
	ListPrefixes(ctx context.Context, delimiter string) ([]string, error)
}

// Fetcher returns page content for a URL. Failure is reported through
// FetchResult.OK, never as an error.
type Fetcher interface {
	Fetch(ctx context.Context, url string) FetchResult
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// ObservationStore appends price observations to a history ledger.
type ObservationStore interface {
	RecordObservation(ctx context.Context, obs Observation) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces event IDs.
type IDGenerator interface {
	NewID() (string, error)
}
