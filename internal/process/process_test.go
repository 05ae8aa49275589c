package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/price-archive/internal/archive"
	"github.com/JakeFAU/price-archive/internal/runlog"
	"github.com/JakeFAU/price-archive/internal/storage/memory"
	"github.com/JakeFAU/price-archive/internal/tracker"
)

type fakeRows struct {
	records []tracker.Record
	err     error
}

func (f *fakeRows) ReadRecords(context.Context) ([]tracker.Record, error) {
	return f.records, f.err
}

type recordingSink struct {
	mu      sync.Mutex
	updates []tracker.PriceRecord
	failRow int
}

func (s *recordingSink) UpdatePrice(_ context.Context, p tracker.PriceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.RowIndex == s.failRow {
		return errors.New("quota exceeded")
	}
	s.updates = append(s.updates, p)
	return nil
}

type recordingLedger struct {
	observations []tracker.Observation
	err          error
}

func (l *recordingLedger) RecordObservation(_ context.Context, obs tracker.Observation) error {
	if l.err != nil {
		return l.err
	}
	l.observations = append(l.observations, obs)
	return nil
}

// flakyStore fails reads for one key with a transport error.
type flakyStore struct {
	*memory.BlobStore
	failKey string
}

func (s *flakyStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	if key == s.failKey {
		return nil, errors.New("connection reset")
	}
	return s.BlobStore.GetObject(ctx, key)
}

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

var runDay = time.Date(2024, time.January, 16, 7, 30, 0, 0, time.UTC)

func productPage(id string, price string) []byte {
	return []byte(fmt.Sprintf(`<html><body><script id="__NEXT_DATA__" type="application/json">`+
		`{"props":{"pageProps":{"id":%q,"apolloState":{"ROOT_QUERY":{`+
		`"product:{\"productId\":\"%s\"}":{"productBasicData":{"price":{"value":%s}}}}}}}}`+
		`</script></body></html>`, id, id, price))
}

func dataRows(n int) []tracker.Record {
	out := make([]tracker.Record, n)
	for i := range out {
		out[i] = tracker.Record{RowIndex: i + 2, URL: fmt.Sprintf("https://shop.example/p/%d", i+1)}
	}
	return out
}

func put(t *testing.T, store *memory.BlobStore, prefix string, seq int, content []byte) {
	t.Helper()
	key := archive.ObjectKey(tracker.ArchiveKey{RunPrefix: prefix, Sequence: seq})
	_, err := store.PutObject(context.Background(), key, "text/html", content)
	require.NoError(t, err)
}

func newRunner(rows tracker.RowSource, sink tracker.RowSink, store tracker.ArchiveStore,
	ledger tracker.ObservationStore, logger *zap.Logger, cfg Config) *Runner {
	if cfg.HeaderRows == 0 {
		cfg.HeaderRows = 1
	}
	return New(rows, sink, store, ledger, fakeClock{now: runDay}, nil, cfg, logger)
}

func TestRunSkipsRowsWithoutArchivedPage(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	put(t, store, "2024-01-15/", 1, productPage("1", "10"))
	put(t, store, "2024-01-15/", 2, productPage("2", "20.5"))
	put(t, store, "2024-01-15/", 4, productPage("4", "40"))
	sink := &recordingSink{}

	summary, err := newRunner(&fakeRows{records: dataRows(4)}, sink, store, nil, zap.NewNop(), Config{}).
		Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, []tracker.PriceRecord{
		{RowIndex: 2, Value: 10, ObservedAt: runDay},
		{RowIndex: 3, Value: 20.5, ObservedAt: runDay},
		{RowIndex: 5, Value: 40, ObservedAt: runDay},
	}, sink.updates)
	require.Equal(t, Summary{RunPrefix: "2024-01-15/", Records: 4, Updated: 3, MissingPage: 1}, summary)
}

func TestRunUsesLatestRun(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	put(t, store, "2024-01-02/", 1, productPage("1", "1"))
	put(t, store, "2024-01-15/", 1, productPage("1", "15"))
	put(t, store, "2023-12-31/", 1, productPage("1", "31"))
	sink := &recordingSink{}

	summary, err := newRunner(&fakeRows{records: dataRows(1)}, sink, store, nil, zap.NewNop(), Config{}).
		Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, "2024-01-15/", summary.RunPrefix)
	require.Len(t, sink.updates, 1)
	require.InDelta(t, 15.0, sink.updates[0].Value, 0)
}

func TestRunWarnsOnNonDatePrefix(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	put(t, store, "2024-01-15/", 1, productPage("1", "15"))
	put(t, store, "backup/", 1, productPage("1", "99"))
	core, logs := observer.New(zap.WarnLevel)

	summary, err := newRunner(&fakeRows{records: dataRows(1)}, &recordingSink{}, store, nil, zap.New(core), Config{}).
		Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, "backup/", summary.RunPrefix)
	require.Equal(t, 1, logs.FilterMessageSnippet("not a date").Len())
}

func TestRunContainsMalformedData(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	put(t, store, "2024-01-15/", 1,
		[]byte(`<html><script id="__NEXT_DATA__">{"props": {</script></html>`))
	put(t, store, "2024-01-15/", 2, productPage("2", "0"))
	put(t, store, "2024-01-15/", 3, []byte(`<html><body>sold out</body></html>`))
	put(t, store, "2024-01-15/", 4, productPage("4", "12"))
	sink := &recordingSink{}

	summary, err := newRunner(&fakeRows{records: dataRows(4)}, sink, store, nil, zap.NewNop(), Config{}).
		Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []tracker.PriceRecord{{RowIndex: 5, Value: 12, ObservedAt: runDay}}, sink.updates)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 2, summary.NoPrice)
	require.Equal(t, 1, summary.Updated)
}

func TestRunContinuesAfterWriteFailure(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	put(t, store, "2024-01-15/", 1, productPage("1", "10"))
	put(t, store, "2024-01-15/", 2, productPage("2", "20"))
	sink := &recordingSink{failRow: 2}

	summary, err := newRunner(&fakeRows{records: dataRows(2)}, sink, store, nil, zap.NewNop(), Config{}).
		Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []tracker.PriceRecord{{RowIndex: 3, Value: 20, ObservedAt: runDay}}, sink.updates)
	require.Equal(t, 1, summary.Failed)
}

func TestRunHonorsHeaderRows(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	put(t, store, "2024-01-15/", 1, productPage("1", "10"))
	sink := &recordingSink{}
	rows := &fakeRows{records: []tracker.Record{{RowIndex: 4, URL: "https://shop.example/p/1"}}}

	_, err := newRunner(rows, sink, store, nil, zap.NewNop(), Config{HeaderRows: 3}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []tracker.PriceRecord{{RowIndex: 4, Value: 10, ObservedAt: runDay}}, sink.updates)
}

func TestRunRecordsObservations(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	put(t, store, "2024-01-15/", 1, productPage("1", "10"))
	ledger := &recordingLedger{}

	_, err := newRunner(&fakeRows{records: dataRows(1)}, &recordingSink{}, store, ledger, zap.NewNop(), Config{}).
		Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []tracker.Observation{{
		RowIndex:   2,
		URL:        "https://shop.example/p/1",
		Price:      10,
		ObservedAt: runDay,
		RunPrefix:  "2024-01-15/",
	}}, ledger.observations)
}

func TestRunToleratesLedgerFailure(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	put(t, store, "2024-01-15/", 1, productPage("1", "10"))
	sink := &recordingSink{}

	summary, err := newRunner(&fakeRows{records: dataRows(1)}, sink, store,
		&recordingLedger{err: errors.New("db down")}, zap.NewNop(), Config{}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Updated)
	require.Len(t, sink.updates, 1)
}

func TestRunFailsWithoutRuns(t *testing.T) {
	t.Parallel()

	_, err := newRunner(&fakeRows{records: dataRows(1)}, &recordingSink{}, memory.NewBlobStore(), nil,
		zap.NewNop(), Config{}).Run(context.Background())
	require.ErrorIs(t, err, ErrNoRuns)
}

func TestRunFailsWhenRowsUnavailable(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	put(t, store, "2024-01-15/", 1, productPage("1", "10"))

	_, err := newRunner(&fakeRows{err: errors.New("auth")}, &recordingSink{}, store, nil, zap.NewNop(), Config{}).
		Run(context.Background())
	require.ErrorContains(t, err, "read records")
}

func TestRunThrottlesRows(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	for seq := 1; seq <= 3; seq++ {
		put(t, store, "2024-01-15/", seq, productPage("1", "10"))
	}
	sink := &recordingSink{}

	start := time.Now()
	_, err := newRunner(&fakeRows{records: dataRows(3)}, sink, store, nil, zap.NewNop(),
		Config{RowDelay: 20 * time.Millisecond}).Run(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
	require.Len(t, sink.updates, 3)
}

func TestRunUploadsLogObject(t *testing.T) {
	t.Parallel()

	logPath := filepath.Join(t.TempDir(), "processor.log")
	require.NoError(t, os.WriteFile(logPath, []byte("processing\n"), 0o600))
	store := memory.NewBlobStore()
	put(t, store, "2024-01-15/", 1, productPage("1", "10"))

	cfg := Config{Log: runlog.Config{File: logPath, ObjectKey: "processor.log"}}
	_, err := newRunner(&fakeRows{records: dataRows(1)}, &recordingSink{}, store, nil, zap.NewNop(), cfg).
		Run(context.Background())
	require.NoError(t, err)

	obj, ok := store.Object("processor.log")
	require.True(t, ok)
	require.Equal(t, "processing\n", string(obj.Data))
}

func TestRunCountsReadErrorsAsFailures(t *testing.T) {
	t.Parallel()

	store := &flakyStore{BlobStore: memory.NewBlobStore(), failKey: "2024-01-15/page_1.html"}
	put(t, store.BlobStore, "2024-01-15/", 1, productPage("1", "10"))
	put(t, store.BlobStore, "2024-01-15/", 2, productPage("2", "20"))
	sink := &recordingSink{}

	summary, err := newRunner(&fakeRows{records: dataRows(3)}, sink, store, nil, zap.NewNop(), Config{}).
		Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Summary{RunPrefix: "2024-01-15/", Records: 3, Updated: 1, MissingPage: 1, Failed: 1}, summary)
	require.Equal(t, []tracker.PriceRecord{{RowIndex: 3, Value: 20, ObservedAt: runDay}}, sink.updates)
}
