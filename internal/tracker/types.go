// Package tracker defines core types shared by the scrape and process stages.
package tracker

import (
	"errors"
	"time"
)

// ErrNotFound is returned by archive stores when an object key does not exist.
var ErrNotFound = errors.New("object not found")

// Record is one input row read from the tracking sheet.
type Record struct {
	// RowIndex is the 1-based physical sheet row, header rows included.
	RowIndex int
	URL      string
}

// ArchiveKey identifies one archived page within a batch.
type ArchiveKey struct {
	RunPrefix string
	Sequence  int
}

// FetchResult is the terminal outcome of fetching one URL.
// OK is false when every attempt failed; Content is empty in that case.
type FetchResult struct {
	URL      string
	Content  []byte
	Attempts int
	OK       bool
}

// PriceRecord is the value written back to the tracking sheet for a row.
type PriceRecord struct {
	RowIndex   int
	Value      float64
	ObservedAt time.Time
}

// Observation is one ledger row persisted after a successful sheet update.
type Observation struct {
	RowIndex   int
	URL        string
	Price      float64
	ObservedAt time.Time
	RunPrefix  string
}

// BatchEvent announces that a scrape batch finished and can be processed.
type BatchEvent struct {
	ID         string         `json:"id"`
	Source     string         `json:"source"`
	DetailType string         `json:"detail_type"`
	Detail     map[string]any `json:"detail"`
	RunPrefix  string         `json:"run_prefix"`
	Archived   int            `json:"archived"`
	Failed     int            `json:"failed"`
	EmittedAt  time.Time      `json:"emitted_at"`
}

// Batch event constants consumed by the downstream trigger.
const (
	BatchEventSource     = "scraperapp.batch"
	BatchEventDetailType = "Batch Job State Change"
	BatchStateSucceeded  = "SUCCEEDED"
)
