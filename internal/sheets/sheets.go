// Package sheets reads tracked URLs from, and writes prices back to, the
// Google Sheets tracking spreadsheet.
package sheets

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/JakeFAU/price-archive/internal/tracker"
)

// DateLayout formats the observation date written next to each price.
const DateLayout = "2006-01-02"

const valueInputRaw = "RAW"

// Config locates the sheet and its columns.
type Config struct {
	SpreadsheetID string
	SheetName     string
	URLColumn     string
	PriceColumn   string
	DateColumn    string
	HeaderRows    int
}

// Client implements tracker.RowSource and tracker.RowSink.
type Client struct {
	values *gsheets.SpreadsheetsValuesService
	cfg    Config
	logger *zap.Logger
}

// NewService builds an authenticated Sheets service from a service account file.
func NewService(ctx context.Context, credentialsFile string, opts ...option.ClientOption) (*gsheets.Service, error) {
	all := append([]option.ClientOption{
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(gsheets.SpreadsheetsScope),
	}, opts...)
	svc, err := gsheets.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return svc, nil
}

// New creates a Client over an existing service.
func New(svc *gsheets.Service, cfg Config, logger *zap.Logger) (*Client, error) {
	if svc == nil {
		return nil, fmt.Errorf("sheets service is required")
	}
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	if cfg.SheetName == "" {
		cfg.SheetName = "Sheet1"
	}
	if cfg.URLColumn == "" {
		cfg.URLColumn = "B"
	}
	if cfg.PriceColumn == "" {
		cfg.PriceColumn = "C"
	}
	if cfg.DateColumn == "" {
		cfg.DateColumn = "D"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		values: svc.Spreadsheets.Values,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// FirstDataRow is the 1-based row where data starts.
func (c *Client) FirstDataRow() int {
	return c.cfg.HeaderRows + 1
}

// URLRange is the open-ended A1 range holding the tracked URLs.
func (c *Client) URLRange() string {
	return fmt.Sprintf("%s!%s%d:%s", c.cfg.SheetName, c.cfg.URLColumn, c.FirstDataRow(), c.cfg.URLColumn)
}

// PriceRange is the two-cell A1 range that receives a row's price and date.
func (c *Client) PriceRange(rowIndex int) string {
	return fmt.Sprintf("%s!%s%d:%s%d", c.cfg.SheetName, c.cfg.PriceColumn, rowIndex, c.cfg.DateColumn, rowIndex)
}

// ReadRecords returns one record per data row, in sheet order. Blank cells
// keep their position with an empty URL so row indices never shift.
func (c *Client) ReadRecords(ctx context.Context) ([]tracker.Record, error) {
	resp, err := c.values.Get(c.cfg.SpreadsheetID, c.URLRange()).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read urls: %w", err)
	}
	records := make([]tracker.Record, 0, len(resp.Values))
	for i, row := range resp.Values {
		rec := tracker.Record{RowIndex: c.FirstDataRow() + i}
		if len(row) > 0 {
			rec.URL = strings.TrimSpace(fmt.Sprint(row[0]))
		}
		records = append(records, rec)
	}
	c.logger.Info("read tracked urls", zap.String("range", c.URLRange()), zap.Int("rows", len(records)))
	return records, nil
}

// UpdatePrice overwrites the price and date cells of a row.
func (c *Client) UpdatePrice(ctx context.Context, price tracker.PriceRecord) error {
	if price.RowIndex <= c.cfg.HeaderRows {
		return fmt.Errorf("row %d is a header row", price.RowIndex)
	}
	body := &gsheets.ValueRange{
		Values: [][]any{{price.Value, price.ObservedAt.Format(DateLayout)}},
	}
	_, err := c.values.Update(c.cfg.SpreadsheetID, c.PriceRange(price.RowIndex), body).
		ValueInputOption(valueInputRaw).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("update row %d: %w", price.RowIndex, err)
	}
	return nil
}
