// Package google wraps the Google Sheets values API used by the remote
// table sink.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsClient performs the Sheets operations used by this application.
type SheetsClient interface {
	GetValues(ctx context.Context, spreadsheetID, rng string) ([][]string, error)
	UpdateValues(ctx context.Context, spreadsheetID, rng string, rows [][]string) error
	AppendValues(ctx context.Context, spreadsheetID, rng string, rows [][]string) (string, error)
	EnsureSheet(ctx context.Context, spreadsheetID, title string, minCols int) error
}

// Option configures the Sheets client.
type Option func(*sheetsClient)

// WithRateLimit overrides the default rate limit (1 req/s, the per-user
// write quota). Zero disables client-side throttling.
func WithRateLimit(rps float64) Option {
	return func(c *sheetsClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

// WithCredentialsFile authenticates with a service account key file.
func WithCredentialsFile(path string) Option {
	return func(c *sheetsClient) {
		c.clientOpts = append(c.clientOpts, option.WithCredentialsFile(path))
	}
}

// WithClientOptions passes options through to the underlying API client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(c *sheetsClient) {
		c.clientOpts = append(c.clientOpts, opts...)
	}
}

type sheetsClient struct {
	svc        *sheets.Service
	limiter    *rate.Limiter
	clientOpts []option.ClientOption
}

// NewSheetsClient creates a Sheets client. Without options it uses
// application default credentials.
func NewSheetsClient(ctx context.Context, opts ...Option) (SheetsClient, error) {
	c := &sheetsClient{limiter: rate.NewLimiter(1, 1)}
	for _, o := range opts {
		o(c)
	}
	svc, err := sheets.NewService(ctx, c.clientOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "google: create sheets service")
	}
	c.svc = svc
	return c, nil
}

func (c *sheetsClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *sheetsClient) GetValues(ctx context.Context, spreadsheetID, rng string) ([][]string, error) {
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "google: rate limit")
	}
	resp, err := c.svc.Spreadsheets.Values.Get(spreadsheetID, rng).
		ValueRenderOption("FORMATTED_VALUE").
		Context(ctx).Do()
	if err != nil {
		return nil, eris.Wrapf(err, "google: get values %s", rng)
	}
	out := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		out[i] = make([]string, len(row))
		for j, v := range row {
			if v != nil {
				out[i][j] = fmt.Sprint(v)
			}
		}
	}
	return out, nil
}

func (c *sheetsClient) UpdateValues(ctx context.Context, spreadsheetID, rng string, rows [][]string) error {
	if err := c.wait(ctx); err != nil {
		return eris.Wrap(err, "google: rate limit")
	}
	_, err := c.svc.Spreadsheets.Values.Update(spreadsheetID, rng, valueRange(rows)).
		ValueInputOption("RAW").
		Context(ctx).Do()
	return eris.Wrapf(err, "google: update values %s", rng)
}

// AppendValues appends rows after the last row of the table found in rng
// and returns the A1 range that was written.
func (c *sheetsClient) AppendValues(ctx context.Context, spreadsheetID, rng string, rows [][]string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", eris.Wrap(err, "google: rate limit")
	}
	resp, err := c.svc.Spreadsheets.Values.Append(spreadsheetID, rng, valueRange(rows)).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", eris.Wrapf(err, "google: append values %s", rng)
	}
	if resp.Updates == nil {
		return "", eris.Errorf("google: append values %s: no update range returned", rng)
	}
	return resp.Updates.UpdatedRange, nil
}

// EnsureSheet creates the worksheet if it is missing and widens it to at
// least minCols columns.
func (c *sheetsClient) EnsureSheet(ctx context.Context, spreadsheetID, title string, minCols int) error {
	if err := c.wait(ctx); err != nil {
		return eris.Wrap(err, "google: rate limit")
	}
	ss, err := c.svc.Spreadsheets.Get(spreadsheetID).
		Fields("sheets.properties").
		Context(ctx).Do()
	if err != nil {
		return eris.Wrapf(err, "google: get spreadsheet %s", spreadsheetID)
	}

	var req *sheets.Request
	found := false
	for _, s := range ss.Sheets {
		if s.Properties == nil || s.Properties.Title != title {
			continue
		}
		found = true
		var cols int64
		if s.Properties.GridProperties != nil {
			cols = s.Properties.GridProperties.ColumnCount
		}
		if cols < int64(minCols) {
			req = &sheets.Request{AppendDimension: &sheets.AppendDimensionRequest{
				SheetId:   s.Properties.SheetId,
				Dimension: "COLUMNS",
				Length:    int64(minCols) - cols,
			}}
		}
		break
	}
	if !found {
		req = &sheets.Request{AddSheet: &sheets.AddSheetRequest{
			Properties: &sheets.SheetProperties{
				Title: title,
				GridProperties: &sheets.GridProperties{
					RowCount:    1000,
					ColumnCount: int64(max(minCols, 26)),
				},
			},
		}}
	}
	if req == nil {
		return nil
	}

	if err := c.wait(ctx); err != nil {
		return eris.Wrap(err, "google: rate limit")
	}
	_, err = c.svc.Spreadsheets.BatchUpdate(spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{req},
	}).Context(ctx).Do()
	return eris.Wrapf(err, "google: prepare sheet %s", title)
}

func valueRange(rows [][]string) *sheets.ValueRange {
	values := make([][]any, len(rows))
	for i, row := range rows {
		values[i] = make([]any, len(row))
		for j, v := range row {
			values[i][j] = TruncateCell(v)
		}
	}
	return &sheets.ValueRange{Values: values}
}

// StatusCode extracts the HTTP status from a Sheets API error, or 0.
func StatusCode(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}
