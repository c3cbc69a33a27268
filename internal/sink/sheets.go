package sink

import (
	"context"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-enrich/internal/resilience"
	"github.com/sells-group/deal-enrich/pkg/google"
)

// minSheetCols is the width a worksheet is grown to before the header is
// first written.
const minSheetCols = 50

// SheetsTable is a RemoteTable backed by one worksheet of a spreadsheet.
// Row references are 1-based sheet row numbers.
type SheetsTable struct {
	client        google.SheetsClient
	spreadsheetID string
	sheet         string
	prepared      bool
}

// NewSheetsTable addresses worksheet sheet of spreadsheetID.
func NewSheetsTable(client google.SheetsClient, spreadsheetID, sheet string) *SheetsTable {
	return &SheetsTable{client: client, spreadsheetID: spreadsheetID, sheet: sheet}
}

func (t *SheetsTable) prepare(ctx context.Context, minCols int) error {
	if t.prepared && minCols == 0 {
		return nil
	}
	if err := t.client.EnsureSheet(ctx, t.spreadsheetID, t.sheet, minCols); err != nil {
		return sheetsError(err)
	}
	t.prepared = true
	return nil
}

// Header reads row 1 of the worksheet, creating the worksheet if needed.
func (t *SheetsTable) Header(ctx context.Context) ([]string, error) {
	if err := t.prepare(ctx, 0); err != nil {
		return nil, err
	}
	rows, err := t.client.GetValues(ctx, t.spreadsheetID, google.HeaderRange(t.sheet))
	if err != nil {
		return nil, sheetsError(err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// SetHeader widens the worksheet and overwrites row 1.
func (t *SheetsTable) SetHeader(ctx context.Context, header []string) error {
	if err := t.prepare(ctx, max(len(header), minSheetCols)); err != nil {
		return err
	}
	rng := google.RowRange(t.sheet, 1, len(header))
	if err := t.client.UpdateValues(ctx, t.spreadsheetID, rng, [][]string{header}); err != nil {
		return sheetsError(err)
	}
	return nil
}

// Index reads the whole worksheet and maps each value of keyColumn to its
// row number. Rows with an empty key are ignored; for duplicate keys the
// last row wins.
func (t *SheetsTable) Index(ctx context.Context, keyColumn string) (map[string]string, error) {
	if err := t.prepare(ctx, 0); err != nil {
		return nil, err
	}
	rows, err := t.client.GetValues(ctx, t.spreadsheetID, google.SheetRange(t.sheet))
	if err != nil {
		return nil, sheetsError(err)
	}
	idx := make(map[string]string)
	if len(rows) == 0 {
		return idx, nil
	}
	col := -1
	for i, h := range rows[0] {
		if h == keyColumn {
			col = i
			break
		}
	}
	if col < 0 {
		return idx, nil
	}
	for i, row := range rows[1:] {
		if col < len(row) && row[col] != "" {
			idx[row[col]] = strconv.Itoa(i + 2)
		}
	}
	return idx, nil
}

// Update overwrites the row at ref across the full header width.
func (t *SheetsTable) Update(ctx context.Context, ref string, header, values []string) error {
	if len(values) != len(header) {
		return eris.Wrapf(ErrRowShape, "sheets: %d values for %d columns", len(values), len(header))
	}
	row, err := strconv.Atoi(ref)
	if err != nil || row < 2 {
		return eris.Errorf("sheets: invalid row reference %q", ref)
	}
	rng := google.RowRange(t.sheet, row, len(header))
	if err := t.client.UpdateValues(ctx, t.spreadsheetID, rng, [][]string{values}); err != nil {
		return sheetsError(err)
	}
	return nil
}

// Append adds values below the last row and returns the new row number.
func (t *SheetsTable) Append(ctx context.Context, header, values []string) (string, error) {
	if len(values) != len(header) {
		return "", eris.Wrapf(ErrRowShape, "sheets: %d values for %d columns", len(values), len(header))
	}
	updated, err := t.client.AppendValues(ctx, t.spreadsheetID, google.SheetRange(t.sheet), [][]string{values})
	if err != nil {
		return "", sheetsError(err)
	}
	row, err := google.ParseRowNumber(updated)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(row), nil
}

// sheetsError tags API failures as transient or permanent by HTTP status.
func sheetsError(err error) error {
	if code := google.StatusCode(err); code != 0 {
		return resilience.FromHTTPStatus(err, code)
	}
	return err
}
