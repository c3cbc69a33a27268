package input

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// readDelimited reads a CSV or TSV feed with a header row.
func readDelimited(ctx context.Context, path string, comma rune) ([]record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "input: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "input: read header")
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var out []record
	for {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "input: context cancelled")
		}
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, eris.Wrapf(err, "input: read row %d", len(out)+1)
		}
		if rec := rowRecord(header, row); rec != nil {
			out = append(out, rec)
		}
	}
}

// readXLSX reads the first (or the named) worksheet with a header row.
func readXLSX(ctx context.Context, path, sheetName string) ([]record, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "input: xlsx: open %s", path)
	}

	var sheet *xlsx.Sheet
	switch {
	case sheetName != "":
		s, ok := f.Sheet[sheetName]
		if !ok {
			return nil, eris.Errorf("input: xlsx: sheet %q not found", sheetName)
		}
		sheet = s
	case len(f.Sheets) == 0:
		return nil, eris.New("input: xlsx: workbook has no sheets")
	default:
		sheet = f.Sheets[0]
	}

	var header []string
	var out []record
	for _, row := range sheet.Rows {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "input: xlsx: context cancelled")
		}
		if row == nil {
			continue
		}
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		if header == nil {
			header = cells
			continue
		}
		if rec := rowRecord(header, cells); rec != nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

// rowRecord pairs a row with the header. Blank rows yield nil; cells past
// the header are dropped and missing trailing cells are absent.
func rowRecord(header, row []string) record {
	rec := make(record, len(header))
	blank := true
	for i, h := range header {
		if i >= len(row) {
			break
		}
		if strings.TrimSpace(row[i]) != "" {
			blank = false
		}
		rec[normalizeKey(h)] = row[i]
	}
	if blank {
		return nil
	}
	return rec
}
