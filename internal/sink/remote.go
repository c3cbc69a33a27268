package sink

import (
	"context"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrRowShape is returned when a row cannot be reconciled with the header
// it is written under. Nothing is written in that case.
var ErrRowShape = eris.New("sink: row length does not match header length")

// KeyColumn is the column remote rows are upserted on.
const KeyColumn = "deal_id"

// RemoteTable is a live tabular view addressed by a stable external id
// (a spreadsheet worksheet or a database).
type RemoteTable interface {
	// Header returns the header row as it currently exists remotely.
	Header(ctx context.Context) ([]string, error)
	// SetHeader replaces the header row. header always extends the current one.
	SetHeader(ctx context.Context, header []string) error
	// Index maps every existing key value in keyColumn to a row reference.
	Index(ctx context.Context, keyColumn string) (map[string]string, error)
	// Update overwrites the row at ref. len(values) == len(header).
	Update(ctx context.Context, ref string, header, values []string) error
	// Append adds a new row and returns its reference.
	Append(ctx context.Context, header, values []string) (string, error)
}

// RemoteSink upserts flat records into a RemoteTable by deal_id.
type RemoteSink struct {
	table RemoteTable
	index map[string]string
}

// NewRemoteSink wraps table. The row index is loaded on first use.
func NewRemoteSink(table RemoteTable) *RemoteSink {
	return &RemoteSink{table: table}
}

// Upsert writes rec, aligned by column name to the remote header. The
// remote header is re-read immediately before each write because columns
// may have been added out of band. Columns of schema missing remotely are
// appended to the remote header first.
func (s *RemoteSink) Upsert(ctx context.Context, schema SchemaState, rec *FlatRecord) error {
	key := strings.TrimSpace(rec.Values[KeyColumn])
	if key == "" {
		return eris.New("sink: remote upsert: record has no deal_id")
	}

	if s.index == nil {
		idx, err := s.table.Index(ctx, KeyColumn)
		if err != nil {
			return eris.Wrap(err, "sink: remote index")
		}
		s.index = idx
		zap.L().Info("sink: remote table indexed", zap.Int("rows", len(idx)))
	}

	header, err := s.table.Header(ctx)
	if err != nil {
		return eris.Wrap(err, "sink: remote header")
	}

	grown, missing := growHeader(header, schema.Columns())
	if len(missing) > 0 {
		if err := s.table.SetHeader(ctx, grown); err != nil {
			return eris.Wrap(err, "sink: remote set header")
		}
		zap.L().Info("sink: remote header grown",
			zap.Int("from", len(header)),
			zap.Int("to", len(grown)),
			zap.Strings("added", missing),
		)
		header = grown
	}

	row, err := alignRow(header, rec.Values)
	if err != nil {
		return err
	}

	if ref, ok := s.index[key]; ok {
		return eris.Wrapf(s.table.Update(ctx, ref, header, row), "sink: remote update %s", key)
	}
	ref, err := s.table.Append(ctx, header, row)
	if err != nil {
		// The row may have landed before the error surfaced. Re-index on the
		// next attempt so a retry updates it instead of appending a duplicate.
		s.index = nil
		return eris.Wrapf(err, "sink: remote append %s", key)
	}
	s.index[key] = ref
	return nil
}

// growHeader appends the columns of want that header lacks.
func growHeader(header, want []string) ([]string, []string) {
	have := make(map[string]struct{}, len(header))
	for _, h := range header {
		have[h] = struct{}{}
	}
	var missing []string
	for _, c := range want {
		if _, ok := have[c]; !ok {
			have[c] = struct{}{}
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 {
		return header, nil
	}
	out := make([]string, 0, len(header)+len(missing))
	out = append(out, header...)
	out = append(out, missing...)
	return out, missing
}

// alignRow lays values out under header, padding columns the record does
// not carry with empty values, and checks the result against the header.
func alignRow(header []string, values map[string]string) ([]string, error) {
	row := make([]string, 0, len(header))
	for _, h := range header {
		row = append(row, values[h])
	}
	if len(row) != len(header) {
		return nil, eris.Wrapf(ErrRowShape, "row has %d values for %d header columns", len(row), len(header))
	}
	for k := range values {
		if !slices.Contains(header, k) {
			return nil, eris.Wrapf(ErrRowShape, "column %q is not in the remote header", k)
		}
	}
	return row, nil
}
