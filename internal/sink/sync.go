package sink

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// SyncStats counts the outcome of a TSV to remote sync.
type SyncStats struct {
	Rows    int
	Skipped int
}

// SyncTSV upserts every data row of the flat file at path into remote.
// Rows are keyed by deal_id, so rows already present remotely are updated
// in place. Later rows for the same deal_id overwrite earlier ones.
func SyncTSV(ctx context.Context, path string, remote *RemoteSink) (SyncStats, error) {
	var stats SyncStats

	f, err := os.Open(path)
	if err != nil {
		return stats, eris.Wrapf(err, "sink: open tsv %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := newTSVReader(f)
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return stats, nil
	}
	if err != nil {
		return stats, eris.Wrapf(err, "sink: read tsv header %s", path)
	}
	schema := NewSchemaState(header...)
	if !schema.Has(KeyColumn) {
		return stats, eris.Errorf("sink: tsv %s has no %s column", path, KeyColumn)
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, eris.Wrapf(err, "sink: read tsv row %d", stats.Rows+stats.Skipped+2)
		}

		rec := &FlatRecord{Values: make(map[string]string, len(header))}
		for i, col := range header {
			if i < len(fields) {
				rec.set(col, fields[i])
			}
		}
		if strings.TrimSpace(rec.Values[KeyColumn]) == "" {
			stats.Skipped++
			continue
		}
		if err := remote.Upsert(ctx, schema, rec); err != nil {
			return stats, err
		}
		stats.Rows++
		if stats.Rows%100 == 0 {
			zap.L().Info("sink: sync progress", zap.Int("rows", stats.Rows))
		}
	}
	return stats, nil
}
