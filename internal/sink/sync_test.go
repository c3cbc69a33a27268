package sink

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncTSV_UpsertsEveryRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deals.tsv")
	require.NoError(t, os.WriteFile(path, []byte(
		"deal_id\tname\ttier1\n"+
			"A\tfirst\n"+
			"\tno key\tx\n"+
			"B\tsecond\tSports\n"+
			"A\tfirst again\tNews\n"), 0o644))

	table := &fakeTable{}
	stats, err := SyncTSV(context.Background(), path, NewRemoteSink(table))
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Rows: 3, Skipped: 1}, stats)

	assert.Len(t, table.rows, 2)
	assert.Equal(t, "News", table.row("A")["tier1"])
	assert.Equal(t, "first again", table.row("A")["name"])
}

func TestSyncTSV_RequiresKeyColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deals.tsv")
	require.NoError(t, os.WriteFile(path, []byte("name\nfoo\n"), 0o644))

	_, err := SyncTSV(context.Background(), path, NewRemoteSink(&fakeTable{}))
	assert.Error(t, err)
}

func TestSyncTSV_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deals.tsv")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	stats, err := SyncTSV(context.Background(), path, NewRemoteSink(&fakeTable{}))
	require.NoError(t, err)
	assert.Zero(t, stats.Rows)
}
