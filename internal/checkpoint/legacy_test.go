package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLegacy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestReadLegacyFile(t *testing.T) {
	path := writeLegacy(t, `{
		"processed_deal_ids": ["A", "B", "A"],
		"source_file": "ttd_deals.json",
		"last_updated": "2025-06-01T10:30:00.123456",
		"count": 3
	}`)

	entries, err := ReadLegacyFile(path, "ttd")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "A", entries[0].DealID)
	assert.Equal(t, "ttd", entries[1].Source)
	assert.Equal(t, time.Date(2025, 6, 1, 10, 30, 0, 123456000, time.UTC), entries[0].CompletedAt)
}

func TestReadLegacyFile_Corrupt(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{"processed_deal_ids": [`},
		{"missing ids", `{"source_file": "x"}`},
		{"count mismatch", `{"processed_deal_ids": ["A"], "count": 2}`},
		{"blank id", `{"processed_deal_ids": ["A", ""]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadLegacyFile(writeLegacy(t, tt.body), "ttd")
			assert.True(t, errors.Is(err, ErrCorrupt), "got %v", err)
		})
	}
}

func TestReadLegacyFile_Missing(t *testing.T) {
	_, err := ReadLegacyFile(filepath.Join(t.TempDir(), "nope.json"), "ttd")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrCorrupt))
}
