package sink

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestTSV_HeaderGrowsRowsUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deals.tsv")
	tf, schema, err := OpenTSV(path)
	require.NoError(t, err)
	assert.Zero(t, schema.Len())

	s1 := NewSchemaState("deal_id", "name")
	require.NoError(t, tf.Append(s1, []string{"A", "first"}))

	s2, _ := s1.Grow([]string{"tier1"})
	require.NoError(t, tf.Append(s2, []string{"B", "second", "Sports"}))

	assert.Equal(t, []string{
		"deal_id\tname\ttier1",
		"A\tfirst",
		"B\tsecond\tSports",
	}, readLines(t, path))
	assert.Equal(t, s2.Columns(), tf.Header())
}

func TestTSV_ReopenRecoversSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deals.tsv")
	tf, _, err := OpenTSV(path)
	require.NoError(t, err)
	require.NoError(t, tf.Append(NewSchemaState("deal_id", "name"), []string{"A", "x"}))

	_, schema, err := OpenTSV(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"deal_id", "name"}, schema.Columns())
}

func TestTSV_QuotedValuesSurviveHeaderRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deals.tsv")
	tf, _, err := OpenTSV(path)
	require.NoError(t, err)

	s1 := NewSchemaState("deal_id", "description")
	require.NoError(t, tf.Append(s1, []string{"A", "line one\nline\ttwo"}))
	before, err := os.ReadFile(path)
	require.NoError(t, err)
	firstRow := string(before[strings.Index(string(before), "\n")+1:])

	s2, _ := s1.Grow([]string{"extra"})
	require.NoError(t, tf.Append(s2, []string{"B", "", "y"}))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(after), "deal_id\tdescription\textra\n"+firstRow))
}

func TestTSV_RowShapeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deals.tsv")
	tf, _, err := OpenTSV(path)
	require.NoError(t, err)

	err = tf.Append(NewSchemaState("deal_id", "name"), []string{"A"})
	assert.ErrorIs(t, err, ErrRowShape)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "nothing is written")
}
