package sink

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// TSVFile is the flat tabular file. Rows are appended; when the schema grows
// only the header line is rewritten and existing data rows are copied
// through byte for byte. Readers treat missing trailing values as null.
type TSVFile struct {
	path   string
	header []string
}

// OpenTSV opens the flat file at path. When the file already exists its
// header is returned as the starting schema.
func OpenTSV(path string) (*TSVFile, SchemaState, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, SchemaState{}, eris.Wrapf(err, "sink: create dir for %s", path)
	}
	t := &TSVFile{path: path}

	header, err := readTSVHeader(path)
	if err != nil {
		return nil, SchemaState{}, err
	}
	t.header = header
	if len(header) > 0 {
		zap.L().Info("sink: resuming tsv",
			zap.String("path", path),
			zap.Int("columns", len(header)),
		)
	}
	return t, NewSchemaState(header...), nil
}

func readTSVHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sink: open tsv %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := newTSVReader(f)
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sink: read tsv header %s", path)
	}
	return header, nil
}

func newTSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}

func encodeTSVLine(fields []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = '\t'
	if err := w.Write(fields); err != nil {
		return nil, err
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// Path returns the file path.
func (t *TSVFile) Path() string { return t.path }

// Header returns the header currently on disk.
func (t *TSVFile) Header() []string { return append([]string(nil), t.header...) }

// Append writes row under schema. If schema has more columns than the
// header on disk, the header line is rewritten first.
func (t *TSVFile) Append(schema SchemaState, row []string) error {
	if len(row) != schema.Len() {
		return eris.Wrapf(ErrRowShape, "tsv row has %d values for %d columns", len(row), schema.Len())
	}
	if schema.Len() > len(t.header) {
		if err := t.rewriteHeader(schema.Columns()); err != nil {
			return err
		}
	}

	line, err := encodeTSVLine(row)
	if err != nil {
		return eris.Wrap(err, "sink: encode tsv row")
	}
	f, err := os.OpenFile(t.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return eris.Wrapf(err, "sink: open tsv %s", t.path)
	}
	if _, err := f.Write(line); err != nil {
		f.Close() //nolint:errcheck
		return eris.Wrapf(err, "sink: append tsv %s", t.path)
	}
	if err := f.Sync(); err != nil {
		f.Close() //nolint:errcheck
		return eris.Wrapf(err, "sink: sync tsv %s", t.path)
	}
	return eris.Wrap(f.Close(), "sink: close tsv")
}

// rewriteHeader writes header followed by the existing data rows to a temp
// file and renames it over the original.
func (t *TSVFile) rewriteHeader(header []string) error {
	line, err := encodeTSVLine(header)
	if err != nil {
		return eris.Wrap(err, "sink: encode tsv header")
	}

	tmp, err := os.CreateTemp(filepath.Dir(t.path), filepath.Base(t.path)+".tmp-*")
	if err != nil {
		return eris.Wrap(err, "sink: create temp tsv")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(line); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "sink: write tsv header")
	}
	if err := copyDataRows(tmp, t.path); err != nil {
		tmp.Close() //nolint:errcheck
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "sink: sync temp tsv")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "sink: close temp tsv")
	}
	if err := os.Rename(tmp.Name(), t.path); err != nil {
		return eris.Wrapf(err, "sink: replace %s", t.path)
	}

	zap.L().Debug("sink: tsv header grown",
		zap.Int("from", len(t.header)),
		zap.Int("to", len(header)),
	)
	t.header = header
	return nil
}

// copyDataRows copies everything after the first record of src into dst.
// The header may contain quoted newlines, so its end is found with the csv
// reader rather than by scanning for '\n'.
func copyDataRows(dst io.Writer, src string) error {
	data, err := os.ReadFile(src)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "sink: read tsv %s", src)
	}
	if len(data) == 0 {
		return nil
	}

	r := newTSVReader(bytes.NewReader(data))
	if _, err := r.Read(); err != nil && !errors.Is(err, io.EOF) {
		return eris.Wrapf(err, "sink: parse tsv header %s", src)
	}
	offset := r.InputOffset()

	w := bufio.NewWriter(dst)
	if _, err := w.Write(data[offset:]); err != nil {
		return eris.Wrap(err, "sink: copy tsv rows")
	}
	return eris.Wrap(w.Flush(), "sink: flush tsv rows")
}
