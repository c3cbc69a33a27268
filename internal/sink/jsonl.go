package sink

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-enrich/internal/model"
)

// JSONLog is the append-only structured log. Every record is one JSON line,
// flushed to disk before Append returns. Existing lines are never rewritten.
type JSONLog struct {
	path string
	f    *os.File
}

// OpenJSONLog opens (or creates) the log at path for appending.
func OpenJSONLog(path string) (*JSONLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrapf(err, "sink: create dir for %s", path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "sink: open jsonl %s", path)
	}
	return &JSONLog{path: path, f: f}, nil
}

// Path returns the log file path.
func (l *JSONLog) Path() string { return l.path }

// Append writes ed as a single line and fsyncs the file.
func (l *JSONLog) Append(ed *model.EnrichedDeal) error {
	line, err := json.Marshal(ed)
	if err != nil {
		return eris.Wrapf(err, "sink: marshal %s", ed.DealID)
	}
	line = append(line, '\n')
	if _, err := l.f.Write(line); err != nil {
		return eris.Wrapf(err, "sink: append jsonl %s", ed.DealID)
	}
	return eris.Wrapf(l.f.Sync(), "sink: sync jsonl %s", l.path)
}

// Close closes the underlying file.
func (l *JSONLog) Close() error {
	return l.f.Close()
}
