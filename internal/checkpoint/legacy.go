package checkpoint

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-enrich/internal/model"
)

// legacyFile is the JSON checkpoint format written by earlier tooling.
type legacyFile struct {
	ProcessedDealIDs []string `json:"processed_deal_ids"`
	SourceFile       string   `json:"source_file"`
	LastUpdated      string   `json:"last_updated"`
	Count            *int     `json:"count"`
}

// ReadLegacyFile parses a legacy JSON checkpoint into entries for source.
// Entries are stamped with the file's last_updated time when it parses.
func ReadLegacyFile(path, source string) ([]model.CheckpointEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "checkpoint: read legacy file %s", path)
	}

	var lf legacyFile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, eris.Wrapf(ErrCorrupt, "checkpoint: parse legacy file %s: %v", path, err)
	}
	if lf.ProcessedDealIDs == nil {
		return nil, eris.Wrapf(ErrCorrupt, "checkpoint: legacy file %s has no processed_deal_ids", path)
	}
	if lf.Count != nil && *lf.Count != len(lf.ProcessedDealIDs) {
		return nil, eris.Wrapf(ErrCorrupt, "checkpoint: legacy file %s: count %d does not match %d ids",
			path, *lf.Count, len(lf.ProcessedDealIDs))
	}

	var at time.Time
	if lf.LastUpdated != "" {
		if t, err := time.Parse("2006-01-02T15:04:05.999999", lf.LastUpdated); err == nil {
			at = t.UTC()
		} else if t, err := time.Parse(time.RFC3339Nano, lf.LastUpdated); err == nil {
			at = t.UTC()
		}
	}

	entries := make([]model.CheckpointEntry, 0, len(lf.ProcessedDealIDs))
	seen := make(map[string]struct{}, len(lf.ProcessedDealIDs))
	for i, id := range lf.ProcessedDealIDs {
		if !model.ValidDealID(id) {
			return nil, eris.Wrapf(ErrCorrupt, "checkpoint: legacy file %s: blank id at index %d", path, i)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		entries = append(entries, model.CheckpointEntry{DealID: id, Source: source, CompletedAt: at})
	}
	return entries, nil
}
