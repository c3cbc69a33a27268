package sink

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-enrich/internal/model"
)

// keySep joins nested object keys into a flat column name.
const keySep = "_"

// opaqueKeys are emitted as a single JSON string column rather than being
// flattened.
var opaqueKeys = map[string]bool{
	"raw_deal_data": true,
}

// FlatRecord is an enriched deal flattened to column/value pairs. Keys keep
// the JSON document order of model.EnrichedDeal.
type FlatRecord struct {
	Keys   []string
	Values map[string]string
}

// Flatten converts an enriched deal into a flat record. Nested objects are
// joined with "_", lists become JSON strings, null scalars become empty
// values and null objects contribute no columns.
func Flatten(ed *model.EnrichedDeal) (*FlatRecord, error) {
	data, err := json.Marshal(ed)
	if err != nil {
		return nil, eris.Wrap(err, "sink: marshal enriched deal")
	}
	rec := &FlatRecord{Values: make(map[string]string)}
	if err := flattenObject(rec, "", data); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *FlatRecord) set(key, value string) {
	if _, ok := r.Values[key]; !ok {
		r.Keys = append(r.Keys, key)
	}
	r.Values[key] = value
}

// flattenObject walks a JSON object with a token decoder so key order is
// preserved.
func flattenObject(rec *FlatRecord, prefix string, data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return eris.Wrap(err, "sink: flatten")
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return eris.Errorf("sink: flatten %q: expected object", prefix)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return eris.Wrap(err, "sink: flatten key")
		}
		name, _ := tok.(string)
		key := name
		if prefix != "" {
			key = prefix + keySep + name
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return eris.Wrapf(err, "sink: flatten %s", key)
		}
		if err := flattenValue(rec, key, raw); err != nil {
			return err
		}
	}
	return nil
}

func flattenValue(rec *FlatRecord, key string, raw json.RawMessage) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		rec.set(key, "")
		return nil
	}

	switch {
	case opaqueKeys[key]:
		rec.set(key, compactJSON(raw))
	case raw[0] == '{':
		return flattenObject(rec, key, raw)
	case raw[0] == '[':
		rec.set(key, compactJSON(raw))
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return eris.Wrapf(err, "sink: flatten %s", key)
		}
		rec.set(key, s)
	case bytes.Equal(raw, []byte("null")):
		if _, ok := objectKeys[key]; ok {
			return nil
		}
		rec.set(key, "")
	default:
		// numbers and booleans keep their JSON text
		rec.set(key, string(raw))
	}
	return nil
}

// objectKeys are nullable sub-results. When absent they add no columns, so
// the schema never holds a bare "safety" column beside "safety_*".
var objectKeys = map[string]struct{}{
	"taxonomy":       {},
	"safety":         {},
	"audience":       {},
	"commercial":     {},
	"volume_metrics": {},
}

func compactJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return buf.String()
}
