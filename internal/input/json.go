package input

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/rotisserie/eris"
)

// record is one feed entry with normalized keys.
type record map[string]any

// readJSONArray streams a top-level JSON array of objects. A top-level
// object with a "deals" array is accepted too.
func readJSONArray(ctx context.Context, path string) ([]record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "input: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	dec := json.NewDecoder(bufio.NewReader(f))
	dec.UseNumber()

	tok, err := dec.Token()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "input: json: read opening token")
	}
	switch tok {
	case json.Delim('['):
	case json.Delim('{'):
		if err := seekDealsArray(dec); err != nil {
			return nil, err
		}
	default:
		return nil, eris.Errorf("input: json: expected '[' or '{', got %v", tok)
	}

	var out []record
	for dec.More() {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "input: json: context cancelled")
		}
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			return nil, eris.Wrapf(err, "input: json: decode element %d", len(out)+1)
		}
		out = append(out, normalizeKeys(m))
	}
	if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
		return nil, eris.Wrap(err, "input: json: read closing token")
	}
	return out, nil
}

// seekDealsArray advances dec, positioned inside an object, to the start of
// its "deals" array.
func seekDealsArray(dec *json.Decoder) error {
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return eris.Wrap(err, "input: json: read key")
		}
		if key, _ := keyTok.(string); key == "deals" {
			tok, err := dec.Token()
			if err != nil {
				return eris.Wrap(err, "input: json: read deals")
			}
			if tok != json.Delim('[') {
				return eris.New("input: json: \"deals\" is not an array")
			}
			return nil
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return eris.Wrap(err, "input: json: skip value")
		}
	}
	return eris.New("input: json: object has no \"deals\" array")
}

// readJSONLines reads one JSON object per line. Blank lines are skipped.
func readJSONLines(ctx context.Context, path string) ([]record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "input: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := bufio.NewReader(f)
	var out []record
	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "input: jsonl: context cancelled")
		}
		raw, readErr := r.ReadBytes('\n')
		if len(bytes.TrimSpace(raw)) > 0 {
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.UseNumber()
			var m map[string]any
			if err := dec.Decode(&m); err != nil {
				return nil, eris.Wrapf(err, "input: jsonl: line %d", line)
			}
			out = append(out, normalizeKeys(m))
		}
		if errors.Is(readErr, io.EOF) {
			return out, nil
		}
		if readErr != nil {
			return nil, eris.Wrapf(readErr, "input: jsonl: read line %d", line)
		}
	}
}
