package sink

import "slices"

// SchemaState is the ordered column list shared by the flat file and the
// remote table. It is a value: Grow returns a new state and never mutates
// the receiver. Columns are only ever appended.
type SchemaState struct {
	cols []string
}

// NewSchemaState builds a state from an existing header, dropping
// duplicates and blank names.
func NewSchemaState(cols ...string) SchemaState {
	s, _ := SchemaState{}.Grow(cols)
	return s
}

// Columns returns a copy of the column list.
func (s SchemaState) Columns() []string {
	return slices.Clone(s.cols)
}

// Len returns the number of columns.
func (s SchemaState) Len() int { return len(s.cols) }

// Has reports whether col is in the schema.
func (s SchemaState) Has(col string) bool {
	return slices.Contains(s.cols, col)
}

// Grow appends the keys not yet in the schema, in the order given, and
// reports which were added.
func (s SchemaState) Grow(keys []string) (SchemaState, []string) {
	seen := make(map[string]struct{}, len(s.cols)+len(keys))
	for _, c := range s.cols {
		seen[c] = struct{}{}
	}

	var added []string
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		added = append(added, k)
	}
	if len(added) == 0 {
		return s, nil
	}

	cols := make([]string, 0, len(s.cols)+len(added))
	cols = append(cols, s.cols...)
	cols = append(cols, added...)
	return SchemaState{cols: cols}, added
}

// Row lays out values in schema order; columns without a value are empty.
func (s SchemaState) Row(values map[string]string) []string {
	row := make([]string, len(s.cols))
	for i, c := range s.cols {
		row[i] = values[c]
	}
	return row
}
