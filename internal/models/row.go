package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Field is one column value of a result row.
type Field struct {
	Column string
	Value  any
}

// Row is a single result row. Column order follows the database result and is
// preserved when the row is encoded as a JSON object.
type Row []Field

// Get returns the value stored under column.
func (r Row) Get(column string) (any, bool) {
	for _, f := range r {
		if f.Column == column {
			return f.Value, true
		}
	}
	return nil, false
}

// Columns returns the column names in result order.
func (r Row) Columns() []string {
	out := make([]string, len(r))
	for i, f := range r {
		out[i] = f.Column
	}
	return out
}

func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Column)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping its key order.
func (r *Row) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*r = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("row: expected object, got %v", tok)
	}

	var out Row
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		col, _ := tok.(string)
		var v any
		if err := dec.Decode(&v); err != nil {
			return err
		}
		out = append(out, Field{Column: col, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*r = out
	return nil
}

// RowsFromMaps builds rows from column/value pairs, in the given column order.
func RowsFromMaps(columns []string, values [][]any) []Row {
	out := make([]Row, 0, len(values))
	for _, vals := range values {
		row := make(Row, 0, len(columns))
		for i, col := range columns {
			var v any
			if i < len(vals) {
				v = vals[i]
			}
			row = append(row, Field{Column: col, Value: v})
		}
		out = append(out, row)
	}
	return out
}
