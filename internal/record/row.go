// Package record defines the ordered row type that flows through the bulk
// pipeline. Field order matters for CSV output and for round-tripping rows
// through the remote service, so rows are kept as ordered field lists rather
// than maps.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Field is a single named value within a Row.
type Field struct {
	Name  string
	Value any
}

// Row is an ordered set of fields. Field names are unique within a row.
//
// Methods that change a row return a new Row and never modify the receiver,
// so rows can be shared freely between batches.
type Row []Field

// FromMap builds a row from a map using the given key order. Keys that are
// not present in m are skipped.
func FromMap(m map[string]any, keys ...string) Row {
	row := make(Row, 0, len(keys))
	for _, k := range keys {
		if v, ok := m[k]; ok {
			row = append(row, Field{Name: k, Value: v})
		}
	}
	return row
}

// Get returns the value stored under name.
func (r Row) Get(name string) (any, bool) {
	if i := r.index(name); i >= 0 {
		return r[i].Value, true
	}
	return nil, false
}

// String returns the value under name formatted as text. Missing fields
// and nil values yield "".
func (r Row) String(name string) string {
	v, _ := r.Get(name)
	return FormatValue(v)
}

// Has reports whether the row contains a field named name.
func (r Row) Has(name string) bool {
	return r.index(name) >= 0
}

// Keys returns the field names in order.
func (r Row) Keys() []string {
	keys := make([]string, len(r))
	for i, f := range r {
		keys[i] = f.Name
	}
	return keys
}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// With returns a copy of the row with name set to value. An existing field
// keeps its position; a new field is appended.
func (r Row) With(name string, value any) Row {
	out := r.Clone()
	if i := out.index(name); i >= 0 {
		out[i].Value = value
		return out
	}
	return append(out, Field{Name: name, Value: value})
}

// Without returns a copy of the row with name removed.
func (r Row) Without(name string) Row {
	i := r.index(name)
	if i < 0 {
		return r.Clone()
	}
	out := make(Row, 0, len(r)-1)
	out = append(out, r[:i]...)
	return append(out, r[i+1:]...)
}

// Renamed returns a copy of the row where field from is called to. The field
// keeps its position and value. If to already exists it is dropped first.
func (r Row) Renamed(from, to string) Row {
	if from == to || !r.Has(from) {
		return r.Clone()
	}
	out := r.Without(to)
	out[out.index(from)].Name = to
	return out
}

// Map returns the row as an unordered map.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r))
	for _, f := range r {
		m[f.Name] = f.Value
	}
	return m
}

func (r Row) index(name string) int {
	for i, f := range r {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// MarshalJSON encodes the row as a JSON object with fields in row order.
func (r Row) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("{}"), nil
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("encode field %q: %w", f.Name, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping the document's key order.
// Numbers are kept as json.Number so large ids survive the round trip.
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*r = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("record: expected JSON object, got %v", tok)
	}

	row := Row{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("record: expected object key, got %v", keyTok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("record: decode field %q: %w", key, err)
		}
		row = row.With(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*r = row
	return nil
}

// FormatValue renders a field value the way it appears in CSV output.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}

// Columns returns the union of field names across rows in first-seen order.
func Columns(rows []Row) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, row := range rows {
		for _, f := range row {
			if !seen[f.Name] {
				seen[f.Name] = true
				cols = append(cols, f.Name)
			}
		}
	}
	return cols
}
