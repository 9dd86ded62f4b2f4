package sqlbridge

import (
	"bytes"
	"encoding/json"
)

// Record is one result row: column names in result-set order, each
// mapped to a Value. When a result set repeats a column name the later
// column wins but keeps the first position.
type Record struct {
	names  []string
	values []Value
	index  map[string]int
}

// NewRecord returns an empty record with room for n columns.
func NewRecord(n int) Record {
	return Record{
		names:  make([]string, 0, n),
		values: make([]Value, 0, n),
		index:  make(map[string]int, n),
	}
}

// Set stores v under name, appending the column if it is new.
func (r *Record) Set(name string, v Value) {
	if r.index == nil {
		r.index = make(map[string]int)
	}
	if i, ok := r.index[name]; ok {
		r.values[i] = v
		return
	}
	r.index[name] = len(r.names)
	r.names = append(r.names, name)
	r.values = append(r.values, v)
}

// Get returns the value of a column and whether the column exists.
// A NULL column exists and yields Null.
func (r Record) Get(name string) (Value, bool) {
	i, ok := r.index[name]
	if !ok {
		return Null, false
	}
	return r.values[i], true
}

// Columns returns the column names in order.
func (r Record) Columns() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

func (r Record) Len() int { return len(r.names) }

// MarshalJSON writes the record as a JSON object, keeping column order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range r.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		val, err := r.values[i].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
