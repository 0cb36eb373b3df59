// Package cql holds the value-level vocabulary shared by the schema layer and
// the statement compilers: ordered documents, database function markers, the
// unset marker and identifier quoting.
package cql

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	gocql "github.com/apache/cassandra-gocql-driver/v2"
)

// E is a single document entry.
type E struct {
	Key   string
	Value any
}

// M is an ordered document. Query, update and condition documents are
// expressed as M so that relation order follows input order.
//
//	cql.M{{"id", id}, {"age", cql.M{{"$gte", 21}}}}
type M []E

// Func marks a value as a database function call. It is emitted verbatim and
// never bound, e.g. cql.Func("now()").
type Func string

// Unset leaves a bound column untouched on write.
var Unset any = gocql.UnsetValue

// IsUnset reports whether v is the unset marker.
func IsUnset(v any) bool {
	return v == Unset
}

// IsNull reports whether v is nil or the unset marker.
func IsNull(v any) bool {
	return v == nil || IsUnset(v)
}

// Get returns the value stored under key.
func (m M) Get(key string) (any, bool) {
	for _, e := range m {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Has reports whether key is present.
func (m M) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Keys returns the document keys in order.
func (m M) Keys() []string {
	keys := make([]string, len(m))
	for i, e := range m {
		keys[i] = e.Key
	}
	return keys
}

// Set replaces the value under key or appends a new entry.
func (m M) Set(key string, value any) M {
	for i := range m {
		if m[i].Key == key {
			m[i].Value = value
			return m
		}
	}
	return append(m, E{Key: key, Value: value})
}

// Map flattens the document into an unordered map.
func (m M) Map() map[string]any {
	out := make(map[string]any, len(m))
	for _, e := range m {
		out[e.Key] = e.Value
	}
	return out
}

// AsDoc returns v as an ordered document when v is document shaped.
// Plain maps are ordered by key so that compilation stays deterministic.
func AsDoc(v any) (M, bool) {
	switch d := v.(type) {
	case M:
		return d, true
	case map[string]any:
		keys := make([]string, 0, len(d))
		for k := range d {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(M, 0, len(keys))
		for _, k := range keys {
			out = append(out, E{Key: k, Value: d[k]})
		}
		return out, true
	case map[string]string:
		keys := make([]string, 0, len(d))
		for k := range d {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(M, 0, len(keys))
		for _, k := range keys {
			out = append(out, E{Key: k, Value: d[k]})
		}
		return out, true
	}
	return nil, false
}

// Quote quotes a CQL identifier.
func Quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteAll quotes every identifier in names.
func QuoteAll(names []string) []string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = Quote(name)
	}
	return quoted
}

// EscapeString doubles single quotes for use inside a CQL string literal.
func EscapeString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// MarshalJSON encodes the document as a JSON object preserving key order.
func (m M) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(e.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %q: %w", e.Key, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping key order. Nested objects
// become M, arrays become []any and integral numbers become int64.
// An object of the form {"$db_function": "now()"} decodes to Func.
func (m *M) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("cql: document must be a JSON object")
	}
	doc, err := decodeObject(dec)
	if err != nil {
		return err
	}
	*m = doc
	return nil
}

func decodeObject(dec *json.Decoder) (M, error) {
	doc := M{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("cql: unexpected object key %v", tok)
		}
		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		doc = append(doc, E{Key: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return doc, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj, err := decodeObject(dec)
			if err != nil {
				return nil, err
			}
			if len(obj) == 1 && obj[0].Key == "$db_function" {
				if fn, ok := obj[0].Value.(string); ok {
					return Func(fn), nil
				}
			}
			return obj, nil
		case '[':
			arr := []any{}
			for dec.More() {
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		}
		return nil, fmt.Errorf("cql: unexpected delimiter %v", t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		return t.Float64()
	default:
		return t, nil
	}
}
