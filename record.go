package soar

import (
	"encoding/json"
	"maps"
	"math"
	"slices"
	"strconv"
)

// Fields is a raw set of SOAR field values keyed by REST field name.
type Fields map[string]any

// Record is an open mapping of field name to value. Every SOAR object is
// backed by one so that fields a deployment adds round-trip untouched.
// The zero Record is empty and ready to use.
type Record struct {
	fields map[string]any
}

func newRecord(fields Fields) Record {
	r := Record{fields: make(map[string]any, len(fields))}
	for k, v := range fields {
		r.fields[k] = v
	}
	return r
}

// Get returns the raw value stored under key, or nil.
func (r *Record) Get(key string) any {
	return r.fields[key]
}

// Has reports whether key holds a non-nil value.
func (r *Record) Has(key string) bool {
	v, ok := r.fields[key]
	return ok && v != nil
}

// Set stores value under key.
func (r *Record) Set(key string, value any) {
	if r.fields == nil {
		r.fields = make(map[string]any)
	}
	r.fields[key] = value
}

// Delete removes key.
func (r *Record) Delete(key string) {
	delete(r.fields, key)
}

// Keys returns the field names in sorted order.
func (r *Record) Keys() []string {
	return slices.Sorted(maps.Keys(r.fields))
}

// Fields returns a shallow copy of the underlying map.
func (r *Record) Fields() Fields {
	return maps.Clone(Fields(r.fields))
}

// Merge overlays a server payload. Payload values win on conflict, keys the
// payload does not carry are kept, and null payload values never erase a
// local value.
func (r *Record) Merge(payload map[string]any) {
	for k, v := range payload {
		if v == nil {
			if _, ok := r.fields[k]; ok {
				continue
			}
		}
		r.Set(k, v)
	}
}

// GetString returns the field as a string, or "" when absent or not a string.
func (r *Record) GetString(key string) string {
	switch v := r.fields[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// GetInt returns the field as an integer. Numbers decoded from JSON arrive as
// float64; numeric strings are accepted too.
func (r *Record) GetInt(key string) (int64, bool) {
	return toInt(r.fields[key])
}

// GetBool returns the field as a bool, false when absent.
func (r *Record) GetBool(key string) bool {
	b, _ := r.fields[key].(bool)
	return b
}

// GetMap returns a nested object field, or nil.
func (r *Record) GetMap(key string) map[string]any {
	m, _ := r.fields[key].(map[string]any)
	return m
}

// GetList returns a nested array field, or nil.
func (r *Record) GetList(key string) []any {
	l, _ := r.fields[key].([]any)
	return l
}

// GetStrings returns an array field of strings, skipping other element types.
func (r *Record) GetStrings(key string) []string {
	switch v := r.fields[key].(type) {
	case []string:
		return slices.Clone(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// ID returns the server identifier; zero means the object is local-only.
func (r *Record) ID() int64 {
	id, _ := r.GetInt("id")
	return id
}

// HasID reports whether the object is remote-backed.
func (r *Record) HasID() bool {
	return r.ID() != 0
}

// SetID stores the server identifier.
func (r *Record) SetID(id int64) {
	r.Set("id", id)
}

// Name returns the "name" field.
func (r *Record) Name() string {
	return r.GetString("name")
}

// Label returns the "label" field.
func (r *Record) Label() string {
	return r.GetString("label")
}

// Status returns the "status" field.
func (r *Record) Status() string {
	return r.GetString("status")
}

// MarshalJSON implements json.Marshaler.
func (r Record) MarshalJSON() ([]byte, error) {
	if r.fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r.fields)
}

// UnmarshalJSON implements json.Unmarshaler, replacing all fields.
func (r *Record) UnmarshalJSON(data []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	r.fields = fields
	return nil
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}
