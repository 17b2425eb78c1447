package model

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/valyala/fastjson"
)

// Metadata is an ordered mapping of keys to raw JSON values.
// Insertion order is preserved through parsing and serialization so that
// order-sensitive consumers (the template engine) behave deterministically.
type Metadata struct {
	keys   []string
	values map[string]json.RawMessage
}

// ParseMetadata parses a JSON object into Metadata, keeping key order.
// Empty input and JSON null yield empty Metadata.
func ParseMetadata(data []byte) (Metadata, error) {
	var md Metadata
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return md, nil
	}

	var p fastjson.Parser
	v, err := p.ParseBytes(trimmed)
	if err != nil {
		return md, fmt.Errorf("parsing metadata: %w", err)
	}
	return MetadataFromValue(v)
}

// MetadataFromValue converts an already parsed JSON object.
func MetadataFromValue(v *fastjson.Value) (Metadata, error) {
	var md Metadata
	if v == nil || v.Type() == fastjson.TypeNull {
		return md, nil
	}
	obj, err := v.Object()
	if err != nil {
		return md, fmt.Errorf("metadata must be a JSON object: %w", err)
	}
	obj.Visit(func(key []byte, val *fastjson.Value) {
		md.SetRaw(string(key), val.MarshalTo(nil))
	})
	return md, nil
}

// Set stores value under key, marshaling it to JSON.
func (m *Metadata) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("metadata %q: %w", key, err)
	}
	m.SetRaw(key, raw)
	return nil
}

// SetRaw stores an already encoded JSON value under key. Re-setting an
// existing key keeps its original position.
func (m *Metadata) SetRaw(key string, raw json.RawMessage) {
	if m.values == nil {
		m.values = make(map[string]json.RawMessage)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = raw
}

// Get returns the raw JSON value for key.
func (m Metadata) Get(key string) (json.RawMessage, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (m Metadata) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of keys.
func (m Metadata) Len() int { return len(m.keys) }

// IsZero reports whether m has no keys.
func (m Metadata) IsZero() bool { return len(m.keys) == 0 }

// StringValue returns the textual form of the value stored under key:
// the unquoted text for JSON strings, the JSON literal for numbers and
// booleans. Null, object and array values report false.
func (m Metadata) StringValue(key string) (string, bool) {
	raw, ok := m.values[key]
	if !ok {
		return "", false
	}
	v, err := fastjson.ParseBytes(raw)
	if err != nil {
		return "", false
	}
	switch v.Type() {
	case fastjson.TypeString:
		return string(v.GetStringBytes()), true
	case fastjson.TypeNumber, fastjson.TypeTrue, fastjson.TypeFalse:
		return string(raw), true
	default:
		return "", false
	}
}

// MarshalJSON writes the object with keys in insertion order.
func (m Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		raw := m.values[k]
		if len(raw) == 0 {
			raw = json.RawMessage("null")
		}
		buf.Write(raw)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	md, err := ParseMetadata(data)
	if err != nil {
		return err
	}
	*m = md
	return nil
}

// MarshalYAML renders the decoded values. YAML output does not keep key order.
func (m Metadata) MarshalYAML() (any, error) {
	out := make(map[string]any, len(m.keys))
	for _, k := range m.keys {
		var v any
		if err := json.Unmarshal(m.values[k], &v); err != nil {
			return nil, fmt.Errorf("metadata %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}
