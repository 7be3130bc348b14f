// Package vars provides the typed variable model and the layered variable
// context used for template rendering during a stack run.
//
// Values form a closed union (string, number, bool, list, mapping, null) so
// that rendering behavior is total: every variant has an explicit SQL-text
// representation. Mappings preserve declaration order, which keeps rendered
// JSON deterministic across runs.
package vars

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind identifies the variant held by a Value.
type Kind string

const (
	KindNull   Kind = "null"
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
	KindList   Kind = "list"
	KindMap    Kind = "map"
)

// MapEntry is a single key/value pair in an ordered mapping.
type MapEntry struct {
	Key   string
	Value Value
}

// Value is an immutable variable value.
type Value struct {
	kind    Kind
	str     string
	num     float64
	boolean bool
	list    []Value
	mapping []MapEntry
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// NewString returns a string value.
func NewString(s string) Value { return Value{kind: KindString, str: s} }

// NewNumber returns a numeric value.
func NewNumber(n float64) Value { return Value{kind: KindNumber, num: n} }

// NewBool returns a boolean value.
func NewBool(b bool) Value { return Value{kind: KindBool, boolean: b} }

// NewList returns a list value.
func NewList(items ...Value) Value { return Value{kind: KindList, list: items} }

// NewMap returns an ordered mapping value.
func NewMap(entries ...MapEntry) Value { return Value{kind: KindMap, mapping: entries} }

// Kind returns the variant of the value.
func (v Value) Kind() Kind {
	if v.kind == "" {
		return KindNull
	}
	return v.kind
}

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.Kind() == KindNull }

// AsString returns the string payload. Valid only for KindString.
func (v Value) AsString() string { return v.str }

// Index looks up a key in a mapping value.
func (v Value) Index(key string) (Value, bool) {
	if v.Kind() != KindMap {
		return Null(), false
	}
	for _, e := range v.mapping {
		if e.Key == key {
			return e.Value, true
		}
	}
	return Null(), false
}

// Keys returns the keys of a mapping value in declaration order.
func (v Value) Keys() []string {
	if v.Kind() != KindMap {
		return nil
	}
	keys := make([]string, len(v.mapping))
	for i, e := range v.mapping {
		keys[i] = e.Key
	}
	return keys
}

// At returns the i-th element of a list value.
func (v Value) At(i int) (Value, bool) {
	if v.Kind() != KindList || i < 0 || i >= len(v.list) {
		return Null(), false
	}
	return v.list[i], true
}

// Len returns the number of elements in a list or mapping, zero otherwise.
func (v Value) Len() int {
	switch v.Kind() {
	case KindList:
		return len(v.list)
	case KindMap:
		return len(v.mapping)
	}
	return 0
}

// Text returns the SQL-embeddable text form of the value. Strings pass
// through unchanged, numbers and booleans render canonically, lists and
// mappings serialize to compact JSON, null renders empty.
func (v Value) Text() string {
	switch v.Kind() {
	case KindString:
		return v.str
	case KindNumber:
		return formatNumber(v.num)
	case KindBool:
		return strconv.FormatBool(v.boolean)
	case KindList, KindMap:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
	return ""
}

// MarshalJSON renders the value as compact JSON, preserving mapping order.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind() {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return []byte(formatNumber(v.num)), nil
	case KindBool:
		return []byte(strconv.FormatBool(v.boolean)), nil
	case KindList:
		var sb strings.Builder
		sb.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				sb.WriteByte(',')
			}
			b, err := json.Marshal(item)
			if err != nil {
				return nil, err
			}
			sb.Write(b)
		}
		sb.WriteByte(']')
		return []byte(sb.String()), nil
	case KindMap:
		var sb strings.Builder
		sb.WriteByte('{')
		for i, e := range v.mapping {
			if i > 0 {
				sb.WriteByte(',')
			}
			k, err := json.Marshal(e.Key)
			if err != nil {
				return nil, err
			}
			sb.Write(k)
			sb.WriteByte(':')
			b, err := json.Marshal(e.Value)
			if err != nil {
				return nil, err
			}
			sb.Write(b)
		}
		sb.WriteByte('}')
		return []byte(sb.String()), nil
	}
	return nil, fmt.Errorf("vars: unknown kind %q", v.kind)
}

// FromYAMLNode converts a decoded YAML node into a Value, preserving mapping
// key order.
func FromYAMLNode(node *yaml.Node) (Value, error) {
	if node == nil {
		return Null(), nil
	}
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return Null(), nil
		}
		return FromYAMLNode(node.Content[0])
	case yaml.AliasNode:
		return FromYAMLNode(node.Alias)
	case yaml.ScalarNode:
		return fromYAMLScalar(node)
	case yaml.SequenceNode:
		items := make([]Value, 0, len(node.Content))
		for _, c := range node.Content {
			v, err := FromYAMLNode(c)
			if err != nil {
				return Null(), err
			}
			items = append(items, v)
		}
		return NewList(items...), nil
	case yaml.MappingNode:
		entries := make([]MapEntry, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			v, err := FromYAMLNode(node.Content[i+1])
			if err != nil {
				return Null(), err
			}
			entries = append(entries, MapEntry{Key: node.Content[i].Value, Value: v})
		}
		return NewMap(entries...), nil
	}
	return Null(), fmt.Errorf("vars: unsupported YAML node kind %d", node.Kind)
}

func fromYAMLScalar(node *yaml.Node) (Value, error) {
	switch node.Tag {
	case "!!null":
		return Null(), nil
	case "!!bool":
		b, err := strconv.ParseBool(node.Value)
		if err != nil {
			return Null(), fmt.Errorf("vars: invalid bool %q: %w", node.Value, err)
		}
		return NewBool(b), nil
	case "!!int", "!!float":
		n, err := strconv.ParseFloat(node.Value, 64)
		if err != nil {
			return Null(), fmt.Errorf("vars: invalid number %q: %w", node.Value, err)
		}
		return NewNumber(n), nil
	default:
		return NewString(node.Value), nil
	}
}

func formatNumber(n float64) string {
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}
