// Package metadata models the open key/value bag carried by registration and
// heartbeat messages. Values are a small tagged union so that numbers, flags
// and timestamps keep their type on the wire instead of collapsing to strings.
package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// Reserved keys.
const (
	KeySDKVersion         = "sdk_version"
	KeyFramework          = "framework"
	KeyOS                 = "os"
	KeyProcessID          = "process_id"
	KeyRegisteredAt       = "registered_at"
	KeyBuildID            = "build_id"
	KeyReleaseID          = "release_id"
	KeyBuildDate          = "build_date"
	KeyDeploymentDate     = "deployment_date"
	KeyCommitHash         = "commit_hash"
	KeyBranch             = "branch"
	KeyBuildConfiguration = "build_configuration"

	KeyTimestamp   = "timestamp"
	KeyCPUPercent  = "cpu_percent"
	KeyMemoryMB    = "memory_mb"
	KeyThreadCount = "thread_count"
)

// CustomPrefix namespaces caller-supplied keys away from the reserved ones.
const CustomPrefix = "custom_"

// Kind identifies the type held by a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	default:
		return "invalid"
	}
}

// Value is a single metadata value. The zero Value is invalid.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	t    time.Time
}

func String(s string) Value  { return Value{kind: KindString, s: s} }
func Int(i int64) Value      { return Value{kind: KindInt, i: i} }
func Float(f float64) Value  { return Value{kind: KindFloat, f: f} }
func Bool(b bool) Value      { return Value{kind: KindBool, b: b} }
func Time(t time.Time) Value { return Value{kind: KindTime, t: t.UTC()} }

// Kind returns the type held by v.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v holds a value.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// AsString returns the string held by v, if v is a string.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsInt returns the integer held by v, if v is an int.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns v as a float for both int and float kinds.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	}
	return 0, false
}

// AsBool returns the flag held by v, if v is a bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsTime returns the timestamp held by v, if v is a time.
func (v Value) AsTime() (time.Time, bool) { return v.t, v.kind == KindTime }

// Interface returns the underlying Go value.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindTime:
		return v.t
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	case KindInvalid:
		return "<invalid>"
	default:
		return fmt.Sprint(v.Interface())
	}
}

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == o.s
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindBool:
		return v.b == o.b
	case KindTime:
		return v.t.Equal(o.t)
	}
	return true
}

// FromAny converts decoded configuration input into a Value.
func FromAny(x interface{}) (Value, error) {
	switch val := x.(type) {
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(int64(val)), nil
	case int32:
		return Int(int64(val)), nil
	case int64:
		return Int(val), nil
	case uint32:
		return Int(int64(val)), nil
	case float32:
		return Float(float64(val)), nil
	case float64:
		return Float(val), nil
	case time.Time:
		return Time(val), nil
	case json.Number:
		return numberValue(val)
	case fmt.Stringer:
		return String(val.String()), nil
	default:
		return Value{}, fmt.Errorf("unsupported metadata value type %T", x)
	}
}

func numberValue(n json.Number) (Value, error) {
	if i, err := n.Int64(); err == nil {
		return Int(i), nil
	}
	f, err := n.Float64()
	if err != nil {
		return Value{}, fmt.Errorf("invalid number %q: %w", n, err)
	}
	return Float(f), nil
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.s)
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return []byte("null"), nil
		}
		return marshalFloat(v.f)
	case KindBool:
		return json.Marshal(v.b)
	case KindTime:
		return json.Marshal(v.t.Format(time.RFC3339Nano))
	default:
		return []byte("null"), nil
	}
}

// marshalFloat keeps a fractional part on whole numbers so the value
// decodes back as KindFloat.
func marshalFloat(f float64) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	if !bytes.ContainsAny(data, ".eE") {
		data = append(data, ".0"...)
	}
	return data, nil
}

// UnmarshalJSON implements json.Unmarshaler. Integral numbers decode as
// KindInt, other numbers as KindFloat and strings as KindString.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw == nil {
		*v = Value{}
		return nil
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Bag is an order-irrelevant key/value collection.
type Bag map[string]Value

// New returns an empty bag.
func New() Bag {
	return make(Bag)
}

// Set stores v under key. Invalid values are ignored.
func (b Bag) Set(key string, v Value) {
	if !v.IsValid() {
		return
	}
	b[key] = v
}

// SetString stores s under key unless s is empty.
func (b Bag) SetString(key, s string) {
	if s == "" {
		return
	}
	b[key] = String(s)
}

// SetTime stores t under key unless t is zero.
func (b Bag) SetTime(key string, t time.Time) {
	if t.IsZero() {
		return
	}
	b[key] = Time(t)
}

// Get returns the value stored under key.
func (b Bag) Get(key string) (Value, bool) {
	v, ok := b[key]
	return v, ok
}

// Merge copies every entry of other into b with prefix prepended to its key.
func (b Bag) Merge(prefix string, other Bag) {
	for k, v := range other {
		b.Set(prefix+k, v)
	}
}

// Keys returns the keys in sorted order.
func (b Bag) Keys() []string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy.
func (b Bag) Clone() Bag {
	out := make(Bag, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// FromMap converts loosely typed input (TOML tables, JSON objects) into a Bag.
func FromMap(m map[string]interface{}) (Bag, error) {
	out := make(Bag, len(m))
	for k, raw := range m {
		v, err := FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("metadata key %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}
