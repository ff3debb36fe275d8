// SPDX-License-Identifier: GPL-3.0-or-later

package refexpr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// OrderedObject is a JSON object whose MarshalJSON always emits its keys in
// lexicographic order, so two structurally-equal values canonicalise to the
// same byte string regardless of decode order.
type OrderedObject map[string]any

// MarshalJSON implements json.Marshaler with sorted keys.
func (m OrderedObject) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(Canonicalize(m[k]))
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Canonicalize walks a decoded JSON value (as produced by encoding/json with
// UseNumber, or by plain map[string]any/[]any/float64/...) and returns an
// equivalent value that always marshals deterministically: object keys
// sorted, and numbers that are losslessly integral rendered without a
// fractional part. Canonicalising an already-canonical value is the
// identity operation.
func Canonicalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(OrderedObject, len(val))
		for k, vv := range val {
			out[k] = Canonicalize(vv)
		}
		return out
	case OrderedObject:
		out := make(OrderedObject, len(val))
		for k, vv := range val {
			out[k] = Canonicalize(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = Canonicalize(vv)
		}
		return out
	case json.Number:
		return canonicalNumber(val)
	case float64:
		return canonicalFloat(val)
	default:
		return v
	}
}

func canonicalFloat(f float64) any {
	if math.Trunc(f) == f && !math.IsInf(f, 0) && math.Abs(f) < 1e15 {
		return json.Number(fmt.Sprintf("%d", int64(f)))
	}
	return json.Number(fmt.Sprintf("%g", f))
}

func canonicalNumber(n json.Number) json.Number {
	if f, err := n.Float64(); err == nil {
		if norm, ok := canonicalFloat(f).(json.Number); ok {
			return norm
		}
	}
	return n
}

// CanonicalBytes renders v (already passed through Canonicalize, or not --
// this calls Canonicalize itself) as compact, key-sorted JSON with no
// redundant whitespace.
func CanonicalBytes(v any) ([]byte, error) {
	return json.Marshal(Canonicalize(v))
}
