// Package hashutil provides a canonical, key-sorted JSON encoding used to
// fingerprint values deterministically (e.g. the Recursive strategy's
// decomposition cache key over a task's canonicalized description).
package hashutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"reflect"
	"sort"
)

// WriteStableJSON writes a canonical JSON-like representation of v into b.
// Object keys (map[string]any) are sorted recursively so two structurally
// equal values always produce identical bytes, regardless of map iteration
// order. Arrays preserve their original order.
func WriteStableJSON(b *bytes.Buffer, v any) {
	switch t := v.(type) {
	case map[string]any:
		writeMapStringAny(b, t)
	case []any:
		writeSliceAny(b, t)
	case string:
		writeJSONOrQuoted(b, t)
	case float64, bool, nil:
		writeJSONOrNull(b, t)
	default:
		writeReflected(b, v)
	}
}

func writeJSONOrQuoted(b *bytes.Buffer, s string) {
	if bs, err := json.Marshal(s); err == nil {
		b.Write(bs)
		return
	}
	b.WriteString(`"`)
	b.WriteString(s)
	b.WriteString(`"`)
}

func writeJSONOrNull(b *bytes.Buffer, v any) {
	if bs, err := json.Marshal(v); err == nil {
		b.Write(bs)
		return
	}
	b.WriteString("null")
}

func writeReflected(b *bytes.Buffer, v any) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		b.WriteString("null")
		return
	}
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		writeReflectedMap(b, rv)
		return
	}
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		writeReflectedSlice(b, rv)
		return
	}
	writeJSONOrNull(b, v)
}

func writeMapStringAny(b *bytes.Buffer, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		writeJSONOrQuoted(b, k)
		b.WriteByte(':')
		WriteStableJSON(b, m[k])
	}
	b.WriteByte('}')
}

func writeSliceAny(b *bytes.Buffer, s []any) {
	b.WriteByte('[')
	for i, e := range s {
		if i > 0 {
			b.WriteByte(',')
		}
		WriteStableJSON(b, e)
	}
	b.WriteByte(']')
}

func writeReflectedMap(b *bytes.Buffer, rv reflect.Value) {
	keys := rv.MapKeys()
	sk := make([]string, 0, len(keys))
	for i := range keys {
		sk = append(sk, keys[i].String())
	}
	sort.Strings(sk)
	b.WriteByte('{')
	for i, k := range sk {
		if i > 0 {
			b.WriteByte(',')
		}
		writeJSONOrQuoted(b, k)
		b.WriteByte(':')
		WriteStableJSON(b, rv.MapIndex(reflect.ValueOf(k)).Interface())
	}
	b.WriteByte('}')
}

func writeReflectedSlice(b *bytes.Buffer, rv reflect.Value) {
	b.WriteByte('[')
	n := rv.Len()
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		WriteStableJSON(b, rv.Index(i).Interface())
	}
	b.WriteByte(']')
}

// StableJSONBytes returns the canonical JSON-like bytes for v.
func StableJSONBytes(v any) []byte {
	var b bytes.Buffer
	WriteStableJSON(&b, v)
	return b.Bytes()
}

// FingerprintString returns a deterministic, lowercase hex SHA-256 digest
// over the canonical form of v.
func FingerprintString(v any) string {
	sum := sha256.Sum256(StableJSONBytes(v))
	return hex.EncodeToString(sum[:])
}
