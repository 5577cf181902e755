// Package canon implements the canonical serialization and hashing
// used to give every row and config payload a stable, content-derived
// identity. Two structurally equal values must canonicalize to the
// same bytes regardless of the key order they were built in; values
// that cannot be represented (NaN, +Inf, -Inf) are rejected rather
// than silently rounded.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Error is returned when a value cannot be canonicalized. Rows that
// trigger this are quarantined by the row processor rather than
// hashed and routed further.
type Error struct {
	Path   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("canon: cannot canonicalize value at %q: %s", e.Path, e.Reason)
}

// Canonicalize renders v as canonical JSON bytes: object keys sorted
// lexicographically by their UTF-8 byte sequence, arrays left in
// order, numbers rendered with the shortest round-tripping decimal
// form, and strings escaped per standard JSON rules.
func Canonicalize(v any) ([]byte, error) {
	var buf strings.Builder
	if err := writeValue(&buf, v, "$"); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}

// Hash returns the lowercase hex SHA-256 digest of v's canonical form.
func Hash(v any) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// DecodeJSON parses already-canonicalized (or any other well-formed)
// JSON bytes back into Go values, using json.Number so integers that
// round-tripped through canonicalization are not silently widened to
// float64. Callers that need plain float64/int handle both forms.
func DecodeJSON(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canon: decode json: %w", err)
	}
	return normalizeNumbers(v), nil
}

// normalizeNumbers walks a decoded value converting json.Number into
// int64 (when it fits without loss) or float64, so callers see the
// same Go types Canonicalize accepts.
func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case map[string]any:
		for k, inner := range x {
			x[k] = normalizeNumbers(inner)
		}
		return x
	case []any:
		for i, inner := range x {
			x[i] = normalizeNumbers(inner)
		}
		return x
	default:
		return v
	}
}

// HashBytes returns the lowercase hex SHA-256 digest of already-
// canonicalized (or otherwise opaque) bytes, used for payload content
// addressing in pkg/payload.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func writeValue(buf *strings.Builder, v any, path string) error {
	switch x := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if x {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case string:
		writeString(buf, x)
		return nil
	case float64:
		return writeFloat(buf, x, path)
	case float32:
		return writeFloat(buf, float64(x), path)
	case int:
		buf.WriteString(strconv.FormatInt(int64(x), 10))
		return nil
	case int32:
		buf.WriteString(strconv.FormatInt(int64(x), 10))
		return nil
	case int64:
		buf.WriteString(strconv.FormatInt(x, 10))
		return nil
	case uint64:
		buf.WriteString(strconv.FormatUint(x, 10))
		return nil
	case map[string]any:
		return writeObject(buf, x, path)
	case []any:
		return writeArray(buf, x, path)
	default:
		return &Error{Path: path, Reason: fmt.Sprintf("unsupported type %T", v)}
	}
}

func writeFloat(buf *strings.Builder, f float64, path string) error {
	if math.IsNaN(f) {
		return &Error{Path: path, Reason: "NaN is not representable in canonical JSON"}
	}
	if math.IsInf(f, 0) {
		return &Error{Path: path, Reason: "Infinity is not representable in canonical JSON"}
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
		return nil
	}
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}

func writeObject(buf *strings.Builder, m map[string]any, path string) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(buf, k)
		buf.WriteByte(':')
		if err := writeValue(buf, m[k], path+"."+k); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeArray(buf *strings.Builder, arr []any, path string) error {
	buf.WriteByte('[')
	for i, item := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeValue(buf, item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func writeString(buf *strings.Builder, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}
