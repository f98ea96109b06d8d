package canvas

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces RFC 8785 style canonical JSON.
//
// Accepted values: nil, string, bool, int, int64, float64, []any and
// map[string]any (recursively). It differs from json.Marshal in that:
//  1. Object keys are sorted by UTF-16 code units
//  2. No HTML escaping; only quote, backslash and control characters are escaped
//  3. Strings are NFC normalized
//  4. Numbers use the shortest round-trip form; NaN and Inf are rejected
func MarshalCanonical(v any) ([]byte, error) {
	return marshalCanonical(v, true)
}

func marshalCanonical(v any, nfc bool) ([]byte, error) {
	var buf bytes.Buffer
	enc := canonicalEncoder{buf: &buf, nfc: nfc}
	if err := enc.write(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// canonicalEncoder writes canonical JSON. With nfc unset strings are
// written exactly as given.
type canonicalEncoder struct {
	buf *bytes.Buffer
	nfc bool
}

func (e canonicalEncoder) write(v any) error {
	buf := e.buf
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case string:
		e.writeString(val)
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case float64:
		s, err := formatCanonicalNumber(val)
		if err != nil {
			return err
		}
		buf.WriteString(s)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := e.write(elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return lessUTF16(keys[i], keys[j]) })

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			e.writeString(k)
			buf.WriteByte(':')
			if err := e.write(val[k]); err != nil {
				return fmt.Errorf("value for key %q: %w", k, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
	return nil
}

// writeString writes s, NFC normalized when e.nfc is set, escaping only
// what RFC 8785 requires: quote, backslash and U+0000..U+001F.
func (e canonicalEncoder) writeString(s string) {
	if e.nfc {
		s = norm.NFC.String(s)
	}
	buf := e.buf
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
				continue
			}
			buf.WriteRune(r)
		}
	}
	buf.WriteByte('"')
}

// formatCanonicalNumber renders f the way ECMAScript Number#toString does,
// which is what RFC 8785 prescribes.
func formatCanonicalNumber(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("non-finite number %v is forbidden in canonical JSON", f)
	}
	if f == 0 {
		return "0", nil
	}
	abs := math.Abs(f)
	if abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	s := strconv.FormatFloat(f, 'e', -1, 64)
	// Go pads the exponent to two digits ("1e-07"); ECMAScript does not.
	mantissa, exp, _ := strings.Cut(s, "e")
	sign := exp[:1]
	digits := strings.TrimLeft(exp[1:], "0")
	return mantissa + "e" + sign + digits, nil
}

// lessUTF16 orders strings by UTF-16 code units.
func lessUTF16(a, b string) bool {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			return ua[i] < ub[i]
		}
	}
	return len(ua) < len(ub)
}

// canonicalState converts a state into the generic shape MarshalCanonical accepts.
func canonicalState(s CanvasState) map[string]any {
	squares := make([]any, len(s.Squares))
	for i, sq := range s.Squares {
		squares[i] = map[string]any{
			"id":    sq.ID,
			"x":     sq.X,
			"y":     sq.Y,
			"size":  sq.Size,
			"color": sq.Color,
		}
	}
	return map[string]any{
		"squares":     squares,
		"version":     s.Version,
		"lastEventId": s.LastEventID,
	}
}

// MarshalCanonicalState returns the canonical JSON encoding of s.
//
// Strings are not normalized: square ids are matched byte for byte by the
// reducer, so "café" in NFC and NFD are different squares.
func MarshalCanonicalState(s CanvasState) ([]byte, error) {
	return marshalCanonical(canonicalState(s), false)
}
