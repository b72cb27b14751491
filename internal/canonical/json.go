package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"
)

// NormalizeNewlines converts CRLF and lone CR line endings to LF.
func NormalizeNewlines(s string) string {
	if !strings.Contains(s, "\r") {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// ParseJSON decodes exactly one JSON value from data.
//
// Numbers are kept as json.Number so that integer literals survive a
// round-trip through the artifact files unchanged. Trailing content after
// the value is rejected.
func ParseJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, newParseError(err, dec.InputOffset())
	}
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		return nil, &ParseError{Offset: dec.InputOffset(), Msg: "trailing content after JSON value", Cause: err}
	}
	return v, nil
}

func newParseError(err error, offset int64) *ParseError {
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		return &ParseError{Offset: syn.Offset, Msg: syn.Error(), Cause: err}
	}
	if errors.Is(err, io.EOF) {
		return &ParseError{Msg: "empty input", Cause: err}
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return &ParseError{Offset: offset, Msg: "unexpected end of JSON input", Cause: err}
	}
	return &ParseError{Offset: offset, Msg: err.Error(), Cause: err}
}

// JSON returns the canonical encoding of v.
//
// Canonicalization rules:
//   - CR and CRLF become LF in every string, object keys included.
//   - Object keys are sorted by code point at every nesting level.
//   - No whitespace between tokens.
//   - Non-ASCII characters are written literally; only '"', '\\' and C0
//     control characters are escaped.
//   - Integer literals keep arbitrary precision; other numbers use the
//     shortest representation that round-trips a float64.
//   - NaN and infinities are rejected with ErrNonFinite.
//
// Values that are not plain JSON trees (structs, typed slices) are first
// passed through encoding/json.
func JSON(v any) ([]byte, error) {
	norm, err := normalizeValue(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encodeValue(&buf, norm); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// JSONText parses text and returns its canonical encoding.
func JSONText(text []byte) ([]byte, error) {
	v, err := ParseJSON(text)
	if err != nil {
		return nil, err
	}
	return JSON(v)
}

func normalizeValue(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, json.Number,
		float64, float32,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return t, nil
	case string:
		return NormalizeNewlines(t), nil
	case []any:
		out := make([]any, len(t))
		for i := range t {
			nv, err := normalizeValue(t[i])
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	case map[string]any:
		// Iterate in sorted order so a collision is reported deterministically.
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(t))
		for _, k := range keys {
			nk := NormalizeNewlines(k)
			if _, dup := out[nk]; dup {
				return nil, fmt.Errorf("%w: %q", ErrKeyCollision, nk)
			}
			nv, err := normalizeValue(t[k])
			if err != nil {
				return nil, err
			}
			out[nk] = nv
		}
		return out, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			var unsupported *json.UnsupportedValueError
			if errors.As(err, &unsupported) {
				return nil, fmt.Errorf("%w: %s", ErrNonFinite, unsupported.Str)
			}
			return nil, fmt.Errorf("encode %T: %w", v, err)
		}
		tree, err := ParseJSON(b)
		if err != nil {
			return nil, err
		}
		return normalizeValue(tree)
	}
}

func encodeValue(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		writeString(buf, t)
	case json.Number:
		s, err := formatNumber(t)
		if err != nil {
			return err
		}
		buf.WriteString(s)
	case float64:
		s, err := formatFloat(t)
		if err != nil {
			return err
		}
		buf.WriteString(s)
	case float32:
		s, err := formatFloat(float64(t))
		if err != nil {
			return err
		}
		buf.WriteString(s)
	case int:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int8:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int16:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int32:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(t, 10))
	case uint:
		buf.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint8:
		buf.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint16:
		buf.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint32:
		buf.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(t, 10))
	case []any:
		buf.WriteByte('[')
		for i := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, t[i]); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		// Go compares strings bytewise; for valid UTF-8 that is code point order.
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, k)
			buf.WriteByte(':')
			if err := encodeValue(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonical: unsupported value of type %T", v)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
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

func formatNumber(n json.Number) (string, error) {
	s := string(n)
	if isIntegerLiteral(s) {
		var bi big.Int
		if _, ok := bi.SetString(s, 10); ok {
			return bi.String(), nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if math.IsInf(f, 0) {
			return "", fmt.Errorf("%w: %s", ErrNonFinite, s)
		}
		return "", fmt.Errorf("invalid number %q: %w", s, err)
	}
	return formatFloat(f)
}

func isIntegerLiteral(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// formatFloat writes the shortest round-trip representation, switching to
// exponent notation below 1e-4 and from 1e16 upwards. Integral values keep
// a trailing ".0" so they stay distinguishable from integer literals.
func formatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", ErrNonFinite
	}
	sci := strconv.FormatFloat(f, 'e', -1, 64)
	idx := strings.IndexByte(sci, 'e')
	exp, err := strconv.Atoi(sci[idx+1:])
	if err != nil {
		return "", fmt.Errorf("format float %v: %w", f, err)
	}
	if exp < -4 || exp >= 16 {
		return sci, nil
	}
	fixed := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(fixed, ".") {
		fixed += ".0"
	}
	return fixed, nil
}

// Clone returns a deep copy of a decoded JSON tree. Scalars are shared.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Clone(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = Clone(t[i])
		}
		return out
	default:
		return v
	}
}
