package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MarshalJSON encodes v. Map keys are written in sorted order so equal
// values always produce identical text.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindInt:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return fmt.Errorf("%w: %v", ErrNotFinite, v.f)
		}
		s := strconv.FormatFloat(v.f, 'g', -1, 64)
		// Keep floats distinguishable from ints on the way back in.
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		buf.WriteString(s)
	case KindString:
		if err := encodeString(buf, v.s); err != nil {
			return err
		}
	case KindList:
		buf.WriteByte('[')
		for i, e := range v.l {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := e.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMap:
		return v.m.encode(buf)
	default:
		return fmt.Errorf("%w: kind %d", ErrUnsupportedType, v.kind)
	}
	return nil
}

func (m Map) encode(buf *bytes.Buffer) error {
	buf.WriteByte('{')
	for i, k := range m.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := m[k].encode(buf); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// encodeString writes s as a JSON string. json.Marshal would replace
// invalid UTF-8 with U+FFFD, so such strings are rejected instead.
func encodeString(buf *bytes.Buffer, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: %q", ErrInvalidUTF8, s)
	}
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

// MarshalJSON encodes m as a JSON object.
func (m Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes any JSON document into v.
func (v *Value) UnmarshalJSON(data []byte) error {
	out, err := Decode(bytes.NewReader(data))
	if err != nil {
		return err
	}
	*v = out
	return nil
}

// UnmarshalJSON decodes a JSON object into m. A JSON null yields an empty map.
func (m *Map) UnmarshalJSON(data []byte) error {
	v, err := Decode(bytes.NewReader(data))
	if err != nil {
		return err
	}
	switch v.Kind() {
	case KindNull:
		*m = Map{}
	case KindMap:
		*m = v.m
	default:
		return fmt.Errorf("value: expected object, got %s", v.Kind())
	}
	return nil
}

// Parse decodes JSON text into a Value.
func Parse(text string) (Value, error) {
	return Decode(strings.NewReader(text))
}

// Decode reads exactly one JSON document from r.
func Decode(r io.Reader) (Value, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("value: decode: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Value{}, fmt.Errorf("value: decode: trailing data after document")
	}
	return fromJSON(raw)
}

func fromJSON(raw any) (Value, error) {
	switch t := raw.(type) {
	case json.Number:
		return numberValue(t)
	case []any:
		out := make([]Value, 0, len(t))
		for _, e := range t {
			v, err := fromJSON(e)
			if err != nil {
				return Value{}, err
			}
			out = append(out, v)
		}
		return List(out...), nil
	case map[string]any:
		out := make(Map, len(t))
		for k, e := range t {
			v, err := fromJSON(e)
			if err != nil {
				return Value{}, err
			}
			out[k] = v
		}
		return out.Value(), nil
	default:
		return Of(t)
	}
}

func numberValue(n json.Number) (Value, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Int(i), nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, fmt.Errorf("value: decode number %q: %w", s, err)
	}
	return Float(f), nil
}
