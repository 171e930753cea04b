package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// AttributeKind is the decided type of an attribute column.
type AttributeKind string

const (
	AttributeBool   AttributeKind = "boolean"
	AttributeInt    AttributeKind = "integer"
	AttributeFloat  AttributeKind = "float"
	AttributeString AttributeKind = "string"
)

// AttributeValue is a tagged union of the four attribute types.
type AttributeValue struct {
	Kind  AttributeKind
	Bool  bool
	Int   int64
	Float float64
	Str   string
}

// BoolValue wraps a boolean attribute.
func BoolValue(v bool) AttributeValue { return AttributeValue{Kind: AttributeBool, Bool: v} }

// IntValue wraps an integer attribute.
func IntValue(v int64) AttributeValue { return AttributeValue{Kind: AttributeInt, Int: v} }

// FloatValue wraps a float attribute.
func FloatValue(v float64) AttributeValue { return AttributeValue{Kind: AttributeFloat, Float: v} }

// StringValue wraps a string attribute.
func StringValue(v string) AttributeValue { return AttributeValue{Kind: AttributeString, Str: v} }

// Interface returns the held value as a plain Go value.
func (v AttributeValue) Interface() interface{} {
	switch v.Kind {
	case AttributeBool:
		return v.Bool
	case AttributeInt:
		return v.Int
	case AttributeFloat:
		return v.Float
	default:
		return v.Str
	}
}

// String renders the value for display.
func (v AttributeValue) String() string {
	switch v.Kind {
	case AttributeBool:
		return strconv.FormatBool(v.Bool)
	case AttributeInt:
		return strconv.FormatInt(v.Int, 10)
	case AttributeFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	default:
		return v.Str
	}
}

type attributeJSON struct {
	Kind  AttributeKind   `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the value as {"kind": ..., "value": ...}.
func (v AttributeValue) MarshalJSON() ([]byte, error) {
	kind := v.Kind
	if kind == "" {
		kind = AttributeString
	}
	raw, err := json.Marshal(v.Interface())
	if err != nil {
		return nil, err
	}
	return json.Marshal(attributeJSON{Kind: kind, Value: raw})
}

// UnmarshalJSON decodes the {"kind": ..., "value": ...} form.
func (v *AttributeValue) UnmarshalJSON(data []byte) error {
	var aux attributeJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	out := AttributeValue{Kind: aux.Kind}
	var err error
	switch aux.Kind {
	case AttributeBool:
		err = json.Unmarshal(aux.Value, &out.Bool)
	case AttributeInt:
		err = json.Unmarshal(aux.Value, &out.Int)
	case AttributeFloat:
		err = json.Unmarshal(aux.Value, &out.Float)
	case AttributeString, "":
		out.Kind = AttributeString
		err = json.Unmarshal(aux.Value, &out.Str)
	default:
		return fmt.Errorf("unknown attribute kind %q", aux.Kind)
	}
	if err != nil {
		return fmt.Errorf("decode %s attribute: %w", aux.Kind, err)
	}
	*v = out
	return nil
}

// Attributes is the open attribute bag of a sample.
type Attributes map[string]AttributeValue

// Clone deep-copies the bag.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Decoder turns a raw attribute cell into a typed value. The attribute's type
// is decided by the decoder, once per column.
type Decoder interface {
	Decode(attribute, raw string) (AttributeValue, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(attribute, raw string) (AttributeValue, error)

// Decode calls f.
func (f DecoderFunc) Decode(attribute, raw string) (AttributeValue, error) {
	return f(attribute, raw)
}

// StringDecoder keeps every cell as a string.
var StringDecoder Decoder = DecoderFunc(func(_ string, raw string) (AttributeValue, error) {
	return StringValue(strings.TrimSpace(raw)), nil
})

// ColumnTypes decodes by a fixed per-column kind, falling back to string.
type ColumnTypes map[string]AttributeKind

// Decode implements Decoder.
func (c ColumnTypes) Decode(attribute, raw string) (AttributeValue, error) {
	raw = strings.TrimSpace(raw)
	switch c[attribute] {
	case AttributeBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return AttributeValue{}, fmt.Errorf("attribute %s: %q is not a boolean", attribute, raw)
		}
		return BoolValue(b), nil
	case AttributeInt:
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return AttributeValue{}, fmt.Errorf("attribute %s: %q is not an integer", attribute, raw)
		}
		return IntValue(i), nil
	case AttributeFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return AttributeValue{}, fmt.Errorf("attribute %s: %q is not a number", attribute, raw)
		}
		return FloatValue(f), nil
	default:
		return StringValue(raw), nil
	}
}
