package models

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// The classifier payloads and the model blob are hand-framed protobuf wire
// records: every field is tag + value, and nested records are length
// prefixed. Fields this version does not know about are skipped.

func appendIntField(b []byte, num protowire.Number, v int) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(int64(v)))
}

func appendDoubleField(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendPackedInts(b []byte, num protowire.Number, vs []int) []byte {
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, protowire.EncodeZigZag(int64(v)))
	}
	return appendBytesField(b, num, packed)
}

func appendPackedDoubles(b []byte, num protowire.Number, vs []float64) []byte {
	packed := make([]byte, 0, 8*len(vs))
	for _, v := range vs {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	return appendBytesField(b, num, packed)
}

// fieldFunc handles one field whose tag has already been consumed. It returns
// the number of value bytes consumed, or 0 to let walkFields skip the field.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func walkFields(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func consumeInt(typ protowire.Type, b []byte) (int, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("expected varint, got wire type %d", typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return int(protowire.DecodeZigZag(v)), n, nil
}

func consumeDouble(typ protowire.Type, b []byte) (float64, int, error) {
	if typ != protowire.Fixed64Type {
		return 0, 0, fmt.Errorf("expected fixed64, got wire type %d", typ)
	}
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return math.Float64frombits(v), n, nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("expected bytes, got wire type %d", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumePackedInts(typ protowire.Type, b []byte) ([]int, int, error) {
	packed, n, err := consumeBytes(typ, b)
	if err != nil {
		return nil, 0, err
	}

	var out []int
	for len(packed) > 0 {
		v, m := protowire.ConsumeVarint(packed)
		if m < 0 {
			return nil, 0, protowire.ParseError(m)
		}
		out = append(out, int(protowire.DecodeZigZag(v)))
		packed = packed[m:]
	}
	return out, n, nil
}

func consumePackedDoubles(typ protowire.Type, b []byte) ([]float64, int, error) {
	packed, n, err := consumeBytes(typ, b)
	if err != nil {
		return nil, 0, err
	}
	if len(packed)%8 != 0 {
		return nil, 0, fmt.Errorf("packed doubles length %d is not a multiple of 8", len(packed))
	}

	out := make([]float64, 0, len(packed)/8)
	for len(packed) > 0 {
		v, m := protowire.ConsumeFixed64(packed)
		if m < 0 {
			return nil, 0, protowire.ParseError(m)
		}
		out = append(out, math.Float64frombits(v))
		packed = packed[m:]
	}
	return out, n, nil
}
