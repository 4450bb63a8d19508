package sml

import "fmt"

// Kind tags the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindU8
	KindU16
	KindU32
	KindU64
	KindI8
	KindI16
	KindI32
	KindI64
	KindOctetString
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindU8, KindU16, KindU32, KindU64:
		return "uint"
	case KindI8, KindI16, KindI32, KindI64:
		return "int"
	case KindOctetString:
		return "octet-string"
	case KindTime:
		return "time"
	default:
		return "unknown"
	}
}

var unsignedWidth = map[Kind]int{KindU8: 1, KindU16: 2, KindU32: 4, KindU64: 8, KindTime: 4}
var signedWidth = map[Kind]int{KindI8: 1, KindI16: 2, KindI32: 4, KindI64: 8}

// Value is the tagged variant over {null, bool, unsigned 8/16/32/64,
// signed 8/16/32/64, octet string, timestamp}.
type Value struct {
	Kind  Kind
	b     bool
	u     uint64
	i     int64
	bytes []byte
}

func Null() Value                    { return Value{Kind: KindNull} }
func Bool(v bool) Value              { return Value{Kind: KindBool, b: v} }
func U8(v uint8) Value               { return Value{Kind: KindU8, u: uint64(v)} }
func U16(v uint16) Value             { return Value{Kind: KindU16, u: uint64(v)} }
func U32(v uint32) Value             { return Value{Kind: KindU32, u: uint64(v)} }
func U64(v uint64) Value             { return Value{Kind: KindU64, u: v} }
func I8(v int8) Value                { return Value{Kind: KindI8, i: int64(v)} }
func I16(v int16) Value              { return Value{Kind: KindI16, i: int64(v)} }
func I32(v int32) Value              { return Value{Kind: KindI32, i: int64(v)} }
func I64(v int64) Value              { return Value{Kind: KindI64, i: v} }
func OctetString(v []byte) Value     { return Value{Kind: KindOctetString, bytes: append([]byte(nil), v...)} }
func OctetStr(v string) Value        { return OctetString([]byte(v)) }
func Time(unixSeconds uint32) Value  { return Value{Kind: KindTime, u: uint64(unixSeconds)} }

func (v Value) IsNull() bool  { return v.Kind == KindNull }
func (v Value) Bytes() []byte { return v.bytes }
func (v Value) Uint() uint64  { return v.u }
func (v Value) Int() int64    { return v.i }
func (v Value) BoolVal() bool { return v.b }

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%v", v.b)
	case KindU8, KindU16, KindU32, KindU64, KindTime:
		return fmt.Sprintf("%d", v.u)
	case KindI8, KindI16, KindI32, KindI64:
		return fmt.Sprintf("%d", v.i)
	case KindOctetString:
		return fmt.Sprintf("%x", v.bytes)
	default:
		return "?"
	}
}

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindU8, KindU16, KindU32, KindU64, KindTime:
		return v.u == o.u
	case KindI8, KindI16, KindI32, KindI64:
		return v.i == o.i
	case KindOctetString:
		if len(v.bytes) != len(o.bytes) {
			return false
		}
		for i := range v.bytes {
			if v.bytes[i] != o.bytes[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// EncodeValue renders a Value as a leaf TLV.
func EncodeValue(v Value) []byte {
	switch v.Kind {
	case KindNull:
		return EncodeHeader(TypeOctetString, 0)
	case KindBool:
		out := EncodeHeader(TypeBool, 1)
		if v.b {
			return append(out, 0xFF)
		}
		return append(out, 0x00)
	case KindU8, KindU16, KindU32, KindU64, KindTime:
		width := unsignedWidth[v.Kind]
		out := EncodeHeader(TypeUint, width)
		return append(out, bigEndian(v.u, width)...)
	case KindI8, KindI16, KindI32, KindI64:
		width := signedWidth[v.Kind]
		out := EncodeHeader(TypeInt, width)
		return append(out, bigEndian(uint64(v.i), width)...)
	case KindOctetString:
		return EncodeOctetString(v.bytes)
	default:
		panic("sml: unknown value kind")
	}
}

// DecodeValue decodes a leaf TLV into a Value, returning the bytes
// consumed.
func DecodeValue(buf []byte) (Value, int, error) {
	typ, length, hdrLen, err := DecodeHeader(buf)
	if err != nil {
		return Value{}, 0, err
	}
	total := hdrLen + length
	if total > len(buf) {
		return Value{}, 0, ErrTruncated
	}
	payload := buf[hdrLen:total]

	switch typ {
	case TypeOctetString:
		if length == 0 {
			return Null(), total, nil
		}
		return OctetString(payload), total, nil
	case TypeBool:
		if length != 1 {
			return Value{}, 0, fmt.Errorf("sml: bool TLV length %d != 1", length)
		}
		return Bool(payload[0] != 0), total, nil
	case TypeUint:
		u := fromBigEndian(payload)
		return unsignedByWidth(u, length), total, nil
	case TypeInt:
		u := fromBigEndian(payload)
		return signedByWidth(u, length), total, nil
	default:
		return Value{}, 0, fmt.Errorf("sml: unexpected value type %d", typ)
	}
}

func unsignedByWidth(u uint64, width int) Value {
	switch width {
	case 1:
		return U8(uint8(u))
	case 2:
		return U16(uint16(u))
	case 4:
		return U32(uint32(u))
	default:
		return U64(u)
	}
}

func signedByWidth(u uint64, width int) Value {
	switch width {
	case 1:
		return I8(int8(u))
	case 2:
		return I16(int16(u))
	case 4:
		return I32(int32(u))
	default:
		return I64(int64(u))
	}
}

func bigEndian(v uint64, width int) []byte {
	out := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}

func fromBigEndian(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = (v << 8) | uint64(x)
	}
	return v
}
