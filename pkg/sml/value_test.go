package sml

import "testing"

func TestValueRoundTripUint(t *testing.T) {
	cases := []Value{U8(7), U16(4200), U32(123456), U64(1 << 40), Time(1700000000)}
	for _, v := range cases {
		enc := EncodeValue(v)
		got, n, err := DecodeValue(enc)
		if err != nil {
			t.Fatalf("decode %v: %v", v, err)
		}
		if n != len(enc) {
			t.Fatalf("consumed %d, want %d", n, len(enc))
		}
		if got.Uint() != v.Uint() {
			t.Fatalf("got %v, want %v", got, v)
		}
	}
}

func TestValueRoundTripInt(t *testing.T) {
	cases := []Value{I8(-5), I16(-4200), I32(-123456), I64(-(1 << 40))}
	for _, v := range cases {
		enc := EncodeValue(v)
		got, _, err := DecodeValue(enc)
		if err != nil {
			t.Fatalf("decode %v: %v", v, err)
		}
		if got.Int() != v.Int() {
			t.Fatalf("got %v, want %v", got, v)
		}
	}
}

func TestValueRoundTripOctetString(t *testing.T) {
	v := OctetStr("ESY1012345678")
	enc := EncodeValue(v)
	got, _, err := DecodeValue(enc)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(v) {
		t.Fatalf("got %v, want %v", got, v)
	}
}

func TestValueNullRoundTrip(t *testing.T) {
	enc := EncodeValue(Null())
	got, n, err := DecodeValue(enc)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || !got.IsNull() {
		t.Fatalf("expected a single-byte null, got n=%d v=%v", n, got)
	}
}

func TestEmptyListEncodesAsSingleByte(t *testing.T) {
	enc := EncodeListHeader(0)
	if len(enc) != 1 || enc[0] != 0x70 {
		t.Fatalf("empty list = %x, want 70", enc)
	}
	count, consumed, err := DecodeListHeader(enc)
	if err != nil || count != 0 || consumed != 1 {
		t.Fatalf("decode empty list: count=%d consumed=%d err=%v", count, consumed, err)
	}
}

func TestValueBoolRoundTrip(t *testing.T) {
	for _, b := range []bool{true, false} {
		got, _, err := DecodeValue(EncodeValue(Bool(b)))
		if err != nil {
			t.Fatal(err)
		}
		if got.BoolVal() != b {
			t.Fatalf("got %v, want %v", got.BoolVal(), b)
		}
	}
}
