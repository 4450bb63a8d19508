// Package sml implements the SML (Smart Message Language) binary TLV codec:
// value encoding, the message/tree structures, a stateful request
// generator, and a resettable pull parser.
package sml

import (
	"errors"
	"fmt"
)

// Type nibbles: 0=octet-string, 4=bool, 5=int, 6=uint, 7=list.
const (
	TypeOctetString byte = 0x0
	TypeBool        byte = 0x4
	TypeInt         byte = 0x5
	TypeUint        byte = 0x6
	TypeList        byte = 0x7
)

// ErrTruncated is returned (and wrapped into a *ParseError by the parser)
// when a TLV header or payload runs past the end of the available buffer.
var ErrTruncated = errors.New("sml: truncated TLV")

// EncodeHeader renders the type/length TL field for a TLV unit. length is
// the semantic length: byte count for scalar types, element count for
// lists — not including the header bytes themselves. An empty list
// encodes as the single byte 0x70.
//
// The length is split into 4-bit nibbles, most significant first; every
// byte but the last has its continuation bit (0x80) set, and only the
// first byte carries the type in bits 6-4.
func EncodeHeader(typ byte, length int) []byte {
	if length < 0 {
		panic("sml: negative TLV length")
	}
	var nibbles []byte
	if length == 0 {
		nibbles = []byte{0}
	} else {
		n := length
		for n > 0 {
			nibbles = append([]byte{byte(n & 0xF)}, nibbles...)
			n >>= 4
		}
	}
	out := make([]byte, len(nibbles))
	for i, nb := range nibbles {
		b := nb
		if i == 0 {
			b |= (typ & 0x7) << 4
		}
		if i < len(nibbles)-1 {
			b |= 0x80
		}
		out[i] = b
	}
	return out
}

// DecodeHeader reads a TL field starting at buf[0] and returns the type,
// the semantic length, and the number of header bytes consumed.
func DecodeHeader(buf []byte) (typ byte, length int, consumed int, err error) {
	if len(buf) == 0 {
		return 0, 0, 0, ErrTruncated
	}
	first := buf[0]
	typ = (first >> 4) & 0x7
	length = int(first & 0xF)
	consumed = 1
	for first&0x80 != 0 {
		if consumed >= len(buf) {
			return 0, 0, 0, ErrTruncated
		}
		next := buf[consumed]
		length = (length << 4) | int(next&0xF)
		consumed++
		first = next
	}
	return typ, length, consumed, nil
}

// EncodeOctetString encodes a byte string as a leaf TLV. An
// empty slice produces the "not set" 0x00 encoding (L=0).
func EncodeOctetString(b []byte) []byte {
	out := EncodeHeader(TypeOctetString, len(b))
	return append(out, b...)
}

// DecodeOctetString decodes a leaf octet-string TLV, returning the payload
// and the total bytes consumed (header + payload).
func DecodeOctetString(buf []byte) (value []byte, consumed int, err error) {
	typ, length, hdrLen, err := DecodeHeader(buf)
	if err != nil {
		return nil, 0, err
	}
	if typ != TypeOctetString {
		return nil, 0, fmt.Errorf("sml: expected octet-string, got type %d", typ)
	}
	total := hdrLen + length
	if total > len(buf) {
		return nil, 0, ErrTruncated
	}
	return buf[hdrLen:total], total, nil
}

// EncodeListHeader encodes the header of a list with n elements.
// Callers append the n encoded element TLVs after this header.
func EncodeListHeader(n int) []byte {
	return EncodeHeader(TypeList, n)
}

// DecodeListHeader decodes a list header, returning the element count and
// header bytes consumed.
func DecodeListHeader(buf []byte) (count int, consumed int, err error) {
	typ, length, hdrLen, err := DecodeHeader(buf)
	if err != nil {
		return 0, 0, err
	}
	if typ != TypeList {
		return 0, 0, fmt.Errorf("sml: expected list, got type %d", typ)
	}
	return length, hdrLen, nil
}
