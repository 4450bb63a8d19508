// Package mbus implements the wireless M-Bus frame header, AES-128-CBC
// mode-5 decryption, and DIF/VIF record walking used to read encrypted
// meter telegrams arriving on the wireless LMN.
package mbus

import "fmt"

// ShortHeader is the meter identity of a telegram: C|MM|AAAA|V|T|CI from
// the link layer, with the manufacturer/address/version/medium fields
// replaced by the transport-layer secondary address when CI selects the
// long-header framing.
type ShortHeader struct {
	Control      byte
	Manufacturer [2]byte
	Address      [4]byte
	Version      byte
	Medium       byte
	CI           byte
}

// CIShortHeader / CILongHeader are the CI field values distinguishing
// the two transport-layer framings this package parses.
const (
	CIShortHeader byte = 0x7A
	CILongHeader  byte = 0x72
)

// TransportHeader carries the fields following CI: the per-telegram
// access number, the meter status byte, and the configuration word
// whose mode bits select the payload encryption.
type TransportHeader struct {
	AccessNo byte
	Status   byte
	Config   uint16
}

// EncryptionMode extracts the five mode bits of the configuration word.
// Mode 5 is AES-128-CBC with the persistent meter key; mode 0 is an
// unencrypted payload.
func (t TransportHeader) EncryptionMode() byte { return byte(t.Config>>8) & 0x1F }

// ParseFrame reads a length-prefixed wireless M-Bus telegram through its
// transport header. CI=0x7A carries access_no/status/config directly
// after the link-layer header; CI=0x72 carries an 8-byte secondary
// address first, which replaces the link-layer identity for the decrypt
// path. Any other CI is rejected.
func ParseFrame(buf []byte) (hdr ShortHeader, tp TransportHeader, payload []byte, err error) {
	if len(buf) < 1 {
		return hdr, tp, nil, fmt.Errorf("mbus: empty frame")
	}
	length := int(buf[0])
	if len(buf)-1 < length {
		return hdr, tp, nil, fmt.Errorf("mbus: frame declares length %d, have %d", length, len(buf)-1)
	}
	if length < 10 {
		return hdr, tp, nil, fmt.Errorf("mbus: frame too short for header (%d)", length)
	}

	rest := buf[1 : 1+length]
	hdr.Control = rest[0]
	copy(hdr.Manufacturer[:], rest[1:3])
	copy(hdr.Address[:], rest[3:7])
	hdr.Version = rest[7]
	hdr.Medium = rest[8]
	hdr.CI = rest[9]
	body := rest[10:]

	switch hdr.CI {
	case CIShortHeader:
		if len(body) < 4 {
			return hdr, tp, nil, fmt.Errorf("mbus: truncated short transport header")
		}
		tp.AccessNo = body[0]
		tp.Status = body[1]
		tp.Config = uint16(body[2]) | uint16(body[3])<<8
		payload = body[4:]
	case CILongHeader:
		if len(body) < 12 {
			return hdr, tp, nil, fmt.Errorf("mbus: truncated long transport header")
		}
		copy(hdr.Manufacturer[:], body[0:2])
		copy(hdr.Address[:], body[2:6])
		hdr.Version = body[6]
		hdr.Medium = body[7]
		tp.AccessNo = body[8]
		tp.Status = body[9]
		tp.Config = uint16(body[10]) | uint16(body[11])<<8
		payload = body[12:]
	default:
		return hdr, tp, nil, fmt.Errorf("mbus: unsupported CI 0x%02x", hdr.CI)
	}
	return hdr, tp, payload, nil
}

// ServerID renders the meter's manufacturer/address/version/medium tuple
// in the "MM-aaaaaaaa-V-T" form used in logs and as the per-meter key
// lookup.
func (h ShortHeader) ServerID() string {
	return fmt.Sprintf("%02x%02x-%02x%02x%02x%02x-%02x-%02x",
		h.Manufacturer[0], h.Manufacturer[1],
		h.Address[0], h.Address[1], h.Address[2], h.Address[3],
		h.Version, h.Medium)
}
