package sml

import (
	"encoding/binary"
	"errors"

	"github.com/smgw-cluster/segw-core/pkg/crc16"
)

// Escape sequences delimiting SML messages on the wire: a
// run of four 0x1B bytes introduces a message, and 1B 1B 1B 1B 1A pp c1 c2
// ends the box with a pad count and a big-endian CRC-16/X.25 trailer.
var (
	escapeStart = [4]byte{0x1B, 0x1B, 0x1B, 0x1B}
	escapeEnd   = byte(0x1A)
)

// ErrBadCRC is reported by the parser when a box's trailing checksum does
// not match its content; the parser resyncs rather than aborting.
var ErrBadCRC = errors.New("sml: crc mismatch")

// Box concatenates encoded messages with escape framing, pads the content
// to a 4-byte boundary, and appends the end-of-transmission escape with
// pad count and CRC-16/X.25 trailer.
func Box(messages []Message) []byte {
	var content []byte
	for _, m := range messages {
		content = append(content, escapeStart[:]...)
		content = append(content, m.Encode()...)
	}

	pad := (4 - len(content)%4) % 4
	for i := 0; i < pad; i++ {
		content = append(content, 0x00)
	}

	frame := append(content, escapeStart[:]...)
	frame = append(frame, escapeEnd, byte(pad))

	sum := crc16.Checksum(frame)
	sumBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(sumBytes, sum)
	return append(frame, sumBytes...)
}

// SplitBox locates the first complete escape-framed box in buf, returning
// its verified content (without escape/pad/CRC trailer bytes) and the
// total number of bytes consumed. If no complete end-of-transmission
// sequence is present yet, consumed is 0.
//
// On a CRC mismatch the box is still consumed (so the caller advances past
// it) but ErrBadCRC is returned, so the caller can resync at the next
// escape sequence.
func SplitBox(buf []byte) (content []byte, consumed int, err error) {
	endIdx := findEndSequence(buf)
	if endIdx < 0 {
		return nil, 0, nil
	}
	if endIdx+7 > len(buf) {
		return nil, 0, nil
	}
	pad := int(buf[endIdx+5])
	frameEnd := endIdx + 6
	if frameEnd+2 > len(buf) {
		return nil, 0, nil
	}
	wantCRC := binary.BigEndian.Uint16(buf[frameEnd : frameEnd+2])
	gotCRC := crc16.Checksum(buf[:frameEnd])
	consumed = frameEnd + 2

	if pad > endIdx {
		return nil, consumed, ErrBadCRC
	}
	content = buf[:endIdx-pad]
	if wantCRC != gotCRC {
		return content, consumed, ErrBadCRC
	}
	return content, consumed, nil
}

// findEndSequence returns the index of the first 1B1B1B1B1A end-of-box
// marker in buf, or -1 if none is present.
func findEndSequence(buf []byte) int {
	for i := 0; i+4 < len(buf); i++ {
		if buf[i] == 0x1B && buf[i+1] == 0x1B && buf[i+2] == 0x1B && buf[i+3] == 0x1B && buf[i+4] == escapeEnd {
			return i
		}
	}
	return -1
}
