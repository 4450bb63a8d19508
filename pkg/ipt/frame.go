package ipt

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed 8-byte frame header: len(4) + cmd(2) + seq(1) +
// reserved(1).
const HeaderSize = 8

// ErrShortFrame is returned when a buffer is too small to hold a complete
// header or the body its length field promises.
var ErrShortFrame = errors.New("ipt: short frame")

// Frame is one decoded IP-T transport unit.
type Frame struct {
	Command Command
	Seq     uint8
	Body    []byte
}

// Encode renders a Frame as the bit-exact little-endian wire format:
// len:u32 | cmd:u16 | seq:u8 | 0x00:u8 | body.
func Encode(cmd Command, seq uint8, body []byte) []byte {
	out := make([]byte, HeaderSize+len(body))
	binary.LittleEndian.PutUint32(out[0:4], uint32(HeaderSize+len(body)))
	binary.LittleEndian.PutUint16(out[4:6], uint16(cmd))
	out[6] = seq
	out[7] = 0x00
	copy(out[HeaderSize:], body)
	return out
}

// Decode reads a single frame from the front of buf, returning the frame
// and the number of bytes consumed. If buf does not yet hold a complete
// frame, consumed is 0 and err is nil — callers should wait for more data.
func Decode(buf []byte) (frame Frame, consumed int, err error) {
	if len(buf) < HeaderSize {
		return Frame{}, 0, nil
	}
	length := binary.LittleEndian.Uint32(buf[0:4])
	if length < HeaderSize {
		return Frame{}, 0, fmt.Errorf("ipt: frame length %d smaller than header", length)
	}
	if uint32(len(buf)) < length {
		return Frame{}, 0, nil
	}

	cmd := Command(binary.LittleEndian.Uint16(buf[4:6]))
	seq := buf[6]
	body := append([]byte(nil), buf[HeaderSize:length]...)
	return Frame{Command: cmd, Seq: seq, Body: body}, int(length), nil
}

// Decoder accumulates bytes from a stream and yields complete frames.
type Decoder struct {
	buf []byte
}

// Feed appends newly received bytes and drains as many complete frames as
// are available, invoking onFrame for each in arrival order.
func (d *Decoder) Feed(data []byte, onFrame func(Frame)) error {
	d.buf = append(d.buf, data...)
	for {
		frame, consumed, err := Decode(d.buf)
		if err != nil {
			return err
		}
		if consumed == 0 {
			return nil
		}
		d.buf = d.buf[consumed:]
		onFrame(frame)
	}
}
