package ipt

import (
	"encoding/binary"
	"fmt"
)

// OpenPushChannelReq is TP_REQ_OPEN_PUSH_CHANNEL's body.
type OpenPushChannelReq struct {
	Target  string
	Account string
	Msisdn  string
	Version string
	ID      string
	Timeout uint16
}

func (r OpenPushChannelReq) Encode() []byte {
	out := encodePString(r.Target)
	out = append(out, encodePString(r.Account)...)
	out = append(out, encodePString(r.Msisdn)...)
	out = append(out, encodePString(r.Version)...)
	out = append(out, encodePString(r.ID)...)
	timeout := make([]byte, 2)
	binary.LittleEndian.PutUint16(timeout, r.Timeout)
	return append(out, timeout...)
}

func DecodeOpenPushChannelReq(body []byte) (OpenPushChannelReq, error) {
	var r OpenPushChannelReq
	fields := []*string{&r.Target, &r.Account, &r.Msisdn, &r.Version, &r.ID}
	pos := 0
	for _, f := range fields {
		s, n, err := decodePString(body[pos:])
		if err != nil {
			return OpenPushChannelReq{}, err
		}
		*f = s
		pos += n
	}
	if len(body)-pos < 2 {
		return OpenPushChannelReq{}, fmt.Errorf("ipt: truncated open push channel request")
	}
	r.Timeout = binary.LittleEndian.Uint16(body[pos : pos+2])
	return r, nil
}

// OpenPushChannelRes is TP_RES_OPEN_PUSH_CHANNEL's body.
type OpenPushChannelRes struct {
	Code       ResponseCode
	Channel    uint32
	Source     uint32
	PacketSize uint16
	WindowSize uint8
	Status     uint8
	Count      uint16
}

func (r OpenPushChannelRes) Encode() []byte {
	out := make([]byte, 15)
	out[0] = byte(r.Code)
	binary.LittleEndian.PutUint32(out[1:5], r.Channel)
	binary.LittleEndian.PutUint32(out[5:9], r.Source)
	binary.LittleEndian.PutUint16(out[9:11], r.PacketSize)
	out[11] = r.WindowSize
	out[12] = r.Status
	binary.LittleEndian.PutUint16(out[13:15], r.Count)
	return out
}

func DecodeOpenPushChannelRes(body []byte) (OpenPushChannelRes, error) {
	if len(body) < 15 {
		return OpenPushChannelRes{}, fmt.Errorf("ipt: truncated open push channel response")
	}
	return OpenPushChannelRes{
		Code:       ResponseCode(body[0]),
		Channel:    binary.LittleEndian.Uint32(body[1:5]),
		Source:     binary.LittleEndian.Uint32(body[5:9]),
		PacketSize: binary.LittleEndian.Uint16(body[9:11]),
		WindowSize: body[11],
		Status:     body[12],
		Count:      binary.LittleEndian.Uint16(body[13:15]),
	}, nil
}

// ClosePushChannelReq is TP_REQ_CLOSE_PUSH_CHANNEL's body.
type ClosePushChannelReq struct {
	Channel uint32
}

func (r ClosePushChannelReq) Encode() []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, r.Channel)
	return out
}

func DecodeClosePushChannelReq(body []byte) (ClosePushChannelReq, error) {
	if len(body) < 4 {
		return ClosePushChannelReq{}, fmt.Errorf("ipt: truncated close push channel request")
	}
	return ClosePushChannelReq{Channel: binary.LittleEndian.Uint32(body[:4])}, nil
}

// ClosePushChannelRes is TP_RES_CLOSE_PUSH_CHANNEL's body.
type ClosePushChannelRes struct {
	Code    ResponseCode
	Channel uint32
}

func (r ClosePushChannelRes) Encode() []byte {
	out := make([]byte, 5)
	out[0] = byte(r.Code)
	binary.LittleEndian.PutUint32(out[1:5], r.Channel)
	return out
}

func DecodeClosePushChannelRes(body []byte) (ClosePushChannelRes, error) {
	if len(body) < 5 {
		return ClosePushChannelRes{}, fmt.Errorf("ipt: truncated close push channel response")
	}
	return ClosePushChannelRes{Code: ResponseCode(body[0]), Channel: binary.LittleEndian.Uint32(body[1:5])}, nil
}

// PushDataTransferReq is TP_REQ_PUSHDATA_TRANSFER's body. Status carries
// the 0xC1 live-flag bitmask, which must survive a round trip.
type PushDataTransferReq struct {
	Channel uint32
	Source  uint32
	Status  uint8
	Block   uint8
	Data    []byte
}

func (r PushDataTransferReq) Encode() []byte {
	out := make([]byte, 10)
	binary.LittleEndian.PutUint32(out[0:4], r.Channel)
	binary.LittleEndian.PutUint32(out[4:8], r.Source)
	out[8] = r.Status
	out[9] = r.Block
	return append(out, r.Data...)
}

func DecodePushDataTransferReq(body []byte) (PushDataTransferReq, error) {
	if len(body) < 10 {
		return PushDataTransferReq{}, fmt.Errorf("ipt: truncated pushdata transfer request")
	}
	return PushDataTransferReq{
		Channel: binary.LittleEndian.Uint32(body[0:4]),
		Source:  binary.LittleEndian.Uint32(body[4:8]),
		Status:  body[8],
		Block:   body[9],
		Data:    append([]byte(nil), body[10:]...),
	}, nil
}

// PushDataTransferRes is TP_RES_PUSHDATA_TRANSFER's body.
type PushDataTransferRes struct {
	Code    ResponseCode
	Channel uint32
	Source  uint32
	Status  uint8
	Block   uint8
}

func (r PushDataTransferRes) Encode() []byte {
	out := make([]byte, 11)
	out[0] = byte(r.Code)
	binary.LittleEndian.PutUint32(out[1:5], r.Channel)
	binary.LittleEndian.PutUint32(out[5:9], r.Source)
	out[9] = r.Status
	out[10] = r.Block
	return out
}

func DecodePushDataTransferRes(body []byte) (PushDataTransferRes, error) {
	if len(body) < 11 {
		return PushDataTransferRes{}, fmt.Errorf("ipt: truncated pushdata transfer response")
	}
	return PushDataTransferRes{
		Code:    ResponseCode(body[0]),
		Channel: binary.LittleEndian.Uint32(body[1:5]),
		Source:  binary.LittleEndian.Uint32(body[5:9]),
		Status:  body[9],
		Block:   body[10],
	}, nil
}

// OpenConnectionReq is TP_REQ_OPEN_CONNECTION's body: the dialled number
// or target identifier.
type OpenConnectionReq struct {
	Number string
}

func (r OpenConnectionReq) Encode() []byte { return encodePString(r.Number) }

func DecodeOpenConnectionReq(body []byte) (OpenConnectionReq, error) {
	number, _, err := decodePString(body)
	if err != nil {
		return OpenConnectionReq{}, err
	}
	return OpenConnectionReq{Number: number}, nil
}

// OpenConnectionRes / CloseConnectionRes carry a single response code.
type OpenConnectionRes struct{ Code ResponseCode }

func (r OpenConnectionRes) Encode() []byte { return []byte{byte(r.Code)} }

func DecodeOpenConnectionRes(body []byte) (OpenConnectionRes, error) {
	if len(body) < 1 {
		return OpenConnectionRes{}, fmt.Errorf("ipt: truncated open connection response")
	}
	return OpenConnectionRes{Code: ResponseCode(body[0])}, nil
}

type CloseConnectionRes struct{ Code ResponseCode }

func (r CloseConnectionRes) Encode() []byte { return []byte{byte(r.Code)} }

func DecodeCloseConnectionRes(body []byte) (CloseConnectionRes, error) {
	if len(body) < 1 {
		return CloseConnectionRes{}, fmt.Errorf("ipt: truncated close connection response")
	}
	return CloseConnectionRes{Code: ResponseCode(body[0])}, nil
}
