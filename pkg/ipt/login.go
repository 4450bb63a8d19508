package ipt

import (
	"encoding/binary"
	"fmt"

	"github.com/smgw-cluster/segw-core/pkg/scramble"
)

// LoginPublicReq is CTRL_REQ_LOGIN_PUBLIC's body: (name, pwd).
type LoginPublicReq struct {
	Name string
	Pwd  string
}

func (r LoginPublicReq) Encode() []byte {
	return append(encodePString(r.Name), encodePString(r.Pwd)...)
}

func DecodeLoginPublicReq(body []byte) (LoginPublicReq, error) {
	name, n, err := decodePString(body)
	if err != nil {
		return LoginPublicReq{}, err
	}
	pwd, _, err := decodePString(body[n:])
	if err != nil {
		return LoginPublicReq{}, err
	}
	return LoginPublicReq{Name: name, Pwd: pwd}, nil
}

// LoginScrambledReq is CTRL_REQ_LOGIN_SCRAMBLED's body: (name, pwd,
// new_scramble_key).
type LoginScrambledReq struct {
	Name   string
	Pwd    string
	NewKey scramble.Key
}

func (r LoginScrambledReq) Encode() []byte {
	out := append(encodePString(r.Name), encodePString(r.Pwd)...)
	return append(out, r.NewKey[:]...)
}

func DecodeLoginScrambledReq(body []byte) (LoginScrambledReq, error) {
	name, n, err := decodePString(body)
	if err != nil {
		return LoginScrambledReq{}, err
	}
	pwd, m, err := decodePString(body[n:])
	if err != nil {
		return LoginScrambledReq{}, err
	}
	pos := n + m
	if len(body)-pos < scramble.KeySize {
		return LoginScrambledReq{}, fmt.Errorf("ipt: truncated scramble key")
	}
	var key scramble.Key
	copy(key[:], body[pos:pos+scramble.KeySize])
	return LoginScrambledReq{Name: name, Pwd: pwd, NewKey: key}, nil
}

// LoginRes is the shared body shape for CTRL_RES_LOGIN_PUBLIC and
// CTRL_RES_LOGIN_SCRAMBLED: a response code, a watchdog interval in
// seconds, and an optional redirect address.
type LoginRes struct {
	Code     ResponseCode
	Watchdog uint32
	Redirect string
}

func (r LoginRes) Encode() []byte {
	out := make([]byte, 5)
	out[0] = byte(r.Code)
	binary.LittleEndian.PutUint32(out[1:5], r.Watchdog)
	return append(out, encodePString(r.Redirect)...)
}

func DecodeLoginRes(body []byte) (LoginRes, error) {
	if len(body) < 5 {
		return LoginRes{}, fmt.Errorf("ipt: truncated login response")
	}
	code := ResponseCode(body[0])
	watchdog := binary.LittleEndian.Uint32(body[1:5])
	redirect, _, err := decodePString(body[5:])
	if err != nil {
		return LoginRes{}, err
	}
	return LoginRes{Code: code, Watchdog: watchdog, Redirect: redirect}, nil
}

// RegisterTargetReq is CTRL_REQ_REGISTER_TARGET's body.
type RegisterTargetReq struct {
	Name       string
	PacketSize uint16
	WindowSize uint8
}

func (r RegisterTargetReq) Encode() []byte {
	out := encodePString(r.Name)
	sizeBytes := make([]byte, 3)
	binary.LittleEndian.PutUint16(sizeBytes[0:2], r.PacketSize)
	sizeBytes[2] = r.WindowSize
	return append(out, sizeBytes...)
}

func DecodeRegisterTargetReq(body []byte) (RegisterTargetReq, error) {
	name, n, err := decodePString(body)
	if err != nil {
		return RegisterTargetReq{}, err
	}
	if len(body)-n < 3 {
		return RegisterTargetReq{}, fmt.Errorf("ipt: truncated register target request")
	}
	return RegisterTargetReq{
		Name:       name,
		PacketSize: binary.LittleEndian.Uint16(body[n : n+2]),
		WindowSize: body[n+2],
	}, nil
}

// RegisterTargetRes is CTRL_RES_REGISTER_TARGET's body: response code plus
// the channel id assigned to the registered push target.
type RegisterTargetRes struct {
	Code    ResponseCode
	Channel uint32
}

func (r RegisterTargetRes) Encode() []byte {
	out := make([]byte, 5)
	out[0] = byte(r.Code)
	binary.LittleEndian.PutUint32(out[1:5], r.Channel)
	return out
}

func DecodeRegisterTargetRes(body []byte) (RegisterTargetRes, error) {
	if len(body) < 5 {
		return RegisterTargetRes{}, fmt.Errorf("ipt: truncated register target response")
	}
	return RegisterTargetRes{Code: ResponseCode(body[0]), Channel: binary.LittleEndian.Uint32(body[1:5])}, nil
}

// DeregisterTargetReq is CTRL_REQ_DEREGISTER_TARGET's body.
type DeregisterTargetReq struct {
	Name string
}

func (r DeregisterTargetReq) Encode() []byte { return encodePString(r.Name) }

func DecodeDeregisterTargetReq(body []byte) (DeregisterTargetReq, error) {
	name, _, err := decodePString(body)
	if err != nil {
		return DeregisterTargetReq{}, err
	}
	return DeregisterTargetReq{Name: name}, nil
}
