package sml

import (
	"fmt"

	"github.com/smgw-cluster/segw-core/pkg/obis"
)

// BodyChoice selects the variant carried by a Message.
type BodyChoice int

const (
	BodyPublicOpenReq BodyChoice = iota + 1
	BodyPublicOpenRes
	BodyPublicCloseReq
	BodyPublicCloseRes
	BodyGetProcParameterReq
	BodyGetProcParameterRes
	BodySetProcParameterReq
	BodyGetProfileListReq
	BodyGetProfileListRes
	BodyGetListReq
	BodyGetListRes
	BodyAttentionRes
)

func (b BodyChoice) String() string {
	switch b {
	case BodyPublicOpenReq:
		return "PublicOpen.Req"
	case BodyPublicOpenRes:
		return "PublicOpen.Res"
	case BodyPublicCloseReq:
		return "PublicClose.Req"
	case BodyPublicCloseRes:
		return "PublicClose.Res"
	case BodyGetProcParameterReq:
		return "GetProcParameter.Req"
	case BodyGetProcParameterRes:
		return "GetProcParameter.Res"
	case BodySetProcParameterReq:
		return "SetProcParameter.Req"
	case BodyGetProfileListReq:
		return "GetProfileList.Req"
	case BodyGetProfileListRes:
		return "GetProfileList.Res"
	case BodyGetListReq:
		return "GetList.Req"
	case BodyGetListRes:
		return "GetList.Res"
	case BodyAttentionRes:
		return "Attention.Res"
	default:
		return fmt.Sprintf("BodyChoice(%d)", int(b))
	}
}

// Message is the SML envelope: "(trx, group_no, abort_on_error,
// body_choice, body, crc16)". No CRC is carried per message: the framer
// (crc.go) computes and verifies one CRC over the whole box.
type Message struct {
	Trx          string
	GroupNo      uint8
	AbortOnError uint8
	Choice       BodyChoice
	Body         MessageBody
}

// MessageBody is implemented by every body-choice payload type.
type MessageBody interface {
	bodyChoice() BodyChoice
	encode() []byte
}

// PublicOpenReq opens an SML envelope.
type PublicOpenReq struct {
	Codepage   []byte
	ClientID   []byte
	ReqFileID  []byte
	ServerID   []byte
	Username   []byte
	Password   []byte
	SMLVersion uint8
}

func (PublicOpenReq) bodyChoice() BodyChoice { return BodyPublicOpenReq }
func (b PublicOpenReq) encode() []byte {
	out := EncodeListHeader(7)
	out = append(out, EncodeOctetString(b.Codepage)...)
	out = append(out, EncodeOctetString(b.ClientID)...)
	out = append(out, EncodeOctetString(b.ReqFileID)...)
	out = append(out, EncodeOctetString(b.ServerID)...)
	out = append(out, EncodeOctetString(b.Username)...)
	out = append(out, EncodeOctetString(b.Password)...)
	out = append(out, EncodeValue(U8(b.SMLVersion))...)
	return out
}

// PublicOpenRes answers PublicOpenReq with the server's identity.
type PublicOpenRes struct {
	Codepage   []byte
	ClientID   []byte
	ReqFileID  []byte
	ServerID   []byte
	RefTime    *uint32
	SMLVersion uint8
}

func (PublicOpenRes) bodyChoice() BodyChoice { return BodyPublicOpenRes }
func (b PublicOpenRes) encode() []byte {
	out := EncodeListHeader(6)
	out = append(out, EncodeOctetString(b.Codepage)...)
	out = append(out, EncodeOctetString(b.ClientID)...)
	out = append(out, EncodeOctetString(b.ReqFileID)...)
	out = append(out, EncodeOctetString(b.ServerID)...)
	if b.RefTime != nil {
		out = append(out, EncodeValue(Time(*b.RefTime))...)
	} else {
		out = append(out, EncodeHeader(TypeOctetString, 0)...)
	}
	out = append(out, EncodeValue(U8(b.SMLVersion))...)
	return out
}

// PublicCloseReq closes an SML envelope.
type PublicCloseReq struct {
	GlobalSignature []byte
}

func (PublicCloseReq) bodyChoice() BodyChoice { return BodyPublicCloseReq }
func (b PublicCloseReq) encode() []byte {
	out := EncodeListHeader(1)
	out = append(out, EncodeOctetString(b.GlobalSignature)...)
	return out
}

// PublicCloseRes answers PublicCloseReq.
type PublicCloseRes struct {
	GlobalSignature []byte
}

func (PublicCloseRes) bodyChoice() BodyChoice { return BodyPublicCloseRes }
func (b PublicCloseRes) encode() []byte {
	out := EncodeListHeader(1)
	out = append(out, EncodeOctetString(b.GlobalSignature)...)
	return out
}

// GetProcParameterReq requests a parameter subtree by OBIS path.
type GetProcParameterReq struct {
	ServerID  []byte
	Username  []byte
	Password  []byte
	Path      obis.Path
	Attribute []byte
}

func (GetProcParameterReq) bodyChoice() BodyChoice { return BodyGetProcParameterReq }
func (b GetProcParameterReq) encode() []byte {
	out := EncodeListHeader(5)
	out = append(out, EncodeOctetString(b.ServerID)...)
	out = append(out, EncodeOctetString(b.Username)...)
	out = append(out, EncodeOctetString(b.Password)...)
	pathOut := EncodeListHeader(len(b.Path))
	for _, c := range b.Path {
		pathOut = append(pathOut, EncodeOctetString(c[:])...)
	}
	out = append(out, pathOut...)
	out = append(out, EncodeOctetString(b.Attribute)...)
	return out
}

// GetProcParameterRes returns the requested parameter tree.
type GetProcParameterRes struct {
	ServerID      []byte
	Path          obis.Path
	ParameterTree *Tree
}

func (GetProcParameterRes) bodyChoice() BodyChoice { return BodyGetProcParameterRes }
func (b GetProcParameterRes) encode() []byte {
	out := EncodeListHeader(3)
	out = append(out, EncodeOctetString(b.ServerID)...)
	pathOut := EncodeListHeader(len(b.Path))
	for _, c := range b.Path {
		pathOut = append(pathOut, EncodeOctetString(c[:])...)
	}
	out = append(out, pathOut...)
	out = append(out, b.ParameterTree.Encode()...)
	return out
}

// SetProcParameterReq requests a write into the config store.
type SetProcParameterReq struct {
	ServerID []byte
	Username []byte
	Password []byte
	Path     obis.Path
	Value    Value
}

func (SetProcParameterReq) bodyChoice() BodyChoice { return BodySetProcParameterReq }
func (b SetProcParameterReq) encode() []byte {
	out := EncodeListHeader(5)
	out = append(out, EncodeOctetString(b.ServerID)...)
	out = append(out, EncodeOctetString(b.Username)...)
	out = append(out, EncodeOctetString(b.Password)...)
	pathOut := EncodeListHeader(len(b.Path))
	for _, c := range b.Path {
		pathOut = append(pathOut, EncodeOctetString(c[:])...)
	}
	out = append(out, pathOut...)
	out = append(out, EncodeValue(b.Value)...)
	return out
}

// PeriodEntry is one OBIS-tagged value inside a GetProfileList.Res
// period: "(obj_name, unit, scaler, value)", the same four-tuple shape
// used for every op-log field. A
// GetProfileList.Res period carries exactly 11 of these, one per op-log
// property — event class, peer address, signal strength, cell, area code,
// provider, current UTC, server ID, push target, push ops, details —
// rather than one composite record.
type PeriodEntry struct {
	ObjName obis.Code
	Unit    uint8
	Scaler  int8
	Value   Value
}

func (p PeriodEntry) encode() []byte {
	out := EncodeListHeader(4)
	out = append(out, EncodeOctetString(p.ObjName[:])...)
	out = append(out, EncodeValue(U8(p.Unit))...)
	out = append(out, EncodeValue(I8(p.Scaler))...)
	out = append(out, EncodeValue(p.Value)...)
	return out
}

// GetProfileListReq requests operational-log records in a time window.
type GetProfileListReq struct {
	ServerID []byte
	Username []byte
	Password []byte
	Class    obis.Code
	Begin    uint32
	End      uint32
}

func (GetProfileListReq) bodyChoice() BodyChoice { return BodyGetProfileListReq }
func (b GetProfileListReq) encode() []byte {
	out := EncodeListHeader(6)
	out = append(out, EncodeOctetString(b.ServerID)...)
	out = append(out, EncodeOctetString(b.Username)...)
	out = append(out, EncodeOctetString(b.Password)...)
	out = append(out, EncodeOctetString(b.Class[:])...)
	out = append(out, EncodeValue(Time(b.Begin))...)
	out = append(out, EncodeValue(Time(b.End))...)
	return out
}

// GetProfileListRes returns one window's worth of period entries.
type GetProfileListRes struct {
	ServerID []byte
	Class    obis.Code
	ActTime  uint32
	Periods  []PeriodEntry
}

func (GetProfileListRes) bodyChoice() BodyChoice { return BodyGetProfileListRes }
func (b GetProfileListRes) encode() []byte {
	out := EncodeListHeader(4)
	out = append(out, EncodeOctetString(b.ServerID)...)
	out = append(out, EncodeOctetString(b.Class[:])...)
	out = append(out, EncodeValue(Time(b.ActTime))...)
	listOut := EncodeListHeader(len(b.Periods))
	for _, p := range b.Periods {
		listOut = append(listOut, p.encode()...)
	}
	out = append(out, listOut...)
	return out
}

// GetListReq requests a flat list of values under a single OBIS path.
type GetListReq struct {
	ServerID []byte
	Username []byte
	Password []byte
	ListName obis.Code
}

func (GetListReq) bodyChoice() BodyChoice { return BodyGetListReq }
func (b GetListReq) encode() []byte {
	out := EncodeListHeader(4)
	out = append(out, EncodeOctetString(b.ServerID)...)
	out = append(out, EncodeOctetString(b.Username)...)
	out = append(out, EncodeOctetString(b.Password)...)
	out = append(out, EncodeOctetString(b.ListName[:])...)
	return out
}

// ListEntry is one value within a GetList.Res.
type ListEntry struct {
	Name   obis.Code
	Value  Value
	Unit   uint8
	Scaler int8
}

func (e ListEntry) encode() []byte {
	out := EncodeListHeader(4)
	out = append(out, EncodeOctetString(e.Name[:])...)
	out = append(out, EncodeValue(U8(e.Unit))...)
	out = append(out, EncodeValue(I8(e.Scaler))...)
	out = append(out, EncodeValue(e.Value)...)
	return out
}

// GetListRes returns the entries of a GetList request.
type GetListRes struct {
	ServerID []byte
	ListName obis.Code
	ActTime  uint32
	Entries  []ListEntry
}

func (GetListRes) bodyChoice() BodyChoice { return BodyGetListRes }
func (b GetListRes) encode() []byte {
	out := EncodeListHeader(4)
	out = append(out, EncodeOctetString(b.ServerID)...)
	out = append(out, EncodeOctetString(b.ListName[:])...)
	out = append(out, EncodeValue(Time(b.ActTime))...)
	listOut := EncodeListHeader(len(b.Entries))
	for _, e := range b.Entries {
		listOut = append(listOut, e.encode()...)
	}
	out = append(out, listOut...)
	return out
}

// AttentionRes reports a processing result or error: a
// UNKNOWN_OBIS_CODE, OK, or other attention OBIS, with an optional message.
type AttentionRes struct {
	ServerID []byte
	Code     obis.Code
	Message  []byte
}

func (AttentionRes) bodyChoice() BodyChoice { return BodyAttentionRes }
func (b AttentionRes) encode() []byte {
	out := EncodeListHeader(3)
	out = append(out, EncodeOctetString(b.ServerID)...)
	out = append(out, EncodeOctetString(b.Code[:])...)
	out = append(out, EncodeOctetString(b.Message)...)
	return out
}

// Encode renders a full Message as the "[trx groupNo abortOnError
// bodyChoice body]" list, without a CRC — the framer appends a single
// CRC over the whole box when boxing (crc.go).
func (m Message) Encode() []byte {
	out := EncodeListHeader(5)
	out = append(out, EncodeOctetString([]byte(m.Trx))...)
	out = append(out, EncodeValue(U8(m.GroupNo))...)
	out = append(out, EncodeValue(U8(m.AbortOnError))...)
	out = append(out, EncodeValue(U32(uint32(m.Choice)))...)
	out = append(out, m.Body.encode()...)
	return out
}
