package sml

import (
	"fmt"

	"github.com/smgw-cluster/segw-core/pkg/obis"
)

// ParseError wraps a decode failure with the byte offset it occurred at,
// so the parser's resync logging can point at where the stream desynced.
type ParseError struct {
	Offset int
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("sml: parse error at offset %d: %v", e.Offset, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func decodeU8(buf []byte) (uint8, int, error) {
	v, n, err := DecodeValue(buf)
	if err != nil {
		return 0, 0, err
	}
	return uint8(v.Uint()), n, nil
}

func decodeU32(buf []byte) (uint32, int, error) {
	v, n, err := DecodeValue(buf)
	if err != nil {
		return 0, 0, err
	}
	return uint32(v.Uint()), n, nil
}

func decodeOBISList(buf []byte) (obis.Path, int, error) {
	count, hdrLen, err := DecodeListHeader(buf)
	if err != nil {
		return nil, 0, err
	}
	pos := hdrLen
	path := make(obis.Path, 0, count)
	for i := 0; i < count; i++ {
		raw, n, err := DecodeOctetString(buf[pos:])
		if err != nil {
			return nil, 0, err
		}
		pos += n
		c, err := obis.FromBytes(raw)
		if err != nil {
			return nil, 0, err
		}
		path = append(path, c)
	}
	return path, pos, nil
}

// DecodeMessage decodes the "[trx groupNo abortOnError bodyChoice body]"
// envelope.
func DecodeMessage(buf []byte) (Message, int, error) {
	count, hdrLen, err := DecodeListHeader(buf)
	if err != nil {
		return Message{}, 0, err
	}
	if count != 5 {
		return Message{}, 0, fmt.Errorf("sml: message envelope has %d elements, want 5", count)
	}
	pos := hdrLen

	trxRaw, n, err := DecodeOctetString(buf[pos:])
	if err != nil {
		return Message{}, 0, err
	}
	pos += n

	groupNo, n, err := decodeU8(buf[pos:])
	if err != nil {
		return Message{}, 0, err
	}
	pos += n

	abortOnError, n, err := decodeU8(buf[pos:])
	if err != nil {
		return Message{}, 0, err
	}
	pos += n

	choiceRaw, n, err := decodeU32(buf[pos:])
	if err != nil {
		return Message{}, 0, err
	}
	pos += n
	choice := BodyChoice(choiceRaw)

	body, n, err := decodeBody(choice, buf[pos:])
	if err != nil {
		return Message{}, 0, err
	}
	pos += n

	return Message{
		Trx:          string(trxRaw),
		GroupNo:      groupNo,
		AbortOnError: abortOnError,
		Choice:       choice,
		Body:         body,
	}, pos, nil
}

func decodeBody(choice BodyChoice, buf []byte) (MessageBody, int, error) {
	switch choice {
	case BodyPublicOpenReq:
		return decodePublicOpenReq(buf)
	case BodyPublicOpenRes:
		return decodePublicOpenRes(buf)
	case BodyPublicCloseReq:
		return decodePublicCloseReq(buf)
	case BodyPublicCloseRes:
		return decodePublicCloseRes(buf)
	case BodyGetProcParameterReq:
		return decodeGetProcParameterReq(buf)
	case BodyGetProcParameterRes:
		return decodeGetProcParameterRes(buf)
	case BodySetProcParameterReq:
		return decodeSetProcParameterReq(buf)
	case BodyGetProfileListReq:
		return decodeGetProfileListReq(buf)
	case BodyGetProfileListRes:
		return decodeGetProfileListRes(buf)
	case BodyGetListReq:
		return decodeGetListReq(buf)
	case BodyGetListRes:
		return decodeGetListRes(buf)
	case BodyAttentionRes:
		return decodeAttentionRes(buf)
	default:
		return nil, 0, fmt.Errorf("sml: no decoder for body choice %s", choice)
	}
}

func decodePublicOpenReq(buf []byte) (MessageBody, int, error) {
	count, hdrLen, err := DecodeListHeader(buf)
	if err != nil || count != 7 {
		return nil, 0, fmt.Errorf("sml: PublicOpen.Req malformed: %w", err)
	}
	pos := hdrLen
	var b PublicOpenReq
	fields := []*[]byte{&b.Codepage, &b.ClientID, &b.ReqFileID, &b.ServerID, &b.Username, &b.Password}
	for _, f := range fields {
		raw, n, err := DecodeOctetString(buf[pos:])
		if err != nil {
			return nil, 0, err
		}
		*f = raw
		pos += n
	}
	ver, n, err := decodeU8(buf[pos:])
	if err != nil {
		return nil, 0, err
	}
	b.SMLVersion = ver
	pos += n
	return b, pos, nil
}

func decodePublicOpenRes(buf []byte) (MessageBody, int, error) {
	count, hdrLen, err := DecodeListHeader(buf)
	if err != nil || count != 6 {
		return nil, 0, fmt.Errorf("sml: PublicOpen.Res malformed: %w", err)
	}
	pos := hdrLen
	var b PublicOpenRes
	fields := []*[]byte{&b.Codepage, &b.ClientID, &b.ReqFileID, &b.ServerID}
	for _, f := range fields {
		raw, n, err := DecodeOctetString(buf[pos:])
		if err != nil {
			return nil, 0, err
		}
		*f = raw
		pos += n
	}
	refTime, n, err := DecodeValue(buf[pos:])
	if err != nil {
		return nil, 0, err
	}
	pos += n
	if !refTime.IsNull() {
		t := uint32(refTime.Uint())
		b.RefTime = &t
	}
	ver, n, err := decodeU8(buf[pos:])
	if err != nil {
		return nil, 0, err
	}
	b.SMLVersion = ver
	pos += n
	return b, pos, nil
}

func decodePublicCloseReq(buf []byte) (MessageBody, int, error) {
	count, hdrLen, err := DecodeListHeader(buf)
	if err != nil || count != 1 {
		return nil, 0, fmt.Errorf("sml: PublicClose.Req malformed: %w", err)
	}
	sig, n, err := DecodeOctetString(buf[hdrLen:])
	if err != nil {
		return nil, 0, err
	}
	return PublicCloseReq{GlobalSignature: sig}, hdrLen + n, nil
}

func decodePublicCloseRes(buf []byte) (MessageBody, int, error) {
	count, hdrLen, err := DecodeListHeader(buf)
	if err != nil || count != 1 {
		return nil, 0, fmt.Errorf("sml: PublicClose.Res malformed: %w", err)
	}
	sig, n, err := DecodeOctetString(buf[hdrLen:])
	if err != nil {
		return nil, 0, err
	}
	return PublicCloseRes{GlobalSignature: sig}, hdrLen + n, nil
}

func decodeGetProcParameterReq(buf []byte) (MessageBody, int, error) {
	count, hdrLen, err := DecodeListHeader(buf)
	if err != nil || count != 5 {
		return nil, 0, fmt.Errorf("sml: GetProcParameter.Req malformed: %w", err)
	}
	pos := hdrLen
	var b GetProcParameterReq
	fields := []*[]byte{&b.ServerID, &b.Username, &b.Password}
	for _, f := range fields {
		raw, n, err := DecodeOctetString(buf[pos:])
		if err != nil {
			return nil, 0, err
		}
		*f = raw
		pos += n
	}
	path, n, err := decodeOBISList(buf[pos:])
	if err != nil {
		return nil, 0, err
	}
	b.Path = path
	pos += n
	attr, n, err := DecodeOctetString(buf[pos:])
	if err != nil {
		return nil, 0, err
	}
	b.Attribute = attr
	pos += n
	return b, pos, nil
}

func decodeGetProcParameterRes(buf []byte) (MessageBody, int, error) {
	count, hdrLen, err := DecodeListHeader(buf)
	if err != nil || count != 3 {
		return nil, 0, fmt.Errorf("sml: GetProcParameter.Res malformed: %w", err)
	}
	pos := hdrLen
	serverID, n, err := DecodeOctetString(buf[pos:])
	if err != nil {
		return nil, 0, err
	}
	pos += n
	path, n, err := decodeOBISList(buf[pos:])
	if err != nil {
		return nil, 0, err
	}
	pos += n
	tree, n, err := DecodeTree(buf[pos:])
	if err != nil {
		return nil, 0, err
	}
	pos += n
	return GetProcParameterRes{ServerID: serverID, Path: path, ParameterTree: tree}, pos, nil
}

func decodeSetProcParameterReq(buf []byte) (MessageBody, int, error) {
	count, hdrLen, err := DecodeListHeader(buf)
	if err != nil || count != 5 {
		return nil, 0, fmt.Errorf("sml: SetProcParameter.Req malformed: %w", err)
	}
	pos := hdrLen
	var b SetProcParameterReq
	fields := []*[]byte{&b.ServerID, &b.Username, &b.Password}
	for _, f := range fields {
		raw, n, err := DecodeOctetString(buf[pos:])
		if err != nil {
			return nil, 0, err
		}
		*f = raw
		pos += n
	}
	path, n, err := decodeOBISList(buf[pos:])
	if err != nil {
		return nil, 0, err
	}
	b.Path = path
	pos += n
	val, n, err := DecodeValue(buf[pos:])
	if err != nil {
		return nil, 0, err
	}
	b.Value = val
	pos += n
	return b, pos, nil
}

func decodeGetProfileListReq(buf []byte) (MessageBody, int, error) {
	count, hdrLen, err := DecodeListHeader(buf)
	if err != nil || count != 6 {
		return nil, 0, fmt.Errorf("sml: GetProfileList.Req malformed: %w", err)
	}
	pos := hdrLen
	var b GetProfileListReq
	fields := []*[]byte{&b.ServerID, &b.Username, &b.Password}
	for _, f := range fields {
		raw, n, err := DecodeOctetString(buf[pos:])
		if err != nil {
			return nil, 0, err
		}
		*f = raw
		pos += n
	}
	classRaw, n, err := DecodeOctetString(buf[pos:])
	if err != nil {
		return nil, 0, err
	}
	pos += n
	cls, err := obis.FromBytes(classRaw)
	if err != nil {
		return nil, 0, err
	}
	b.Class = cls
	begin, n, err := decodeU32(buf[pos:])
	if err != nil {
		return nil, 0, err
	}
	b.Begin = begin
	pos += n
	end, n, err := decodeU32(buf[pos:])
	if err != nil {
		return nil, 0, err
	}
	b.End = end
	pos += n
	return b, pos, nil
}

func decodeGetListReq(buf []byte) (MessageBody, int, error) {
	count, hdrLen, err := DecodeListHeader(buf)
	if err != nil || count != 4 {
		return nil, 0, fmt.Errorf("sml: GetList.Req malformed: %w", err)
	}
	pos := hdrLen
	var b GetListReq
	fields := []*[]byte{&b.ServerID, &b.Username, &b.Password}
	for _, f := range fields {
		raw, n, err := DecodeOctetString(buf[pos:])
		if err != nil {
			return nil, 0, err
		}
		*f = raw
		pos += n
	}
	nameRaw, n, err := DecodeOctetString(buf[pos:])
	if err != nil {
		return nil, 0, err
	}
	pos += n
	name, err := obis.FromBytes(nameRaw)
	if err != nil {
		return nil, 0, err
	}
	b.ListName = name
	return b, pos, nil
}

func decodeGetProfileListRes(buf []byte) (MessageBody, int, error) {
	count, hdrLen, err := DecodeListHeader(buf)
	if err != nil || count != 4 {
		return nil, 0, fmt.Errorf("sml: GetProfileList.Res malformed: %w", err)
	}
	pos := hdrLen
	serverID, n, err := DecodeOctetString(buf[pos:])
	if err != nil {
		return nil, 0, err
	}
	pos += n
	classRaw, n, err := DecodeOctetString(buf[pos:])
	if err != nil {
		return nil, 0, err
	}
	pos += n
	cls, err := obis.FromBytes(classRaw)
	if err != nil {
		return nil, 0, err
	}
	actTime, n, err := decodeU32(buf[pos:])
	if err != nil {
		return nil, 0, err
	}
	pos += n

	count2, n, err := DecodeListHeader(buf[pos:])
	if err != nil {
		return nil, 0, err
	}
	pos += n
	periods := make([]PeriodEntry, 0, count2)
	for i := 0; i < count2; i++ {
		p, n, err := decodePeriodEntry(buf[pos:])
		if err != nil {
			return nil, 0, err
		}
		pos += n
		periods = append(periods, p)
	}
	return GetProfileListRes{ServerID: serverID, Class: cls, ActTime: actTime, Periods: periods}, pos, nil
}

func decodePeriodEntry(buf []byte) (PeriodEntry, int, error) {
	count, hdrLen, err := DecodeListHeader(buf)
	if err != nil || count != 4 {
		return PeriodEntry{}, 0, fmt.Errorf("sml: period entry malformed: %w", err)
	}
	pos := hdrLen
	var p PeriodEntry

	nameRaw, n, err := DecodeOctetString(buf[pos:])
	if err != nil {
		return PeriodEntry{}, 0, err
	}
	pos += n
	name, err := obis.FromBytes(nameRaw)
	if err != nil {
		return PeriodEntry{}, 0, err
	}
	p.ObjName = name

	unit, n, err := DecodeValue(buf[pos:])
	if err != nil {
		return PeriodEntry{}, 0, err
	}
	pos += n
	p.Unit = uint8(unit.Uint())

	scaler, n, err := DecodeValue(buf[pos:])
	if err != nil {
		return PeriodEntry{}, 0, err
	}
	pos += n
	p.Scaler = int8(scaler.Int())

	value, n, err := DecodeValue(buf[pos:])
	if err != nil {
		return PeriodEntry{}, 0, err
	}
	pos += n
	p.Value = value

	return p, pos, nil
}

func decodeGetListRes(buf []byte) (MessageBody, int, error) {
	count, hdrLen, err := DecodeListHeader(buf)
	if err != nil || count != 4 {
		return nil, 0, fmt.Errorf("sml: GetList.Res malformed: %w", err)
	}
	pos := hdrLen
	serverID, n, err := DecodeOctetString(buf[pos:])
	if err != nil {
		return nil, 0, err
	}
	pos += n
	nameRaw, n, err := DecodeOctetString(buf[pos:])
	if err != nil {
		return nil, 0, err
	}
	pos += n
	name, err := obis.FromBytes(nameRaw)
	if err != nil {
		return nil, 0, err
	}
	actTime, n, err := decodeU32(buf[pos:])
	if err != nil {
		return nil, 0, err
	}
	pos += n

	count2, n, err := DecodeListHeader(buf[pos:])
	if err != nil {
		return nil, 0, err
	}
	pos += n
	entries := make([]ListEntry, 0, count2)
	for i := 0; i < count2; i++ {
		e, n, err := decodeListEntry(buf[pos:])
		if err != nil {
			return nil, 0, err
		}
		pos += n
		entries = append(entries, e)
	}
	return GetListRes{ServerID: serverID, ListName: name, ActTime: actTime, Entries: entries}, pos, nil
}

func decodeListEntry(buf []byte) (ListEntry, int, error) {
	count, hdrLen, err := DecodeListHeader(buf)
	if err != nil || count != 4 {
		return ListEntry{}, 0, fmt.Errorf("sml: list entry malformed: %w", err)
	}
	pos := hdrLen
	nameRaw, n, err := DecodeOctetString(buf[pos:])
	if err != nil {
		return ListEntry{}, 0, err
	}
	pos += n
	name, err := obis.FromBytes(nameRaw)
	if err != nil {
		return ListEntry{}, 0, err
	}
	unit, n, err := decodeU8(buf[pos:])
	if err != nil {
		return ListEntry{}, 0, err
	}
	pos += n
	scaler, n, err := DecodeValue(buf[pos:])
	if err != nil {
		return ListEntry{}, 0, err
	}
	pos += n
	val, n, err := DecodeValue(buf[pos:])
	if err != nil {
		return ListEntry{}, 0, err
	}
	pos += n
	return ListEntry{Name: name, Unit: unit, Scaler: int8(scaler.Int()), Value: val}, pos, nil
}

func decodeAttentionRes(buf []byte) (MessageBody, int, error) {
	count, hdrLen, err := DecodeListHeader(buf)
	if err != nil || count != 3 {
		return nil, 0, fmt.Errorf("sml: Attention.Res malformed: %w", err)
	}
	pos := hdrLen
	serverID, n, err := DecodeOctetString(buf[pos:])
	if err != nil {
		return nil, 0, err
	}
	pos += n
	codeRaw, n, err := DecodeOctetString(buf[pos:])
	if err != nil {
		return nil, 0, err
	}
	pos += n
	code, err := obis.FromBytes(codeRaw)
	if err != nil {
		return nil, 0, err
	}
	msg, n, err := DecodeOctetString(buf[pos:])
	if err != nil {
		return nil, 0, err
	}
	pos += n
	return AttentionRes{ServerID: serverID, Code: code, Message: msg}, pos, nil
}
