package sml

import (
	"testing"

	"github.com/smgw-cluster/segw-core/pkg/obis"
)

func TestMessageRoundTripPublicOpenReq(t *testing.T) {
	m := Message{
		Trx:          "abc-1",
		GroupNo:      0,
		AbortOnError: 0,
		Choice:       BodyPublicOpenReq,
		Body: PublicOpenReq{
			Codepage:   []byte("ISO 8859-15"),
			ClientID:   []byte("client"),
			ReqFileID:  []byte("1"),
			ServerID:   []byte("1SAG0000000001"),
			Username:   []byte("user"),
			Password:   []byte("pwd"),
			SMLVersion: 1,
		},
	}
	enc := m.Encode()
	got, n, err := DecodeMessage(enc)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(enc) {
		t.Fatalf("consumed %d, want %d", n, len(enc))
	}
	if got.Trx != m.Trx || got.Choice != m.Choice {
		t.Fatalf("got %+v, want %+v", got, m)
	}
	body := got.Body.(PublicOpenReq)
	if string(body.ServerID) != "1SAG0000000001" {
		t.Fatalf("serverID mismatch: %q", body.ServerID)
	}
}

func TestMessageRoundTripGetProcParameterRes(t *testing.T) {
	tree := Node(obis.RootDeviceIdent,
		Leaf(obis.DataManufacturer, OctetStr("ACME")),
		Leaf(obis.DataFirmware, OctetStr("1.2.3")),
	)
	m := Message{
		Trx:    "abc-2",
		Choice: BodyGetProcParameterRes,
		Body: GetProcParameterRes{
			ServerID:      []byte("1SAG0000000001"),
			Path:          obis.Path{obis.RootDeviceIdent},
			ParameterTree: tree,
		},
	}
	enc := m.Encode()
	got, _, err := DecodeMessage(enc)
	if err != nil {
		t.Fatal(err)
	}
	body := got.Body.(GetProcParameterRes)
	if body.ParameterTree.Name != obis.RootDeviceIdent {
		t.Fatalf("tree root mismatch: %v", body.ParameterTree.Name)
	}
	if len(body.ParameterTree.Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(body.ParameterTree.Children))
	}
	if string(body.ParameterTree.Children[0].Value.Bytes()) != "ACME" {
		t.Fatalf("got %v", body.ParameterTree.Children[0].Value)
	}
}

func TestMessageRoundTripAttentionRes(t *testing.T) {
	m := Message{
		Trx:    "abc-3",
		Choice: BodyAttentionRes,
		Body: AttentionRes{
			ServerID: []byte("1SAG0000000001"),
			Code:     obis.AttentionUnknownObisCode,
			Message:  []byte("no such parameter"),
		},
	}
	enc := m.Encode()
	got, _, err := DecodeMessage(enc)
	if err != nil {
		t.Fatal(err)
	}
	body := got.Body.(AttentionRes)
	if body.Code != obis.AttentionUnknownObisCode {
		t.Fatalf("code mismatch: %v", body.Code)
	}
}

func TestMessageRoundTripGetProfileListRes(t *testing.T) {
	m := Message{
		Trx:    "abc-4",
		Choice: BodyGetProfileListRes,
		Body: GetProfileListRes{
			ServerID: []byte("1SAG0000000001"),
			Class:    obis.ClassOpLog,
			ActTime:  1700000000,
			Periods: []PeriodEntry{
				{ObjName: obis.ClassEvent, Unit: 0xFF, Scaler: 0, Value: OctetString(obis.ClassEvent[:])},
				{ObjName: obis.OpLogFieldStrength, Unit: 0xFE, Scaler: 0, Value: I8(-87)},
				{ObjName: obis.OpLogCell, Unit: 0xFF, Scaler: 0, Value: U32(7)},
				{ObjName: obis.OpLogAreaCode, Unit: 0xFF, Scaler: 0, Value: U16(42)},
				{ObjName: obis.PushOperations, Unit: 0xFF, Scaler: 0, Value: U8(1)},
			},
		},
	}
	enc := m.Encode()
	got, _, err := DecodeMessage(enc)
	if err != nil {
		t.Fatal(err)
	}
	body := got.Body.(GetProfileListRes)
	if len(body.Periods) != 5 {
		t.Fatalf("got %d periods, want 5", len(body.Periods))
	}
	if body.Periods[0].ObjName != obis.ClassEvent {
		t.Fatalf("entry 0 obj_name mismatch: %v", body.Periods[0].ObjName)
	}
	if body.Periods[1].Value.Int() != -87 {
		t.Fatalf("entry 1 value mismatch: %+v", body.Periods[1].Value)
	}
	if body.Periods[2].Value.Uint() != 7 {
		t.Fatalf("entry 2 value mismatch: %+v", body.Periods[2].Value)
	}
}
