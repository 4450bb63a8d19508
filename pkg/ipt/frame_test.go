package ipt

import "testing"

func TestFrameRoundTrip(t *testing.T) {
	body := []byte("hello device")
	enc := Encode(CtrlReqLoginPublic, 5, body)

	frame, consumed, err := Decode(enc)
	if err != nil {
		t.Fatal(err)
	}
	if consumed != len(enc) {
		t.Fatalf("consumed %d, want %d", consumed, len(enc))
	}
	if frame.Command != CtrlReqLoginPublic || frame.Seq != 5 {
		t.Fatalf("got %+v", frame)
	}
	if string(frame.Body) != string(body) {
		t.Fatalf("body mismatch: %q", frame.Body)
	}
}

func TestDecodeIncompleteFrame(t *testing.T) {
	enc := Encode(CtrlReqLogout, 1, []byte("x"))
	_, consumed, err := Decode(enc[:HeaderSize])
	if err != nil {
		t.Fatal(err)
	}
	if consumed != 0 {
		t.Fatalf("expected consumed=0 for incomplete frame, got %d", consumed)
	}
}

func TestDecoderFeedMultipleFrames(t *testing.T) {
	var stream []byte
	stream = append(stream, Encode(CtrlReqLoginPublic, 1, []byte("a"))...)
	stream = append(stream, Encode(CtrlReqLogout, 2, []byte("b"))...)

	var got []Frame
	var d Decoder
	if err := d.Feed(stream, func(f Frame) { got = append(got, f) }); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(got))
	}
	if got[0].Seq != 1 || got[1].Seq != 2 {
		t.Fatalf("sequence mismatch: %d, %d", got[0].Seq, got[1].Seq)
	}
}

func TestSequenceWrapsSkippingZero(t *testing.T) {
	var s Sequence
	s.n = 0xFE
	if got := s.Next(); got != 0xFF {
		t.Fatalf("got %d, want 0xFF", got)
	}
	if got := s.Next(); got != 0x01 {
		t.Fatalf("got %d, want 0x01 (must skip 0)", got)
	}
}

func TestLoginPublicRoundTrip(t *testing.T) {
	req := LoginPublicReq{Name: "operator", Pwd: "secret"}
	got, err := DecodeLoginPublicReq(req.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if got != req {
		t.Fatalf("got %+v, want %+v", got, req)
	}
}

func TestLoginResSuccessPredicate(t *testing.T) {
	if !IsLoginSuccess(LoginSuccess) || !IsLoginSuccess(LoginAccountLocked) {
		t.Fatal("expected SUCCESS and ACCOUNT_LOCKED to both be structurally successful")
	}
	if IsLoginSuccess(LoginMalfunction) {
		t.Fatal("MALFUNCTION must not be treated as success")
	}
}

func TestPushDataStatusMaskPreserved(t *testing.T) {
	req := PushDataTransferReq{Channel: 1, Source: 2, Status: 0xC1, Block: 3, Data: []byte{1, 2, 3}}
	got, err := DecodePushDataTransferReq(req.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if got.Status&PushDataStatusMask != PushDataStatusMask {
		t.Fatalf("status bits not preserved: got %#x", got.Status)
	}
}
