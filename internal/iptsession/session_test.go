package iptsession

import (
	"testing"
	"time"

	"github.com/smgw-cluster/segw-core/pkg/ipt"
	"github.com/smgw-cluster/segw-core/pkg/scramble"
)

type fakeWriter struct {
	written [][]byte
	closed  bool
}

func (w *fakeWriter) Write(b []byte) error {
	w.written = append(w.written, append([]byte(nil), b...))
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type fakeAuth struct {
	ok     bool
	locked bool
}

func (a fakeAuth) Authenticate(name, pwd string) (bool, bool) { return a.ok, a.locked }

type fakeSink struct {
	fed [][]byte
}

func (s *fakeSink) Feed(b []byte) { s.fed = append(s.fed, append([]byte(nil), b...)) }

type fakeRouter struct {
	sink  Sink
	known bool
}

func (r fakeRouter) Route(number string) (Sink, bool) { return r.sink, r.known }

func lastFrame(t *testing.T, writer *fakeWriter) ipt.Frame {
	t.Helper()
	if len(writer.written) == 0 {
		t.Fatal("expected a written frame, got none")
	}
	frame, consumed, err := ipt.Decode(writer.written[len(writer.written)-1])
	if err != nil {
		t.Fatal(err)
	}
	if consumed != len(writer.written[len(writer.written)-1]) {
		t.Fatalf("partial frame decoded: consumed %d of %d", consumed, len(writer.written[len(writer.written)-1]))
	}
	return frame
}

func TestLoginPublicSuccessTransitionsToAuthorized(t *testing.T) {
	w := &fakeWriter{}
	s, err := New("sess-1", Config{Writer: w, Auth: fakeAuth{ok: true}})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Stop(true)

	req := ipt.LoginPublicReq{Name: "operator", Pwd: "secret"}
	frame := ipt.Encode(ipt.CtrlReqLoginPublic, 1, req.Encode())
	if err := s.Feed(frame); err != nil {
		t.Fatal(err)
	}

	got := lastFrame(t, w)
	if got.Command != ipt.CtrlResLoginPublic {
		t.Fatalf("got command %s, want CTRL_RES_LOGIN_PUBLIC", got.Command)
	}
	res, err := ipt.DecodeLoginRes(got.Body)
	if err != nil {
		t.Fatal(err)
	}
	if res.Code != ipt.LoginSuccess {
		t.Fatalf("got login code %v, want success", res.Code)
	}
	if s.State() != StateAuthorized {
		t.Fatalf("got state %s, want AUTHORIZED", s.State())
	}
}

func TestLoginFailureClosesSession(t *testing.T) {
	w := &fakeWriter{}
	s, err := New("sess-2", Config{Writer: w, Auth: fakeAuth{ok: false}})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Stop(true)

	req := ipt.LoginPublicReq{Name: "nobody", Pwd: "wrong"}
	frame := ipt.Encode(ipt.CtrlReqLoginPublic, 1, req.Encode())
	if err := s.Feed(frame); err != nil {
		t.Fatal(err)
	}

	if s.State() != StateClosed {
		t.Fatalf("got state %s, want CLOSED after failed login", s.State())
	}
	if !w.closed {
		t.Fatal("expected writer to be closed after failed login")
	}
}

func TestGatekeeperClosesSessionAfterGracePeriod(t *testing.T) {
	w := &fakeWriter{}
	s, err := New("sess-3", Config{Writer: w, Auth: fakeAuth{ok: true}, GatekeeperGrace: 20 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Stop(true)

	time.Sleep(150 * time.Millisecond)

	if s.State() != StateClosed {
		t.Fatalf("got state %s, want CLOSED once the grace period elapses without login", s.State())
	}
}

func authorize(t *testing.T, s *Session, w *fakeWriter) {
	t.Helper()
	req := ipt.LoginPublicReq{Name: "operator", Pwd: "secret"}
	frame := ipt.Encode(ipt.CtrlReqLoginPublic, 1, req.Encode())
	if err := s.Feed(frame); err != nil {
		t.Fatal(err)
	}
	if s.State() != StateAuthorized {
		t.Fatalf("got state %s, want AUTHORIZED", s.State())
	}
}

func TestRegisterTargetThenPushDataPreservesStatusBits(t *testing.T) {
	w := &fakeWriter{}
	s, err := New("sess-4", Config{Writer: w, Auth: fakeAuth{ok: true}})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Stop(true)
	authorize(t, s, w)

	regReq := ipt.RegisterTargetReq{Name: "billing", PacketSize: 256, WindowSize: 1}
	if err := s.Feed(ipt.Encode(ipt.CtrlReqRegisterTarget, 2, regReq.Encode())); err != nil {
		t.Fatal(err)
	}
	regGot := lastFrame(t, w)
	if regGot.Command != ipt.CtrlResRegisterTarget {
		t.Fatalf("got command %s, want CTRL_RES_REGISTER_TARGET", regGot.Command)
	}
	regRes, err := ipt.DecodeRegisterTargetRes(regGot.Body)
	if err != nil {
		t.Fatal(err)
	}
	if regRes.Code != ipt.RegisterTargetOK {
		t.Fatalf("got register code %v, want OK", regRes.Code)
	}

	openReq := ipt.OpenPushChannelReq{Target: "billing", Timeout: 30}
	if err := s.Feed(ipt.Encode(ipt.TPReqOpenPushChannel, 3, openReq.Encode())); err != nil {
		t.Fatal(err)
	}
	openGot := lastFrame(t, w)
	openRes, err := ipt.DecodeOpenPushChannelRes(openGot.Body)
	if err != nil {
		t.Fatal(err)
	}
	if openRes.Code != ipt.OpenPushChannelSuccess {
		t.Fatalf("got open push channel code %v, want success", openRes.Code)
	}

	pushReq := ipt.PushDataTransferReq{Channel: openRes.Channel, Source: openRes.Source, Status: 0xFF, Block: 1, Data: []byte("sml-envelope")}
	if err := s.Feed(ipt.Encode(ipt.TPReqPushDataTransfer, 4, pushReq.Encode())); err != nil {
		t.Fatal(err)
	}
	pushGot := lastFrame(t, w)
	pushRes, err := ipt.DecodePushDataTransferRes(pushGot.Body)
	if err != nil {
		t.Fatal(err)
	}
	if pushRes.Status&ipt.PushDataStatusMask != ipt.PushDataStatusMask {
		t.Fatalf("status bits not preserved: got %#x", pushRes.Status)
	}
}

func TestOpenConnectionRoutesTransparentTrafficToSink(t *testing.T) {
	w := &fakeWriter{}
	sink := &fakeSink{}
	router := fakeRouter{sink: sink, known: true}
	s, err := New("sess-5", Config{Writer: w, Auth: fakeAuth{ok: true}, Router: router})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Stop(true)
	authorize(t, s, w)

	openReq := ipt.OpenConnectionReq{Number: "01234"}
	if err := s.Feed(ipt.Encode(ipt.TPReqOpenConnection, 2, openReq.Encode())); err != nil {
		t.Fatal(err)
	}
	openGot := lastFrame(t, w)
	openRes, err := ipt.DecodeOpenConnectionRes(openGot.Body)
	if err != nil {
		t.Fatal(err)
	}
	if openRes.Code != ipt.OpenConnectionDialupSuccess {
		t.Fatalf("got open connection code %v, want success", openRes.Code)
	}
	if s.State() != StateLinked {
		t.Fatalf("got state %s, want LINKED", s.State())
	}

	transparent := ipt.Encode(ipt.Command(0x4242), 3, []byte("device-payload"))
	if err := s.Feed(transparent); err != nil {
		t.Fatal(err)
	}
	if len(sink.fed) != 1 || string(sink.fed[0]) != "device-payload" {
		t.Fatalf("expected transparent payload forwarded to sink, got %+v", sink.fed)
	}
}

func TestSendTransparentRequiresLinkedConnection(t *testing.T) {
	w := &fakeWriter{}
	s, err := New("sess-7", Config{Writer: w, Auth: fakeAuth{ok: true}})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Stop(true)
	authorize(t, s, w)

	if err := s.SendTransparent([]byte("downlink")); err == nil {
		t.Fatal("expected an error sending transparent data without a linked connection")
	}

	router := fakeRouter{sink: &fakeSink{}, known: true}
	s2, err := New("sess-8", Config{Writer: w, Auth: fakeAuth{ok: true}, Router: router})
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Stop(true)
	authorize(t, s2, w)
	if err := s2.Feed(ipt.Encode(ipt.TPReqOpenConnection, 2, ipt.OpenConnectionReq{Number: "01234"}.Encode())); err != nil {
		t.Fatal(err)
	}

	if err := s2.SendTransparent([]byte("downlink")); err != nil {
		t.Fatalf("expected transparent send to succeed once linked: %v", err)
	}
	got := lastFrame(t, w)
	if got.Command != ipt.TransparentData || string(got.Body) != "downlink" {
		t.Fatalf("got frame %+v, want transparent data payload", got)
	}
}

func TestScrambledLoginResponseIsFirstFrameUnderNewKey(t *testing.T) {
	w := &fakeWriter{}
	s, err := New("sess-9", Config{Writer: w, Auth: fakeAuth{ok: true}})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Stop(true)

	var newKey scramble.Key
	for i := range newKey {
		newKey[i] = byte(i + 1)
	}
	req := ipt.LoginScrambledReq{Name: "operator", Pwd: "secret", NewKey: newKey}
	if err := s.Feed(ipt.Encode(ipt.CtrlReqLoginScrambled, 1, req.Encode())); err != nil {
		t.Fatal(err)
	}

	raw := w.written[len(w.written)-1]
	// A reader that has not switched keys must not see a valid login
	// response in the scrambled bytes.
	if frame, consumed, err := ipt.Decode(raw); err == nil && consumed == len(raw) && frame.Command == ipt.CtrlResLoginScrambled {
		t.Fatal("response readable without the new scramble key")
	}

	dec := scramble.NewState(newKey)
	plain := dec.Transform(nil, raw)
	frame, consumed, err := ipt.Decode(plain)
	if err != nil || consumed != len(plain) {
		t.Fatalf("decode under new key: %v (consumed %d of %d)", err, consumed, len(plain))
	}
	if frame.Command != ipt.CtrlResLoginScrambled {
		t.Fatalf("got command %s, want CTRL_RES_LOGIN_SCRAMBLED", frame.Command)
	}
	res, err := ipt.DecodeLoginRes(frame.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !ipt.IsLoginSuccess(res.Code) {
		t.Fatalf("got login code %v, want success", res.Code)
	}
	if s.State() != StateAuthorized {
		t.Fatalf("got state %s, want AUTHORIZED", s.State())
	}
}

func TestOpenConnectionRejectedForUnknownNumber(t *testing.T) {
	w := &fakeWriter{}
	router := fakeRouter{known: false}
	s, err := New("sess-6", Config{Writer: w, Auth: fakeAuth{ok: true}, Router: router})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Stop(true)
	authorize(t, s, w)

	openReq := ipt.OpenConnectionReq{Number: "unknown"}
	if err := s.Feed(ipt.Encode(ipt.TPReqOpenConnection, 2, openReq.Encode())); err != nil {
		t.Fatal(err)
	}
	openGot := lastFrame(t, w)
	openRes, err := ipt.DecodeOpenConnectionRes(openGot.Body)
	if err != nil {
		t.Fatal(err)
	}
	if openRes.Code != ipt.OpenConnectionDialupFailed {
		t.Fatalf("got open connection code %v, want dialup failed", openRes.Code)
	}
	if s.State() != StateAuthorized {
		t.Fatalf("got state %s, want AUTHORIZED (unchanged)", s.State())
	}
}
