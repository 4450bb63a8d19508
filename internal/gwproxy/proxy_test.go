package gwproxy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smgw-cluster/segw-core/pkg/obis"
	"github.com/smgw-cluster/segw-core/pkg/sml"
)

type fakeSession struct {
	sent [][]byte
}

func (f *fakeSession) Send(data []byte) error {
	f.sent = append(f.sent, data)
	return nil
}

type fakeForwarder struct {
	forwarded  []sml.Message
	attentions []obis.Code
	pds        []ProxyData
}

func (f *fakeForwarder) Forward(pd ProxyData, msg sml.Message) {
	f.pds = append(f.pds, pd)
	f.forwarded = append(f.forwarded, msg)
}

func (f *fakeForwarder) ForwardAttention(pd ProxyData, code obis.Code) {
	f.pds = append(f.pds, pd)
	f.attentions = append(f.attentions, code)
}

// decodeBoxed pulls every Message out of one boxed transmission.
func decodeBoxed(t *testing.T, boxed []byte) []sml.Message {
	t.Helper()
	var msgs []sml.Message
	p := sml.NewParser(func(m sml.Message) { msgs = append(msgs, m) }, func(err error) {
		t.Fatalf("unexpected parse error: %v", err)
	})
	p.Feed(boxed)
	return msgs
}

func findGetProcParameterReq(t *testing.T, msgs []sml.Message) sml.Message {
	t.Helper()
	for _, m := range msgs {
		if m.Choice == sml.BodyGetProcParameterReq {
			return m
		}
	}
	t.Fatal("no GetProcParameterReq in boxed output")
	return sml.Message{}
}

func TestWorkCycleEmitsOpenPayloadClose(t *testing.T) {
	fwd := &fakeForwarder{}
	p := New("gw-1", fwd)
	sess := &fakeSession{}

	pd := ProxyData{
		GatewayKey: "gw-1",
		Kind:       KindGetProcParameter,
		Path:       obis.Path{obis.RootDeviceIdent},
		ServerID:   []byte("01-meter"),
	}
	p.Enqueue(pd)
	require.Equal(t, StateWaiting, p.State())

	p.AttachSession(sess)
	require.Equal(t, StateConnected, p.State())
	require.Len(t, sess.sent, 1)

	msgs := decodeBoxed(t, sess.sent[0])
	require.Len(t, msgs, 3)
	require.Equal(t, sml.BodyPublicOpenReq, msgs[0].Choice)
	require.Equal(t, sml.BodyGetProcParameterReq, msgs[1].Choice)
	require.Equal(t, sml.BodyPublicCloseReq, msgs[2].Choice)
}

func TestResponseCorrelationAndCloseTransitionsOffline(t *testing.T) {
	fwd := &fakeForwarder{}
	p := New("gw-1", fwd)
	sess := &fakeSession{}

	p.Enqueue(ProxyData{
		GatewayKey: "gw-1",
		Kind:       KindGetProcParameter,
		Path:       obis.Path{obis.RootDeviceIdent},
		ServerID:   []byte("01-meter"),
	})
	p.AttachSession(sess)

	msgs := decodeBoxed(t, sess.sent[0])
	reqTrx := findGetProcParameterReq(t, msgs).Trx

	resTree := sml.Leaf(obis.DataManufacturer, sml.OctetStr("ACME"))
	response := sml.Message{
		Trx:    reqTrx,
		Choice: sml.BodyGetProcParameterRes,
		Body: sml.GetProcParameterRes{
			ServerID:      []byte("01-meter"),
			Path:          obis.Path{obis.RootDeviceIdent},
			ParameterTree: resTree,
		},
	}
	closeRes := sml.Message{Trx: "close-1", Choice: sml.BodyPublicCloseRes, Body: sml.PublicCloseRes{}}

	p.Feed(sml.Box([]sml.Message{response, closeRes}))

	require.Len(t, fwd.forwarded, 1)
	require.Equal(t, sml.BodyGetProcParameterRes, fwd.forwarded[0].Choice)
	require.Equal(t, StateOffline, p.State())
}

func TestMissingTrxIsLoggedNotFatal(t *testing.T) {
	fwd := &fakeForwarder{}
	p := New("gw-1", fwd)
	sess := &fakeSession{}
	p.AttachSession(sess)

	unknown := sml.Message{Trx: "no-such-trx", Choice: sml.BodyGetProcParameterRes, Body: sml.GetProcParameterRes{
		ServerID: []byte("x"), ParameterTree: sml.Leaf(obis.RootDeviceIdent, sml.Null()),
	}}
	p.Feed(sml.Box([]sml.Message{unknown}))

	require.Empty(t, fwd.forwarded)
	require.Equal(t, StateConnected, p.State())
}
