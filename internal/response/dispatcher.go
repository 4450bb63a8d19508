package response

import (
	"sync"

	"github.com/smgw-cluster/segw-core/pkg/log"
	"github.com/smgw-cluster/segw-core/pkg/obis"
	"github.com/smgw-cluster/segw-core/pkg/sml"
)

// Writer is the downlink a Dispatcher writes boxed responses to,
// typically the LINKED IP-T session's transparent channel.
type Writer interface {
	Send(data []byte) error
}

// Dispatcher is the answering side of the SML exchange: it decodes each
// inbound request envelope off the wire, asks the Engine for the
// matching response (or attention), and writes the boxed replies back
// once the envelope closes. It implements the same transparent-data
// sink contract the gateway proxy's requester side does, so a session's
// router can hand local traffic here and remote traffic there.
type Dispatcher struct {
	mu       sync.Mutex
	engine   *Engine
	oplog    OpLogReader
	serverID []byte
	parser   *sml.Parser
	writer   Writer
	pending  []sml.Message
	log      log.Component
}

// NewDispatcher builds a Dispatcher answering with serverID as its own
// identity. oplog may be nil, in which case GetProfileList requests
// yield an attention.
func NewDispatcher(engine *Engine, oplog OpLogReader, serverID []byte) *Dispatcher {
	d := &Dispatcher{engine: engine, oplog: oplog, serverID: serverID, log: log.Named("response")}
	d.parser = sml.NewParser(d.handle, func(err error) {
		d.log.Warnf("sml parse error, resyncing: %v", err)
	})
	return d
}

// Attach binds the downlink the next responses are written to; nil
// detaches it and discards any half-assembled envelope.
func (d *Dispatcher) Attach(w Writer) {
	d.mu.Lock()
	d.writer = w
	d.pending = nil
	d.mu.Unlock()
	if w == nil {
		d.parser.Reset()
	}
}

// Feed hands the dispatcher raw SML bytes from a LINKED session.
func (d *Dispatcher) Feed(data []byte) {
	d.parser.Feed(data)
}

func (d *Dispatcher) reply(trx string, choice sml.BodyChoice, body sml.MessageBody) {
	d.pending = append(d.pending, sml.Message{Trx: trx, Choice: choice, Body: body})
}

func (d *Dispatcher) handle(msg sml.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch body := msg.Body.(type) {
	case sml.PublicOpenReq:
		d.reply(msg.Trx, sml.BodyPublicOpenRes, sml.PublicOpenRes{
			ClientID:   body.ClientID,
			ReqFileID:  body.ReqFileID,
			ServerID:   d.serverID,
			SMLVersion: body.SMLVersion,
		})
	case sml.GetProcParameterReq:
		tree, code := d.engine.GetProcParameter(body.Path)
		if code != obis.AttentionOK {
			d.reply(msg.Trx, sml.BodyAttentionRes, sml.AttentionRes{ServerID: d.serverID, Code: code})
			return
		}
		d.reply(msg.Trx, sml.BodyGetProcParameterRes, sml.GetProcParameterRes{
			ServerID:      d.serverID,
			Path:          body.Path,
			ParameterTree: tree,
		})
	case sml.SetProcParameterReq:
		code := d.engine.SetProcParameter(body.Path, body.Value)
		d.reply(msg.Trx, sml.BodyAttentionRes, sml.AttentionRes{ServerID: d.serverID, Code: code})
	case sml.GetProfileListReq:
		results, code, err := d.engine.GetProfileList(d.oplog, d.serverID, body.Class, body.Begin, body.End)
		if err != nil {
			d.log.Errorf("profile list: %v", err)
			d.reply(msg.Trx, sml.BodyAttentionRes, sml.AttentionRes{ServerID: d.serverID, Code: obis.AttentionBusy})
			return
		}
		if code != obis.AttentionOK {
			d.reply(msg.Trx, sml.BodyAttentionRes, sml.AttentionRes{ServerID: d.serverID, Code: code})
			return
		}
		for _, r := range results {
			d.reply(msg.Trx, sml.BodyGetProfileListRes, r)
		}
	case sml.PublicCloseReq:
		d.reply(msg.Trx, sml.BodyPublicCloseRes, sml.PublicCloseRes{})
		d.flushLocked()
	default:
		d.reply(msg.Trx, sml.BodyAttentionRes, sml.AttentionRes{ServerID: d.serverID, Code: obis.AttentionUnknownSmlID})
	}
}

// flushLocked boxes the assembled replies and writes them down the
// attached session. Without a writer the envelope is dropped; the peer
// is expected to retry once a connection is up again.
func (d *Dispatcher) flushLocked() {
	if len(d.pending) == 0 {
		return
	}
	boxed := sml.Box(d.pending)
	d.pending = nil
	if d.writer == nil {
		d.log.Warnf("no downlink attached, dropping %d response bytes", len(boxed))
		return
	}
	if err := d.writer.Send(boxed); err != nil {
		d.log.Errorf("send responses: %v", err)
	}
}
