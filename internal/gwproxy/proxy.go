// Package gwproxy implements the gateway proxy: a per-gateway
// command queue that serialises back-office SML requests onto one IP-T
// session and correlates asynchronous responses by transaction id.
package gwproxy

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/smgw-cluster/segw-core/pkg/log"
	"github.com/smgw-cluster/segw-core/pkg/obis"
	"github.com/smgw-cluster/segw-core/pkg/sml"
)

// State is the proxy's redirect state machine. Transitions are driven
// by messages from the session task; there is no implicit suspension.
type State int

const (
	StateOffline State = iota
	StateWaiting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateOffline:
		return "OFFLINE"
	case StateWaiting:
		return "WAITING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// RequestKind selects which SML request a ProxyData entry carries.
type RequestKind int

const (
	KindGetProcParameter RequestKind = iota
	KindSetProcParameter
	KindGetProfileList
	KindGetList
)

// ProxyData is the transaction correlation record: it
// carries the originating cluster/web-session tags, the target gateway,
// the request payload, and its position in the queue.
type ProxyData struct {
	ClusterTag    string
	WebSessionTag string
	ClusterSeq    uint64
	GatewayKey    string
	Kind          RequestKind

	Path     obis.Path // GetProcParameter / SetProcParameter
	Value    sml.Value // SetProcParameter
	Class    obis.Code // GetProfileList
	Begin    uint32    // GetProfileList
	End      uint32    // GetProfileList
	ListName obis.Code // GetList

	ServerID []byte
	Username []byte
	Password []byte
	QueuePos int
}

// SessionWriter is the per-gateway IP-T session the proxy serialises SML
// envelopes onto; exactly one writer exists per gateway session.
type SessionWriter interface {
	Send(data []byte) error
}

// Forwarder publishes a correlated response or attention to the
// originating cluster peer/web session.
type Forwarder interface {
	Forward(pd ProxyData, msg sml.Message)
	ForwardAttention(pd ProxyData, code obis.Code)
}

// Proxy is the per-gateway queue, output map, and state machine. The
// SML parser lives here, not in the IP-T session: the session
// unscrambles and deframes, the proxy turns the bytes into messages.
type Proxy struct {
	mu           sync.Mutex
	gatewayKey   string
	state        State
	queue        []ProxyData
	outputMap    map[string]ProxyData
	openRequests int

	generator *sml.Generator
	fileIDs   *sml.FileIDGenerator
	parser    *sml.Parser
	session   SessionWriter
	forward   Forwarder

	log log.Component
}

// New creates a Proxy for gatewayKey (the TGateway primary key) that
// forwards correlated results via forward.
func New(gatewayKey string, forward Forwarder) *Proxy {
	p := &Proxy{
		gatewayKey: gatewayKey,
		state:      StateOffline,
		outputMap:  make(map[string]ProxyData),
		generator:  sml.NewGenerator(uuid.NewString()[:6]),
		fileIDs:    sml.NewFileIDGenerator(0),
		forward:    forward,
		log:        log.Named("gwproxy:" + gatewayKey),
	}
	p.parser = sml.NewParser(p.handleMessage, func(err error) {
		p.log.Warnf("sml parse error, resyncing: %v", err)
	})
	return p
}

// Key returns the gateway primary key this proxy serialises commands
// for, used by callers that enumerate known gateways as devices for
// the ROOT_ACTIVE_DEVICES / ROOT_VISIBLE_DEVICES trees.
func (p *Proxy) Key() string { return p.gatewayKey }

// State returns the proxy's current redirect state.
func (p *Proxy) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// QueueLen reports the number of pending requests, for metrics.
func (p *Proxy) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Enqueue appends a request to the gateway's queue. If the proxy is
// OFFLINE this requests a session redirect and moves the proxy to
// WAITING; the caller (cluster bus) is
// expected to arrange for the owning session to dial or accept the
// gateway and call AttachSession.
func (p *Proxy) Enqueue(pd ProxyData) {
	p.mu.Lock()
	pd.QueuePos = len(p.queue)
	p.queue = append(p.queue, pd)
	wasOffline := p.state == StateOffline
	if wasOffline {
		p.state = StateWaiting
	}
	p.mu.Unlock()

	if wasOffline {
		p.log.Infof("queue non-empty, requesting session redirect")
	} else {
		p.runWorkCycle()
	}
}

// AttachSession transitions WAITING -> CONNECTED once the owning IP-T
// session is ready to carry SML traffic, then drains the queue. A
// timeout waiting for readiness is not modelled here — the queue simply
// remains pending until AttachSession is eventually called.
func (p *Proxy) AttachSession(session SessionWriter) {
	p.mu.Lock()
	p.session = session
	if p.state == StateWaiting || p.state == StateOffline {
		p.state = StateConnected
	}
	p.mu.Unlock()
	p.runWorkCycle()
}

// Feed hands the proxy decrypted/unscrambled SML bytes read from the
// gateway's session; decoded responses are routed to handleMessage.
func (p *Proxy) Feed(data []byte) {
	p.parser.Feed(data)
}

// Detach returns the proxy to OFFLINE and clears orphaned output-map
// entries, used when the session disconnects mid-queue.
func (p *Proxy) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = nil
	p.state = StateOffline
	p.openRequests = 0
	for trx := range p.outputMap {
		delete(p.outputMap, trx)
	}
	p.parser.Reset()
}

// runWorkCycle runs the proxy work cycle: dequeue one
// request, open an SML envelope, emit the payload, close, box, send; loop
// while CONNECTED and the queue is non-empty.
func (p *Proxy) runWorkCycle() {
	for {
		p.mu.Lock()
		if p.state != StateConnected || p.session == nil || len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		pd := p.queue[0]
		p.queue = p.queue[1:]
		session := p.session
		p.mu.Unlock()

		if err := p.emitEnvelope(session, pd); err != nil {
			p.log.Errorf("emit envelope: %v", err)
		}
	}
}

// emitEnvelope performs steps 2-5 of the work cycle: public_open_req
// with a fresh file-id, one payload message recorded in the output map,
// public_close_req, box, and send.
func (p *Proxy) emitEnvelope(session SessionWriter, pd ProxyData) error {
	p.mu.Lock()
	fileID := p.fileIDs.Next()
	p.generator.PublicOpen(nil, fileID, pd.ServerID, pd.Username, pd.Password)

	var trx string
	switch pd.Kind {
	case KindGetProcParameter:
		trx = p.generator.GetProcParameter(pd.ServerID, pd.Username, pd.Password, pd.Path)
	case KindSetProcParameter:
		trx = p.generator.SetProcParameter(pd.ServerID, pd.Username, pd.Password, pd.Path, pd.Value)
	case KindGetProfileList:
		trx = p.generator.GetProfileList(pd.ServerID, pd.Username, pd.Password, pd.Class, pd.Begin, pd.End)
	case KindGetList:
		trx = p.generator.GetList(pd.ServerID, pd.Username, pd.Password, pd.ListName)
	default:
		p.mu.Unlock()
		return fmt.Errorf("gwproxy: unknown request kind %v", pd.Kind)
	}
	p.outputMap[trx] = pd
	p.openRequests++

	p.generator.PublicClose()
	boxed := p.generator.Boxing()
	p.mu.Unlock()

	return session.Send(boxed)
}

// handleMessage is the parser's message callback: it correlates each
// decoded response by trx and forwards it, and tracks envelope
// completion via public_close_res.
func (p *Proxy) handleMessage(msg sml.Message) {
	if msg.Choice == sml.BodyPublicOpenRes {
		// The open response answers the envelope, not a queued request.
		return
	}
	if msg.Choice == sml.BodyPublicCloseRes {
		p.mu.Lock()
		if p.openRequests > 0 {
			p.openRequests--
		}
		idle := len(p.queue) == 0 && p.openRequests == 0
		if idle {
			p.state = StateOffline
			p.session = nil
		}
		p.mu.Unlock()
		return
	}

	if att, ok := msg.Body.(sml.AttentionRes); ok {
		p.mu.Lock()
		pd, found := p.outputMap[msg.Trx]
		if found {
			delete(p.outputMap, msg.Trx)
		}
		p.mu.Unlock()

		if !found {
			name, _ := obis.AttentionName(att.Code)
			p.log.Warnf("attention %s (trx %s) for unknown transaction, ignoring", name, msg.Trx)
			return
		}
		if p.forward != nil {
			p.forward.ForwardAttention(pd, att.Code)
		}
		return
	}

	p.mu.Lock()
	pd, found := p.outputMap[msg.Trx]
	if found {
		delete(p.outputMap, msg.Trx)
	}
	p.mu.Unlock()

	if !found {
		// A missing trx is logged; the session is not torn down — the
		// device is trusted to recover on close.
		p.log.Warnf("response trx %q has no matching request", msg.Trx)
		return
	}
	if p.forward != nil {
		p.forward.Forward(pd, msg)
	}
}
