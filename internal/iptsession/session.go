// Package iptsession implements the IP-T server-side session state
// machine: scramble handshake, login, and the multiplex of push
// channels against at most one point-to-point connection at a time.
package iptsession

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/smgw-cluster/segw-core/internal/store"
	"github.com/smgw-cluster/segw-core/pkg/ipt"
	"github.com/smgw-cluster/segw-core/pkg/log"
	"github.com/smgw-cluster/segw-core/pkg/scramble"
)

// State is one of the four states a connection moves through.
type State int

const (
	StateConnected State = iota
	StateAuthorized
	StateLinked
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "CONNECTED"
	case StateAuthorized:
		return "AUTHORIZED"
	case StateLinked:
		return "LINKED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Writer is the raw TCP connection a Session writes scrambled IP-T frames
// to. Exactly one Session owns one Writer; reads and writes each have a
// single owner per endpoint.
type Writer interface {
	Write([]byte) error
	Close() error
}

// Authenticator validates login credentials against the config store; the
// SQLite-backed config layer implements it in the full gateway.
type Authenticator interface {
	Authenticate(name, pwd string) (ok bool, accountLocked bool)
}

// ConnectionRouter finds the gwproxy.Proxy (or equivalent transparent
// target) a LINKED connection's traffic should be routed to, keyed by the
// dialled number/target from OpenConnectionReq.
type ConnectionRouter interface {
	// Route returns a Sink to feed transparent transfer bytes to, and
	// whether number was recognised.
	Route(number string) (Sink, bool)
}

// Sink receives the transparent payload carried once a connection is
// LINKED — typically a gwproxy.Proxy's Feed method.
type Sink interface {
	Feed([]byte)
}

// Counters is the (rx, sx, px) triple republished to the "session" cache
// table on every I/O completion.
type Counters struct {
	Rx uint64
	Sx uint64
	Px uint64
}

// Session is one TCP connection's IP-T state machine.
type Session struct {
	mu    sync.Mutex
	tag   string
	state State

	codec   *scramble.Codec
	decoder ipt.Decoder
	seq     ipt.Sequence

	writer Writer
	auth   Authenticator
	router ConnectionRouter

	counters Counters
	sessions *store.Table

	// allowSuperseding mirrors the connection-superseding config flag: an
	// open-connection request arriving while the peer is busy either
	// supersedes the existing connection or is rejected.
	allowSuperseding bool
	activeConn       string // dialled number of the current LINKED connection, "" if none
	sink             Sink

	targets map[string]ipt.RegisterTargetReq // registered push targets by name
	nextChannel uint32

	onLink   func(number string, session *Session)
	onUnlink func(number string)

	scheduler     gocron.Scheduler
	gatekeeperJob gocron.Job

	log log.Component
}

// Config bundles the construction-time dependencies and tunables a
// Session needs; every collaborator is handed over at construction.
type Config struct {
	Writer           Writer
	Auth             Authenticator
	Router           ConnectionRouter
	Sessions         *store.Table
	GatekeeperGrace  time.Duration
	AllowSuperseding bool

	// OnLink, if set, is called once a connection transitions to LINKED,
	// so the caller can attach this Session as the routed Sink's
	// SessionWriter (the gateway proxy writes back down the same
	// connection it was routed through).
	OnLink func(number string, session *Session)

	// OnUnlink is the counterpart, called when the connection closes or
	// the session stops while LINKED, so the caller can detach the Sink.
	OnUnlink func(number string)
}

// New creates a CONNECTED Session identified by tag (cmd/iptmaster uses
// "ipt-" plus the remote address) and starts its gatekeeper timer.
func New(tag string, cfg Config) (*Session, error) {
	if cfg.GatekeeperGrace <= 0 {
		cfg.GatekeeperGrace = 30 * time.Second
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("iptsession: scheduler: %w", err)
	}

	sess := &Session{
		tag:              tag,
		state:            StateConnected,
		codec:            scramble.NewCodec(),
		writer:           cfg.Writer,
		auth:             cfg.Auth,
		router:           cfg.Router,
		sessions:         cfg.Sessions,
		allowSuperseding: cfg.AllowSuperseding,
		onLink:           cfg.OnLink,
		onUnlink:         cfg.OnUnlink,
		targets:          make(map[string]ipt.RegisterTargetReq),
		scheduler:        s,
		log:              log.Named("iptsession:" + tag),
	}

	job, err := s.NewJob(
		gocron.DurationJob(cfg.GatekeeperGrace),
		gocron.NewTask(sess.gatekeeperFire),
		gocron.WithLimitedRuns(1),
	)
	if err != nil {
		return nil, fmt.Errorf("iptsession: gatekeeper job: %w", err)
	}
	sess.gatekeeperJob = job
	s.Start()

	sess.republishCounters()
	return sess, nil
}

// Tag returns the session's identifying tag, used as its key in the
// "session" cache table and as the cluster-routing tag for this
// connection.
func (s *Session) Tag() string { return s.tag }

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// gatekeeperFire closes the session if login has not completed within
// the configured grace period.
func (s *Session) gatekeeperFire() {
	s.mu.Lock()
	stillConnected := s.state == StateConnected
	s.mu.Unlock()
	if stillConnected {
		s.log.Warnf("gatekeeper: login not completed within grace period, closing")
		s.Stop(false)
	}
}

func (s *Session) cancelGatekeeper() {
	if s.gatekeeperJob != nil {
		_ = s.scheduler.RemoveJob(s.gatekeeperJob.ID())
		s.gatekeeperJob = nil
	}
}

// Feed decodes newly received bytes into IP-T frames and dispatches
// each in order; messages belonging to one envelope stay ordered.
func (s *Session) Feed(data []byte) error {
	s.mu.Lock()
	plain := s.codec.Decoder.Transform(nil, data)
	s.counters.Rx += uint64(len(data))
	s.mu.Unlock()
	s.republishCounters()

	return s.decoder.Feed(plain, s.dispatch)
}

func (s *Session) dispatch(frame ipt.Frame) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	switch {
	case frame.Command == ipt.CtrlReqLoginPublic:
		s.handleLoginPublic(frame)
	case frame.Command == ipt.CtrlReqLoginScrambled:
		s.handleLoginScrambled(frame)
	case frame.Command == ipt.CtrlReqRegisterTarget && state == StateAuthorized:
		s.handleRegisterTarget(frame)
	case frame.Command == ipt.CtrlReqDeregisterTarget && state == StateAuthorized:
		s.handleDeregisterTarget(frame)
	case frame.Command == ipt.TPReqOpenPushChannel && state == StateAuthorized:
		s.handleOpenPushChannel(frame)
	case frame.Command == ipt.TPReqClosePushChannel:
		s.handleClosePushChannel(frame)
	case frame.Command == ipt.TPReqPushDataTransfer:
		s.handlePushDataTransfer(frame)
	case frame.Command == ipt.TPReqOpenConnection && (state == StateAuthorized || state == StateLinked):
		s.handleOpenConnection(frame)
	case frame.Command == ipt.TPReqCloseConnection && state == StateLinked:
		s.handleCloseConnection(frame)
	case state == StateLinked:
		s.handleTransparentTransfer(frame)
	default:
		s.log.Warnf("frame %s ignored in state %s", frame.Command, state)
	}
}

func (s *Session) handleLoginPublic(frame ipt.Frame) {
	req, err := ipt.DecodeLoginPublicReq(frame.Body)
	if err != nil {
		s.log.Warnf("malformed login public request: %v", err)
		s.Stop(false)
		return
	}
	s.completeLogin(frame.Seq, req.Name, req.Pwd, nil)
}

func (s *Session) handleLoginScrambled(frame ipt.Frame) {
	req, err := ipt.DecodeLoginScrambledReq(frame.Body)
	if err != nil {
		s.log.Warnf("malformed login scrambled request: %v", err)
		s.Stop(false)
		return
	}
	s.completeLogin(frame.Seq, req.Name, req.Pwd, &req.NewKey)
}

// completeLogin implements the scrambled-key switch ordering: the login
// response is the first frame sent under the new key, so both scrambler
// directions switch before the response is written — the peer installed
// its receive side right after sending the request, and its own
// subsequent frames arrive under the new key too.
func (s *Session) completeLogin(reqSeq uint8, name, pwd string, newKey *scramble.Key) {
	ok, locked := true, false
	if s.auth != nil {
		ok, locked = s.auth.Authenticate(name, pwd)
	}

	code := ipt.LoginUnknownAccount
	switch {
	case ok && locked:
		code = ipt.LoginAccountLocked
	case ok:
		code = ipt.LoginSuccess
	}

	res := ipt.LoginRes{Code: code, Watchdog: 30}
	cmd := ipt.CtrlResLoginPublic
	if newKey != nil {
		cmd = ipt.CtrlResLoginScrambled
	}
	if newKey != nil && ipt.IsLoginSuccess(code) {
		s.mu.Lock()
		s.codec.SetKey(*newKey)
		s.mu.Unlock()
	}
	s.sendFrame(cmd, reqSeq, res.Encode())

	if !ipt.IsLoginSuccess(code) {
		s.log.Warnf("login failed for %q: %s", name, code)
		s.Stop(false)
		return
	}

	s.mu.Lock()
	s.state = StateAuthorized
	s.mu.Unlock()
	s.cancelGatekeeper()
}

func (s *Session) handleRegisterTarget(frame ipt.Frame) {
	req, err := ipt.DecodeRegisterTargetReq(frame.Body)
	if err != nil {
		s.log.Warnf("malformed register target: %v", err)
		return
	}
	s.mu.Lock()
	s.nextChannel++
	channel := s.nextChannel
	s.targets[req.Name] = req
	s.mu.Unlock()

	res := ipt.RegisterTargetRes{Code: ipt.RegisterTargetOK, Channel: channel}
	s.sendFrame(ipt.CtrlResRegisterTarget, frame.Seq, res.Encode())
}

func (s *Session) handleDeregisterTarget(frame ipt.Frame) {
	req, err := ipt.DecodeDeregisterTargetReq(frame.Body)
	if err != nil {
		s.log.Warnf("malformed deregister target: %v", err)
		return
	}
	s.mu.Lock()
	delete(s.targets, req.Name)
	s.mu.Unlock()
}

func (s *Session) handleOpenPushChannel(frame ipt.Frame) {
	req, err := ipt.DecodeOpenPushChannelReq(frame.Body)
	if err != nil {
		s.log.Warnf("malformed open push channel: %v", err)
		return
	}
	s.mu.Lock()
	_, known := s.targets[req.Target]
	s.nextChannel++
	channel := s.nextChannel
	s.mu.Unlock()

	code := ipt.OpenPushChannelUnreachable
	if known {
		code = ipt.OpenPushChannelSuccess
	}
	res := ipt.OpenPushChannelRes{Code: code, Channel: channel, Source: channel, PacketSize: 512, WindowSize: 1}
	s.sendFrame(ipt.TPResOpenPushChannel, frame.Seq, res.Encode())
}

func (s *Session) handleClosePushChannel(frame ipt.Frame) {
	req, err := ipt.DecodeClosePushChannelReq(frame.Body)
	if err != nil {
		s.log.Warnf("malformed close push channel: %v", err)
		return
	}
	res := ipt.ClosePushChannelRes{Code: ipt.ClosePushChannelSuccess, Channel: req.Channel}
	s.sendFrame(ipt.TPResClosePushChannel, frame.Seq, res.Encode())
}

// handlePushDataTransfer acknowledges a push-data transfer, preserving
// the status byte's 0xC1 bits round-trip and bumping the
// px counter.
func (s *Session) handlePushDataTransfer(frame ipt.Frame) {
	req, err := ipt.DecodePushDataTransferReq(frame.Body)
	if err != nil {
		s.log.Warnf("malformed push data transfer: %v", err)
		return
	}
	s.mu.Lock()
	s.counters.Px += uint64(len(req.Data))
	s.mu.Unlock()
	s.republishCounters()

	res := ipt.PushDataTransferRes{
		Code:    ipt.PushDataTransferSuccess,
		Channel: req.Channel,
		Source:  req.Source,
		Status:  req.Status & ipt.PushDataStatusMask,
		Block:   req.Block,
	}
	s.sendFrame(ipt.TPResPushDataTransfer, frame.Seq, res.Encode())
}

// handleOpenConnection enforces the multiplexing rule: a session
// holds at most one point-to-point connection; a request arriving while
// one is active either supersedes it (closing the old one) or is
// rejected, per the allowSuperseding config flag.
func (s *Session) handleOpenConnection(frame ipt.Frame) {
	req, err := ipt.DecodeOpenConnectionReq(frame.Body)
	if err != nil {
		s.log.Warnf("malformed open connection: %v", err)
		return
	}

	s.mu.Lock()
	busy := s.activeConn != ""
	if busy && !s.allowSuperseding {
		s.mu.Unlock()
		res := ipt.OpenConnectionRes{Code: ipt.OpenConnectionDialupFailed}
		s.sendFrame(ipt.TPResOpenConnection, frame.Seq, res.Encode())
		return
	}
	previous := s.activeConn
	s.mu.Unlock()

	var sink Sink
	found := true
	if s.router != nil {
		sink, found = s.router.Route(req.Number)
	}
	if !found {
		res := ipt.OpenConnectionRes{Code: ipt.OpenConnectionDialupFailed}
		s.sendFrame(ipt.TPResOpenConnection, frame.Seq, res.Encode())
		return
	}

	s.mu.Lock()
	s.activeConn = req.Number
	s.sink = sink
	s.state = StateLinked
	s.mu.Unlock()

	res := ipt.OpenConnectionRes{Code: ipt.OpenConnectionDialupSuccess}
	s.sendFrame(ipt.TPResOpenConnection, frame.Seq, res.Encode())

	if previous != "" && s.onUnlink != nil {
		s.onUnlink(previous)
	}
	if s.onLink != nil {
		s.onLink(req.Number, s)
	}
}

func (s *Session) handleCloseConnection(frame ipt.Frame) {
	s.mu.Lock()
	number := s.activeConn
	s.activeConn = ""
	s.sink = nil
	s.state = StateAuthorized
	s.mu.Unlock()

	res := ipt.CloseConnectionRes{Code: ipt.CloseConnectionClearingSucceeded}
	s.sendFrame(ipt.TPResCloseConnection, frame.Seq, res.Encode())

	if s.onUnlink != nil && number != "" {
		s.onUnlink(number)
	}
}

// handleTransparentTransfer forwards a LINKED connection's payload bytes
// unexamined to the routed Sink, the work-cycle transport for whatever
// protocol rides inside the connection (SML over the gateway proxy in
// this gateway's case).
func (s *Session) handleTransparentTransfer(frame ipt.Frame) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink != nil {
		sink.Feed(frame.Body)
	}
}

// SendTransparent writes data down the currently LINKED connection using
// the same framing the device's own transparent traffic arrives in
// (the gateway proxy's SessionWriter). It returns an error when no
// connection is LINKED.
func (s *Session) SendTransparent(data []byte) error {
	s.mu.Lock()
	linked := s.state == StateLinked
	s.mu.Unlock()
	if !linked {
		return fmt.Errorf("iptsession: %s: no linked connection to send on", s.tag)
	}
	s.sendFrame(ipt.TransparentData, 0, data)
	return nil
}

// sendFrame scrambles, sequences, and writes one outbound frame, then
// republishes the sx counter.
func (s *Session) sendFrame(cmd ipt.Command, reqSeq uint8, body []byte) {
	s.mu.Lock()
	seq := reqSeq
	if seq == 0 {
		seq = s.seq.Next()
	}
	plain := ipt.Encode(cmd, seq, body)
	scrambled := s.codec.Encoder.Transform(nil, plain)
	s.counters.Sx += uint64(len(scrambled))
	writer := s.writer
	s.mu.Unlock()

	if writer != nil {
		if err := writer.Write(scrambled); err != nil {
			s.log.Errorf("write failed: %v", err)
		}
	}
	s.republishCounters()
}

func (s *Session) republishCounters() {
	if s.sessions == nil {
		return
	}
	s.mu.Lock()
	c := s.counters
	s.mu.Unlock()

	if !s.sessions.Insert(s.tag, c, 1, s.tag) {
		s.sessions.Modify(s.tag, c, s.tag)
	}
}

// Stop releases the session's resources. With shutdown=true the process
// is exiting and the session must not perform further network I/O. When shutdown is false this is an
// ordinary close (gatekeeper timeout, EOF, protocol error).
func (s *Session) Stop(shutdown bool) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	writer := s.writer
	number := s.activeConn
	s.activeConn = ""
	s.sink = nil
	s.mu.Unlock()

	if s.onUnlink != nil && number != "" {
		s.onUnlink(number)
	}

	s.cancelGatekeeper()
	// Shutdown runs async: the gatekeeper job itself calls Stop from
	// inside the scheduler's own execution goroutine, and Shutdown
	// blocks until in-flight jobs return.
	go func() { _ = s.scheduler.Shutdown() }()

	if !shutdown && writer != nil {
		_ = writer.Close()
	}
	if s.sessions != nil {
		s.sessions.Erase(s.tag, s.tag)
	}
}
