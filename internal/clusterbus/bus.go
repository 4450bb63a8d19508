// Package clusterbus implements the cluster bus: a NATS-backed
// peer mesh that replicates cache tables, relays push-data to every node's
// local gateway router, and tears down a peer's state cleanly when it is
// lost.
package clusterbus

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/smgw-cluster/segw-core/internal/gwproxy"
	"github.com/smgw-cluster/segw-core/internal/store"
	"github.com/smgw-cluster/segw-core/pkg/log"
	natscli "github.com/smgw-cluster/segw-core/pkg/nats"
	"github.com/smgw-cluster/segw-core/pkg/obis"
	"github.com/smgw-cluster/segw-core/pkg/sml"
)

// Subjects used on the shared NATS connection.
const (
	SubjectLogin       = "bus.req.login"
	SubjectSubscribe   = "bus.req.subscribe"
	SubjectUnsubscribe = "bus.req.unsubscribe"
	SubjectPushData    = "bus.req.push.data"
	SubjectHeartbeat   = "cluster.heartbeat"
	SubjectSysMsg      = "cluster.sysmsg"

	responseSubjectPrefix = "bus.res."
	tableSubjectPrefix    = "bus.tbl."
)

// Severity classifies a SysMsg.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// SysMsg is a cluster-wide administrative notice, published when a peer
// is lost.
type SysMsg struct {
	Severity  Severity `json:"severity"`
	Peer      string   `json:"peer"`
	Text      string   `json:"text"`
	Timestamp int64    `json:"timestamp"`
}

// PeerLogin is the handshake payload a node announces on SubjectLogin.
// Platform and Pid were added after the initial rollout; older
// peers omit them, so decoding must tolerate their absence.
type PeerLogin struct {
	Version    string `json:"version"`
	Account    string `json:"account"`
	Pwd        string `json:"pwd"`
	SessionTag string `json:"session_tag"`
	NodeClass  string `json:"node_class"`
	TzOffset   int32  `json:"tz_offset"`
	Timestamp  int64  `json:"timestamp"`
	Autologin  bool   `json:"autologin"`
	Group      string `json:"group"`
	RemoteEP   string `json:"remote_ep"`
	Platform   string `json:"platform,omitempty"`
	Pid        int32  `json:"pid,omitempty"`
}

// peerRecord is the value stored in the "_Cluster" table, one row per
// known peer keyed by its session tag.
type peerRecord struct {
	Login         PeerLogin
	LastSeen      time.Time
	Subscriptions map[string]bool
}

// GatewayRouter hands a replicated push-data request to whichever local
// gateway proxy owns the target gateway.
type GatewayRouter interface {
	Dispatch(gatewayKey string, pd gwproxy.ProxyData) bool
}

// Bus is one node's cluster-bus endpoint: it authenticates peers, keeps the
// "_Cluster" table current, relays table subscriptions, and routes push-data
// across the mesh.
type Bus struct {
	mu sync.Mutex

	client    *natscli.Client
	selfTag   string
	nodeClass string
	account   string
	pwd       string

	cluster  *store.Table
	registry *store.Registry
	router   GatewayRouter

	scheduler   gocron.Scheduler
	watchdogJob gocron.Job
	heartbeat   time.Duration
	peerTimeout time.Duration

	// published tracks the tables this bus already republishes change
	// events for, so each table gets exactly one publishing listener.
	published map[string]bool

	log log.Component
}

// Config bundles Bus construction dependencies.
type Config struct {
	Client      *natscli.Client
	SelfTag     string
	NodeClass   string
	Account     string
	Pwd         string
	Registry    *store.Registry
	Router      GatewayRouter
	Heartbeat   time.Duration // must be >= 5s
	PeerTimeout time.Duration
}

// New creates a Bus, subscribes to every bus.req.* subject, and starts the
// watchdog heartbeat/sweep task.
func New(cfg Config) (*Bus, error) {
	if cfg.Heartbeat < 5*time.Second {
		cfg.Heartbeat = 5 * time.Second
	}
	if cfg.PeerTimeout <= 0 {
		cfg.PeerTimeout = 3 * cfg.Heartbeat
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("clusterbus: scheduler: %w", err)
	}

	b := &Bus{
		client:      cfg.Client,
		selfTag:     cfg.SelfTag,
		nodeClass:   cfg.NodeClass,
		account:     cfg.Account,
		pwd:         cfg.Pwd,
		cluster:     cfg.Registry.Table("_Cluster"),
		registry:    cfg.Registry,
		router:      cfg.Router,
		scheduler:   s,
		heartbeat:   cfg.Heartbeat,
		peerTimeout: cfg.PeerTimeout,
		log:         log.Named("clusterbus:" + cfg.SelfTag),
	}

	if b.client != nil {
		if err := b.client.Subscribe(SubjectLogin, b.handleLogin); err != nil {
			return nil, fmt.Errorf("clusterbus: subscribe login: %w", err)
		}
		if err := b.client.Subscribe(SubjectSubscribe, b.handleSubscribe); err != nil {
			return nil, fmt.Errorf("clusterbus: subscribe subscribe: %w", err)
		}
		if err := b.client.Subscribe(SubjectUnsubscribe, b.handleUnsubscribe); err != nil {
			return nil, fmt.Errorf("clusterbus: subscribe unsubscribe: %w", err)
		}
		if err := b.client.Subscribe(SubjectPushData, b.handlePushData); err != nil {
			return nil, fmt.Errorf("clusterbus: subscribe push data: %w", err)
		}
		if err := b.client.Subscribe(SubjectHeartbeat, b.handleHeartbeat); err != nil {
			return nil, fmt.Errorf("clusterbus: subscribe heartbeat: %w", err)
		}
	}

	job, err := s.NewJob(
		gocron.DurationJob(cfg.Heartbeat),
		gocron.NewTask(b.watchdogTick),
	)
	if err != nil {
		return nil, fmt.Errorf("clusterbus: watchdog job: %w", err)
	}
	b.watchdogJob = job
	s.Start()

	return b, nil
}

// Login announces this node to the rest of the cluster.
func (b *Bus) Login() error {
	login := PeerLogin{
		Version:    "1",
		Account:    b.account,
		Pwd:        b.pwd,
		SessionTag: b.selfTag,
		NodeClass:  b.nodeClass,
		Timestamp:  time.Now().Unix(),
		Autologin:  true,
	}
	return b.publish(SubjectLogin, login)
}

func (b *Bus) publish(subject string, v any) error {
	if b.client == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("clusterbus: marshal %s: %w", subject, err)
	}
	return b.client.Publish(subject, data)
}

// handleLogin records a peer's announcement in the "_Cluster" table,
// tolerant of pre-platform/pid logins.
func (b *Bus) handleLogin(_ string, data []byte) {
	var login PeerLogin
	if err := json.Unmarshal(data, &login); err != nil {
		b.log.Warnf("malformed peer login: %v", err)
		return
	}
	if login.SessionTag == "" || login.SessionTag == b.selfTag {
		return
	}
	if login.Account != b.account || login.Pwd != b.pwd {
		b.log.Warnf("peer %q rejected: account mismatch", login.SessionTag)
		return
	}

	rec := peerRecord{Login: login, LastSeen: time.Now(), Subscriptions: make(map[string]bool)}
	if !b.cluster.Insert(login.SessionTag, rec, 1, b.selfTag) {
		b.cluster.Modify(login.SessionTag, rec, b.selfTag)
	}
	b.log.Infof("peer %q joined (class %s)", login.SessionTag, login.NodeClass)
}

func (b *Bus) handleHeartbeat(_ string, data []byte) {
	var hb struct {
		SessionTag string `json:"session_tag"`
	}
	if err := json.Unmarshal(data, &hb); err != nil || hb.SessionTag == "" || hb.SessionTag == b.selfTag {
		return
	}
	rec := b.cluster.Lookup(hb.SessionTag)
	if rec == nil {
		return
	}
	pr := rec.Data.(peerRecord)
	pr.LastSeen = time.Now()
	b.cluster.Modify(hb.SessionTag, pr, b.selfTag)
}

// watchdogTick publishes this node's own heartbeat, then sweeps for peers
// that have gone silent past PeerTimeout.
func (b *Bus) watchdogTick() {
	_ = b.publish(SubjectHeartbeat, struct {
		SessionTag string `json:"session_tag"`
	}{SessionTag: b.selfTag})

	var stale []string
	cutoff := time.Now().Add(-b.peerTimeout)
	b.cluster.Loop(func(rec store.Record) bool {
		pr, ok := rec.Data.(peerRecord)
		if ok && pr.LastSeen.Before(cutoff) {
			stale = append(stale, rec.Key)
		}
		return true
	})
	for _, tag := range stale {
		b.dropPeer(tag)
	}
}

// dropPeer implements the peer-loss cleanup: erase its
// row, remove anything it owned, and announce the loss.
func (b *Bus) dropPeer(tag string) {
	b.cluster.Erase(tag, b.selfTag)

	for _, name := range b.registry.Names() {
		tbl := b.registry.Table(name)
		var owned []string
		tbl.Loop(func(rec store.Record) bool {
			if rec.SourceTag == tag {
				owned = append(owned, rec.Key)
			}
			return true
		})
		for _, key := range owned {
			tbl.Erase(key, b.selfTag)
		}
	}

	b.log.Warnf("peer %q lost, state cleaned up", tag)
	_ = b.publish(SubjectSysMsg, SysMsg{
		Severity:  SeverityError,
		Peer:      tag,
		Text:      fmt.Sprintf("peer %q lost (heartbeat timeout)", tag),
		Timestamp: time.Now().Unix(),
	})
}

// tableReplicationMsg is the envelope carried on SubjectSubscribe /
// SubjectUnsubscribe: a peer announcing interest (or loss of interest) in
// a named table's future changes.
type tableReplicationMsg struct {
	PeerTag string `json:"peer_tag"`
	Table   string `json:"table"`
}

// Subscribe announces this node's interest in table's changes to the rest
// of the cluster and applies replicated events into the local table as
// they arrive.
func (b *Bus) Subscribe(table string) error {
	if b.client != nil {
		if err := b.client.Subscribe(tableSubjectPrefix+table, b.handleTableEvent); err != nil {
			return fmt.Errorf("clusterbus: subscribe table %q: %w", table, err)
		}
	}
	return b.publish(SubjectSubscribe, tableReplicationMsg{PeerTag: b.selfTag, Table: table})
}

// Unsubscribe withdraws interest previously announced via Subscribe.
func (b *Bus) Unsubscribe(table string) error {
	return b.publish(SubjectUnsubscribe, tableReplicationMsg{PeerTag: b.selfTag, Table: table})
}

func (b *Bus) handleSubscribe(_ string, data []byte) {
	var msg tableReplicationMsg
	if err := json.Unmarshal(data, &msg); err != nil || msg.PeerTag == "" || msg.PeerTag == b.selfTag {
		return
	}
	rec := b.cluster.Lookup(msg.PeerTag)
	if rec == nil {
		return
	}
	pr := rec.Data.(peerRecord)
	pr.Subscriptions[msg.Table] = true
	b.cluster.Modify(msg.PeerTag, pr, b.selfTag)

	b.ensurePublisher(msg.Table)
	b.replayTable(msg.Table)
}

// tableEventMsg replicates one table change across the mesh. Data is the
// row payload marshalled opaquely; per-table per-source order follows
// NATS subject ordering.
type tableEventMsg struct {
	Origin string          `json:"origin"`
	Table  string          `json:"table"`
	Kind   int             `json:"kind"`
	Key    string          `json:"key"`
	Data   json.RawMessage `json:"data,omitempty"`
	Gen    uint64          `json:"gen"`
}

// ensurePublisher attaches the one listener per table that republishes
// local changes to subscribed peers. Events applied from a remote peer
// are not echoed back: their source tag is a known cluster peer.
func (b *Bus) ensurePublisher(table string) {
	b.mu.Lock()
	if b.published == nil {
		b.published = make(map[string]bool)
	}
	if b.published[table] {
		b.mu.Unlock()
		return
	}
	b.published[table] = true
	b.mu.Unlock()

	b.registry.Table(table).Subscribe(func(ev store.Event) {
		if b.cluster.Lookup(ev.SourceTag) != nil {
			return
		}
		raw, err := json.Marshal(ev.Data)
		if err != nil {
			b.log.Warnf("table %q event %q not replicable: %v", table, ev.Key, err)
			return
		}
		_ = b.publish(tableSubjectPrefix+table, tableEventMsg{
			Origin: b.selfTag, Table: table, Kind: int(ev.Kind),
			Key: ev.Key, Data: raw, Gen: ev.Generation,
		})
	})
}

// replayTable sends a subscriber the table's full current content as
// insert events, ahead of the live listener traffic.
func (b *Bus) replayTable(table string) {
	b.registry.Table(table).Loop(func(rec store.Record) bool {
		raw, err := json.Marshal(rec.Data)
		if err != nil {
			return true
		}
		_ = b.publish(tableSubjectPrefix+table, tableEventMsg{
			Origin: b.selfTag, Table: table, Kind: int(store.EventInsert),
			Key: rec.Key, Data: raw, Gen: rec.Generation,
		})
		return true
	})
}

// handleTableEvent applies one replicated change into the local table,
// owned by the originating peer's tag so peer loss sweeps it away.
func (b *Bus) handleTableEvent(_ string, data []byte) {
	var msg tableEventMsg
	if err := json.Unmarshal(data, &msg); err != nil || msg.Origin == "" || msg.Origin == b.selfTag {
		return
	}
	var payload any
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			b.log.Warnf("table %q event %q payload: %v", msg.Table, msg.Key, err)
			return
		}
	}
	tbl := b.registry.Table(msg.Table)
	switch store.EventKind(msg.Kind) {
	case store.EventInsert:
		if !tbl.Insert(msg.Key, payload, msg.Gen, msg.Origin) {
			tbl.Modify(msg.Key, payload, msg.Origin)
		}
	case store.EventModify:
		if !tbl.Modify(msg.Key, payload, msg.Origin) {
			tbl.Insert(msg.Key, payload, msg.Gen, msg.Origin)
		}
	case store.EventErase:
		tbl.Erase(msg.Key, msg.Origin)
	}
}

func (b *Bus) handleUnsubscribe(_ string, data []byte) {
	var msg tableReplicationMsg
	if err := json.Unmarshal(data, &msg); err != nil || msg.PeerTag == "" || msg.PeerTag == b.selfTag {
		return
	}
	rec := b.cluster.Lookup(msg.PeerTag)
	if rec == nil {
		return
	}
	pr := rec.Data.(peerRecord)
	delete(pr.Subscriptions, msg.Table)
	b.cluster.Modify(msg.PeerTag, pr, b.selfTag)
}

// pushDataMsg carries one gwproxy.ProxyData across the bus together with
// its gateway key, gateway class and distribute-all flag.
type pushDataMsg struct {
	GatewayKey    string          `json:"gateway_key"`
	DistributeAll bool            `json:"distribute_all"`
	Class         string          `json:"class,omitempty"`
	Data          json.RawMessage `json:"data"`
}

// PublishPushData publishes pd on SubjectPushData. Every node that
// receives it dispatches pd to its local router under gatewayKey; class
// and distributeAll travel with the message but do not select which
// nodes deliver, and no delivery count is reported back.
func (b *Bus) PublishPushData(gatewayKey string, class string, distributeAll bool, pd gwproxy.ProxyData) error {
	wire, err := encodeProxyData(pd)
	if err != nil {
		return fmt.Errorf("clusterbus: encode push data: %w", err)
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("clusterbus: marshal push data: %w", err)
	}
	return b.publish(SubjectPushData, pushDataMsg{
		GatewayKey: gatewayKey, DistributeAll: distributeAll, Class: class, Data: raw,
	})
}

func (b *Bus) handlePushData(_ string, data []byte) {
	var msg pushDataMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		b.log.Warnf("malformed push data message: %v", err)
		return
	}
	var wire proxyDataWire
	if err := json.Unmarshal(msg.Data, &wire); err != nil {
		b.log.Warnf("malformed push data payload: %v", err)
		return
	}
	pd, err := decodeProxyData(wire)
	if err != nil {
		b.log.Warnf("malformed push data payload: %v", err)
		return
	}

	if b.router == nil {
		return
	}
	delivered := b.router.Dispatch(msg.GatewayKey, pd)
	if delivered && !msg.DistributeAll {
		// Each node dispatches independently; no delivery state is
		// shared between nodes, so this branch and the fall-through
		// end the same way.
		return
	}
}

// Forward implements gwproxy.Forwarder: it boxes the correlated SML
// response and publishes it to the requesting peer's reply subject.
func (b *Bus) Forward(pd gwproxy.ProxyData, msg sml.Message) {
	boxed := sml.Box([]sml.Message{msg})
	b.publishResponse(pd, boxed, obis.Code{})
}

// ForwardAttention implements gwproxy.Forwarder for the attention-only
// response path.
func (b *Bus) ForwardAttention(pd gwproxy.ProxyData, code obis.Code) {
	b.publishResponse(pd, nil, code)
}

type responseMsg struct {
	WebSessionTag string `json:"web_session_tag"`
	ClusterSeq    uint64 `json:"cluster_seq"`
	Boxed         []byte `json:"boxed,omitempty"`
	Attention     string `json:"attention,omitempty"`
}

func (b *Bus) publishResponse(pd gwproxy.ProxyData, boxed []byte, attention obis.Code) {
	subject := responseSubjectPrefix + pd.ClusterTag
	msg := responseMsg{WebSessionTag: pd.WebSessionTag, ClusterSeq: pd.ClusterSeq, Boxed: boxed}
	if !attention.IsZero() {
		msg.Attention = attention.ToHex()
	}
	if err := b.publish(subject, msg); err != nil {
		b.log.Errorf("publish response: %v", err)
	}
}

// DecodeResponse turns a response payload received on this node's own
// "bus.res.<selfTag>" subject back into the correlated message and/or
// attention code, the counterpart of Forward/ForwardAttention.
func DecodeResponse(data []byte) (webSessionTag string, clusterSeq uint64, msg *sml.Message, attention obis.Code, err error) {
	var r responseMsg
	if err = json.Unmarshal(data, &r); err != nil {
		return "", 0, nil, obis.Code{}, fmt.Errorf("clusterbus: unmarshal response: %w", err)
	}
	webSessionTag, clusterSeq = r.WebSessionTag, r.ClusterSeq
	if r.Attention != "" {
		attention, err = obis.FromHex(r.Attention)
		if err != nil {
			return webSessionTag, clusterSeq, nil, obis.Code{}, fmt.Errorf("clusterbus: decode attention: %w", err)
		}
		return webSessionTag, clusterSeq, nil, attention, nil
	}
	if len(r.Boxed) == 0 {
		return webSessionTag, clusterSeq, nil, obis.Code{}, nil
	}
	var decoded *sml.Message
	p := sml.NewParser(func(m sml.Message) {
		if decoded == nil {
			mCopy := m
			decoded = &mCopy
		}
	}, func(e error) { err = fmt.Errorf("clusterbus: decode boxed response: %w", e) })
	p.Feed(r.Boxed)
	return webSessionTag, clusterSeq, decoded, obis.Code{}, err
}

// SubscribeResponses listens on this node's own response subject,
// delivering decoded replies to handler.
func (b *Bus) SubscribeResponses(handler func(webSessionTag string, clusterSeq uint64, msg *sml.Message, attention obis.Code)) error {
	if b.client == nil {
		return nil
	}
	return b.client.Subscribe(responseSubjectPrefix+b.selfTag, func(_ string, data []byte) {
		tag, seq, msg, attn, err := DecodeResponse(data)
		if err != nil {
			b.log.Warnf("response decode failed: %v", err)
			return
		}
		handler(tag, seq, msg, attn)
	})
}

// Stop tears down the watchdog scheduler. The NATS client itself is owned
// by the caller and is not closed here.
func (b *Bus) Stop() {
	_ = b.scheduler.Shutdown()
}
