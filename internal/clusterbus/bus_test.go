package clusterbus

import (
	"testing"
	"time"

	"github.com/smgw-cluster/segw-core/internal/gwproxy"
	"github.com/smgw-cluster/segw-core/internal/store"
	"github.com/smgw-cluster/segw-core/pkg/log"
	"github.com/smgw-cluster/segw-core/pkg/obis"
	"github.com/smgw-cluster/segw-core/pkg/sml"
)

func TestProxyDataWireRoundTrip(t *testing.T) {
	pd := gwproxy.ProxyData{
		ClusterTag:    "peer-a",
		WebSessionTag: "web-1",
		ClusterSeq:    42,
		GatewayKey:    "gw-1",
		Kind:          gwproxy.KindSetProcParameter,
		Path:          obis.Path{obis.RootIptParam, obis.RootDeviceIdent},
		Value:         sml.OctetStr("new-host"),
		ServerID:      []byte("01-meter"),
		Username:      []byte("user"),
		Password:      []byte("pwd"),
	}

	wire, err := encodeProxyData(pd)
	if err != nil {
		t.Fatal(err)
	}
	got, err := decodeProxyData(wire)
	if err != nil {
		t.Fatal(err)
	}

	if got.ClusterTag != pd.ClusterTag || got.GatewayKey != pd.GatewayKey || got.Kind != pd.Kind {
		t.Fatalf("scalar fields mismatch: got %+v", got)
	}
	if len(got.Path) != 2 || got.Path[0] != pd.Path[0] || got.Path[1] != pd.Path[1] {
		t.Fatalf("path mismatch: got %+v", got.Path)
	}
	if !got.Value.Equal(pd.Value) {
		t.Fatalf("value mismatch: got %v, want %v", got.Value, pd.Value)
	}
	if string(got.ServerID) != string(pd.ServerID) {
		t.Fatalf("server id mismatch: got %q", got.ServerID)
	}
}

func TestSeverityNames(t *testing.T) {
	cases := map[Severity]string{
		SeverityInfo:     "INFO",
		SeverityWarning:  "WARNING",
		SeverityError:    "ERROR",
		SeverityCritical: "CRITICAL",
	}
	for sev, want := range cases {
		if got := sev.String(); got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

func TestDropPeerErasesOwnedRowsAndClusterEntry(t *testing.T) {
	registry := store.NewRegistry()
	cluster := registry.Table("_Cluster")
	cluster.Insert("peer-b", peerRecord{Login: PeerLogin{SessionTag: "peer-b"}, Subscriptions: map[string]bool{}}, 1, "peer-b")

	sessions := registry.Table("_Session")
	sessions.Insert("sess-9", "owned-by-peer-b", 1, "peer-b")
	sessions.Insert("sess-10", "owned-locally", 1, "self")

	b := &Bus{
		selfTag:  "self",
		cluster:  cluster,
		registry: registry,
		log:      log.Named("test"),
	}

	b.dropPeer("peer-b")

	if cluster.Lookup("peer-b") != nil {
		t.Fatal("expected peer-b's cluster row to be erased")
	}
	if sessions.Lookup("sess-9") != nil {
		t.Fatal("expected peer-b's owned session row to be erased")
	}
	if sessions.Lookup("sess-10") == nil {
		t.Fatal("expected locally-owned session row to survive")
	}
}

func TestHandleTableEventAppliesChanges(t *testing.T) {
	registry := store.NewRegistry()
	b := &Bus{
		selfTag:  "self",
		cluster:  registry.Table("_Cluster"),
		registry: registry,
		log:      log.Named("test"),
	}

	b.handleTableEvent("", []byte(`{"origin":"peer-a","table":"_Target","kind":0,"key":"t-1","data":"power@solostec","gen":1}`))
	rec := registry.Table("_Target").Lookup("t-1")
	if rec == nil {
		t.Fatal("expected replicated insert to land in _Target")
	}
	if rec.SourceTag != "peer-a" {
		t.Fatalf("expected row owned by origin peer, got %q", rec.SourceTag)
	}

	b.handleTableEvent("", []byte(`{"origin":"peer-a","table":"_Target","kind":2,"key":"t-1","gen":1}`))
	if registry.Table("_Target").Lookup("t-1") != nil {
		t.Fatal("expected replicated erase to remove the row")
	}

	// Events echoed back with our own origin are ignored.
	b.handleTableEvent("", []byte(`{"origin":"self","table":"_Target","kind":0,"key":"t-2","gen":1}`))
	if registry.Table("_Target").Lookup("t-2") != nil {
		t.Fatal("expected self-origin event to be dropped")
	}
}

func TestDropPeerSweepsReplicatedRows(t *testing.T) {
	registry := store.NewRegistry()
	cluster := registry.Table("_Cluster")
	cluster.Insert("peer-a", peerRecord{Login: PeerLogin{SessionTag: "peer-a"}, Subscriptions: map[string]bool{}}, 1, "peer-a")

	b := &Bus{
		selfTag:  "self",
		cluster:  cluster,
		registry: registry,
		log:      log.Named("test"),
	}
	b.handleTableEvent("", []byte(`{"origin":"peer-a","table":"_Channel","kind":0,"key":"ch-7","data":42,"gen":1}`))
	if registry.Table("_Channel").Lookup("ch-7") == nil {
		t.Fatal("expected replicated channel row")
	}

	b.dropPeer("peer-a")
	if registry.Table("_Channel").Lookup("ch-7") != nil {
		t.Fatal("expected peer loss to sweep replicated channel row")
	}
}

func TestWatchdogTickSweepsStalePeers(t *testing.T) {
	registry := store.NewRegistry()
	cluster := registry.Table("_Cluster")
	cluster.Insert("stale-peer", peerRecord{
		Login:         PeerLogin{SessionTag: "stale-peer"},
		LastSeen:      time.Now().Add(-time.Hour),
		Subscriptions: map[string]bool{},
	}, 1, "stale-peer")

	b := &Bus{
		selfTag:     "self",
		cluster:     cluster,
		registry:    registry,
		peerTimeout: time.Minute,
		log:         log.Named("test"),
	}

	b.watchdogTick()

	if cluster.Lookup("stale-peer") != nil {
		t.Fatal("expected stale peer to be dropped")
	}
}
