package clusterbus

import (
	"fmt"

	"github.com/smgw-cluster/segw-core/internal/gwproxy"
	"github.com/smgw-cluster/segw-core/pkg/obis"
	"github.com/smgw-cluster/segw-core/pkg/sml"
)

// proxyDataWire is gwproxy.ProxyData flattened for JSON transport: obis.Path
// and obis.Code travel as hex strings, sml.Value travels as its own TLV
// encoding rather than reaching into its unexported fields.
type proxyDataWire struct {
	ClusterTag    string   `json:"cluster_tag"`
	WebSessionTag string   `json:"web_session_tag"`
	ClusterSeq    uint64   `json:"cluster_seq"`
	GatewayKey    string   `json:"gateway_key"`
	Kind          int      `json:"kind"`
	Path          []string `json:"path,omitempty"`
	Value         []byte   `json:"value,omitempty"`
	Class         string   `json:"class,omitempty"`
	Begin         uint32   `json:"begin,omitempty"`
	End           uint32   `json:"end,omitempty"`
	ListName      string   `json:"list_name,omitempty"`
	ServerID      []byte   `json:"server_id,omitempty"`
	Username      []byte   `json:"username,omitempty"`
	Password      []byte   `json:"password,omitempty"`
}

func encodeProxyData(pd gwproxy.ProxyData) (proxyDataWire, error) {
	w := proxyDataWire{
		ClusterTag:    pd.ClusterTag,
		WebSessionTag: pd.WebSessionTag,
		ClusterSeq:    pd.ClusterSeq,
		GatewayKey:    pd.GatewayKey,
		Kind:          int(pd.Kind),
		Begin:         pd.Begin,
		End:           pd.End,
		ServerID:      pd.ServerID,
		Username:      pd.Username,
		Password:      pd.Password,
	}
	for _, c := range pd.Path {
		w.Path = append(w.Path, c.ToHex())
	}
	if !pd.Value.IsNull() {
		w.Value = sml.EncodeValue(pd.Value)
	}
	if pd.Class != (obis.Code{}) {
		w.Class = pd.Class.ToHex()
	}
	if pd.ListName != (obis.Code{}) {
		w.ListName = pd.ListName.ToHex()
	}
	return w, nil
}

func decodeProxyData(w proxyDataWire) (gwproxy.ProxyData, error) {
	pd := gwproxy.ProxyData{
		ClusterTag:    w.ClusterTag,
		WebSessionTag: w.WebSessionTag,
		ClusterSeq:    w.ClusterSeq,
		GatewayKey:    w.GatewayKey,
		Kind:          gwproxy.RequestKind(w.Kind),
		Begin:         w.Begin,
		End:           w.End,
		ServerID:      w.ServerID,
		Username:      w.Username,
		Password:      w.Password,
	}
	for _, h := range w.Path {
		c, err := obis.FromHex(h)
		if err != nil {
			return gwproxy.ProxyData{}, fmt.Errorf("clusterbus: decode path element %q: %w", h, err)
		}
		pd.Path = append(pd.Path, c)
	}
	if len(w.Value) > 0 {
		v, _, err := sml.DecodeValue(w.Value)
		if err != nil {
			return gwproxy.ProxyData{}, fmt.Errorf("clusterbus: decode value: %w", err)
		}
		pd.Value = v
	}
	if w.Class != "" {
		c, err := obis.FromHex(w.Class)
		if err != nil {
			return gwproxy.ProxyData{}, fmt.Errorf("clusterbus: decode class: %w", err)
		}
		pd.Class = c
	}
	if w.ListName != "" {
		c, err := obis.FromHex(w.ListName)
		if err != nil {
			return gwproxy.ProxyData{}, fmt.Errorf("clusterbus: decode list name: %w", err)
		}
		pd.ListName = c
	}
	return pd, nil
}
