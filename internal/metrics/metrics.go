// Package metrics exports the session and cluster counters (rx/sx/px
// byte counters, open session and cache table sizes) as Prometheus
// gauges/counters, served via promhttp alongside the debug HTTP mux.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionRxBytes / SessionTxBytes / SessionPushBytes mirror the rx,
	// sx, px counters the session republishes to the "session" table on
	// every I/O completion. Gauges, not counters: each sample is the
	// session's absolute running total, not a delta.
	SessionRxBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "segw_session_rx_bytes",
		Help: "Bytes received from gateways, per session tag.",
	}, []string{"session"})

	SessionTxBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "segw_session_tx_bytes",
		Help: "Bytes sent to gateways, per session tag.",
	}, []string{"session"})

	SessionPushBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "segw_session_push_bytes",
		Help: "Bytes forwarded over push channels, per session tag.",
	}, []string{"session"})

	OpenSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "segw_open_sessions",
		Help: "Number of IP-T sessions currently open.",
	})

	OpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "segw_open_connections",
		Help: "Number of multiplexed point-to-point connections currently open.",
	})

	ClusterPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "segw_cluster_peers",
		Help: "Number of cluster-bus peers currently logged in.",
	})

	GatewayQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "segw_gateway_queue_depth",
		Help: "Pending proxy_data items per gateway proxy.",
	}, []string{"gateway"})

	CacheTableSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "segw_cache_table_size",
		Help: "Row count per cache table.",
	}, []string{"table"})
)
