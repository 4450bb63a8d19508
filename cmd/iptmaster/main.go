// Command iptmaster runs a full gateway node: the IP-T session
// acceptor, the per-gateway command proxy, the cluster bus, the NMS
// management listener, and a debug/metrics HTTP endpoint.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smgw-cluster/segw-core/internal/clusterbus"
	"github.com/smgw-cluster/segw-core/internal/config"
	"github.com/smgw-cluster/segw-core/internal/gwproxy"
	"github.com/smgw-cluster/segw-core/internal/iptsession"
	"github.com/smgw-cluster/segw-core/internal/lmn"
	"github.com/smgw-cluster/segw-core/internal/metrics"
	"github.com/smgw-cluster/segw-core/internal/nms"
	"github.com/smgw-cluster/segw-core/internal/response"
	"github.com/smgw-cluster/segw-core/internal/runtimeEnv"
	"github.com/smgw-cluster/segw-core/internal/store"
	"github.com/smgw-cluster/segw-core/pkg/log"
	natscli "github.com/smgw-cluster/segw-core/pkg/nats"
	"github.com/smgw-cluster/segw-core/pkg/obis"
)

var programConfig config.ProgramConfig

func main() {
	var flagConfigFile string
	var flagConfigIndex int
	var flagNoServer bool
	flag.StringVar(&flagConfigFile, "config", "/etc/segw/config.json", "Path to the `configuration` file")
	flag.IntVar(&flagConfigIndex, "config-index", 0, "Index of the configuration block to run")
	flag.BoolVar(&flagNoServer, "no-server", false, "Load configuration and exit without starting any listener")
	flag.Parse()

	if err := runtimeEnv.LoadEnv("./.env"); err != nil && !os.IsNotExist(err) {
		log.Fatalf("parsing './.env' file failed: %s", err.Error())
	}
	if err := config.Init(flagConfigFile, flagConfigIndex); err != nil {
		log.Fatalf("config: %s", err.Error())
	}
	programConfig = config.Keys
	log.SetLogLevel(programConfig.LogLevel)

	if flagNoServer {
		return
	}

	db, err := store.OpenSQLite(programConfig.DB.File)
	if err != nil {
		log.Fatalf("store: open %s: %s", programConfig.DB.File, err.Error())
	}
	defer db.Close()

	cfgStore, err := store.NewConfig(db)
	if err != nil {
		log.Fatalf("store: load config table: %s", err.Error())
	}
	registry := store.NewRegistry()

	if natsRaw, err := json.Marshal(programConfig.Nats); err == nil {
		natscli.Init(natsRaw)
	}
	natscli.Connect()

	sessions := registry.Table("_Session")
	sessions.Subscribe(func(ev store.Event) {
		switch ev.Kind {
		case store.EventInsert:
			metrics.OpenSessions.Inc()
		case store.EventErase:
			metrics.OpenSessions.Dec()
			metrics.SessionRxBytes.DeleteLabelValues(ev.Key)
			metrics.SessionTxBytes.DeleteLabelValues(ev.Key)
			metrics.SessionPushBytes.DeleteLabelValues(ev.Key)
		}
		if c, ok := ev.Data.(iptsession.Counters); ok && ev.Kind != store.EventErase {
			metrics.SessionRxBytes.WithLabelValues(ev.Key).Set(float64(c.Rx))
			metrics.SessionTxBytes.WithLabelValues(ev.Key).Set(float64(c.Sx))
			metrics.SessionPushBytes.WithLabelValues(ev.Key).Set(float64(c.Px))
		}
		metrics.CacheTableSize.WithLabelValues(ev.Table).Set(float64(sessions.Size()))
	})

	router := newGatewayRouter()
	meters := registry.Table("_WMBusMeter")

	oplog := &response.TableOpLog{Table: registry.Table("_OpLog")}
	respEngine := &response.Engine{
		Config:  cfgStore,
		Devices: deviceUnion{router: router, meters: meters},
		Memory:  diskMemoryUsage{mirrorPath: programConfig.LogDir, tmpPath: os.TempDir()},
	}

	// The dispatcher answers SML envelopes addressed to this node
	// itself; the router hands it any connection dialled to the local
	// server id, while remote gateway numbers get a proxy.
	router.local = response.NewDispatcher(respEngine, oplog, []byte(programConfig.Hardware.ServerID))
	router.localID = programConfig.Hardware.ServerID

	var bus *clusterbus.Bus
	if client := natscli.GetClient(); client != nil {
		registry.Table("_Cluster").Subscribe(func(ev store.Event) {
			switch ev.Kind {
			case store.EventInsert:
				metrics.ClusterPeers.Inc()
			case store.EventErase:
				metrics.ClusterPeers.Dec()
			}
		})
		router.bus, err = clusterbus.New(clusterbus.Config{
			Client:    client,
			SelfTag:   programConfig.Tag,
			NodeClass: "segw",
			Account:   programConfig.Nats.Username,
			Pwd:       programConfig.Nats.Password,
			Registry:  registry,
			Router:    router,
			Heartbeat: 15 * time.Second,
		})
		if err != nil {
			log.Fatalf("clusterbus: %s", err.Error())
		}
		bus = router.bus
		defer bus.Stop()
		if err := bus.Login(); err != nil {
			log.Warnf("clusterbus: login: %v", err)
		}
		if err := bus.Subscribe("_Session"); err != nil {
			log.Warnf("clusterbus: subscribe _Session: %v", err)
		}
	} else {
		log.Warn("nats not configured, running without a cluster bus")
	}

	auth := &configAuthenticator{account: programConfig.SML.Account, pwd: programConfig.SML.Pwd, acceptAll: programConfig.SML.AcceptAllIDs}

	var wg sync.WaitGroup
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	shutdownCtx, cancel := context.WithCancel(context.Background())

	if programConfig.WirelessLMN.Enabled {
		intake, err := lmn.New(meters, programConfig.MBus.Keys, programConfig.Tag)
		if err != nil {
			log.Fatalf("wireless-lmn: %s", err.Error())
		}
		port, err := os.Open(programConfig.WirelessLMN.Port)
		if err != nil {
			log.Warnf("wireless-lmn: open %s: %v", programConfig.WirelessLMN.Port, err)
		} else {
			log.Infof("wireless-lmn intake on %s", programConfig.WirelessLMN.Port)
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer port.Close()
				if err := intake.Run(shutdownCtx, port); err != nil && err != context.Canceled {
					log.Warnf("wireless-lmn: %v", err)
				}
			}()
			go func() {
				<-shutdownCtx.Done()
				port.Close()
			}()
		}
	}

	if programConfig.SML.Enabled {
		iptAddr := net.JoinHostPort(programConfig.SML.Address, programConfig.SML.Service)
		ln, err := net.Listen("tcp", iptAddr)
		if err != nil {
			log.Fatalf("ip-t listener: %s", err.Error())
		}
		log.Infof("ip-t listener on %s", iptAddr)

		wg.Add(1)
		go func() {
			defer wg.Done()
			acceptSessions(shutdownCtx, ln, sessions, auth, router)
		}()
		go func() {
			<-shutdownCtx.Done()
			ln.Close()
		}()
	}

	if programConfig.NMS.Address != "" || programConfig.NMS.Service != "" {
		nmsAddr := net.JoinHostPort(programConfig.NMS.Address, programConfig.NMS.Service)
		nmsAuth, err := nms.NewHashAuthenticator(programConfig.SML.Account, programConfig.SML.Pwd)
		if err != nil {
			log.Fatalf("nms: %s", err.Error())
		}
		handler := nms.NewHandler(cfgStore, nmsAuth, "segw-core", programConfig.Hardware.Manufacturer)
		handler.CMInfo = cmInfoFromOpLog(respEngine, oplog, []byte(programConfig.Hardware.ServerID))
		srv, err := nms.NewServer(nmsAddr, handler)
		if err != nil {
			log.Fatalf("nms listener: %s", err.Error())
		}
		log.Infof("nms listener on %s", nmsAddr)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Serve(); err != nil {
				log.Debugf("nms: %s", err.Error())
			}
		}()
		go func() {
			<-shutdownCtx.Done()
			srv.Close()
		}()

		r := mux.NewRouter()
		r.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))
		r.PathPrefix("/nms/").Handler(http.StripPrefix("/nms", nms.NewDebugRouter(handler)))
		r.Handle("/metrics", promhttp.Handler())
		debugSrv := &http.Server{Addr: ":9090", Handler: r, ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := debugSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("debug http: %s", err.Error())
			}
		}()
		go func() {
			<-shutdownCtx.Done()
			debugSrv.Shutdown(context.Background())
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-sigs
		runtimeEnv.SystemdNotifiy(false, "shutting down")
		cancel()
	}()

	runtimeEnv.SystemdNotifiy(true, "running")
	wg.Wait()
	log.Print("iptmaster: shutdown complete")
}

func acceptSessions(ctx context.Context, ln net.Listener, sessions *store.Table, auth iptsession.Authenticator, router *gatewayRouter) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Warnf("ip-t accept: %v", err)
				return
			}
		}
		go handleConn(conn, sessions, auth, router)
	}
}

func handleConn(conn net.Conn, sessions *store.Table, auth iptsession.Authenticator, router *gatewayRouter) {
	tag := fmt.Sprintf("ipt-%s", conn.RemoteAddr())
	sess, err := iptsession.New(tag, iptsession.Config{
		Writer:           &connWriter{conn: conn},
		Auth:             auth,
		Router:           router,
		Sessions:         sessions,
		AllowSuperseding: programConfig.SML.Superseding,
		OnLink: func(number string, s *iptsession.Session) {
			metrics.OpenConnections.Inc()
			router.link(number, transparentWriter{s})
		},
		OnUnlink: func(number string) {
			metrics.OpenConnections.Dec()
			router.unlink(number)
		},
	})
	if err != nil {
		log.Errorf("session %s: %v", tag, err)
		conn.Close()
		return
	}

	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if feedErr := sess.Feed(buf[:n]); feedErr != nil {
				log.Warnf("session %s: feed: %v", tag, feedErr)
				sess.Stop(false)
				return
			}
		}
		if err != nil {
			sess.Stop(false)
			return
		}
	}
}

// transparentWriter adapts a LINKED session's downlink to the
// gwproxy.SessionWriter the proxy serialises envelopes onto.
type transparentWriter struct{ s *iptsession.Session }

func (w transparentWriter) Send(data []byte) error { return w.s.SendTransparent(data) }

// connWriter adapts a net.Conn to iptsession.Writer.
type connWriter struct{ conn net.Conn }

func (w *connWriter) Write(b []byte) error { _, err := w.conn.Write(b); return err }
func (w *connWriter) Close() error         { return w.conn.Close() }

// configAuthenticator checks IP-T logins against the single account
// configured for the "sml" listener, or accepts any account
// when accept-all-ids is set (used during wireless-LMN discovery).
type configAuthenticator struct {
	account   string
	pwd       string
	acceptAll bool
}

func (a *configAuthenticator) Authenticate(name, pwd string) (bool, bool) {
	if a.acceptAll {
		return true, false
	}
	return name == a.account && pwd == a.pwd, false
}

// gatewayRouter hands a dialled connection number to the gwproxy.Proxy
// serialising commands for that gateway, creating one on first use, and
// implements clusterbus.GatewayRouter so replicated push-data requests
// from other cluster peers reach the same proxy. A connection dialled
// to this node's own server id (or with no number at all) is routed to
// the local response dispatcher instead: the proxy is the asking side,
// the dispatcher the answering side.
type gatewayRouter struct {
	mu      sync.Mutex
	proxies map[string]*gwproxy.Proxy
	bus     *clusterbus.Bus
	local   *response.Dispatcher
	localID string
}

func (r *gatewayRouter) isLocal(number string) bool {
	return r.local != nil && (number == "" || number == r.localID)
}

func newGatewayRouter() *gatewayRouter {
	return &gatewayRouter{proxies: make(map[string]*gwproxy.Proxy)}
}

func (r *gatewayRouter) getOrCreate(key string) *gwproxy.Proxy {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.proxies[key]; ok {
		return p
	}
	var forward gwproxy.Forwarder
	if r.bus != nil {
		forward = r.bus
	}
	p := gwproxy.New(key, forward)
	r.proxies[key] = p
	metrics.GatewayQueueDepth.WithLabelValues(key).Set(0)
	return p
}

func (r *gatewayRouter) Route(number string) (iptsession.Sink, bool) {
	if r.isLocal(number) {
		return r.local, true
	}
	return r.getOrCreate(number), true
}

// link and unlink are the OnLink/OnUnlink counterparts to Route: they
// bind (or release) the LINKED session as the routed target's downlink.
func (r *gatewayRouter) link(number string, w gwproxy.SessionWriter) {
	if r.isLocal(number) {
		r.local.Attach(w)
		return
	}
	r.getOrCreate(number).AttachSession(w)
}

func (r *gatewayRouter) unlink(number string) {
	if r.isLocal(number) {
		r.local.Attach(nil)
		return
	}
	r.getOrCreate(number).Detach()
}

func (r *gatewayRouter) Dispatch(gatewayKey string, pd gwproxy.ProxyData) bool {
	p := r.getOrCreate(gatewayKey)
	p.Enqueue(pd)
	metrics.GatewayQueueDepth.WithLabelValues(gatewayKey).Set(float64(p.QueueLen()))
	return true
}

// Devices implements response.DeviceLister over the gateways this node
// currently proxies, so ROOT_ACTIVE_DEVICES / ROOT_VISIBLE_DEVICES
// reflect the same queue/state the cluster bus and NMS already see,
// without a second device table.
func (r *gatewayRouter) Devices() []response.DeviceInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]response.DeviceInfo, 0, len(r.proxies))
	for _, p := range r.proxies {
		out = append(out, response.DeviceInfo{ServerID: []byte(p.Key()), Active: p.State() == gwproxy.StateConnected})
	}
	return out
}

// deviceUnion merges the proxied gateways with the wireless meters the
// LMN intake has heard from, so both populations show up in the
// active/visible device trees.
type deviceUnion struct {
	router *gatewayRouter
	meters *store.Table
}

func (d deviceUnion) Devices() []response.DeviceInfo {
	out := d.router.Devices()
	d.meters.Loop(func(rec store.Record) bool {
		out = append(out, response.DeviceInfo{ServerID: []byte(rec.Key), Active: true})
		return true
	})
	return out
}

// diskMemoryUsage implements response.MemoryUsage by statfs-ing the log
// directory (stand-in for the mirror partition) and the OS temp
// directory (stand-in for the tmp partition), the two filesystems
// ROOT_MEMORY_USAGE reports.
type diskMemoryUsage struct {
	mirrorPath string
	tmpPath    string
}

func (d diskMemoryUsage) MemoryUsage() (mirrorPct, tmpPct uint8) {
	return runtimeEnv.MemoryUsage(d.mirrorPath, d.tmpPath)
}

// cmInfoFromOpLog builds the NMS "cminfos" handler out of the same
// CLASS_OP_LOG fields the response engine already serves under
// GetProfileList, reusing one data path instead of standing up a second
// cellular-modem-info table.
func cmInfoFromOpLog(engine *response.Engine, oplog response.OpLogReader, serverID []byte) func() (map[string]any, error) {
	return func() (map[string]any, error) {
		now := uint32(time.Now().Unix())
		results, code, err := engine.GetProfileList(oplog, serverID, obis.ClassOpLog, 0, now)
		if err != nil {
			return nil, err
		}
		if code != obis.AttentionOK || len(results) == 0 {
			return map[string]any{}, nil
		}
		latest := results[len(results)-1]
		info := make(map[string]any, 4)
		for _, p := range latest.Periods {
			switch p.ObjName {
			case obis.OpLogFieldStrength:
				info["signal-dbm"] = p.Value.Int()
			case obis.OpLogCell:
				info["cell"] = p.Value.Uint()
			case obis.OpLogAreaCode:
				info["area-code"] = p.Value.Uint()
			case obis.OpLogProvider:
				info["provider"] = string(p.Value.Bytes())
			}
		}
		return info, nil
	}
}
